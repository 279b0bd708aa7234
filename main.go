package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/consultadocs/backend/internal/auth"
	"github.com/consultadocs/backend/internal/config"
	"github.com/consultadocs/backend/internal/oauth"
	"github.com/consultadocs/backend/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// Create new postgres store, return errors if any
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	// Close at end of run func
	defer ps.Close()

	// Run database migrations
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis is optional. Without it revocation becomes eventual, login rate
	// limiting is off, and the OAuth code flow is unavailable.
	var (
		dl auth.RevocationList = store.NoopRevocationList{}
		rl auth.RateLimiter    = store.NoopRateLimiter{}
		ss auth.StateStore     = store.NoopStateStore{}
	)
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		dl = store.NewRedisRevocationList(rdb)
		rl = store.NewRedisRateLimiter(rdb)
		ss = store.NewRedisStateStore(rdb)
	} else {
		slog.Warn("REDIS_URL not set; revocation deny-list, rate limiting, and oauth code flow disabled")
	}

	// Google login is optional too.
	var gp oauth.Provider
	if cfg.GoogleClientID != "" {
		gp, err = oauth.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			return fmt.Errorf("failed to set up google provider: %w", err)
		}
	}

	ts := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	if cfg.AdminEmail != "" {
		if err := bootstrapAdmin(ctx, ps, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return fmt.Errorf("failed to bootstrap admin account: %w", err)
		}
	}

	// Create AuthHandler
	h := auth.AuthHandler{
		PS: ps,
		TS: ts,
		DL: dl,
		RL: rl,
		SS: ss,
		GP: gp,
		LoginPolicy: store.RateLimit{
			MaxAttempts: cfg.RateLoginMax,
			Window:      cfg.RateLoginWindow,
			LockoutTTL:  cfg.RateLoginLockout,
		},
		BackupDir: cfg.BackupDir,
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(&h)}

	// Expired-session sweep goroutine, runs hourly. Same work as
	// POST /admin/cleanup, just unattended. Cancelled when run() returns.
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := ps.SweepExpiredSessions(sweepCtx)
				if err != nil {
					slog.Warn("session sweep failed", "error", err)
				} else if n > 0 {
					slog.Info("session sweep complete", "expired", n)
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("backend listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// bootstrapAdmin creates the configured admin account if its email is absent.
// An existing account is left alone (including its is_admin flag) so a
// demoted admin can't resurrect themselves through env vars on restart.
func bootstrapAdmin(ctx context.Context, ps auth.Store, email, password string) error {
	_, err := ps.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	if msg := auth.ValidatePassword(password); msg != "" {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %s", msg)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	id, err := ps.CreateUser(ctx, "Administrator", email, &hash, nil, nil)
	if errors.Is(err, store.ErrDuplicateEmail) {
		// Another instance won the create race between our lookup and insert.
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := ps.ToggleUserAdmin(ctx, id); err != nil {
		return err
	}
	slog.Info("bootstrap admin created", "user_id", id, "email", email)
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/google", h.GoogleLogin)
		r.Get("/google/url", h.GoogleLoginURL)
		r.Get("/google/callback", h.GoogleCallback)

		r.Get("/verify", h.WithAuth(h.VerifyToken))
		r.Get("/profile", h.WithAuth(h.Profile))
		r.Post("/refresh", h.WithAuth(h.Refresh))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/users", h.WithAdmin(h.ListUsers))
		r.Get("/users/{id}/stats", h.WithAdmin(h.AdminUserStats))
		r.Put("/users/{id}/toggle", h.WithAdmin(h.ToggleActive))
		r.Put("/users/{id}/make-admin", h.WithAdmin(h.ToggleAdmin))
		r.Put("/users/{id}/reset-password", h.WithAdmin(h.ResetPassword))
		r.Get("/sessions", h.WithAdmin(h.Sessions))
		r.Delete("/sessions/{id}/revoke", h.WithAdmin(h.RevokeSession))
		r.Get("/logs", h.WithAdmin(h.Logs))
		r.Get("/stats", h.WithAdmin(h.Stats))
		r.Post("/backup", h.WithAdmin(h.Backup))
		r.Post("/cleanup", h.WithAdmin(h.Cleanup))
	})

	return r
}
