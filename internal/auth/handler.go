// handler.go -- HTTP handlers for all /auth/* endpoints.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/consultadocs/backend/internal/oauth"
	"github.com/consultadocs/backend/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// Store defines database operations needed by the handlers.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	CheckHealth(ctx context.Context) error

	// CreateUser inserts a new user; email lowercased and password hashed by
	// the caller. Returns store.ErrDuplicateEmail / store.ErrNoCredential.
	CreateUser(ctx context.Context, name, email string, passwordHash, googleID, avatarURL *string) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (*store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)

	// ToggleUserActive / ToggleUserAdmin flip the flag atomically and return
	// the new value; pgx.ErrNoRows when the user doesn't exist.
	ToggleUserActive(ctx context.Context, id int64) (bool, error)
	ToggleUserAdmin(ctx context.Context, id int64) (bool, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	LinkGoogleID(ctx context.Context, id int64, googleID string) error

	// TouchLogin is best-effort; login flows log and continue on failure.
	TouchLogin(ctx context.Context, id int64) error

	CreateSession(ctx context.Context, userID int64, fingerprint string, expiresAt time.Time, ip, userAgent *string) (int64, error)
	GetSessionByID(ctx context.Context, id int64) (*store.Session, error)
	RevokeSession(ctx context.Context, id int64) (bool, error)
	RevokeSessionByFingerprint(ctx context.Context, fingerprint string) error
	SweepExpiredSessions(ctx context.Context) (int64, error)
	ListActiveSessions(ctx context.Context) ([]store.SessionInfo, error)

	InsertAuthLog(ctx context.Context, e store.AuthLog) error
	ListAuthLogs(ctx context.Context, limit, offset int) ([]store.AuthLog, error)
	CountAuthLogs(ctx context.Context) (int64, error)

	UserStats(ctx context.Context, userID int64) (*store.UserStats, error)
	SystemStats(ctx context.Context) (*store.SystemStats, error)
	ExportSnapshot(ctx context.Context) (*store.Snapshot, error)
}

// RevocationList is the deny-list consulted on the auth hot path.
// Satisfied by *store.RedisRevocationList and store.NoopRevocationList.
type RevocationList interface {
	Revoke(ctx context.Context, fingerprint string, ttl time.Duration) error
	IsRevoked(ctx context.Context, fingerprint string) (bool, error)
	CheckHealth(ctx context.Context) error
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter and store.NoopRateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// StateStore holds OAuth code-flow state nonces and their PKCE verifiers.
// Satisfied by *store.RedisStateStore and store.NoopStateStore.
type StateStore interface {
	PutState(ctx context.Context, state, verifier string, ttl time.Duration) error
	ConsumeState(ctx context.Context, state string) (verifier string, ok bool, err error)
}

// AuthHandler holds dependencies for all HTTP handlers and middleware.
// GP is nil when Google login is not configured.
type AuthHandler struct {
	PS Store
	TS *TokenService
	DL RevocationList
	RL RateLimiter
	SS StateStore
	GP oauth.Provider

	// LoginPolicy rate-limits login attempts per email.
	LoginPolicy store.RateLimit

	// BackupDir is where /admin/backup writes snapshots.
	BackupDir string
}

// userPayload is the wire shape for a user in auth responses.
type userPayload struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	IsAdmin   bool    `json:"is_admin"`
	AvatarURL *string `json:"avatar_url"`
}

func publicUser(u *store.User) userPayload {
	return userPayload{ID: u.ID, Name: u.Name, Email: u.Email, IsAdmin: u.IsAdmin, AvatarURL: u.AvatarURL}
}

// defaultAvatar mirrors the frontend's placeholder avatar scheme.
func defaultAvatar(name string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + url.QueryEscape(name)
}

// Register handles POST /auth/register -- name + email + password signup.
// Returns 201, 400 for validation errors or duplicate email.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode register input", "error", err)
		BadRequest(w, "error decoding request body")
		return
	}

	in.Name = strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if msg := ValidateName(in.Name); msg != "" {
		BadRequest(w, msg)
		return
	}
	if msg := ValidateEmail(email); msg != "" {
		BadRequest(w, msg)
		return
	}
	if msg := ValidatePassword(in.Password); msg != "" {
		BadRequest(w, msg)
		return
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	avatar := defaultAvatar(in.Name)
	userID, err := h.PS.CreateUser(r.Context(), in.Name, email, &hash, nil, &avatar)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			h.audit(r, nil, email, actionRegister, false, "email already registered")
			BadRequest(w, "email already registered")
			return
		}
		logError(r, "failed to create user", "error", err)
		InternalServerError(w, r, err)
		return
	}

	h.audit(r, &userID, email, actionRegister, true, "")
	logInfo(r, "user registered", "user_id", userID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "user registered successfully",
		"success": true,
	})
}

// Login handles POST /auth/login -- email + password authentication.
// Distinguishable failures: unknown email, deactivated account, federated
// account without password, wrong password. All reject with 401.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode login input", "error", err)
		BadRequest(w, "error decoding request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		BadRequest(w, "email and password are required")
		return
	}

	// Rejected attempts never reach Argon2id. Limiter infra failures fail
	// open -- a Redis outage must not block logins.
	if err := h.RL.Allow(r.Context(), "login:email:"+email, h.LoginPolicy); err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			logInfo(r, "login rate limited", "email", email)
			errorJSON(w, http.StatusTooManyRequests, "too many login attempts, try again later")
			return
		}
		logError(r, "rate limiter failed, continuing without it", "error", err)
	}

	user, err := h.PS.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Run dummy hash to equalise timing with the found-user path.
			VerifyPassword(in.Password, dummyPasswordHash)
			h.audit(r, nil, email, actionLogin, false, "email not found")
			Unauthorized(w, "email not found")
			return
		}
		logError(r, "failed to fetch user for login", "error", err)
		InternalServerError(w, r, err)
		return
	}

	if !user.IsActive {
		h.audit(r, &user.ID, email, actionLogin, false, "account deactivated")
		Unauthorized(w, "account deactivated")
		return
	}
	if user.PasswordHash == nil {
		h.audit(r, &user.ID, email, actionLogin, false, "no password credential")
		Unauthorized(w, "this account uses Google sign-in")
		return
	}

	valid, err := VerifyPassword(in.Password, *user.PasswordHash)
	if err != nil {
		logError(r, "password verification failed", "error", err)
		InternalServerError(w, r, err)
		return
	}
	if !valid {
		h.audit(r, &user.ID, email, actionLogin, false, "incorrect password")
		Unauthorized(w, "incorrect password")
		return
	}

	h.finishLogin(w, r, user, actionLogin, "login successful")
}

// GoogleLogin handles POST /auth/google -- federated login with a Google ID
// token obtained by the browser client.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.GP == nil {
		errorJSON(w, http.StatusServiceUnavailable, "google login not configured")
		return
	}

	var in struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Token == "" {
		BadRequest(w, "google token is required")
		return
	}

	claims, err := h.GP.VerifyIDToken(r.Context(), in.Token)
	if err != nil {
		logWarn(r, "google id token rejected", "error", err)
		h.audit(r, nil, "", actionGoogleLogin, false, "invalid google token")
		Unauthorized(w, "invalid google token")
		return
	}

	h.loginWithFederatedClaims(w, r, claims)
}

// GoogleLoginURL handles GET /auth/google/url -- starts the server-driven
// authorization code flow. The state nonce and PKCE verifier live in the
// state store until the callback consumes them.
func (h *AuthHandler) GoogleLoginURL(w http.ResponseWriter, r *http.Request) {
	if h.GP == nil {
		errorJSON(w, http.StatusServiceUnavailable, "google login not configured")
		return
	}

	state, err := uuid.NewV4()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	verifier, challenge, err := newPKCEPair()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	if err := h.SS.PutState(r.Context(), state.String(), verifier, 10*time.Minute); err != nil {
		if errors.Is(err, store.ErrStateStoreDisabled) {
			errorJSON(w, http.StatusServiceUnavailable, "google login flow requires redis")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"url":     h.GP.AuthCodeURL(state.String(), challenge),
		"success": true,
	})
}

// GoogleCallback handles GET /auth/google/callback -- completes the code flow.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.GP == nil {
		errorJSON(w, http.StatusServiceUnavailable, "google login not configured")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		BadRequest(w, "code and state are required")
		return
	}

	verifier, ok, err := h.SS.ConsumeState(r.Context(), state)
	if err != nil {
		if errors.Is(err, store.ErrStateStoreDisabled) {
			errorJSON(w, http.StatusServiceUnavailable, "google login flow requires redis")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	if !ok {
		logWarn(r, "google callback with unknown state")
		BadRequest(w, "invalid or expired state")
		return
	}

	claims, err := h.GP.Exchange(r.Context(), code, verifier)
	if err != nil {
		logWarn(r, "google code exchange failed", "error", err)
		h.audit(r, nil, "", actionGoogleLogin, false, "code exchange failed")
		Unauthorized(w, "google authentication failed")
		return
	}

	h.loginWithFederatedClaims(w, r, claims)
}

// loginWithFederatedClaims resolves verified Google claims to a local user
// (by federated id, then by email with linking, then by creation) and
// finishes the login.
func (h *AuthHandler) loginWithFederatedClaims(w http.ResponseWriter, r *http.Request, claims *oauth.Claims) {
	if !claims.EmailVerified {
		h.audit(r, nil, claims.Email, actionGoogleLogin, false, "google email not verified")
		Unauthorized(w, "google account email is not verified")
		return
	}
	email := strings.ToLower(claims.Email)

	user, err := h.PS.GetUserByGoogleID(r.Context(), claims.Sub)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		InternalServerError(w, r, err)
		return
	}

	if user == nil || errors.Is(err, pgx.ErrNoRows) {
		// Same email registered with a password earlier: attach the federated
		// id to that account. Safe because Google verified address ownership.
		user, err = h.PS.GetUserByEmail(r.Context(), email)
		switch {
		case err == nil:
			if err := h.PS.LinkGoogleID(r.Context(), user.ID, claims.Sub); err != nil {
				logWarn(r, "failed to link google id", "user_id", user.ID, "error", err)
			}
		case errors.Is(err, pgx.ErrNoRows):
			user, err = h.createFederatedUser(r.Context(), claims, email)
			if err != nil {
				logError(r, "failed to create federated user", "error", err)
				InternalServerError(w, r, err)
				return
			}
		default:
			InternalServerError(w, r, err)
			return
		}
	}

	if !user.IsActive {
		h.audit(r, &user.ID, email, actionGoogleLogin, false, "account deactivated")
		Unauthorized(w, "account deactivated")
		return
	}

	h.finishLogin(w, r, user, actionGoogleLogin, "google login successful")
}

func (h *AuthHandler) createFederatedUser(ctx context.Context, claims *oauth.Claims, email string) (*store.User, error) {
	name := claims.Name
	if name == "" {
		name = email
	}
	avatar := claims.Picture
	if avatar == "" {
		avatar = defaultAvatar(name)
	}
	googleID := claims.Sub
	id, err := h.PS.CreateUser(ctx, name, email, nil, &googleID, &avatar)
	if err != nil {
		return nil, err
	}
	return h.PS.GetUserByID(ctx, id)
}

// finishLogin issues a token, opens a session, touches last_login, audits,
// and writes the login response. Shared by password, Google, and refresh flows.
func (h *AuthHandler) finishLogin(w http.ResponseWriter, r *http.Request, user *store.User, action, message string) {
	token, claims, err := h.TS.Issue(user.ID, user.Email, user.IsAdmin)
	if err != nil {
		logError(r, "failed to issue token", "error", err)
		InternalServerError(w, r, err)
		return
	}

	ip := clientIP(r)
	agent := r.UserAgent()
	_, err = h.PS.CreateSession(r.Context(), user.ID, Fingerprint(token),
		claims.ExpiresAt.Time, &ip, &agent)
	if err != nil {
		logError(r, "failed to open session", "error", err)
		InternalServerError(w, r, err)
		return
	}

	// Best-effort: a failed timestamp update must not abort the login.
	if err := h.PS.TouchLogin(r.Context(), user.ID); err != nil {
		logWarn(r, "failed to update last login", "user_id", user.ID, "error", err)
	}

	h.audit(r, &user.ID, user.Email, action, true, "")
	logInfo(r, "user logged in", "user_id", user.ID, "action", action)

	writeJSON(w, http.StatusOK, map[string]any{
		"message": message,
		"token":   token,
		"user":    publicUser(user),
		"success": true,
	})
}

// VerifyToken handles GET /auth/verify -- confirms the presented bearer is
// valid and its account active. All the work happened in WithAuth.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request, user *store.User) {
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"user":    publicUser(user),
		"message": "token valid",
	})
}

// Profile handles GET /auth/profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request, user *store.User) {
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    publicUser(user),
		"success": true,
	})
}

// Refresh handles POST /auth/refresh -- issues a fresh token and session and
// retires the presented one (registry row revoked, fingerprint deny-listed
// for its remaining life).
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request, user *store.User) {
	// WithAuth already accepted this header; re-read it to retire the old token.
	oldToken, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if oldClaims, err := h.TS.Verify(oldToken); err == nil {
		fp := Fingerprint(oldToken)
		if err := h.PS.RevokeSessionByFingerprint(r.Context(), fp); err != nil {
			logWarn(r, "failed to revoke refreshed session", "error", err)
		}
		if err := h.DL.Revoke(r.Context(), fp, time.Until(oldClaims.ExpiresAt.Time)); err != nil {
			logWarn(r, "failed to deny-list refreshed token", "error", err)
		}
	}

	token, claims, err := h.TS.Issue(user.ID, user.Email, user.IsAdmin)
	if err != nil {
		logError(r, "failed to issue token", "error", err)
		InternalServerError(w, r, err)
		return
	}

	ip := clientIP(r)
	agent := r.UserAgent()
	if _, err := h.PS.CreateSession(r.Context(), user.ID, Fingerprint(token),
		claims.ExpiresAt.Time, &ip, &agent); err != nil {
		logError(r, "failed to open session", "error", err)
		InternalServerError(w, r, err)
		return
	}

	h.audit(r, &user.ID, user.Email, actionTokenRefresh, true, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"user":    publicUser(user),
		"message": "token refreshed successfully",
		"success": true,
	})
}

// newPKCEPair returns a fresh code verifier and its S256 challenge.
func newPKCEPair() (verifier, challenge string, err error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", fmt.Errorf("generating pkce verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(buf[:])
	challenge = Fingerprint(verifier)
	return verifier, challenge, nil
}
