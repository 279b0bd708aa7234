package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

// --- CreateUser / lookups ---

func TestCreateUser(t *testing.T) {
	ps := requirePostgres(t)
	ctx := context.Background()

	t.Run("stores correct values and defaults", func(t *testing.T) {
		email := "store_create@example.com"
		t.Cleanup(func() { cleanupUserByEmail(t, ctx, email) })

		id := mustCreateUser(t, ctx, email)

		u, err := ps.GetUserByID(ctx, id)
		if err != nil {
			t.Fatalf("GetUserByID: %v", err)
		}
		if u.Email != email {
			t.Errorf("Email: expected %q, got %q", email, u.Email)
		}
		if !u.IsActive {
			t.Error("new users default to active")
		}
		if u.IsAdmin {
			t.Error("new users default to non-admin")
		}
		if u.LoginCount != 0 {
			t.Errorf("LoginCount: expected 0, got %d", u.LoginCount)
		}
		if u.LastLogin != nil {
			t.Error("LastLogin should start NULL")
		}
	})

	t.Run("duplicate email returns ErrDuplicateEmail", func(t *testing.T) {
		email := "store_dup@example.com"
		t.Cleanup(func() { cleanupUserByEmail(t, ctx, email) })

		mustCreateUser(t, ctx, email)
		hash := "$argon2id$v=19$m=65536,t=3,p=2$fakesalt$fakehash"
		_, err := ps.CreateUser(ctx, "Dup", email, &hash, nil, nil)
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Errorf("expected ErrDuplicateEmail, got %v", err)
		}
	})

	t.Run("no credential returns ErrNoCredential", func(t *testing.T) {
		_, err := ps.CreateUser(ctx, "No Cred", "store_nocred@example.com", nil, nil, nil)
		if !errors.Is(err, ErrNoCredential) {
			t.Errorf("expected ErrNoCredential, got %v", err)
		}
	})

	t.Run("unknown email returns pgx.ErrNoRows", func(t *testing.T) {
		_, err := ps.GetUserByEmail(ctx, "store_ghost@example.com")
		if !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected pgx.ErrNoRows, got %v", err)
		}
	})
}

// --- Flag toggles ---

func TestToggles(t *testing.T) {
	ps := requirePostgres(t)
	ctx := context.Background()
	email := "store_toggle@example.com"
	t.Cleanup(func() { cleanupUserByEmail(t, ctx, email) })
	id := mustCreateUser(t, ctx, email)

	t.Run("active flag round-trips", func(t *testing.T) {
		active, err := ps.ToggleUserActive(ctx, id)
		if err != nil {
			t.Fatalf("ToggleUserActive: %v", err)
		}
		if active {
			t.Error("first toggle should deactivate")
		}
		active, err = ps.ToggleUserActive(ctx, id)
		if err != nil {
			t.Fatalf("ToggleUserActive: %v", err)
		}
		if !active {
			t.Error("second toggle should reactivate")
		}
	})

	t.Run("admin flag round-trips", func(t *testing.T) {
		isAdmin, err := ps.ToggleUserAdmin(ctx, id)
		if err != nil {
			t.Fatalf("ToggleUserAdmin: %v", err)
		}
		if !isAdmin {
			t.Error("first toggle should grant admin")
		}
		if _, err := ps.ToggleUserAdmin(ctx, id); err != nil {
			t.Fatalf("ToggleUserAdmin: %v", err)
		}
	})

	t.Run("unknown id returns pgx.ErrNoRows", func(t *testing.T) {
		if _, err := ps.ToggleUserActive(ctx, 1<<60); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected pgx.ErrNoRows, got %v", err)
		}
	})
}

// --- TouchLogin ---

func TestTouchLogin(t *testing.T) {
	ps := requirePostgres(t)
	ctx := context.Background()
	email := "store_touch@example.com"
	t.Cleanup(func() { cleanupUserByEmail(t, ctx, email) })
	id := mustCreateUser(t, ctx, email)

	if err := ps.TouchLogin(ctx, id); err != nil {
		t.Fatalf("TouchLogin: %v", err)
	}
	if err := ps.TouchLogin(ctx, id); err != nil {
		t.Fatalf("TouchLogin: %v", err)
	}

	u, err := ps.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u.LoginCount != 2 {
		t.Errorf("LoginCount: expected 2, got %d", u.LoginCount)
	}
	if u.LastLogin == nil {
		t.Error("LastLogin should be set")
	}
}

// --- Sessions ---

func TestSessionLifecycle(t *testing.T) {
	ps := requirePostgres(t)
	ctx := context.Background()
	email := "store_session@example.com"
	t.Cleanup(func() { cleanupUserByEmail(t, ctx, email) })
	userID := mustCreateUser(t, ctx, email)

	t.Run("create, revoke, revoke again", func(t *testing.T) {
		sid, err := ps.CreateSession(ctx, userID, "fp_lifecycle", time.Now().Add(time.Hour), nil, nil)
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		s, err := ps.GetSessionByID(ctx, sid)
		if err != nil {
			t.Fatalf("GetSessionByID: %v", err)
		}
		if !s.IsActive {
			t.Error("new session should be active")
		}

		wasActive, err := ps.RevokeSession(ctx, sid)
		if err != nil {
			t.Fatalf("RevokeSession: %v", err)
		}
		if !wasActive {
			t.Error("first revoke should report it was active")
		}

		// Idempotent second revoke
		wasActive, err = ps.RevokeSession(ctx, sid)
		if err != nil {
			t.Fatalf("second RevokeSession: %v", err)
		}
		if wasActive {
			t.Error("second revoke should report it was already inactive")
		}
	})

	t.Run("sweep marks only expired sessions", func(t *testing.T) {
		if _, err := ps.CreateSession(ctx, userID, "fp_sweep_live", time.Now().Add(time.Hour), nil, nil); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		// expires_at must beat the CHECK constraint, so backdate via update.
		expID, err := ps.CreateSession(ctx, userID, "fp_sweep_old", time.Now().Add(time.Second), nil, nil)
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if _, err := ps.pool.Exec(ctx,
			`UPDATE user_sessions SET expires_at = now() - interval '1 hour', created_at = now() - interval '2 hours' WHERE id = $1`,
			expID); err != nil {
			t.Fatalf("backdating session: %v", err)
		}

		n, err := ps.SweepExpiredSessions(ctx)
		if err != nil {
			t.Fatalf("SweepExpiredSessions: %v", err)
		}
		if n < 1 {
			t.Errorf("expected at least 1 swept session, got %d", n)
		}

		s, err := ps.GetSessionByID(ctx, expID)
		if err != nil {
			t.Fatalf("GetSessionByID: %v", err)
		}
		if s.IsActive {
			t.Error("expired session should be inactive after sweep")
		}
	})

	t.Run("active listing joins the owner", func(t *testing.T) {
		if _, err := ps.CreateSession(ctx, userID, "fp_listing", time.Now().Add(time.Hour), nil, nil); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		sessions, err := ps.ListActiveSessions(ctx)
		if err != nil {
			t.Fatalf("ListActiveSessions: %v", err)
		}
		var found bool
		for _, s := range sessions {
			if s.UserEmail == email {
				found = true
			}
		}
		if !found {
			t.Error("expected the test user's session in the active listing")
		}
	})
}

// --- Audit log ---

func TestAuthLogs(t *testing.T) {
	ps := requirePostgres(t)
	ctx := context.Background()
	email := "store_audit@example.com"
	t.Cleanup(func() { cleanupUserByEmail(t, ctx, email) })
	userID := mustCreateUser(t, ctx, email)

	for i := 0; i < 3; i++ {
		err := ps.InsertAuthLog(ctx, AuthLog{UserID: &userID, Email: &email, Action: "login", Success: i%2 == 0})
		if err != nil {
			t.Fatalf("InsertAuthLog: %v", err)
		}
	}

	logs, err := ps.RecentActivity(ctx, userID, 10)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(logs) != 3 {
		t.Errorf("expected 3 entries, got %d", len(logs))
	}

	total, err := ps.CountAuthLogs(ctx)
	if err != nil {
		t.Fatalf("CountAuthLogs: %v", err)
	}
	if total < 3 {
		t.Errorf("expected total >= 3, got %d", total)
	}
}
