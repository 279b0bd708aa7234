// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
// Flag toggles run as single UPDATE ... SET x = NOT x statements so
// concurrent admin requests cannot race a read-modify-write cycle.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The store used by the program to connect with the Postgres db.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// wrapped in a ready-to-use store. Call once at startup from main.go;
// the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
// Call via defer in main.go after creating the store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the database.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, name, email, password_hash, is_admin, google_id, avatar_url,
	created_at, last_login, login_count, is_active`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin,
		&u.GoogleID, &u.AvatarURL, &u.CreatedAt, &u.LastLogin, &u.LoginCount, &u.IsActive)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user and returns the generated id.
// The caller lowercases the email and hashes the password BEFORE calling this.
// Returns ErrNoCredential when both credential fields are nil and
// ErrDuplicateEmail on a unique violation.
func (s *PostgresStore) CreateUser(ctx context.Context, name, email string, passwordHash, googleID, avatarURL *string) (int64, error) {
	if passwordHash == nil && googleID == nil {
		return 0, ErrNoCredential
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, google_id, avatar_url)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		name, email, passwordHash, googleID, avatarURL).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateEmail
		}
		return 0, err
	}
	return id, nil
}

// GetUserByEmail fetches a user by lowercased email.
// Returns pgx.ErrNoRows when absent.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByID fetches a user by id. Returns pgx.ErrNoRows when absent.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByGoogleID fetches a user by federated id. Returns pgx.ErrNoRows when absent.
func (s *PostgresStore) GetUserByGoogleID(ctx context.Context, googleID string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID))
}

// ListUsers returns every user, newest first.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ToggleUserActive flips is_active in a single atomic UPDATE and returns the
// new value. Returns pgx.ErrNoRows when the user doesn't exist.
func (s *PostgresStore) ToggleUserActive(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET is_active = NOT is_active WHERE id = $1 RETURNING is_active`,
		id).Scan(&active)
	return active, err
}

// ToggleUserAdmin flips is_admin in a single atomic UPDATE and returns the
// new value. Returns pgx.ErrNoRows when the user doesn't exist.
func (s *PostgresStore) ToggleUserAdmin(ctx context.Context, id int64) (bool, error) {
	var admin bool
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET is_admin = NOT is_admin WHERE id = $1 RETURNING is_admin`,
		id).Scan(&admin)
	return admin, err
}

// UpdateUserPassword replaces the stored hash.
// Returns pgx.ErrNoRows when the user doesn't exist.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	var got int64
	return s.pool.QueryRow(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1 RETURNING id`,
		id, passwordHash).Scan(&got)
}

// LinkGoogleID attaches a federated id to an existing account (first Google
// login with an email that already has a password account).
func (s *PostgresStore) LinkGoogleID(ctx context.Context, id int64, googleID string) error {
	var got int64
	return s.pool.QueryRow(ctx,
		`UPDATE users SET google_id = $2 WHERE id = $1 AND google_id IS NULL RETURNING id`,
		id, googleID).Scan(&got)
}

// TouchLogin updates last_login and bumps login_count.
// Best-effort from the caller's perspective -- login flows log and continue on failure.
func (s *PostgresStore) TouchLogin(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET last_login = now(), login_count = login_count + 1 WHERE id = $1`, id)
	return err
}

// CreateSession records a token issuance and returns the session id.
func (s *PostgresStore) CreateSession(ctx context.Context, userID int64, fingerprint string, expiresAt time.Time, ip, userAgent *string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_sessions (user_id, token_fingerprint, expires_at, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		userID, fingerprint, expiresAt, ip, userAgent).Scan(&id)
	return id, err
}

// GetSessionByID fetches a session row regardless of its active flag.
// Returns pgx.ErrNoRows when absent.
func (s *PostgresStore) GetSessionByID(ctx context.Context, id int64) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, token_fingerprint, created_at, expires_at, is_active, ip_address, user_agent
		 FROM user_sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.UserID, &sess.TokenFingerprint, &sess.CreatedAt,
			&sess.ExpiresAt, &sess.IsActive, &sess.IPAddress, &sess.UserAgent)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// RevokeSession deactivates a session. Idempotent: revoking an already
// inactive session is not an error. Returns whether the row was active.
func (s *PostgresStore) RevokeSession(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeSessionByFingerprint deactivates every active session carrying the
// fingerprint. Idempotent.
func (s *PostgresStore) RevokeSessionByFingerprint(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET is_active = FALSE WHERE token_fingerprint = $1 AND is_active`,
		fingerprint)
	return err
}

// SweepExpiredSessions deactivates every session past its expiry and returns
// the count affected. A single UPDATE -- safe under concurrent invocation,
// and a second sweep finds nothing left to touch.
func (s *PostgresStore) SweepExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET is_active = FALSE WHERE expires_at < now() AND is_active`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActiveSessions returns unexpired active sessions joined with their
// owners, most recent first.
func (s *PostgresStore) ListActiveSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.user_id, u.name, u.email, s.created_at, s.expires_at, s.ip_address, s.user_agent
		 FROM user_sessions s
		 JOIN users u ON s.user_id = u.id
		 WHERE s.is_active AND s.expires_at > now()
		 ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var si SessionInfo
		if err := rows.Scan(&si.SessionID, &si.UserID, &si.UserName, &si.UserEmail,
			&si.CreatedAt, &si.ExpiresAt, &si.IPAddress, &si.UserAgent); err != nil {
			return nil, err
		}
		sessions = append(sessions, si)
	}
	return sessions, rows.Err()
}

// InsertAuthLog appends one audit entry.
func (s *PostgresStore) InsertAuthLog(ctx context.Context, e AuthLog) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auth_logs (user_id, email, action, success, ip_address, user_agent, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.UserID, e.Email, e.Action, e.Success, e.IPAddress, e.UserAgent, e.ErrorMessage)
	return err
}

// ListAuthLogs returns one page of audit entries, reverse-chronological.
func (s *PostgresStore) ListAuthLogs(ctx context.Context, limit, offset int) ([]AuthLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, email, action, success, ip_address, user_agent, error_message, created_at
		 FROM auth_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuthLogs(rows)
}

// CountAuthLogs returns the total number of audit entries.
func (s *PostgresStore) CountAuthLogs(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM auth_logs`).Scan(&n)
	return n, err
}

// RecentActivity returns the user's latest audit entries, newest first.
func (s *PostgresStore) RecentActivity(ctx context.Context, userID int64, limit int) ([]AuthLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, email, action, success, ip_address, user_agent, error_message, created_at
		 FROM auth_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuthLogs(rows)
}

func collectAuthLogs(rows pgx.Rows) ([]AuthLog, error) {
	var logs []AuthLog
	for rows.Next() {
		var l AuthLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Email, &l.Action, &l.Success,
			&l.IPAddress, &l.UserAgent, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UserStats aggregates account info, live session count, document count, and
// the last 10 audit entries for one user. Returns pgx.ErrNoRows when the user
// doesn't exist.
func (s *PostgresStore) UserStats(ctx context.Context, userID int64) (*UserStats, error) {
	var st UserStats
	err := s.pool.QueryRow(ctx,
		`SELECT name, email, created_at, last_login, login_count FROM users WHERE id = $1`,
		userID).Scan(&st.Name, &st.Email, &st.CreatedAt, &st.LastLogin, &st.LoginCount)
	if err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_sessions WHERE user_id = $1 AND is_active AND expires_at > now()`,
		userID).Scan(&st.ActiveSessions)
	if err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE uploaded_by = $1 AND is_active`,
		userID).Scan(&st.DocumentsOwned)
	if err != nil {
		return nil, err
	}

	st.RecentActivity, err = s.RecentActivity(ctx, userID, 10)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SystemStats aggregates service-wide counts for the admin dashboard.
func (s *PostgresStore) SystemStats(ctx context.Context) (*SystemStats, error) {
	var st SystemStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users WHERE is_active),
			(SELECT COUNT(*) FROM users WHERE is_admin AND is_active),
			(SELECT COUNT(*) FROM users WHERE is_active AND last_login > now() - interval '30 days'),
			(SELECT COUNT(*) FROM documents WHERE is_active),
			(SELECT COUNT(*) FROM user_sessions WHERE is_active AND expires_at > now())`).
		Scan(&st.TotalUsers, &st.TotalAdmins, &st.ActiveUsers, &st.TotalDocuments, &st.ActiveSessions)
	if err != nil {
		return nil, err
	}

	st.RecentUsers, err = s.recentUsers(ctx, 5)
	return &st, err
}

func (s *PostgresStore) recentUsers(ctx context.Context, limit int) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_active ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ExportSnapshot reads the full auth tables for a backup. Audit logs are
// capped at the most recent 10000 entries to bound the export size.
func (s *PostgresStore) ExportSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CreatedAt: time.Now().UTC()}

	var err error
	if snap.Users, err = s.ListUsers(ctx); err != nil {
		return nil, err
	}
	if snap.Sessions, err = s.ListActiveSessions(ctx); err != nil {
		return nil, err
	}
	if snap.AuthLogs, err = s.ListAuthLogs(ctx, 10000, 0); err != nil {
		return nil, err
	}
	return snap, nil
}
