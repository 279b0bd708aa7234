// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (deny-list / rate limiter).
package store

import (
	"errors"
	"time"
)

// ErrDuplicateEmail is returned by CreateUser when the lowercased email
// already exists. Callers use errors.Is to map it to a conflict response.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrNoCredential is returned by CreateUser when neither a password hash nor
// a Google id is supplied. Such an account could never authenticate.
var ErrNoCredential = errors.New("user has no credential")

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrStateStoreDisabled is returned by the no-op OAuth state store when Redis
// is not configured. The code-flow endpoints respond 503 in that case.
var ErrStateStoreDisabled = errors.New("state store disabled")

// User represents a row in the users table.
// Nullable columns are pointers -- nil means SQL NULL.
// The password_hash tag only matters for backup snapshots; API handlers
// serialize users through their own payload types, never this struct.
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash *string    `json:"password_hash,omitempty"`
	IsAdmin      bool       `json:"is_admin"`
	GoogleID     *string    `json:"google_id,omitempty"`
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login"`
	LoginCount   int        `json:"login_count"`
	IsActive     bool       `json:"is_active"`
}

// Session represents a row in the user_sessions table.
type Session struct {
	ID               int64
	UserID           int64
	TokenFingerprint string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	IsActive         bool
	IPAddress        *string
	UserAgent        *string
}

// SessionInfo is a session joined with its owner, as served by the admin
// session listing. Field names match the original wire shape.
type SessionInfo struct {
	SessionID int64     `json:"session_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	UserEmail string    `json:"user_email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress *string   `json:"ip_address"`
	UserAgent *string   `json:"user_agent"`
}

// AuthLog represents a row in the auth_logs table.
// UserID is nil for pre-auth failures where no account was identified.
type AuthLog struct {
	ID           int64     `json:"id"`
	UserID       *int64    `json:"user_id"`
	Email        *string   `json:"email"`
	Action       string    `json:"action"`
	Success      bool      `json:"success"`
	IPAddress    *string   `json:"ip_address"`
	UserAgent    *string   `json:"user_agent"`
	ErrorMessage *string   `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserStats aggregates one user's account info and recent activity for the
// admin per-user view.
type UserStats struct {
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLogin      *time.Time `json:"last_login"`
	LoginCount     int        `json:"login_count"`
	ActiveSessions int64      `json:"active_sessions"`
	DocumentsOwned int64      `json:"documents_uploaded"`
	RecentActivity []AuthLog  `json:"recent_activity"`
}

// SystemStats aggregates service-wide counts for the admin dashboard.
type SystemStats struct {
	TotalUsers     int64  `json:"total_users"`
	TotalAdmins    int64  `json:"total_admins"`
	ActiveUsers    int64  `json:"active_users"` // logged in within 30 days
	TotalDocuments int64  `json:"total_documents"`
	ActiveSessions int64  `json:"active_sessions"`
	RecentUsers    []User `json:"-"`
}

/// Snapshot is the JSON shape written by /admin/backup: the full auth tables
// at a point in time. Password hashes are included -- the backup directory
// must be protected like the database itself.
type Snapshot struct {
	CreatedAt time.Time     `json:"created_at"`
	Users     []User        `json:"users"`
	Sessions  []SessionInfo `json:"sessions"`
	AuthLogs  []AuthLog     `json:"auth_logs"`
}

// RateLimit defines the policy for a rate-limited action.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
