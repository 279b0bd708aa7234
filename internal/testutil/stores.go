// stores.go
//
// Shared mock implementations of auth.Store, auth.RevocationList,
// auth.RateLimiter, auth.StateStore, and oauth.Provider.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/consultadocs/backend/internal/oauth"
	"github.com/consultadocs/backend/internal/store"
	"github.com/jackc/pgx/v5"
)

// MockStore implements auth.Store for tests.
//
// Always stateful...Users, Sessions, and Logs behave like a real store:
// CreateUser rejects duplicate emails, toggles flip real flags, sweeps mark
// real rows. Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	CreateUserErr     error
	GetUserErr        error
	ListUsersErr      error
	ToggleErr         error
	UpdatePasswordErr error
	LinkGoogleErr     error
	TouchLoginErr     error
	CreateSessionErr  error
	GetSessionErr     error
	RevokeSessionErr  error
	SweepErr          error
	ListSessionsErr   error
	InsertLogErr      error
	ListLogsErr       error
	StatsErr          error
	ExportErr         error
	HealthErr         error

	Users    map[int64]*store.User
	Sessions map[int64]*store.Session
	Logs     []store.AuthLog

	nextUserID    int64
	nextSessionID int64
	mu            sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given users, indexed by ID.
func NewMockStore(users ...*store.User) *MockStore {
	ms := &MockStore{
		Users:    make(map[int64]*store.User),
		Sessions: make(map[int64]*store.Session),
	}
	for _, u := range users {
		ms.Users[u.ID] = u
		if u.ID > ms.nextUserID {
			ms.nextUserID = u.ID
		}
	}
	return ms
}

func (m *MockStore) CheckHealth(_ context.Context) error { return m.HealthErr }

func (m *MockStore) CreateUser(_ context.Context, name, email string, passwordHash, googleID, avatarURL *string) (int64, error) {
	if m.CreateUserErr != nil {
		return 0, m.CreateUserErr
	}
	if passwordHash == nil && googleID == nil {
		return 0, store.ErrNoCredential
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Email == email {
			return 0, store.ErrDuplicateEmail
		}
	}
	m.nextUserID++
	m.Users[m.nextUserID] = &store.User{
		ID:           m.nextUserID,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		GoogleID:     googleID,
		AvatarURL:    avatarURL,
		CreatedAt:    time.Now(),
		IsActive:     true,
	}
	return m.nextUserID, nil
}

func (m *MockStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MockStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *MockStore) GetUserByGoogleID(_ context.Context, googleID string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.GoogleID != nil && *u.GoogleID == googleID {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MockStore) ListUsers(_ context.Context) ([]store.User, error) {
	if m.ListUsersErr != nil {
		return nil, m.ListUsersErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.User, 0, len(m.Users))
	for _, u := range m.Users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *MockStore) ToggleUserActive(_ context.Context, id int64) (bool, error) {
	if m.ToggleErr != nil {
		return false, m.ToggleErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	u.IsActive = !u.IsActive
	return u.IsActive, nil
}

func (m *MockStore) ToggleUserAdmin(_ context.Context, id int64) (bool, error) {
	if m.ToggleErr != nil {
		return false, m.ToggleErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	u.IsAdmin = !u.IsAdmin
	return u.IsAdmin, nil
}

func (m *MockStore) UpdateUserPassword(_ context.Context, id int64, passwordHash string) error {
	if m.UpdatePasswordErr != nil {
		return m.UpdatePasswordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.PasswordHash = &passwordHash
	return nil
}

func (m *MockStore) LinkGoogleID(_ context.Context, id int64, googleID string) error {
	if m.LinkGoogleErr != nil {
		return m.LinkGoogleErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if u.GoogleID == nil {
		u.GoogleID = &googleID
	}
	return nil
}

func (m *MockStore) TouchLogin(_ context.Context, id int64) error {
	if m.TouchLoginErr != nil {
		return m.TouchLoginErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[id]; ok {
		now := time.Now()
		u.LastLogin = &now
		u.LoginCount++
	}
	return nil
}

func (m *MockStore) CreateSession(_ context.Context, userID int64, fingerprint string, expiresAt time.Time, ip, userAgent *string) (int64, error) {
	if m.CreateSessionErr != nil {
		return 0, m.CreateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSessionID++
	m.Sessions[m.nextSessionID] = &store.Session{
		ID:               m.nextSessionID,
		UserID:           userID,
		TokenFingerprint: fingerprint,
		CreatedAt:        time.Now(),
		ExpiresAt:        expiresAt,
		IsActive:         true,
		IPAddress:        ip,
		UserAgent:        userAgent,
	}
	return m.nextSessionID, nil
}

func (m *MockStore) GetSessionByID(_ context.Context, id int64) (*store.Session, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

func (m *MockStore) RevokeSession(_ context.Context, id int64) (bool, error) {
	if m.RevokeSessionErr != nil {
		return false, m.RevokeSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok {
		return false, nil
	}
	wasActive := s.IsActive
	s.IsActive = false
	return wasActive, nil
}

func (m *MockStore) RevokeSessionByFingerprint(_ context.Context, fingerprint string) error {
	if m.RevokeSessionErr != nil {
		return m.RevokeSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.TokenFingerprint == fingerprint {
			s.IsActive = false
		}
	}
	return nil
}

func (m *MockStore) SweepExpiredSessions(_ context.Context) (int64, error) {
	if m.SweepErr != nil {
		return 0, m.SweepErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, s := range m.Sessions {
		if s.IsActive && s.ExpiresAt.Before(now) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *MockStore) ListActiveSessions(_ context.Context) ([]store.SessionInfo, error) {
	if m.ListSessionsErr != nil {
		return nil, m.ListSessionsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.SessionInfo, 0, len(m.Sessions))
	now := time.Now()
	for _, s := range m.Sessions {
		if !s.IsActive || s.ExpiresAt.Before(now) {
			continue
		}
		info := store.SessionInfo{
			SessionID: s.ID,
			UserID:    s.UserID,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			IPAddress: s.IPAddress,
			UserAgent: s.UserAgent,
		}
		if u, ok := m.Users[s.UserID]; ok {
			info.UserName = u.Name
			info.UserEmail = u.Email
		}
		out = append(out, info)
	}
	return out, nil
}

func (m *MockStore) InsertAuthLog(_ context.Context, e store.AuthLog) error {
	if m.InsertLogErr != nil {
		return m.InsertLogErr
	}
	m.mu.Lock()
	m.Logs = append(m.Logs, e)
	m.mu.Unlock()
	return nil
}

func (m *MockStore) ListAuthLogs(_ context.Context, limit, offset int) ([]store.AuthLog, error) {
	if m.ListLogsErr != nil {
		return nil, m.ListLogsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Newest first, like the real query.
	out := make([]store.AuthLog, 0, limit)
	for i := len(m.Logs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Logs[i])
	}
	return out, nil
}

func (m *MockStore) CountAuthLogs(_ context.Context) (int64, error) {
	if m.ListLogsErr != nil {
		return 0, m.ListLogsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Logs)), nil
}

func (m *MockStore) UserStats(_ context.Context, userID int64) (*store.UserStats, error) {
	if m.StatsErr != nil {
		return nil, m.StatsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	stats := &store.UserStats{
		Name:       u.Name,
		Email:      u.Email,
		CreatedAt:  u.CreatedAt,
		LastLogin:  u.LastLogin,
		LoginCount: u.LoginCount,
	}
	now := time.Now()
	for _, s := range m.Sessions {
		if s.UserID == userID && s.IsActive && s.ExpiresAt.After(now) {
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

func (m *MockStore) SystemStats(_ context.Context) (*store.SystemStats, error) {
	if m.StatsErr != nil {
		return nil, m.StatsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &store.SystemStats{TotalUsers: int64(len(m.Users))}
	now := time.Now()
	for _, u := range m.Users {
		if u.LastLogin != nil && now.Sub(*u.LastLogin) < 30*24*time.Hour {
			stats.ActiveUsers++
		}
		if u.IsAdmin {
			stats.TotalAdmins++
		}
	}
	for _, s := range m.Sessions {
		if s.IsActive && s.ExpiresAt.After(now) {
			stats.ActiveSessions++
		}
	}
	// Recent signups carry full rows, hash included, same as the real store.
	for _, u := range m.Users {
		if u.IsActive {
			stats.RecentUsers = append(stats.RecentUsers, *u)
		}
	}
	sort.Slice(stats.RecentUsers, func(i, j int) bool {
		return stats.RecentUsers[i].CreatedAt.After(stats.RecentUsers[j].CreatedAt)
	})
	if len(stats.RecentUsers) > 5 {
		stats.RecentUsers = stats.RecentUsers[:5]
	}
	return stats, nil
}

func (m *MockStore) ExportSnapshot(_ context.Context) (*store.Snapshot, error) {
	if m.ExportErr != nil {
		return nil, m.ExportErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &store.Snapshot{CreatedAt: time.Now(), AuthLogs: append([]store.AuthLog(nil), m.Logs...)}
	for _, u := range m.Users {
		snap.Users = append(snap.Users, *u)
	}
	return snap, nil
}

// MockRevocationList implements auth.RevocationList for tests.
// Revoked is a fingerprint set, like the real deny-list.
type MockRevocationList struct {
	// Error injection...zero value means no error
	RevokeErr    error
	IsRevokedErr error
	HealthErr    error

	Revoked map[string]bool

	mu sync.Mutex
}

// NewMockRevocationList returns an empty MockRevocationList ready for use.
func NewMockRevocationList() *MockRevocationList {
	return &MockRevocationList{Revoked: make(map[string]bool)}
}

func (m *MockRevocationList) Revoke(_ context.Context, fingerprint string, _ time.Duration) error {
	if m.RevokeErr != nil {
		return m.RevokeErr
	}
	m.mu.Lock()
	if m.Revoked == nil {
		m.Revoked = make(map[string]bool)
	}
	m.Revoked[fingerprint] = true
	m.mu.Unlock()
	return nil
}

func (m *MockRevocationList) IsRevoked(_ context.Context, fingerprint string) (bool, error) {
	if m.IsRevokedErr != nil {
		return false, m.IsRevokedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Revoked[fingerprint], nil
}

func (m *MockRevocationList) CheckHealth(_ context.Context) error { return m.HealthErr }

// MockRateLimiter implements auth.RateLimiter for tests.
// Set AllowErr to store.ErrRateLimitExceeded to simulate a lockout.
type MockRateLimiter struct {
	AllowErr error

	Calls []string

	mu sync.Mutex
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, key)
	m.mu.Unlock()
	return m.AllowErr
}

// MockStateStore implements auth.StateStore for tests.
type MockStateStore struct {
	// Error injection...zero value means no error
	PutErr     error
	ConsumeErr error

	States map[string]string // state -> verifier

	mu sync.Mutex
}

// NewMockStateStore returns an empty MockStateStore ready for use.
func NewMockStateStore() *MockStateStore {
	return &MockStateStore{States: make(map[string]string)}
}

func (m *MockStateStore) PutState(_ context.Context, state, verifier string, _ time.Duration) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	if m.States == nil {
		m.States = make(map[string]string)
	}
	m.States[state] = verifier
	m.mu.Unlock()
	return nil
}

func (m *MockStateStore) ConsumeState(_ context.Context, state string) (string, bool, error) {
	if m.ConsumeErr != nil {
		return "", false, m.ConsumeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.States[state]
	delete(m.States, state)
	return v, ok, nil
}

// MockProvider implements oauth.Provider for tests. VerifyIDToken and
// Exchange return the configured Claims for any input unless an error is set.
type MockProvider struct {
	Claims      *oauth.Claims
	VerifyErr   error
	ExchangeErr error
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) VerifyIDToken(_ context.Context, _ string) (*oauth.Claims, error) {
	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	return m.Claims, nil
}

func (m *MockProvider) AuthCodeURL(state, codeChallenge string) string {
	return "https://auth.example.com/consent?state=" + state + "&code_challenge=" + codeChallenge
}

func (m *MockProvider) Exchange(_ context.Context, _, _ string) (*oauth.Claims, error) {
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	return m.Claims, nil
}
