// middleware_test.go

// unit tests for WithAuth / WithAdmin guards.

package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/consultadocs/backend/internal/store"
	"github.com/consultadocs/backend/internal/testutil"
)

// --- Helper Functions ---

// assertErrorResponse checks status and {"error": msg} body.
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedMsg string) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("status: expected %d, got %d", expectedStatus, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	body, _ := io.ReadAll(w.Body)
	expected := `{"error":"` + expectedMsg + `"}`
	if strings.TrimSpace(string(body)) != expected {
		t.Errorf("body: expected %q, got %q", expected, strings.TrimSpace(string(body)))
	}
}

// guardedHandler builds a handler stack with one active user and a bearer
// token for them. Returns the handler, the store, and the token.
func guardedHandler(t *testing.T, isAdmin bool) (*AuthHandler, *testutil.MockStore, string) {
	t.Helper()
	user := &store.User{ID: 1, Name: "Test User", Email: "user@example.com", IsAdmin: isAdmin, IsActive: true}
	ms := testutil.NewMockStore(user)
	h := &AuthHandler{
		PS: ms,
		TS: NewTokenService(testSecret, time.Hour),
		DL: testutil.NewMockRevocationList(),
	}
	token, _, err := h.TS.Issue(user.ID, user.Email, user.IsAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return h, ms, token
}

// okProbe records whether the wrapped handler ran and with which user.
func okProbe(ran *bool, gotUser **store.User) AuthedHandler {
	return func(w http.ResponseWriter, r *http.Request, user *store.User) {
		*ran = true
		*gotUser = user
		w.WriteHeader(http.StatusOK)
	}
}

// --- WithAuth ---

func TestWithAuth(t *testing.T) {
	t.Run("missing header returns Unauthorized", func(t *testing.T) {
		h, _, _ := guardedHandler(t, false)
		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusUnauthorized, "authentication token required")
		if ran {
			t.Error("handler should not run without a token")
		}
	})

	t.Run("non-bearer header returns Unauthorized", func(t *testing.T) {
		h, _, _ := guardedHandler(t, false)
		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusUnauthorized, "invalid authorization header")
	})

	t.Run("empty bearer returns Unauthorized", func(t *testing.T) {
		h, _, _ := guardedHandler(t, false)
		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer ")
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusUnauthorized, "invalid authorization header")
	})

	t.Run("garbage token returns Unauthorized", func(t *testing.T) {
		h, _, _ := guardedHandler(t, false)
		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer not.a.jwt")
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusUnauthorized, "invalid token")
	})

	t.Run("expired token returns distinct message", func(t *testing.T) {
		h, _, _ := guardedHandler(t, false)
		// Separate service with negative ttl, same secret.
		expired := NewTokenService(testSecret, -time.Minute)
		token, _, err := expired.Issue(1, "user@example.com", false)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusUnauthorized, "token expired")
	})

	t.Run("revoked token returns Unauthorized", func(t *testing.T) {
		h, _, token := guardedHandler(t, false)
		dl := h.DL.(*testutil.MockRevocationList)
		dl.Revoked[Fingerprint(token)] = true

		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusUnauthorized, "session revoked")
	})

	t.Run("revocation check failure fails open", func(t *testing.T) {
		h, _, token := guardedHandler(t, false)
		dl := h.DL.(*testutil.MockRevocationList)
		dl.IsRevokedErr = io.ErrUnexpectedEOF

		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		if !ran {
			t.Error("a deny-list outage must not block authentication")
		}
	})

	t.Run("token for unknown user returns Unauthorized", func(t *testing.T) {
		h, _, _ := guardedHandler(t, false)
		token, _, err := h.TS.Issue(999, "ghost@example.com", false)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusUnauthorized, "invalid token")
	})

	t.Run("deactivated user returns Unauthorized", func(t *testing.T) {
		h, ms, token := guardedHandler(t, false)
		ms.Users[1].IsActive = false

		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusUnauthorized, "account deactivated")
	})

	t.Run("store failure returns InternalServerError", func(t *testing.T) {
		h, ms, token := guardedHandler(t, false)
		ms.GetUserErr = io.ErrUnexpectedEOF

		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusInternalServerError, "internal server error")
	})

	t.Run("valid token runs handler with resolved user", func(t *testing.T) {
		h, _, token := guardedHandler(t, false)

		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAuth(okProbe(&ran, &u))(w, r)

		if !ran {
			t.Fatal("handler did not run")
		}
		if u == nil || u.ID != 1 {
			t.Errorf("expected resolved user 1, got %+v", u)
		}
	})
}

// --- WithAdmin ---

func TestWithAdmin(t *testing.T) {
	t.Run("non-admin returns Forbidden", func(t *testing.T) {
		h, _, token := guardedHandler(t, false)

		r := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAdmin(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusForbidden, "admin privileges required")
		if ran {
			t.Error("handler should not run for non-admin")
		}
	})

	t.Run("missing token returns Unauthorized before role check", func(t *testing.T) {
		h, _, _ := guardedHandler(t, true)

		r := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAdmin(okProbe(&ran, &u))(w, r)

		assertErrorResponse(t, w, http.StatusUnauthorized, "authentication token required")
	})

	t.Run("admin runs handler", func(t *testing.T) {
		h, _, token := guardedHandler(t, true)

		r := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		var ran bool
		var u *store.User
		h.WithAdmin(okProbe(&ran, &u))(w, r)

		if !ran {
			t.Fatal("handler did not run")
		}
		if !u.IsAdmin {
			t.Error("resolved user should be admin")
		}
	})
}
