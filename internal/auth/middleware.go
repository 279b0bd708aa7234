// middleware.go

// Bearer-token access control.
//
// Guards are higher-order: WithAuth wraps a handler that receives the
// resolved *store.User directly, so identity is established exactly once per
// request and never re-derived downstream. WithAdmin composes WithAuth with
// a role check.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/consultadocs/backend/internal/store"
	"github.com/jackc/pgx/v5"
)

// AuthedHandler is a handler that runs with a resolved, active identity.
type AuthedHandler func(w http.ResponseWriter, r *http.Request, user *store.User)

// denial is one distinguishable rejection outcome of authenticate.
// reason feeds the log line; status/message feed the response.
type denial struct {
	status  int
	message string
	reason  string
}

var (
	denyNoToken     = &denial{http.StatusUnauthorized, "authentication token required", "missing_token"}
	denyMalformed   = &denial{http.StatusUnauthorized, "invalid authorization header", "malformed_header"}
	denyExpired     = &denial{http.StatusUnauthorized, "token expired", "token_expired"}
	denyInvalid     = &denial{http.StatusUnauthorized, "invalid token", "token_invalid"}
	denyRevoked     = &denial{http.StatusUnauthorized, "session revoked", "token_revoked"}
	denyDeactivated = &denial{http.StatusUnauthorized, "account deactivated", "account_deactivated"}
	denyNotAdmin    = &denial{http.StatusForbidden, "admin privileges required", "not_admin"}
)

// authenticate resolves the Authorization header to an active user or a
// denial. Order: header shape, signature/expiry, revocation deny-list,
// account lookup, active flag. The deny-list check fails open on Redis
// errors -- revocation then degrades to eventual, it doesn't take auth down.
func (h *AuthHandler) authenticate(r *http.Request) (*store.User, *denial) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, denyNoToken
	}
	rawToken, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || rawToken == "" {
		return nil, denyMalformed
	}

	claims, err := h.TS.Verify(rawToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, denyExpired
		}
		return nil, denyInvalid
	}

	revoked, err := h.DL.IsRevoked(r.Context(), Fingerprint(rawToken))
	if err != nil {
		logError(r, "revocation check failed, continuing without it", "error", err)
	} else if revoked {
		return nil, denyRevoked
	}

	user, err := h.PS.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Token for a user that no longer resolves. Users are never
			// deleted, so treat it like a forged subject.
			return nil, denyInvalid
		}
		logError(r, "failed to fetch user for auth", "error", err)
		return nil, &denial{http.StatusInternalServerError, "internal server error", "store_failure"}
	}
	if !user.IsActive {
		return nil, denyDeactivated
	}

	return user, nil
}

// WithAuth wraps fn so it only runs for an authenticated, active user.
func (h *AuthHandler) WithAuth(fn AuthedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, d := h.authenticate(r)
		if d != nil {
			logWarn(r, "request rejected", "reason", d.reason)
			errorJSON(w, d.status, d.message)
			return
		}
		fn(w, r, user)
	}
}

// WithAdmin composes WithAuth with an admin role requirement.
func (h *AuthHandler) WithAdmin(fn AuthedHandler) http.HandlerFunc {
	return h.WithAuth(func(w http.ResponseWriter, r *http.Request, user *store.User) {
		if !user.IsAdmin {
			logWarn(r, "request rejected", "reason", denyNotAdmin.reason, "user_id", user.ID)
			errorJSON(w, denyNotAdmin.status, denyNotAdmin.message)
			return
		}
		fn(w, r, user)
	})
}
