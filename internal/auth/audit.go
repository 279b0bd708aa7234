// audit.go -- Fire-and-forget audit recorder.
//
// Every authentication-relevant event lands in auth_logs. A failure to
// record must never fail the guarded operation, so errors stop here and
// become a log line.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/consultadocs/backend/internal/store"
)

// Audit action names, as stored in auth_logs.action.
const (
	actionRegister      = "register"
	actionLogin         = "login"
	actionGoogleLogin   = "google_login"
	actionTokenRefresh  = "token_refresh"
	actionPasswordReset = "password_reset_by_admin"
	actionUserToggle    = "user_toggle"
	actionAdminToggle   = "admin_toggle"
	actionSessionRevoke = "session_revoked"
	actionBackup        = "backup"
	actionCleanup       = "cleanup"
)

// audit appends one entry to the auth log. userID may be nil (pre-auth
// failures); errDetail empty means no error detail. Uses a detached context
// so a client disconnect doesn't lose the record.
func (h *AuthHandler) audit(r *http.Request, userID *int64, email, action string, success bool, errDetail string) {
	ip := clientIP(r)
	agent := r.UserAgent()

	entry := store.AuthLog{
		UserID:    userID,
		Action:    action,
		Success:   success,
		IPAddress: &ip,
		UserAgent: &agent,
	}
	if email != "" {
		entry.Email = &email
	}
	if errDetail != "" {
		entry.ErrorMessage = &errDetail
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := h.PS.InsertAuthLog(ctx, entry); err != nil {
		logWarn(r, "failed to record audit entry", "action", action, "error", err)
	}
}
