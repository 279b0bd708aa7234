// admin_handler.go -- HTTP handlers for all /admin/* endpoints.
// Every handler here runs behind WithAdmin.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/consultadocs/backend/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

// userIDParam parses the {id} route parameter. Writes a 400 and returns
// false when it isn't a positive integer.
func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "invalid user id")
		return 0, false
	}
	return id, true
}

// ListUsers handles GET /admin/users.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request, admin *store.User) {
	users, err := h.PS.ListUsers(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	payload := make([]userPayload, 0, len(users))
	for i := range users {
		payload = append(payload, publicUser(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":   payload,
		"total":   len(payload),
		"success": true,
	})
}

// AdminUserStats handles GET /admin/users/{id}/stats.
func (h *AuthHandler) AdminUserStats(w http.ResponseWriter, r *http.Request, admin *store.User) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	stats, err := h.PS.UserStats(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, "user not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   stats,
		"success": true,
	})
}

// ToggleActive handles PUT /admin/users/{id}/toggle -- flips is_active.
// Admins cannot deactivate their own account.
func (h *AuthHandler) ToggleActive(w http.ResponseWriter, r *http.Request, admin *store.User) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if id == admin.ID {
		BadRequest(w, "cannot deactivate your own account")
		return
	}

	active, err := h.PS.ToggleUserActive(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, "user not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	verb := "deactivated"
	if active {
		verb = "activated"
	}
	h.audit(r, &id, admin.Email, actionUserToggle, true,
		fmt.Sprintf("user %d %s by %s", id, verb, admin.Email))
	logInfo(r, "user active flag toggled", "target_id", id, "new_status", active, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "user " + verb + " successfully",
		"user_id":    id,
		"new_status": active,
		"success":    true,
	})
}

// ToggleAdmin handles PUT /admin/users/{id}/make-admin -- flips is_admin.
// Admins cannot demote themselves.
func (h *AuthHandler) ToggleAdmin(w http.ResponseWriter, r *http.Request, admin *store.User) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if id == admin.ID {
		BadRequest(w, "cannot change your own admin status")
		return
	}

	isAdmin, err := h.PS.ToggleUserAdmin(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, "user not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	verb := "revoked for"
	if isAdmin {
		verb = "granted to"
	}
	h.audit(r, &id, admin.Email, actionAdminToggle, true,
		fmt.Sprintf("admin %s user %d by %s", verb, id, admin.Email))
	logInfo(r, "user admin flag toggled", "target_id", id, "new_admin_status", isAdmin, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":          "admin privileges " + verb + " user",
		"user_id":          id,
		"new_admin_status": isAdmin,
		"success":          true,
	})
}

// ResetPassword handles PUT /admin/users/{id}/reset-password -- sets a new
// password chosen by the administrator. The new password is validated before
// anything is written.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request, admin *store.User) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var in struct {
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		BadRequest(w, "error decoding request body")
		return
	}
	if msg := ValidatePassword(in.NewPassword); msg != "" {
		BadRequest(w, msg)
		return
	}

	hash, err := HashPassword(in.NewPassword)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	if err := h.PS.UpdateUserPassword(r.Context(), id, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, "user not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	h.audit(r, &id, admin.Email, actionPasswordReset, true, "reset by "+admin.Email)
	logInfo(r, "password reset by admin", "target_id", id, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password reset successfully",
		"success": true,
	})
}

// Sessions handles GET /admin/sessions -- all active, unexpired sessions with
// their owners.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request, admin *store.User) {
	sessions, err := h.PS.ListActiveSessions(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"success":  true,
	})
}

// RevokeSession handles DELETE /admin/sessions/{id}/revoke. Revoking an
// already-revoked session succeeds without complaint; only a missing row is
// a 404. The token fingerprint is deny-listed for its remaining life so the
// revocation bites immediately.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request, admin *store.User) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "invalid session id")
		return
	}

	sess, err := h.PS.GetSessionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, "session not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	wasActive, err := h.PS.RevokeSession(r.Context(), id)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	if err := h.DL.Revoke(r.Context(), sess.TokenFingerprint, time.Until(sess.ExpiresAt)); err != nil {
		logWarn(r, "failed to deny-list revoked session token", "session_id", id, "error", err)
	}

	if wasActive {
		h.audit(r, &sess.UserID, admin.Email, actionSessionRevoke, true,
			fmt.Sprintf("session %d revoked by %s", id, admin.Email))
	}
	logInfo(r, "session revoked", "session_id", id, "was_active", wasActive, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "session revoked successfully",
		"session_id": id,
		"success":    true,
	})
}

// Logs handles GET /admin/logs -- paginated audit trail, newest first.
func (h *AuthHandler) Logs(w http.ResponseWriter, r *http.Request, admin *store.User) {
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 50)
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	if perPage > 200 {
		perPage = 200
	}

	total, err := h.PS.CountAuthLogs(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	logs, err := h.PS.ListAuthLogs(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":        logs,
		"page":        page,
		"per_page":    perPage,
		"total":       total,
		"total_pages": totalPages,
		"success":     true,
	})
}

// Stats handles GET /admin/stats -- system-wide counters plus recent signups.
func (h *AuthHandler) Stats(w http.ResponseWriter, r *http.Request, admin *store.User) {
	stats, err := h.PS.SystemStats(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	recent := make([]userPayload, 0, len(stats.RecentUsers))
	for i := range stats.RecentUsers {
		recent = append(recent, publicUser(&stats.RecentUsers[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":        stats,
		"recent_users": recent,
		"success":      true,
	})
}

// Backup handles POST /admin/backup -- exports users, active sessions, and
// recent audit logs to a timestamped JSON file under BackupDir.
func (h *AuthHandler) Backup(w http.ResponseWriter, r *http.Request, admin *store.User) {
	snapshot, err := h.PS.ExportSnapshot(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	if err := os.MkdirAll(h.BackupDir, 0o750); err != nil {
		InternalServerError(w, r, err)
		return
	}
	name := "backup_users_" + snapshot.CreatedAt.Format("20060102_150405") + ".json"
	path := filepath.Join(h.BackupDir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		InternalServerError(w, r, err)
		return
	}

	h.audit(r, &admin.ID, admin.Email, actionBackup, true, "backup written to "+path)
	logInfo(r, "backup created", "path", path, "users", len(snapshot.Users), "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "backup created successfully",
		"backup_path": path,
		"created_by":  admin.Email,
		"success":     true,
	})
}

// Cleanup handles POST /admin/cleanup -- marks every expired-but-active
// session inactive. Safe to run repeatedly; a second run removes nothing.
func (h *AuthHandler) Cleanup(w http.ResponseWriter, r *http.Request, admin *store.User) {
	removed, err := h.PS.SweepExpiredSessions(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	h.audit(r, &admin.ID, admin.Email, actionCleanup, true,
		fmt.Sprintf("%d expired sessions removed", removed))
	logInfo(r, "expired sessions cleaned", "removed", removed, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":                  "cleanup completed successfully",
		"expired_sessions_removed": removed,
		"executed_by":              admin.Email,
		"success":                  true,
	})
}

// queryInt reads an integer query parameter, falling back on absence or junk.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
