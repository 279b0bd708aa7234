// responses.go -- Package-wide HTTP response helpers.
//
// Success bodies are endpoint-specific maps serialized by writeJSON; error
// bodies are always {"error": "<machine-readable message>"} with the status
// carrying the taxonomy: 400 validation/conflict, 401 authentication,
// 403 authorization, 404 not found, 500 internal. Store-layer detail never
// reaches the client.
package auth

import (
	"encoding/json"
	"net/http"
)

// writeJSON serializes v with the given status. Marshal failures are a
// programming error; they surface as a bare 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorJSON writes {"error": message} with the given status.
func errorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// BadRequest returns 400 for client input validation failures and conflicts.
func BadRequest(w http.ResponseWriter, message string) {
	errorJSON(w, http.StatusBadRequest, message)
}

// Unauthorized returns 401 for authentication failures.
func Unauthorized(w http.ResponseWriter, message string) {
	errorJSON(w, http.StatusUnauthorized, message)
}

// Forbidden returns 403 for a valid identity lacking the required role.
func Forbidden(w http.ResponseWriter, message string) {
	errorJSON(w, http.StatusForbidden, message)
}

// NotFound returns 404 for an absent referenced entity.
func NotFound(w http.ResponseWriter, message string) {
	errorJSON(w, http.StatusNotFound, message)
}

// InternalServerError logs the error and returns a generic 500 response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	errorJSON(w, http.StatusInternalServerError, "internal server error")
}
