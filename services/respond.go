package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/3than777/Elocutionist-sub004/apperr"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeAppError maps an error's kind to an HTTP status. Internal errors are
// logged and reported without detail.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForKind(apperr.KindOf(err))
	if status >= http.StatusInternalServerError && !apperr.IsKind(err, apperr.KindTransientRemote) {
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, apperr.CodeOf(err), apperr.UserMessage(err))
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindTransientRemote:
		return http.StatusServiceUnavailable
	case apperr.KindPermanentRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a request body into v, limited to 1MB.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, apperr.CodeTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "Invalid request body")
		return false
	}
	return true
}

// callerID returns the authenticated user, or writes 401.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User not found in context")
		return "", false
	}
	return principal.UserID, true
}
