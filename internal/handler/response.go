package handler

// RESPONSE SHAPE:
// Every response body is JSON. Failures always look like
//
//	{"error": "validation_error", "message": "Please select some PHP code to run.", "field": "selection"}
//
// so an editor extension can show `message` directly and branch on `error`
// without caring whether it got a 400, a 404 or a 503.
//
// Note that a PHP failure is NOT an HTTP failure: a script that dies with a
// fatal error is a successful evaluation whose response has "failed": true.
// Only problems with the request itself (or the server) use these helpers'
// error path.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/phpinline/internal/apperror"
)

// ErrorResponse is the error body returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable kind, e.g. "not_found"
	Message string `json:"message"`         // human-readable, safe to show in an editor
	Field   string `json:"field,omitempty"` // offending field for validation errors
}

// errorKinds maps domain sentinels to HTTP. Order matters only if an error
// ever wraps two sentinels; the first match wins.
var errorKinds = []struct {
	sentinel error
	status   int
	kind     string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
}

// writeJSON sets the content type and status, then encodes data.
// Headers must be final before the first body byte is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are gone already; logging is all that is left.
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError translates a service error into an HTTP response.
//
// The service layer never sees status codes. It returns apperror values and
// each surface decides what they mean: here a status code, in the language
// server a window/showMessage, in the CLI an exit status. errors.Is walks the
// wrap chain, so fmt.Errorf("...: %w", apperror.NotFound(...)) still maps to
// 404.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Raw errors can carry SQL or scratch paths: log them, send nothing.
		slog.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, kind := http.StatusInternalServerError, "internal_error"
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			status, kind = k.status, k.kind
			break
		}
	}
	writeJSON(w, status, ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}
