package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nbno/geotag-api/internal/domain"
)

// errorResponse is the uniform error body for every non-2xx outcome.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON encodes v with the given status. Encoding failures are logged;
// by then the status line is already on the wire, so nothing else can be done.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// writeError maps a service error onto the HTTP taxonomy. NotFound and
// Forbidden are always distinct outcomes; anything unrecognized is logged
// with full request context and surfaced as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error, notFoundMessage string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, r, http.StatusNotFound, errorResponse{errorDetail{Code: "not_found", Message: notFoundMessage}})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, r, http.StatusForbidden, errorResponse{errorDetail{Code: "forbidden", Message: unwrapMessage(err)}})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, r, http.StatusUnprocessableEntity, errorResponse{errorDetail{Code: "validation_error", Message: unwrapMessage(err)}})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, r, http.StatusConflict, errorResponse{errorDetail{Code: "conflict", Message: "concurrent update, retry the request"}})
	default:
		slog.ErrorContext(r.Context(), "unexpected error",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
		writeJSON(w, r, http.StatusInternalServerError, errorResponse{errorDetail{Code: "internal_error", Message: "internal server error"}})
	}
}

// writeRequestError rejects a request before it reaches the service layer
// (malformed body or query parameter).
func writeRequestError(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, r, http.StatusUnprocessableEntity, errorResponse{errorDetail{Code: "validation_error", Message: message}})
}

// unwrapMessage extracts the human-readable tail from a wrapped sentinel,
// e.g. "service.GeoTagService.Save: validation error: urn is required"
// becomes "urn is required".
func unwrapMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, sentinel := range []string{"validation error: ", "forbidden: "} {
		if i := strings.LastIndex(msg, sentinel); i >= 0 {
			return msg[i+len(sentinel):]
		}
	}
	return msg
}
