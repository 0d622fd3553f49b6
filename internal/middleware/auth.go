package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nbno/geotag-api/internal/domain"
)

// TokenValidator resolves a bearer token into the caller it identifies.
// Implemented by auth.Service.
type TokenValidator interface {
	ValidateToken(tokenString string) (domain.User, error)
}

type contextKeyCaller struct{}

// CallerFromContext returns the authenticated caller stored by Authenticate.
// The zero User (anonymous) is returned when no caller is present; the core
// treats an anonymous caller as holding no privileged role.
func CallerFromContext(ctx context.Context) domain.User {
	if u, ok := ctx.Value(contextKeyCaller{}).(domain.User); ok {
		return u
	}
	return domain.User{}
}

// Authenticate resolves an optional Authorization header. A valid bearer
// token puts the caller into the request context; a missing header leaves
// the request anonymous; an invalid token is rejected with 401 so callers
// never silently lose their privileges.
func Authenticate(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeUnauthorized(w, "malformed Authorization header")
				return
			}

			caller, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "rejected invalid token",
					"error", err,
					"request_id", chimiddleware.GetReqID(r.Context()),
				)
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyCaller{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects anonymous requests with 401. Wire it after
// Authenticate on routes that mutate state.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CallerFromContext(r.Context()).Anonymous() {
			writeUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	//nolint:errcheck
	w.Write([]byte(`{"error":{"code":"unauthorized","message":"` + message + `"}}`))
}
