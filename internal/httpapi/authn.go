package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"companyauth.org/internal/audit"
	"companyauth.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "bearer "
)

var errMissingToken = errors.New("missing bearer token")

// authenticate validates the bearer token and attaches its claims. Every
// failure yields the same 401 so callers learn nothing about the reason.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err == nil {
			var claims *auth.Claims
			claims, err = a.validator.Validate(token)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
				return
			}
		}
		a.logger.DebugContext(r.Context(), "authentication failed", slog.Any("error", err))
		w.Header().Set("WWW-Authenticate", `Bearer realm="companyauth"`)
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	})
}

// require admits the request only when the caller's claims satisfy p.
func (a *API) require(p auth.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := auth.ClaimsFromContext(r.Context())
			if err := a.engine.Authorize(claims, p); err != nil {
				_ = a.audit.Record(r.Context(), audit.EventAccessDenied,
					slog.String("policy", p.Name),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// callerID returns the authenticated user id, or zero.
func callerID(r *http.Request) int64 {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}
