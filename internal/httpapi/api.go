package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"companyauth.org/internal/audit"
	"companyauth.org/internal/auth"
	"companyauth.org/internal/obs"
)

const serviceName = "companyauth"

// ReadyChecker reports whether dependencies can serve traffic.
type ReadyChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Service   *auth.AuthenticationService
	Engine    *auth.AuthorizationEngine
	Catalog   *auth.Catalog
	Validator *auth.TokenValidator
	Audit     *audit.Recorder
	Ready     ReadyChecker
	Logger    *slog.Logger
}

// API is the HTTP transport for the auth service.
type API struct {
	svc       *auth.AuthenticationService
	engine    *auth.AuthorizationEngine
	catalog   *auth.Catalog
	validator *auth.TokenValidator
	audit     *audit.Recorder
	ready     ReadyChecker
	logger    *slog.Logger

	version      string
	maxBodyBytes int64
	corsOrigins  []string
	limiter      *RateLimiter
	loginLimiter *RateLimiter
}

// Option configures the API.
type Option func(*API)

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithCORSOrigins enables CORS for the listed origins.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithRateLimit applies a per-client token bucket to every route.
func WithRateLimit(perSecond float64, burst int, trustProxy bool) Option {
	return func(a *API) {
		a.limiter = NewRateLimiter(rate.Limit(perSecond), burst, trustProxy)
	}
}

// WithLoginRateLimit applies a stricter per-client bucket to login.
func WithLoginRateLimit(perMinute, burst int, trustProxy bool) Option {
	return func(a *API) {
		a.loginLimiter = NewRateLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst, trustProxy)
	}
}

// New builds the API.
func New(deps Deps, opts ...Option) *API {
	a := &API{
		svc:          deps.Service,
		engine:       deps.Engine,
		catalog:      deps.Catalog,
		validator:    deps.Validator,
		audit:        deps.Audit,
		ready:        deps.Ready,
		logger:       deps.Logger,
		version:      "dev",
		maxBodyBytes: 1 << 20,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	if a.audit == nil {
		a.audit = audit.New(a.logger)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routed, fully wrapped handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON(a.logger))
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	if len(a.corsOrigins) > 0 {
		r.Use(CORS(a.corsOrigins))
	}
	if a.limiter != nil {
		r.Use(a.limiter.Middleware)
	}
	r.Use(MaxBodyBytes(a.maxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)

		r.Group(func(r chi.Router) {
			if a.loginLimiter != nil {
				r.Use(a.loginLimiter.Middleware)
			}
			r.Post("/auth/login", a.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Get("/auth/me", a.handleMe)

			r.Route("/users", func(r chi.Router) {
				r.With(a.require(auth.PolicyViewUsers)).Get("/", a.handleListUsers)
				r.With(a.require(auth.PolicyManageUsers)).Post("/", a.handleCreateUser)
				r.Get("/{id}", a.handleGetUser)
				r.With(a.require(auth.PolicyManageUsers)).Put("/{id}", a.handleUpdateUser)
				r.With(a.require(auth.PolicyManageUsers)).Delete("/{id}", a.handleDeleteUser)
			})

			r.Group(func(r chi.Router) {
				r.Use(a.require(auth.PolicyAdminister))

				r.Get("/roles", a.handleListRoles)
				r.Post("/roles", a.handleCreateRole)
				r.Get("/roles/{id}", a.handleGetRole)
				r.Get("/roles/{id}/permissions", a.handleRolePermissions)
				r.Get("/roles/{id}/permissions/{name}", a.handleRoleHasPermission)
				r.Post("/roles/{id}/grants/{permissionID}", a.handleGrant)
				r.Delete("/roles/{id}/grants/{permissionID}", a.handleRevoke)

				r.Get("/permissions", a.handleListPermissions)
				r.Post("/permissions", a.handleCreatePermission)
				r.Get("/permissions/{id}", a.handleGetPermission)
				r.Put("/permissions/{id}", a.handleUpdatePermission)
				r.Delete("/permissions/{id}", a.handleDeletePermission)
			})
		})
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		a.logger.WarnContext(r.Context(), "readiness check failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleAuthError maps service outcomes onto HTTP statuses. Infrastructure
// details are logged, never returned.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, r, http.StatusBadRequest, trimPrefix(err))
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case auth.IsTokenError(err):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrRoleNotFound),
		errors.Is(err, auth.ErrPermissionNotFound),
		errors.Is(err, auth.ErrNotGranted):
		writeError(w, r, http.StatusNotFound, trimPrefix(err))
	case errors.Is(err, auth.ErrEmailAlreadyExists),
		errors.Is(err, auth.ErrAlreadyGranted),
		errors.Is(err, auth.ErrRoleNameTaken),
		errors.Is(err, auth.ErrPermissionTaken):
		writeError(w, r, http.StatusConflict, trimPrefix(err))
	case errors.Is(err, auth.ErrStoreUnavailable), errors.Is(err, auth.ErrPoolClosed):
		a.logger.ErrorContext(r.Context(), "store unavailable", slog.Any("error", err))
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		a.logger.ErrorContext(r.Context(), "unhandled error", slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

const errPrefix = "auth: "

func trimPrefix(err error) string {
	msg := err.Error()
	if len(msg) > len(errPrefix) && msg[:len(errPrefix)] == errPrefix {
		return msg[len(errPrefix):]
	}
	return msg
}
