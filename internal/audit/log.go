package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"companyauth.org/internal/auth"
	"companyauth.org/internal/ids"
	"companyauth.org/internal/obs"
)

// Event names recorded by the API.
const (
	EventLoginSucceeded    = "auth.login.succeeded"
	EventLoginFailed       = "auth.login.failed"
	EventUserCreated       = "user.created"
	EventUserUpdated       = "user.updated"
	EventUserDeleted       = "user.deleted"
	EventRoleCreated       = "role.created"
	EventPermissionCreated = "permission.created"
	EventPermissionUpdated = "permission.updated"
	EventPermissionDeleted = "permission.deleted"
	EventGrantCreated      = "grant.created"
	EventGrantRevoked      = "grant.revoked"
	EventAccessDenied      = "access.denied"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder writes audit events as structured log records.
type Recorder struct {
	logger *slog.Logger
}

// New returns a Recorder writing to logger, or to the shared service
// logger when logger is nil.
func New(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

func (r *Recorder) log() *slog.Logger {
	if r == nil || r.logger == nil {
		return obs.Logger()
	}
	return r.logger
}

// Record writes one audit entry enriched with the request id and the
// authenticated principal found in ctx.
func (r *Recorder) Record(ctx context.Context, event string, attrs ...slog.Attr) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	base := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
		slog.String("event_id", ids.New()),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		base = append(base, slog.String("request_id", rid))
	}
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		base = append(base, slog.String("actor_id", claims.Subject), slog.String("actor_role", claims.Role))
	}
	fields := make([]any, 0, len(attrs))
	for _, a := range attrs {
		fields = append(fields, a)
	}
	base = append(base, slog.Group("fields", fields...))
	r.log().LogAttrs(ctx, slog.LevelInfo, "audit", base...)
	return nil
}
