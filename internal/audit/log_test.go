package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"companyauth.org/internal/auth"
)

func TestRecord(t *testing.T) {
	var buf bytes.Buffer
	rec := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithClaims(ctx, &auth.Claims{
		Role:             auth.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42"},
	})

	if err := rec.Record(ctx, EventGrantCreated, slog.Int64("role_id", 2), slog.Int64("permission_id", 1)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != EventGrantCreated {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "42" || entry["actor_role"] != auth.RoleAdmin {
		t.Fatalf("unexpected actor: %v %v", entry["actor_id"], entry["actor_role"])
	}
	if id, _ := entry["event_id"].(string); len(id) != 26 {
		t.Fatalf("expected ULID event id, got %v", entry["event_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["role_id"] != float64(2) {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestRecordRequiresEvent(t *testing.T) {
	if err := New(nil).Record(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty event")
	}
}
