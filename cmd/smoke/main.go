// Command smoke drives a running companyauth deployment through the
// register, grant and login cycle and checks gRPC health.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type settings struct {
	BaseURL       string
	GRPCAddr      string
	AdminEmail    string
	AdminPassword string
	RoleID        int64
	PermissionID  int64
	Permission    string
}

func main() {
	s := settings{
		BaseURL:       envOr("COMPANYAUTH_SMOKE_URL", "http://localhost:8080"),
		GRPCAddr:      envOr("COMPANYAUTH_SMOKE_GRPC_ADDR", "localhost:9090"),
		AdminEmail:    os.Getenv("COMPANYAUTH_BOOTSTRAP_ADMIN_EMAIL"),
		AdminPassword: os.Getenv("COMPANYAUTH_BOOTSTRAP_ADMIN_PASSWORD"),
		RoleID:        2,
		PermissionID:  2,
		Permission:    "ViewUsers",
	}
	if s.AdminEmail == "" || s.AdminPassword == "" {
		fmt.Fprintln(os.Stderr, "smoke: COMPANYAUTH_BOOTSTRAP_ADMIN_EMAIL and COMPANYAUTH_BOOTSTRAP_ADMIN_PASSWORD are required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	email, err := run(ctx, http.DefaultClient, s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smoke: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("smoke test passed: user=%s\n", email)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// run registers a throwaway user, grants its role a permission and checks
// that a fresh login carries it. The grant is revoked afterwards.
func run(ctx context.Context, hc *http.Client, s settings) (string, error) {
	if s.GRPCAddr != "" {
		if err := checkHealth(ctx, s.GRPCAddr); err != nil {
			return "", err
		}
	}
	c := &client{base: s.BaseURL, hc: hc}

	admin, err := c.login(ctx, s.AdminEmail, s.AdminPassword)
	if err != nil {
		return "", fmt.Errorf("admin login: %w", err)
	}

	email := fmt.Sprintf("smoke-%s@example.com", uuid.NewString()[:8])
	password := uuid.NewString()
	var created struct {
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/users", admin, map[string]any{
		"first_name": "Smoke", "last_name": "Test", "email": email, "password": password, "role_id": s.RoleID,
	}, http.StatusCreated, &created); err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	defer func() {
		_ = c.call(context.Background(), http.MethodDelete, fmt.Sprintf("/v1/users/%d", created.ID), admin, nil, http.StatusNoContent, nil)
	}()

	grantPath := fmt.Sprintf("/v1/roles/%d/grants/%d", s.RoleID, s.PermissionID)
	granted := true
	if err := c.call(ctx, http.MethodPost, grantPath, admin, nil, http.StatusCreated, nil); err != nil {
		var se *statusError
		if !errors.As(err, &se) || se.Code != http.StatusConflict {
			return "", fmt.Errorf("grant: %w", err)
		}
		granted = false
	}
	if granted {
		defer func() {
			_ = c.call(context.Background(), http.MethodDelete, grantPath, admin, nil, http.StatusNoContent, nil)
		}()
	}

	token, err := c.login(ctx, email, password)
	if err != nil {
		return "", fmt.Errorf("user login: %w", err)
	}
	var me struct {
		Permissions []string `json:"permissions"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/auth/me", token, nil, http.StatusOK, &me); err != nil {
		return "", fmt.Errorf("me: %w", err)
	}
	if !slices.Contains(me.Permissions, s.Permission) {
		return "", fmt.Errorf("expected %s in token permissions, got %v", s.Permission, me.Permissions)
	}
	return email, nil
}

func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial grpc %s: %w", addr, err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("grpc health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health: %s", resp.GetStatus())
	}
	return nil
}

type client struct {
	base string
	hc   *http.Client
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (c *client) login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	}, http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *client) call(ctx context.Context, method, path, token string, body any, want int, dst any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
