package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"companyauth.org/internal/audit"
	"companyauth.org/internal/auth"
	"companyauth.org/internal/store/memory"
)

const (
	adminEmail    = "root@example.com"
	adminPassword = "root-password"
)

type apiClient struct {
	baseURL    string
	client     *http.Client
	components *auth.Components
	t          *testing.T
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	settings, err := auth.NewSettings("0123456789abcdef0123456789abcdef",
		auth.WithHashing(auth.AlgorithmBcrypt, bcrypt.MinCost),
		auth.WithHashWorkers(2),
	)
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}
	c, err := auth.Assemble(memory.NewSeeded(), settings, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	t.Cleanup(c.Close)

	if _, err := c.Service.Register(context.Background(), auth.Registration{
		FirstName: "Root", LastName: "Admin", Email: adminEmail, Password: adminPassword, RoleID: 1,
	}); err != nil {
		t.Fatalf("register admin: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	api := New(Deps{
		Service:   c.Service,
		Engine:    c.Engine,
		Catalog:   c.Catalog,
		Validator: c.Validator,
		Audit:     audit.New(logger),
		Logger:    logger,
	}, append([]Option{WithVersion("test")}, opts...)...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), components: c, t: t}
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) expect(resp *http.Response, code int, dst any) {
	c.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != code {
		raw, _ := io.ReadAll(resp.Body)
		c.t.Fatalf("%s %s: expected %d, got %d: %s", resp.Request.Method, resp.Request.URL.Path, code, resp.StatusCode, raw)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			c.t.Fatalf("decode response: %v", err)
		}
	}
}

func (c *apiClient) login(email, password string) string {
	c.t.Helper()
	var out auth.LoginResult
	c.expect(c.do(http.MethodPost, "/v1/auth/login", "", loginRequest{Email: email, Password: password}), http.StatusOK, &out)
	if out.Token == "" {
		c.t.Fatal("expected token in login response")
	}
	return out.Token
}

func (c *apiClient) permissions(token string) []string {
	c.t.Helper()
	var me meResponse
	c.expect(c.do(http.MethodGet, "/v1/auth/me", token, nil), http.StatusOK, &me)
	return me.Permissions
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	var health map[string]any
	c.expect(c.do(http.MethodGet, "/healthz", "", nil), http.StatusOK, &health)
	if health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected health %v", health)
	}
	c.expect(c.do(http.MethodGet, "/readyz", "", nil), http.StatusOK, nil)

	resp := c.do(http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" || resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("missing middleware headers: %v", resp.Header)
	}
}

func TestRegisterGrantLoginFlow(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login(adminEmail, adminPassword)

	var created auth.UserSummary
	c.expect(c.do(http.MethodPost, "/v1/users", admin, userRequest{
		FirstName: "Ann", LastName: "Lee", Email: "a@x.com", Password: "pw1", RoleID: 2,
	}), http.StatusCreated, &created)
	if created.Role != auth.RoleEmployee {
		t.Fatalf("unexpected user %+v", created)
	}
	c.expect(c.do(http.MethodPost, "/v1/users", admin, userRequest{
		Email: "a@x.com", Password: "pw2", RoleID: 2,
	}), http.StatusConflict, nil)

	employee := c.login("a@x.com", "pw1")
	if perms := c.permissions(employee); len(perms) != 0 {
		t.Fatalf("expected no permissions, got %v", perms)
	}
	c.expect(c.do(http.MethodGet, "/v1/users", employee, nil), http.StatusForbidden, nil)
	c.expect(c.do(http.MethodGet, fmt.Sprintf("/v1/users/%d", created.ID), employee, nil), http.StatusOK, nil)
	c.expect(c.do(http.MethodGet, "/v1/users/1", employee, nil), http.StatusForbidden, nil)

	c.expect(c.do(http.MethodPost, "/v1/roles/2/grants/2", admin, nil), http.StatusCreated, nil)
	c.expect(c.do(http.MethodPost, "/v1/roles/2/grants/2", admin, nil), http.StatusConflict, nil)
	c.expect(c.do(http.MethodPost, "/v1/roles/9/grants/2", admin, nil), http.StatusNotFound, nil)

	// The earlier token keeps its snapshot until it expires.
	if perms := c.permissions(employee); len(perms) != 0 {
		t.Fatalf("expected old token unchanged, got %v", perms)
	}
	employee = c.login("a@x.com", "pw1")
	if perms := c.permissions(employee); !slices.Contains(perms, auth.PermissionViewUsers) {
		t.Fatalf("expected ViewUsers in %v", perms)
	}
	c.expect(c.do(http.MethodGet, "/v1/users", employee, nil), http.StatusOK, nil)

	var check map[string]any
	c.expect(c.do(http.MethodGet, "/v1/roles/2/permissions/ViewUsers", admin, nil), http.StatusOK, &check)
	if check["granted"] != true {
		t.Fatalf("expected ViewUsers granted, got %v", check)
	}
	c.expect(c.do(http.MethodGet, "/v1/roles/2/permissions/ManageUsers", admin, nil), http.StatusOK, &check)
	if check["granted"] != false {
		t.Fatalf("expected ManageUsers not granted, got %v", check)
	}

	c.expect(c.do(http.MethodDelete, "/v1/roles/2/grants/2", admin, nil), http.StatusNoContent, nil)
	c.expect(c.do(http.MethodDelete, "/v1/roles/2/grants/2", admin, nil), http.StatusNotFound, nil)
}

func TestLoginFailures(t *testing.T) {
	c := newTestAPI(t)

	var unknown, wrong map[string]any
	c.expect(c.do(http.MethodPost, "/v1/auth/login", "", loginRequest{Email: "nobody@x.com", Password: "pw"}), http.StatusUnauthorized, &unknown)
	c.expect(c.do(http.MethodPost, "/v1/auth/login", "", loginRequest{Email: adminEmail, Password: "wrong"}), http.StatusUnauthorized, &wrong)
	if unknown["error"] != wrong["error"] {
		t.Fatalf("login failures differ: %v vs %v", unknown, wrong)
	}
	c.expect(c.do(http.MethodPost, "/v1/auth/login", "", map[string]any{"email": adminEmail, "extra": 1}), http.StatusBadRequest, nil)
}

func TestAuthenticationRequired(t *testing.T) {
	c := newTestAPI(t)

	for _, token := range []string{"", "not-a-token"} {
		resp := c.do(http.MethodGet, "/v1/auth/me", token, nil)
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Errorf("expected WWW-Authenticate for token %q", token)
		}
		c.expect(resp, http.StatusUnauthorized, nil)
	}
}

func TestAdministrationRequiresBypassRole(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login(adminEmail, adminPassword)

	c.expect(c.do(http.MethodPost, "/v1/users", admin, userRequest{
		Email: "b@x.com", Password: "pw", RoleID: 2,
	}), http.StatusCreated, nil)
	employee := c.login("b@x.com", "pw")

	c.expect(c.do(http.MethodGet, "/v1/roles", employee, nil), http.StatusForbidden, nil)
	c.expect(c.do(http.MethodPost, "/v1/users", employee, userRequest{Email: "c@x.com", Password: "pw", RoleID: 1}), http.StatusForbidden, nil)

	var role auth.Role
	c.expect(c.do(http.MethodPost, "/v1/roles", admin, createRoleRequest{Name: "Auditor"}), http.StatusCreated, &role)
	c.expect(c.do(http.MethodPost, "/v1/roles", admin, createRoleRequest{Name: "Auditor"}), http.StatusConflict, nil)

	var perm auth.Permission
	c.expect(c.do(http.MethodPost, "/v1/permissions", admin, permissionRequest{Name: "ViewAudit", Module: "Audit"}), http.StatusCreated, &perm)
	c.expect(c.do(http.MethodPost, "/v1/permissions", admin, permissionRequest{Name: "View Audit"}), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPost, fmt.Sprintf("/v1/roles/%d/grants/%d", role.ID, perm.ID), admin, nil), http.StatusCreated, nil)

	var listed struct {
		Permissions []auth.Permission `json:"permissions"`
	}
	c.expect(c.do(http.MethodGet, fmt.Sprintf("/v1/roles/%d/permissions", role.ID), admin, nil), http.StatusOK, &listed)
	if len(listed.Permissions) != 1 || listed.Permissions[0].Name != "ViewAudit" {
		t.Fatalf("unexpected role permissions %+v", listed.Permissions)
	}

	c.expect(c.do(http.MethodDelete, fmt.Sprintf("/v1/permissions/%d", perm.ID), admin, nil), http.StatusNoContent, nil)
	c.expect(c.do(http.MethodGet, fmt.Sprintf("/v1/roles/%d/permissions", role.ID), admin, nil), http.StatusOK, &listed)
	if len(listed.Permissions) != 0 {
		t.Fatalf("expected grants removed with permission, got %+v", listed.Permissions)
	}
	c.expect(c.do(http.MethodGet, "/v1/roles/abc", admin, nil), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodGet, "/v1/permissions/99", admin, nil), http.StatusNotFound, nil)
}

func TestUserLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login(adminEmail, adminPassword)

	var u auth.UserSummary
	c.expect(c.do(http.MethodPost, "/v1/users", admin, userRequest{
		FirstName: "Dee", Email: "d@x.com", Password: "pw", RoleID: 2,
	}), http.StatusCreated, &u)

	path := fmt.Sprintf("/v1/users/%d", u.ID)
	c.expect(c.do(http.MethodPut, path, admin, userRequest{
		FirstName: "Dee", LastName: "Ray", Email: "d@x.com", Password: "new-pw", RoleID: 2,
	}), http.StatusOK, &u)
	if u.LastName != "Ray" {
		t.Fatalf("update not applied: %+v", u)
	}
	c.login("d@x.com", "new-pw")

	c.expect(c.do(http.MethodPut, path, admin, userRequest{Email: "not-an-email", RoleID: 2}), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodDelete, "/v1/users/1", admin, nil), http.StatusConflict, nil)
	c.expect(c.do(http.MethodDelete, path, admin, nil), http.StatusNoContent, nil)
	c.expect(c.do(http.MethodGet, path, admin, nil), http.StatusNotFound, nil)
}

func TestManageUsersCannotReachBypassRole(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login(adminEmail, adminPassword)

	var self auth.UserSummary
	c.expect(c.do(http.MethodPost, "/v1/users", admin, userRequest{
		Email: "m@x.com", Password: "pw", RoleID: 2,
	}), http.StatusCreated, &self)
	c.expect(c.do(http.MethodPost, "/v1/roles/2/grants/1", admin, nil), http.StatusCreated, nil)
	manager := c.login("m@x.com", "pw")
	c.expect(c.do(http.MethodGet, "/v1/roles", manager, nil), http.StatusForbidden, nil)

	selfPath := fmt.Sprintf("/v1/users/%d", self.ID)
	c.expect(c.do(http.MethodPut, selfPath, manager, userRequest{
		Email: "m@x.com", RoleID: 1,
	}), http.StatusForbidden, nil)
	c.expect(c.do(http.MethodPost, "/v1/users", manager, userRequest{
		Email: "n@x.com", Password: "pw", RoleID: 1,
	}), http.StatusForbidden, nil)
	c.expect(c.do(http.MethodPut, "/v1/users/1", manager, userRequest{
		Email: adminEmail, Password: "taken-over", RoleID: 1,
	}), http.StatusForbidden, nil)
	c.expect(c.do(http.MethodDelete, "/v1/users/1", manager, nil), http.StatusForbidden, nil)

	// The role is unchanged, so a fresh login still cannot administer.
	manager = c.login("m@x.com", "pw")
	c.expect(c.do(http.MethodGet, "/v1/roles", manager, nil), http.StatusForbidden, nil)
	c.login(adminEmail, adminPassword)

	var other auth.UserSummary
	c.expect(c.do(http.MethodPost, "/v1/users", manager, userRequest{
		Email: "o@x.com", Password: "pw", RoleID: 2,
	}), http.StatusCreated, &other)
	if other.RoleID != 2 || other.Role != auth.RoleEmployee {
		t.Fatalf("unexpected summary %+v", other)
	}
	otherPath := fmt.Sprintf("/v1/users/%d", other.ID)
	c.expect(c.do(http.MethodPut, otherPath, manager, userRequest{
		FirstName: "Oz", Email: "o@x.com", RoleID: 2,
	}), http.StatusOK, nil)
	c.expect(c.do(http.MethodDelete, otherPath, manager, nil), http.StatusNoContent, nil)
	c.expect(c.do(http.MethodPut, "/v1/users/999", manager, userRequest{Email: "z@x.com", RoleID: 2}), http.StatusNotFound, nil)

	c.expect(c.do(http.MethodPut, selfPath, admin, userRequest{Email: "m@x.com", RoleID: 1}), http.StatusOK, nil)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	c := newTestAPI(t)
	c.expect(c.do(http.MethodGet, "/nope", "", nil), http.StatusNotFound, nil)
	c.expect(c.do(http.MethodDelete, "/healthz", "", nil), http.StatusMethodNotAllowed, nil)
}

type failingProbe struct{}

func (failingProbe) Check(context.Context) error { return fmt.Errorf("db down") }

func TestReadyReportsFailure(t *testing.T) {
	api := New(Deps{Ready: failingProbe{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
