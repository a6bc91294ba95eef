package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"companyauth.org/internal/auth"
	"companyauth.org/internal/store/memory"
)

func newComponents(t *testing.T, store auth.Store) *auth.Components {
	t.Helper()
	settings, err := auth.NewSettings("0123456789abcdef0123456789abcdef",
		auth.WithHashing(auth.AlgorithmBcrypt, bcrypt.MinCost),
		auth.WithHashWorkers(2),
	)
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}
	c, err := auth.Assemble(store, settings, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestRegisterLoginGrantScenario(t *testing.T) {
	store := memory.NewSeeded()
	c := newComponents(t, store)
	ctx := context.Background()

	user, err := c.Service.Register(ctx, auth.Registration{FirstName: "Ann", LastName: "Lee", Email: "a@x.com", Password: "pw1", RoleID: 2})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Role != auth.RoleEmployee || user.Email != "a@x.com" {
		t.Fatalf("unexpected summary %+v", user)
	}

	_, err = c.Service.Register(ctx, auth.Registration{Email: "a@x.com", Password: "other", RoleID: 2})
	if !errors.Is(err, auth.ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}

	first, err := c.Service.Login(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := c.Validator.Validate(first.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(claims.Permissions) != 0 || claims.Role != auth.RoleEmployee {
		t.Fatalf("expected employee with no permissions, got %+v", claims)
	}

	if _, err := c.Engine.Grant(ctx, 2, 2); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	second, err := c.Service.Login(ctx, "A@X.com", "pw1")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	claims, err = c.Validator.Validate(second.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !claims.HasPermission(auth.PermissionViewUsers) {
		t.Fatalf("expected ViewUsers in %v", claims.Permissions)
	}

	if ok, err := c.Engine.HasPermission(ctx, 2, auth.PermissionViewUsers); err != nil || !ok {
		t.Fatalf("HasPermission(ViewUsers) = %v, %v", ok, err)
	}
	if ok, err := c.Engine.HasPermission(ctx, 2, auth.PermissionManageUsers); err != nil || ok {
		t.Fatalf("HasPermission(ManageUsers) = %v, %v", ok, err)
	}

	// The first token keeps its snapshot.
	old, err := c.Validator.Validate(first.Token)
	if err != nil || len(old.Permissions) != 0 {
		t.Fatalf("expected earlier token to be unchanged: %v %v", old, err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	c := newComponents(t, memory.NewSeeded())
	ctx := context.Background()

	if _, err := c.Service.Register(ctx, auth.Registration{Email: "a@x.com", Password: "pw1", RoleID: 2}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, wrongPassword := c.Service.Login(ctx, "a@x.com", "nope")
	_, unknownEmail := c.Service.Login(ctx, "b@x.com", "pw1")
	_, empty := c.Service.Login(ctx, "", "")
	for _, err := range []error{wrongPassword, unknownEmail, empty} {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("failure messages differ: %q vs %q", wrongPassword, unknownEmail)
	}
}

func TestRegisterValidation(t *testing.T) {
	c := newComponents(t, memory.NewSeeded())
	ctx := context.Background()

	tests := []struct {
		name string
		reg  auth.Registration
		want error
	}{
		{"missing email", auth.Registration{Password: "pw", RoleID: 2}, auth.ErrValidation},
		{"bad email", auth.Registration{Email: "not-an-email", Password: "pw", RoleID: 2}, auth.ErrValidation},
		{"missing password", auth.Registration{Email: "a@x.com", RoleID: 2}, auth.ErrValidation},
		{"missing role", auth.Registration{Email: "a@x.com", Password: "pw"}, auth.ErrValidation},
		{"unknown role", auth.Registration{Email: "a@x.com", Password: "pw", RoleID: 99}, auth.ErrRoleNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.Service.Register(ctx, tc.reg); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConcurrentRegisterSameEmail(t *testing.T) {
	c := newComponents(t, memory.NewSeeded())
	ctx := context.Background()

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Service.Register(ctx, auth.Registration{Email: "race@x.com", Password: "pw", RoleID: 2})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, auth.ErrEmailAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one registration, got %d", successes)
	}
}

func TestUserLifecycle(t *testing.T) {
	c := newComponents(t, memory.NewSeeded())
	ctx := context.Background()

	a, _ := c.Service.Register(ctx, auth.Registration{Email: "a@x.com", Password: "pw1", RoleID: 2})
	b, _ := c.Service.Register(ctx, auth.Registration{Email: "b@x.com", Password: "pw1", RoleID: 2})

	if _, err := c.Service.UpdateUser(ctx, a.ID, auth.UserUpdate{Email: "b@x.com", RoleID: 2}); !errors.Is(err, auth.ErrEmailAlreadyExists) {
		t.Fatalf("expected email conflict on update, got %v", err)
	}
	updated, err := c.Service.UpdateUser(ctx, a.ID, auth.UserUpdate{FirstName: "Ann", Email: "ann@x.com", RoleID: 1})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if updated.Role != auth.RoleAdmin || updated.Email != "ann@x.com" {
		t.Fatalf("unexpected update %+v", updated)
	}
	if _, err := c.Service.Login(ctx, "ann@x.com", "pw1"); err != nil {
		t.Fatalf("expected password to survive update: %v", err)
	}
	if _, err := c.Service.UpdateUser(ctx, b.ID, auth.UserUpdate{Email: "b@x.com", Password: "pw2", RoleID: 2}); err != nil {
		t.Fatalf("UpdateUser password: %v", err)
	}
	if _, err := c.Service.Login(ctx, "b@x.com", "pw1"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}

	users, err := c.Service.ListUsers(ctx)
	if err != nil || len(users) != 2 {
		t.Fatalf("ListUsers: %v %v", users, err)
	}
	if err := c.Service.DeleteUser(ctx, a.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := c.Service.DeleteUser(ctx, a.ID); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := c.Service.GetUser(ctx, a.ID); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

type failingStore struct {
	*memory.Store
}

func (failingStore) FindUserByEmail(context.Context, string) (auth.User, error) {
	return auth.User{}, errors.New("dial tcp: connection refused")
}

func TestLoginStoreUnavailable(t *testing.T) {
	c := newComponents(t, failingStore{memory.NewSeeded()})
	_, err := c.Service.Login(context.Background(), "a@x.com", "pw1")
	if !errors.Is(err, auth.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("store failure must not look like bad credentials")
	}
}
