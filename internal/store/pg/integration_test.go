package pg

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"companyauth.org/internal/auth"
	"companyauth.org/internal/migrate"
	migrations "companyauth.org/ops/migrations"
)

// setupPostgres starts a disposable PostgreSQL, applies migrations and seeds.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION is not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("companyauth_test"),
		postgres.WithUsername("companyauth"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	store, err := Open(dsn, DefaultPool)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mgr := migrate.NewManager(store.DB(), migrations.SQL, migrations.Seeds)
	if err := mgr.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if err := mgr.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func TestPostgresScenario(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	roles, err := store.FindAllRoles(ctx)
	if err != nil || len(roles) != 2 {
		t.Fatalf("expected seeded roles, got %v %v", roles, err)
	}
	if _, err := store.InsertRole(ctx, auth.Role{Name: "Auditor"}); err != nil {
		t.Fatalf("expected sequence to continue after seeded ids: %v", err)
	}

	u, err := store.InsertUser(ctx, auth.User{Email: "a@x.com", PasswordHash: "h", RoleID: 2})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	if _, err := store.InsertUser(ctx, auth.User{Email: "a@x.com", PasswordHash: "h", RoleID: 2}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := store.InsertUser(ctx, auth.User{Email: "c@x.com", PasswordHash: "h", RoleID: 99}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing role, got %v", err)
	}
	got, err := store.FindUserByID(ctx, u.ID)
	if err != nil || got.Email != "a@x.com" {
		t.Fatalf("FindUserByID: %+v %v", got, err)
	}
}

func TestPostgresConcurrentGrants(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.InsertAuthorization(ctx, auth.Authorization{RoleID: 2, PermissionID: 2, GrantedAt: time.Now().UTC()})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, auth.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || conflicts != 9 {
		t.Fatalf("expected 1 insert and 9 conflicts, got %d/%d", successes, conflicts)
	}

	if err := store.DeletePermission(ctx, 2); err != nil {
		t.Fatalf("DeletePermission: %v", err)
	}
	grants, err := store.FindAuthorizationsByRole(ctx, 2)
	if err != nil || len(grants) != 0 {
		t.Fatalf("expected cascade to drop grants, got %v %v", grants, err)
	}
}
