package auth

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// Policy names an access rule. A policy is satisfied by the bypass role or
// by holding Permission. A policy with no Permission admits the bypass role only.
type Policy struct {
	Name       string
	Permission string
}

var (
	PolicyViewUsers   = Policy{Name: "ViewUsers", Permission: PermissionViewUsers}
	PolicyManageUsers = Policy{Name: "ManageUsers", Permission: PermissionManageUsers}
	PolicyAdminister  = Policy{Name: "Administer"}
)

// GrantStore is the slice of Store the engine needs.
type GrantStore interface {
	RoleStore
	PermissionStore
	AuthorizationStore
}

// AuthorizationEngine manages grants and evaluates policies.
type AuthorizationEngine struct {
	store    GrantStore
	registry *PermissionRegistry
	bypass   string
	now      func() time.Time
	locks    pairLocks
}

// EngineOption configures AuthorizationEngine.
type EngineOption func(*AuthorizationEngine)

// WithEngineClock overrides the grant timestamp source.
func WithEngineClock(fn func() time.Time) EngineOption {
	return func(e *AuthorizationEngine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewAuthorizationEngine wires the engine. The bypass role comes from settings.
func NewAuthorizationEngine(store GrantStore, registry *PermissionRegistry, settings *Settings, opts ...EngineOption) *AuthorizationEngine {
	e := &AuthorizationEngine{
		store:    store,
		registry: registry,
		bypass:   settings.BypassRole(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BypassRole returns the role name that satisfies every policy.
func (e *AuthorizationEngine) BypassRole() string { return e.bypass }

// Grant links permissionID to roleID. Checks run in order: role exists,
// permission exists, pair not already granted. The store's unique
// constraint decides between concurrent writers in other processes.
func (e *AuthorizationEngine) Grant(ctx context.Context, roleID, permissionID int64) (Authorization, error) {
	unlock := e.locks.lock(pairKey{roleID, permissionID})
	defer unlock()

	a, err := e.grant(ctx, roleID, permissionID)
	grantsTotal.WithLabelValues("grant", grantOutcome(err)).Inc()
	return a, err
}

func (e *AuthorizationEngine) grant(ctx context.Context, roleID, permissionID int64) (Authorization, error) {
	if _, err := e.store.FindRoleByID(ctx, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Authorization{}, ErrRoleNotFound
		}
		return Authorization{}, unavailable(err)
	}
	if _, err := e.store.FindPermissionByID(ctx, permissionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Authorization{}, ErrPermissionNotFound
		}
		return Authorization{}, unavailable(err)
	}
	existing, err := e.store.FindAuthorizationsByRole(ctx, roleID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Authorization{}, unavailable(err)
	}
	for _, a := range existing {
		if a.PermissionID == permissionID {
			return Authorization{}, ErrAlreadyGranted
		}
	}

	created, err := e.store.InsertAuthorization(ctx, Authorization{
		RoleID:       roleID,
		PermissionID: permissionID,
		GrantedAt:    e.now().UTC(),
	})
	switch {
	case errors.Is(err, ErrConflict):
		return Authorization{}, ErrAlreadyGranted
	case errors.Is(err, ErrNotFound):
		// Roles are never deleted, so a dangling reference is the permission.
		return Authorization{}, ErrPermissionNotFound
	case err != nil:
		return Authorization{}, unavailable(err)
	}
	e.registry.Invalidate(roleID)
	return created, nil
}

// Revoke removes the grant of permissionID from roleID.
func (e *AuthorizationEngine) Revoke(ctx context.Context, roleID, permissionID int64) error {
	unlock := e.locks.lock(pairKey{roleID, permissionID})
	defer unlock()

	err := e.revoke(ctx, roleID, permissionID)
	grantsTotal.WithLabelValues("revoke", grantOutcome(err)).Inc()
	return err
}

func (e *AuthorizationEngine) revoke(ctx context.Context, roleID, permissionID int64) error {
	existing, err := e.store.FindAuthorizationsByRole(ctx, roleID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return unavailable(err)
	}
	idx := slices.IndexFunc(existing, func(a Authorization) bool { return a.PermissionID == permissionID })
	if idx < 0 {
		return ErrNotGranted
	}
	if err := e.store.DeleteAuthorization(ctx, existing[idx].ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotGranted
		}
		return unavailable(err)
	}
	e.registry.Invalidate(roleID)
	return nil
}

// PermissionsForRole returns the role's permissions in no particular order.
func (e *AuthorizationEngine) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	if _, err := e.store.FindRoleByID(ctx, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, unavailable(err)
	}
	return e.registry.PermissionsForRole(ctx, roleID)
}

// HasPermission reports whether an active grant links roleID to a
// permission named exactly name. The bypass role is not considered here.
func (e *AuthorizationEngine) HasPermission(ctx context.Context, roleID int64, name string) (bool, error) {
	return e.registry.HasPermission(ctx, roleID, name)
}

// Allows evaluates policy p for a role name and a permission snapshot.
func (e *AuthorizationEngine) Allows(role string, permissions []string, p Policy) bool {
	if role != "" && role == e.bypass {
		return true
	}
	if p.Permission == "" {
		return false
	}
	return slices.Contains(permissions, p.Permission)
}

// Authorize evaluates p against token claims without touching the store.
func (e *AuthorizationEngine) Authorize(claims *Claims, p Policy) error {
	if claims == nil || !e.Allows(claims.Role, claims.Permissions, p) {
		return ErrForbidden
	}
	return nil
}

// AuthorizeRole evaluates p against the current grants of roleID.
func (e *AuthorizationEngine) AuthorizeRole(ctx context.Context, roleID int64, p Policy) (bool, error) {
	role, err := e.store.FindRoleByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ErrRoleNotFound
		}
		return false, unavailable(err)
	}
	if role.Name == e.bypass {
		return true, nil
	}
	if p.Permission == "" {
		return false, nil
	}
	return e.registry.HasPermission(ctx, roleID, p.Permission)
}

// AuthorizeRoleAssignment decides whether claims may place a user in role
// target or change a user currently in role current. Zero means no role on
// that side. Touching the bypass role on either side needs PolicyAdminister.
func (e *AuthorizationEngine) AuthorizeRoleAssignment(ctx context.Context, claims *Claims, current, target int64) error {
	if claims == nil {
		return ErrForbidden
	}
	if e.Authorize(claims, PolicyAdminister) == nil {
		return nil
	}
	for _, id := range []int64{current, target} {
		if id == 0 {
			continue
		}
		role, err := e.store.FindRoleByID(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			// Reported by the user operation itself.
			continue
		case err != nil:
			return unavailable(err)
		}
		if role.Name == e.bypass {
			return ErrForbidden
		}
	}
	return nil
}

func grantOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyGranted):
		return "already_granted"
	case errors.Is(err, ErrNotGranted):
		return "not_granted"
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrPermissionNotFound):
		return "not_found"
	default:
		return "error"
	}
}

type pairKey struct {
	role, permission int64
}

// pairLocks serializes grant and revoke per (role, permission) pair.
// Entries are dropped once no goroutine holds or waits on them.
type pairLocks struct {
	mu sync.Mutex
	m  map[pairKey]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func (l *pairLocks) lock(k pairKey) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[pairKey]*pairLock)
	}
	pl, ok := l.m[k]
	if !ok {
		pl = &pairLock{}
		l.m[k] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.m, k)
		}
		l.mu.Unlock()
	}
}
