package auth

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PermissionSource is the slice of Store the registry reads from.
type PermissionSource interface {
	FindAllPermissions(ctx context.Context) ([]Permission, error)
	FindAuthorizationsByRole(ctx context.Context, roleID int64) ([]Authorization, error)
}

// PermissionRegistry resolves role→permission assignments from the store
// and keeps a bounded, expiring cache of the result per role.
type PermissionRegistry struct {
	source PermissionSource
	cache  *expirable.LRU[int64, []Permission]
	// gen changes on every invalidation. A load that observes a change
	// after caching its result removes it again.
	gen atomic.Uint64
}

// NewPermissionRegistry constructs a registry caching up to size roles for ttl.
func NewPermissionRegistry(source PermissionSource, size int, ttl time.Duration) *PermissionRegistry {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &PermissionRegistry{
		source: source,
		cache:  expirable.NewLRU[int64, []Permission](size, nil, ttl),
	}
}

// PermissionsForRole returns the permissions granted to roleID in no
// particular order. An unknown role has no permissions.
func (r *PermissionRegistry) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	if cached, ok := r.cache.Get(roleID); ok {
		permissionCacheHits.Inc()
		return slices.Clone(cached), nil
	}
	permissionCacheMisses.Inc()
	return r.load(ctx, roleID)
}

// FreshPermissionNames reads the role's permissions from the store,
// bypassing the cache, and refreshes the cached entry.
func (r *PermissionRegistry) FreshPermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	perms, err := r.load(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return permissionNames(perms), nil
}

func (r *PermissionRegistry) load(ctx context.Context, roleID int64) ([]Permission, error) {
	gen := r.gen.Load()
	grants, err := r.source.FindAuthorizationsByRole(ctx, roleID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, unavailable(err)
	}
	perms := make([]Permission, 0, len(grants))
	if len(grants) > 0 {
		catalog, err := r.source.FindAllPermissions(ctx)
		if err != nil {
			return nil, unavailable(err)
		}
		byID := make(map[int64]Permission, len(catalog))
		for _, p := range catalog {
			byID[p.ID] = p
		}
		for _, g := range grants {
			if p, ok := byID[g.PermissionID]; ok {
				perms = append(perms, p)
			}
		}
	}
	r.cache.Add(roleID, perms)
	if r.gen.Load() != gen {
		r.cache.Remove(roleID)
	}
	return slices.Clone(perms), nil
}

// PermissionNames returns the sorted names of the role's permissions.
func (r *PermissionRegistry) PermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	perms, err := r.PermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return permissionNames(perms), nil
}

func permissionNames(perms []Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// HasPermission reports whether roleID holds a permission named exactly name.
func (r *PermissionRegistry) HasPermission(ctx context.Context, roleID int64, name string) (bool, error) {
	perms, err := r.PermissionsForRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the cached entry for roleID.
func (r *PermissionRegistry) Invalidate(roleID int64) {
	r.gen.Add(1)
	r.cache.Remove(roleID)
}

// Purge drops every cached entry. Used when permission names change.
func (r *PermissionRegistry) Purge() {
	r.gen.Add(1)
	r.cache.Purge()
}
