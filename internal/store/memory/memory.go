// Package memory provides an in-process auth.Store used by tests and by the
// API server when no database is configured.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"companyauth.org/internal/auth"
)

// Store keeps all records in maps guarded by a single mutex. Uniqueness of
// user email, role name, permission name and (role, permission) pairs is
// checked under the same lock as the write.
type Store struct {
	mu sync.RWMutex

	users       map[int64]auth.User
	roles       map[int64]auth.Role
	permissions map[int64]auth.Permission
	grants      map[int64]auth.Authorization

	nextUser, nextRole, nextPermission, nextGrant int64

	now func() time.Time
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[int64]auth.User),
		roles:       make(map[int64]auth.Role),
		permissions: make(map[int64]auth.Permission),
		grants:      make(map[int64]auth.Authorization),
		now:         time.Now,
	}
}

// NewSeeded returns a store holding the built-in roles, permissions and grants.
func NewSeeded() *Store {
	s := New()
	for _, r := range auth.BuiltinRoles {
		s.roles[r.ID] = r
		s.nextRole = max(s.nextRole, r.ID)
	}
	for _, p := range auth.BuiltinPermissions {
		s.permissions[p.ID] = p
		s.nextPermission = max(s.nextPermission, p.ID)
	}
	for _, g := range auth.BuiltinGrants {
		s.nextGrant++
		g.ID = s.nextGrant
		g.GrantedAt = s.now().UTC()
		s.grants[g.ID] = g
	}
	return s
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) FindUserByID(_ context.Context, id int64) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindAllUsers(_ context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.users, func(u auth.User) int64 { return u.ID }), nil
}

func (s *Store) InsertUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[u.RoleID]; !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if s.emailTaken(u.Email, 0) {
		return auth.User{}, auth.ErrConflict
	}
	s.nextUser++
	now := s.now().UTC()
	u.ID = s.nextUser
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[u.ID]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if _, ok := s.roles[u.RoleID]; !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if s.emailTaken(u.Email, u.ID) {
		return auth.User{}, auth.ErrConflict
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = s.now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) emailTaken(email string, self int64) bool {
	for _, u := range s.users {
		if u.Email == email && u.ID != self {
			return true
		}
	}
	return false
}

func (s *Store) FindRoleByID(_ context.Context, id int64) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, nil
}

func (s *Store) FindAllRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.roles, func(r auth.Role) int64 { return r.ID }), nil
}

func (s *Store) InsertRole(_ context.Context, r auth.Role) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == r.Name {
			return auth.Role{}, auth.ErrConflict
		}
	}
	s.nextRole++
	r.ID = s.nextRole
	s.roles[r.ID] = r
	return r, nil
}

func (s *Store) FindAllPermissions(_ context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.permissions, func(p auth.Permission) int64 { return p.ID }), nil
}

func (s *Store) FindPermissionByID(_ context.Context, id int64) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return p, nil
}

func (s *Store) InsertPermission(_ context.Context, p auth.Permission) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permissionNameTaken(p.Name, 0) {
		return auth.Permission{}, auth.ErrConflict
	}
	s.nextPermission++
	p.ID = s.nextPermission
	s.permissions[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePermission(_ context.Context, p auth.Permission) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[p.ID]; !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	if s.permissionNameTaken(p.Name, p.ID) {
		return auth.Permission{}, auth.ErrConflict
	}
	s.permissions[p.ID] = p
	return p, nil
}

// DeletePermission removes the permission and every grant referencing it.
func (s *Store) DeletePermission(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.permissions, id)
	for gid, g := range s.grants {
		if g.PermissionID == id {
			delete(s.grants, gid)
		}
	}
	return nil
}

func (s *Store) permissionNameTaken(name string, self int64) bool {
	for _, p := range s.permissions {
		if p.Name == name && p.ID != self {
			return true
		}
	}
	return false
}

func (s *Store) FindAuthorizationsByRole(_ context.Context, roleID int64) ([]auth.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Authorization
	for _, g := range s.grants {
		if g.RoleID == roleID {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b auth.Authorization) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *Store) InsertAuthorization(_ context.Context, a auth.Authorization) (auth.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[a.RoleID]; !ok {
		return auth.Authorization{}, auth.ErrNotFound
	}
	if _, ok := s.permissions[a.PermissionID]; !ok {
		return auth.Authorization{}, auth.ErrNotFound
	}
	for _, g := range s.grants {
		if g.RoleID == a.RoleID && g.PermissionID == a.PermissionID {
			return auth.Authorization{}, auth.ErrConflict
		}
	}
	s.nextGrant++
	a.ID = s.nextGrant
	if a.GrantedAt.IsZero() {
		a.GrantedAt = s.now().UTC()
	}
	s.grants[a.ID] = a
	return a, nil
}

func (s *Store) DeleteAuthorization(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.grants, id)
	return nil
}

func sortedValues[T any](m map[int64]T, id func(T) int64) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}
