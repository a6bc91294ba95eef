package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
//
// Lookups return ErrNotFound when the row does not exist. Inserts and updates
// return ErrConflict when a uniqueness constraint rejects the write, and
// ErrNotFound when a referenced row is missing. Any other error is treated as
// the store being unavailable.
type Store interface {
	UserStore
	RoleStore
	PermissionStore
	AuthorizationStore
}

// UserStore manages users.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id int64) (User, error)
	FindAllUsers(ctx context.Context) ([]User, error)
	InsertUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, u User) (User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// RoleStore manages roles. Roles are never deleted.
type RoleStore interface {
	FindRoleByID(ctx context.Context, id int64) (Role, error)
	FindAllRoles(ctx context.Context) ([]Role, error)
	InsertRole(ctx context.Context, r Role) (Role, error)
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	FindAllPermissions(ctx context.Context) ([]Permission, error)
	FindPermissionByID(ctx context.Context, id int64) (Permission, error)
	InsertPermission(ctx context.Context, p Permission) (Permission, error)
	UpdatePermission(ctx context.Context, p Permission) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
}

// AuthorizationStore manages grants. InsertAuthorization must reject a
// duplicate (role, permission) pair atomically with ErrConflict.
type AuthorizationStore interface {
	FindAuthorizationsByRole(ctx context.Context, roleID int64) ([]Authorization, error)
	InsertAuthorization(ctx context.Context, a Authorization) (Authorization, error)
	DeleteAuthorization(ctx context.Context, id int64) error
}
