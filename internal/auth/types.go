package auth

import "time"

// User is a principal able to authenticate. Each user holds exactly one role.
type User struct {
	ID           int64     `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	RoleID       int64     `json:"role_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role groups permissions through Authorization records.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Permission is a named capability. Module is an informational grouping tag.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Module      string `json:"module"`
}

// Authorization is a grant linking a role to a permission.
type Authorization struct {
	ID           int64     `json:"id"`
	RoleID       int64     `json:"role_id"`
	PermissionID int64     `json:"permission_id"`
	GrantedAt    time.Time `json:"granted_at"`
}

// UserSummary is the caller-facing view of a user.
type UserSummary struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	RoleID    int64  `json:"role_id"`
	Role      string `json:"role"`
}

// Registration carries the details needed to create a user.
type Registration struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	RoleID    int64
}

// UserUpdate replaces a user's profile. An empty Password keeps the stored hash.
type UserUpdate struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	RoleID    int64
}

// PermissionInput carries the mutable fields of a permission.
type PermissionInput struct {
	Name        string
	Description string
	Module      string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      UserSummary `json:"user"`
}

func summarize(u User, roleName string) UserSummary {
	return UserSummary{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		RoleID:    u.RoleID,
		Role:      roleName,
	}
}
