package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Catalog manages roles and the permission catalog.
type Catalog struct {
	store    GrantStore
	registry *PermissionRegistry
}

// NewCatalog constructs a Catalog. Renaming or deleting a permission purges
// the registry so resolved names stay consistent with the catalog.
func NewCatalog(store GrantStore, registry *PermissionRegistry) *Catalog {
	return &Catalog{store: store, registry: registry}
}

// ListRoles returns every role.
func (c *Catalog) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := c.store.FindAllRoles(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return roles, nil
}

// GetRole returns role id.
func (c *Catalog) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := c.store.FindRoleByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return Role{}, ErrRoleNotFound
	case err != nil:
		return Role{}, unavailable(err)
	}
	return role, nil
}

// CreateRole adds a role with a unique name.
func (c *Catalog) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrValidation)
	}
	role, err := c.store.InsertRole(ctx, Role{Name: name, Description: strings.TrimSpace(description)})
	switch {
	case errors.Is(err, ErrConflict):
		return Role{}, ErrRoleNameTaken
	case err != nil:
		return Role{}, unavailable(err)
	}
	return role, nil
}

// ListPermissions returns the catalog.
func (c *Catalog) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms, err := c.store.FindAllPermissions(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return perms, nil
}

// GetPermission returns permission id.
func (c *Catalog) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, err := c.store.FindPermissionByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return Permission{}, ErrPermissionNotFound
	case err != nil:
		return Permission{}, unavailable(err)
	}
	return p, nil
}

// CreatePermission adds a permission. Names are case-sensitive and unique.
func (c *Catalog) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	in, err := validatePermission(in)
	if err != nil {
		return Permission{}, err
	}
	p, err := c.store.InsertPermission(ctx, Permission{Name: in.Name, Description: in.Description, Module: in.Module})
	switch {
	case errors.Is(err, ErrConflict):
		return Permission{}, ErrPermissionTaken
	case err != nil:
		return Permission{}, unavailable(err)
	}
	return p, nil
}

// UpdatePermission replaces the fields of permission id.
func (c *Catalog) UpdatePermission(ctx context.Context, id int64, in PermissionInput) (Permission, error) {
	in, err := validatePermission(in)
	if err != nil {
		return Permission{}, err
	}
	p, err := c.store.UpdatePermission(ctx, Permission{ID: id, Name: in.Name, Description: in.Description, Module: in.Module})
	switch {
	case errors.Is(err, ErrNotFound):
		return Permission{}, ErrPermissionNotFound
	case errors.Is(err, ErrConflict):
		return Permission{}, ErrPermissionTaken
	case err != nil:
		return Permission{}, unavailable(err)
	}
	c.registry.Purge()
	return p, nil
}

// DeletePermission removes permission id together with its grants.
func (c *Catalog) DeletePermission(ctx context.Context, id int64) error {
	err := c.store.DeletePermission(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrPermissionNotFound
	case err != nil:
		return unavailable(err)
	}
	c.registry.Purge()
	return nil
}

func validatePermission(in PermissionInput) (PermissionInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Module = strings.TrimSpace(in.Module)
	if in.Name == "" {
		return PermissionInput{}, fmt.Errorf("%w: permission name is required", ErrValidation)
	}
	if strings.ContainsAny(in.Name, " \t\r\n") {
		return PermissionInput{}, fmt.Errorf("%w: permission name %q must not contain whitespace", ErrValidation, in.Name)
	}
	return in, nil
}
