package pg

import (
	"context"

	"companyauth.org/internal/auth"
)

func (s *Store) FindRoleByID(ctx context.Context, id int64) (auth.Role, error) {
	var r auth.Role
	err := s.db.QueryRowContext(ctx, `select id, name, description from roles where id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Description)
	return r, translate(err)
}

func (s *Store) FindAllRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, description from roles order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertRole(ctx context.Context, r auth.Role) (auth.Role, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into roles (name, description) values ($1, $2)
		returning id`, r.Name, r.Description).Scan(&r.ID)
	if err != nil {
		return auth.Role{}, translate(err)
	}
	return r, nil
}

func (s *Store) FindAllPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, description, module from permissions order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Module); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) FindPermissionByID(ctx context.Context, id int64) (auth.Permission, error) {
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `select id, name, description, module from permissions where id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Module)
	return p, translate(err)
}

func (s *Store) InsertPermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (name, description, module) values ($1, $2, $3)
		returning id`, p.Name, p.Description, p.Module).Scan(&p.ID)
	if err != nil {
		return auth.Permission{}, translate(err)
	}
	return p, nil
}

func (s *Store) UpdatePermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	res, err := s.db.ExecContext(ctx, `
		update permissions set name = $2, description = $3, module = $4
		where id = $1`, p.ID, p.Name, p.Description, p.Module)
	if err != nil {
		return auth.Permission{}, translate(err)
	}
	if err := expectOne(res); err != nil {
		return auth.Permission{}, err
	}
	return p, nil
}

// DeletePermission relies on the cascading foreign key to drop grants.
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

func (s *Store) FindAuthorizationsByRole(ctx context.Context, roleID int64) ([]auth.Authorization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, role_id, permission_id, granted_at
		from authorizations
		where role_id = $1
		order by id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Authorization
	for rows.Next() {
		var a auth.Authorization
		if err := rows.Scan(&a.ID, &a.RoleID, &a.PermissionID, &a.GrantedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAuthorization relies on authorizations_role_permission_key to
// reject duplicate pairs.
func (s *Store) InsertAuthorization(ctx context.Context, a auth.Authorization) (auth.Authorization, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into authorizations (role_id, permission_id, granted_at)
		values ($1, $2, $3)
		returning id`, a.RoleID, a.PermissionID, a.GrantedAt).Scan(&a.ID)
	if err != nil {
		return auth.Authorization{}, translate(err)
	}
	return a, nil
}

func (s *Store) DeleteAuthorization(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from authorizations where id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}
