package pg

import (
	"context"

	"companyauth.org/internal/auth"
)

const userColumns = `id, first_name, last_name, email, password_hash, role_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.RoleID, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	return u, translate(err)
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	return u, translate(err)
}

func (s *Store) FindAllUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) InsertUser(ctx context.Context, u auth.User) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into users (first_name, last_name, email, password_hash, role_id)
		values ($1, $2, $3, $4, $5)
		returning `+userColumns,
		u.FirstName, u.LastName, u.Email, u.PasswordHash, u.RoleID)
	created, err := scanUser(row)
	return created, translate(err)
}

func (s *Store) UpdateUser(ctx context.Context, u auth.User) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users
		set first_name = $2, last_name = $3, email = $4, password_hash = $5, role_id = $6, updated_at = now()
		where id = $1
		returning `+userColumns,
		u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, u.RoleID)
	updated, err := scanUser(row)
	return updated, translate(err)
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}
