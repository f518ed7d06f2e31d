package pg

import (
	"context"
	"database/sql"
	"errors"

	"idgate.org/internal/identity"
)

const roleColumns = `id, name, description, active, created_at, updated_at, deleted_at`

type roleStore struct {
	db *sql.DB
}

func (s roleStore) FindByID(ctx context.Context, id string) (*identity.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where id = $1 and deleted_at is null
	`, id)
	return scanRole(row)
}

func (s roleStore) FindByName(ctx context.Context, name identity.RoleName) (*identity.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where name = $1 and deleted_at is null
	`, string(name))
	return scanRole(row)
}

func (s roleStore) List(ctx context.Context) ([]identity.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+roleColumns+`
		from roles
		where deleted_at is null
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Role
	for rows.Next() {
		var (
			role        identity.Role
			description sql.NullString
			deleted     sql.NullTime
		)
		if err := rows.Scan(&role.ID, &role.Name, &description, &role.Active,
			&role.CreatedAt, &role.UpdatedAt, &deleted); err != nil {
			return nil, err
		}
		role.Description = description.String
		if deleted.Valid {
			role.DeletedAt = &deleted.Time
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanRole(row *sql.Row) (*identity.Role, error) {
	var (
		role        identity.Role
		description sql.NullString
		deleted     sql.NullTime
	)
	err := row.Scan(&role.ID, &role.Name, &description, &role.Active,
		&role.CreatedAt, &role.UpdatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role.Description = description.String
	if deleted.Valid {
		role.DeletedAt = &deleted.Time
	}
	return &role, nil
}
