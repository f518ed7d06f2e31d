package pg

import (
	"context"
	"database/sql"
	"errors"

	"idgate.org/internal/identity"
)

const accountColumns = `id, email, name, password_hash, active, created_at, updated_at, deleted_at`

type accountStore struct {
	db *sql.DB
}

func (s accountStore) Create(ctx context.Context, account *identity.Account) error {
	_, err := s.db.ExecContext(ctx, `
		insert into accounts (id, email, name, password_hash, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID, account.Email, account.Name, account.PasswordHash, account.Active,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func (s accountStore) FindByID(ctx context.Context, id string) (*identity.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where id = $1 and deleted_at is null
	`, id)
	return scanAccount(row)
}

func (s accountStore) FindByEmail(ctx context.Context, email string) (*identity.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where email = $1 and deleted_at is null
	`, email)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*identity.Account, error) {
	var (
		account identity.Account
		deleted sql.NullTime
	)
	err := row.Scan(&account.ID, &account.Email, &account.Name, &account.PasswordHash,
		&account.Active, &account.CreatedAt, &account.UpdatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deleted.Valid {
		account.DeletedAt = &deleted.Time
	}
	return &account, nil
}
