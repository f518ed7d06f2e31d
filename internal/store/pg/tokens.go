package pg

import (
	"context"
	"database/sql"
	"errors"

	"idgate.org/internal/identity"
)

const tokenColumns = `id, user_id, token_hash, issued_at, expires_at, revoked_at`

type tokenStore struct {
	db *sql.DB
}

func (s tokenStore) Create(ctx context.Context, token *identity.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, issued_at, expires_at)
		values ($1, $2, $3, $4, $5)
	`, token.ID, token.UserID, token.TokenHash, token.IssuedAt, token.ExpiresAt)
	if err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func (s tokenStore) FindByTokenHash(ctx context.Context, tokenHash string) (*identity.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+tokenColumns+`
		from refresh_tokens
		where token_hash = $1
	`, tokenHash)
	return scanToken(row)
}

// FindByUser lists only live tokens; revoked and expired rows stay in the
// table for the audit trail but are never reported as sessions.
func (s tokenStore) FindByUser(ctx context.Context, userID string) ([]identity.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+tokenColumns+`
		from refresh_tokens
		where user_id = $1 and revoked_at is null and expires_at > now()
		order by issued_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.RefreshToken
	for rows.Next() {
		var (
			token   identity.RefreshToken
			revoked sql.NullTime
		)
		if err := rows.Scan(&token.ID, &token.UserID, &token.TokenHash,
			&token.IssuedAt, &token.ExpiresAt, &revoked); err != nil {
			return nil, err
		}
		if revoked.Valid {
			token.RevokedAt = &revoked.Time
		}
		result = append(result, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s tokenStore) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = now()
		where token_hash = $1 and revoked_at is null
	`, tokenHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s tokenStore) RevokeAllByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = now()
		where user_id = $1 and revoked_at is null
	`, userID)
	return err
}

// Rotate revokes the presented token and inserts its replacement in one
// transaction. The guarded update is the arbiter: whichever concurrent caller
// flips revoked_at first wins, everyone else sees zero rows and loses.
func (s tokenStore) Rotate(ctx context.Context, oldHash string, next *identity.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = now()
		where token_hash = $1 and revoked_at is null and expires_at > now()
	`, oldHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return identity.ErrTokenNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, issued_at, expires_at)
		values ($1, $2, $3, $4, $5)
	`, next.ID, next.UserID, next.TokenHash, next.IssuedAt, next.ExpiresAt); err != nil {
		return mapConstraintError(err)
	}
	if err := appendAudit(ctx, tx, "token.rotated", next.UserID, map[string]any{
		"token_id": next.ID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func scanToken(row *sql.Row) (*identity.RefreshToken, error) {
	var (
		token   identity.RefreshToken
		revoked sql.NullTime
	)
	err := row.Scan(&token.ID, &token.UserID, &token.TokenHash,
		&token.IssuedAt, &token.ExpiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revoked.Valid {
		token.RevokedAt = &revoked.Time
	}
	return &token, nil
}
