// Package pg is the Postgres identity.Store, built on database/sql over the
// pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"idgate.org/internal/identity"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ identity.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Accounts() identity.AccountStore       { return accountStore{db: s.db} }
func (s *Store) Roles() identity.RoleStore             { return roleStore{db: s.db} }
func (s *Store) Assignments() identity.AssignmentStore { return assignmentStore{db: s.db} }
func (s *Store) RefreshTokens() identity.TokenLedger   { return tokenStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func mapConstraintError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return identity.ErrConflict
		case pgErrForeignKeyViolation:
			return identity.ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// appendAudit records a security event in the same transaction as the
// mutation it describes, so the trail cannot drift from the data.
func appendAudit(ctx context.Context, tx *sql.Tx, action, subject string, details map[string]any) error {
	actor := identity.ActorFromContext(ctx)
	payload := []byte("{}")
	if len(details) > 0 {
		bytes, err := json.Marshal(details)
		if err != nil {
			return err
		}
		payload = bytes
	}
	_, err := tx.ExecContext(ctx, `
		insert into audit_log (action, actor_id, subject_id, details)
		values ($1, nullif($2, ''), nullif($3, ''), $4)
	`, action, actor, subject, payload)
	return err
}
