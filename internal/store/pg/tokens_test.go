package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"idgate.org/internal/identity"
)

func TestTokenRotateWinner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	next := &identity.RefreshToken{
		ID:        "t2",
		UserID:    "u1",
		TokenHash: "hash-2",
		IssuedAt:  now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens").
		WithArgs("hash-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(next.ID, next.UserID, next.TokenHash, next.IssuedAt, next.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into audit_log").
		WithArgs("token.rotated", sqlmock.AnyArg(), "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewWithDB(db)
	if err := store.RefreshTokens().Rotate(context.Background(), "hash-1", next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTokenRotateLoserSeesZeroRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens").
		WithArgs("hash-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewWithDB(db)
	next := &identity.RefreshToken{ID: "t2", UserID: "u1", TokenHash: "hash-2"}
	err = store.RefreshTokens().Rotate(context.Background(), "hash-1", next)
	if !errors.Is(err, identity.ErrTokenNotFound) {
		t.Fatalf("Rotate err=%v, want ErrTokenNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTokenRevokeUnknownHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update refresh_tokens").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewWithDB(db)
	err = store.RefreshTokens().RevokeByTokenHash(context.Background(), "missing")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTokenFindByUserSkipsDeadRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	issued := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token_hash", "issued_at", "expires_at", "revoked_at"}).
		AddRow("t1", "u1", "hash-1", issued, issued.Add(time.Hour), nil)
	mock.ExpectQuery("from refresh_tokens.*where user_id = .* and revoked_at is null and expires_at > now\\(\\)").
		WithArgs("u1").
		WillReturnRows(rows)

	store := NewWithDB(db)
	tokens, err := store.RefreshTokens().FindByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("FindByUser: %v", err)
	}
	if len(tokens) != 1 || tokens[0].ID != "t1" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTokenFindByHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	issued := time.Now().UTC()
	expires := issued.Add(time.Hour)
	rows := sqlmock.NewRows([]string{"id", "user_id", "token_hash", "issued_at", "expires_at", "revoked_at"}).
		AddRow("t1", "u1", "hash-1", issued, expires, nil)
	mock.ExpectQuery("select id, user_id, token_hash.*from refresh_tokens").
		WithArgs("hash-1").
		WillReturnRows(rows)

	store := NewWithDB(db)
	token, err := store.RefreshTokens().FindByTokenHash(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("FindByTokenHash: %v", err)
	}
	if token.ID != "t1" || token.UserID != "u1" || token.RevokedAt != nil {
		t.Fatalf("unexpected token: %+v", token)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
