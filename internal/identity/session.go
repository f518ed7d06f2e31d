package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const minPasswordLength = 8

// SessionManager drives the credential and token lifecycle: login, register,
// rotation and logout. It owns no storage or crypto itself; everything is
// injected.
type SessionManager struct {
	store     Store
	hasher    PasswordHasher
	codec     *Codec
	audit     Auditor
	now       func() time.Time
	dummyHash string
}

// SessionOption customizes a SessionManager.
type SessionOption func(*SessionManager) error

// WithAuditor sets the audit sink for session events.
func WithAuditor(a Auditor) SessionOption {
	return func(m *SessionManager) error {
		if a == nil {
			return errors.New("auditor is nil")
		}
		m.audit = a
		return nil
	}
}

// WithSessionClock injects a clock for tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		m.now = now
		return nil
	}
}

// NewSessionManager wires the manager. A dummy password hash is prepared up
// front so logins against unknown emails still burn a real compare.
func NewSessionManager(store Store, hasher PasswordHasher, codec *Codec, opts ...SessionOption) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	m := &SessionManager{
		store:  store,
		hasher: hasher,
		codec:  codec,
		audit:  NopAuditor{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	m.dummyHash = dummy
	return m, nil
}

// Login authenticates the credentials and opens a new session. Unknown email
// and wrong password are indistinguishable to the caller.
func (m *SessionManager) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		_ = m.hasher.Compare(m.dummyHash, password)
		return Session{}, ErrInvalidCredentials
	}
	account, err := m.store.Accounts().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = m.hasher.Compare(m.dummyHash, password)
			m.audit.Event(ctx, "session.login_denied", map[string]any{"email": email, "reason": "unknown"})
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("find account: %w", err)
	}
	if err := m.hasher.Compare(account.PasswordHash, password); err != nil {
		m.audit.Event(ctx, "session.login_denied", map[string]any{"user_id": account.ID, "reason": "password"})
		return Session{}, ErrInvalidCredentials
	}
	if !account.CanAuthenticate() {
		m.audit.Event(ctx, "session.login_denied", map[string]any{"user_id": account.ID, "reason": "inactive"})
		return Session{}, ErrAccountInactive
	}
	session, err := m.open(ctx, account)
	if err != nil {
		return Session{}, err
	}
	m.audit.Event(ctx, "session.login", map[string]any{"user_id": account.ID})
	return session, nil
}

// Register creates an account and opens its first session.
func (m *SessionManager) Register(ctx context.Context, email, name, password string) (Session, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	switch {
	case email == "" || !strings.Contains(email, "@"):
		return Session{}, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	case name == "":
		return Session{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case len(password) < minPasswordLength:
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	if _, err := m.store.Accounts().FindByEmail(ctx, email); err == nil {
		return Session{}, ErrEmailInUse
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, fmt.Errorf("find account: %w", err)
	}

	hash, err := m.hasher.Hash(password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := m.now().UTC()
	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Accounts().Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return Session{}, ErrEmailInUse
		}
		return Session{}, fmt.Errorf("create account: %w", err)
	}
	session, err := m.open(ctx, account)
	if err != nil {
		return Session{}, err
	}
	m.audit.Event(ctx, "session.register", map[string]any{"user_id": account.ID})
	return session, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// replacement issued in one atomic store operation, so a token rotates at
// most once no matter how many callers race on it.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := m.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return Session{}, err
	}
	oldHash := HashToken(refreshToken)
	record, err := m.store.RefreshTokens().FindByTokenHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrTokenNotFound
		}
		return Session{}, fmt.Errorf("find refresh token: %w", err)
	}
	if record.UserID != claims.Subject {
		return Session{}, ErrTokenInvalid
	}
	now := m.now().UTC()
	if record.RevokedAt != nil {
		m.audit.Event(ctx, "session.refresh_reuse", map[string]any{"user_id": record.UserID, "token_id": record.ID})
		return Session{}, ErrTokenNotFound
	}
	// The ledger expiry is authoritative even though the JWT carries its own.
	if record.Expired(now) {
		return Session{}, ErrTokenExpired
	}

	account, err := m.store.Accounts().FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrAccountInactive
		}
		return Session{}, fmt.Errorf("find account: %w", err)
	}
	if !account.CanAuthenticate() {
		return Session{}, ErrAccountInactive
	}

	nextID := uuid.NewString()
	nextToken, nextExpires, err := m.codec.IssueRefresh(account.ID, nextID)
	if err != nil {
		return Session{}, err
	}
	next := &RefreshToken{
		ID:        nextID,
		UserID:    account.ID,
		TokenHash: HashToken(nextToken),
		IssuedAt:  now,
		ExpiresAt: nextExpires,
	}
	if err := m.store.RefreshTokens().Rotate(ctx, oldHash, next); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTokenNotFound) {
			// Lost the race: another caller rotated this token first.
			return Session{}, ErrTokenNotFound
		}
		return Session{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	roles, err := m.store.Assignments().ActiveRoleNames(ctx, account.ID)
	if err != nil {
		return Session{}, fmt.Errorf("resolve roles: %w", err)
	}
	access, accessExpires, err := m.codec.IssueAccess(account, roles)
	if err != nil {
		return Session{}, err
	}
	m.audit.Event(ctx, "session.refresh", map[string]any{"user_id": account.ID, "token_id": nextID})
	return Session{
		Account:          account.View(roles),
		AccessToken:      access,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     nextToken,
		RefreshExpiresAt: nextExpires,
	}, nil
}

// Logout revokes one refresh token when given, or every token for the user
// otherwise. Revoking an already-revoked or unknown token is not an error.
func (m *SessionManager) Logout(ctx context.Context, userID, refreshToken string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if refreshToken != "" {
		err := m.store.RefreshTokens().RevokeByTokenHash(ctx, HashToken(refreshToken))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		m.audit.Event(ctx, "session.logout", map[string]any{"user_id": userID, "scope": "single"})
		return nil
	}
	if err := m.store.RefreshTokens().RevokeAllByUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	m.audit.Event(ctx, "session.logout", map[string]any{"user_id": userID, "scope": "all"})
	return nil
}

// Sessions lists the refresh token rows held for a user, most recent first.
func (m *SessionManager) Sessions(ctx context.Context, userID string) ([]RefreshToken, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	tokens, err := m.store.RefreshTokens().FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	// Hashes stay inside the store boundary.
	for i := range tokens {
		tokens[i].TokenHash = ""
	}
	return tokens, nil
}

// open resolves roles, persists a fresh refresh token and mints the pair.
func (m *SessionManager) open(ctx context.Context, account *Account) (Session, error) {
	roles, err := m.store.Assignments().ActiveRoleNames(ctx, account.ID)
	if err != nil {
		return Session{}, fmt.Errorf("resolve roles: %w", err)
	}
	tokenID := uuid.NewString()
	refresh, refreshExpires, err := m.codec.IssueRefresh(account.ID, tokenID)
	if err != nil {
		return Session{}, err
	}
	row := &RefreshToken{
		ID:        tokenID,
		UserID:    account.ID,
		TokenHash: HashToken(refresh),
		IssuedAt:  m.now().UTC(),
		ExpiresAt: refreshExpires,
	}
	if err := m.store.RefreshTokens().Create(ctx, row); err != nil {
		return Session{}, fmt.Errorf("persist refresh token: %w", err)
	}
	access, accessExpires, err := m.codec.IssueAccess(account, roles)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Account:          account.View(roles),
		AccessToken:      access,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpires,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
