package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"idgate.org/internal/identity"
	"idgate.org/internal/store/memory"
)

type sessionKit struct {
	store *memory.Store
	mgr   *identity.SessionManager
	roles *identity.RoleService
	now   time.Time
	mu    sync.Mutex
}

func (k *sessionKit) clock() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

func (k *sessionKit) advance(d time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.now = k.now.Add(d)
}

func newSessionKit(t *testing.T) *sessionKit {
	t.Helper()
	kit := &sessionKit{
		store: memory.New(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	kit.store.SetClock(kit.clock)
	hasher := identity.NewBcryptHasher(bcrypt.MinCost)
	if err := kit.store.Bootstrap(hasher, ""); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	codec, err := identity.NewCodec("test-secret",
		identity.WithRefreshSecret("test-refresh-secret"),
		identity.WithAccessTTL(15*time.Minute),
		identity.WithRefreshTTL(7*24*time.Hour),
		identity.WithCodecClock(kit.clock),
	)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	mgr, err := identity.NewSessionManager(kit.store, hasher, codec,
		identity.WithSessionClock(kit.clock),
	)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	roles, err := identity.NewRoleService(kit.store, identity.WithRoleClock(kit.clock))
	if err != nil {
		t.Fatalf("NewRoleService: %v", err)
	}
	kit.mgr = mgr
	kit.roles = roles
	return kit
}

func (k *sessionKit) register(t *testing.T, email, password string) identity.Session {
	t.Helper()
	session, err := k.mgr.Register(context.Background(), email, "Test User", password)
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return session
}

func TestLoginReturnsSessionWithRoles(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	session := kit.register(t, "alice@example.com", "password-123")

	role, err := kit.store.Roles().FindByName(ctx, identity.RoleAdmin)
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if _, err := kit.roles.Assign(ctx, session.Account.ID, role.ID, "", nil); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	got, err := kit.mgr.Login(ctx, "Alice@Example.com", "password-123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.Account.Email != "alice@example.com" {
		t.Fatalf("email=%q", got.Account.Email)
	}
	if len(got.Account.Roles) != 1 || got.Account.Roles[0] != "ADMIN" {
		t.Fatalf("roles=%v, want [ADMIN]", got.Account.Roles)
	}
	if got.AccessToken == "" || got.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if got.AccessToken == got.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	kit.register(t, "bob@example.com", "password-123")

	if _, err := kit.mgr.Login(ctx, "nobody@example.com", "password-123"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("unknown email err=%v, want ErrInvalidCredentials", err)
	}
	if _, err := kit.mgr.Login(ctx, "bob@example.com", "wrong-password"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("wrong password err=%v, want ErrInvalidCredentials", err)
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	session := kit.register(t, "carol@example.com", "password-123")

	kit.store.UpdateAccount(session.Account.ID, func(a *identity.Account) { a.Active = false })
	if _, err := kit.mgr.Login(ctx, "carol@example.com", "password-123"); !errors.Is(err, identity.ErrAccountInactive) {
		t.Fatalf("err=%v, want ErrAccountInactive", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	cases := []struct {
		name, email, display, password string
	}{
		{"bad email", "not-an-email", "X", "password-123"},
		{"empty name", "x@example.com", "  ", "password-123"},
		{"short password", "x@example.com", "X", "short"},
	}
	for _, tc := range cases {
		if _, err := kit.mgr.Register(ctx, tc.email, tc.display, tc.password); !errors.Is(err, identity.ErrInvalidInput) {
			t.Fatalf("%s: err=%v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	kit.register(t, "dave@example.com", "password-123")
	if _, err := kit.mgr.Register(ctx, "Dave@Example.com", "Dave", "password-123"); !errors.Is(err, identity.ErrEmailInUse) {
		t.Fatalf("err=%v, want ErrEmailInUse", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	session := kit.register(t, "erin@example.com", "password-123")

	rotated, err := kit.mgr.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Fatal("refresh must return a new token")
	}

	// The spent token is revoked and must not rotate again.
	if _, err := kit.mgr.Refresh(ctx, session.RefreshToken); !errors.Is(err, identity.ErrTokenNotFound) {
		t.Fatalf("replay err=%v, want ErrTokenNotFound", err)
	}

	// The replacement still works.
	if _, err := kit.mgr.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("Refresh(rotated): %v", err)
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	session := kit.register(t, "frank@example.com", "password-123")

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = kit.mgr.Refresh(ctx, session.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, identity.ErrTokenNotFound):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners=%d, want exactly 1", wins)
	}
}

func TestRefreshExpiredLedgerRow(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	session := kit.register(t, "gina@example.com", "password-123")

	kit.advance(8 * 24 * time.Hour)
	if _, err := kit.mgr.Refresh(ctx, session.RefreshToken); !errors.Is(err, identity.ErrTokenExpired) {
		t.Fatalf("err=%v, want ErrTokenExpired", err)
	}
}

func TestRefreshInactiveAccount(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	session := kit.register(t, "hank@example.com", "password-123")

	kit.store.UpdateAccount(session.Account.ID, func(a *identity.Account) { a.Active = false })
	if _, err := kit.mgr.Refresh(ctx, session.RefreshToken); !errors.Is(err, identity.ErrAccountInactive) {
		t.Fatalf("err=%v, want ErrAccountInactive", err)
	}
}

func TestRefreshRejectsForeignToken(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()

	// Signed by someone with a different refresh secret, never in the ledger.
	foreign, err := identity.NewCodec("test-secret", identity.WithRefreshSecret("other-secret"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	token, _, err := foreign.IssueRefresh("u1", "t1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := kit.mgr.Refresh(ctx, token); !errors.Is(err, identity.ErrTokenInvalid) {
		t.Fatalf("err=%v, want ErrTokenInvalid", err)
	}
}

func TestLogoutSingleToken(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	first := kit.register(t, "iris@example.com", "password-123")
	second, err := kit.mgr.Login(ctx, "iris@example.com", "password-123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := kit.mgr.Logout(ctx, first.Account.ID, first.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := kit.mgr.Refresh(ctx, first.RefreshToken); !errors.Is(err, identity.ErrTokenNotFound) {
		t.Fatalf("revoked token err=%v, want ErrTokenNotFound", err)
	}
	// The other session is untouched.
	if _, err := kit.mgr.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("Refresh(second): %v", err)
	}
}

func TestLogoutAllTokens(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	first := kit.register(t, "jack@example.com", "password-123")
	second, err := kit.mgr.Login(ctx, "jack@example.com", "password-123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := kit.mgr.Logout(ctx, first.Account.ID, ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := kit.mgr.Refresh(ctx, token); !errors.Is(err, identity.ErrTokenNotFound) {
			t.Fatalf("err=%v, want ErrTokenNotFound", err)
		}
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	session := kit.register(t, "kate@example.com", "password-123")

	for i := 0; i < 3; i++ {
		if err := kit.mgr.Logout(ctx, session.Account.ID, session.RefreshToken); err != nil {
			t.Fatalf("Logout #%d: %v", i+1, err)
		}
	}
	if err := kit.mgr.Logout(ctx, session.Account.ID, "never-issued"); err != nil {
		t.Fatalf("Logout(unknown): %v", err)
	}
}

func TestSessionsListsLedgerRows(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	session := kit.register(t, "liam@example.com", "password-123")
	if _, err := kit.mgr.Login(ctx, "liam@example.com", "password-123"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	tokens, err := kit.mgr.Sessions(ctx, session.Account.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("len=%d, want 2", len(tokens))
	}
	for _, token := range tokens {
		if token.TokenHash != "" {
			t.Fatal("token hash must not be exposed on listings")
		}
	}
}

func TestSessionsOmitRevokedAndExpiredTokens(t *testing.T) {
	kit := newSessionKit(t)
	ctx := context.Background()
	session := kit.register(t, "mia@example.com", "password-123")

	// Rotation revokes the presented token; only its replacement is a session.
	rotated, err := kit.mgr.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	tokens, err := kit.mgr.Sessions(ctx, session.Account.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("len=%d, want 1", len(tokens))
	}
	if tokens[0].RevokedAt != nil {
		t.Fatal("revoked token listed as a session")
	}

	if err := kit.mgr.Logout(ctx, session.Account.ID, rotated.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	tokens, err = kit.mgr.Sessions(ctx, session.Account.ID)
	if err != nil {
		t.Fatalf("Sessions after logout: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("len=%d, want 0", len(tokens))
	}

	// Expired rows drop out without any revocation.
	if _, err := kit.mgr.Login(ctx, "mia@example.com", "password-123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	kit.advance(8 * 24 * time.Hour)
	tokens, err = kit.mgr.Sessions(ctx, session.Account.ID)
	if err != nil {
		t.Fatalf("Sessions after expiry: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("len=%d, want 0", len(tokens))
	}
}
