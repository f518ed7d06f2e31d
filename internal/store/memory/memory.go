// Package memory is an in-process identity.Store used by tests and local
// development. Semantics mirror the Postgres store, including single-winner
// token rotation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"idgate.org/internal/identity"
	"idgate.org/internal/ids"
)

type Store struct {
	mu          sync.Mutex
	accounts    map[string]*identity.Account
	roles       map[string]*identity.Role
	assignments map[string]*identity.RoleAssignment
	tokens      map[string]*identity.RefreshToken // keyed by token hash
	now         func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts:    make(map[string]*identity.Account),
		roles:       make(map[string]*identity.Role),
		assignments: make(map[string]*identity.RoleAssignment),
		tokens:      make(map[string]*identity.RefreshToken),
		now:         time.Now,
	}
}

// SetClock injects a clock for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Accounts() identity.AccountStore       { return accountStore{s} }
func (s *Store) Roles() identity.RoleStore             { return roleStore{s} }
func (s *Store) Assignments() identity.AssignmentStore { return assignmentStore{s} }
func (s *Store) RefreshTokens() identity.TokenLedger   { return tokenStore{s} }

// AddRole inserts a catalog row directly, bypassing validation. Test helper
// and seed hook.
func (s *Store) AddRole(role identity.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == "" {
		role.ID = ids.New()
	}
	s.roles[role.ID] = &role
}

// Bootstrap seeds the role catalog and, when adminPassword is non-empty, an
// active admin account holding SUPER_ADMIN.
func (s *Store) Bootstrap(hasher identity.PasswordHasher, adminPassword string) error {
	now := s.clock()().UTC()
	for _, name := range []identity.RoleName{identity.RoleSuperAdmin, identity.RoleAdmin, identity.RoleUser} {
		if _, err := s.Roles().FindByName(context.Background(), name); err == nil {
			continue
		}
		s.AddRole(identity.Role{
			Name:      name,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if adminPassword == "" {
		return nil
	}
	hash, err := hasher.Hash(adminPassword)
	if err != nil {
		return err
	}
	admin := &identity.Account{
		ID:           uuid.NewString(),
		Email:        "admin@example.com",
		Name:         "Administrator",
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Accounts().Create(context.Background(), admin); err != nil {
		return err
	}
	super, err := s.Roles().FindByName(context.Background(), identity.RoleSuperAdmin)
	if err != nil {
		return err
	}
	return s.Assignments().Create(context.Background(), &identity.RoleAssignment{
		ID:         ids.New(),
		UserID:     admin.ID,
		RoleID:     super.ID,
		Active:     true,
		AssignedAt: now,
	})
}

// UpdateAccount mutates a stored account in place. Test and seed hook; the
// service layer has no account update surface.
func (s *Store) UpdateAccount(id string, mutate func(*identity.Account)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return false
	}
	mutate(account)
	return true
}

func (s *Store) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}

type accountStore struct{ s *Store }

func (a accountStore) Create(_ context.Context, account *identity.Account) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, existing := range a.s.accounts {
		if existing.Email == account.Email && existing.Live() {
			return identity.ErrConflict
		}
	}
	if _, ok := a.s.accounts[account.ID]; ok {
		return identity.ErrConflict
	}
	clone := *account
	a.s.accounts[account.ID] = &clone
	return nil
}

func (a accountStore) FindByID(_ context.Context, id string) (*identity.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	account, ok := a.s.accounts[id]
	if !ok || !account.Live() {
		return nil, identity.ErrNotFound
	}
	clone := *account
	return &clone, nil
}

func (a accountStore) FindByEmail(_ context.Context, email string) (*identity.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, account := range a.s.accounts {
		if account.Email == email && account.Live() {
			clone := *account
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

type roleStore struct{ s *Store }

func (r roleStore) FindByID(_ context.Context, id string) (*identity.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok || role.DeletedAt != nil {
		return nil, identity.ErrNotFound
	}
	clone := *role
	return &clone, nil
}

func (r roleStore) FindByName(_ context.Context, name identity.RoleName) (*identity.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, role := range r.s.roles {
		if role.Name == name && role.DeletedAt == nil {
			clone := *role
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (r roleStore) List(_ context.Context) ([]identity.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]identity.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		if role.DeletedAt != nil {
			continue
		}
		out = append(out, *role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type assignmentStore struct{ s *Store }

func (a assignmentStore) Create(_ context.Context, assignment *identity.RoleAssignment) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, existing := range a.s.assignments {
		if existing.UserID == assignment.UserID && existing.RoleID == assignment.RoleID && existing.Active {
			return identity.ErrConflict
		}
	}
	clone := *assignment
	a.s.assignments[assignment.ID] = &clone
	return nil
}

func (a assignmentStore) FindByUser(_ context.Context, userID string) ([]identity.RoleAssignment, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []identity.RoleAssignment
	for _, assignment := range a.s.assignments {
		if assignment.UserID == userID {
			out = append(out, *assignment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	return out, nil
}

func (a assignmentStore) FindByRole(_ context.Context, roleID string) ([]identity.RoleAssignment, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []identity.RoleAssignment
	for _, assignment := range a.s.assignments {
		if assignment.RoleID == roleID {
			out = append(out, *assignment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	return out, nil
}

func (a assignmentStore) FindByUserAndRole(_ context.Context, userID, roleID string) (*identity.RoleAssignment, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, assignment := range a.s.assignments {
		if assignment.UserID == userID && assignment.RoleID == roleID && assignment.Active {
			clone := *assignment
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (a assignmentStore) ActiveRoleNames(_ context.Context, userID string) ([]identity.RoleName, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	now := a.s.clock()().UTC()
	seen := make(map[identity.RoleName]struct{})
	var out []identity.RoleName
	for _, assignment := range a.s.assignments {
		if assignment.UserID != userID || !assignment.Effective(now) {
			continue
		}
		role, ok := a.s.roles[assignment.RoleID]
		if !ok || !role.Grants() {
			continue
		}
		if _, dup := seen[role.Name]; dup {
			continue
		}
		seen[role.Name] = struct{}{}
		out = append(out, role.Name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (a assignmentStore) DeactivateByUserAndRole(_ context.Context, userID, roleID string) (bool, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	found := false
	for _, assignment := range a.s.assignments {
		if assignment.UserID == userID && assignment.RoleID == roleID && assignment.Active {
			assignment.Active = false
			found = true
		}
	}
	return found, nil
}

func (a assignmentStore) DeactivateAllByUser(_ context.Context, userID string) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var n int64
	for _, assignment := range a.s.assignments {
		if assignment.UserID == userID && assignment.Active {
			assignment.Active = false
			n++
		}
	}
	return n, nil
}

type tokenStore struct{ s *Store }

func (t tokenStore) Create(_ context.Context, token *identity.RefreshToken) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.tokens[token.TokenHash]; ok {
		return identity.ErrConflict
	}
	clone := *token
	t.s.tokens[token.TokenHash] = &clone
	return nil
}

func (t tokenStore) FindByTokenHash(_ context.Context, tokenHash string) (*identity.RefreshToken, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	token, ok := t.s.tokens[tokenHash]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *token
	return &clone, nil
}

func (t tokenStore) FindByUser(_ context.Context, userID string) ([]identity.RefreshToken, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	now := t.s.clock()().UTC()
	var out []identity.RefreshToken
	for _, token := range t.s.tokens {
		if token.UserID == userID && token.Usable(now) {
			out = append(out, *token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (t tokenStore) RevokeByTokenHash(_ context.Context, tokenHash string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	token, ok := t.s.tokens[tokenHash]
	if !ok {
		return identity.ErrNotFound
	}
	if token.RevokedAt == nil {
		now := t.s.clock()().UTC()
		token.RevokedAt = &now
	}
	return nil
}

func (t tokenStore) RevokeAllByUser(_ context.Context, userID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	now := t.s.clock()().UTC()
	for _, token := range t.s.tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			revoked := now
			token.RevokedAt = &revoked
		}
	}
	return nil
}

// Rotate revokes the old row and inserts the replacement while holding the
// store lock, so exactly one of any set of racing callers succeeds.
func (t tokenStore) Rotate(_ context.Context, oldHash string, next *identity.RefreshToken) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	now := t.s.clock()().UTC()
	old, ok := t.s.tokens[oldHash]
	if !ok || !old.Usable(now) {
		return identity.ErrTokenNotFound
	}
	revoked := now
	old.RevokedAt = &revoked
	clone := *next
	t.s.tokens[next.TokenHash] = &clone
	return nil
}
