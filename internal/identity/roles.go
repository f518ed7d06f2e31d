package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"idgate.org/internal/ids"
)

// RoleService manages role grants. Grant checks are name-based and always
// re-evaluate assignment expiry against the current clock.
type RoleService struct {
	store Store
	audit Auditor
	now   func() time.Time
}

// RoleOption customizes a RoleService.
type RoleOption func(*RoleService) error

// WithRoleAuditor sets the audit sink for role changes.
func WithRoleAuditor(a Auditor) RoleOption {
	return func(s *RoleService) error {
		if a == nil {
			return errors.New("auditor is nil")
		}
		s.audit = a
		return nil
	}
}

// WithRoleClock injects a clock for tests.
func WithRoleClock(now func() time.Time) RoleOption {
	return func(s *RoleService) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		s.now = now
		return nil
	}
}

// NewRoleService wires the service.
func NewRoleService(store Store, opts ...RoleOption) (*RoleService, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	s := &RoleService{store: store, audit: NopAuditor{}, now: time.Now}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Assign grants a role to an account. A second effective grant of the same
// role is rejected; an expired or deactivated one is superseded by a new row.
func (s *RoleService) Assign(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (*RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return nil, fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	now := s.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}

	account, err := s.store.Accounts().FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	role, err := s.store.Roles().FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	if !role.Grants() {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}

	existing, err := s.store.Assignments().FindByUserAndRole(ctx, userID, roleID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	if existing != nil {
		if existing.Effective(now) {
			return nil, ErrDuplicateAssignment
		}
		// An expired grant still carries the active flag; no sweeper flips
		// it. Retire the row here or its uniqueness hold blocks the insert.
		if _, err := s.store.Assignments().DeactivateByUserAndRole(ctx, userID, roleID); err != nil {
			return nil, fmt.Errorf("retire expired assignment: %w", err)
		}
	}

	assignment := &RoleAssignment{
		ID:         ids.New(),
		UserID:     account.ID,
		RoleID:     role.ID,
		Active:     true,
		AssignedAt: now,
		AssignedBy: strings.TrimSpace(assignedBy),
		ExpiresAt:  expiresAt,
	}
	if err := s.store.Assignments().Create(ctx, assignment); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrDuplicateAssignment
		}
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	s.audit.Event(ctx, "role.assigned", map[string]any{
		"user_id": account.ID,
		"role_id": role.ID,
		"role":    string(role.Name),
	})
	return assignment, nil
}

// Remove revokes one role grant. Missing grants are reported as ErrNotFound;
// the assignment row itself survives deactivated.
func (s *RoleService) Remove(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	ok, err := s.store.Assignments().DeactivateByUserAndRole(ctx, userID, roleID)
	if err != nil {
		return fmt.Errorf("deactivate assignment: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: assignment", ErrNotFound)
	}
	s.audit.Event(ctx, "role.removed", map[string]any{"user_id": userID, "role_id": roleID})
	return nil
}

// RemoveAll revokes every role grant for an account and returns how many
// were active.
func (s *RoleService) RemoveAll(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	n, err := s.store.Assignments().DeactivateAllByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivate assignments: %w", err)
	}
	s.audit.Event(ctx, "role.removed_all", map[string]any{"user_id": userID, "count": n})
	return n, nil
}

// AssignmentsFor lists every assignment row for an account, including
// deactivated and expired ones.
func (s *RoleService) AssignmentsFor(ctx context.Context, userID string) ([]RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Assignments().FindByUser(ctx, userID)
}

// UsersForRole lists the assignment rows of one role.
func (s *RoleService) UsersForRole(ctx context.Context, roleID string) ([]RoleAssignment, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if _, err := s.store.Roles().FindByID(ctx, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	return s.store.Assignments().FindByRole(ctx, roleID)
}

// HasRole reports whether an account currently holds a role. The expiry is
// re-checked here so a stale active flag cannot extend a grant.
func (s *RoleService) HasRole(ctx context.Context, userID, roleID string) (bool, error) {
	assignment, err := s.store.Assignments().FindByUserAndRole(ctx, userID, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find assignment: %w", err)
	}
	return assignment.Effective(s.now().UTC()), nil
}

// ActiveRoles resolves the effective role names for an account.
func (s *RoleService) ActiveRoles(ctx context.Context, userID string) ([]RoleName, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Assignments().ActiveRoleNames(ctx, userID)
}

// Roles lists the role catalog.
func (s *RoleService) Roles(ctx context.Context) ([]Role, error) {
	return s.store.Roles().List(ctx)
}
