package identity

import "context"

// AccountStore persists accounts. Read methods only return live rows;
// soft-deleted accounts behave as missing.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
}

// RoleStore reads the role catalog.
type RoleStore interface {
	FindByID(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name RoleName) (*Role, error)
	List(ctx context.Context) ([]Role, error)
}

// AssignmentStore persists account-to-role grants.
type AssignmentStore interface {
	Create(ctx context.Context, assignment *RoleAssignment) error
	FindByUser(ctx context.Context, userID string) ([]RoleAssignment, error)
	FindByRole(ctx context.Context, roleID string) ([]RoleAssignment, error)
	FindByUserAndRole(ctx context.Context, userID, roleID string) (*RoleAssignment, error)
	// ActiveRoleNames resolves the effective role names for an account:
	// active, unexpired assignments joined to live, active roles.
	ActiveRoleNames(ctx context.Context, userID string) ([]RoleName, error)
	// DeactivateByUserAndRole flips the active assignment off and reports
	// whether one existed.
	DeactivateByUserAndRole(ctx context.Context, userID, roleID string) (bool, error)
	// DeactivateAllByUser flips every active assignment off and returns the
	// number affected.
	DeactivateAllByUser(ctx context.Context, userID string) (int64, error)
}

// TokenLedger persists refresh token rows keyed by token hash. It is the
// source of truth for revocation; embedded JWT state alone never grants a
// rotation.
type TokenLedger interface {
	Create(ctx context.Context, token *RefreshToken) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	FindByUser(ctx context.Context, userID string) ([]RefreshToken, error)
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllByUser(ctx context.Context, userID string) error
	// Rotate atomically revokes the row matching oldHash and inserts next.
	// It returns ErrTokenNotFound when no usable row matched, which makes
	// concurrent rotations of the same token single-winner.
	Rotate(ctx context.Context, oldHash string, next *RefreshToken) error
}

// Store bundles the four persistence surfaces behind one constructor-friendly
// interface.
type Store interface {
	Accounts() AccountStore
	Roles() RoleStore
	Assignments() AssignmentStore
	RefreshTokens() TokenLedger
}
