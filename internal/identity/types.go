// Package identity implements credential authentication, token issuance and
// rotation, and role-based authorization on top of a pluggable store.
package identity

import "time"

// RoleName is the closed catalog of role identifiers. Authorization decisions
// compare names, not role row ids.
type RoleName string

const (
	RoleSuperAdmin RoleName = "SUPER_ADMIN"
	RoleAdmin      RoleName = "ADMIN"
	RoleUser       RoleName = "USER"
)

// Valid reports whether the name belongs to the catalog.
func (n RoleName) Valid() bool {
	switch n {
	case RoleSuperAdmin, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// Account is a credentialed principal. PasswordHash never leaves the package
// boundary; handlers expose View instead.
type Account struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Live reports whether the account has not been soft-deleted.
func (a *Account) Live() bool { return a.DeletedAt == nil }

// CanAuthenticate reports whether the account may hold a session.
func (a *Account) CanAuthenticate() bool { return a.Live() && a.Active }

// View is the redacted account shape returned to clients.
type View struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Active bool     `json:"active"`
	Roles  []string `json:"roles"`
}

// View redacts the account and attaches the resolved role names.
func (a *Account) View(roles []RoleName) View {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	return View{ID: a.ID, Email: a.Email, Name: a.Name, Active: a.Active, Roles: names}
}

// Role is a catalog row. Rows are soft-deleted and deactivated rather than
// removed so historical assignments keep their foreign keys.
type Role struct {
	ID          string     `json:"id"`
	Name        RoleName   `json:"name"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Grants reports whether the role currently confers authority.
func (r *Role) Grants() bool { return r.DeletedAt == nil && r.Active }

// RoleAssignment links an account to a role. Revocation flips Active rather
// than deleting the row, preserving who granted what and when.
type RoleAssignment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	Active     bool       `json:"active"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the assignment's optional expiry has passed.
func (a *RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// Effective reports whether the assignment confers the role at the given
// instant. Expiry is checked here regardless of the Active flag, so an
// expired assignment stops granting even before any sweeper flips it.
func (a *RoleAssignment) Effective(now time.Time) bool {
	return a.Active && !a.Expired(now)
}

// RefreshToken is the ledger row for one issued refresh token. Only the
// SHA-256 hash of the token string is stored.
type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Expired reports whether the ledger row's own expiry has passed. This is
// independent of the embedded JWT expiry and is trusted over it.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Usable reports whether the row may still be rotated.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && !t.Expired(now)
}

// Session is the result of a successful login, registration or refresh.
type Session struct {
	Account          View      `json:"user"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
