package identity

import "errors"

// Sentinel errors returned by the session manager, role service and stores.
// Transport layers map them onto status codes; everything else is treated as
// an internal failure.
var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password so the two are indistinguishable to a caller.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")

	// ErrAccountInactive covers deactivated, soft-deleted and missing
	// accounts encountered after authentication has started.
	ErrAccountInactive = errors.New("identity: account inactive")

	ErrEmailInUse = errors.New("identity: email already registered")

	ErrTokenInvalid  = errors.New("identity: token invalid")
	ErrTokenExpired  = errors.New("identity: token expired")
	ErrTokenNotFound = errors.New("identity: token not recognized")

	ErrDuplicateAssignment = errors.New("identity: role already assigned")

	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: already exists")
	ErrInvalidInput = errors.New("identity: invalid input")
)
