package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	defaultIssuer     = "idgate"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// AccessClaims is the payload of a short-lived bearer token. Roles are
// embedded so authorization checks need no store round-trip.
type AccessClaims struct {
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry the given role name.
func (c *AccessClaims) HasRole(name RoleName) bool {
	for _, r := range c.Roles {
		if RoleName(r) == name {
			return true
		}
	}
	return false
}

// RefreshClaims is the payload of a refresh token. ID doubles as the ledger
// row id so a verified token can be located without a table scan.
type RefreshClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Codec signs and verifies both token kinds with HS256. Separate secrets for
// access and refresh tokens keep a leaked access key from minting refreshes.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec) error

// WithRefreshSecret sets a dedicated refresh signing key. When unset the
// access secret is reused.
func WithRefreshSecret(secret string) CodecOption {
	return func(c *Codec) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("refresh secret is empty")
		}
		c.refreshSecret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) error {
		if strings.TrimSpace(issuer) == "" {
			return errors.New("issuer is empty")
		}
		c.issuer = issuer
		return nil
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl <= 0 {
			return errors.New("access ttl must be positive")
		}
		c.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl <= 0 {
			return errors.New("refresh ttl must be positive")
		}
		c.refreshTTL = ttl
		return nil
	}
}

// WithCodecClock injects a clock for tests.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *Codec) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		c.now = now
		return nil
	}
}

// NewCodec builds a Codec around the mandatory access signing key.
func NewCodec(accessSecret string, opts ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(accessSecret) == "" {
		return nil, errors.New("access secret is required")
	}
	c := &Codec{
		accessSecret: []byte(accessSecret),
		issuer:       defaultIssuer,
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.refreshSecret == nil {
		c.refreshSecret = c.accessSecret
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs an access token for the account with its current roles.
func (c *Codec) IssueAccess(account *Account, roles []RoleName) (string, time.Time, error) {
	if account == nil || strings.TrimSpace(account.ID) == "" {
		return "", time.Time{}, errors.New("account id is required")
	}
	now := c.now().UTC()
	expires := now.Add(c.accessTTL)
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	claims := AccessClaims{
		Email:     account.Email,
		Name:      account.Name,
		Roles:     names,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// IssueRefresh signs a refresh token whose jti is the ledger row id.
func (c *Codec) IssueRefresh(userID, tokenID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	if strings.TrimSpace(tokenID) == "" {
		return "", time.Time{}, errors.New("token id is required")
	}
	now := c.now().UTC()
	expires := now.Add(c.refreshTTL)
	claims := RefreshClaims{
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, expires, nil
}

// VerifyAccess validates signature, expiry, issuer and token type.
func (c *Codec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(token, c.accessSecret, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyRefresh validates signature, expiry, issuer and token type, and
// requires the jti the ledger is keyed by.
func (c *Codec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(token, c.refreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh || strings.TrimSpace(claims.ID) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (c *Codec) verify(token string, secret []byte, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	issuer, err := claims.GetIssuer()
	if err != nil || issuer != c.issuer {
		return ErrTokenInvalid
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return ErrTokenInvalid
	}
	return nil
}
