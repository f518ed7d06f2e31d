package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"idgate.org/internal/identity"
)

func claimsContext(r *http.Request, subject string, roles ...string) *http.Request {
	claims := &identity.AccessClaims{
		Roles:            roles,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}
	return r.WithContext(identity.ContextWithClaims(r.Context(), claims))
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole(identity.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = claimsContext(req, "user-1", "ADMIN")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole(identity.RoleAdmin, identity.RoleSuperAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = claimsContext(req, "user-1", "USER")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}

	var body struct {
		RequiredRoles []string `json:"required_roles"`
		UserRoles     []string `json:"user_roles"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode 403 body: %v", err)
	}
	if len(body.RequiredRoles) != 2 || body.RequiredRoles[0] != "ADMIN" {
		t.Fatalf("required_roles=%v", body.RequiredRoles)
	}
	if len(body.UserRoles) != 1 || body.UserRoles[0] != "USER" {
		t.Fatalf("user_roles=%v", body.UserRoles)
	}
}

func TestRequireRoleRejectsAnonymous(t *testing.T) {
	handler := RequireRole(identity.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestOptionalAuthenticate(t *testing.T) {
	codec, err := identity.NewCodec("test-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	api := New(Config{Codec: codec})

	var (
		sawClaims bool
		subject   string
	)
	handler := api.optionalAuthenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var claims *identity.AccessClaims
		claims, sawClaims = identity.ClaimsFromContext(r.Context())
		if sawClaims {
			subject = claims.Subject
		}
		w.WriteHeader(http.StatusOK)
	}))

	// Anonymous requests pass through untouched.
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/info", nil))
	if rr.Code != http.StatusOK || sawClaims {
		t.Fatalf("anonymous: code=%d sawClaims=%v", rr.Code, sawClaims)
	}

	// Garbage tokens do not block the request either.
	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || sawClaims {
		t.Fatalf("garbage token: code=%d sawClaims=%v", rr.Code, sawClaims)
	}

	// A valid token attaches its claims.
	account := &identity.Account{ID: "user-7", Email: "g@example.com", Name: "G", Active: true}
	token, _, err := codec.IssueAccess(account, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !sawClaims || subject != "user-7" {
		t.Fatalf("valid token: code=%d sawClaims=%v subject=%q", rr.Code, sawClaims, subject)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc123", "abc123", true},
		{"bearer abc123", "abc123", true},
		{"Bearer   abc123  ", "abc123", true},
		{"", "", false},
		{"Basic abc123", "", false},
		{"Bearer ", "", false},
	}
	for _, tc := range cases {
		token, err := extractBearerToken(tc.header)
		if tc.ok && (err != nil || token != tc.token) {
			t.Fatalf("extractBearerToken(%q)=%q,%v", tc.header, token, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("extractBearerToken(%q): expected error", tc.header)
		}
	}
}
