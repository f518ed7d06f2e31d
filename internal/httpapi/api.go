// Package httpapi is the HTTP surface: authentication endpoints, role
// administration, operational probes and the live event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
	"idgate.org/internal/stream"
)

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe struct {
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Ping == nil {
		return nil
	}
	return rp.Ping(ctx)
}

// Config carries the API's collaborators and tunables.
type Config struct {
	Version       string
	Ready         ReadyProbe
	Sessions      *identity.SessionManager
	Roles         *identity.RoleService
	Codec         *identity.Codec
	Events        *stream.Stream
	MaxBodyBytes  int64
	RateBurst     int
	RatePerSecond float64
}

// API is the HTTP layer.
type API struct {
	mux           *http.ServeMux
	readyProbe    ReadyProbe
	version       string
	sessions      *identity.SessionManager
	roles         *identity.RoleService
	codec         *identity.Codec
	events        *stream.Stream
	maxBodyBytes  int64
	rateBurst     int
	ratePerSecond float64
}

func New(cfg Config) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    cfg.Ready,
		version:       cfg.Version,
		sessions:      cfg.Sessions,
		roles:         cfg.Roles,
		codec:         cfg.Codec,
		events:        cfg.Events,
		maxBodyBytes:  cfg.MaxBodyBytes,
		rateBurst:     cfg.RateBurst,
		ratePerSecond: cfg.RatePerSecond,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 100
	}
	if a.ratePerSecond <= 0 {
		a.ratePerSecond = 50
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/v1/info", a.optionalAuthenticate(http.HandlerFunc(a.Info)))

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// Session lifecycle
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.Handle("/v1/auth/logout", a.authenticate(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/v1/auth/sessions", a.authenticate(http.HandlerFunc(a.handleSessions)))

	// Role administration
	admin := func(h http.HandlerFunc) http.Handler {
		return a.authenticate(RequireRole(identity.RoleAdmin, identity.RoleSuperAdmin)(h))
	}
	a.mux.Handle("/v1/roles", admin(a.handleRolesCollection))
	a.mux.Handle("/v1/roles/", admin(a.handleRoleResource))
	a.mux.Handle("/v1/user-roles", admin(a.handleAssignmentsCollection))
	a.mux.Handle("/v1/user-roles/", admin(a.handleAssignmentResource))

	// Live security events
	a.mux.Handle("/v1/events", admin(a.Stream))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wires the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, int(a.ratePerSecond))
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "idgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Info answers anonymously but names the caller when a valid bearer token
// rides along.
func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"name":    "idgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if claims, ok := identity.ClaimsFromContext(r.Context()); ok {
		payload["user_id"] = claims.Subject
	}
	writeJSON(w, http.StatusOK, payload)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, identity.ErrTokenInvalid),
		errors.Is(err, identity.ErrTokenExpired),
		errors.Is(err, identity.ErrTokenNotFound):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, identity.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account is inactive")
	case errors.Is(err, identity.ErrEmailInUse):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, identity.ErrDuplicateAssignment):
		writeError(w, r, http.StatusConflict, "role already assigned")
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
