package httpapi

import (
	"errors"
	"net/http"

	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	Everywhere   bool   `json:"everywhere"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.sessions.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrAccountInactive):
			obs.CountLogin("denied")
		default:
			obs.CountLogin("error")
		}
		handleIdentityError(w, r, err)
		return
	}
	obs.CountLogin("ok")
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrAccountInactive):
			// The token holder can no longer authenticate; respond exactly
			// as for a dead token.
			obs.CountRefresh("denied")
			unauthorized(w, r, "invalid or expired token")
		case errors.Is(err, identity.ErrTokenInvalid),
			errors.Is(err, identity.ErrTokenExpired),
			errors.Is(err, identity.ErrTokenNotFound):
			obs.CountRefresh("denied")
			handleIdentityError(w, r, err)
		default:
			obs.CountRefresh("error")
			handleIdentityError(w, r, err)
		}
		return
	}
	obs.CountRefresh("ok")
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := identity.ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		// No body means log out everywhere.
		req = logoutRequest{Everywhere: true}
	}
	token := req.RefreshToken
	if req.Everywhere {
		token = ""
	}
	if err := a.sessions.Logout(r.Context(), claims.Subject, token); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := identity.ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	tokens, err := a.sessions.Sessions(r.Context(), claims.Subject)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tokens})
}
