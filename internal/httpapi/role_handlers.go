package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"idgate.org/internal/identity"
)

type assignRoleRequest struct {
	UserID    string     `json:"user_id"`
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	roles, err := a.roles.Roles(r.Context())
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "users" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	assignments, err := a.roles.UsersForRole(r.Context(), parts[0])
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": assignments})
}

func (a *API) handleAssignmentsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assignment, err := a.roles.Assign(r.Context(), req.UserID, req.RoleID,
		identity.ActorFromContext(r.Context()), req.ExpiresAt)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/user-roles/%s/%s", assignment.UserID, assignment.RoleID))
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleAssignmentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/user-roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch len(parts) {
	case 1:
		a.handleUserAssignments(w, r, parts[0])
	case 2:
		a.handleUserRole(w, r, parts[0], parts[1])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserAssignments(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		assignments, err := a.roles.AssignmentsFor(r.Context(), userID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": assignments})
	case http.MethodDelete:
		n, err := a.roles.RemoveAll(r.Context(), userID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": n})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.roles.Remove(r.Context(), userID, roleID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
}
