package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"companyauth.org/internal/audit"
	"companyauth.org/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type permissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Module      string `json:"module"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.catalog.ListRoles(r.Context())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.catalog.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), audit.EventRoleCreated,
		slog.Int64("role_id", role.ID),
		slog.String("name", role.Name),
	)
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%d", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.catalog.GetRole(r.Context(), id)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perms, err := a.engine.PermissionsForRole(r.Context(), id)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"role_id": id, "permissions": perms})
}

func (a *API) handleRoleHasPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	ok, err := a.engine.HasPermission(r.Context(), id, name)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role_id":    id,
		"permission": name,
		"granted":    ok,
	})
}

func (a *API) handleGrant(w http.ResponseWriter, r *http.Request) {
	roleID, permID, ok := a.grantPath(w, r)
	if !ok {
		return
	}
	grant, err := a.engine.Grant(r.Context(), roleID, permID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), audit.EventGrantCreated,
		slog.Int64("role_id", roleID),
		slog.Int64("permission_id", permID),
	)
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	roleID, permID, ok := a.grantPath(w, r)
	if !ok {
		return
	}
	if err := a.engine.Revoke(r.Context(), roleID, permID); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), audit.EventGrantRevoked,
		slog.Int64("role_id", roleID),
		slog.Int64("permission_id", permID),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) grantPath(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	roleID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	permID, err := pathID(r, "permissionID")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return roleID, permID, true
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.catalog.ListPermissions(r.Context())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.catalog.GetPermission(r.Context(), id)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.catalog.CreatePermission(r.Context(), auth.PermissionInput(req))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), audit.EventPermissionCreated,
		slog.Int64("permission_id", p.ID),
		slog.String("name", p.Name),
	)
	w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%d", p.ID))
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.catalog.UpdatePermission(r.Context(), id, auth.PermissionInput(req))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), audit.EventPermissionUpdated,
		slog.Int64("permission_id", p.ID),
		slog.String("name", p.Name),
	)
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.catalog.DeletePermission(r.Context(), id); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), audit.EventPermissionDeleted, slog.Int64("permission_id", id))
	w.WriteHeader(http.StatusNoContent)
}
