package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"companyauth.org/internal/audit"
	"companyauth.org/internal/auth"
)

type userRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	RoleID    int64  `json:"role_id"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.ListUsers(r.Context())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleGetUser lets any caller read their own profile; other profiles
// need ViewUsers.
func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if id != callerID(r) {
		claims, _ := auth.ClaimsFromContext(r.Context())
		if err := a.engine.Authorize(claims, auth.PolicyViewUsers); err != nil {
			_ = a.audit.Record(r.Context(), audit.EventAccessDenied,
				slog.String("policy", auth.PolicyViewUsers.Name),
				slog.Int64("user_id", id),
			)
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
	}
	u, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.authorizeAssignment(w, r, 0, req.RoleID) {
		return
	}
	u, err := a.svc.Register(r.Context(), auth.Registration(req))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), audit.EventUserCreated,
		slog.Int64("user_id", u.ID),
		slog.String("role", u.Role),
	)
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%d", u.ID))
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	current, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if !a.authorizeAssignment(w, r, current.RoleID, req.RoleID) {
		return
	}
	u, err := a.svc.UpdateUser(r.Context(), id, auth.UserUpdate(req))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), audit.EventUserUpdated,
		slog.Int64("user_id", u.ID),
		slog.Bool("password_changed", req.Password != ""),
	)
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if id == callerID(r) {
		writeError(w, r, http.StatusConflict, "cannot delete the authenticated user")
		return
	}
	current, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if !a.authorizeAssignment(w, r, current.RoleID, 0) {
		return
	}
	if err := a.svc.DeleteUser(r.Context(), id); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), audit.EventUserDeleted, slog.Int64("user_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// authorizeAssignment writes the response and reports false when the caller
// may not move a user out of role current or into role target.
func (a *API) authorizeAssignment(w http.ResponseWriter, r *http.Request, current, target int64) bool {
	claims, _ := auth.ClaimsFromContext(r.Context())
	err := a.engine.AuthorizeRoleAssignment(r.Context(), claims, current, target)
	switch {
	case err == nil:
		return true
	case errors.Is(err, auth.ErrForbidden):
		_ = a.audit.Record(r.Context(), audit.EventAccessDenied,
			slog.String("policy", auth.PolicyAdminister.Name),
			slog.Int64("current_role_id", current),
			slog.Int64("target_role_id", target),
		)
	}
	a.handleAuthError(w, r, err)
	return false
}
