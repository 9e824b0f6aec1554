package httpapi

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
)

const minPasswordLength = 8

type roleInput struct {
	Role           string `json:"role"`
	OrganisationID string `json:"organisation_id,omitempty"`
	ServiceID      string `json:"service_id,omitempty"`
}

type createUserRequest struct {
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone"`
	Password  string      `json:"password"`
	Roles     []roleInput `json:"roles"`
}

type userResource struct {
	auth.User
	Roles []auth.Assignment `json:"roles"`
}

func (req createUserRequest) validate() *directory.ValidationError {
	v := &directory.ValidationError{}
	if strings.TrimSpace(req.FirstName) == "" {
		v.Add("first_name", "The first name field is required.")
	}
	if strings.TrimSpace(req.LastName) == "" {
		v.Add("last_name", "The last name field is required.")
	}
	email := strings.TrimSpace(req.Email)
	switch {
	case email == "":
		v.Add("email", "The email field is required.")
	case !strings.Contains(email, "@"):
		v.Add("email", "The email must be a valid email address.")
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		v.Add("password", "The password must be at least 8 characters.")
	}
	return v
}

// resolveAssignment turns a role request into an assignment, filling the
// owning organisation of service scoped roles.
func (a *API) resolveAssignment(ctx context.Context, userID string, in roleInput) (auth.Assignment, error) {
	role, err := auth.ParseRoleKind(in.Role)
	if err != nil {
		return auth.Assignment{}, directory.FieldError("role", "The selected role is invalid.")
	}
	asg := auth.Assignment{
		UserID:         userID,
		Role:           role,
		OrganisationID: strings.TrimSpace(in.OrganisationID),
		ServiceID:      strings.TrimSpace(in.ServiceID),
	}
	if asg.ServiceID != "" {
		svc, err := a.store.Service(ctx, asg.ServiceID)
		if err != nil {
			return auth.Assignment{}, directory.FieldError("service_id", "The selected service id is invalid.")
		}
		asg.OrganisationID = svc.OrganisationID
	} else if asg.OrganisationID != "" {
		if _, err := a.store.Organisation(ctx, asg.OrganisationID); err != nil {
			return auth.Assignment{}, directory.FieldError("organisation_id", "The selected organisation id is invalid.")
		}
	}
	if err := asg.Validate(); err != nil {
		return auth.Assignment{}, directory.FieldError("role", strings.TrimPrefix(err.Error(), "auth: invalid input: "))
	}
	return asg, nil
}

func assignmentTarget(asg auth.Assignment) auth.Target {
	switch {
	case asg.ServiceID != "":
		return auth.ServiceTarget(asg.OrganisationID, asg.ServiceID)
	case asg.OrganisationID != "":
		return auth.OrganisationTarget(asg.OrganisationID)
	}
	return auth.Target{}
}

// canGrant reports whether p may grant or revoke asg.
func canGrant(p *auth.Principal, asg auth.Assignment) bool {
	return auth.CanGrant(p.Roles(assignmentTarget(asg)), asg.Role)
}

func (a *API) loadUserResource(ctx context.Context, u auth.User) (userResource, error) {
	assignments, err := a.store.Assignments(ctx, u.ID)
	if err != nil {
		return userResource{}, err
	}
	if assignments == nil {
		assignments = []auth.Assignment{}
	}
	return userResource{User: u, Roles: assignments}, nil
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeAny(w, r, auth.ActionList, auth.EntityUsers); !ok {
		return
	}
	page, ok := a.page(w, r)
	if !ok {
		return
	}
	users, total, err := a.store.ListUsers(r.Context(), page)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityUsers), "", "listed users")
	writeList(w, users, total, page)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := a.authorizeAny(w, r, auth.ActionCreate, auth.EntityUsers)
	if !ok {
		return
	}
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v := req.validate()
	if email := strings.TrimSpace(req.Email); email != "" {
		taken, err := a.store.EmailTaken(r.Context(), email, "")
		if err != nil {
			handleStoreError(w, r, err)
			return
		}
		if taken {
			v.Add("email", directory.ErrEmailTaken)
		}
	}
	if !v.Empty() {
		writeValidation(w, v.Fields)
		return
	}

	assignments := make([]auth.Assignment, 0, len(req.Roles))
	for _, in := range req.Roles {
		asg, err := a.resolveAssignment(r.Context(), "", in)
		if err != nil {
			handleStoreError(w, r, err)
			return
		}
		if !canGrant(p, asg) {
			writeError(w, r, http.StatusForbidden, "you cannot grant "+string(asg.Role)+" here")
			return
		}
		assignments = append(assignments, asg)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	user, err := a.store.CreateUser(r.Context(), auth.User{
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	for _, asg := range assignments {
		asg.UserID = user.ID
		if err := a.store.GrantRole(r.Context(), asg); err != nil {
			handleStoreError(w, r, err)
			return
		}
	}
	res, err := a.loadUserResource(r.Context(), user)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionCreate, string(auth.EntityUsers), user.ID, "created user "+user.Email)
	w.Header().Set("Location", "/core/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, itemResponse{Data: res})
}

func (a *API) handleShowUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeAny(w, r, auth.ActionRead, auth.EntityUsers); !ok {
		return
	}
	user, err := a.store.User(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	res, err := a.loadUserResource(r.Context(), user)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityUsers), user.ID, "viewed user")
	writeJSON(w, http.StatusOK, itemResponse{Data: res})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionDelete, auth.EntityUsers, auth.Target{}); !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.store.DeleteUser(r.Context(), id); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionDelete, string(auth.EntityUsers), id, "deleted user")
	writeJSON(w, http.StatusOK, map[string]any{"message": "User deleted"})
}

func (a *API) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, true)
}

func (a *API) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, false)
}

// changeRole grants or revokes one assignment. The caller must hold a role
// at least as privileged as the one granted, in the assignment's scope.
func (a *API) changeRole(w http.ResponseWriter, r *http.Request, grant bool) {
	p, ok := a.authorizeAny(w, r, auth.ActionUpdate, auth.EntityUsers)
	if !ok {
		return
	}
	user, err := a.store.User(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	var in roleInput
	if !decodeBody(w, r, &in) {
		return
	}
	asg, err := a.resolveAssignment(r.Context(), user.ID, in)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if !canGrant(p, asg) {
		writeError(w, r, http.StatusForbidden, "you cannot change "+string(asg.Role)+" here")
		return
	}
	action, verb := audit.ActionCreate, "granted "
	if grant {
		err = a.store.GrantRole(r.Context(), asg)
	} else {
		action, verb = audit.ActionDelete, "revoked "
		err = a.store.RevokeRole(r.Context(), asg)
	}
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	res, err := a.loadUserResource(r.Context(), user)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, action, string(auth.EntityUsers), user.ID, verb+string(asg.Role))
	writeJSON(w, http.StatusOK, itemResponse{Data: res})
}
