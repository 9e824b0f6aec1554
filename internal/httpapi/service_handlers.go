package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
)

type serviceInput struct {
	OrganisationID *string `json:"organisation_id,omitempty"`
	Slug           *string `json:"slug,omitempty"`
	Name           *string `json:"name,omitempty"`
	Status         *string `json:"status,omitempty"`
	Intro          *string `json:"intro,omitempty"`
	Description    *string `json:"description,omitempty"`
	URL            *string `json:"url,omitempty"`
	ContactEmail   *string `json:"contact_email,omitempty"`
	ContactPhone   *string `json:"contact_phone,omitempty"`
}

func (in serviceInput) apply(s *directory.Service) {
	setString(&s.OrganisationID, in.OrganisationID)
	setString(&s.Slug, in.Slug)
	setString(&s.Name, in.Name)
	setString(&s.Status, in.Status)
	setString(&s.Intro, in.Intro)
	setString(&s.Description, in.Description)
	setString(&s.URL, in.URL)
	setString(&s.ContactEmail, in.ContactEmail)
	setString(&s.ContactPhone, in.ContactPhone)
}

func (a *API) handleListServices(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeAny(w, r, auth.ActionList, auth.EntityServices); !ok {
		return
	}
	page, ok := a.page(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	services, total, err := a.store.ListServices(r.Context(), directory.ServiceQuery{
		OrganisationID: strings.TrimSpace(q.Get("filter[organisation_id]")),
		Name:           strings.TrimSpace(q.Get("filter[name]")),
		Page:           page,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityServices), "", "listed services")
	writeList(w, services, total, page)
}

func (a *API) handleCreateService(w http.ResponseWriter, r *http.Request) {
	p, ok := a.authorizeAny(w, r, auth.ActionCreate, auth.EntityServices)
	if !ok {
		return
	}
	var in serviceInput
	if !decodeBody(w, r, &in) {
		return
	}
	var svc directory.Service
	in.apply(&svc)
	svc.Normalize()
	if err := svc.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}
	if !allowedOn(p, auth.ActionCreate, auth.EntityServices, auth.OrganisationTarget(svc.OrganisationID)) {
		writeFieldError(w, "organisation_id", "You are not an admin of this organisation.")
		return
	}
	svc, err := a.store.CreateService(r.Context(), svc)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.syncService(r, svc.ID)
	a.record(r, audit.ActionCreate, string(auth.EntityServices), svc.ID, "created service "+svc.Name)
	writeJSON(w, http.StatusCreated, itemResponse{Data: svc})
}

func (a *API) handleShowService(w http.ResponseWriter, r *http.Request) {
	svc, err := a.store.Service(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if _, ok := a.authorize(w, r, auth.ActionRead, auth.EntityServices, auth.ServiceTarget(svc.OrganisationID, svc.ID)); !ok {
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityServices), svc.ID, "viewed service")
	writeJSON(w, http.StatusOK, itemResponse{Data: svc})
}

// handleUpdateService applies changes from global admins directly. Service
// and organisation admins file an update request instead.
func (a *API) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	svc, err := a.store.Service(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	p, ok := a.authorize(w, r, auth.ActionUpdate, auth.EntityServices, auth.ServiceTarget(svc.OrganisationID, svc.ID))
	if !ok {
		return
	}
	var in serviceInput
	if !decodeBody(w, r, &in) {
		return
	}
	updated := svc
	in.apply(&updated)
	updated.Normalize()
	if err := updated.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}

	if !p.IsGlobalAdmin() {
		if updated.OrganisationID != svc.OrganisationID {
			writeFieldError(w, "organisation_id", "You cannot move a service to another organisation.")
			return
		}
		a.fileUpdateRequest(w, r, p, directory.UpdateableService, svc.ID, in)
		return
	}
	updated, err = a.store.UpdateService(r.Context(), updated)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.syncService(r, updated.ID)
	a.record(r, audit.ActionUpdate, string(auth.EntityServices), updated.ID, "updated service")
	writeJSON(w, http.StatusOK, itemResponse{Data: updated})
}

func (a *API) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	svc, err := a.store.Service(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if _, ok := a.authorize(w, r, auth.ActionDelete, auth.EntityServices, auth.OrganisationTarget(svc.OrganisationID)); !ok {
		return
	}
	if err := a.store.DeleteService(r.Context(), svc.ID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.syncService(r, svc.ID)
	a.record(r, audit.ActionDelete, string(auth.EntityServices), svc.ID, "deleted service "+svc.Name)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Service deleted"})
}

// handleCheckRefreshToken lets the frontend page behind the reminder link
// validate the token before it issues the PUT. It never writes.
func (a *API) handleCheckRefreshToken(w http.ResponseWriter, r *http.Request) {
	svc, err := a.store.Service(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" || !auth.VerifyRefreshToken(a.cfg.Auth.Secret, svc.ID, svc.LastModifiedAt, token) {
		writeFieldError(w, "token", "The token is invalid or has expired.")
		return
	}
	writeJSON(w, http.StatusOK, itemResponse{Data: svc})
}

// handleRefreshService marks a service as still up to date. The signed link
// from the stale service reminder opens a frontend page, which calls this
// with the token and no login.
func (a *API) handleRefreshService(w http.ResponseWriter, r *http.Request) {
	svc, err := a.store.Service(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		if !auth.VerifyRefreshToken(a.cfg.Auth.Secret, svc.ID, svc.LastModifiedAt, token) {
			writeFieldError(w, "token", "The token is invalid or has expired.")
			return
		}
	} else if _, ok := a.authorize(w, r, auth.ActionUpdate, auth.EntityServices, auth.ServiceTarget(svc.OrganisationID, svc.ID)); !ok {
		return
	}
	svc, err = a.store.TouchService(r.Context(), svc.ID, a.now())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionUpdate, string(auth.EntityServices), svc.ID, "marked service as still up to date")
	writeJSON(w, http.StatusOK, itemResponse{Data: svc})
}
