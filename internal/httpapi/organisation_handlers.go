package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
)

const updateRequestReceived = "The update request has been received and needs to be reviewed"

type organisationInput struct {
	Slug        *string `json:"slug,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	URL         *string `json:"url,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

func (in organisationInput) apply(o *directory.Organisation) {
	setString(&o.Slug, in.Slug)
	setString(&o.Name, in.Name)
	setString(&o.Description, in.Description)
	setString(&o.URL, in.URL)
	setString(&o.Email, in.Email)
	setString(&o.Phone, in.Phone)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (a *API) handleListOrganisations(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeAny(w, r, auth.ActionList, auth.EntityOrganisations); !ok {
		return
	}
	page, ok := a.page(w, r)
	if !ok {
		return
	}
	orgs, total, err := a.store.ListOrganisations(r.Context(), page)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityOrganisations), "", "listed organisations")
	writeList(w, orgs, total, page)
}

func (a *API) handleCreateOrganisation(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionCreate, auth.EntityOrganisations, auth.Target{}); !ok {
		return
	}
	var in organisationInput
	if !decodeBody(w, r, &in) {
		return
	}
	var org directory.Organisation
	in.apply(&org)
	org.Normalize()
	if err := org.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}
	org, err := a.store.CreateOrganisation(r.Context(), org)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionCreate, string(auth.EntityOrganisations), org.ID, "created organisation "+org.Name)
	writeJSON(w, http.StatusCreated, itemResponse{Data: org})
}

func (a *API) handleShowOrganisation(w http.ResponseWriter, r *http.Request) {
	org, err := a.store.Organisation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if _, ok := a.authorize(w, r, auth.ActionRead, auth.EntityOrganisations, auth.OrganisationTarget(org.ID)); !ok {
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityOrganisations), org.ID, "viewed organisation")
	writeJSON(w, http.StatusOK, itemResponse{Data: org})
}

// handleUpdateOrganisation applies changes from global admins directly and
// files an update request for everyone else.
func (a *API) handleUpdateOrganisation(w http.ResponseWriter, r *http.Request) {
	org, err := a.store.Organisation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	p, ok := a.authorize(w, r, auth.ActionUpdate, auth.EntityOrganisations, auth.OrganisationTarget(org.ID))
	if !ok {
		return
	}
	var in organisationInput
	if !decodeBody(w, r, &in) {
		return
	}
	updated := org
	in.apply(&updated)
	updated.Normalize()
	if err := updated.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}

	if !p.IsGlobalAdmin() {
		a.fileUpdateRequest(w, r, p, directory.UpdateableOrganisation, org.ID, in)
		return
	}
	updated, err = a.store.UpdateOrganisation(r.Context(), updated)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionUpdate, string(auth.EntityOrganisations), org.ID, "updated organisation")
	writeJSON(w, http.StatusOK, itemResponse{Data: updated})
}

func (a *API) handleDeleteOrganisation(w http.ResponseWriter, r *http.Request) {
	org, err := a.store.Organisation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if _, ok := a.authorize(w, r, auth.ActionDelete, auth.EntityOrganisations, auth.OrganisationTarget(org.ID)); !ok {
		return
	}
	services, _, err := a.store.ListServices(r.Context(), directory.ServiceQuery{OrganisationID: org.ID})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if err := a.store.DeleteOrganisation(r.Context(), org.ID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	for _, svc := range services {
		a.syncService(r, svc.ID)
	}
	a.record(r, audit.ActionDelete, string(auth.EntityOrganisations), org.ID, "deleted organisation "+org.Name)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Organisation deleted"})
}

// fileUpdateRequest stores the submitted changes for later approval.
func (a *API) fileUpdateRequest(w http.ResponseWriter, r *http.Request, p *auth.Principal, kind, id string, in any) {
	data, err := json.Marshal(in)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	ur, err := a.store.CreateUpdateRequest(r.Context(), directory.UpdateRequest{
		UserID:         p.User.ID,
		UpdateableType: kind,
		UpdateableID:   id,
		Data:           data,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionCreate, string(auth.EntityUpdateRequests), ur.ID, "requested update of "+kind+" "+id)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": updateRequestReceived,
		"data":    ur,
	})
}
