package httpapi

import (
	"errors"
	"net/http"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
)

type taxonomyInput struct {
	ParentID string `json:"parent_id"`
	Name     string `json:"name"`
	Order    int    `json:"order"`
}

type snomedCodeInput struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	TaxonomyIDs []string `json:"taxonomy_ids"`
}

func (a *API) handleListTaxonomies(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeAny(w, r, auth.ActionList, auth.EntityTaxonomies); !ok {
		return
	}
	taxonomies, err := a.store.ListTaxonomies(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityTaxonomies), "", "listed taxonomies")
	writeJSON(w, http.StatusOK, itemResponse{Data: taxonomies})
}

func (a *API) handleCreateTaxonomy(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionCreate, auth.EntityTaxonomies, auth.Target{}); !ok {
		return
	}
	var in taxonomyInput
	if !decodeBody(w, r, &in) {
		return
	}
	t := directory.Taxonomy{ParentID: in.ParentID, Name: in.Name, Order: in.Order}
	t.Normalize()
	if err := t.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}
	created, err := a.store.CreateTaxonomy(r.Context(), t)
	if errors.Is(err, directory.ErrNotFound) {
		writeFieldError(w, "parent_id", "The selected parent id is invalid.")
		return
	}
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionCreate, string(auth.EntityTaxonomies), created.ID, "created taxonomy "+created.Name)
	writeJSON(w, http.StatusCreated, itemResponse{Data: created})
}

func (a *API) handleListSnomedCodes(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeAny(w, r, auth.ActionList, auth.EntityCollections); !ok {
		return
	}
	codes, err := a.store.ListSnomedCodes(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityCollections), "", "listed snomed collections")
	writeJSON(w, http.StatusOK, itemResponse{Data: codes})
}

func (a *API) handleCreateSnomedCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionCreate, auth.EntityCollections, auth.Target{}); !ok {
		return
	}
	var in snomedCodeInput
	if !decodeBody(w, r, &in) {
		return
	}
	c := directory.SnomedCode{Code: in.Code, Name: in.Name, TaxonomyIDs: in.TaxonomyIDs}
	c.Normalize()
	if err := c.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}
	created, err := a.store.CreateSnomedCode(r.Context(), c)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		writeFieldError(w, "taxonomy_ids", "The selected taxonomy ids are invalid.")
		return
	case errors.Is(err, directory.ErrConflict):
		writeFieldError(w, "code", "The code has already been taken.")
		return
	case err != nil:
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionCreate, string(auth.EntityCollections), created.ID, "created snomed collection "+created.Code)
	writeJSON(w, http.StatusCreated, itemResponse{Data: created})
}
