package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
)

type resourceInput struct {
	OrganisationID     *string    `json:"organisation_id,omitempty"`
	Name               *string    `json:"name,omitempty"`
	Slug               *string    `json:"slug,omitempty"`
	Description        *string    `json:"description,omitempty"`
	URL                *string    `json:"url,omitempty"`
	License            *string    `json:"license,omitempty"`
	Author             *string    `json:"author,omitempty"`
	CategoryTaxonomies []string   `json:"category_taxonomies,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
	LastModifiedAt     *time.Time `json:"last_modified_at,omitempty"`
}

func (in resourceInput) apply(res *directory.Resource) {
	setString(&res.OrganisationID, in.OrganisationID)
	setString(&res.Name, in.Name)
	setString(&res.Slug, in.Slug)
	setString(&res.Description, in.Description)
	setString(&res.URL, in.URL)
	setString(&res.License, in.License)
	setString(&res.Author, in.Author)
	if in.CategoryTaxonomies != nil {
		res.CategoryTaxonomies = in.CategoryTaxonomies
	}
	if in.PublishedAt != nil {
		res.PublishedAt = in.PublishedAt
	}
	if in.LastModifiedAt != nil {
		res.LastModifiedAt = in.LastModifiedAt
	}
}

var resourceSorts = map[string]bool{
	directory.SortName:                   true,
	"-" + directory.SortName:             true,
	directory.SortOrganisationName:       true,
	"-" + directory.SortOrganisationName: true,
}

func (a *API) handleListResources(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorizeAny(w, r, auth.ActionList, auth.EntityResources); !ok {
		return
	}
	page, ok := a.page(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	sort := strings.TrimSpace(q.Get("sort"))
	if sort != "" && !resourceSorts[sort] {
		writeFieldError(w, "sort", "The selected sort is invalid.")
		return
	}
	resources, total, err := a.store.ListResources(r.Context(), directory.ResourceQuery{
		IDs:              splitList(q.Get("filter[id]")),
		Name:             strings.TrimSpace(q.Get("filter[name]")),
		OrganisationID:   strings.TrimSpace(q.Get("filter[organisation_id]")),
		OrganisationName: strings.TrimSpace(q.Get("filter[organisation_name]")),
		TaxonomyIDs:      splitList(q.Get("filter[taxonomy_id]")),
		TaxonomyNames:    splitList(q.Get("filter[taxonomy_name]")),
		SnomedCodes:      splitList(q.Get("filter[snomed_code]")),
		Sort:             sort,
		Page:             page,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityResources), "", "listed resources")
	writeList(w, resources, total, page)
}

// handleCreateResource lets organisation admins create resources for their
// own organisations only. A foreign organisation is a validation error.
func (a *API) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	p, ok := a.authorizeAny(w, r, auth.ActionCreate, auth.EntityResources)
	if !ok {
		return
	}
	var in resourceInput
	if !decodeBody(w, r, &in) {
		return
	}
	var res directory.Resource
	in.apply(&res)
	res.Normalize()
	if err := res.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}
	if !allowedOn(p, auth.ActionCreate, auth.EntityResources, auth.OrganisationTarget(res.OrganisationID)) {
		writeFieldError(w, "organisation_id", "You are not an admin of this organisation.")
		return
	}
	res, err := a.store.CreateResource(r.Context(), res)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionCreate, string(auth.EntityResources), res.ID, "created resource "+res.Name)
	writeJSON(w, http.StatusCreated, itemResponse{Data: res})
}

func (a *API) handleShowResource(w http.ResponseWriter, r *http.Request) {
	res, err := a.store.Resource(r.Context(), chi.URLParam(r, "resource"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if _, ok := a.authorize(w, r, auth.ActionRead, auth.EntityResources, auth.OrganisationTarget(res.OrganisationID)); !ok {
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityResources), res.ID, "viewed resource")
	writeJSON(w, http.StatusOK, itemResponse{Data: res})
}

func (a *API) handleUpdateResource(w http.ResponseWriter, r *http.Request) {
	res, err := a.store.Resource(r.Context(), chi.URLParam(r, "resource"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	p, ok := a.authorize(w, r, auth.ActionUpdate, auth.EntityResources, auth.OrganisationTarget(res.OrganisationID))
	if !ok {
		return
	}
	var in resourceInput
	if !decodeBody(w, r, &in) {
		return
	}
	updated := res
	in.apply(&updated)
	updated.Normalize()
	if err := updated.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}
	if updated.OrganisationID != res.OrganisationID &&
		!allowedOn(p, auth.ActionUpdate, auth.EntityResources, auth.OrganisationTarget(updated.OrganisationID)) {
		writeFieldError(w, "organisation_id", "You are not an admin of this organisation.")
		return
	}
	updated, err = a.store.UpdateResource(r.Context(), updated)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionUpdate, string(auth.EntityResources), updated.ID, "updated resource")
	writeJSON(w, http.StatusOK, itemResponse{Data: updated})
}

func (a *API) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	res, err := a.store.Resource(r.Context(), chi.URLParam(r, "resource"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if _, ok := a.authorize(w, r, auth.ActionDelete, auth.EntityResources, auth.OrganisationTarget(res.OrganisationID)); !ok {
		return
	}
	if err := a.store.DeleteResource(r.Context(), res.ID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionDelete, string(auth.EntityResources), res.ID, "deleted resource "+res.Name)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Resource deleted"})
}
