package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/config"
	"tlr.org/internal/directory"
)

func (a *API) handleListUpdateRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionList, auth.EntityUpdateRequests, auth.Target{}); !ok {
		return
	}
	page, ok := a.page(w, r)
	if !ok {
		return
	}
	requests, total, err := a.store.ListUpdateRequests(r.Context(), page)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityUpdateRequests), "", "listed update requests")
	writeList(w, requests, total, page)
}

func (a *API) handleShowUpdateRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionRead, auth.EntityUpdateRequests, auth.Target{}); !ok {
		return
	}
	ur, err := a.store.UpdateRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityUpdateRequests), ur.ID, "viewed update request")
	writeJSON(w, http.StatusOK, itemResponse{Data: ur})
}

// handleApproveUpdateRequest applies the stored changes, marks the request
// approved and tells the submitter.
func (a *API) handleApproveUpdateRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionUpdate, auth.EntityUpdateRequests, auth.Target{}); !ok {
		return
	}
	ur, err := a.store.UpdateRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if ur.ApprovedAt != nil {
		handleStoreError(w, r, fmt.Errorf("%w: update request already approved", directory.ErrConflict))
		return
	}
	name, kind, err := a.applyUpdateRequest(r.Context(), ur)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if kind == "service" {
		a.syncService(r, ur.UpdateableID)
	}
	ur, err = a.store.ApproveUpdateRequest(r.Context(), ur.ID, a.now())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	if ur.UserID != "" {
		submitter, err := a.store.User(r.Context(), ur.UserID)
		if err == nil {
			a.sendMail(r, config.TemplateUpdateRequestApproved, submitter.Email, map[string]string{
				"SUBMITTER_NAME": submitter.FirstName,
				"RESOURCE_NAME":  name,
				"RESOURCE_TYPE":  kind,
				"REQUEST_DATE":   ur.CreatedAt.UTC().Format("2006-01-02 15:04"),
			})
		}
	}
	a.record(r, audit.ActionUpdate, string(auth.EntityUpdateRequests), ur.ID, "approved update request")
	writeJSON(w, http.StatusOK, itemResponse{Data: ur})
}

// applyUpdateRequest merges the request data into its target and returns the
// target's name and kind for the submitter notification.
func (a *API) applyUpdateRequest(ctx context.Context, ur directory.UpdateRequest) (string, string, error) {
	switch ur.UpdateableType {
	case directory.UpdateableService:
		var in serviceInput
		if err := json.Unmarshal(ur.Data, &in); err != nil {
			return "", "", fmt.Errorf("%w: update request data: %v", directory.ErrInvalidInput, err)
		}
		svc, err := a.store.Service(ctx, ur.UpdateableID)
		if err != nil {
			return "", "", err
		}
		in.apply(&svc)
		svc.Normalize()
		if err := svc.Validate(); err != nil {
			return "", "", err
		}
		svc, err = a.store.UpdateService(ctx, svc)
		if err != nil {
			return "", "", err
		}
		return svc.Name, "service", nil
	case directory.UpdateableOrganisation:
		var in organisationInput
		if err := json.Unmarshal(ur.Data, &in); err != nil {
			return "", "", fmt.Errorf("%w: update request data: %v", directory.ErrInvalidInput, err)
		}
		org, err := a.store.Organisation(ctx, ur.UpdateableID)
		if err != nil {
			return "", "", err
		}
		in.apply(&org)
		org.Normalize()
		if err := org.Validate(); err != nil {
			return "", "", err
		}
		org, err = a.store.UpdateOrganisation(ctx, org)
		if err != nil {
			return "", "", err
		}
		return org.Name, "organisation", nil
	}
	return "", "", fmt.Errorf("%w: unknown updateable type %q", directory.ErrInvalidInput, ur.UpdateableType)
}

func (a *API) handleDeleteUpdateRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionDelete, auth.EntityUpdateRequests, auth.Target{}); !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.store.DeleteUpdateRequest(r.Context(), id); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionDelete, string(auth.EntityUpdateRequests), id, "rejected update request")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Update request deleted"})
}
