package httpapi

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/config"
	"tlr.org/internal/directory"
)

type referralInput struct {
	ServiceID    string `json:"service_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	RefereeName  string `json:"referee_name"`
	RefereeEmail string `json:"referee_email"`
}

type referralStatusInput struct {
	Status string `json:"status"`
}

// visibleServices returns the services whose referrals p may see, or nil
// when p sees every referral.
func (a *API) visibleServices(ctx context.Context, p *auth.Principal) ([]string, error) {
	if p.IsGlobalAdmin() {
		return nil, nil
	}
	out := append([]string{}, p.ServiceIDs()...)
	for _, orgID := range p.OrganisationIDs() {
		services, _, err := a.store.ListServices(ctx, directory.ServiceQuery{OrganisationID: orgID})
		if err != nil {
			return nil, err
		}
		for _, svc := range services {
			if !slices.Contains(out, svc.ID) {
				out = append(out, svc.ID)
			}
		}
	}
	return out, nil
}

func (a *API) handleListReferrals(w http.ResponseWriter, r *http.Request) {
	p, ok := a.authorizeAny(w, r, auth.ActionList, auth.EntityReferrals)
	if !ok {
		return
	}
	page, ok := a.page(w, r)
	if !ok {
		return
	}
	visible, err := a.visibleServices(r.Context(), p)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	q := r.URL.Query()
	serviceIDs := visible
	if wanted := splitList(q.Get("filter[service_id]")); len(wanted) > 0 {
		serviceIDs = []string{}
		for _, id := range wanted {
			if visible == nil || slices.Contains(visible, id) {
				serviceIDs = append(serviceIDs, id)
			}
		}
	}
	referrals, total, err := a.store.ListReferrals(r.Context(), directory.ReferralQuery{
		ServiceIDs: serviceIDs,
		Status:     strings.TrimSpace(q.Get("filter[status]")),
		Page:       page,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityReferrals), "", "listed referrals")
	writeList(w, referrals, total, page)
}

func (a *API) handleCreateReferral(w http.ResponseWriter, r *http.Request) {
	var in referralInput
	if !decodeBody(w, r, &in) {
		return
	}
	svc, err := a.store.Service(r.Context(), strings.TrimSpace(in.ServiceID))
	if err != nil {
		writeFieldError(w, "service_id", "The selected service id is invalid.")
		return
	}
	if _, ok := a.authorize(w, r, auth.ActionCreate, auth.EntityReferrals, auth.ServiceTarget(svc.OrganisationID, svc.ID)); !ok {
		return
	}
	ref := directory.Referral{
		ServiceID:    svc.ID,
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		RefereeName:  in.RefereeName,
		RefereeEmail: in.RefereeEmail,
	}
	ref.Normalize()
	if err := ref.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}
	ref, err = a.store.CreateReferral(r.Context(), ref)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionCreate, string(auth.EntityReferrals), ref.ID, "created referral "+ref.Reference)
	writeJSON(w, http.StatusCreated, itemResponse{Data: ref})
}

// loadReferral fetches the referral and its service and checks action.
func (a *API) loadReferral(w http.ResponseWriter, r *http.Request, action auth.Action) (directory.Referral, directory.Service, bool) {
	ref, err := a.store.Referral(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return directory.Referral{}, directory.Service{}, false
	}
	svc, err := a.store.Service(r.Context(), ref.ServiceID)
	if err != nil {
		handleStoreError(w, r, err)
		return directory.Referral{}, directory.Service{}, false
	}
	if _, ok := a.authorize(w, r, action, auth.EntityReferrals, auth.ServiceTarget(svc.OrganisationID, svc.ID)); !ok {
		return directory.Referral{}, directory.Service{}, false
	}
	return ref, svc, true
}

func (a *API) handleShowReferral(w http.ResponseWriter, r *http.Request) {
	ref, _, ok := a.loadReferral(w, r, auth.ActionRead)
	if !ok {
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityReferrals), ref.ID, "viewed referral")
	writeJSON(w, http.StatusOK, itemResponse{Data: ref})
}

// handleUpdateReferral changes the referral status. Closing it stamps the
// completion time and completing it notifies the referee.
func (a *API) handleUpdateReferral(w http.ResponseWriter, r *http.Request) {
	ref, svc, ok := a.loadReferral(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	var in referralStatusInput
	if !decodeBody(w, r, &in) {
		return
	}
	previous := ref.Status
	ref.Status = strings.TrimSpace(strings.ToLower(in.Status))
	if ref.Status == "" {
		writeFieldError(w, "status", "The status field is required.")
		return
	}
	if err := ref.Validate(); err != nil {
		handleStoreError(w, r, err)
		return
	}
	switch {
	case ref.Closed() && ref.CompletedAt == nil:
		now := a.now()
		ref.CompletedAt = &now
	case !ref.Closed():
		ref.CompletedAt = nil
	}
	ref, err := a.store.UpdateReferral(r.Context(), ref)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if ref.Status == directory.ReferralCompleted && previous != directory.ReferralCompleted {
		a.sendMail(r, config.TemplateReferralCompletedReferee, ref.RefereeEmail, map[string]string{
			"REFEREE_NAME":  ref.RefereeName,
			"SERVICE_NAME":  svc.Name,
			"REFERRAL_ID":   ref.Reference,
			"SERVICE_PHONE": svc.ContactPhone,
			"SERVICE_EMAIL": svc.ContactEmail,
		})
	}
	a.record(r, audit.ActionUpdate, string(auth.EntityReferrals), ref.ID, "changed referral status to "+ref.Status)
	writeJSON(w, http.StatusOK, itemResponse{Data: ref})
}

func (a *API) handleDeleteReferral(w http.ResponseWriter, r *http.Request) {
	ref, _, ok := a.loadReferral(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := a.store.DeleteReferral(r.Context(), ref.ID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionDelete, string(auth.EntityReferrals), ref.ID, "deleted referral")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Referral deleted"})
}
