package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"tlr.org/internal/auth"
	"tlr.org/internal/config"
	"tlr.org/internal/directory"
)

type referralEnvelope struct {
	Data directory.Referral `json:"data"`
}

func TestReferralListingScopedToService(t *testing.T) {
	c := newTestAPI(t)
	ctx := context.Background()
	otherSvc, err := c.store.CreateService(ctx, directory.Service{
		OrganisationID: c.org.ID, Name: "Debt Advice", Slug: "debt-advice", Status: directory.ServiceActive,
	})
	if err != nil {
		t.Fatalf("seed service: %v", err)
	}
	for _, svcID := range []string{c.service.ID, c.service.ID, otherSvc.ID} {
		if _, err := c.store.CreateReferral(ctx, directory.Referral{ServiceID: svcID, Name: "Client", Phone: "0700", Status: directory.ReferralNew}); err != nil {
			t.Fatalf("seed referral: %v", err)
		}
	}

	resp := c.get("/core/v1/referrals", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	worker := c.serviceRole("worker@example.org", auth.RoleServiceWorker, c.service)
	resp = c.get("/core/v1/referrals", nil, worker)
	expectStatus(t, resp, http.StatusOK)
	list := decode[struct {
		Data []directory.Referral `json:"data"`
		Meta directory.Meta       `json:"meta"`
	}](t, resp)
	if list.Meta.Total != 2 {
		t.Fatalf("worker should see 2 referrals, got %d", list.Meta.Total)
	}
	for _, ref := range list.Data {
		if ref.ServiceID != c.service.ID {
			t.Fatalf("worker saw referral for %s", ref.ServiceID)
		}
	}

	resp = c.get("/core/v1/referrals", url.Values{"filter[service_id]": {otherSvc.ID}}, worker)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[struct {
		Data []directory.Referral `json:"data"`
	}](t, resp); len(got.Data) != 0 {
		t.Fatalf("filter widened visibility: %+v", got.Data)
	}

	orgAdmin := c.orgAdmin("orgadmin@example.org", c.org.ID)
	resp = c.get("/core/v1/referrals", nil, orgAdmin)
	expectStatus(t, resp, http.StatusOK)
	if meta := decode[struct {
		Meta directory.Meta `json:"meta"`
	}](t, resp).Meta; meta.Total != 3 {
		t.Fatalf("organisation admin should see 3 referrals, got %d", meta.Total)
	}
}

func TestCreateReferral(t *testing.T) {
	c := newTestAPI(t)
	worker := c.serviceRole("worker@example.org", auth.RoleServiceWorker, c.service)

	expectFieldError(t, c.post("/core/v1/referrals", map[string]any{"service_id": "missing", "name": "Client"}, worker), "service_id")
	expectFieldError(t, c.post("/core/v1/referrals", map[string]any{"service_id": c.service.ID, "name": "Client"}, worker), "email")

	resp := c.post("/core/v1/referrals", map[string]any{"service_id": c.service.ID, "name": "Client", "phone": "0700"}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/core/v1/referrals", map[string]any{
		"service_id": c.service.ID, "name": "Client", "email": "Client@Example.org",
	}, worker)
	expectStatus(t, resp, http.StatusCreated)
	ref := decode[referralEnvelope](t, resp).Data
	if ref.Status != directory.ReferralNew || ref.Reference == "" || ref.Email != "client@example.org" {
		t.Fatalf("unexpected referral %+v", ref)
	}
}

func TestCompletingReferralNotifiesReferee(t *testing.T) {
	c := newTestAPI(t)
	ref, err := c.store.CreateReferral(context.Background(), directory.Referral{
		ServiceID:    c.service.ID,
		Name:         "Client",
		Phone:        "0700",
		Status:       directory.ReferralInProgress,
		RefereeName:  "Rae",
		RefereeEmail: "rae@example.org",
	})
	if err != nil {
		t.Fatalf("seed referral: %v", err)
	}
	worker := c.serviceRole("worker@example.org", auth.RoleServiceWorker, c.service)

	expectFieldError(t, c.put("/core/v1/referrals/"+ref.ID, map[string]any{"status": "lost"}, worker), "status")

	resp := c.put("/core/v1/referrals/"+ref.ID, map[string]any{"status": "completed"}, worker)
	expectStatus(t, resp, http.StatusOK)
	updated := decode[referralEnvelope](t, resp).Data
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(testNow) {
		t.Fatalf("expected completed_at, got %+v", updated.CompletedAt)
	}

	sent := c.outbox.Sent(c.cfg.Mail.TemplateID(config.TemplateReferralCompletedReferee))
	if len(sent) != 1 {
		t.Fatalf("expected one referee email, got %d", len(sent))
	}
	want := map[string]string{
		"REFEREE_NAME":  "Rae",
		"SERVICE_NAME":  "Food Bank",
		"REFERRAL_ID":   ref.Reference,
		"SERVICE_PHONE": "01130000000",
		"SERVICE_EMAIL": "food@example.org",
	}
	for k, v := range want {
		if sent[0].Values[k] != v {
			t.Fatalf("%s = %q, want %q", k, sent[0].Values[k], v)
		}
	}

	resp = c.put("/core/v1/referrals/"+ref.ID, map[string]any{"status": "completed"}, worker)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if got := len(c.outbox.Sent(c.cfg.Mail.TemplateID(config.TemplateReferralCompletedReferee))); got != 1 {
		t.Fatalf("repeat completion should not mail again, got %d", got)
	}

	resp = c.put("/core/v1/referrals/"+ref.ID, map[string]any{"status": "in_progress"}, worker)
	expectStatus(t, resp, http.StatusOK)
	if reopened := decode[referralEnvelope](t, resp).Data; reopened.CompletedAt != nil {
		t.Fatalf("reopening should clear completed_at")
	}
}

func TestReferralOutsideScopeForbidden(t *testing.T) {
	c := newTestAPI(t)
	ctx := context.Background()
	otherSvc, err := c.store.CreateService(ctx, directory.Service{
		OrganisationID: c.org.ID, Name: "Debt Advice", Slug: "debt-advice", Status: directory.ServiceActive,
	})
	if err != nil {
		t.Fatalf("seed service: %v", err)
	}
	ref, err := c.store.CreateReferral(ctx, directory.Referral{ServiceID: otherSvc.ID, Name: "Client", Phone: "0700", Status: directory.ReferralNew})
	if err != nil {
		t.Fatalf("seed referral: %v", err)
	}
	worker := c.serviceRole("worker@example.org", auth.RoleServiceWorker, c.service)

	resp := c.get("/core/v1/referrals/"+ref.ID, nil, worker)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	orgAdmin := c.orgAdmin("orgadmin@example.org", c.org.ID)
	resp = c.delete("/core/v1/referrals/"+ref.ID, orgAdmin)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.delete("/core/v1/referrals/"+ref.ID, c.globalAdmin())
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}
