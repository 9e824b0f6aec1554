package directory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tlr.org/internal/auth"
)

func mustOrg(t *testing.T, s *InMemory, name string) Organisation {
	t.Helper()
	o := Organisation{Name: name}
	o.Normalize()
	created, err := s.CreateOrganisation(context.Background(), o)
	if err != nil {
		t.Fatalf("CreateOrganisation: %v", err)
	}
	return created
}

func mustService(t *testing.T, s *InMemory, orgID, name string) Service {
	t.Helper()
	svc := Service{OrganisationID: orgID, Name: name}
	svc.Normalize()
	created, err := s.CreateService(context.Background(), svc)
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	return created
}

func mustResource(t *testing.T, s *InMemory, orgID, name string, taxonomies ...string) Resource {
	t.Helper()
	r := Resource{OrganisationID: orgID, Name: name, URL: "https://example.org/" + Slugify(name), CategoryTaxonomies: taxonomies}
	r.Normalize()
	created, err := s.CreateResource(context.Background(), r)
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	return created
}

func TestResourceFiltersAndSort(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	alpha := mustOrg(t, s, "Alpha Trust")
	zulu := mustOrg(t, s, "Zulu Council")

	housing := mustResource(t, s, zulu.ID, "Housing guide", "tax-1", "tax-2")
	mustResource(t, s, alpha.ID, "Benefits guide", "tax-1")
	mustResource(t, s, alpha.ID, "Advice line")

	got, total, err := s.ListResources(ctx, ResourceQuery{TaxonomyIDs: []string{"tax-1", "tax-2"}})
	if err != nil || total != 1 || got[0].ID != housing.ID {
		t.Fatalf("taxonomy filter: %v %d %v", got, total, err)
	}

	got, _, _ = s.ListResources(ctx, ResourceQuery{OrganisationName: "alpha", Sort: "-name"})
	if len(got) != 2 || got[0].Name != "Benefits guide" || got[1].Name != "Advice line" {
		t.Fatalf("organisation name filter with desc sort: %+v", got)
	}

	got, _, _ = s.ListResources(ctx, ResourceQuery{Sort: "-organisation_name"})
	if len(got) != 3 || got[0].ID != housing.ID {
		t.Fatalf("sort by organisation name: %+v", got)
	}

	got, total, _ = s.ListResources(ctx, ResourceQuery{Sort: "name", Page: Page{Number: 2, PerPage: 2}})
	if total != 3 || len(got) != 1 || got[0].Name != "Housing guide" {
		t.Fatalf("pagination: %d %+v", total, got)
	}

	bySlug, err := s.Resource(ctx, "housing-guide")
	if err != nil || bySlug.ID != housing.ID {
		t.Fatalf("lookup by slug: %+v %v", bySlug, err)
	}
}

func TestPageMeta(t *testing.T) {
	m := Page{Number: 2, PerPage: 25}.Meta(51)
	if m.LastPage != 3 || m.CurrentPage != 2 || m.Total != 51 {
		t.Fatalf("unexpected meta: %+v", m)
	}
	if m := (Page{PerPage: 25}).Meta(0); m.LastPage != 1 || m.CurrentPage != 1 {
		t.Fatalf("empty meta: %+v", m)
	}
}

func TestDeleteReferralsDueBeforeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	org := mustOrg(t, s, "Org")
	svc := mustService(t, s, org.ID, "Service")

	now := time.Date(2026, time.October, 17, 3, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -7, 0)
	young := now.AddDate(0, -5, 0)

	for _, r := range []Referral{
		{ServiceID: svc.ID, Name: "A", Email: "a@example.org", Status: ReferralCompleted, CompletedAt: &old},
		{ServiceID: svc.ID, Name: "B", Email: "b@example.org", Status: ReferralIncompleted, CompletedAt: &old},
		{ServiceID: svc.ID, Name: "C", Email: "c@example.org", Status: ReferralCompleted, CompletedAt: &young},
		{ServiceID: svc.ID, Name: "D", Email: "d@example.org", Status: ReferralInProgress},
	} {
		if _, err := s.CreateReferral(ctx, r); err != nil {
			t.Fatalf("CreateReferral: %v", err)
		}
	}

	cutoff := now.AddDate(0, -6, 0)
	n, err := s.DeleteReferralsDueBefore(ctx, cutoff)
	if err != nil || n != 2 {
		t.Fatalf("first sweep deleted %d, err %v", n, err)
	}
	n, err = s.DeleteReferralsDueBefore(ctx, cutoff)
	if err != nil || n != 0 {
		t.Fatalf("second sweep deleted %d, err %v", n, err)
	}
	_, total, _ := s.ListReferrals(ctx, ReferralQuery{})
	if total != 2 {
		t.Fatalf("expected 2 referrals retained, got %d", total)
	}
}

func TestUsersWithRoleAndRevoke(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	org := mustOrg(t, s, "Org")
	svc := mustService(t, s, org.ID, "Service")
	other := mustService(t, s, org.ID, "Other")

	admin, _ := s.CreateUser(ctx, auth.User{FirstName: "Ada", Email: "ada@example.org"})
	otherAdmin, _ := s.CreateUser(ctx, auth.User{FirstName: "Bo", Email: "bo@example.org"})

	grant := auth.Assignment{UserID: admin.ID, Role: auth.RoleServiceAdmin, OrganisationID: org.ID, ServiceID: svc.ID}
	if err := s.GrantRole(ctx, grant); err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if err := s.GrantRole(ctx, grant); err != nil {
		t.Fatalf("repeat GrantRole: %v", err)
	}
	if err := s.GrantRole(ctx, auth.Assignment{UserID: otherAdmin.ID, Role: auth.RoleServiceAdmin, OrganisationID: org.ID, ServiceID: other.ID}); err != nil {
		t.Fatalf("GrantRole other: %v", err)
	}

	users, err := s.UsersWithRole(ctx, auth.RoleServiceAdmin, svc.ID)
	if err != nil || len(users) != 1 || users[0].ID != admin.ID {
		t.Fatalf("UsersWithRole: %+v %v", users, err)
	}

	if err := s.RevokeRole(ctx, grant); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	if err := s.RevokeRole(ctx, grant); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second revoke, got %v", err)
	}
	assignments, _ := s.Assignments(ctx, admin.ID)
	if len(assignments) != 0 {
		t.Fatalf("expected no assignments, got %+v", assignments)
	}
}

func TestEmailTakenAndUserNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	u, err := s.CreateUser(ctx, auth.User{Email: "Person@Example.org"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if taken, _ := s.EmailTaken(ctx, "person@example.org", ""); !taken {
		t.Fatal("expected email taken")
	}
	if taken, _ := s.EmailTaken(ctx, "person@example.org", u.ID); taken {
		t.Fatal("own email must not count as taken")
	}
	if _, err := s.CreateUser(ctx, auth.User{Email: "person@example.org"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, err = s.User(ctx, "missing")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found in both packages, got %v", err)
	}
}

func TestServiceTouchAndStaleListing(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	created := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return created })
	org := mustOrg(t, s, "Org")
	svc := mustService(t, s, org.ID, "Service")

	stale, _ := s.ListServicesModifiedBefore(ctx, created.AddDate(0, 6, 0))
	if len(stale) != 1 {
		t.Fatalf("expected stale service, got %d", len(stale))
	}
	if _, err := s.TouchService(ctx, svc.ID, created.AddDate(0, 7, 0)); err != nil {
		t.Fatalf("TouchService: %v", err)
	}
	stale, _ = s.ListServicesModifiedBefore(ctx, created.AddDate(0, 6, 0))
	if len(stale) != 0 {
		t.Fatalf("expected touched service to be fresh, got %d", len(stale))
	}
}

func TestValidation(t *testing.T) {
	r := Referral{Status: "lost"}
	r.Normalize()
	err := r.Validate()
	var v *ValidationError
	if !errors.As(err, &v) || !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"service_id", "name", "email", "status"} {
		if len(v.Fields[field]) == 0 {
			t.Fatalf("missing error for %s: %v", field, v.Fields)
		}
	}
	if got := Slugify("  Café & Advice Line "); got != "caf-advice-line" {
		t.Fatalf("unexpected slug %q", got)
	}
}

func TestPageOffsetSaturates(t *testing.T) {
	cases := []struct {
		page Page
		want int
	}{
		{Page{Number: 0, PerPage: 25}, 0},
		{Page{Number: 3, PerPage: 25}, 50},
		{Page{Number: 368934881474191034, PerPage: 25}, math.MaxInt},
		{Page{Number: 2, PerPage: 0}, 0},
	}
	for _, tc := range cases {
		if got := tc.page.Offset(); got != tc.want {
			t.Fatalf("Offset(%+v) = %d, want %d", tc.page, got, tc.want)
		}
	}

	s := NewInMemory()
	org := mustOrg(t, s, "Alpha Trust")
	mustResource(t, s, org.ID, "Advice line")
	got, total, err := s.ListResources(context.Background(), ResourceQuery{Page: Page{Number: 368934881474191034, PerPage: 25}})
	if err != nil || total != 1 || len(got) != 0 {
		t.Fatalf("far page: %v %d %v", got, total, err)
	}
}

func mustTaxonomy(t *testing.T, s *InMemory, name string) Taxonomy {
	t.Helper()
	tax := Taxonomy{Name: name}
	tax.Normalize()
	created, err := s.CreateTaxonomy(context.Background(), tax)
	if err != nil {
		t.Fatalf("CreateTaxonomy: %v", err)
	}
	return created
}

func TestResourceTaxonomyNameAndSnomedFilters(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	org := mustOrg(t, s, "Alpha Trust")
	alpha := mustTaxonomy(t, s, "Alpha")
	beta := mustTaxonomy(t, s, "Beta")

	both := mustResource(t, s, org.ID, "Both guide", alpha.ID, beta.ID)
	onlyAlpha := mustResource(t, s, org.ID, "Alpha guide", alpha.ID)
	onlyBeta := mustResource(t, s, org.ID, "Beta guide", beta.ID)

	got, total, err := s.ListResources(ctx, ResourceQuery{TaxonomyNames: []string{"alpha"}, Sort: "name"})
	if err != nil || total != 2 || got[0].ID != onlyAlpha.ID || got[1].ID != both.ID {
		t.Fatalf("single taxonomy name: %+v %d %v", got, total, err)
	}
	got, total, _ = s.ListResources(ctx, ResourceQuery{TaxonomyNames: []string{"Alpha", "Beta"}})
	if total != 1 || got[0].ID != both.ID {
		t.Fatalf("all taxonomy names must match: %+v", got)
	}

	if _, err := s.CreateSnomedCode(ctx, SnomedCode{Code: "001", Name: "Test SNOMED code", TaxonomyIDs: []string{beta.ID}}); err != nil {
		t.Fatalf("CreateSnomedCode: %v", err)
	}
	if _, err := s.CreateSnomedCode(ctx, SnomedCode{Code: "001", Name: "Again"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on duplicate code, got %v", err)
	}
	if _, err := s.CreateSnomedCode(ctx, SnomedCode{Code: "002", Name: "Dangling", TaxonomyIDs: []string{"missing"}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown taxonomy, got %v", err)
	}
	got, total, _ = s.ListResources(ctx, ResourceQuery{SnomedCodes: []string{"001"}, Sort: "name"})
	if total != 2 || got[0].ID != onlyBeta.ID || got[1].ID != both.ID {
		t.Fatalf("snomed filter: %+v", got)
	}
	if got, _, _ = s.ListResources(ctx, ResourceQuery{SnomedCodes: []string{"999"}}); len(got) != 0 {
		t.Fatalf("unknown snomed code matched %+v", got)
	}
}
