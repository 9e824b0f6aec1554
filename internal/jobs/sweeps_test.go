package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tlr.org/internal/auth"
	"tlr.org/internal/config"
	"tlr.org/internal/directory"
	"tlr.org/internal/mail"
	"tlr.org/internal/search"
	"tlr.org/internal/window"
)

var runAt = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *directory.InMemory
	outbox *mail.Outbox
	out    *bytes.Buffer
	cfg    config.Config
	org    directory.Organisation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := directory.NewInMemory()
	store.SetClock(func() time.Time { return runAt })
	org, err := store.CreateOrganisation(context.Background(), directory.Organisation{Slug: "helping-hands", Name: "Helping Hands"})
	if err != nil {
		t.Fatalf("CreateOrganisation: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.Secret = "test-secret"
	cfg.URLs.Frontend = "https://tlr.example.org"
	return &fixture{store: store, outbox: mail.NewOutbox(), out: &bytes.Buffer{}, cfg: cfg, org: org}
}

func (f *fixture) runner(opts ...Option) *Runner {
	base := []Option{WithClock(func() time.Time { return runAt }), WithOutput(f.out)}
	return NewRunner(f.cfg, f.store, f.outbox, append(base, opts...)...)
}

func (f *fixture) service(t *testing.T, slug string, monthsAgo int) directory.Service {
	t.Helper()
	svc, err := f.store.CreateService(context.Background(), directory.Service{
		OrganisationID: f.org.ID,
		Slug:           slug,
		Name:           strings.ToUpper(slug),
		Status:         directory.ServiceActive,
		LastModifiedAt: window.AddMonths(runAt, -monthsAgo),
	})
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	return svc
}

func (f *fixture) user(t *testing.T, email string, assignments ...auth.Assignment) auth.User {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), auth.User{FirstName: "First", LastName: email[:strings.Index(email, "@")], Email: email})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	for _, a := range assignments {
		a.UserID = u.ID
		if err := f.store.GrantRole(context.Background(), a); err != nil {
			t.Fatalf("GrantRole: %v", err)
		}
	}
	return u
}

func serviceAdmin(svc directory.Service) auth.Assignment {
	return auth.Assignment{Role: auth.RoleServiceAdmin, ServiceID: svc.ID}
}

func TestStaleServiceAdminReminders(t *testing.T) {
	cases := []struct {
		months int
		want   bool
	}{
		{5, false},
		{6, true},
		{9, true},
		{12, true},
		{13, false},
	}
	for _, tc := range cases {
		f := newFixture(t)
		svc := f.service(t, "svc", tc.months)
		f.user(t, "admin@example.org", serviceAdmin(svc))

		if _, err := f.runner().StaleServices(context.Background()); err != nil {
			t.Fatalf("%d months: StaleServices: %v", tc.months, err)
		}
		sent := f.outbox.Sent(f.cfg.Mail.TemplateID(config.TemplateStaleServiceAdmin))
		if got := len(sent) == 1; got != tc.want {
			t.Fatalf("%d months: sent=%d, want sent=%v", tc.months, len(sent), tc.want)
		}
		if !tc.want {
			continue
		}
		e := sent[0]
		if e.To != "admin@example.org" {
			t.Fatalf("unexpected recipient %s", e.To)
		}
		for _, key := range []string{"SERVICE_NAME", "SERVICE_URL", "SERVICE_STILL_UP_TO_DATE_URL"} {
			if e.Values[key] == "" {
				t.Fatalf("%d months: missing %s in %v", tc.months, key, e.Values)
			}
		}
		token := auth.RefreshToken(f.cfg.Auth.Secret, svc.ID, svc.LastModifiedAt)
		if !strings.HasSuffix(e.Values["SERVICE_STILL_UP_TO_DATE_URL"], "/services/"+svc.ID+"/refresh?token="+token) {
			t.Fatalf("unexpected refresh url %s", e.Values["SERVICE_STILL_UP_TO_DATE_URL"])
		}
	}
}

func TestStaleServiceRemindersSkipWorkersAndGlobalAdmins(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, "svc", 9)
	f.user(t, "worker@example.org", auth.Assignment{Role: auth.RoleServiceWorker, ServiceID: svc.ID})
	f.user(t, "global@example.org", auth.Assignment{Role: auth.RoleGlobalAdmin})

	if _, err := f.runner().StaleServices(context.Background()); err != nil {
		t.Fatalf("StaleServices: %v", err)
	}
	if sent := f.outbox.Sent(f.cfg.Mail.TemplateID(config.TemplateStaleServiceAdmin)); len(sent) != 0 {
		t.Fatalf("expected no service admin emails, got %+v", sent)
	}
}

func TestStaleServiceGlobalEscalation(t *testing.T) {
	cases := []struct {
		months int
		want   bool
	}{
		{11, false},
		{12, true},
		{13, false},
	}
	for _, tc := range cases {
		f := newFixture(t)
		svc := f.service(t, "svc", tc.months)
		f.user(t, "super@example.org", auth.Assignment{Role: auth.RoleSuperAdmin})
		f.user(t, "jo@example.org", serviceAdmin(svc))

		if _, err := f.runner().StaleServices(context.Background()); err != nil {
			t.Fatalf("StaleServices: %v", err)
		}
		sent := f.outbox.Sent(f.cfg.Mail.TemplateID(config.TemplateStaleGlobalAdmin))
		if got := len(sent) == 1; got != tc.want {
			t.Fatalf("%d months: sent=%d, want sent=%v", tc.months, len(sent), tc.want)
		}
		if tc.want {
			if sent[0].To != "super@example.org" || sent[0].Values["SERVICE_ADMIN_NAMES"] != "First jo" {
				t.Fatalf("unexpected escalation: %+v", sent[0])
			}
		}
	}
}

func TestStaleServiceEscalationUsesConfiguredAddress(t *testing.T) {
	f := newFixture(t)
	f.cfg.Mail.GlobalAdminEmail = "team@example.org"
	f.service(t, "svc", 12)
	f.user(t, "super@example.org", auth.Assignment{Role: auth.RoleSuperAdmin})

	if _, err := f.runner().StaleServices(context.Background()); err != nil {
		t.Fatalf("StaleServices: %v", err)
	}
	sent := f.outbox.Sent(f.cfg.Mail.TemplateID(config.TemplateStaleGlobalAdmin))
	if len(sent) != 1 || sent[0].To != "team@example.org" {
		t.Fatalf("expected one email to the configured address, got %+v", sent)
	}
}

func TestStaleServicesRerunDoesNotRepeat(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, "svc", 7)
	f.user(t, "admin@example.org", serviceAdmin(svc))
	r := f.runner()

	first, err := r.StaleServices(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := r.StaleServices(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.Acted != 1 || second.Acted != 0 || second.Skipped != 1 {
		t.Fatalf("unexpected summaries: %v / %v", first, second)
	}
	if len(f.outbox.Emails()) != 1 {
		t.Fatalf("expected a single email, got %d", len(f.outbox.Emails()))
	}
}

type failingQueue struct {
	inner *mail.Outbox
	fail  string
}

func (q failingQueue) Enqueue(ctx context.Context, e mail.Email) error {
	if e.To == q.fail {
		return errors.New("queue unavailable")
	}
	return q.inner.Enqueue(ctx, e)
}

func TestStaleServicesIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	bad := f.service(t, "bad", 8)
	good := f.service(t, "good", 8)
	f.user(t, "broken@example.org", serviceAdmin(bad))
	f.user(t, "fine@example.org", serviceAdmin(good))

	dedup := NewMemoryDeduper()
	q := failingQueue{inner: f.outbox, fail: "broken@example.org"}
	r := NewRunner(f.cfg, f.store, q, WithClock(func() time.Time { return runAt }), WithOutput(f.out), WithDeduper(dedup))

	sum, err := r.StaleServices(context.Background())
	if err != nil {
		t.Fatalf("StaleServices: %v", err)
	}
	if sum.Failed != 1 || sum.Acted != 1 {
		t.Fatalf("unexpected summary: %v", sum)
	}
	if sent := f.outbox.Emails(); len(sent) != 1 || sent[0].To != "fine@example.org" {
		t.Fatalf("healthy service should still be notified: %+v", sent)
	}
	// The failed claim is released so the next run retries it.
	key := window.Firing{Window: window.StaleSixToTwelve, Anniversary: 8}.Key(bad.ID, bad.LastModifiedAt) + ":broken@example.org"
	if ok, _ := dedup.Claim(context.Background(), key); !ok {
		t.Fatal("failed delivery should release its claim")
	}
}

func TestAutoDeleteReferrals(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, "svc", 1)
	ctx := context.Background()

	old := window.AddMonths(runAt, -7)
	recent := window.AddMonths(runAt, -5)
	for _, r := range []directory.Referral{
		{ServiceID: svc.ID, Name: "a", Status: directory.ReferralCompleted, CompletedAt: &old},
		{ServiceID: svc.ID, Name: "b", Status: directory.ReferralIncompleted, CompletedAt: &old},
		{ServiceID: svc.ID, Name: "c", Status: directory.ReferralCompleted, CompletedAt: &recent},
		{ServiceID: svc.ID, Name: "d", Status: directory.ReferralNew},
	} {
		if _, err := f.store.CreateReferral(ctx, r); err != nil {
			t.Fatalf("CreateReferral: %v", err)
		}
	}

	r := f.runner()
	sum, err := r.AutoDeleteReferrals(ctx)
	if err != nil || sum.Acted != 2 {
		t.Fatalf("first run: %v %v", sum, err)
	}
	out := f.out.String()
	if !strings.Contains(out, "Deleting referrals completed 6 month(s) ago...") || !strings.Contains(out, "Deleted 2 referral(s).") {
		t.Fatalf("unexpected output: %q", out)
	}

	sum, err = r.AutoDeleteReferrals(ctx)
	if err != nil || sum.Acted != 0 {
		t.Fatalf("second run should delete nothing: %v %v", sum, err)
	}
	left, total, _ := f.store.ListReferrals(ctx, directory.ReferralQuery{})
	if total != 2 || len(left) != 2 {
		t.Fatalf("expected two referrals kept, got %d", total)
	}
}

type countingIndexer struct {
	search.Nop
	dropErr   error
	created   []string
	imported  int
	callOrder []string
}

func (c *countingIndexer) DropIndex(context.Context) error {
	c.callOrder = append(c.callOrder, "drop")
	return c.dropErr
}

func (c *countingIndexer) CreateIndex(_ context.Context, s search.Settings) error {
	c.callOrder = append(c.callOrder, "create")
	c.created = s.StopWords
	return nil
}

func (c *countingIndexer) UpdateMapping(context.Context) error {
	c.callOrder = append(c.callOrder, "mapping")
	return nil
}

func (c *countingIndexer) Import(_ context.Context, docs []search.Document) error {
	c.callOrder = append(c.callOrder, "import")
	c.imported = len(docs)
	return nil
}

func TestReindexSearchSkipsWithoutElastic(t *testing.T) {
	f := newFixture(t)
	idx := &countingIndexer{}
	if _, err := f.runner(WithIndexer(idx)).ReindexSearch(context.Background()); err != nil {
		t.Fatalf("ReindexSearch: %v", err)
	}
	if len(idx.callOrder) != 0 || !strings.Contains(f.out.String(), "Did not reindex") {
		t.Fatalf("expected skip, calls=%v out=%q", idx.callOrder, f.out.String())
	}
}

func TestReindexSearchContinuesWhenDropFails(t *testing.T) {
	f := newFixture(t)
	f.cfg.Search.Driver = config.SearchDriverElastic
	f.service(t, "one", 1)
	f.service(t, "two", 2)
	if err := f.store.SetStopWords(context.Background(), []string{"the"}); err != nil {
		t.Fatalf("SetStopWords: %v", err)
	}
	idx := &countingIndexer{dropErr: search.ErrIndexMissing}

	sum, err := f.runner(WithIndexer(idx)).ReindexSearch(context.Background())
	if err != nil {
		t.Fatalf("ReindexSearch: %v", err)
	}
	if strings.Join(idx.callOrder, ",") != "drop,create,mapping,import" {
		t.Fatalf("unexpected call order %v", idx.callOrder)
	}
	if idx.imported != 2 || sum.Acted != 2 || len(idx.created) != 1 {
		t.Fatalf("unexpected result: %v imported=%d stop=%v", sum, idx.imported, idx.created)
	}
	if !strings.Contains(f.out.String(), "Could not drop index") {
		t.Fatalf("expected drop warning in output: %q", f.out.String())
	}
}

func TestRunUnknownSweep(t *testing.T) {
	f := newFixture(t)
	if _, err := f.runner().Run(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown sweep")
	}
}
