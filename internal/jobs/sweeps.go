// Package jobs runs the scheduled directory sweeps: stale service reminders,
// referral retention and search reindexing.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"tlr.org/internal/auth"
	"tlr.org/internal/config"
	"tlr.org/internal/directory"
	"tlr.org/internal/mail"
	"tlr.org/internal/obs"
	"tlr.org/internal/search"
	"tlr.org/internal/window"
)

// Sweep names, also used as metric labels and CLI commands.
const (
	SweepStaleServices       = "notify:stale-services"
	SweepAutoDeleteReferrals = "auto-delete:referrals"
	SweepReindexSearch       = "reindex-search"
)

// Summary reports one sweep run.
type Summary struct {
	Sweep    string
	Examined int
	Acted    int
	Skipped  int
	Failed   int
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: examined=%d acted=%d skipped=%d failed=%d", s.Sweep, s.Examined, s.Acted, s.Skipped, s.Failed)
}

// Runner executes sweeps against the store.
type Runner struct {
	cfg     config.Config
	store   directory.Store
	queue   mail.Queue
	dedup   Deduper
	indexer search.Indexer
	windows *window.Evaluator
	now     func() time.Time
	out     io.Writer
}

type Option func(*Runner)

// WithClock overrides the run time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Runner) { r.now = fn }
}

// WithOutput redirects console lines.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

func WithDeduper(d Deduper) Option {
	return func(r *Runner) { r.dedup = d }
}

func WithIndexer(idx search.Indexer) Option {
	return func(r *Runner) { r.indexer = idx }
}

func NewRunner(cfg config.Config, store directory.Store, queue mail.Queue, opts ...Option) *Runner {
	r := &Runner{
		cfg:   cfg,
		store: store,
		queue: queue,
		dedup: NewMemoryDeduper(),
		windows: window.New(window.Config{
			StaleFrom:       cfg.Windows.StaleFrom,
			StaleTo:         cfg.Windows.StaleTo,
			EscalateAfter:   cfg.Windows.EscalateAfter,
			RetentionMonths: cfg.Windows.RetentionMonths,
		}),
		indexer: search.Nop{},
		now:     func() time.Time { return time.Now().UTC() },
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run dispatches a sweep by name.
func (r *Runner) Run(ctx context.Context, sweep string) (Summary, error) {
	switch sweep {
	case SweepStaleServices:
		return r.StaleServices(ctx)
	case SweepAutoDeleteReferrals:
		return r.AutoDeleteReferrals(ctx)
	case SweepReindexSearch:
		return r.ReindexSearch(ctx)
	}
	return Summary{}, fmt.Errorf("unknown sweep %q", sweep)
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// StaleServices mails service admins about services in the stale window and
// global admins about services that just passed the escalation threshold.
// A failure on one service is logged and the sweep continues.
func (r *Runner) StaleServices(ctx context.Context) (Summary, error) {
	now := r.now()
	sum := Summary{Sweep: SweepStaleServices}

	// Superset of candidates; the evaluator decides exactly.
	from := r.windows.Config().StaleFrom
	before := now.Add(time.Second)
	if from > 1 {
		before = window.AddMonths(now, -(from - 1))
	}
	services, err := r.store.ListServicesModifiedBefore(ctx, before)
	if err != nil {
		return sum, fmt.Errorf("list stale services: %w", err)
	}

	for _, svc := range services {
		firings := r.windows.Due(svc.LastModifiedAt, now)
		if len(firings) == 0 {
			continue
		}
		sum.Examined++
		for _, f := range firings {
			var sent, skipped int
			var err error
			switch f.Window {
			case window.StaleSixToTwelve:
				sent, skipped, err = r.notifyServiceAdmins(ctx, svc, f)
			case window.StaleAfterTwelve:
				sent, skipped, err = r.notifyGlobalAdmins(ctx, svc, f)
			default:
				continue
			}
			sum.Acted += sent
			sum.Skipped += skipped
			if err != nil {
				sum.Failed++
				obs.SweepItem(SweepStaleServices, "failed")
				obs.Warn("stale service notification failed", map[string]any{
					"service_id": svc.ID,
					"window":     string(f.Window),
					"error":      err,
				})
				continue
			}
			obs.SweepItem(SweepStaleServices, "notified")
		}
	}

	r.printf("Sent %d stale service notification(s) for %d service(s).", sum.Acted, sum.Examined)
	obs.Info("sweep finished", summaryFields(sum))
	return sum, nil
}

func (r *Runner) serviceValues(svc directory.Service) map[string]string {
	base := r.cfg.URLs.Frontend
	token := auth.RefreshToken(r.cfg.Auth.Secret, svc.ID, svc.LastModifiedAt)
	return map[string]string{
		"SERVICE_NAME":                 svc.Name,
		"SERVICE_URL":                  base + "/services/" + svc.Slug,
		// The frontend page at this path checks the token and sends the PUT.
		"SERVICE_STILL_UP_TO_DATE_URL": base + "/services/" + svc.ID + "/refresh?token=" + token,
	}
}

func (r *Runner) notifyServiceAdmins(ctx context.Context, svc directory.Service, f window.Firing) (int, int, error) {
	admins, err := r.store.UsersWithRole(ctx, auth.RoleServiceAdmin, svc.ID)
	if err != nil {
		return 0, 0, err
	}
	values := r.serviceValues(svc)
	var sent, skipped int
	var errs []error
	for _, u := range admins {
		email := mail.Compose(r.cfg.Mail, config.TemplateStaleServiceAdmin, u.Email, values)
		ok, err := r.deliver(ctx, f.Key(svc.ID, svc.LastModifiedAt)+":"+u.Email, email)
		switch {
		case err != nil:
			errs = append(errs, err)
		case ok:
			sent++
		default:
			skipped++
		}
	}
	return sent, skipped, errors.Join(errs...)
}

func (r *Runner) notifyGlobalAdmins(ctx context.Context, svc directory.Service, f window.Firing) (int, int, error) {
	recipients, err := r.globalRecipients(ctx)
	if err != nil {
		return 0, 0, err
	}
	admins, err := r.store.UsersWithRole(ctx, auth.RoleServiceAdmin, svc.ID)
	if err != nil {
		return 0, 0, err
	}
	names := make([]string, 0, len(admins))
	for _, u := range admins {
		names = append(names, u.FullName())
	}
	values := r.serviceValues(svc)
	values["SERVICE_ADMIN_NAMES"] = strings.Join(names, ", ")

	var sent, skipped int
	var errs []error
	for _, to := range recipients {
		email := mail.Compose(r.cfg.Mail, config.TemplateStaleGlobalAdmin, to, values)
		ok, err := r.deliver(ctx, f.Key(svc.ID, svc.LastModifiedAt)+":"+to, email)
		switch {
		case err != nil:
			errs = append(errs, err)
		case ok:
			sent++
		default:
			skipped++
		}
	}
	return sent, skipped, errors.Join(errs...)
}

// globalRecipients is the configured global admin address, or every global
// and super admin when none is configured.
func (r *Runner) globalRecipients(ctx context.Context) ([]string, error) {
	if addr := strings.TrimSpace(r.cfg.Mail.GlobalAdminEmail); addr != "" {
		return []string{addr}, nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, role := range []auth.RoleKind{auth.RoleGlobalAdmin, auth.RoleSuperAdmin} {
		users, err := r.store.UsersWithRole(ctx, role, "")
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if _, ok := seen[u.Email]; ok {
				continue
			}
			seen[u.Email] = struct{}{}
			out = append(out, u.Email)
		}
	}
	sort.Strings(out)
	return out, nil
}

// deliver enqueues email once per key. It reports false when the key was
// already claimed by an earlier run.
func (r *Runner) deliver(ctx context.Context, key string, email mail.Email) (bool, error) {
	claimed, err := r.dedup.Claim(ctx, key)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		return false, nil
	}
	email.DedupKey = key
	if err := r.queue.Enqueue(ctx, email); err != nil {
		if rerr := r.dedup.Release(ctx, key); rerr != nil {
			obs.Warn("dedup release failed", map[string]any{"key": key, "error": rerr})
		}
		return false, err
	}
	return true, nil
}

// AutoDeleteReferrals removes closed referrals completed before the
// retention cutoff. Running it twice deletes nothing the second time.
func (r *Runner) AutoDeleteReferrals(ctx context.Context) (Summary, error) {
	months := r.windows.Config().RetentionMonths
	sum := Summary{Sweep: SweepAutoDeleteReferrals}

	r.printf("Deleting referrals completed %d month(s) ago...", months)
	n, err := r.store.DeleteReferralsDueBefore(ctx, r.windows.DeletionCutoff(r.now()))
	if err != nil {
		obs.SweepItem(SweepAutoDeleteReferrals, "failed")
		return sum, fmt.Errorf("delete referrals: %w", err)
	}
	sum.Examined, sum.Acted = n, n
	obs.SweepItems(SweepAutoDeleteReferrals, "deleted", n)
	r.printf("Deleted %d referral(s).", n)
	obs.Info("sweep finished", summaryFields(sum))
	return sum, nil
}

// ReindexSearch drops, recreates and repopulates the services index.
func (r *Runner) ReindexSearch(ctx context.Context) (Summary, error) {
	sum := Summary{Sweep: SweepReindexSearch}
	if r.cfg.Search.Driver != config.SearchDriverElastic {
		r.printf("Did not reindex due to not using the [elastic] search driver.")
		obs.Warn("reindex skipped", map[string]any{"driver": r.cfg.Search.Driver})
		return sum, nil
	}

	r.printf("Dropping index...")
	if err := r.indexer.DropIndex(ctx); err != nil {
		r.printf("Could not drop index, this is most likely due to the index not already existing.")
		obs.Warn("drop index failed", map[string]any{"error": err})
	}

	stopWords, err := r.store.StopWords(ctx)
	if err != nil {
		return sum, fmt.Errorf("load stop words: %w", err)
	}
	r.printf("Creating index...")
	if err := r.indexer.CreateIndex(ctx, search.Settings{StopWords: stopWords}); err != nil {
		return sum, fmt.Errorf("create index: %w", err)
	}
	r.printf("Updating index mapping...")
	if err := r.indexer.UpdateMapping(ctx); err != nil {
		return sum, fmt.Errorf("update mapping: %w", err)
	}

	r.printf("Importing models...")
	services, err := r.store.AllServices(ctx)
	if err != nil {
		return sum, fmt.Errorf("list services: %w", err)
	}
	docs := make([]search.Document, 0, len(services))
	for _, svc := range services {
		docs = append(docs, search.DocumentFor(svc))
	}
	sum.Examined = len(docs)
	if err := r.indexer.Import(ctx, docs); err != nil {
		sum.Failed = len(docs)
		return sum, fmt.Errorf("import: %w", err)
	}
	sum.Acted = len(docs)
	obs.Info("sweep finished", summaryFields(sum))
	return sum, nil
}

// Reindex runs the reindex sweep in process.
func (r *Runner) Reindex(ctx context.Context) error {
	_, err := r.ReindexSearch(ctx)
	return err
}

func summaryFields(s Summary) map[string]any {
	return map[string]any{
		"sweep":    s.Sweep,
		"examined": s.Examined,
		"acted":    s.Acted,
		"skipped":  s.Skipped,
		"failed":   s.Failed,
	}
}
