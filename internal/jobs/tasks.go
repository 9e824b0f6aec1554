package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"tlr.org/internal/config"
	"tlr.org/internal/mail"
	"tlr.org/internal/obs"
	"tlr.org/internal/search"
)

const sweepPrefix = "sweep:"

// TaskType returns the asynq task type for a sweep.
func TaskType(sweep string) string { return sweepPrefix + sweep }

// SweepHandler runs sweep tasks produced by the scheduler.
type SweepHandler struct {
	runner *Runner
}

func NewSweepHandler(r *Runner) *SweepHandler {
	return &SweepHandler{runner: r}
}

func (h *SweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	sweep := strings.TrimPrefix(t.Type(), sweepPrefix)
	start := time.Now()
	sum, err := h.runner.Run(ctx, sweep)
	if err != nil {
		obs.Error("sweep failed", map[string]any{"sweep": sweep, "error": err})
		return err
	}
	fields := summaryFields(sum)
	fields["duration_ms"] = time.Since(start).Milliseconds()
	obs.Info("sweep task done", fields)
	return nil
}

// Handlers groups the worker's task handlers.
type Handlers struct {
	Sweeps *SweepHandler
	Mail   *mail.Handler
	Search *search.SyncHandler
}

// NewMux routes every task type the worker understands.
func NewMux(h Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	if h.Sweeps != nil {
		mux.Handle(sweepPrefix, h.Sweeps)
	}
	if h.Mail != nil {
		mux.Handle(mail.TypeSend, h.Mail)
	}
	if h.Search != nil {
		mux.Handle(search.TypeSync, h.Search)
	}
	return mux
}

// Entry is one periodic sweep.
type Entry struct {
	Spec  string
	Sweep string
}

// Entries lists the periodic sweeps for cfg.
func Entries(cfg config.ScheduleConfig) []Entry {
	return []Entry{
		{Spec: cfg.StaleServices, Sweep: SweepStaleServices},
		{Spec: cfg.AutoDeleteReferrals, Sweep: SweepAutoDeleteReferrals},
	}
}

// Register adds the periodic sweeps to an asynq scheduler. Each run is unique
// for an hour so overlapping schedulers enqueue it once.
func Register(s *asynq.Scheduler, cfg config.ScheduleConfig) error {
	for _, e := range Entries(cfg) {
		if strings.TrimSpace(e.Spec) == "" {
			continue
		}
		id, err := s.Register(e.Spec, asynq.NewTask(TaskType(e.Sweep), nil),
			asynq.Unique(time.Hour), asynq.MaxRetry(1), asynq.Timeout(30*time.Minute))
		if err != nil {
			return fmt.Errorf("schedule %s: %w", e.Sweep, err)
		}
		obs.Info("sweep scheduled", map[string]any{"sweep": e.Sweep, "spec": e.Spec, "entry_id": id})
	}
	return nil
}

// Trigger queues sweeps outside the schedule.
type Trigger struct {
	client *asynq.Client
}

func NewTrigger(client *asynq.Client) *Trigger {
	return &Trigger{client: client}
}

// Enqueue queues one run of sweep. A run that is already queued absorbs the
// request.
func (t *Trigger) Enqueue(ctx context.Context, sweep string) error {
	_, err := t.client.EnqueueContext(ctx, asynq.NewTask(TaskType(sweep), nil),
		asynq.Unique(10*time.Minute), asynq.MaxRetry(1), asynq.Timeout(30*time.Minute))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		obs.Info("sweep already queued", map[string]any{"sweep": sweep})
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", sweep, err)
	}
	obs.Info("sweep queued", map[string]any{"sweep": sweep})
	return nil
}

// Reindex queues the search reindex sweep.
func (t *Trigger) Reindex(ctx context.Context) error {
	return t.Enqueue(ctx, SweepReindexSearch)
}
