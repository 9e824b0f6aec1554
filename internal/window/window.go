// Package window classifies timestamps into named month-based windows and
// decides which reminders or deletions are due on a scheduled run.
package window

import (
	"fmt"
	"time"
)

// ID names a window.
type ID string

const (
	StaleSixToTwelve ID = "stale-6-to-12"
	StaleAfterTwelve ID = "stale-after-12"
	DueForDeletion   ID = "due-for-deletion"
)

// Trigger controls when a window fires for a timestamp inside it.
type Trigger int

const (
	// TriggerMonthly fires on each whole-month anniversary inside the window.
	TriggerMonthly Trigger = iota
	// TriggerOnEntry fires once, on the anniversary equal to From.
	TriggerOnEntry
	// TriggerAlways is due on every run while inside the window.
	TriggerAlways
)

// Window is a named interval of whole months since a reference timestamp.
// From is inclusive. To is inclusive unless Open is set, in which case the
// window has no upper bound.
type Window struct {
	ID      ID
	From    int
	To      int
	Open    bool
	Trigger Trigger
}

// Contains reports whether months falls inside the window.
func (w Window) Contains(months int) bool {
	if months < w.From {
		return false
	}
	return w.Open || months <= w.To
}

func (w Window) fires(months int) bool {
	if !w.Contains(months) {
		return false
	}
	switch w.Trigger {
	case TriggerOnEntry:
		return months == w.From
	default:
		return true
	}
}

// Config holds the thresholds, in months.
type Config struct {
	StaleFrom       int
	StaleTo         int
	EscalateAfter   int
	RetentionMonths int
}

// DefaultConfig matches the standard reminder and retention policy.
func DefaultConfig() Config {
	return Config{StaleFrom: 6, StaleTo: 12, EscalateAfter: 12, RetentionMonths: 6}
}

// Firing is a window due on this run. Anniversary is the whole-month count it
// fired at and, with the window and reference timestamp, keys de-duplication.
type Firing struct {
	Window      ID
	Anniversary int
}

// Key identifies a firing for one entity.
func (f Firing) Key(entityID string, ref time.Time) string {
	return fmt.Sprintf("%s:%s:%d:%d", f.Window, entityID, ref.UTC().Unix(), f.Anniversary)
}

// Evaluator evaluates the window table for a configuration.
type Evaluator struct {
	cfg     Config
	windows []Window
}

// New builds an evaluator from cfg.
func New(cfg Config) *Evaluator {
	return &Evaluator{
		cfg: cfg,
		windows: []Window{
			{ID: StaleSixToTwelve, From: cfg.StaleFrom, To: cfg.StaleTo, Trigger: TriggerMonthly},
			{ID: StaleAfterTwelve, From: cfg.EscalateAfter, Open: true, Trigger: TriggerOnEntry},
			{ID: DueForDeletion, From: cfg.RetentionMonths, Open: true, Trigger: TriggerAlways},
		},
	}
}

// Config returns the evaluator's thresholds.
func (e *Evaluator) Config() Config { return e.cfg }

// Windows returns a copy of the window table.
func (e *Evaluator) Windows() []Window {
	out := make([]Window, len(e.windows))
	copy(out, e.windows)
	return out
}

// Classify returns the windows ref currently falls into.
func (e *Evaluator) Classify(ref, now time.Time) []ID {
	months := MonthsElapsed(ref, now)
	var out []ID
	for _, w := range e.windows {
		if w.Contains(months) {
			out = append(out, w.ID)
		}
	}
	return out
}

// Due returns the windows that fire on a run at now. A monthly window fires
// once per whole-month count; callers de-duplicate repeated runs in the same
// month with Firing.Key.
func (e *Evaluator) Due(ref, now time.Time) []Firing {
	months := MonthsElapsed(ref, now)
	var out []Firing
	for _, w := range e.windows {
		if w.fires(months) {
			out = append(out, Firing{Window: w.ID, Anniversary: months})
		}
	}
	return out
}

// DueIn reports whether id fires on a run at now.
func (e *Evaluator) DueIn(id ID, ref, now time.Time) (Firing, bool) {
	for _, f := range e.Due(ref, now) {
		if f.Window == id {
			return f, true
		}
	}
	return Firing{}, false
}

// DeletionCutoff returns the instant before which a reference timestamp is
// due for deletion at now.
func (e *Evaluator) DeletionCutoff(now time.Time) time.Time {
	return AddMonths(now, -e.cfg.RetentionMonths)
}
