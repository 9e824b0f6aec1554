// Package audit records who did what to which directory entity.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tlr.org/internal/auth"
	"tlr.org/internal/ids"
	"tlr.org/internal/obs"
)

// Actions recorded for endpoint hits.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionLogin  = "login"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request id stored by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Event is one audited action.
type Event struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Action      string    `json:"action"`
	Entity      string    `json:"entity"`
	EntityID    string    `json:"entity_id,omitempty"`
	Description string    `json:"description,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink persists events beyond the log stream.
type Sink interface {
	RecordAudit(ctx context.Context, e Event) error
}

// Recorder writes events to the log and, when configured, a Sink.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// NewRecorder returns a Recorder. sink may be nil.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

// Record fills identity fields from ctx and emits the event. A sink failure
// is logged and returned; the log line is always written first.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" || strings.TrimSpace(e.Entity) == "" {
		return errors.New("audit: action and entity are required")
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	if e.RequestID == "" {
		e.RequestID = RequestID(ctx)
	}
	if e.UserID == "" {
		if p := auth.PrincipalFromContext(ctx); p != nil {
			e.UserID = p.User.ID
		}
	}
	if err := writeLine(e); err != nil {
		return err
	}
	if r.sink == nil {
		return nil
	}
	if err := r.sink.RecordAudit(ctx, e); err != nil {
		obs.Warn("audit sink failed", map[string]any{"audit_id": e.ID, "error": err})
		return err
	}
	return nil
}

func writeLine(e Event) error {
	entry := map[string]any{
		"ts":     e.CreatedAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  e.Entity + "." + e.Action,
		"id":     e.ID,
		"action": e.Action,
		"entity": e.Entity,
	}
	optional := map[string]string{
		"request_id":  e.RequestID,
		"user_id":     e.UserID,
		"entity_id":   e.EntityID,
		"description": e.Description,
		"ip_address":  e.IPAddress,
	}
	for k, v := range optional {
		if v != "" {
			entry[k] = v
		}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
