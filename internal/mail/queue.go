package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"tlr.org/internal/config"
	"tlr.org/internal/obs"
)

// AsynqQueue enqueues emails as mail:send tasks.
type AsynqQueue struct {
	client *asynq.Client
}

var _ Queue = (*AsynqQueue)(nil)

// RedisOpt converts the Redis config into asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewAsynqQueue(cfg config.RedisConfig) *AsynqQueue {
	return &AsynqQueue{client: asynq.NewClient(RedisOpt(cfg))}
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// Enqueue schedules delivery with retries. Emails carrying a DedupKey are
// enqueued at most once per key while the task is retained.
func (q *AsynqQueue) Enqueue(ctx context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	opts := []asynq.Option{asynq.MaxRetry(5), asynq.Timeout(30 * time.Second), asynq.Queue("default")}
	if e.DedupKey != "" {
		opts = append(opts, asynq.TaskID(TypeSend+":"+e.DedupKey), asynq.Retention(24*time.Hour))
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TypeSend, data), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeSend, err)
	}
	return nil
}

// Handler delivers mail:send tasks through a Sender.
type Handler struct {
	sender Sender
}

func NewHandler(sender Sender) *Handler {
	return &Handler{sender: sender}
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var e Email
	if err := json.Unmarshal(t.Payload(), &e); err != nil {
		return fmt.Errorf("unmarshal email: %v: %w", err, asynq.SkipRetry)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := h.sender.Send(ctx, e); err != nil {
		obs.Warn("mail delivery failed", map[string]any{"template_id": e.TemplateID, "error": err})
		return err
	}
	return nil
}
