package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"tlr.org/internal/directory"
	"tlr.org/internal/obs"
)

// TypeSync is the asynq task type that refreshes one service document.
const TypeSync = "search:sync"

// SyncPayload names the service to refresh.
type SyncPayload struct {
	ServiceID string `json:"service_id"`
}

// Syncer schedules index refreshes after service writes.
type Syncer interface {
	Sync(ctx context.Context, serviceID string) error
}

// ServiceSource loads services for indexing.
type ServiceSource interface {
	Service(ctx context.Context, id string) (directory.Service, error)
}

// Refresh upserts the current service document, or deletes it when the
// service no longer exists.
func Refresh(ctx context.Context, src ServiceSource, idx Indexer, serviceID string) error {
	svc, err := src.Service(ctx, serviceID)
	if errors.Is(err, directory.ErrNotFound) {
		return idx.Delete(ctx, serviceID)
	}
	if err != nil {
		return err
	}
	return idx.Upsert(ctx, DocumentFor(svc))
}

// Inline refreshes the index synchronously.
type Inline struct {
	Source  ServiceSource
	Indexer Indexer
}

func (s Inline) Sync(ctx context.Context, serviceID string) error {
	return Refresh(ctx, s.Source, s.Indexer, serviceID)
}

// AsynqSyncer enqueues search:sync tasks.
type AsynqSyncer struct {
	client *asynq.Client
}

func NewAsynqSyncer(client *asynq.Client) *AsynqSyncer {
	return &AsynqSyncer{client: client}
}

func (s *AsynqSyncer) Sync(ctx context.Context, serviceID string) error {
	data, err := json.Marshal(SyncPayload{ServiceID: serviceID})
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(TypeSync, data), asynq.MaxRetry(3), asynq.Timeout(time.Minute))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeSync, err)
	}
	return nil
}

// SyncHandler processes search:sync tasks in the worker.
type SyncHandler struct {
	source  ServiceSource
	indexer Indexer
}

func NewSyncHandler(source ServiceSource, indexer Indexer) *SyncHandler {
	return &SyncHandler{source: source, indexer: indexer}
}

func (h *SyncHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p SyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.ServiceID == "" {
		return fmt.Errorf("invalid %s payload: %w", TypeSync, asynq.SkipRetry)
	}
	if err := Refresh(ctx, h.source, h.indexer, p.ServiceID); err != nil {
		obs.Warn("search sync failed", map[string]any{"service_id": p.ServiceID, "error": err})
		return err
	}
	return nil
}
