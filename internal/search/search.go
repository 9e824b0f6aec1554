// Package search keeps the service search index in step with the directory.
package search

import (
	"context"
	"errors"
	"time"

	"tlr.org/internal/config"
	"tlr.org/internal/directory"
)

// ErrIndexMissing is returned by DropIndex when there is nothing to drop.
var ErrIndexMissing = errors.New("search: index does not exist")

// Document is the indexed form of a service.
type Document struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Name           string    `json:"name"`
	Intro          string    `json:"intro"`
	Description    string    `json:"description"`
	Status         string    `json:"status"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}

func DocumentFor(s directory.Service) Document {
	return Document{
		ID:             s.ID,
		OrganisationID: s.OrganisationID,
		Name:           s.Name,
		Intro:          s.Intro,
		Description:    s.Description,
		Status:         s.Status,
		LastModifiedAt: s.LastModifiedAt,
	}
}

// Settings configure index creation.
type Settings struct {
	StopWords []string
}

// Indexer manages the services index.
type Indexer interface {
	DropIndex(ctx context.Context) error
	CreateIndex(ctx context.Context, settings Settings) error
	UpdateMapping(ctx context.Context) error
	Import(ctx context.Context, docs []Document) error
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id string) error
}

// Nop discards every call. It is used when no search driver is configured.
type Nop struct{}

var _ Indexer = Nop{}

func (Nop) DropIndex(context.Context) error             { return nil }
func (Nop) CreateIndex(context.Context, Settings) error { return nil }
func (Nop) UpdateMapping(context.Context) error         { return nil }
func (Nop) Import(context.Context, []Document) error    { return nil }
func (Nop) Upsert(context.Context, Document) error      { return nil }
func (Nop) Delete(context.Context, string) error        { return nil }

// Open returns the indexer for the configured driver.
func Open(cfg config.SearchConfig) Indexer {
	if cfg.Driver == config.SearchDriverElastic {
		return NewElastic(cfg.URL, cfg.Index)
	}
	return Nop{}
}
