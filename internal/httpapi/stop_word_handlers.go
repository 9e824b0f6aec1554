package httpapi

import (
	"context"
	"net/http"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
	"tlr.org/internal/obs"
)

// Reindexer rebuilds the search index, usually by queueing the reindex sweep.
type Reindexer interface {
	Reindex(ctx context.Context) error
}

type stopWordsInput struct {
	StopWords *[]string `json:"stop_words"`
}

func (a *API) handleShowStopWords(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionRead, auth.EntityStopWords, auth.Target{}); !ok {
		return
	}
	words, err := a.store.StopWords(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if words == nil {
		words = []string{}
	}
	a.record(r, audit.ActionRead, string(auth.EntityStopWords), "", "viewed stop words")
	writeJSON(w, http.StatusOK, itemResponse{Data: words})
}

// handleUpdateStopWords replaces the stop word list. The index analyser
// reads it at creation, so a reindex is queued.
func (a *API) handleUpdateStopWords(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionUpdate, auth.EntityStopWords, auth.Target{}); !ok {
		return
	}
	var in stopWordsInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.StopWords == nil {
		writeFieldError(w, "stop_words", "The stop words field is required.")
		return
	}
	words := directory.NormalizeStopWords(*in.StopWords)
	if err := a.store.SetStopWords(r.Context(), words); err != nil {
		handleStoreError(w, r, err)
		return
	}
	if a.reindex != nil {
		if err := a.reindex.Reindex(r.Context()); err != nil {
			obs.Warn("reindex trigger failed", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"error":      err,
			})
		}
	}
	a.record(r, audit.ActionUpdate, string(auth.EntityStopWords), "", "updated stop words")
	writeJSON(w, http.StatusOK, itemResponse{Data: words})
}
