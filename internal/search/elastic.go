package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Elastic talks to the Elasticsearch REST API for a single index.
type Elastic struct {
	baseURL string
	index   string
	client  *http.Client
}

var _ Indexer = (*Elastic)(nil)

func NewElastic(baseURL, index string) *Elastic {
	return &Elastic{
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

var serviceMapping = map[string]any{
	"properties": map[string]any{
		"id":               map[string]any{"type": "keyword"},
		"organisation_id":  map[string]any{"type": "keyword"},
		"name":             map[string]any{"type": "text", "analyzer": "english_stop", "fields": map[string]any{"keyword": map[string]any{"type": "keyword"}}},
		"intro":            map[string]any{"type": "text", "analyzer": "english_stop"},
		"description":      map[string]any{"type": "text", "analyzer": "english_stop"},
		"status":           map[string]any{"type": "keyword"},
		"last_modified_at": map[string]any{"type": "date"},
	},
}

func (e *Elastic) DropIndex(ctx context.Context) error {
	status, body, err := e.do(ctx, http.MethodDelete, "/"+e.index, nil, "")
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrIndexMissing
	}
	return checkStatus("drop index", status, body)
}

func (e *Elastic) CreateIndex(ctx context.Context, settings Settings) error {
	stopWords := settings.StopWords
	if len(stopWords) == 0 {
		stopWords = []string{"_english_"}
	}
	payload := map[string]any{
		"settings": map[string]any{
			"analysis": map[string]any{
				"filter": map[string]any{
					"directory_stop": map[string]any{"type": "stop", "stopwords": stopWords},
				},
				"analyzer": map[string]any{
					"english_stop": map[string]any{
						"type":      "custom",
						"tokenizer": "standard",
						"filter":    []string{"lowercase", "directory_stop"},
					},
				},
			},
		},
	}
	status, body, err := e.doJSON(ctx, http.MethodPut, "/"+e.index, payload)
	if err != nil {
		return err
	}
	return checkStatus("create index", status, body)
}

func (e *Elastic) UpdateMapping(ctx context.Context) error {
	status, body, err := e.doJSON(ctx, http.MethodPut, "/"+e.index+"/_mapping", serviceMapping)
	if err != nil {
		return err
	}
	return checkStatus("update mapping", status, body)
}

// Import bulk indexes docs. Item failures are reported with the first reason.
func (e *Elastic) Import(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if err := enc.Encode(map[string]any{"index": map[string]any{"_index": e.index, "_id": d.ID}}); err != nil {
			return err
		}
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	status, body, err := e.do(ctx, http.MethodPost, "/_bulk?refresh=true", &buf, "application/x-ndjson")
	if err != nil {
		return err
	}
	if err := checkStatus("bulk import", status, body); err != nil {
		return err
	}
	result := gjson.ParseBytes(body)
	if !result.Get("errors").Bool() {
		return nil
	}
	failed := 0
	reason := ""
	result.Get("items.#.index.error.reason").ForEach(func(_, v gjson.Result) bool {
		failed++
		if reason == "" {
			reason = v.String()
		}
		return true
	})
	return fmt.Errorf("search: bulk import: %d of %d documents failed: %s", failed, len(docs), reason)
}

func (e *Elastic) Upsert(ctx context.Context, doc Document) error {
	status, body, err := e.doJSON(ctx, http.MethodPut, "/"+e.index+"/_doc/"+url.PathEscape(doc.ID), doc)
	if err != nil {
		return err
	}
	return checkStatus("upsert", status, body)
}

func (e *Elastic) Delete(ctx context.Context, id string) error {
	status, body, err := e.do(ctx, http.MethodDelete, "/"+e.index+"/_doc/"+url.PathEscape(id), nil, "")
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	return checkStatus("delete", status, body)
}

func (e *Elastic) doJSON(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	return e.do(ctx, method, path, bytes.NewReader(data), "application/json")
}

func (e *Elastic) do(ctx context.Context, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("search: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func checkStatus(op string, status int, body []byte) error {
	if status < 300 {
		return nil
	}
	reason := gjson.GetBytes(body, "error.reason").String()
	if reason == "" {
		reason = strings.TrimSpace(string(body))
	}
	return fmt.Errorf("search: %s: status %d: %s", op, status, reason)
}
