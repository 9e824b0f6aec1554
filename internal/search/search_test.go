package search

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hibiken/asynq"

	"tlr.org/internal/config"
	"tlr.org/internal/directory"
)

type call struct {
	method string
	path   string
	body   string
}

type fakeElastic struct {
	mu     sync.Mutex
	calls  []call
	status map[string]int
	reply  map[string]string
}

func newFakeElastic(t *testing.T) (*fakeElastic, *httptest.Server) {
	t.Helper()
	f := &fakeElastic{status: map[string]int{}, reply: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.calls = append(f.calls, call{method: r.Method, path: r.URL.Path, body: string(body)})
		status, ok := f.status[key]
		reply := f.reply[key]
		f.mu.Unlock()
		if !ok {
			status = http.StatusOK
		}
		if reply == "" {
			reply = `{"acknowledged":true}`
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestElasticDropMissingIndex(t *testing.T) {
	f, srv := newFakeElastic(t)
	f.status["DELETE /services"] = http.StatusNotFound
	f.reply["DELETE /services"] = `{"error":{"reason":"no such index [services]"},"status":404}`

	err := NewElastic(srv.URL, "services").DropIndex(context.Background())
	if !errors.Is(err, ErrIndexMissing) {
		t.Fatalf("expected ErrIndexMissing, got %v", err)
	}
}

func TestElasticCreateIndexCarriesStopWords(t *testing.T) {
	f, srv := newFakeElastic(t)
	es := NewElastic(srv.URL+"/", "services")
	if err := es.CreateIndex(context.Background(), Settings{StopWords: []string{"the", "and"}}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if len(f.calls) != 1 || f.calls[0].method != http.MethodPut || f.calls[0].path != "/services" {
		t.Fatalf("unexpected calls: %+v", f.calls)
	}
	if !strings.Contains(f.calls[0].body, `"stopwords":["the","and"]`) {
		t.Fatalf("stop words missing from settings: %s", f.calls[0].body)
	}
}

func TestElasticErrorReason(t *testing.T) {
	f, srv := newFakeElastic(t)
	f.status["PUT /services/_mapping"] = http.StatusBadRequest
	f.reply["PUT /services/_mapping"] = `{"error":{"reason":"mapper conflict"}}`

	err := NewElastic(srv.URL, "services").UpdateMapping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "mapper conflict") {
		t.Fatalf("expected reason in error, got %v", err)
	}
}

func TestElasticImportWritesNDJSON(t *testing.T) {
	f, srv := newFakeElastic(t)
	f.reply["POST /_bulk"] = `{"errors":false,"items":[]}`

	docs := []Document{{ID: "a", Name: "Alpha"}, {ID: "b", Name: "Beta"}}
	if err := NewElastic(srv.URL, "services").Import(context.Background(), docs); err != nil {
		t.Fatalf("Import: %v", err)
	}
	sc := bufio.NewScanner(strings.NewReader(f.calls[0].body))
	lines := 0
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 4 {
		t.Fatalf("expected 4 ndjson lines, got %d", lines)
	}
}

func TestElasticImportReportsItemFailures(t *testing.T) {
	f, srv := newFakeElastic(t)
	f.reply["POST /_bulk"] = `{"errors":true,"items":[
		{"index":{"_id":"a","status":201}},
		{"index":{"_id":"b","status":400,"error":{"reason":"failed to parse"}}}
	]}`

	err := NewElastic(srv.URL, "services").Import(context.Background(), []Document{{ID: "a"}, {ID: "b"}})
	if err == nil || !strings.Contains(err.Error(), "1 of 2") || !strings.Contains(err.Error(), "failed to parse") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestElasticDeleteMissingDocIsFine(t *testing.T) {
	f, srv := newFakeElastic(t)
	f.status["DELETE /services/_doc/gone"] = http.StatusNotFound
	if err := NewElastic(srv.URL, "services").Delete(context.Background(), "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

type recordingIndexer struct {
	Nop
	upserts []Document
	deletes []string
}

func (r *recordingIndexer) Upsert(_ context.Context, d Document) error {
	r.upserts = append(r.upserts, d)
	return nil
}

func (r *recordingIndexer) Delete(_ context.Context, id string) error {
	r.deletes = append(r.deletes, id)
	return nil
}

type stubSource map[string]directory.Service

func (s stubSource) Service(_ context.Context, id string) (directory.Service, error) {
	svc, ok := s[id]
	if !ok {
		return directory.Service{}, directory.ErrNotFound
	}
	return svc, nil
}

func TestRefreshUpsertsOrDeletes(t *testing.T) {
	idx := &recordingIndexer{}
	src := stubSource{"s1": {ID: "s1", Name: "Food Bank"}}
	ctx := context.Background()

	if err := (Inline{Source: src, Indexer: idx}).Sync(ctx, "s1"); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := Refresh(ctx, src, idx, "s2"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(idx.upserts) != 1 || idx.upserts[0].Name != "Food Bank" {
		t.Fatalf("unexpected upserts: %+v", idx.upserts)
	}
	if len(idx.deletes) != 1 || idx.deletes[0] != "s2" {
		t.Fatalf("unexpected deletes: %+v", idx.deletes)
	}
}

func TestSyncHandler(t *testing.T) {
	idx := &recordingIndexer{}
	h := NewSyncHandler(stubSource{"s1": {ID: "s1"}}, idx)

	payload, _ := json.Marshal(SyncPayload{ServiceID: "s1"})
	if err := h.ProcessTask(context.Background(), asynq.NewTask(TypeSync, payload)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if len(idx.upserts) != 1 {
		t.Fatalf("expected an upsert")
	}
	if err := h.ProcessTask(context.Background(), asynq.NewTask(TypeSync, []byte(`{}`))); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	if _, ok := Open(config.SearchConfig{Driver: config.SearchDriverNull}).(Nop); !ok {
		t.Fatal("null driver should give Nop")
	}
	if _, ok := Open(config.SearchConfig{Driver: config.SearchDriverElastic, URL: "http://es:9200", Index: "services"}).(*Elastic); !ok {
		t.Fatal("elastic driver should give *Elastic")
	}
}
