package httpapi

import (
	"net/http"
	"slices"
	"testing"
)

func TestStopWords(t *testing.T) {
	c := newTestAPI(t)
	body := map[string]any{"stop_words": []string{"The", "and", " of ", "the"}}

	resp := c.put("/core/v1/stop-words", body, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	orgAdmin := c.orgAdmin("orgadmin@example.org", c.org.ID)
	resp = c.put("/core/v1/stop-words", body, orgAdmin)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	global := c.globalAdmin()
	expectFieldError(t, c.put("/core/v1/stop-words", map[string]any{}, global), "stop_words")

	resp = c.put("/core/v1/stop-words", body, global)
	expectStatus(t, resp, http.StatusOK)
	want := []string{"the", "and", "of"}
	if got := decode[struct {
		Data []string `json:"data"`
	}](t, resp).Data; !slices.Equal(got, want) {
		t.Fatalf("stop words = %v, want %v", got, want)
	}
	if c.reindex.calls != 1 {
		t.Fatalf("expected one reindex, got %d", c.reindex.calls)
	}

	resp = c.get("/core/v1/stop-words", nil, global)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[struct {
		Data []string `json:"data"`
	}](t, resp).Data; !slices.Equal(got, want) {
		t.Fatalf("stored stop words = %v, want %v", got, want)
	}
}
