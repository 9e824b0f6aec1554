package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"tlr.org/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("extractBearerToken(%q) = %q, %v", tc.header, got, err)
		}
	}
}

func TestWriteDecisionStatuses(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/core/v1/users", nil)

	rr := httptest.NewRecorder()
	if !writeDecision(rr, req, auth.Decision{Allowed: true}) {
		t.Fatal("allowed decision should continue")
	}

	rr = httptest.NewRecorder()
	if writeDecision(rr, req, auth.Decision{Status: auth.StatusUnauthenticated, Reason: "login required"}) {
		t.Fatal("unauthenticated decision should stop")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}

	rr = httptest.NewRecorder()
	if writeDecision(rr, req, auth.Decision{Status: auth.StatusForbidden, Reason: "nope"}) {
		t.Fatal("forbidden decision should stop")
	}
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") != "" {
		t.Fatal("forbidden responses should not challenge")
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	c := newTestAPI(t)

	var seen *auth.Principal
	handler := c.api.authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || seen != nil {
		t.Fatalf("guest request: code=%d principal=%v", rr.Code, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(authHeader, "Bearer not-a-token")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}

	token := c.userWithRoles("worker@example.org", auth.Assignment{
		Role: auth.RoleServiceWorker, OrganisationID: c.org.ID, ServiceID: c.service.ID,
	})
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(authHeader, "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || seen == nil {
		t.Fatalf("expected principal, code=%d", rr.Code)
	}
	if seen.User.Email != "worker@example.org" || len(seen.Assignments) != 1 {
		t.Fatalf("unexpected principal %+v", seen)
	}
}
