package httpapi

import (
	"net/http"
	"testing"

	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
)

type userEnvelope struct {
	Data userResource `json:"data"`
}

func TestCreateUserValidation(t *testing.T) {
	c := newTestAPI(t)
	global := c.globalAdmin()

	body := expectFieldError(t, c.post("/core/v1/users", map[string]any{
		"first_name": "Dup",
		"last_name":  "User",
		"email":      "GLOBAL@example.org",
		"password":   "long-enough",
	}, global), "email")
	if body.Errors["email"][0] != directory.ErrEmailTaken {
		t.Fatalf("unexpected email error %v", body.Errors["email"])
	}
	if body.Message != invalidMessage {
		t.Fatalf("unexpected message %q", body.Message)
	}

	expectFieldError(t, c.post("/core/v1/users", map[string]any{
		"first_name": "Short", "last_name": "Pass", "email": "short@example.org", "password": "123",
	}, global), "password")
}

func TestCreateUserWithRoles(t *testing.T) {
	c := newTestAPI(t)
	orgAdmin := c.orgAdmin("orgadmin@example.org", c.org.ID)

	newUser := func(email, role string) map[string]any {
		return map[string]any{
			"first_name": "New", "last_name": "Person", "email": email, "password": "long-enough",
			"roles": []map[string]string{{"role": role, "service_id": c.service.ID}},
		}
	}

	resp := c.post("/core/v1/users", newUser("admin@example.org", string(auth.RoleServiceAdmin)), orgAdmin)
	expectStatus(t, resp, http.StatusCreated)
	if resp.Header.Get("Location") == "" {
		t.Fatal("expected Location header")
	}
	created := decode[userEnvelope](t, resp).Data
	if len(created.Roles) != 1 || created.Roles[0].OrganisationID != c.org.ID {
		t.Fatalf("expected service admin in %s, got %+v", c.org.ID, created.Roles)
	}

	resp = c.post("/core/v1/users", map[string]any{
		"first_name": "Too", "last_name": "High", "email": "too@example.org", "password": "long-enough",
		"roles": []map[string]string{{"role": string(auth.RoleGlobalAdmin)}},
	}, orgAdmin)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	svcAdmin := c.login("admin@example.org", "long-enough")
	resp = c.post("/core/v1/users", newUser("worker@example.org", string(auth.RoleServiceWorker)), svcAdmin)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestGrantAndRevokeRole(t *testing.T) {
	c := newTestAPI(t)
	global := c.globalAdmin()
	c.userWithRoles("plain@example.org")
	plain, err := c.store.UserByEmail(t.Context(), "plain@example.org")
	if err != nil {
		t.Fatalf("load user: %v", err)
	}

	role := map[string]string{"role": string(auth.RoleOrganisationAdmin), "organisation_id": c.org.ID}
	resp := c.post("/core/v1/users/"+plain.ID+"/roles", role, global)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[userEnvelope](t, resp).Data; len(got.Roles) != 1 || got.Roles[0].Role != auth.RoleOrganisationAdmin {
		t.Fatalf("unexpected roles after grant %+v", got.Roles)
	}

	expectFieldError(t, c.post("/core/v1/users/"+plain.ID+"/roles", map[string]string{"role": "owner"}, global), "role")

	resp = c.do(http.MethodDelete, "/core/v1/users/"+plain.ID+"/roles", nil, role, global)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[userEnvelope](t, resp).Data; len(got.Roles) != 0 {
		t.Fatalf("expected no roles after revoke, got %+v", got.Roles)
	}

	resp = c.delete("/core/v1/users/"+plain.ID, global)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}
