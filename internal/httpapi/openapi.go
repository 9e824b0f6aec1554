package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-openapi/spec"
)

type docOperation struct {
	method  string
	path    string
	id      string
	summary string
	tag     string
	paged   bool
	secured bool
	body    bool
	created bool
}

var docOperations = []docOperation{
	{method: http.MethodPost, path: "/auth/token", id: "issueToken", summary: "Exchange email and password for a bearer token", tag: "Auth", body: true},

	{method: http.MethodGet, path: "/organisations", id: "listOrganisations", summary: "List all the organisations", tag: "Organisations", paged: true},
	{method: http.MethodPost, path: "/organisations", id: "createOrganisation", summary: "Create an organisation", tag: "Organisations", secured: true, body: true, created: true},
	{method: http.MethodGet, path: "/organisations/{id}", id: "showOrganisation", summary: "Get a specific organisation", tag: "Organisations"},
	{method: http.MethodPut, path: "/organisations/{id}", id: "updateOrganisation", summary: "Update a specific organisation", tag: "Organisations", secured: true, body: true},
	{method: http.MethodDelete, path: "/organisations/{id}", id: "deleteOrganisation", summary: "Delete a specific organisation", tag: "Organisations", secured: true},

	{method: http.MethodGet, path: "/services", id: "listServices", summary: "List all the services", tag: "Services", paged: true},
	{method: http.MethodPost, path: "/services", id: "createService", summary: "Create a service", tag: "Services", secured: true, body: true, created: true},
	{method: http.MethodGet, path: "/services/{id}", id: "showService", summary: "Get a specific service", tag: "Services"},
	{method: http.MethodPut, path: "/services/{id}", id: "updateService", summary: "Update a specific service", tag: "Services", secured: true, body: true},
	{method: http.MethodDelete, path: "/services/{id}", id: "deleteService", summary: "Delete a specific service", tag: "Services", secured: true},
	{method: http.MethodGet, path: "/services/{id}/refresh", id: "checkRefreshToken", summary: "Check a still up to date link", tag: "Services"},
	{method: http.MethodPut, path: "/services/{id}/refresh", id: "refreshService", summary: "Mark a service as still up to date", tag: "Services"},

	{method: http.MethodGet, path: "/resources", id: "listResources", summary: "List all the resources", tag: "Resources", paged: true},
	{method: http.MethodPost, path: "/resources", id: "createResource", summary: "Create a resource", tag: "Resources", secured: true, body: true, created: true},
	{method: http.MethodGet, path: "/resources/{id}", id: "showResource", summary: "Get a specific resource by id or slug", tag: "Resources"},
	{method: http.MethodPut, path: "/resources/{id}", id: "updateResource", summary: "Update a specific resource", tag: "Resources", secured: true, body: true},
	{method: http.MethodDelete, path: "/resources/{id}", id: "deleteResource", summary: "Delete a specific resource", tag: "Resources", secured: true},

	{method: http.MethodGet, path: "/taxonomies", id: "listTaxonomies", summary: "List the category taxonomies", tag: "Taxonomies"},
	{method: http.MethodPost, path: "/taxonomies", id: "createTaxonomy", summary: "Create a category taxonomy", tag: "Taxonomies", secured: true, body: true, created: true},
	{method: http.MethodGet, path: "/collections/snomed", id: "listSnomedCollections", summary: "List the SNOMED collections", tag: "Collections"},
	{method: http.MethodPost, path: "/collections/snomed", id: "createSnomedCollection", summary: "Create a SNOMED collection", tag: "Collections", secured: true, body: true, created: true},

	{method: http.MethodGet, path: "/referrals", id: "listReferrals", summary: "List the referrals you can see", tag: "Referrals", paged: true, secured: true},
	{method: http.MethodPost, path: "/referrals", id: "createReferral", summary: "Create a referral", tag: "Referrals", secured: true, body: true, created: true},
	{method: http.MethodGet, path: "/referrals/{id}", id: "showReferral", summary: "Get a specific referral", tag: "Referrals", secured: true},
	{method: http.MethodPut, path: "/referrals/{id}", id: "updateReferral", summary: "Update the status of a referral", tag: "Referrals", secured: true, body: true},
	{method: http.MethodDelete, path: "/referrals/{id}", id: "deleteReferral", summary: "Delete a specific referral", tag: "Referrals", secured: true},

	{method: http.MethodGet, path: "/reports", id: "listReports", summary: "List all the reports", tag: "Reports", paged: true, secured: true},
	{method: http.MethodPost, path: "/reports", id: "createReport", summary: "Generate a report", tag: "Reports", secured: true, body: true, created: true},
	{method: http.MethodGet, path: "/reports/{id}", id: "showReport", summary: "Get a specific report", tag: "Reports", secured: true},
	{method: http.MethodDelete, path: "/reports/{id}", id: "deleteReport", summary: "Delete a specific report", tag: "Reports", secured: true},
	{method: http.MethodGet, path: "/reports/{id}/download", id: "downloadReport", summary: "Download a report as CSV", tag: "Reports", secured: true},

	{method: http.MethodGet, path: "/stop-words", id: "showStopWords", summary: "List the search stop words", tag: "Stop Words", secured: true},
	{method: http.MethodPut, path: "/stop-words", id: "updateStopWords", summary: "Replace the search stop words", tag: "Stop Words", secured: true, body: true},

	{method: http.MethodGet, path: "/update-requests", id: "listUpdateRequests", summary: "List the pending update requests", tag: "Update Requests", paged: true, secured: true},
	{method: http.MethodGet, path: "/update-requests/{id}", id: "showUpdateRequest", summary: "Get a specific update request", tag: "Update Requests", secured: true},
	{method: http.MethodPut, path: "/update-requests/{id}/approve", id: "approveUpdateRequest", summary: "Approve a specific update request", tag: "Update Requests", secured: true},
	{method: http.MethodDelete, path: "/update-requests/{id}", id: "deleteUpdateRequest", summary: "Delete a specific update request", tag: "Update Requests", secured: true},

	{method: http.MethodGet, path: "/users", id: "listUsers", summary: "List all the users", tag: "Users", paged: true, secured: true},
	{method: http.MethodPost, path: "/users", id: "createUser", summary: "Create a user", tag: "Users", secured: true, body: true, created: true},
	{method: http.MethodGet, path: "/users/{id}", id: "showUser", summary: "Get a specific user", tag: "Users", secured: true},
	{method: http.MethodDelete, path: "/users/{id}", id: "deleteUser", summary: "Delete a specific user", tag: "Users", secured: true},
	{method: http.MethodPost, path: "/users/{id}/roles", id: "grantRole", summary: "Grant a role to a user", tag: "Users", secured: true, body: true},
	{method: http.MethodDelete, path: "/users/{id}/roles", id: "revokeRole", summary: "Revoke a role from a user", tag: "Users", secured: true, body: true},
}

// OpenAPIDocument describes the /core/v1 API. The per_page parameter carries
// the configured default and maximum.
func (a *API) OpenAPIDocument() *spec.Swagger {
	paths := map[string]spec.PathItem{}
	for _, d := range docOperations {
		item := paths[d.path]
		op := a.docOperation(d)
		switch d.method {
		case http.MethodGet:
			item.Get = op
		case http.MethodPost:
			item.Post = op
		case http.MethodPut:
			item.Put = op
		case http.MethodDelete:
			item.Delete = op
		}
		paths[d.path] = item
	}

	tags := map[string]struct{}{}
	for _, d := range docOperations {
		tags[d.tag] = struct{}{}
	}
	names := make([]string, 0, len(tags))
	for t := range tags {
		names = append(names, t)
	}
	sort.Strings(names)
	tagList := make([]spec.Tag, 0, len(names))
	for _, t := range names {
		tagList = append(tagList, spec.NewTag(t, "", nil))
	}

	return &spec.Swagger{SwaggerProps: spec.SwaggerProps{
		Swagger:  "2.0",
		Consumes: []string{"application/json"},
		Produces: []string{"application/json"},
		BasePath: "/core/v1",
		Info: &spec.Info{InfoProps: spec.InfoProps{
			Title:       "Directory API",
			Description: "Services, resources and referrals directory.",
			Version:     a.version,
		}},
		Paths: &spec.Paths{Paths: paths},
		SecurityDefinitions: spec.SecurityDefinitions{
			"bearer": spec.APIKeyAuth(authHeader, "header"),
		},
		Tags: tagList,
	}}
}

func (a *API) docOperation(d docOperation) *spec.Operation {
	op := spec.NewOperation(d.id).WithSummary(d.summary).WithTags(d.tag)
	for _, seg := range strings.Split(d.path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			op.AddParam(spec.PathParam(strings.Trim(seg, "{}")).Typed("string", ""))
		}
	}
	if d.paged {
		op.AddParam(spec.QueryParam("page").Typed("integer", "int32").
			WithDescription("The page of results to load").
			WithDefault(1).
			WithMinimum(1, false))
		op.AddParam(spec.QueryParam("per_page").Typed("integer", "int32").
			WithDescription("The number of items to load per page").
			WithDefault(a.cfg.Pagination.Default).
			WithMinimum(1, false).
			WithMaximum(float64(a.cfg.Pagination.Max), false))
	}
	if d.body {
		op.AddParam(spec.BodyParam("body", spec.MapProperty(nil)).AsRequired())
	}
	if d.secured {
		op.SecuredWith("bearer")
		op.RespondsWith(http.StatusUnauthorized, spec.NewResponse().WithDescription("Unauthenticated"))
		op.RespondsWith(http.StatusForbidden, spec.NewResponse().WithDescription("Forbidden"))
	}
	if d.body {
		op.RespondsWith(http.StatusUnprocessableEntity, spec.NewResponse().WithDescription("Validation failed"))
	}
	if d.created {
		op.RespondsWith(http.StatusCreated, spec.NewResponse().WithDescription("Created"))
	} else {
		op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK"))
	}
	return op
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.OpenAPIDocument())
}
