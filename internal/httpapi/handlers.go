// Package httpapi serves the /core/v1 directory API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/config"
	"tlr.org/internal/directory"
	"tlr.org/internal/mail"
	"tlr.org/internal/obs"
	"tlr.org/internal/search"
)

const serviceName = "tlr-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe reports ready when the store answers a ping.
type ReadyProbe struct {
	Store directory.Store
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps are the collaborators the API needs. Mail, Search, Audit and
// Reindex are optional.
type Deps struct {
	Config  config.Config
	Store   directory.Store
	Auth    *auth.Service
	Mail    mail.Queue
	Search  search.Syncer
	Audit   *audit.Recorder
	Reindex Reindexer
	Ready   readinessChecker
	Version string
	Now     func() time.Time
}

// API is the HTTP layer.
type API struct {
	router  chi.Router
	cfg     config.Config
	store   directory.Store
	auth    *auth.Service
	mail    mail.Queue
	search  search.Syncer
	audit   *audit.Recorder
	reindex Reindexer
	ready   readinessChecker
	version string
	now     func() time.Time

	rateBurst  int
	ratePerSec int
}

func New(d Deps) *API {
	a := &API{
		cfg:        d.Config,
		store:      d.Store,
		auth:       d.Auth,
		mail:       d.Mail,
		search:     d.Search,
		audit:      d.Audit,
		reindex:    d.Reindex,
		ready:      d.Ready,
		version:    d.Version,
		now:        d.Now,
		rateBurst:  d.Config.Server.RateBurst,
		ratePerSec: d.Config.Server.RatePerSec,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{Store: d.Store}
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())
	r.Get("/docs/openapi.json", a.OpenAPISpec)
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/openapi.json")))

	r.Route("/core/v1", func(r chi.Router) {
		r.Use(a.authenticate)

		r.Post("/auth/token", a.handleAuthToken)

		r.Route("/organisations", func(r chi.Router) {
			r.Get("/", a.handleListOrganisations)
			r.Post("/", a.handleCreateOrganisation)
			r.Get("/{id}", a.handleShowOrganisation)
			r.Put("/{id}", a.handleUpdateOrganisation)
			r.Delete("/{id}", a.handleDeleteOrganisation)
		})
		r.Route("/services", func(r chi.Router) {
			r.Get("/", a.handleListServices)
			r.Post("/", a.handleCreateService)
			r.Get("/{id}", a.handleShowService)
			r.Put("/{id}", a.handleUpdateService)
			r.Delete("/{id}", a.handleDeleteService)
			r.Get("/{id}/refresh", a.handleCheckRefreshToken)
			r.Put("/{id}/refresh", a.handleRefreshService)
		})
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", a.handleListResources)
			r.Post("/", a.handleCreateResource)
			r.Get("/{resource}", a.handleShowResource)
			r.Put("/{resource}", a.handleUpdateResource)
			r.Delete("/{resource}", a.handleDeleteResource)
		})
		r.Route("/referrals", func(r chi.Router) {
			r.Get("/", a.handleListReferrals)
			r.Post("/", a.handleCreateReferral)
			r.Get("/{id}", a.handleShowReferral)
			r.Put("/{id}", a.handleUpdateReferral)
			r.Delete("/{id}", a.handleDeleteReferral)
		})
		r.Route("/reports", func(r chi.Router) {
			r.Get("/", a.handleListReports)
			r.Post("/", a.handleCreateReport)
			r.Get("/{id}", a.handleShowReport)
			r.Delete("/{id}", a.handleDeleteReport)
			r.Get("/{id}/download", a.handleDownloadReport)
		})
		r.Get("/taxonomies", a.handleListTaxonomies)
		r.Post("/taxonomies", a.handleCreateTaxonomy)
		r.Get("/collections/snomed", a.handleListSnomedCodes)
		r.Post("/collections/snomed", a.handleCreateSnomedCode)
		r.Get("/stop-words", a.handleShowStopWords)
		r.Put("/stop-words", a.handleUpdateStopWords)
		r.Route("/update-requests", func(r chi.Router) {
			r.Get("/", a.handleListUpdateRequests)
			r.Get("/{id}", a.handleShowUpdateRequest)
			r.Put("/{id}/approve", a.handleApproveUpdateRequest)
			r.Delete("/{id}", a.handleDeleteUpdateRequest)
		})
		r.Route("/users", func(r chi.Router) {
			r.Get("/", a.handleListUsers)
			r.Post("/", a.handleCreateUser)
			r.Get("/{id}", a.handleShowUser)
			r.Delete("/{id}", a.handleDeleteUser)
			r.Post("/{id}/roles", a.handleGrantRole)
			r.Delete("/{id}/roles", a.handleRevokeRole)
		})
	})
	return r
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	if a.cfg.Server.MaxBody > 0 {
		h = MaxBodyBytes(h, a.cfg.Server.MaxBody)
	}
	if a.rateBurst > 0 && a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

type listResponse struct {
	Data any            `json:"data"`
	Meta directory.Meta `json:"meta"`
}

type itemResponse struct {
	Data any `json:"data"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

const invalidMessage = "The given data was invalid."

func writeValidation(w http.ResponseWriter, fields map[string][]string) {
	if fields == nil {
		fields = map[string][]string{}
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"message": invalidMessage,
		"errors":  fields,
	})
}

func writeFieldError(w http.ResponseWriter, field, msg string) {
	writeValidation(w, map[string][]string{field: {msg}})
}

// handleStoreError maps domain errors onto status codes.
func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *directory.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr.Fields)
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, directory.ErrConflict):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": strings.TrimPrefix(err.Error(), "directory: "),
			"errors":  map[string][]string{},
		})
	case errors.Is(err, directory.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": err.Error(),
			"errors":  map[string][]string{},
		})
	default:
		obs.Error("request failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeBody decodes the request and answers 422 on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": err.Error(),
			"errors":  map[string][]string{},
		})
		return false
	}
	return true
}

func parsePositiveInt(raw string, def, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if val < 1 {
		return 0, errors.New("must be at least 1")
	}
	if max > 0 && val > max {
		return 0, errors.New("may not be greater than " + strconv.Itoa(max))
	}
	return val, nil
}

// page reads page and per_page. It writes a 422 and returns false on bad input.
func (a *API) page(w http.ResponseWriter, r *http.Request) (directory.Page, bool) {
	q := r.URL.Query()
	perPage, err := parsePositiveInt(q.Get("per_page"), a.cfg.Pagination.Default, a.cfg.Pagination.Max)
	if err != nil {
		writeFieldError(w, "per_page", "The per page "+err.Error()+".")
		return directory.Page{}, false
	}
	number, err := parsePositiveInt(q.Get("page"), 1, 0)
	if err != nil {
		writeFieldError(w, "page", "The page "+err.Error()+".")
		return directory.Page{}, false
	}
	if number-1 > math.MaxInt/perPage {
		writeFieldError(w, "page", "The page is too large.")
		return directory.Page{}, false
	}
	return directory.Page{Number: number, PerPage: perPage}, true
}

func writeList[T any](w http.ResponseWriter, items []T, total int, page directory.Page) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, listResponse{Data: items, Meta: page.Meta(total)})
}

// splitList splits a comma separated filter value.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// record emits an endpoint audit event. Failures are already logged by the
// recorder and never fail the request.
func (a *API) record(r *http.Request, action, entity, entityID, description string) {
	if a.audit == nil {
		return
	}
	_ = a.audit.Record(r.Context(), audit.Event{
		Action:      action,
		Entity:      entity,
		EntityID:    entityID,
		Description: description,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
	})
}

// syncService refreshes the search index for a service. The write has
// already succeeded, so a failure is only logged.
func (a *API) syncService(r *http.Request, serviceID string) {
	if a.search == nil {
		return
	}
	if err := a.search.Sync(r.Context(), serviceID); err != nil {
		obs.Warn("search sync failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"service_id": serviceID,
			"error":      err,
		})
	}
}

// sendMail enqueues a notification. A queue failure is logged only.
func (a *API) sendMail(r *http.Request, key, to string, values map[string]string) {
	if a.mail == nil || strings.TrimSpace(to) == "" {
		return
	}
	email := mail.Compose(a.cfg.Mail, key, to, values)
	if err := a.mail.Enqueue(r.Context(), email); err != nil {
		obs.Warn("mail enqueue failed", map[string]any{
			"request_id":  RequestIDFromContext(r.Context()),
			"template_id": email.TemplateID,
			"error":       err,
		})
	}
}
