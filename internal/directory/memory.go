package directory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"tlr.org/internal/auth"
	"tlr.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu          sync.RWMutex
	now         func() time.Time
	orgs        map[string]Organisation
	services    map[string]Service
	resources   map[string]Resource
	taxonomies  map[string]Taxonomy
	snomed      map[string]SnomedCode
	referrals   map[string]Referral
	reports     map[string]Report
	updates     map[string]UpdateRequest
	users       map[string]auth.User
	assignments []auth.Assignment
	stopWords   []string
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		now:        func() time.Time { return time.Now().UTC() },
		orgs:       make(map[string]Organisation),
		services:   make(map[string]Service),
		resources:  make(map[string]Resource),
		taxonomies: make(map[string]Taxonomy),
		snomed:     make(map[string]SnomedCode),
		referrals:  make(map[string]Referral),
		reports:    make(map[string]Report),
		updates:    make(map[string]UpdateRequest),
		users:      make(map[string]auth.User),
	}
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *InMemory) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

func (s *InMemory) Ping(context.Context) error { return nil }

// --- organisations ---

func (s *InMemory) CreateOrganisation(_ context.Context, o Organisation) (Organisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orgs {
		if existing.Slug == o.Slug {
			return Organisation{}, fmt.Errorf("%w: organisation slug %q", ErrConflict, o.Slug)
		}
	}
	now := s.now()
	o.ID = ids.Entity()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orgs[o.ID] = o
	return o, nil
}

func (s *InMemory) Organisation(_ context.Context, id string) (Organisation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return Organisation{}, ErrNotFound
	}
	return o, nil
}

func (s *InMemory) ListOrganisations(_ context.Context, page Page) ([]Organisation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Organisation, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, page), len(out), nil
}

func (s *InMemory) UpdateOrganisation(_ context.Context, o Organisation) (Organisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orgs[o.ID]
	if !ok {
		return Organisation{}, ErrNotFound
	}
	for _, other := range s.orgs {
		if other.ID != o.ID && other.Slug == o.Slug {
			return Organisation{}, fmt.Errorf("%w: organisation slug %q", ErrConflict, o.Slug)
		}
	}
	o.CreatedAt = existing.CreatedAt
	o.UpdatedAt = s.now()
	s.orgs[o.ID] = o
	return o, nil
}

func (s *InMemory) DeleteOrganisation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[id]; !ok {
		return ErrNotFound
	}
	for _, svc := range s.services {
		if svc.OrganisationID == id {
			s.deleteServiceLocked(svc.ID)
		}
	}
	for rid, r := range s.resources {
		if r.OrganisationID == id {
			delete(s.resources, rid)
		}
	}
	s.assignments = slices.DeleteFunc(s.assignments, func(a auth.Assignment) bool {
		return a.OrganisationID == id
	})
	delete(s.orgs, id)
	return nil
}

// --- services ---

func (s *InMemory) CreateService(_ context.Context, svc Service) (Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[svc.OrganisationID]; !ok {
		return Service{}, fmt.Errorf("%w: organisation %s", ErrNotFound, svc.OrganisationID)
	}
	for _, existing := range s.services {
		if existing.Slug == svc.Slug {
			return Service{}, fmt.Errorf("%w: service slug %q", ErrConflict, svc.Slug)
		}
	}
	now := s.now()
	svc.ID = ids.Entity()
	svc.CreatedAt, svc.UpdatedAt = now, now
	if svc.LastModifiedAt.IsZero() {
		svc.LastModifiedAt = now
	}
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *InMemory) Service(_ context.Context, id string) (Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return Service{}, ErrNotFound
	}
	return svc, nil
}

func (s *InMemory) ListServices(_ context.Context, q ServiceQuery) ([]Service, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name := strings.ToLower(strings.TrimSpace(q.Name))
	var out []Service
	for _, svc := range s.services {
		if q.OrganisationID != "" && svc.OrganisationID != q.OrganisationID {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(svc.Name), name) {
			continue
		}
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, q.Page), len(out), nil
}

func (s *InMemory) AllServices(ctx context.Context) ([]Service, error) {
	out, _, err := s.ListServices(ctx, ServiceQuery{})
	return out, err
}

func (s *InMemory) ListServicesModifiedBefore(_ context.Context, before time.Time) ([]Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Service
	for _, svc := range s.services {
		if svc.LastModifiedAt.Before(before) {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModifiedAt.Before(out[j].LastModifiedAt) })
	return out, nil
}

func (s *InMemory) UpdateService(_ context.Context, svc Service) (Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.services[svc.ID]
	if !ok {
		return Service{}, ErrNotFound
	}
	if _, ok := s.orgs[svc.OrganisationID]; !ok {
		return Service{}, fmt.Errorf("%w: organisation %s", ErrNotFound, svc.OrganisationID)
	}
	for _, other := range s.services {
		if other.ID != svc.ID && other.Slug == svc.Slug {
			return Service{}, fmt.Errorf("%w: service slug %q", ErrConflict, svc.Slug)
		}
	}
	now := s.now()
	svc.CreatedAt = existing.CreatedAt
	svc.UpdatedAt, svc.LastModifiedAt = now, now
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *InMemory) TouchService(_ context.Context, id string, at time.Time) (Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return Service{}, ErrNotFound
	}
	svc.LastModifiedAt = at
	s.services[id] = svc
	return svc, nil
}

func (s *InMemory) DeleteService(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[id]; !ok {
		return ErrNotFound
	}
	s.deleteServiceLocked(id)
	return nil
}

func (s *InMemory) deleteServiceLocked(id string) {
	for rid, r := range s.referrals {
		if r.ServiceID == id {
			delete(s.referrals, rid)
		}
	}
	s.assignments = slices.DeleteFunc(s.assignments, func(a auth.Assignment) bool {
		return a.ServiceID == id
	})
	delete(s.services, id)
}

// --- resources ---

func (s *InMemory) CreateResource(_ context.Context, r Resource) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[r.OrganisationID]; !ok {
		return Resource{}, fmt.Errorf("%w: organisation %s", ErrNotFound, r.OrganisationID)
	}
	for _, existing := range s.resources {
		if existing.Slug == r.Slug {
			return Resource{}, fmt.Errorf("%w: resource slug %q", ErrConflict, r.Slug)
		}
	}
	now := s.now()
	r.ID = ids.Entity()
	r.CreatedAt, r.UpdatedAt = now, now
	r.CategoryTaxonomies = slices.Clone(r.CategoryTaxonomies)
	s.resources[r.ID] = r
	return r, nil
}

func (s *InMemory) Resource(_ context.Context, idOrSlug string) (Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.resources[idOrSlug]; ok {
		return r, nil
	}
	for _, r := range s.resources {
		if r.Slug == idOrSlug {
			return r, nil
		}
	}
	return Resource{}, ErrNotFound
}

func (s *InMemory) ListResources(_ context.Context, q ResourceQuery) ([]Resource, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name := strings.ToLower(strings.TrimSpace(q.Name))
	orgName := strings.ToLower(strings.TrimSpace(q.OrganisationName))
	var out []Resource
	for _, r := range s.resources {
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, r.ID) {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(r.Name), name) {
			continue
		}
		if q.OrganisationID != "" && r.OrganisationID != q.OrganisationID {
			continue
		}
		if orgName != "" && !strings.Contains(strings.ToLower(s.orgs[r.OrganisationID].Name), orgName) {
			continue
		}
		if !containsAll(r.CategoryTaxonomies, q.TaxonomyIDs) {
			continue
		}
		if len(q.TaxonomyNames) > 0 && !containsAll(s.taxonomyNames(r.CategoryTaxonomies), lowerAll(q.TaxonomyNames)) {
			continue
		}
		if len(q.SnomedCodes) > 0 && !s.matchesSnomed(r.CategoryTaxonomies, q.SnomedCodes) {
			continue
		}
		out = append(out, r)
	}
	s.sortResources(out, q.Sort)
	return paginate(out, q.Page), len(out), nil
}

func (s *InMemory) sortResources(out []Resource, key string) {
	desc := strings.HasPrefix(key, "-")
	key = strings.TrimPrefix(key, "-")
	value := func(r Resource) string { return strings.ToLower(r.Name) }
	if key == SortOrganisationName {
		value = func(r Resource) string { return strings.ToLower(s.orgs[r.OrganisationID].Name) }
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := value(out[i]), value(out[j])
		if a == b {
			return out[i].ID < out[j].ID
		}
		if desc {
			return a > b
		}
		return a < b
	})
}

// taxonomyNames returns the lower-cased names of the given taxonomy ids.
func (s *InMemory) taxonomyNames(taxonomyIDs []string) []string {
	names := make([]string, 0, len(taxonomyIDs))
	for _, id := range taxonomyIDs {
		if t, ok := s.taxonomies[id]; ok {
			names = append(names, strings.ToLower(t.Name))
		}
	}
	return names
}

func (s *InMemory) matchesSnomed(taxonomyIDs, codes []string) bool {
	for _, c := range s.snomed {
		if !slices.Contains(codes, c.Code) {
			continue
		}
		for _, id := range c.TaxonomyIDs {
			if slices.Contains(taxonomyIDs, id) {
				return true
			}
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

func (s *InMemory) UpdateResource(_ context.Context, r Resource) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.resources[r.ID]
	if !ok {
		return Resource{}, ErrNotFound
	}
	if _, ok := s.orgs[r.OrganisationID]; !ok {
		return Resource{}, fmt.Errorf("%w: organisation %s", ErrNotFound, r.OrganisationID)
	}
	for _, other := range s.resources {
		if other.ID != r.ID && other.Slug == r.Slug {
			return Resource{}, fmt.Errorf("%w: resource slug %q", ErrConflict, r.Slug)
		}
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.now()
	r.CategoryTaxonomies = slices.Clone(r.CategoryTaxonomies)
	s.resources[r.ID] = r
	return r, nil
}

func (s *InMemory) DeleteResource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[id]; !ok {
		return ErrNotFound
	}
	delete(s.resources, id)
	return nil
}

// --- referrals ---

func (s *InMemory) CreateReferral(_ context.Context, r Referral) (Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[r.ServiceID]; !ok {
		return Referral{}, fmt.Errorf("%w: service %s", ErrNotFound, r.ServiceID)
	}
	now := s.now()
	r.ID = ids.Entity()
	if r.Reference == "" {
		r.Reference = NewReferralReference()
	}
	r.CreatedAt, r.UpdatedAt = now, now
	s.referrals[r.ID] = r
	return r, nil
}

func (s *InMemory) Referral(_ context.Context, id string) (Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.referrals[id]
	if !ok {
		return Referral{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemory) ListReferrals(_ context.Context, q ReferralQuery) ([]Referral, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Referral
	for _, r := range s.referrals {
		if q.ServiceIDs != nil && !slices.Contains(q.ServiceIDs, r.ServiceID) {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, q.Page), len(out), nil
}

func (s *InMemory) UpdateReferral(_ context.Context, r Referral) (Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.referrals[r.ID]
	if !ok {
		return Referral{}, ErrNotFound
	}
	r.ServiceID = existing.ServiceID
	r.Reference = existing.Reference
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.now()
	s.referrals[r.ID] = r
	return r, nil
}

func (s *InMemory) DeleteReferral(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrals[id]; !ok {
		return ErrNotFound
	}
	delete(s.referrals, id)
	return nil
}

func (s *InMemory) DeleteReferralsDueBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, r := range s.referrals {
		if r.Closed() && r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
			delete(s.referrals, id)
			deleted++
		}
	}
	return deleted, nil
}

// --- reports ---

func (s *InMemory) CreateReport(_ context.Context, r Report) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = ids.Entity()
	r.CreatedAt = s.now()
	r.Content = slices.Clone(r.Content)
	s.reports[r.ID] = r
	return r, nil
}

func (s *InMemory) Report(_ context.Context, id string) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return Report{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemory) ListReports(_ context.Context, page Page) ([]Report, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), len(out), nil
}

func (s *InMemory) DeleteReport(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return ErrNotFound
	}
	delete(s.reports, id)
	return nil
}

// --- stop words ---

func (s *InMemory) StopWords(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.stopWords), nil
}

func (s *InMemory) SetStopWords(_ context.Context, words []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWords = NormalizeStopWords(words)
	return nil
}

// --- update requests ---

func (s *InMemory) CreateUpdateRequest(_ context.Context, u UpdateRequest) (UpdateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = ids.Entity()
	u.CreatedAt = s.now()
	s.updates[u.ID] = u
	return u, nil
}

func (s *InMemory) UpdateRequest(_ context.Context, id string) (UpdateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.updates[id]
	if !ok {
		return UpdateRequest{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemory) ListUpdateRequests(_ context.Context, page Page) ([]UpdateRequest, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []UpdateRequest
	for _, u := range s.updates {
		if u.ApprovedAt == nil {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, page), len(out), nil
}

func (s *InMemory) ApproveUpdateRequest(_ context.Context, id string, at time.Time) (UpdateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.updates[id]
	if !ok {
		return UpdateRequest{}, ErrNotFound
	}
	if u.ApprovedAt != nil {
		return UpdateRequest{}, fmt.Errorf("%w: update request already approved", ErrConflict)
	}
	u.ApprovedAt = &at
	s.updates[id] = u
	return u, nil
}

func (s *InMemory) DeleteUpdateRequest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.updates[id]; !ok {
		return ErrNotFound
	}
	delete(s.updates, id)
	return nil
}

// --- users and roles ---

func (s *InMemory) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return auth.User{}, fmt.Errorf("%w: email %q", ErrConflict, u.Email)
		}
	}
	now := s.now()
	u.ID = ids.Entity()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

func (s *InMemory) User(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemory) UserByEmail(_ context.Context, email string) (auth.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return auth.User{}, ErrUserNotFound
}

func (s *InMemory) ListUsers(_ context.Context, page Page) ([]auth.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return paginate(out, page), len(out), nil
}

func (s *InMemory) EmailTaken(_ context.Context, email, excludeID string) (bool, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemory) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrUserNotFound
	}
	s.assignments = slices.DeleteFunc(s.assignments, func(a auth.Assignment) bool { return a.UserID == id })
	delete(s.users, id)
	return nil
}

func (s *InMemory) GrantRole(_ context.Context, a auth.Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[a.UserID]; !ok {
		return ErrUserNotFound
	}
	for _, existing := range s.assignments {
		if existing.Same(a) {
			return nil
		}
	}
	a.CreatedAt = s.now()
	s.assignments = append(s.assignments, a)
	return nil
}

func (s *InMemory) RevokeRole(_ context.Context, a auth.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.assignments)
	s.assignments = slices.DeleteFunc(s.assignments, func(existing auth.Assignment) bool { return existing.Same(a) })
	if len(s.assignments) == before {
		return ErrNotFound
	}
	return nil
}

func (s *InMemory) Assignments(_ context.Context, userID string) ([]auth.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Assignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *InMemory) UsersWithRole(_ context.Context, role auth.RoleKind, serviceID string) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []auth.User
	for _, a := range s.assignments {
		if a.Role != role {
			continue
		}
		if serviceID != "" && a.ServiceID != "" && a.ServiceID != serviceID {
			continue
		}
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		if u, ok := s.users[a.UserID]; ok {
			seen[a.UserID] = struct{}{}
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// --- taxonomies ---

func (s *InMemory) CreateTaxonomy(_ context.Context, t Taxonomy) (Taxonomy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ParentID != "" {
		if _, ok := s.taxonomies[t.ParentID]; !ok {
			return Taxonomy{}, fmt.Errorf("%w: parent taxonomy %s", ErrNotFound, t.ParentID)
		}
	}
	t.ID = ids.Entity()
	t.CreatedAt = s.now()
	s.taxonomies[t.ID] = t
	return t, nil
}

func (s *InMemory) ListTaxonomies(context.Context) ([]Taxonomy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Taxonomy, 0, len(s.taxonomies))
	for _, t := range s.taxonomies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *InMemory) CreateSnomedCode(_ context.Context, c SnomedCode) (SnomedCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snomed {
		if existing.Code == c.Code {
			return SnomedCode{}, fmt.Errorf("%w: snomed code %q", ErrConflict, c.Code)
		}
	}
	for _, id := range c.TaxonomyIDs {
		if _, ok := s.taxonomies[id]; !ok {
			return SnomedCode{}, fmt.Errorf("%w: taxonomy %s", ErrNotFound, id)
		}
	}
	c.ID = ids.Entity()
	c.CreatedAt = s.now()
	c.TaxonomyIDs = slices.Clone(c.TaxonomyIDs)
	s.snomed[c.ID] = c
	return c, nil
}

func (s *InMemory) ListSnomedCodes(context.Context) ([]SnomedCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SnomedCode, 0, len(s.snomed))
	for _, c := range s.snomed {
		c.TaxonomyIDs = slices.Clone(c.TaxonomyIDs)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
