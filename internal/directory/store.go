// Package directory holds the service directory entities and their storage
// contract.
package directory

import (
	"context"
	"time"

	"tlr.org/internal/auth"
)

// Store persists directory entities, users and role assignments.
type Store interface {
	Ping(ctx context.Context) error

	CreateOrganisation(ctx context.Context, o Organisation) (Organisation, error)
	Organisation(ctx context.Context, id string) (Organisation, error)
	ListOrganisations(ctx context.Context, page Page) ([]Organisation, int, error)
	UpdateOrganisation(ctx context.Context, o Organisation) (Organisation, error)
	DeleteOrganisation(ctx context.Context, id string) error

	CreateService(ctx context.Context, s Service) (Service, error)
	Service(ctx context.Context, id string) (Service, error)
	ListServices(ctx context.Context, q ServiceQuery) ([]Service, int, error)
	AllServices(ctx context.Context) ([]Service, error)
	ListServicesModifiedBefore(ctx context.Context, before time.Time) ([]Service, error)
	UpdateService(ctx context.Context, s Service) (Service, error)
	TouchService(ctx context.Context, id string, at time.Time) (Service, error)
	DeleteService(ctx context.Context, id string) error

	CreateResource(ctx context.Context, r Resource) (Resource, error)
	// Resource looks a resource up by id or slug.
	Resource(ctx context.Context, idOrSlug string) (Resource, error)
	ListResources(ctx context.Context, q ResourceQuery) ([]Resource, int, error)
	UpdateResource(ctx context.Context, r Resource) (Resource, error)
	DeleteResource(ctx context.Context, id string) error

	CreateTaxonomy(ctx context.Context, t Taxonomy) (Taxonomy, error)
	// ListTaxonomies returns every taxonomy ordered by order then name.
	ListTaxonomies(ctx context.Context) ([]Taxonomy, error)
	CreateSnomedCode(ctx context.Context, c SnomedCode) (SnomedCode, error)
	ListSnomedCodes(ctx context.Context) ([]SnomedCode, error)

	CreateReferral(ctx context.Context, r Referral) (Referral, error)
	Referral(ctx context.Context, id string) (Referral, error)
	ListReferrals(ctx context.Context, q ReferralQuery) ([]Referral, int, error)
	UpdateReferral(ctx context.Context, r Referral) (Referral, error)
	DeleteReferral(ctx context.Context, id string) error
	// DeleteReferralsDueBefore removes closed referrals completed before
	// cutoff and returns how many were removed.
	DeleteReferralsDueBefore(ctx context.Context, cutoff time.Time) (int, error)

	CreateReport(ctx context.Context, r Report) (Report, error)
	Report(ctx context.Context, id string) (Report, error)
	ListReports(ctx context.Context, page Page) ([]Report, int, error)
	DeleteReport(ctx context.Context, id string) error

	StopWords(ctx context.Context) ([]string, error)
	SetStopWords(ctx context.Context, words []string) error

	CreateUpdateRequest(ctx context.Context, u UpdateRequest) (UpdateRequest, error)
	UpdateRequest(ctx context.Context, id string) (UpdateRequest, error)
	ListUpdateRequests(ctx context.Context, page Page) ([]UpdateRequest, int, error)
	ApproveUpdateRequest(ctx context.Context, id string, at time.Time) (UpdateRequest, error)
	DeleteUpdateRequest(ctx context.Context, id string) error

	CreateUser(ctx context.Context, u auth.User) (auth.User, error)
	User(ctx context.Context, id string) (auth.User, error)
	UserByEmail(ctx context.Context, email string) (auth.User, error)
	ListUsers(ctx context.Context, page Page) ([]auth.User, int, error)
	EmailTaken(ctx context.Context, email, excludeID string) (bool, error)
	DeleteUser(ctx context.Context, id string) error

	GrantRole(ctx context.Context, a auth.Assignment) error
	RevokeRole(ctx context.Context, a auth.Assignment) error
	Assignments(ctx context.Context, userID string) ([]auth.Assignment, error)
	// UsersWithRole lists users holding role. A non-empty serviceID limits
	// service-scoped roles to that service.
	UsersWithRole(ctx context.Context, role auth.RoleKind, serviceID string) ([]auth.User, error)
}

var _ auth.UserSource = Store(nil)
