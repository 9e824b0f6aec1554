package directory

import (
	"encoding/json"
	"math"
	"time"
)

// Organisation owns services and resources.
type Organisation struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	ServiceActive   = "active"
	ServiceInactive = "inactive"
)

// Service is a care or support offering belonging to one organisation.
type Service struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	Intro          string    `json:"intro"`
	Description    string    `json:"description"`
	URL            string    `json:"url"`
	ContactEmail   string    `json:"contact_email"`
	ContactPhone   string    `json:"contact_phone"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}

// Resource is a published informational item owned by an organisation.
type Resource struct {
	ID                 string     `json:"id"`
	OrganisationID     string     `json:"organisation_id"`
	Name               string     `json:"name"`
	Slug               string     `json:"slug"`
	Description        string     `json:"description"`
	URL                string     `json:"url"`
	License            string     `json:"license,omitempty"`
	Author             string     `json:"author,omitempty"`
	CategoryTaxonomies []string   `json:"category_taxonomies"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
	LastModifiedAt     *time.Time `json:"last_modified_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

const (
	ReferralNew         = "new"
	ReferralInProgress  = "in_progress"
	ReferralCompleted   = "completed"
	ReferralIncompleted = "incompleted"
)

// Referral records a client referred to a service.
type Referral struct {
	ID           string     `json:"id"`
	ServiceID    string     `json:"service_id"`
	Reference    string     `json:"reference"`
	Status       string     `json:"status"`
	Name         string     `json:"name"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	RefereeName  string     `json:"referee_name,omitempty"`
	RefereeEmail string     `json:"referee_email,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Closed reports whether the referral reached a terminal status.
func (r Referral) Closed() bool {
	return r.Status == ReferralCompleted || r.Status == ReferralIncompleted
}

const (
	ReportUsersExport     = "users_export"
	ReportServicesExport  = "services_export"
	ReportReferralsExport = "referrals_export"
)

// Report is a generated CSV export.
type Report struct {
	ID         string     `json:"id"`
	ReportType string     `json:"report_type"`
	StartsAt   *time.Time `json:"starts_at,omitempty"`
	EndsAt     *time.Time `json:"ends_at,omitempty"`
	Content    []byte     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

const (
	UpdateableOrganisation = "organisations"
	UpdateableService      = "services"
)

// UpdateRequest holds changes awaiting global admin approval.
type UpdateRequest struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	UpdateableType string          `json:"updateable_type"`
	UpdateableID   string          `json:"updateable_id"`
	Data           json.RawMessage `json:"data"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Taxonomy is a node of the category tree resources are tagged with.
type Taxonomy struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

// SnomedCode is a SNOMED collection: a clinical code mapped onto taxonomies.
type SnomedCode struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	TaxonomyIDs []string  `json:"taxonomy_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// Page selects a slice of a list. Number is 1-based.
type Page struct {
	Number  int
	PerPage int
}

// Offset returns the number of rows to skip. It saturates at math.MaxInt
// rather than overflowing.
func (p Page) Offset() int {
	if p.Number < 1 || p.PerPage <= 0 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.PerPage {
		return math.MaxInt
	}
	return (p.Number - 1) * p.PerPage
}

// Meta describes a page of results.
type Meta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
}

// Meta builds pagination metadata for total rows.
func (p Page) Meta(total int) Meta {
	last := 1
	if p.PerPage > 0 && total > 0 {
		last = (total + p.PerPage - 1) / p.PerPage
	}
	return Meta{CurrentPage: max(p.Number, 1), PerPage: p.PerPage, Total: total, LastPage: last}
}

func paginate[T any](items []T, p Page) []T {
	if p.PerPage <= 0 {
		return items
	}
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := min(start+p.PerPage, len(items))
	return items[start:end]
}

// ResourceQuery filters and sorts resources.
type ResourceQuery struct {
	IDs              []string
	Name             string
	OrganisationID   string
	OrganisationName string
	TaxonomyIDs      []string
	// TaxonomyNames must all be carried by a resource, compared case-insensitively.
	TaxonomyNames []string
	// SnomedCodes match a resource carrying any taxonomy of any listed code.
	SnomedCodes []string
	Sort        string
	Page        Page
}

// Resource sort keys; a leading "-" sorts descending.
const (
	SortName             = "name"
	SortOrganisationName = "organisation_name"
)

// ServiceQuery filters services.
type ServiceQuery struct {
	OrganisationID string
	Name           string
	Page           Page
}

// ReferralQuery filters referrals. A nil ServiceIDs means no service filter.
type ReferralQuery struct {
	ServiceIDs []string
	Status     string
	Page       Page
}
