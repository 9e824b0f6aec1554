package directory

import (
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL slug from a name.
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(s, "-")
}

func required(v *ValidationError, field, value string) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "The "+strings.ReplaceAll(field, "_", " ")+" field is required.")
	}
}

func optionalEmail(v *ValidationError, field, value string) {
	if value == "" {
		return
	}
	if _, err := mail.ParseAddress(value); err != nil {
		v.Add(field, "The "+strings.ReplaceAll(field, "_", " ")+" must be a valid email address.")
	}
}

func optionalURL(v *ValidationError, field, value string) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		v.Add(field, "The "+strings.ReplaceAll(field, "_", " ")+" format is invalid.")
	}
}

// Normalize trims fields and fills a missing slug.
func (o *Organisation) Normalize() {
	o.Name = strings.TrimSpace(o.Name)
	o.Slug = strings.TrimSpace(o.Slug)
	if o.Slug == "" {
		o.Slug = Slugify(o.Name)
	}
	o.Email = strings.TrimSpace(strings.ToLower(o.Email))
	o.URL = strings.TrimSpace(o.URL)
	o.Phone = strings.TrimSpace(o.Phone)
}

// Validate checks required fields.
func (o Organisation) Validate() error {
	v := &ValidationError{}
	required(v, "name", o.Name)
	required(v, "slug", o.Slug)
	optionalEmail(v, "email", o.Email)
	optionalURL(v, "url", o.URL)
	return v.Err()
}

// Normalize trims fields and fills defaults.
func (s *Service) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.OrganisationID = strings.TrimSpace(s.OrganisationID)
	s.Slug = strings.TrimSpace(s.Slug)
	if s.Slug == "" {
		s.Slug = Slugify(s.Name)
	}
	s.Status = strings.TrimSpace(strings.ToLower(s.Status))
	if s.Status == "" {
		s.Status = ServiceActive
	}
	s.ContactEmail = strings.TrimSpace(strings.ToLower(s.ContactEmail))
	s.URL = strings.TrimSpace(s.URL)
}

func (s Service) Validate() error {
	v := &ValidationError{}
	required(v, "organisation_id", s.OrganisationID)
	required(v, "name", s.Name)
	required(v, "slug", s.Slug)
	if s.Status != ServiceActive && s.Status != ServiceInactive {
		v.Add("status", "The selected status is invalid.")
	}
	optionalEmail(v, "contact_email", s.ContactEmail)
	optionalURL(v, "url", s.URL)
	return v.Err()
}

// Normalize trims fields and fills a missing slug.
func (r *Resource) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.OrganisationID = strings.TrimSpace(r.OrganisationID)
	r.Slug = strings.TrimSpace(r.Slug)
	if r.Slug == "" {
		r.Slug = Slugify(r.Name)
	}
	r.URL = strings.TrimSpace(r.URL)
	if r.CategoryTaxonomies == nil {
		r.CategoryTaxonomies = []string{}
	}
}

func (r Resource) Validate() error {
	v := &ValidationError{}
	required(v, "organisation_id", r.OrganisationID)
	required(v, "name", r.Name)
	required(v, "slug", r.Slug)
	required(v, "url", r.URL)
	optionalURL(v, "url", r.URL)
	return v.Err()
}

// Normalize trims fields and defaults the status.
func (r *Referral) Normalize() {
	r.ServiceID = strings.TrimSpace(r.ServiceID)
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.RefereeEmail = strings.TrimSpace(strings.ToLower(r.RefereeEmail))
	if r.Status == "" {
		r.Status = ReferralNew
	}
}

func (r Referral) Validate() error {
	v := &ValidationError{}
	required(v, "service_id", r.ServiceID)
	required(v, "name", r.Name)
	if r.Email == "" && r.Phone == "" {
		v.Add("email", "An email address or phone number is required.")
	}
	optionalEmail(v, "email", r.Email)
	optionalEmail(v, "referee_email", r.RefereeEmail)
	switch r.Status {
	case ReferralNew, ReferralInProgress, ReferralCompleted, ReferralIncompleted:
	default:
		v.Add("status", "The selected status is invalid.")
	}
	return v.Err()
}

// ValidReportType reports whether t is a known report type.
func ValidReportType(t string) bool {
	switch t {
	case ReportUsersExport, ReportServicesExport, ReportReferralsExport:
		return true
	}
	return false
}

// NormalizeStopWords lower-cases, trims and de-duplicates words.
func NormalizeStopWords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(strings.ToLower(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func (t *Taxonomy) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
	t.ParentID = strings.TrimSpace(t.ParentID)
}

func (t Taxonomy) Validate() error {
	v := &ValidationError{}
	required(v, "name", t.Name)
	if t.Order < 0 {
		v.Add("order", "The order must be at least 0.")
	}
	return v.Err()
}

func (c *SnomedCode) Normalize() {
	c.Code = strings.TrimSpace(c.Code)
	c.Name = strings.TrimSpace(c.Name)
	ids := make([]string, 0, len(c.TaxonomyIDs))
	for _, id := range c.TaxonomyIDs {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	c.TaxonomyIDs = ids
}

func (c SnomedCode) Validate() error {
	v := &ValidationError{}
	required(v, "code", c.Code)
	required(v, "name", c.Name)
	return v.Err()
}
