package auth

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RoleKind names one of the fixed roles a user can hold.
type RoleKind string

const (
	RoleServiceWorker     RoleKind = "service_worker"
	RoleServiceAdmin      RoleKind = "service_admin"
	RoleOrganisationAdmin RoleKind = "organisation_admin"
	RoleGlobalAdmin       RoleKind = "global_admin"
	RoleSuperAdmin        RoleKind = "super_admin"
)

// AllRoles lists every role kind from least to most privileged.
var AllRoles = []RoleKind{
	RoleServiceWorker,
	RoleServiceAdmin,
	RoleOrganisationAdmin,
	RoleGlobalAdmin,
	RoleSuperAdmin,
}

// Rank orders role kinds by privilege. Unknown kinds rank 0.
func (k RoleKind) Rank() int {
	switch k {
	case RoleServiceWorker:
		return 1
	case RoleServiceAdmin:
		return 2
	case RoleOrganisationAdmin:
		return 3
	case RoleGlobalAdmin:
		return 4
	case RoleSuperAdmin:
		return 5
	}
	return 0
}

// Valid reports whether k is a known role kind.
func (k RoleKind) Valid() bool { return k.Rank() > 0 }

// ParseRoleKind normalizes s into a RoleKind.
func ParseRoleKind(s string) (RoleKind, error) {
	k := RoleKind(strings.TrimSpace(strings.ToLower(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return k, nil
}

func (k RoleKind) serviceScoped() bool {
	return k == RoleServiceWorker || k == RoleServiceAdmin
}

func (k RoleKind) global() bool {
	return k == RoleGlobalAdmin || k == RoleSuperAdmin
}

// Assignment gives a user a role in a scope. Service-scoped roles carry both
// the service and its owning organisation.
type Assignment struct {
	UserID         string    `json:"user_id"`
	Role           RoleKind  `json:"role"`
	OrganisationID string    `json:"organisation_id,omitempty"`
	ServiceID      string    `json:"service_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate rejects a scope that does not fit the role kind.
func (a Assignment) Validate() error {
	switch {
	case !a.Role.Valid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, a.Role)
	case a.Role.serviceScoped() && a.ServiceID == "":
		return fmt.Errorf("%w: %s requires service_id", ErrInvalidInput, a.Role)
	case a.Role == RoleOrganisationAdmin && (a.OrganisationID == "" || a.ServiceID != ""):
		return fmt.Errorf("%w: %s requires organisation_id only", ErrInvalidInput, a.Role)
	case a.Role.global() && (a.OrganisationID != "" || a.ServiceID != ""):
		return fmt.Errorf("%w: %s is not scoped", ErrInvalidInput, a.Role)
	}
	return nil
}

// Same reports whether two assignments grant the same role in the same scope.
func (a Assignment) Same(b Assignment) bool {
	return a.UserID == b.UserID && a.Role == b.Role &&
		a.OrganisationID == b.OrganisationID && a.ServiceID == b.ServiceID
}

// Target is the entity a permission is checked against. The zero Target is global.
type Target struct {
	OrganisationID string
	ServiceID      string
}

// OrganisationTarget targets everything owned by an organisation.
func OrganisationTarget(organisationID string) Target {
	return Target{OrganisationID: organisationID}
}

// ServiceTarget targets a service under its owning organisation.
func ServiceTarget(organisationID, serviceID string) Target {
	return Target{OrganisationID: organisationID, ServiceID: serviceID}
}

// RoleSet is a set of role kinds.
type RoleSet map[RoleKind]struct{}

// NewRoleSet builds a set from kinds.
func NewRoleSet(kinds ...RoleKind) RoleSet {
	set := make(RoleSet, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

func (s RoleSet) Has(k RoleKind) bool {
	_, ok := s[k]
	return ok
}

func (s RoleSet) Empty() bool { return len(s) == 0 }

// Highest returns the most privileged role held, or "" when empty.
func (s RoleSet) Highest() RoleKind {
	var best RoleKind
	for k := range s {
		if k.Rank() > best.Rank() {
			best = k
		}
	}
	return best
}

// Sorted returns the held roles from most to least privileged.
func (s RoleSet) Sorted() []RoleKind {
	out := make([]RoleKind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() > out[j].Rank() })
	return out
}

// Resolve returns the roles the assignments grant for target. Organisation
// scope contains every service under that organisation.
func Resolve(assignments []Assignment, target Target) RoleSet {
	roles := RoleSet{}
	for _, a := range assignments {
		switch {
		case a.Role.global():
			roles[a.Role] = struct{}{}
		case a.Role == RoleOrganisationAdmin:
			if target.OrganisationID != "" && a.OrganisationID == target.OrganisationID {
				roles[a.Role] = struct{}{}
			}
		case a.Role.serviceScoped():
			if target.ServiceID != "" && a.ServiceID == target.ServiceID {
				roles[a.Role] = struct{}{}
			}
		}
	}
	return roles
}

// User is an account that can authenticate and hold role assignments.
type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Principal is an authenticated user with their role assignments.
type Principal struct {
	User        User
	Assignments []Assignment
}

// Roles resolves the principal's roles for target.
func (p Principal) Roles(target Target) RoleSet {
	return Resolve(p.Assignments, target)
}

// AllRoles returns every role kind held in any scope.
func (p Principal) AllRoles() RoleSet {
	roles := RoleSet{}
	for _, a := range p.Assignments {
		roles[a.Role] = struct{}{}
	}
	return roles
}

// HasAnyRole reports whether the principal holds at least one assignment.
func (p Principal) HasAnyRole() bool { return len(p.Assignments) > 0 }

// IsGlobalAdmin reports whether the principal holds global or super admin.
func (p Principal) IsGlobalAdmin() bool {
	for _, a := range p.Assignments {
		if a.Role.global() {
			return true
		}
	}
	return false
}

// OrganisationIDs lists organisations the principal administers.
func (p Principal) OrganisationIDs() []string {
	var out []string
	for _, a := range p.Assignments {
		if a.Role == RoleOrganisationAdmin {
			out = appendUnique(out, a.OrganisationID)
		}
	}
	return out
}

// ServiceIDs lists services the principal holds a service-scoped role for.
func (p Principal) ServiceIDs() []string {
	var out []string
	for _, a := range p.Assignments {
		if a.Role.serviceScoped() {
			out = appendUnique(out, a.ServiceID)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
