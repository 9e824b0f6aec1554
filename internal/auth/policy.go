package auth

import "fmt"

// Action is an operation on an entity type.
type Action string

const (
	ActionList   Action = "list"
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Entity is a protected entity type.
type Entity string

const (
	EntityResources      Entity = "resources"
	EntityServices       Entity = "services"
	EntityOrganisations  Entity = "organisations"
	EntityReferrals      Entity = "referrals"
	EntityReports        Entity = "reports"
	EntityStopWords      Entity = "stop_words"
	EntityUpdateRequests Entity = "update_requests"
	EntityUsers          Entity = "users"
	EntityTaxonomies     Entity = "taxonomies"
	EntityCollections    Entity = "collections"
)

// Status distinguishes a missing identity from an insufficient one.
type Status int

const (
	StatusAllowed Status = iota
	StatusUnauthenticated
	StatusForbidden
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Status  Status
	Reason  string
}

// anyone marks an action open to callers without a role.
const anyone RoleKind = ""

// policy maps entity and action to the least privileged role allowed. The
// role ranks are monotonic, so any more privileged role is allowed as well.
var policy = map[Entity]map[Action]RoleKind{
	EntityResources: {
		ActionList:   anyone,
		ActionRead:   anyone,
		ActionCreate: RoleOrganisationAdmin,
		ActionUpdate: RoleOrganisationAdmin,
		ActionDelete: RoleOrganisationAdmin,
	},
	EntityServices: {
		ActionList:   anyone,
		ActionRead:   anyone,
		ActionUpdate: RoleServiceAdmin,
		ActionCreate: RoleOrganisationAdmin,
		ActionDelete: RoleOrganisationAdmin,
	},
	EntityOrganisations: {
		ActionList:   anyone,
		ActionRead:   anyone,
		ActionUpdate: RoleOrganisationAdmin,
		ActionCreate: RoleGlobalAdmin,
		ActionDelete: RoleGlobalAdmin,
	},
	EntityReferrals: {
		ActionList:   RoleServiceWorker,
		ActionRead:   RoleServiceWorker,
		ActionCreate: RoleServiceWorker,
		ActionUpdate: RoleServiceWorker,
		ActionDelete: RoleGlobalAdmin,
	},
	EntityReports:        allActions(RoleGlobalAdmin),
	EntityStopWords:      allActions(RoleGlobalAdmin),
	EntityUpdateRequests: allActions(RoleGlobalAdmin),
	EntityTaxonomies:     catalogue(),
	EntityCollections:    catalogue(),
	EntityUsers: {
		ActionList:   RoleOrganisationAdmin,
		ActionRead:   RoleOrganisationAdmin,
		ActionCreate: RoleOrganisationAdmin,
		ActionUpdate: RoleOrganisationAdmin,
		ActionDelete: RoleGlobalAdmin,
	},
}

func allActions(min RoleKind) map[Action]RoleKind {
	return map[Action]RoleKind{
		ActionList:   min,
		ActionRead:   min,
		ActionCreate: min,
		ActionUpdate: min,
		ActionDelete: min,
	}
}

// catalogue is public to read and managed by global admins.
func catalogue() map[Action]RoleKind {
	actions := allActions(RoleGlobalAdmin)
	actions[ActionList] = anyone
	actions[ActionRead] = anyone
	return actions
}

// minimumRole returns the least privileged role allowed, and false when the
// pair is not in the table at all.
func minimumRole(action Action, entity Entity) (RoleKind, bool) {
	actions, ok := policy[entity]
	if !ok {
		return "", false
	}
	min, ok := actions[action]
	return min, ok
}

// CanPerform reports whether any of roles permits action on entity. Roles are
// evaluated from most to least privileged.
func CanPerform(roles RoleSet, action Action, entity Entity) bool {
	min, ok := minimumRole(action, entity)
	if !ok {
		return false
	}
	if min == anyone {
		return true
	}
	for _, role := range roles.Sorted() {
		if role.Rank() >= min.Rank() {
			return true
		}
	}
	return false
}

// Decide wraps CanPerform and tells unauthenticated callers apart from
// authenticated callers without a sufficient role.
func Decide(authenticated bool, roles RoleSet, action Action, entity Entity) Decision {
	if CanPerform(roles, action, entity) {
		reason := "public"
		if h := roles.Highest(); h != "" {
			reason = fmt.Sprintf("%s may %s %s", h, action, entity)
		}
		return Decision{Allowed: true, Status: StatusAllowed, Reason: reason}
	}
	if !authenticated {
		return Decision{Status: StatusUnauthenticated, Reason: "authentication required"}
	}
	min, ok := minimumRole(action, entity)
	if !ok {
		return Decision{Status: StatusForbidden, Reason: fmt.Sprintf("%s on %s is not permitted", action, entity)}
	}
	return Decision{Status: StatusForbidden, Reason: fmt.Sprintf("%s %s requires %s", action, entity, min)}
}

// Authorize resolves the principal's roles for target and decides. A nil
// principal is a guest.
func Authorize(p *Principal, action Action, entity Entity, target Target) Decision {
	if p == nil {
		return Decide(false, nil, action, entity)
	}
	return Decide(true, p.Roles(target), action, entity)
}

// CanGrant reports whether a granter holding roles for the assignment's
// target may grant role. Super admin is reserved to super admins.
func CanGrant(granter RoleSet, role RoleKind) bool {
	if !role.Valid() {
		return false
	}
	var min RoleKind
	switch role {
	case RoleSuperAdmin:
		min = RoleSuperAdmin
	case RoleGlobalAdmin:
		min = RoleGlobalAdmin
	case RoleOrganisationAdmin:
		min = RoleOrganisationAdmin
	default:
		min = RoleServiceAdmin
	}
	return granter.Highest().Rank() >= min.Rank()
}
