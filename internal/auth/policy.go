package auth

// Resource names a class of record guarded by the policy.
type Resource string

const (
	ResourceGuestCredential Resource = "guestCredential"
	ResourceDelivery        Resource = "delivery"
	ResourceResident        Resource = "resident"
	ResourceUser            Resource = "user"
	ResourceAccessLog       Resource = "accessLog"
	ResourceNotification    Resource = "notification"
)

// Action names an operation on a resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionRevoke  Action = "revoke"
	ActionCancel  Action = "cancel"
	ActionDelete  Action = "delete"
	ActionResolve Action = "resolve"
	ActionConsume Action = "consume"
)

// Scope bounds which records a grant covers.
type Scope string

const (
	// ScopeOwn covers records owned by the principal.
	ScopeOwn Scope = "own"
	// ScopeUnit covers records attached to the principal's unit, plus its own.
	ScopeUnit Scope = "unit"
	// ScopeAny covers every record.
	ScopeAny Scope = "any"
)

// Grant is one row of the permission table.
type Grant struct {
	Role     Role     `json:"role"`
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
	Scope    Scope    `json:"scope"`
}

// Attrs carries the ownership facts of the record being acted upon.
// Zero values mean "not applicable".
type Attrs struct {
	OwnerID      string
	UnitNumber   string
	TargetUserID string
	TargetRole   Role
}

var (
	everyRole  = []Role{RoleResident, RoleAdmin, RoleSecurity, RoleSuperAdmin}
	privileged = []Role{RoleAdmin, RoleSuperAdmin}
	guards     = []Role{RoleSecurity, RoleSuperAdmin}
	staff      = []Role{RoleAdmin, RoleSecurity, RoleSuperAdmin}
)

var grants = buildGrants()

func buildGrants() []Grant {
	var g []Grant
	add := func(roles []Role, res Resource, scope Scope, actions ...Action) {
		for _, role := range roles {
			for _, action := range actions {
				g = append(g, Grant{Role: role, Resource: res, Action: action, Scope: scope})
			}
		}
	}

	add([]Role{RoleResident}, ResourceGuestCredential, ScopeOwn, ActionCreate, ActionRevoke, ActionRead)
	add(privileged, ResourceGuestCredential, ScopeAny, ActionCreate, ActionRevoke)
	add(staff, ResourceGuestCredential, ScopeAny, ActionRead)
	add(guards, ResourceGuestCredential, ScopeAny, ActionConsume)

	add([]Role{RoleResident}, ResourceDelivery, ScopeOwn, ActionCreate, ActionCancel)
	add(privileged, ResourceDelivery, ScopeAny, ActionCreate, ActionCancel)
	add(guards, ResourceDelivery, ScopeAny, ActionResolve)
	add([]Role{RoleResident}, ResourceDelivery, ScopeUnit, ActionRead)
	add(staff, ResourceDelivery, ScopeAny, ActionRead)

	add(staff, ResourceResident, ScopeAny, ActionRead)

	add(privileged, ResourceUser, ScopeAny, ActionCreate, ActionUpdate, ActionDelete, ActionRead)
	add([]Role{RoleResident, RoleSecurity}, ResourceUser, ScopeOwn, ActionRead)

	add(guards, ResourceAccessLog, ScopeAny, ActionRead)

	// No inbox is kept here; these rows are for whatever stores notifications.
	add(everyRole, ResourceNotification, ScopeOwn, ActionRead, ActionUpdate, ActionDelete)
	add(privileged, ResourceNotification, ScopeAny, ActionCreate)
	return g
}

// Grants returns a copy of the permission table.
func Grants() []Grant {
	out := make([]Grant, len(grants))
	copy(out, grants)
	return out
}

// Can reports whether role holds any grant for (resource, action), ignoring
// record ownership. Read paths use it to gate a listing before filtering
// individual records through Authorize.
func Can(role Role, res Resource, action Action) bool {
	for _, g := range grants {
		if g.Role == role && g.Resource == res && g.Action == action {
			return true
		}
	}
	return false
}

// Authorize is the single policy decision point. It never has side effects.
func Authorize(p Principal, res Resource, action Action, attrs Attrs) bool {
	if !p.Authenticated() {
		return false
	}
	if !constraintsHold(p, res, action, attrs) {
		return false
	}
	for _, g := range grants {
		if g.Role != p.Role || g.Resource != res || g.Action != action {
			continue
		}
		if inScope(p, res, g.Scope, attrs) {
			return true
		}
	}
	return false
}

// constraintsHold applies rules that cut across every grant.
func constraintsHold(p Principal, res Resource, action Action, attrs Attrs) bool {
	if res != ResourceUser {
		return true
	}
	if action == ActionDelete && attrs.TargetUserID != "" && attrs.TargetUserID == p.ID {
		return false
	}
	if attrs.TargetRole == RoleSuperAdmin && action != ActionRead && p.Role != RoleSuperAdmin {
		return false
	}
	return true
}

func inScope(p Principal, res Resource, scope Scope, attrs Attrs) bool {
	owner := attrs.OwnerID
	if res == ResourceUser {
		owner = attrs.TargetUserID
	}
	switch scope {
	case ScopeAny:
		return true
	case ScopeOwn:
		return owner != "" && owner == p.ID
	case ScopeUnit:
		if owner != "" && owner == p.ID {
			return true
		}
		return p.UnitNumber != "" && attrs.UnitNumber == p.UnitNumber
	default:
		return false
	}
}
