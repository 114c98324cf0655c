package auth

import "strings"

// Role is the coarse-grained role carried by every authenticated principal.
type Role string

const (
	RoleResident   Role = "resident"
	RoleAdmin      Role = "admin"
	RoleSecurity   Role = "security"
	RoleSuperAdmin Role = "super_admin"
)

// Roles lists every known role.
var Roles = []Role{RoleResident, RoleAdmin, RoleSecurity, RoleSuperAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleResident, RoleAdmin, RoleSecurity, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// ParseRole normalises raw (case, surrounding spaces, dashes) into a Role.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	return r, r.Valid()
}

// Principal is the authenticated actor handed to the engine. Immutable per request.
type Principal struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	UnitNumber string `json:"unit_number,omitempty"`
}

// Authenticated reports whether the principal carries an identity and a known role.
func (p Principal) Authenticated() bool {
	return strings.TrimSpace(p.ID) != "" && p.Role.Valid()
}

// Privileged reports whether the principal acts across every owner.
func (p Principal) Privileged() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}
