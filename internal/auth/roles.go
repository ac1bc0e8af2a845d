// Package auth - roles.go defines the closed set of organization roles, the
// numeric hierarchy behind minimum-role checks, the read-only role axis, and
// the invite policy table.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Role is an organization membership role
type Role string

const (
	RoleMember     Role = "member"
	RoleSafetyLead Role = "safety_lead"
	RoleExecutive  Role = "executive"
	RoleAdmin      Role = "admin"
	RoleOwner      Role = "owner"
	// RoleAuditor is an external oversight role. It sits beside the hierarchy
	// with executive-level read access and is always write-blocked.
	RoleAuditor Role = "auditor"
)

// ErrUnknownRole is returned by ParseRoleStrict for strings outside the role set
var ErrUnknownRole = errors.New("unknown role")

var roleRank = map[Role]int{
	RoleMember:     1,
	RoleSafetyLead: 2,
	RoleExecutive:  3,
	RoleAdmin:      4,
	RoleOwner:      5,
	RoleAuditor:    3,
}

// readOnlyRoles may view but never mutate state
var readOnlyRoles = map[Role]bool{
	RoleExecutive: true,
	RoleAuditor:   true,
}

// invitePolicy lists the roles each inviter may grant. Owners are handled
// separately because they may grant any role.
var invitePolicy = map[Role][]Role{
	RoleAdmin:      {RoleMember, RoleSafetyLead, RoleExecutive},
	RoleSafetyLead: {RoleMember},
}

// AllRoles returns every valid role in ascending rank order
func AllRoles() []Role {
	return []Role{RoleMember, RoleSafetyLead, RoleExecutive, RoleAuditor, RoleAdmin, RoleOwner}
}

// ParseRole converts a stored or claimed role string to a Role. Unrecognized
// input becomes RoleMember so a bad value never grants more than the least
// privileged role.
func ParseRole(s string) Role {
	r, err := ParseRoleStrict(s)
	if err != nil {
		return RoleMember
	}
	return r
}

// ParseRoleStrict is ParseRole without the fallback. Use it for client input
// that should be rejected rather than downgraded, such as invite payloads.
func ParseRoleStrict(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Rank returns the numeric position of role in the hierarchy
func Rank(role Role) int {
	if rank, ok := roleRank[role]; ok {
		return rank
	}
	return roleRank[RoleMember]
}

// HasRoleAtLeast reports whether role ranks at or above min
func HasRoleAtLeast(role, min Role) bool {
	return Rank(role) >= Rank(min)
}

// IsReadOnly reports whether role is barred from mutating requests
func IsReadOnly(role Role) bool {
	return readOnlyRoles[role]
}

// ReadOnlyMessage returns the user-facing explanation for a blocked write
func ReadOnlyMessage(role Role) string {
	switch role {
	case RoleAuditor:
		return "Auditors have read-only access"
	case RoleExecutive:
		return "Executives have read-only access"
	default:
		return "Your role has read-only access"
	}
}

// CanInvite reports whether inviter may grant the invitee role. Only an owner
// may mint another owner.
func CanInvite(inviter, invitee Role) bool {
	if inviter == RoleOwner {
		_, ok := roleRank[invitee]
		return ok
	}
	for _, allowed := range invitePolicy[inviter] {
		if allowed == invitee {
			return true
		}
	}
	return false
}

// RequiresScope reports whether role must narrow audit queries and exports
// with at least one scope constraint (job, date range or category).
func RequiresScope(role Role) bool {
	return role == RoleSafetyLead
}
