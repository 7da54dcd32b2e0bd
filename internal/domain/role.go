package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Role identifies one workspace role.
type Role string

// Workspace role values, highest rank first.
const (
	RoleOwner       Role = "owner"
	RoleAdmin       Role = "admin"
	RoleFacilitator Role = "facilitator"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// roleRanks stores the fixed total order over workspace roles.
var roleRanks = map[Role]int{
	RoleOwner:       5,
	RoleAdmin:       4,
	RoleFacilitator: 3,
	RoleParticipant: 2,
	RoleObserver:    1,
}

// Roles returns all workspace roles ordered from highest to lowest rank.
func Roles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleFacilitator, RoleParticipant, RoleObserver}
}

// Rank returns the rank of one role, or 0 when the role is unknown.
func Rank(role Role) int {
	return roleRanks[role]
}

// ParseRole canonicalizes a role name. An empty value resolves to observer.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if role == "" {
		return RoleObserver, nil
	}
	if _, ok := roleRanks[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// AccessRequirement lists the roles allowed to run one operation.
type AccessRequirement struct {
	roles []Role
}

// NewAccessRequirement builds a non-empty requirement from known roles.
func NewAccessRequirement(roles ...Role) (AccessRequirement, error) {
	if len(roles) == 0 {
		return AccessRequirement{}, ErrEmptyRequirement
	}
	out := make([]Role, 0, len(roles))
	for _, role := range roles {
		if _, ok := roleRanks[role]; !ok {
			return AccessRequirement{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
		if slices.Contains(out, role) {
			continue
		}
		out = append(out, role)
	}
	return AccessRequirement{roles: out}, nil
}

// MustAccessRequirement is NewAccessRequirement for static policy tables.
func MustAccessRequirement(roles ...Role) AccessRequirement {
	req, err := NewAccessRequirement(roles...)
	if err != nil {
		panic(err)
	}
	return req
}

// Roles returns a copy of the required roles in declaration order.
func (r AccessRequirement) Roles() []Role {
	return append([]Role(nil), r.roles...)
}

// MinRank returns the lowest rank among the required roles, or 0 when empty.
func (r AccessRequirement) MinRank() int {
	minRank := 0
	for _, role := range r.roles {
		rank := Rank(role)
		if minRank == 0 || rank < minRank {
			minRank = rank
		}
	}
	return minRank
}

// String renders the requirement the way denial messages quote it.
func (r AccessRequirement) String() string {
	names := make([]string, 0, len(r.roles))
	for _, role := range r.roles {
		names = append(names, string(role))
	}
	return strings.Join(names, " or ")
}

// Decision is the outcome of one access check.
type Decision bool

// Decision values.
const (
	Deny  Decision = false
	Allow Decision = true
)

// Decide reports whether a caller role satisfies a requirement.
// An empty caller role is treated as observer; unknown roles and empty
// requirements deny.
func Decide(caller Role, req AccessRequirement) Decision {
	if caller == "" {
		caller = RoleObserver
	}
	callerRank := Rank(caller)
	required := req.MinRank()
	if callerRank == 0 || required == 0 {
		return Deny
	}
	return Decision(callerRank >= required)
}

// AccessError reports a denied access decision.
type AccessError struct {
	Operation string
	Required  AccessRequirement
	Actual    Role
}

// Error implements error.
func (e *AccessError) Error() string {
	return fmt.Sprintf("insufficient permissions for %s: required %s, current %s", e.Operation, e.Required, e.Actual)
}

// Unwrap lets errors.Is match ErrForbidden.
func (e *AccessError) Unwrap() error {
	return ErrForbidden
}
