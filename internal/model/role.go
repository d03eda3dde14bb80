package model

import (
	"errors"
	"strings"
)

// Role is the closed set of account roles. Policy decisions never compare
// role strings directly; they go through the capability table below.
type Role string

const (
	RoleGuest    Role = "guest"
	RoleCustomer Role = "customer"
	RoleSupport  Role = "support"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// ErrUnknownRole is returned by ParseRole for values outside the enumeration.
var ErrUnknownRole = errors.New("unknown role")

// capability describes what a role is allowed to do.
//
//	rank      – position in the role ordering, higher is more privileged.
//	elevated  – may read and mutate any support ticket.
//	assignAny – may assign every role on registration.
//	assignMax – highest rank this role may assign (ignored when assignAny).
type capability struct {
	rank      int
	elevated  bool
	assignAny bool
	assignMax int
}

var capabilities = map[Role]capability{
	RoleGuest:    {rank: 0},
	RoleCustomer: {rank: 1},
	RoleSupport:  {rank: 2, elevated: true},
	RoleStaff:    {rank: 3, elevated: true, assignMax: 3},
	RoleAdmin:    {rank: 4, elevated: true, assignAny: true},
}

// Roles lists every role from least to most privileged.
func Roles() []Role {
	return []Role{RoleGuest, RoleCustomer, RoleSupport, RoleStaff, RoleAdmin}
}

// ParseRole normalizes s and returns the matching Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := capabilities[r]; !ok {
		return "", ErrUnknownRole
	}
	return r, nil
}

// Valid reports whether r is a member of the enumeration.
func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

// Rank returns the position of r in the role ordering, -1 for unknown roles.
func (r Role) Rank() int {
	c, ok := capabilities[r]
	if !ok {
		return -1
	}
	return c.rank
}

// Elevated reports whether r belongs to the ticket back-office set
// (admin, staff, support).
func (r Role) Elevated() bool {
	return capabilities[r].elevated
}

// CanAssign reports whether an actor holding r may create an account with
// the target role. Admins may assign anything, staff may assign staff or
// lower, everybody else may only assign customer.
func (r Role) CanAssign(target Role) bool {
	t, ok := capabilities[target]
	if !ok {
		return false
	}
	if target == RoleCustomer {
		return true
	}
	c, ok := capabilities[r]
	if !ok {
		return false
	}
	if c.assignAny {
		return true
	}
	return c.assignMax > 0 && t.rank <= c.assignMax
}

func (r Role) String() string { return string(r) }
