package permission

import (
	"errors"
	"strings"
)

// Role is one of the three platform roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ErrUnknownRole is returned when a role string is not one of the platform roles.
var ErrUnknownRole = errors.New("unknown role")

// Roles returns the platform roles in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleTeacher, RoleStudent}
}

// ParseRole normalizes s and returns the matching Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}

// Valid reports whether r is a platform role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// Dashboard returns the landing path for r.
func (r Role) Dashboard() string {
	return "/" + string(r) + "/dashboard"
}

func (r Role) String() string {
	return string(r)
}
