// Package role defines the closed set of application roles and the helpers
// used to gate and dispatch on them.
//
// Roles are tags, not capabilities: there is no hierarchy and no composition.
// An identity either has a role in an allowed set or it does not.
package role

import (
	"sort"
	"strings"

	"github.com/edupath/authsync/errors"
	"google.golang.org/grpc/codes"
)

// Role is an application-assigned role.
type Role string

// The closed set of roles.
const (
	Student  = Role("student")
	Teacher  = Role("teacher")
	Guardian = Role("guardian")
	Admin    = Role("admin")
)

// ErrUnknown is returned when parsing a value outside the closed set.
var ErrUnknown = errors.NewC("unknown role", codes.InvalidArgument)

// All returns every role in a stable order.
func All() []Role {
	return []Role{Student, Teacher, Guardian, Admin}
}

// Parse converts a string, in any case, to a Role.
func Parse(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", errors.Mark(ErrUnknown, 0).Append(s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case Student, Teacher, Guardian, Admin:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

func (r Role) IsStudent() bool  { return r == Student }
func (r Role) IsTeacher() bool  { return r == Teacher }
func (r Role) IsGuardian() bool { return r == Guardian }
func (r Role) IsAdmin() bool    { return r == Admin }

// Set is a set of roles used for membership checks.
type Set map[Role]struct{}

// NewSet returns a set containing roles.
func NewSet(roles ...Role) Set {
	s := make(Set, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// ParseSet parses each value with Parse.
func ParseSet(values ...string) (Set, error) {
	s := make(Set, len(values))
	for _, v := range values {
		r, err := Parse(v)
		if err != nil {
			return nil, err
		}
		s[r] = struct{}{}
	}
	return s, nil
}

// Contains reports whether r is in the set.
func (s Set) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Empty reports whether the set has no members.
func (s Set) Empty() bool {
	return len(s) == 0
}

// Strings returns the members sorted alphabetically.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}

// Authorized reports whether r may pass a gate requiring allowed. An empty
// set admits any valid role; an invalid or missing role is never admitted.
func Authorized(r Role, allowed Set) bool {
	if !r.Valid() {
		return false
	}
	return allowed.Empty() || allowed.Contains(r)
}
