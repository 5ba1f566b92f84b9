package auth

import (
	"encoding/json"
	"sort"
	"strings"
)

// Role is a role name carried in the "roles" claim and the X-User-Roles
// header. Roles are lowercase.
type Role string

const (
	// RoleStudent is the default role of every authenticated user.
	RoleStudent Role = "student"

	// RoleInstructor may manage course content.
	RoleInstructor Role = "instructor"

	// RoleOwner is the course-scoped owner role.
	RoleOwner Role = "owner"

	// RoleAdmin is granted by the issuer to staff and superusers.
	RoleAdmin Role = "admin"
)

// Role guards shared by resource services.
var (
	// StudentOrInstructor admits any enrolled participant.
	StudentOrInstructor = NewRoleSet(RoleStudent, RoleInstructor, RoleOwner)

	// InstructorOnly admits course staff.
	InstructorOnly = NewRoleSet(RoleInstructor, RoleOwner)
)

// RoleSet is an unordered set of roles. The zero value is an empty set.
type RoleSet map[Role]struct{}

// NewRoleSet returns a set holding roles.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// DefaultRoles returns the set assigned when no roles are known.
func DefaultRoles() RoleSet {
	return NewRoleSet(RoleStudent)
}

// Has reports whether r is in the set.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Intersects reports whether the sets share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	for r := range other {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Slice returns the roles sorted by name.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the role names sorted.
func (s RoleSet) Strings() []string {
	roles := s.Slice()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON accepts any form understood by [ParseRoles].
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseRoles(raw)
	return nil
}

// ParseRoles normalizes a roles value into a set. It accepts native lists
// ([]string, []any, []Role), a RoleSet, a JSON array encoded as a string
// (`["instructor"]`) and the comma form (`student,instructor`). Names are
// trimmed and lowercased. Anything empty or unparsable yields {student}.
func ParseRoles(v any) RoleSet {
	var names []string
	switch t := v.(type) {
	case nil:
	case RoleSet:
		for r := range t {
			names = append(names, string(r))
		}
	case []Role:
		for _, r := range t {
			names = append(names, string(r))
		}
	case []string:
		names = t
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return DefaultRoles()
			}
			names = append(names, s)
		}
	case string:
		names = parseRoleString(t)
	}

	set := make(RoleSet, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			set[Role(n)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return DefaultRoles()
	}
	return set
}

func parseRoleString(s string) []string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var names []string
		if err := json.Unmarshal([]byte(s), &names); err != nil {
			return nil
		}
		return names
	}
	return strings.Split(s, ",")
}

// RolesForUser derives the issuer-side role set from account flags. Staff
// and superusers get admin on top of student.
func RolesForUser(staff, superuser bool) RoleSet {
	if staff || superuser {
		return NewRoleSet(RoleAdmin, RoleStudent)
	}
	return DefaultRoles()
}
