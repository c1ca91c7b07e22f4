package role

import (
	"encoding/json"
	"errors"
	"strings"
)

// Role is the closed set of account roles known to the backend.
type Role uint8

const (
	// None is the zero value and never a valid role.
	None Role = iota
	// Citizen files complaints.
	Citizen
	// PoliceOfficer triages and resolves assigned cases.
	PoliceOfficer
	// Admin manages departments, officers, users and reports.
	Admin
)

const legacyPrefix = "ROLE_"

// ErrUnknown is returned when a string does not name a role.
var ErrUnknown = errors.New("role: unknown role")

var names = [...]string{
	None:          "",
	Citizen:       "CITIZEN",
	PoliceOfficer: "POLICE_OFFICER",
	Admin:         "ADMIN",
}

// All lists every valid role in declaration order.
func All() []Role { return []Role{Citizen, PoliceOfficer, Admin} }

// String returns the canonical wire form.
func (r Role) String() string {
	if int(r) < len(names) {
		return names[r]
	}
	return ""
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool { return r >= Citizen && r <= Admin }

// Parse accepts the canonical form, the legacy ROLE_ prefixed form, and any
// letter case, and normalizes to the canonical role.
func Parse(s string) (Role, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, legacyPrefix)
	s = strings.ReplaceAll(s, "-", "_")
	for r := Citizen; r <= Admin; r++ {
		if names[r] == s {
			return r, nil
		}
	}
	return None, ErrUnknown
}

// MarshalJSON writes the canonical string. None is written as null.
func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts anything Parse accepts. null and "" decode to None.
func (r *Role) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = None
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*r = None
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Set is a bitmask of roles.
type Set uint64

// SetOf builds a Set from roles. Invalid roles are ignored.
func SetOf(roles ...Role) Set {
	var s Set
	for _, r := range roles {
		s.Add(r)
	}
	return s
}

func (s *Set) Add(r Role) {
	if !r.Valid() {
		return
	}
	*s |= 1 << r
}

func (s *Set) Remove(r Role) {
	if !r.Valid() {
		return
	}
	*s &^= 1 << r
}

func (s Set) Has(r Role) bool {
	if !r.Valid() {
		return false
	}
	return s&(1<<r) != 0
}

// Intersects reports whether s and o share a role.
func (s Set) Intersects(o Set) bool { return s&o != 0 }

// Len returns the number of roles in s.
func (s Set) Len() int {
	n := 0
	for r := Citizen; r <= Admin; r++ {
		if s.Has(r) {
			n++
		}
	}
	return n
}

// Roles returns the members of s in declaration order.
func (s Set) Roles() []Role {
	out := make([]Role, 0, s.Len())
	for r := Citizen; r <= Admin; r++ {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s Set) Raw() uint64 { return uint64(s) }
