package role

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseNormalizesLegacySpellings(t *testing.T) {
	cases := map[string]Role{
		"ADMIN":               Admin,
		"admin":               Admin,
		"ROLE_ADMIN":          Admin,
		"role_police_officer": PoliceOfficer,
		"POLICE_OFFICER":      PoliceOfficer,
		"police-officer":      PoliceOfficer,
		" CITIZEN ":           Citizen,
		"ROLE_CITIZEN":        Citizen,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error %v", in, err)
		}
		if got != want {
			t.Fatalf("Parse(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "ROLE_", "root", "ADMINISTRATOR"} {
		if _, err := Parse(in); !errors.Is(err, ErrUnknown) {
			t.Fatalf("Parse(%q): expected ErrUnknown, got %v", in, err)
		}
	}
}

func TestJSONUsesCanonicalForm(t *testing.T) {
	type wrapper struct {
		Role Role `json:"role"`
	}

	data, err := json.Marshal(wrapper{Role: PoliceOfficer})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"role":"POLICE_OFFICER"}` {
		t.Fatalf("unexpected json %s", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"role":"ROLE_ADMIN"}`), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Role != Admin {
		t.Fatalf("expected Admin, got %v", w.Role)
	}

	if err := json.Unmarshal([]byte(`{"role":null}`), &w); err != nil || w.Role != None {
		t.Fatalf("expected null to decode to None, got %v (%v)", w.Role, err)
	}
	if err := json.Unmarshal([]byte(`{"role":"JANITOR"}`), &w); err == nil {
		t.Fatalf("expected unknown role to fail")
	}

	data, _ = json.Marshal(wrapper{})
	if string(data) != `{"role":null}` {
		t.Fatalf("expected None to marshal as null, got %s", data)
	}
}

func TestSet(t *testing.T) {
	s := SetOf(Admin, PoliceOfficer, None)
	if !s.Has(Admin) || !s.Has(PoliceOfficer) || s.Has(Citizen) {
		t.Fatalf("unexpected membership: %b", s.Raw())
	}
	if s.Has(None) {
		t.Fatalf("None must never be a member")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 members, got %d", s.Len())
	}
	if !s.Intersects(SetOf(Citizen, Admin)) || s.Intersects(SetOf(Citizen)) {
		t.Fatalf("unexpected intersection result for %b", s.Raw())
	}
	s.Remove(Admin)
	if got := s.Roles(); len(got) != 1 || got[0] != PoliceOfficer {
		t.Fatalf("expected [PoliceOfficer], got %v", got)
	}
	if Role(99).Valid() || Role(99).String() != "" {
		t.Fatalf("out of range role must be invalid")
	}
}
