package accesscontrol

import "testing"

func TestActionOrdering(t *testing.T) {
	cases := []struct {
		held, requested Action
		want            bool
	}{
		{ActionOwn, ActionRead, true},
		{ActionOwn, ActionWrite, true},
		{ActionOwn, ActionOwn, true},
		{ActionWrite, ActionRead, true},
		{ActionWrite, ActionWrite, true},
		{ActionWrite, ActionOwn, false},
		{ActionRead, ActionRead, true},
		{ActionRead, ActionWrite, false},
		{ActionRead, ActionOwn, false},
	}
	for _, tc := range cases {
		if got := tc.held.Satisfies(tc.requested); got != tc.want {
			t.Errorf("%s satisfies %s = %v, want %v", tc.held, tc.requested, got, tc.want)
		}
	}
}

func TestActionValid(t *testing.T) {
	for _, a := range []Action{ActionRead, ActionWrite, ActionOwn} {
		if !a.Valid() {
			t.Errorf("%s should be valid", a)
		}
	}
	if Action("delete").Valid() {
		t.Error("unknown action should be invalid")
	}
	if Action("").Satisfies(ActionRead) {
		t.Error("empty action must not satisfy anything")
	}
	if ActionOwn.Satisfies(Action("bogus")) {
		t.Error("nothing satisfies an invalid request")
	}
}

func TestIsAdmin(t *testing.T) {
	var anon *CurrentUser
	if anon.IsAdmin() {
		t.Error("anonymous caller is never admin")
	}
	user := &CurrentUser{ID: "u1", Roles: []string{"Editor"}}
	if user.IsAdmin() {
		t.Error("non-admin roles must not grant admin")
	}
	admin := &CurrentUser{ID: "u2", Roles: []string{"Editor", RoleAdmin}}
	if !admin.IsAdmin() {
		t.Error("Admin role not detected")
	}
}

func TestEntityTypeRegistration(t *testing.T) {
	if !KnownEntityType(TypeUser) || !KnownEntityType(TypeGroup) {
		t.Fatal("built-in types missing")
	}
	if KnownEntityType("Widget") {
		t.Fatal("unregistered type reported as known")
	}
	RegisterEntityType("Widget")
	if !KnownEntityType("Widget") {
		t.Fatal("registered type not known")
	}
}
