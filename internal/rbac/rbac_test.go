package rbac

import "testing"

func TestRoleOrder(t *testing.T) {
	cases := []struct {
		name  string
		role  Role
		min   Role
		allow bool
	}{
		{name: "viewer at least viewer", role: RoleViewer, min: RoleViewer, allow: true},
		{name: "viewer below tester", role: RoleViewer, min: RoleQATester, allow: false},
		{name: "tester below lead", role: RoleQATester, min: RoleQALead, allow: false},
		{name: "lead satisfies tester", role: RoleQALead, min: RoleQATester, allow: true},
		{name: "owner satisfies lead", role: RoleOwner, min: RoleQALead, allow: true},
		{name: "owner satisfies owner", role: RoleOwner, min: RoleOwner, allow: true},
		{name: "unknown role ranks below viewer", role: Role("manager"), min: RoleViewer, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.role.AtLeast(tc.min); got != tc.allow {
				t.Fatalf("AtLeast(%q, %q) = %v, want %v", tc.role, tc.min, got, tc.allow)
			}
		})
	}
}

func TestParse(t *testing.T) {
	if _, ok := Parse("qa_lead"); !ok {
		t.Fatal("qa_lead should parse")
	}
	if _, ok := Parse("superuser"); ok {
		t.Fatal("superuser should not parse")
	}
	if _, ok := Parse(""); ok {
		t.Fatal("empty role should not parse")
	}
}

func TestImplicitAccessAuthorizesReadsOnly(t *testing.T) {
	implicit := Access{Role: RoleViewer, Implicit: true}

	if !implicit.Allows(RoleViewer) {
		t.Fatal("implicit viewer should allow reads")
	}
	if implicit.Allows(RoleQATester) {
		t.Fatal("implicit viewer must not allow writes")
	}
	if implicit.Allows(RoleOwner) {
		t.Fatal("implicit viewer must not allow administration")
	}

	explicit := Access{Role: RoleQALead}
	if !explicit.Allows(RoleQATester) {
		t.Fatal("explicit qa_lead should satisfy qa_tester")
	}
}

func TestNoAccess(t *testing.T) {
	var none Access
	if !none.None() {
		t.Fatal("zero Access should report no access")
	}
	if none.Allows(RoleViewer) {
		t.Fatal("no access must not allow reads")
	}
}
