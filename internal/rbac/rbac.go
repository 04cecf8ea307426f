package rbac

// Role is a per-sheet role grant.
type Role string

// GlobalRole is the account-wide role carried by every user.
type GlobalRole string

const (
	RoleViewer   Role = "viewer"
	RoleQATester Role = "qa_tester"
	RoleQALead   Role = "qa_lead"
	RoleOwner    Role = "owner"
)

const (
	GlobalUser       GlobalRole = "user"
	GlobalAdmin      GlobalRole = "admin"
	GlobalSuperAdmin GlobalRole = "super_admin"
)

// Visibility controls who can read a sheet without an explicit grant.
type Visibility string

const (
	VisibilityRestricted     Visibility = "restricted"
	VisibilityAnyoneWithLink Visibility = "anyoneWithLink"
	VisibilityPublic         Visibility = "public"
)

var roleLevels = map[Role]int{
	RoleViewer:   1,
	RoleQATester: 2,
	RoleQALead:   3,
	RoleOwner:    4,
}

// Level returns the role's position in the total order
// viewer < qa_tester < qa_lead < owner. Unknown roles rank below viewer.
func (r Role) Level() int {
	return roleLevels[r]
}

func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// AtLeast reports whether r carries every capability of min.
func (r Role) AtLeast(min Role) bool {
	return r.Level() >= min.Level()
}

// Parse validates a role string supplied by a caller.
func Parse(raw string) (Role, bool) {
	role := Role(raw)
	return role, role.Valid()
}

func ParseVisibility(raw string) (Visibility, bool) {
	switch Visibility(raw) {
	case VisibilityRestricted, VisibilityAnyoneWithLink, VisibilityPublic:
		return Visibility(raw), true
	default:
		return "", false
	}
}

func (g GlobalRole) IsAdmin() bool {
	return g == GlobalAdmin || g == GlobalSuperAdmin
}

// Access is a resolved effective role on a sheet. Implicit access comes from
// the sheet's link/public visibility rather than a membership row; it
// authorizes reads only, and the distinction matters for access-request
// eligibility.
type Access struct {
	Role     Role
	Implicit bool
}

// None reports whether the caller has no access at all.
func (a Access) None() bool {
	return !a.Role.Valid()
}

// Allows reports whether the access satisfies min. Implicit access never
// satisfies anything beyond viewer.
func (a Access) Allows(min Role) bool {
	if a.None() {
		return false
	}
	if a.Implicit && min != RoleViewer {
		return false
	}
	return a.Role.AtLeast(min)
}
