// Package rbac defines per-version member roles and the reconciliation of
// role assignments against a remote authority.
package rbac

type Role string

const (
	RoleOwner    Role = "owner"
	RoleEditor   Role = "editor"
	RoleReviewer Role = "reviewer"
	RoleViewer   Role = "viewer"
)

// Roles lists every role a version member can hold.
func Roles() []Role {
	return []Role{RoleOwner, RoleViewer, RoleEditor, RoleReviewer}
}

// EditableRoles lists the roles that can be granted and revoked through the
// member editor. Ownership is fixed at version creation and never reassigned.
func EditableRoles() []Role {
	return []Role{RoleViewer, RoleEditor, RoleReviewer}
}

func Valid(role Role) bool {
	switch role {
	case RoleOwner, RoleViewer, RoleEditor, RoleReviewer:
		return true
	default:
		return false
	}
}

func Normalize(role string) Role {
	if Valid(Role(role)) {
		return Role(role)
	}
	return RoleViewer
}

// HasAny reports whether held contains at least one of wanted.
func HasAny(held []Role, wanted []Role) bool {
	for _, h := range held {
		for _, w := range wanted {
			if h == w {
				return true
			}
		}
	}
	return false
}
