package rbac

// Role names. Keep these stable; they are baked into issued tokens.
const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

func IsKnownRole(role string) bool { return role == RoleOwner || role == RoleStaff }
