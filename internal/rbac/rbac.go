package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleLead   Role = "lead"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead          Action = "read"
	ActionCreateTask    Action = "create_task"
	ActionManageProject Action = "manage_project"
	ActionManageMembers Action = "manage_members"
	ActionRotateCode    Action = "rotate_code"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleLead:
		return action == ActionRead || action == ActionCreateTask || action == ActionManageProject || action == ActionManageMembers || action == ActionRotateCode
	case RoleMember:
		return action == ActionRead || action == ActionCreateTask
	default:
		return false
	}
}

// Valid reports whether role is one of the known membership roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleMember, RoleLead, RoleAdmin:
		return true
	default:
		return false
	}
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleMember
}
