package rbac

// Permissions over the notification API.
const (
	PermissionSendNotification = "notification:send"
	PermissionReadNotification = "notification:read"

	// Admin operations
	PermissionReplayOutbox   = "outbox:replay"
	PermissionReadDeadLetter = "dlq:read"
)

// Caller roles carried in the token.
const (
	RoleService = "service"
	RoleAdmin   = "admin"
)

var rolePermissions = map[string][]string{
	RoleService: {
		PermissionSendNotification,
		PermissionReadNotification,
	},
	RoleAdmin: {
		PermissionSendNotification,
		PermissionReadNotification,
		PermissionReplayOutbox,
		PermissionReadDeadLetter,
	},
}

// HasPermission reports whether the role grants the permission.
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission returns an error when the role lacks the permission.
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError reports a caller lacking a permission.
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
