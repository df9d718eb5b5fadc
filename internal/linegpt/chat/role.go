package chat

import "fmt"

// Role is the author role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// InvalidRoleError reports a stored message whose role is not one of the
// three known roles.
type InvalidRoleError struct {
	Role string
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("chat: %q is not a valid role", e.Role)
}

// ParseRole matches s exactly against the known roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSystem, RoleUser, RoleAssistant:
		return Role(s), nil
	}
	return "", &InvalidRoleError{Role: s}
}
