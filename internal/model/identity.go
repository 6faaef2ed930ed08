package model

// Role is the platform role carried by a verified identity token.
type Role string

const (
	RoleClient  Role = "client"
	RoleReader  Role = "reader"
	RoleMonitor Role = "monitor"
	RoleAdmin   Role = "admin"
)

// Privileged reports whether the role may observe sessions without
// appearing in visible membership.
func (r Role) Privileged() bool {
	return r == RoleMonitor || r == RoleAdmin
}

// Identity is an authenticated user for the duration of a connection.
type Identity struct {
	UserID      string `json:"user_id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}
