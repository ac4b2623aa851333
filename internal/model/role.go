package model

// Role is what a connection authorized as. It is set once and never changes.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleClient
	RoleGuest
)

// Title is the role name used on the wire
func (r Role) Title() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

func (r Role) String() string {
	return r.Title()
}
