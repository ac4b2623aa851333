package relay

// Outbound message types
const (
	typeConnect    = "server_connect"
	typeError      = "server_error"
	typeAuthorized = "server_authorized"
	typeCode       = "server_code"
	typeJoin       = "server_join"
	typeLeave      = "server_leave"
	typeDisconnect = "server_disconnect"
)

const (
	msgWelcome      = "Welcome! Please provide a token."
	msgMalformed    = "Malformed message. Expected JSON."
	msgUnauthorized = `Unauthorized. Expected {"token": "<token>"}`
	msgInvalidToken = "Invalid token"
	msgUnableToJoin = "Unable to join session"
	msgKicked       = "Kicked by new host"
	msgSessionEnded = "Session ended by host"
)

// HostNameKey is where a host group keeps its connected host's short name
const HostNameKey = "host"

type message struct {
	Type    string  `json:"type"`
	Message string  `json:"message,omitempty"`
	Code    string  `json:"code,omitempty"`
	Role    string  `json:"role,omitempty"`
	User    string  `json:"user,omitempty"`
	Name    *string `json:"name,omitempty"`
}
