package relay

import (
	"errors"
	"fmt"
)

// Close codes. CloseEvicted is reserved for a host displaced by a new host
// or guests whose host ended the session.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
	CloseEvicted   = 4000
)

var closeCodes = map[int]string{
	1000: "Successful operation / regular socket shutdown",
	1001: "Client is leaving (browser tab closing)",
	1002: "Endpoint received a malformed frame",
	1003: "Endpoint received an unsupported frame (e.g. binary-only endpoint received text frame)",
	1004: "Reserved",
	1005: "Expected close status, received none",
	1006: "No close code frame has been received",
	1007: "Endpoint received inconsistent message (e.g. malformed UTF-8)",
	1008: "Generic code used for situations other than 1003 and 1009",
	1009: "Endpoint won't process large frame",
	1010: "Client wanted an extension which server did not negotiate",
	1011: "Internal server error while operating",
	1012: "Server/service is restarting",
	1013: "Temporary server condition forced blocking client's request",
	1014: "Server acting as gateway received an invalid response",
	1015: "Transport Layer Security handshake failure",
	4000: "Kicked by new host",
}

// ExplainCloseCode describes a close code for logs
func ExplainCloseCode(code int) string {
	if text, ok := closeCodes[code]; ok {
		return text
	}
	return fmt.Sprintf("Unknown: %d", code)
}

// Transport is one bidirectional JSON message channel. Receive blocks until
// a frame arrives; once the channel is closed by either side it returns an
// error, a *CloseError when the close code is known.
type Transport interface {
	Receive() ([]byte, error)
	Send(v interface{}) error
	Close(code int) error
}

// CloseError reports that the channel was closed with Code
type CloseError struct {
	Code int
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("closed (%d): %s", e.Code, ExplainCloseCode(e.Code))
}

// CloseCode extracts the close code carried by err, CloseAbnormal when
// there is none.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}
