// Package relay runs the per-connection protocol: authorize a token, bind
// the connection to its groups and forward messages between hosts and
// their clients and guests.
package relay

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnirelay/internal/broker"
	"omnirelay/internal/model"
	"omnirelay/internal/service"
)

const (
	// inboxSize bounds broker events queued for one connection
	inboxSize       = 256
	shortNameLength = 6
	teardownTimeout = 5 * time.Second
)

// TokenResolver maps the token of the first message to a service and role
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*model.Service, model.Role, error)
}

// Relay holds what connections share: the identity store, the lifecycle
// and the broker.
type Relay struct {
	tokens    TokenResolver
	lifecycle service.Lifecycle
	broker    broker.Broker
	instance  string
}

// New creates a relay. instance prefixes connection handle names.
func New(tokens TokenResolver, lifecycle service.Lifecycle, b broker.Broker, instance string) *Relay {
	if instance == "" {
		instance = "relay"
	}
	return &Relay{
		tokens:    tokens,
		lifecycle: lifecycle,
		broker:    b,
		instance:  instance,
	}
}

// NewConn wraps an accepted transport. Call Serve to run it.
func (r *Relay) NewConn(t Transport) *Conn {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return &Conn{
		relay:     r,
		transport: t,
		name:      r.instance + "!" + id,
		shortName: id[:shortNameLength],
		inbox:     make(chan broker.Event, inboxSize),
		kicks:     make(chan broker.Event, 1),
		done:      make(chan struct{}),
	}
}
