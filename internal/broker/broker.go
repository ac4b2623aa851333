// Package broker is the pub/sub layer connections talk through. Groups are
// named sets of handles; publishing to a group delivers to every handle
// subscribed at that moment and to nobody else. Delivery is best-effort.
package broker

import (
	"context"
	"errors"
	"time"
)

// Event types
const (
	EventSend  = "send"
	EventJoin  = "join"
	EventLeave = "leave"
	EventKick  = "kick"
)

const (
	// DefaultTTL is the expiry of values stored with Set
	DefaultTTL = 12 * time.Hour
	// DefaultMemberLimit bounds Members snapshots
	DefaultMemberLimit = 100
)

var ErrClosed = errors.New("broker closed")

// Event is what travels through a group
type Event struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message,omitempty"`
	Role    string                 `json:"role,omitempty"`
	User    string                 `json:"user,omitempty"`
	Name    *string                `json:"name,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Origin  string                 `json:"origin,omitempty"` // publishing handle
}

// Handle is a subscriber endpoint. Deliver must not block; it reports
// false when the event was dropped.
type Handle interface {
	Name() string
	Deliver(ev Event) bool
}

type Broker interface {
	Subscribe(ctx context.Context, group string, h Handle) error
	Unsubscribe(ctx context.Context, group string, h Handle) error
	Publish(ctx context.Context, group string, ev Event) error

	// Get decodes the value stored under key into dst and reports whether it existed.
	Get(ctx context.Context, scope, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, scope, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, scope, key string) error

	// Members returns up to limit handle names subscribed to group.
	Members(ctx context.Context, group string, limit int) ([]string, error)

	Close() error
}
