package service

import (
	"context"

	"omnirelay/internal/model"
)

// Lifecycle owns the join scope of a service: creating it when a host
// authorizes, finding it for clients and guests, and tearing it down when
// the host leaves.
type Lifecycle interface {
	CodeResolver

	// EvictsHosts reports whether a newly authorized host displaces the
	// hosts already connected to svc.
	EvictsHosts(svc *model.Service) bool

	// Lookup returns the live scope a connection with role would join, or
	// nil when there is none.
	Lookup(ctx context.Context, svc *model.Service, role model.Role, token string) (*model.Scope, error)

	OnHostAuthenticated(ctx context.Context, svc *model.Service) (*model.Scope, error)

	// OnHostDisconnected runs only for hosts that left on their own.
	OnHostDisconnected(ctx context.Context, svc *model.Service, scope *model.Scope) error

	OnGuestJoined(ctx context.Context, svc *model.Service, scope *model.Scope) error

	// Reset drops scopes left behind by a previous process. Idempotent.
	Reset(ctx context.Context) error
}
