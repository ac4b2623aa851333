package repository

import (
	"context"
	"errors"

	"omnirelay/internal/model"
)

// ErrDuplicate is returned when a write violates a unique index
var ErrDuplicate = errors.New("duplicate key")

// Lookups return (nil, nil) when nothing matches.

type ServiceRepo interface {
	Create(ctx context.Context, svc *model.Service) error
	GetByHostToken(ctx context.Context, token string) (*model.Service, error)
	GetByClientToken(ctx context.Context, token string) (*model.Service, error)
	GetByPublicCode(ctx context.Context, code string) (*model.Service, error)
	List(ctx context.Context) ([]*model.Service, error)
	Update(ctx context.Context, svc *model.Service) error
	Delete(ctx context.Context, hostToken string) error
	// SetPublicCode stores code on the service; an empty code clears it.
	SetPublicCode(ctx context.Context, hostToken, code string) error
	ClearPublicCodes(ctx context.Context) (int64, error)
}

type SessionRepo interface {
	Create(ctx context.Context, session *model.Session) error
	GetByServiceID(ctx context.Context, serviceID string) (*model.Session, error)
	GetByCode(ctx context.Context, code string) (*model.Session, error)
	// DeleteByCode reports whether a session was removed.
	DeleteByCode(ctx context.Context, code string) (bool, error)
	IncrementGuests(ctx context.Context, code string) error
	DeleteAll(ctx context.Context) (int64, error)
}

type VisitorRepo interface {
	Create(ctx context.Context, visitor *model.Visitor) error
	CountByService(ctx context.Context, serviceID string) (int64, error)
}
