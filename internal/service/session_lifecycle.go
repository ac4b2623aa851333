package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"omnirelay/internal/broker"
	"omnirelay/internal/model"
	"omnirelay/internal/repository"
)

const maxSessionAttempts = 5

// SessionLifecycle keeps one Session row per connected service. The row
// carries the public code and outlives host handovers.
type SessionLifecycle struct {
	sessions repository.SessionRepo
	services repository.ServiceRepo
	visitors repository.VisitorRepo
}

// NewSessionLifecycle creates a session-backed lifecycle
func NewSessionLifecycle(sessions repository.SessionRepo, services repository.ServiceRepo, visitors repository.VisitorRepo) *SessionLifecycle {
	return &SessionLifecycle{
		sessions: sessions,
		services: services,
		visitors: visitors,
	}
}

func sessionScope(s *model.Session) *model.Scope {
	return &model.Scope{ServiceID: s.ServiceID, Key: s.GroupKey, Code: s.Code}
}

func (l *SessionLifecycle) EvictsHosts(svc *model.Service) bool {
	return !svc.AllowMultipleHosts || !svc.AllowPublicCode
}

func (l *SessionLifecycle) ServiceForCode(ctx context.Context, code string) (*model.Service, error) {
	session, err := l.sessions.GetByCode(ctx, code)
	if err != nil || session == nil {
		return nil, err
	}
	return l.services.GetByHostToken(ctx, session.ServiceID)
}

func (l *SessionLifecycle) Lookup(ctx context.Context, svc *model.Service, role model.Role, token string) (*model.Scope, error) {
	var (
		session *model.Session
		err     error
	)
	if role == model.RoleGuest {
		session, err = l.sessions.GetByCode(ctx, token)
		if session != nil && session.ServiceID != svc.HostToken {
			session = nil
		}
	} else {
		session, err = l.sessions.GetByServiceID(ctx, svc.HostToken)
	}
	if err != nil || session == nil {
		return nil, err
	}
	return sessionScope(session), nil
}

// OnHostAuthenticated returns the service's session, creating it with a
// fresh code when there is none. Concurrent hosts converge on one row via
// the unique index on the service.
func (l *SessionLifecycle) OnHostAuthenticated(ctx context.Context, svc *model.Service) (*model.Scope, error) {
	for attempt := 0; attempt < maxSessionAttempts; attempt++ {
		existing, err := l.sessions.GetByServiceID(ctx, svc.HostToken)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return sessionScope(existing), nil
		}

		code, err := GenerateCode(ctx, l.codeExists)
		if err != nil {
			return nil, err
		}
		session := &model.Session{
			ID:        uuid.NewString(),
			ServiceID: svc.HostToken,
			Code:      code,
			GroupKey:  broker.Sanitize(svc.Title),
		}
		err = l.sessions.Create(ctx, session)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		return sessionScope(session), nil
	}
	return nil, fmt.Errorf("failed to create session for %s after %d attempts", svc.Title, maxSessionAttempts)
}

func (l *SessionLifecycle) codeExists(ctx context.Context, code string) (bool, error) {
	session, err := l.sessions.GetByCode(ctx, code)
	return session != nil, err
}

func (l *SessionLifecycle) OnHostDisconnected(ctx context.Context, svc *model.Service, scope *model.Scope) error {
	removed, err := l.sessions.DeleteByCode(ctx, scope.Code)
	if err != nil {
		return err
	}
	if removed {
		log.Printf("- Clearing session %s", scope.Code)
	} else {
		log.Printf("- Cannot clear session %s", scope.Code)
	}
	return nil
}

func (l *SessionLifecycle) OnGuestJoined(ctx context.Context, svc *model.Service, scope *model.Scope) error {
	if err := l.sessions.IncrementGuests(ctx, scope.Code); err != nil {
		return err
	}
	return l.visitors.Create(ctx, &model.Visitor{
		ID:        uuid.NewString(),
		ServiceID: svc.HostToken,
		Code:      scope.Code,
	})
}

func (l *SessionLifecycle) Reset(ctx context.Context) error {
	n, err := l.sessions.DeleteAll(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("Cleared %d stale sessions", n)
	}
	return nil
}
