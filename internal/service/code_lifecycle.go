package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"omnirelay/internal/model"
	"omnirelay/internal/repository"
)

// CodeLifecycle keeps the public code on the service record itself. Every
// host connection rotates it.
type CodeLifecycle struct {
	services repository.ServiceRepo
	visitors repository.VisitorRepo
}

// NewCodeLifecycle creates a lifecycle storing codes on services
func NewCodeLifecycle(services repository.ServiceRepo, visitors repository.VisitorRepo) *CodeLifecycle {
	return &CodeLifecycle{
		services: services,
		visitors: visitors,
	}
}

// serviceScope keys groups by the host token, which survives title edits
// while hosts are connected.
func serviceScope(svc *model.Service) *model.Scope {
	return &model.Scope{ServiceID: svc.HostToken, Key: svc.HostToken, Code: svc.Code()}
}

func (l *CodeLifecycle) EvictsHosts(svc *model.Service) bool {
	return !svc.AllowMultipleHosts
}

func (l *CodeLifecycle) ServiceForCode(ctx context.Context, code string) (*model.Service, error) {
	return l.services.GetByPublicCode(ctx, code)
}

// Lookup always finds a scope: without a live code every connection of
// the service shares the code-less groups.
func (l *CodeLifecycle) Lookup(ctx context.Context, svc *model.Service, role model.Role, token string) (*model.Scope, error) {
	if role == model.RoleGuest && svc.Code() != token {
		return nil, nil
	}
	return serviceScope(svc), nil
}

func (l *CodeLifecycle) OnHostAuthenticated(ctx context.Context, svc *model.Service) (*model.Scope, error) {
	if !svc.AllowPublicCode {
		return serviceScope(svc), nil
	}

	for attempt := 0; attempt < maxSessionAttempts; attempt++ {
		code, err := GenerateCode(ctx, l.codeExists)
		if err != nil {
			return nil, err
		}
		err = l.services.SetPublicCode(ctx, svc.HostToken, code)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store public code: %w", err)
		}
		svc.PublicCode = &code
		return serviceScope(svc), nil
	}
	return nil, fmt.Errorf("failed to store public code for %s after %d attempts", svc.Title, maxSessionAttempts)
}

func (l *CodeLifecycle) codeExists(ctx context.Context, code string) (bool, error) {
	svc, err := l.services.GetByPublicCode(ctx, code)
	return svc != nil, err
}

func (l *CodeLifecycle) OnHostDisconnected(ctx context.Context, svc *model.Service, scope *model.Scope) error {
	if scope.Code == "" {
		return nil
	}
	current, err := l.services.GetByHostToken(ctx, svc.HostToken)
	if err != nil {
		return err
	}
	// another host may already have rotated the code
	if current == nil || current.Code() != scope.Code {
		log.Printf("- Cannot clear code %s", scope.Code)
		return nil
	}
	log.Printf("- Clearing code %s", scope.Code)
	return l.services.SetPublicCode(ctx, svc.HostToken, "")
}

func (l *CodeLifecycle) OnGuestJoined(ctx context.Context, svc *model.Service, scope *model.Scope) error {
	return l.visitors.Create(ctx, &model.Visitor{
		ID:        uuid.NewString(),
		ServiceID: svc.HostToken,
		Code:      scope.Code,
	})
}

func (l *CodeLifecycle) Reset(ctx context.Context) error {
	n, err := l.services.ClearPublicCodes(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("Cleared %d stale public codes", n)
	}
	return nil
}
