package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"omnirelay/internal/model"
	"omnirelay/internal/repository"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPublicCodeDisabled = errors.New("public code access disabled")
	ErrInvalidTitle       = errors.New("title must be 1-32 characters")
	ErrTitleTaken         = errors.New("title already in use")
)

const maxTitleLength = 32

// CodeResolver finds the service owning a live public code
type CodeResolver interface {
	ServiceForCode(ctx context.Context, code string) (*model.Service, error)
}

// IdentityService resolves tokens and codes to services and manages
// service records
type IdentityService struct {
	services repository.ServiceRepo
	visitors repository.VisitorRepo
	codes    CodeResolver
}

// NewIdentityService creates a new identity service
func NewIdentityService(services repository.ServiceRepo, visitors repository.VisitorRepo, codes CodeResolver) *IdentityService {
	return &IdentityService{
		services: services,
		visitors: visitors,
		codes:    codes,
	}
}

// ResolveToken maps a token to its service and the role it grants.
// UUID-shaped tokens are host then client tokens; anything else is a
// public code, honoured only when the service allows public codes.
func (s *IdentityService) ResolveToken(ctx context.Context, token string) (*model.Service, model.Role, error) {
	if id, err := uuid.Parse(token); err == nil {
		token = id.String()

		svc, err := s.services.GetByHostToken(ctx, token)
		if err != nil {
			return nil, model.RoleNone, err
		}
		if svc != nil {
			return svc, model.RoleHost, nil
		}

		svc, err = s.services.GetByClientToken(ctx, token)
		if err != nil {
			return nil, model.RoleNone, err
		}
		if svc != nil {
			return svc, model.RoleClient, nil
		}
		return nil, model.RoleNone, ErrNotFound
	}

	svc, err := s.codes.ServiceForCode(ctx, token)
	if err != nil {
		return nil, model.RoleNone, err
	}
	if svc == nil {
		return nil, model.RoleNone, ErrNotFound
	}
	if !svc.AllowPublicCode {
		return nil, model.RoleNone, ErrPublicCodeDisabled
	}
	return svc, model.RoleGuest, nil
}

// CreateService registers a new service with fresh tokens
func (s *IdentityService) CreateService(ctx context.Context, req *model.ServiceRequest) (*model.Service, error) {
	title, err := validTitle(req.Title)
	if err != nil {
		return nil, err
	}

	svc := &model.Service{
		HostToken:          uuid.NewString(),
		ClientToken:        uuid.NewString(),
		Title:              title,
		AllowPublicCode:    req.AllowPublicCode,
		AllowMultipleHosts: req.AllowMultipleHosts,
	}
	if err := s.services.Create(ctx, svc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrTitleTaken
		}
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

// GetService returns the service and its visitor count
func (s *IdentityService) GetService(ctx context.Context, hostToken string) (*model.ServiceView, error) {
	svc, err := s.services.GetByHostToken(ctx, hostToken)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, ErrNotFound
	}
	count, err := s.visitors.CountByService(ctx, svc.HostToken)
	if err != nil {
		return nil, fmt.Errorf("failed to count visitors: %w", err)
	}
	return &model.ServiceView{Service: svc, VisitorCount: count}, nil
}

func (s *IdentityService) ListServices(ctx context.Context) ([]*model.Service, error) {
	return s.services.List(ctx)
}

// UpdateService edits the title and flags. Tokens never change.
func (s *IdentityService) UpdateService(ctx context.Context, hostToken string, req *model.ServiceRequest) (*model.Service, error) {
	title, err := validTitle(req.Title)
	if err != nil {
		return nil, err
	}

	svc, err := s.services.GetByHostToken(ctx, hostToken)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, ErrNotFound
	}

	svc.Title = title
	svc.AllowPublicCode = req.AllowPublicCode
	svc.AllowMultipleHosts = req.AllowMultipleHosts
	if err := s.services.Update(ctx, svc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrTitleTaken
		}
		return nil, fmt.Errorf("failed to update service: %w", err)
	}
	return svc, nil
}

func (s *IdentityService) DeleteService(ctx context.Context, hostToken string) error {
	svc, err := s.services.GetByHostToken(ctx, hostToken)
	if err != nil {
		return err
	}
	if svc == nil {
		return ErrNotFound
	}
	return s.services.Delete(ctx, hostToken)
}

func validTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTitleLength {
		return "", ErrInvalidTitle
	}
	return title, nil
}
