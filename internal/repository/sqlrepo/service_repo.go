package sqlrepo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"omnirelay/internal/model"
	"omnirelay/internal/repository"
)

type serviceRepo struct {
	db *gorm.DB
}

func NewServiceRepo(db *gorm.DB) repository.ServiceRepo {
	return &serviceRepo{db}
}

func (r *serviceRepo) Create(ctx context.Context, svc *model.Service) error {
	if svc.CreatedOn.IsZero() {
		svc.CreatedOn = time.Now()
	}
	return translate(r.db.WithContext(ctx).Create(svc).Error)
}

func (r *serviceRepo) first(ctx context.Context, query string, arg string) (*model.Service, error) {
	var svc model.Service
	err := r.db.WithContext(ctx).Where(query, arg).First(&svc).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (r *serviceRepo) GetByHostToken(ctx context.Context, token string) (*model.Service, error) {
	return r.first(ctx, "host_token = ?", token)
}

func (r *serviceRepo) GetByClientToken(ctx context.Context, token string) (*model.Service, error) {
	return r.first(ctx, "client_token = ?", token)
}

func (r *serviceRepo) GetByPublicCode(ctx context.Context, code string) (*model.Service, error) {
	return r.first(ctx, "public_code = ?", code)
}

func (r *serviceRepo) List(ctx context.Context) ([]*model.Service, error) {
	var services []*model.Service
	err := r.db.WithContext(ctx).Order("created_on").Find(&services).Error
	return services, err
}

func (r *serviceRepo) Update(ctx context.Context, svc *model.Service) error {
	err := r.db.WithContext(ctx).Model(&model.Service{}).
		Where("host_token = ?", svc.HostToken).
		Updates(map[string]interface{}{
			"title":                svc.Title,
			"allow_public_code":    svc.AllowPublicCode,
			"allow_multiple_hosts": svc.AllowMultipleHosts,
		}).Error
	return translate(err)
}

func (r *serviceRepo) Delete(ctx context.Context, hostToken string) error {
	return r.db.WithContext(ctx).Where("host_token = ?", hostToken).Delete(&model.Service{}).Error
}

func (r *serviceRepo) SetPublicCode(ctx context.Context, hostToken, code string) error {
	var value interface{}
	if code != "" {
		value = code
	}
	err := r.db.WithContext(ctx).Model(&model.Service{}).
		Where("host_token = ?", hostToken).
		Update("public_code", value).Error
	return translate(err)
}

func (r *serviceRepo) ClearPublicCodes(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Service{}).
		Where("public_code IS NOT NULL").
		Update("public_code", nil)
	return res.RowsAffected, res.Error
}
