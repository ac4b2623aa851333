package sqlrepo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"omnirelay/internal/model"
	"omnirelay/internal/repository"
)

type visitorRepo struct {
	db *gorm.DB
}

func NewVisitorRepo(db *gorm.DB) repository.VisitorRepo {
	return &visitorRepo{db}
}

func (r *visitorRepo) Create(ctx context.Context, visitor *model.Visitor) error {
	if visitor.CreatedOn.IsZero() {
		visitor.CreatedOn = time.Now()
	}
	return r.db.WithContext(ctx).Create(visitor).Error
}

func (r *visitorRepo) CountByService(ctx context.Context, serviceID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Visitor{}).Where("service_id = ?", serviceID).Count(&n).Error
	return n, err
}
