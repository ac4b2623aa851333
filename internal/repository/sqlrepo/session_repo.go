package sqlrepo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"omnirelay/internal/model"
	"omnirelay/internal/repository"
)

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) repository.SessionRepo {
	return &sessionRepo{db}
}

func (r *sessionRepo) Create(ctx context.Context, session *model.Session) error {
	if session.CreatedOn.IsZero() {
		session.CreatedOn = time.Now()
	}
	return translate(r.db.WithContext(ctx).Create(session).Error)
}

func (r *sessionRepo) first(ctx context.Context, query string, arg string) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).Where(query, arg).First(&session).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) GetByServiceID(ctx context.Context, serviceID string) (*model.Session, error) {
	return r.first(ctx, "service_id = ?", serviceID)
}

func (r *sessionRepo) GetByCode(ctx context.Context, code string) (*model.Session, error) {
	return r.first(ctx, "code = ?", code)
}

func (r *sessionRepo) DeleteByCode(ctx context.Context, code string) (bool, error) {
	res := r.db.WithContext(ctx).Where("code = ?", code).Delete(&model.Session{})
	return res.RowsAffected > 0, res.Error
}

func (r *sessionRepo) IncrementGuests(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Model(&model.Session{}).
		Where("code = ?", code).
		Update("guest_count", gorm.Expr("guest_count + ?", 1)).Error
}

func (r *sessionRepo) DeleteAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&model.Session{})
	return res.RowsAffected, res.Error
}
