package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/credstack/credstack/interfaces"
	er "github.com/credstack/credstack/internal/errors"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/tracing"
)

type accessGrantRepository struct {
	db *gorm.DB
}

func NewAccessGrantRepository(db *gorm.DB) interfaces.AccessGrantRepository {
	return &accessGrantRepository{db: db}
}

func (r *accessGrantRepository) Create(ctx context.Context, grant *models.AccessGrant) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accessGrantRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).Create(grant).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *accessGrantRepository) Get(ctx context.Context, accountID, userID string) (*models.AccessGrant, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accessGrantRepository.Get")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var grant models.AccessGrant
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND user_id = ?", accountID, userID).
		First(&grant).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, er.ErrNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &grant, nil
}

func (r *accessGrantRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.AccessGrant, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accessGrantRepository.ListByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var grants []*models.AccessGrant
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Find(&grants).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return grants, nil
}

func (r *accessGrantRepository) ListByUser(ctx context.Context, userID string) ([]*models.AccessGrant, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accessGrantRepository.ListByUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var grants []*models.AccessGrant
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&grants).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return grants, nil
}

func (r *accessGrantRepository) Delete(ctx context.Context, accountID, userID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accessGrantRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND user_id = ?", accountID, userID).
		Delete(&models.AccessGrant{}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *accessGrantRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accessGrantRepository.DeleteByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.AccessGrant{}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
