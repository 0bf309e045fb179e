package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/credstack/credstack/interfaces"
	er "github.com/credstack/credstack/internal/errors"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/tracing"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	var account models.Account
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, er.ErrNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByNormalizedEmail(ctx context.Context, ownerID, normalizedEmail string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByNormalizedEmail")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.Account
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND normalized_email = ?", ownerID, normalizedEmail).
		First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, er.ErrNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListByOwner")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at asc").
		Find(&accounts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) Update(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Update")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, account.ID)

	account.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).Save(account).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *accountRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).Delete(&models.Account{}, "id = ?", id)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return er.ErrNotFound
	}
	return nil
}

// WriteOtp is the only mutator for the OTP columns. Writing the same code
// again refreshes fetched_at but never moves otp_expires_at backward.
func (r *accountRepository) WriteOtp(ctx context.Context, accountID, code string, fetchedAt, expiresAt time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.WriteOtp")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, accountID)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.First(&account, "id = ?", accountID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return er.ErrNotFound
			}
			tracing.TraceErr(span, err)
			return err
		}

		updates := map[string]interface{}{
			"otp":            code,
			"otp_fetched_at": fetchedAt,
			"updated_at":     time.Now(),
		}

		sameCode := account.Otp != nil && *account.Otp == code
		if !sameCode || account.OtpExpiresAt == nil || expiresAt.After(*account.OtpExpiresAt) {
			updates["otp_expires_at"] = expiresAt
		}

		if err := tx.Model(&models.Account{}).Where("id = ?", accountID).Updates(updates).Error; err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		return nil
	})
}

// ClearExpiredOtps nulls OTP columns on rows whose expiry is strictly in the
// past. Safe to run concurrently with WriteOtp; a lost race only shortens a
// ten-minute window.
func (r *accountRepository) ClearExpiredOtps(ctx context.Context, now time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ClearExpiredOtps")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("otp IS NOT NULL AND otp_expires_at < ?", now).
		Updates(map[string]interface{}{
			"otp":            nil,
			"otp_fetched_at": nil,
			"otp_expires_at": nil,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
