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

type mailboxLinkRepository struct {
	db *gorm.DB
}

func NewMailboxLinkRepository(db *gorm.DB) interfaces.MailboxLinkRepository {
	return &mailboxLinkRepository{db: db}
}

func (r *mailboxLinkRepository) Create(ctx context.Context, link *models.MailboxLink) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxLinkRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).Create(link).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *mailboxLinkRepository) GetByID(ctx context.Context, id string) (*models.MailboxLink, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxLinkRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	var link models.MailboxLink
	err := r.db.WithContext(ctx).First(&link, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, er.ErrNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &link, nil
}

func (r *mailboxLinkRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.MailboxLink, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxLinkRepository.ListByOwner")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var links []*models.MailboxLink
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at asc").
		Find(&links).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return links, nil
}

func (r *mailboxLinkRepository) ListActive(ctx context.Context) ([]*models.MailboxLink, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxLinkRepository.ListActive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var links []*models.MailboxLink
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&links).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return links, nil
}

func (r *mailboxLinkRepository) Update(ctx context.Context, link *models.MailboxLink) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxLinkRepository.Update")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, link.ID)

	link.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).Save(link).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *mailboxLinkRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxLinkRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).Delete(&models.MailboxLink{}, "id = ?", id)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return er.ErrNotFound
	}
	return nil
}
