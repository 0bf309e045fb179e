package interfaces

import (
	"context"
	"time"

	"github.com/credstack/credstack/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByNormalizedEmail(ctx context.Context, ownerID, normalizedEmail string) (*models.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, id string) error
	WriteOtp(ctx context.Context, accountID, code string, fetchedAt, expiresAt time.Time) error
	ClearExpiredOtps(ctx context.Context, now time.Time) (int64, error)
}

type AccessGrantRepository interface {
	Create(ctx context.Context, grant *models.AccessGrant) error
	Get(ctx context.Context, accountID, userID string) (*models.AccessGrant, error)
	ListByAccount(ctx context.Context, accountID string) ([]*models.AccessGrant, error)
	ListByUser(ctx context.Context, userID string) ([]*models.AccessGrant, error)
	Delete(ctx context.Context, accountID, userID string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

type MailboxLinkRepository interface {
	Create(ctx context.Context, link *models.MailboxLink) error
	GetByID(ctx context.Context, id string) (*models.MailboxLink, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.MailboxLink, error)
	ListActive(ctx context.Context) ([]*models.MailboxLink, error)
	Update(ctx context.Context, link *models.MailboxLink) error
	Delete(ctx context.Context, id string) error
}
