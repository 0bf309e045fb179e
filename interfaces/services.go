package interfaces

import (
	"context"
	"time"

	"github.com/credstack/credstack/dto"
	"github.com/credstack/credstack/internal/enum"
	"github.com/credstack/credstack/internal/models"
)

// AccountCreate carries the plaintext fields of a new vaulted credential set.
type AccountCreate struct {
	OwnerID         string
	Tag             string
	ServiceEmail    string
	Secret          string
	LinkedMailboxID *string
}

// AccountUpdate is the closed set of mutable account fields. A nil field is
// left untouched; updates never arrive as loose key/value maps.
type AccountUpdate struct {
	Tag             *string
	ServiceEmail    *string
	Secret          *string
	LinkedMailboxID *string
}

// RevealedAccount is the decrypted view returned only to authorized callers.
type RevealedAccount struct {
	ID           string
	OwnerID      string
	Tag          string
	ServiceEmail string
	Secret       string
	Otp          *string
	OtpExpiresAt *time.Time
}

type CredentialStore interface {
	Create(ctx context.Context, create AccountCreate) (*models.Account, error)
	Get(ctx context.Context, id string) (*models.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Account, error)
	Reveal(ctx context.Context, callerID, id string) (*RevealedAccount, error)
	Update(ctx context.Context, callerID, id string, update AccountUpdate) (*models.Account, error)
	Delete(ctx context.Context, callerID, id string) error
	WriteOtp(ctx context.Context, accountID, code string, fetchedAt, expiresAt time.Time) error
	ClearExpiredOtps(ctx context.Context) (int64, error)
	FindByNormalizedEmail(ctx context.Context, ownerID, normalizedEmail string) (*models.Account, error)
}

type AccessController interface {
	CanRead(ctx context.Context, userID, accountID string) (bool, error)
	Share(ctx context.Context, ownerID, accountID, granteeUserID string) error
	Revoke(ctx context.Context, ownerID, accountID, granteeUserID string) error
	GranteesFor(ctx context.Context, accountID string) ([]string, error)
}

type MailboxLinkRegistry interface {
	Link(ctx context.Context, link *models.MailboxLink) (*models.MailboxLink, error)
	Unlink(ctx context.Context, ownerID, linkID string) error
	GetLink(ctx context.Context, linkID string) (*models.MailboxLink, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.MailboxLink, error)
	ActiveLinks(ctx context.Context) ([]*models.MailboxLink, error)
	Deactivate(ctx context.Context, linkID string, reason enum.LinkDeactivationReason) error
	RecordPollSuccess(ctx context.Context, linkID string) error
	RecordPollFailure(ctx context.Context, linkID string, reason enum.LinkDeactivationReason) (deactivated bool, err error)
	ClientFor(ctx context.Context, link *models.MailboxLink) (MailboxClient, error)
	InvalidateClient(linkID string)
	CloseAllClients()
}

type OTPScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	PollOnce(ctx context.Context)
	SweepOnce(ctx context.Context)
}

// EventBroadcaster fans extracted codes out to live, authorized sessions.
// Delivery is best effort; the account row stays the source of truth.
type EventBroadcaster interface {
	Publish(ctx context.Context, event dto.OTPEvent)
	Run(ctx context.Context)
}

// Notifier delivers out-of-band owner alerts, e.g. a deactivated link.
type Notifier interface {
	NotifyLinkDeactivated(ctx context.Context, notification dto.LinkDeactivated) error
	Close() error
}
