package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/credstack/credstack/internal/enum"
	"github.com/credstack/credstack/internal/utils"
)

// MailboxLink is an authorized connection to an external mailbox used solely
// to read OTP-bearing messages. CredentialHandle is the encrypted, renewable
// token reference issued by the external consent flow.
type MailboxLink struct {
	ID      string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	OwnerID string `gorm:"column:owner_id;type:varchar(50);index;not null" json:"ownerId"`

	MailboxAddress    string `gorm:"column:mailbox_address;type:varchar(255);not null" json:"mailboxAddress"`
	NormalizedAddress string `gorm:"column:normalized_address;type:varchar(255);index" json:"-"`
	CredentialHandle  string `gorm:"column:credential_handle;type:text;not null" json:"-"`

	// IMAP endpoint for the provider hosting the mailbox
	ImapServer   string `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort     int    `gorm:"column:imap_port;not null" json:"imapPort"`
	ImapUsername string `gorm:"column:imap_username;type:varchar(255);not null" json:"imapUsername"`
	ImapTLS      bool   `gorm:"column:imap_tls;not null;default:true" json:"imapTls"`

	// Health
	IsActive                bool                        `gorm:"column:is_active;not null;default:true;index" json:"isActive"`
	LastPolledAt            *time.Time                  `gorm:"column:last_polled_at;type:timestamp" json:"lastPolledAt"`
	ConsecutiveFailureCount int                         `gorm:"column:consecutive_failure_count;not null;default:0" json:"consecutiveFailureCount"`
	DeactivationReason      enum.LinkDeactivationReason `gorm:"column:deactivation_reason;type:varchar(50)" json:"deactivationReason,omitempty"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (MailboxLink) TableName() string {
	return "mailbox_links"
}

func (l *MailboxLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = utils.GenerateNanoIDWithPrefix("link", 16)
	}
	return nil
}
