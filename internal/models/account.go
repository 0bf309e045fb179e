package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/credstack/credstack/internal/enum"
	"github.com/credstack/credstack/internal/utils"
)

// Account is a vaulted third-party credential set. Tag, ServiceEmail and
// Secret hold ciphertext; NormalizedEmail is the deterministic comparable
// form of ServiceEmail used for matching without decryption.
type Account struct {
	ID      string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	OwnerID string `gorm:"column:owner_id;type:varchar(50);index;index:idx_accounts_owner_normalized_email,unique;not null" json:"ownerId"`

	// Encrypted fields
	Tag           string             `gorm:"column:tag;type:text;not null" json:"-"`
	ServiceEmail  string             `gorm:"column:service_email;type:text;not null" json:"-"`
	Secret        string             `gorm:"column:secret;type:text;not null" json:"-"`
	CipherVersion enum.CipherVersion `gorm:"column:cipher_version;type:varchar(10);not null" json:"-"`

	// Matching index; unique per owner
	NormalizedEmail string `gorm:"column:normalized_email;type:varchar(255);index:idx_accounts_owner_normalized_email,unique" json:"-"`

	LinkedMailboxID *string `gorm:"column:linked_mailbox_id;type:varchar(50);index" json:"linkedMailboxId"`

	// Transient OTP state; mutated only by the scheduler
	Otp          *string    `gorm:"column:otp;type:varchar(20)" json:"otp,omitempty"`
	OtpFetchedAt *time.Time `gorm:"column:otp_fetched_at;type:timestamp" json:"otpFetchedAt,omitempty"`
	OtpExpiresAt *time.Time `gorm:"column:otp_expires_at;type:timestamp" json:"otpExpiresAt,omitempty"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	return nil
}

// OtpValidAt reports whether the stored OTP is present and not yet expired.
func (a *Account) OtpValidAt(now time.Time) bool {
	return a.Otp != nil && a.OtpExpiresAt != nil && a.OtpExpiresAt.After(now)
}
