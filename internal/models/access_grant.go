package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/credstack/credstack/internal/utils"
)

// AccessGrant is a non-transitive read permission from an account owner to
// another user. Owner access is implicit and never materialized as a grant.
type AccessGrant struct {
	ID        string    `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string    `gorm:"column:account_id;type:varchar(50);index:idx_access_grants_account_user,unique;not null" json:"accountId"`
	UserID    string    `gorm:"column:user_id;type:varchar(50);index;index:idx_access_grants_account_user,unique;not null" json:"userId"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
}

func (AccessGrant) TableName() string {
	return "access_grants"
}

func (g *AccessGrant) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = utils.GenerateNanoIDWithPrefix("grant", 16)
	}
	return nil
}
