package repository

import (
	"gorm.io/gorm"

	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/models"
)

type Repositories struct {
	AccountRepository     interfaces.AccountRepository
	AccessGrantRepository interfaces.AccessGrantRepository
	MailboxLinkRepository interfaces.MailboxLinkRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:     NewAccountRepository(db),
		AccessGrantRepository: NewAccessGrantRepository(db),
		MailboxLinkRepository: NewMailboxLinkRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	return db.AutoMigrate(
		&models.Account{},
		&models.AccessGrant{},
		&models.MailboxLink{},
	)
}
