package repository

import (
	"gorm.io/gorm"

	"github.com/credstack/credstack/internal/crypto"
	"github.com/credstack/credstack/internal/enum"
	"github.com/credstack/credstack/internal/models"
)

// EncryptLegacyAccounts upgrades rows written before the version tag was
// introduced. Such rows carry plaintext columns and an empty cipher_version;
// each one is encrypted in place and stamped. Rows already tagged are left
// alone, so the migration is safe to re-run.
func EncryptLegacyAccounts(db *gorm.DB, cipher *crypto.Cipher) (int64, error) {
	var accounts []models.Account
	if err := db.Where("cipher_version = ?", enum.CipherNone.String()).Find(&accounts).Error; err != nil {
		return 0, err
	}

	var upgraded int64
	for i := range accounts {
		account := &accounts[i]
		if crypto.IsEncrypted(account.Tag) {
			// tagged format without a version stamp, only fix the stamp
			if err := db.Model(account).Update("cipher_version", cipher.Version()).Error; err != nil {
				return upgraded, err
			}
			upgraded++
			continue
		}

		encryptedTag, err := cipher.Encrypt(account.Tag)
		if err != nil {
			return upgraded, err
		}
		encryptedEmail, err := cipher.Encrypt(account.ServiceEmail)
		if err != nil {
			return upgraded, err
		}
		encryptedSecret, err := cipher.Encrypt(account.Secret)
		if err != nil {
			return upgraded, err
		}

		err = db.Model(account).Updates(map[string]interface{}{
			"tag":            encryptedTag,
			"service_email":  encryptedEmail,
			"secret":         encryptedSecret,
			"cipher_version": cipher.Version(),
		}).Error
		if err != nil {
			return upgraded, err
		}
		upgraded++
	}

	return upgraded, nil
}
