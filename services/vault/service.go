package vault

import (
	"context"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/crypto"
	er "github.com/credstack/credstack/internal/errors"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/repository"
	"github.com/credstack/credstack/internal/tracing"
	"github.com/credstack/credstack/internal/utils"
)

// CredentialStoreService owns encrypted Account records. Plaintext leaves
// this package only through Reveal, which consults the access controller
// first; every other read keeps ciphertext intact.
type CredentialStoreService struct {
	repositories *repository.Repositories
	cipher       *crypto.Cipher
	access       interfaces.AccessController
	log          logger.Logger
}

func NewCredentialStoreService(repos *repository.Repositories, cipher *crypto.Cipher, access interfaces.AccessController, log logger.Logger) *CredentialStoreService {
	return &CredentialStoreService{
		repositories: repos,
		cipher:       cipher,
		access:       access,
		log:          log,
	}
}

func (s *CredentialStoreService) Create(ctx context.Context, create interfaces.AccountCreate) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialStoreService.Create")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if create.OwnerID == "" {
		return nil, errors.New("ownerId is required")
	}
	if strings.TrimSpace(create.ServiceEmail) == "" {
		return nil, errors.New("serviceEmail is required")
	}
	if create.Secret == "" {
		return nil, errors.New("secret is required")
	}

	normalized := utils.NormalizeEmailAddress(create.ServiceEmail)

	// One account per normalized address and owner; alias collisions are
	// rejected at write time instead of being resolved by iteration order
	// during matching.
	existing, err := s.repositories.AccountRepository.GetByNormalizedEmail(ctx, create.OwnerID, normalized)
	if err != nil && !errors.Is(err, er.ErrNotFound) {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if existing != nil {
		tracing.TraceErr(span, er.ErrDuplicateEmail)
		return nil, er.ErrDuplicateEmail
	}

	encryptedTag, err := s.cipher.Encrypt(create.Tag)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	encryptedEmail, err := s.cipher.Encrypt(create.ServiceEmail)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	encryptedSecret, err := s.cipher.Encrypt(create.Secret)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	account := &models.Account{
		OwnerID:         create.OwnerID,
		Tag:             encryptedTag,
		ServiceEmail:    encryptedEmail,
		Secret:          encryptedSecret,
		CipherVersion:   s.cipher.Version(),
		NormalizedEmail: normalized,
		LinkedMailboxID: create.LinkedMailboxID,
	}

	if err := s.repositories.AccountRepository.Create(ctx, account); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.log.Infof("Created account %s for owner %s", account.ID, account.OwnerID)
	return account, nil
}

// Get returns the record with ciphertext fields intact.
func (s *CredentialStoreService) Get(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialStoreService.Get")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)

	return s.repositories.AccountRepository.GetByID(ctx, id)
}

func (s *CredentialStoreService) ListByOwner(ctx context.Context, ownerID string) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialStoreService.ListByOwner")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.repositories.AccountRepository.ListByOwner(ctx, ownerID)
}

// Reveal decrypts the account for callerID. Reads fail closed: an
// unauthorized caller gets ErrUnauthorized and a tampered record gets
// ErrDecryptionFailed with no partial plaintext.
func (s *CredentialStoreService) Reveal(ctx context.Context, callerID, id string) (*interfaces.RevealedAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialStoreService.Reveal")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)

	account, err := s.repositories.AccountRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed, err := s.access.CanRead(ctx, callerID, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if !allowed {
		tracing.TraceErr(span, er.ErrUnauthorized)
		return nil, er.ErrUnauthorized
	}

	tag, err := s.cipher.Decrypt(account.Tag)
	if err != nil {
		s.log.Errorf("Failed to decrypt tag for account %s", account.ID)
		tracing.TraceErr(span, err)
		return nil, err
	}
	serviceEmail, err := s.cipher.Decrypt(account.ServiceEmail)
	if err != nil {
		s.log.Errorf("Failed to decrypt service email for account %s", account.ID)
		tracing.TraceErr(span, err)
		return nil, err
	}
	secret, err := s.cipher.Decrypt(account.Secret)
	if err != nil {
		s.log.Errorf("Failed to decrypt secret for account %s", account.ID)
		tracing.TraceErr(span, err)
		return nil, err
	}

	revealed := &interfaces.RevealedAccount{
		ID:           account.ID,
		OwnerID:      account.OwnerID,
		Tag:          tag,
		ServiceEmail: serviceEmail,
		Secret:       secret,
		OtpExpiresAt: account.OtpExpiresAt,
	}
	// expiry is also enforced lazily on read
	if account.OtpValidAt(time.Now()) {
		revealed.Otp = account.Otp
	}
	return revealed, nil
}

// Update applies the closed set of mutable fields. Only the owner may
// mutate; ownerId itself is immutable.
func (s *CredentialStoreService) Update(ctx context.Context, callerID, id string, update interfaces.AccountUpdate) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialStoreService.Update")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)

	account, err := s.repositories.AccountRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != callerID {
		tracing.TraceErr(span, er.ErrNotOwner)
		return nil, er.ErrNotOwner
	}

	if update.Tag != nil {
		encrypted, err := s.cipher.Encrypt(*update.Tag)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		account.Tag = encrypted
	}
	if update.ServiceEmail != nil {
		normalized := utils.NormalizeEmailAddress(*update.ServiceEmail)
		if normalized != account.NormalizedEmail {
			existing, err := s.repositories.AccountRepository.GetByNormalizedEmail(ctx, account.OwnerID, normalized)
			if err != nil && !errors.Is(err, er.ErrNotFound) {
				tracing.TraceErr(span, err)
				return nil, err
			}
			if existing != nil {
				tracing.TraceErr(span, er.ErrDuplicateEmail)
				return nil, er.ErrDuplicateEmail
			}
			// a code fetched for the previous address must not survive it
			account.Otp = nil
			account.OtpFetchedAt = nil
			account.OtpExpiresAt = nil
		}
		encrypted, err := s.cipher.Encrypt(*update.ServiceEmail)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		account.ServiceEmail = encrypted
		account.NormalizedEmail = normalized
	}
	if update.Secret != nil {
		encrypted, err := s.cipher.Encrypt(*update.Secret)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		account.Secret = encrypted
	}
	if update.LinkedMailboxID != nil {
		if *update.LinkedMailboxID == "" {
			account.LinkedMailboxID = nil
		} else {
			account.LinkedMailboxID = update.LinkedMailboxID
		}
	}
	account.CipherVersion = s.cipher.Version()

	if err := s.repositories.AccountRepository.Update(ctx, account); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return account, nil
}

// Delete removes the account and cascades its access grants.
func (s *CredentialStoreService) Delete(ctx context.Context, callerID, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialStoreService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)

	account, err := s.repositories.AccountRepository.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if account.OwnerID != callerID {
		tracing.TraceErr(span, er.ErrNotOwner)
		return er.ErrNotOwner
	}

	if err := s.repositories.AccessGrantRepository.DeleteByAccount(ctx, id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.repositories.AccountRepository.Delete(ctx, id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("Deleted account %s and its grants", id)
	return nil
}

func (s *CredentialStoreService) WriteOtp(ctx context.Context, accountID, code string, fetchedAt, expiresAt time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialStoreService.WriteOtp")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, accountID)

	return s.repositories.AccountRepository.WriteOtp(ctx, accountID, code, fetchedAt, expiresAt)
}

func (s *CredentialStoreService) ClearExpiredOtps(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialStoreService.ClearExpiredOtps")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	count, err := s.repositories.AccountRepository.ClearExpiredOtps(ctx, time.Now())
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	if count > 0 {
		s.log.Infof("Cleared %d expired OTPs", count)
	}
	return count, nil
}

func (s *CredentialStoreService) FindByNormalizedEmail(ctx context.Context, ownerID, normalizedEmail string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialStoreService.FindByNormalizedEmail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.repositories.AccountRepository.GetByNormalizedEmail(ctx, ownerID, normalizedEmail)
}
