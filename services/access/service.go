package access

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	er "github.com/credstack/credstack/internal/errors"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/repository"
	"github.com/credstack/credstack/internal/tracing"
)

// AccessControllerService is the single choke point for account read
// authorization: decrypted reads and OTP event subscriptions both go
// through CanRead.
type AccessControllerService struct {
	repositories *repository.Repositories
	log          logger.Logger
}

func NewAccessControllerService(repos *repository.Repositories, log logger.Logger) *AccessControllerService {
	return &AccessControllerService{
		repositories: repos,
		log:          log,
	}
}

// CanRead is true iff userID owns the account or holds an AccessGrant.
func (s *AccessControllerService) CanRead(ctx context.Context, userID, accountID string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccessControllerService.CanRead")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, accountID)

	if userID == "" {
		return false, nil
	}

	account, err := s.repositories.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, er.ErrNotFound) {
			return false, err
		}
		tracing.TraceErr(span, err)
		return false, err
	}
	if account.OwnerID == userID {
		return true, nil
	}

	_, err = s.repositories.AccessGrantRepository.Get(ctx, accountID, userID)
	if err != nil {
		if errors.Is(err, er.ErrNotFound) {
			return false, nil
		}
		tracing.TraceErr(span, err)
		return false, err
	}
	return true, nil
}

// Share grants granteeUserID read access. Owner-only; idempotent for an
// already-granted user; the owner cannot be granted to themselves.
func (s *AccessControllerService) Share(ctx context.Context, ownerID, accountID, granteeUserID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccessControllerService.Share")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, accountID)

	if granteeUserID == "" {
		return errors.New("granteeUserId is required")
	}

	account, err := s.repositories.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.OwnerID != ownerID {
		tracing.TraceErr(span, er.ErrNotOwner)
		return er.ErrNotOwner
	}
	if granteeUserID == ownerID {
		tracing.TraceErr(span, er.ErrSelfGrant)
		return er.ErrSelfGrant
	}

	_, err = s.repositories.AccessGrantRepository.Get(ctx, accountID, granteeUserID)
	if err == nil {
		// already granted
		return nil
	}
	if !errors.Is(err, er.ErrNotFound) {
		tracing.TraceErr(span, err)
		return err
	}

	grant := &models.AccessGrant{
		AccountID: accountID,
		UserID:    granteeUserID,
	}
	if err := s.repositories.AccessGrantRepository.Create(ctx, grant); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("Shared account %s with user %s", accountID, granteeUserID)
	return nil
}

// Revoke removes a grant. Owner-only; revoking a non-existent grant is a no-op.
func (s *AccessControllerService) Revoke(ctx context.Context, ownerID, accountID, granteeUserID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccessControllerService.Revoke")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, accountID)

	account, err := s.repositories.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.OwnerID != ownerID {
		tracing.TraceErr(span, er.ErrNotOwner)
		return er.ErrNotOwner
	}

	if err := s.repositories.AccessGrantRepository.Delete(ctx, accountID, granteeUserID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("Revoked access to account %s for user %s", accountID, granteeUserID)
	return nil
}

func (s *AccessControllerService) GranteesFor(ctx context.Context, accountID string) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccessControllerService.GranteesFor")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, accountID)

	grants, err := s.repositories.AccessGrantRepository.ListByAccount(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	userIDs := make([]string, 0, len(grants))
	for _, grant := range grants {
		userIDs = append(userIDs, grant.UserID)
	}
	return userIDs, nil
}
