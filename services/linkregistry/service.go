package linkregistry

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/crypto"
	"github.com/credstack/credstack/internal/enum"
	er "github.com/credstack/credstack/internal/errors"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/repository"
	"github.com/credstack/credstack/internal/tracing"
	"github.com/credstack/credstack/internal/utils"
)

// MailboxLinkRegistryService tracks linked mailboxes, their health and the
// per-link mailbox clients. Clients are cached by link id and invalidated
// explicitly on deactivation or unlink; no client state lives outside the
// registry.
type MailboxLinkRegistryService struct {
	repositories     *repository.Repositories
	cipher           *crypto.Cipher
	clientFactory    interfaces.MailboxClientFactory
	failureThreshold int
	log              logger.Logger

	clients      map[string]interfaces.MailboxClient
	clientsMutex sync.RWMutex
}

func NewMailboxLinkRegistryService(
	repos *repository.Repositories,
	cipher *crypto.Cipher,
	clientFactory interfaces.MailboxClientFactory,
	failureThreshold int,
	log logger.Logger,
) *MailboxLinkRegistryService {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &MailboxLinkRegistryService{
		repositories:     repos,
		cipher:           cipher,
		clientFactory:    clientFactory,
		failureThreshold: failureThreshold,
		log:              log,
		clients:          make(map[string]interfaces.MailboxClient),
	}
}

// Link registers a mailbox completed through the external consent flow. The
// credential handle arrives in plaintext and is stored encrypted.
func (s *MailboxLinkRegistryService) Link(ctx context.Context, link *models.MailboxLink) (*models.MailboxLink, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxLinkRegistryService.Link")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if link.OwnerID == "" {
		return nil, errors.New("ownerId is required")
	}
	if link.MailboxAddress == "" {
		return nil, errors.New("mailboxAddress is required")
	}
	if link.CredentialHandle == "" {
		return nil, errors.New("credentialHandle is required")
	}

	span.SetTag("provider", utils.ExtractDomainFromEmail(link.MailboxAddress))

	encryptedHandle, err := s.cipher.Encrypt(link.CredentialHandle)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	link.CredentialHandle = encryptedHandle
	link.NormalizedAddress = utils.NormalizeEmailAddress(link.MailboxAddress)
	link.IsActive = true
	link.ConsecutiveFailureCount = 0

	if err := s.repositories.MailboxLinkRepository.Create(ctx, link); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.log.Infof("Linked mailbox %s for owner %s", link.ID, link.OwnerID)
	return link, nil
}

// Unlink removes the link and drops its cached client. The stored credential
// handle disappears with the row, which revokes our side of the grant.
func (s *MailboxLinkRegistryService) Unlink(ctx context.Context, ownerID, linkID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxLinkRegistryService.Unlink")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, linkID)

	link, err := s.repositories.MailboxLinkRepository.GetByID(ctx, linkID)
	if err != nil {
		return err
	}
	if link.OwnerID != ownerID {
		tracing.TraceErr(span, er.ErrNotOwner)
		return er.ErrNotOwner
	}

	if err := s.repositories.MailboxLinkRepository.Delete(ctx, linkID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.InvalidateClient(linkID)
	s.log.Infof("Unlinked mailbox %s", linkID)
	return nil
}

func (s *MailboxLinkRegistryService) GetLink(ctx context.Context, linkID string) (*models.MailboxLink, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxLinkRegistryService.GetLink")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, linkID)

	return s.repositories.MailboxLinkRepository.GetByID(ctx, linkID)
}

func (s *MailboxLinkRegistryService) ListByOwner(ctx context.Context, ownerID string) ([]*models.MailboxLink, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxLinkRegistryService.ListByOwner")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.repositories.MailboxLinkRepository.ListByOwner(ctx, ownerID)
}

// ActiveLinks returns a finite snapshot taken for one scheduler tick.
func (s *MailboxLinkRegistryService) ActiveLinks(ctx context.Context) ([]*models.MailboxLink, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxLinkRegistryService.ActiveLinks")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.repositories.MailboxLinkRepository.ListActive(ctx)
}

func (s *MailboxLinkRegistryService) Deactivate(ctx context.Context, linkID string, reason enum.LinkDeactivationReason) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxLinkRegistryService.Deactivate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, linkID)

	link, err := s.repositories.MailboxLinkRepository.GetByID(ctx, linkID)
	if err != nil {
		return err
	}
	if !link.IsActive {
		return nil
	}

	link.IsActive = false
	link.DeactivationReason = reason
	if err := s.repositories.MailboxLinkRepository.Update(ctx, link); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.InvalidateClient(linkID)
	s.log.Warnf("Deactivated mailbox link %s: %s", linkID, reason)
	return nil
}

// RecordPollSuccess resets the failure streak and stamps last_polled_at.
func (s *MailboxLinkRegistryService) RecordPollSuccess(ctx context.Context, linkID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxLinkRegistryService.RecordPollSuccess")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, linkID)

	link, err := s.repositories.MailboxLinkRepository.GetByID(ctx, linkID)
	if err != nil {
		return err
	}

	now := time.Now()
	link.LastPolledAt = &now
	link.ConsecutiveFailureCount = 0
	return s.repositories.MailboxLinkRepository.Update(ctx, link)
}

// RecordPollFailure increments the failure streak and deactivates the link
// once the streak reaches the threshold. Auth and transient failures ride
// the same counter; only the recorded reason differs.
func (s *MailboxLinkRegistryService) RecordPollFailure(ctx context.Context, linkID string, reason enum.LinkDeactivationReason) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxLinkRegistryService.RecordPollFailure")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, linkID)

	link, err := s.repositories.MailboxLinkRepository.GetByID(ctx, linkID)
	if err != nil {
		return false, err
	}

	now := time.Now()
	link.LastPolledAt = &now
	link.ConsecutiveFailureCount++

	if link.ConsecutiveFailureCount >= s.failureThreshold {
		link.IsActive = false
		link.DeactivationReason = reason
		if err := s.repositories.MailboxLinkRepository.Update(ctx, link); err != nil {
			tracing.TraceErr(span, err)
			return false, err
		}
		s.InvalidateClient(linkID)
		s.log.Warnf("Deactivated mailbox link %s after %d consecutive failures", linkID, link.ConsecutiveFailureCount)
		return true, nil
	}

	if err := s.repositories.MailboxLinkRepository.Update(ctx, link); err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	return false, nil
}

// ClientFor returns the cached client for a link, dialing one if needed.
func (s *MailboxLinkRegistryService) ClientFor(ctx context.Context, link *models.MailboxLink) (interfaces.MailboxClient, error) {
	s.clientsMutex.RLock()
	client, ok := s.clients[link.ID]
	s.clientsMutex.RUnlock()
	if ok {
		return client, nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxLinkRegistryService.ClientFor")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, link.ID)

	decrypted := *link
	handle, err := s.cipher.Decrypt(link.CredentialHandle)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	decrypted.CredentialHandle = handle

	client, err = s.clientFactory.NewClient(ctx, &decrypted)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.clientsMutex.Lock()
	// another goroutine may have dialed first; keep the existing client
	if existing, ok := s.clients[link.ID]; ok {
		s.clientsMutex.Unlock()
		_ = client.Close()
		return existing, nil
	}
	s.clients[link.ID] = client
	s.clientsMutex.Unlock()

	return client, nil
}

// InvalidateClient drops the cached client for a link, closing it if present.
// Called on credential-handle refresh, deactivation and unlink.
func (s *MailboxLinkRegistryService) InvalidateClient(linkID string) {
	s.clientsMutex.Lock()
	client, ok := s.clients[linkID]
	if ok {
		delete(s.clients, linkID)
	}
	s.clientsMutex.Unlock()

	if ok {
		_ = client.Close()
	}
}

// CloseAllClients disconnects every cached client. Used during shutdown.
func (s *MailboxLinkRegistryService) CloseAllClients() {
	s.clientsMutex.Lock()
	clients := s.clients
	s.clients = make(map[string]interfaces.MailboxClient)
	s.clientsMutex.Unlock()

	for id, client := range clients {
		if err := client.Close(); err != nil {
			s.log.Warnf("Error closing mailbox client %s: %v", id, err)
		}
	}
}
