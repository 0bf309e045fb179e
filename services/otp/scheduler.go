package otp

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/credstack/credstack/config"
	"github.com/credstack/credstack/dto"
	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/cron"
	"github.com/credstack/credstack/internal/enum"
	er "github.com/credstack/credstack/internal/errors"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/tracing"
)

// OTPSchedulerService drives the periodic mailbox polls and the expiry sweep.
// Each tick takes a finite snapshot of active links and fans them out over a
// small worker pool; a per-link in-flight flag keeps slow mailboxes from
// being polled twice concurrently.
type OTPSchedulerService struct {
	cfg         *config.SchedulerConfig
	registry    interfaces.MailboxLinkRegistry
	vault       interfaces.CredentialStore
	extractor   *Extractor
	broadcaster interfaces.EventBroadcaster
	notifier    interfaces.Notifier
	log         logger.Logger

	cronManager *cron.CronManager

	inFlight      map[string]bool
	inFlightMutex sync.Mutex
}

func NewOTPSchedulerService(
	cfg *config.SchedulerConfig,
	registry interfaces.MailboxLinkRegistry,
	vault interfaces.CredentialStore,
	extractor *Extractor,
	broadcaster interfaces.EventBroadcaster,
	notifier interfaces.Notifier,
	log logger.Logger,
) *OTPSchedulerService {
	return &OTPSchedulerService{
		cfg:         cfg,
		registry:    registry,
		vault:       vault,
		extractor:   extractor,
		broadcaster: broadcaster,
		notifier:    notifier,
		log:         log,
		inFlight:    make(map[string]bool),
	}
}

func (s *OTPSchedulerService) Start(ctx context.Context) error {
	s.cronManager = cron.NewCronManager(s.log, s)
	s.cronManager.StartCron()
	return nil
}

func (s *OTPSchedulerService) Stop() error {
	if s.cronManager != nil {
		s.cronManager.Stop()
	}
	return nil
}

// PollOnce runs one polling pass over all active links. Links already being
// polled from a previous pass are skipped, not queued.
func (s *OTPSchedulerService) PollOnce(ctx context.Context) {
	span, ctx := tracing.StartTracerSpan(ctx, "OTPSchedulerService.PollOnce")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	links, err := s.registry.ActiveLinks(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("Failed to list active mailbox links: %v", err)
		return
	}
	span.SetTag("links.count", len(links))
	if len(links) == 0 {
		return
	}

	workers := s.cfg.PollWorkers
	if workers <= 0 {
		workers = 4
	}
	semaphore := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for _, link := range links {
		if !s.tryAcquire(link.ID) {
			s.log.Debugf("Skipping mailbox link %s, previous poll still running", link.ID)
			continue
		}

		wg.Add(1)
		go func(link *models.MailboxLink) {
			defer wg.Done()
			defer s.release(link.ID)

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			s.pollLink(ctx, link)
		}(link)
	}
	wg.Wait()
}

// SweepOnce removes codes whose validity window has passed.
func (s *OTPSchedulerService) SweepOnce(ctx context.Context) {
	span, ctx := tracing.StartTracerSpan(ctx, "OTPSchedulerService.SweepOnce")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	cleared, err := s.vault.ClearExpiredOtps(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("Failed to clear expired codes: %v", err)
		return
	}
	span.SetTag("cleared.count", cleared)
	if cleared > 0 {
		s.log.Infof("Cleared %d expired codes", cleared)
	}
}

// pollLink polls a single mailbox end to end. Extraction misses are normal
// traffic and are skipped silently; only connection level problems count
// against the link's health.
func (s *OTPSchedulerService) pollLink(ctx context.Context, link *models.MailboxLink) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OTPSchedulerService.pollLink")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, link.ID)

	client, err := s.registry.ClientFor(ctx, link)
	if err != nil {
		tracing.TraceErr(span, err)
		s.recordFailure(ctx, link, err)
		return
	}

	query := interfaces.ListQuery{
		Since:         time.Now().Add(-s.cfg.MessageLookback),
		UnreadOnly:    true,
		SenderFilter:  s.cfg.SenderFilter,
		SubjectFilter: s.cfg.SubjectFilter,
	}

	messageIDs, err := client.List(ctx, query)
	if err != nil {
		tracing.TraceErr(span, err)
		// the cached connection may be stale; the next poll dials fresh
		s.registry.InvalidateClient(link.ID)
		s.recordFailure(ctx, link, err)
		return
	}
	span.SetTag("messages.count", len(messageIDs))

	for _, messageID := range messageIDs {
		s.processMessage(ctx, link, client, messageID)
	}

	if err := s.registry.RecordPollSuccess(ctx, link.ID); err != nil {
		tracing.TraceErr(span, err)
		s.log.Warnf("Failed to record poll success for link %s: %v", link.ID, err)
	}
}

func (s *OTPSchedulerService) processMessage(ctx context.Context, link *models.MailboxLink, client interfaces.MailboxClient, messageID string) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OTPSchedulerService.processMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("link.id", link.ID)
	span.SetTag("message.id", messageID)

	msg, err := client.Get(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Warnf("Failed to fetch message %s from link %s: %v", messageID, link.ID, err)
		return
	}

	recipient := s.extractor.ExtractRecipient(msg)
	if recipient == "" {
		return
	}
	code := s.extractor.ExtractCode(msg)
	if code == "" {
		return
	}

	account, err := s.vault.FindByNormalizedEmail(ctx, link.OwnerID, recipient)
	if err != nil {
		if errors.Is(err, er.ErrNotFound) {
			// mail for an address nobody vaulted; not an error
			return
		}
		tracing.TraceErr(span, err)
		s.log.Errorf("Failed to resolve account for recipient on link %s: %v", link.ID, err)
		return
	}

	fetchedAt := time.Now()
	expiresAt := fetchedAt.Add(s.cfg.OtpValidity)

	if err := s.vault.WriteOtp(ctx, account.ID, code, fetchedAt, expiresAt); err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("Failed to store code for account %s: %v", account.ID, err)
		return
	}

	s.broadcaster.Publish(ctx, dto.OTPEvent{
		AccountID: account.ID,
		OwnerID:   account.OwnerID,
		Code:      code,
		FetchedAt: fetchedAt,
		ExpiresAt: expiresAt,
	})

	// the code is already persisted; a failed flag update only means the
	// same message gets re-extracted next tick
	if err := client.MarkRead(ctx, messageID); err != nil {
		tracing.TraceErr(span, err)
		s.log.Warnf("Failed to mark message %s as read on link %s: %v", messageID, link.ID, err)
	}
}

func (s *OTPSchedulerService) recordFailure(ctx context.Context, link *models.MailboxLink, cause error) {
	reason := enum.LinkDeactivatedFetchError
	if errors.Is(cause, er.ErrMailboxAuth) {
		reason = enum.LinkDeactivatedAuthError
	}

	deactivated, err := s.registry.RecordPollFailure(ctx, link.ID, reason)
	if err != nil {
		s.log.Errorf("Failed to record poll failure for link %s: %v", link.ID, err)
		return
	}
	s.log.Warnf("Poll failed for mailbox link %s: %v", link.ID, cause)

	if deactivated && s.notifier != nil {
		notification := dto.LinkDeactivated{
			LinkID:         link.ID,
			OwnerID:        link.OwnerID,
			MailboxAddress: link.MailboxAddress,
			Reason:         reason,
			FailureCount:   link.ConsecutiveFailureCount + 1,
		}
		if err := s.notifier.NotifyLinkDeactivated(ctx, notification); err != nil {
			s.log.Errorf("Failed to notify owner about deactivated link %s: %v", link.ID, err)
		}
	}
}

func (s *OTPSchedulerService) tryAcquire(linkID string) bool {
	s.inFlightMutex.Lock()
	defer s.inFlightMutex.Unlock()
	if s.inFlight[linkID] {
		return false
	}
	s.inFlight[linkID] = true
	return true
}

func (s *OTPSchedulerService) release(linkID string) {
	s.inFlightMutex.Lock()
	delete(s.inFlight, linkID)
	s.inFlightMutex.Unlock()
}
