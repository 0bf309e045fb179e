package otp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credstack/credstack/config"
	"github.com/credstack/credstack/dto"
	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/enum"
	er "github.com/credstack/credstack/internal/errors"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/models"
)

type fakeMailboxClient struct {
	mu          sync.Mutex
	messages    map[string]*interfaces.MailMessage
	listErr     error
	markReadErr error
	markedRead  []string
	lastQuery   interfaces.ListQuery
}

func (c *fakeMailboxClient) List(ctx context.Context, query interfaces.ListQuery) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastQuery = query
	if c.listErr != nil {
		return nil, c.listErr
	}
	var ids []string
	for id := range c.messages {
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *fakeMailboxClient) Get(ctx context.Context, messageID string) (*interfaces.MailMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.messages[messageID]
	if !ok {
		return nil, er.ErrNotFound
	}
	return msg, nil
}

func (c *fakeMailboxClient) MarkRead(ctx context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markReadErr != nil {
		return c.markReadErr
	}
	c.markedRead = append(c.markedRead, messageID)
	return nil
}

func (c *fakeMailboxClient) Close() error { return nil }

type fakeLinkRegistry struct {
	mu            sync.Mutex
	links         []*models.MailboxLink
	client        interfaces.MailboxClient
	clientErr     error
	deactivateAt  int
	failures      map[string]int
	failureReason map[string]enum.LinkDeactivationReason
	successes     []string
	invalidated   []string
}

func newFakeLinkRegistry() *fakeLinkRegistry {
	return &fakeLinkRegistry{
		failures:      make(map[string]int),
		failureReason: make(map[string]enum.LinkDeactivationReason),
	}
}

func (r *fakeLinkRegistry) Link(ctx context.Context, link *models.MailboxLink) (*models.MailboxLink, error) {
	return link, nil
}

func (r *fakeLinkRegistry) Unlink(ctx context.Context, ownerID, linkID string) error { return nil }

func (r *fakeLinkRegistry) GetLink(ctx context.Context, linkID string) (*models.MailboxLink, error) {
	return nil, er.ErrNotFound
}

func (r *fakeLinkRegistry) ListByOwner(ctx context.Context, ownerID string) ([]*models.MailboxLink, error) {
	return nil, nil
}

func (r *fakeLinkRegistry) ActiveLinks(ctx context.Context) ([]*models.MailboxLink, error) {
	return r.links, nil
}

func (r *fakeLinkRegistry) Deactivate(ctx context.Context, linkID string, reason enum.LinkDeactivationReason) error {
	return nil
}

func (r *fakeLinkRegistry) RecordPollSuccess(ctx context.Context, linkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, linkID)
	return nil
}

func (r *fakeLinkRegistry) RecordPollFailure(ctx context.Context, linkID string, reason enum.LinkDeactivationReason) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[linkID]++
	r.failureReason[linkID] = reason
	return r.deactivateAt > 0 && r.failures[linkID] >= r.deactivateAt, nil
}

func (r *fakeLinkRegistry) ClientFor(ctx context.Context, link *models.MailboxLink) (interfaces.MailboxClient, error) {
	if r.clientErr != nil {
		return nil, r.clientErr
	}
	return r.client, nil
}

func (r *fakeLinkRegistry) InvalidateClient(linkID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, linkID)
}

func (r *fakeLinkRegistry) CloseAllClients() {}

type fakeCredentialStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	written  []dto.OTPEvent
	sweeps   int
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{accounts: make(map[string]*models.Account)}
}

func (s *fakeCredentialStore) Create(ctx context.Context, create interfaces.AccountCreate) (*models.Account, error) {
	return nil, nil
}

func (s *fakeCredentialStore) Get(ctx context.Context, id string) (*models.Account, error) {
	return nil, er.ErrNotFound
}

func (s *fakeCredentialStore) ListByOwner(ctx context.Context, ownerID string) ([]*models.Account, error) {
	return nil, nil
}

func (s *fakeCredentialStore) Reveal(ctx context.Context, callerID, id string) (*interfaces.RevealedAccount, error) {
	return nil, er.ErrNotFound
}

func (s *fakeCredentialStore) Update(ctx context.Context, callerID, id string, update interfaces.AccountUpdate) (*models.Account, error) {
	return nil, er.ErrNotFound
}

func (s *fakeCredentialStore) Delete(ctx context.Context, callerID, id string) error {
	return nil
}

func (s *fakeCredentialStore) WriteOtp(ctx context.Context, accountID, code string, fetchedAt, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, dto.OTPEvent{
		AccountID: accountID,
		Code:      code,
		FetchedAt: fetchedAt,
		ExpiresAt: expiresAt,
	})
	return nil
}

func (s *fakeCredentialStore) ClearExpiredOtps(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps++
	return 2, nil
}

func (s *fakeCredentialStore) FindByNormalizedEmail(ctx context.Context, ownerID, normalizedEmail string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[ownerID+"|"+normalizedEmail]
	if !ok {
		return nil, er.ErrNotFound
	}
	return account, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []dto.OTPEvent
}

func (b *fakeBroadcaster) Publish(ctx context.Context, event dto.OTPEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBroadcaster) Run(ctx context.Context) {}

type fakeNotifier struct {
	mu            sync.Mutex
	notifications []dto.LinkDeactivated
}

func (n *fakeNotifier) NotifyLinkDeactivated(ctx context.Context, notification dto.LinkDeactivated) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *fakeNotifier) Close() error { return nil }

func getTestLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func testSchedulerConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{
		PollWorkers:      2,
		FailureThreshold: 5,
		OtpValidity:      10 * time.Minute,
		MessageLookback:  2 * time.Hour,
		FetchTimeout:     30 * time.Second,
		SenderFilter:     "noreply@battle.net",
		SubjectFilter:    "Account Verification",
	}
}

func otpMessage(to, code string) *interfaces.MailMessage {
	return &interfaces.MailMessage{
		ID: "101",
		Headers: map[string]string{
			"From":    "Blizzard Entertainment <noreply@battle.net>",
			"To":      to,
			"Subject": "Account Verification",
		},
		Body: `<html><body>Your security code is <em class="otp">` + code + `</em></body></html>`,
	}
}

func newTestScheduler(registry *fakeLinkRegistry, vault *fakeCredentialStore, broadcaster *fakeBroadcaster, notifier *fakeNotifier) *OTPSchedulerService {
	return NewOTPSchedulerService(
		testSchedulerConfig(),
		registry,
		vault,
		NewExtractor(),
		broadcaster,
		notifier,
		getTestLogger(),
	)
}

func TestScheduler_PollOnceHappyPath(t *testing.T) {
	client := &fakeMailboxClient{messages: map[string]*interfaces.MailMessage{
		"101": otpMessage("j.anedoe+game@gmail.com", "7F3K9Q"),
	}}
	registry := newFakeLinkRegistry()
	registry.client = client
	registry.links = []*models.MailboxLink{
		{ID: "link-1", OwnerID: "owner", MailboxAddress: "inbox@example.com"},
	}
	vault := newFakeCredentialStore()
	vault.accounts["owner|janedoe@gmail.com"] = &models.Account{
		ID:      "acct-1",
		OwnerID: "owner",
	}
	broadcaster := &fakeBroadcaster{}
	notifier := &fakeNotifier{}

	scheduler := newTestScheduler(registry, vault, broadcaster, notifier)
	scheduler.PollOnce(context.Background())

	// the fetched code is persisted with the configured validity window
	require.Len(t, vault.written, 1)
	assert.Equal(t, "acct-1", vault.written[0].AccountID)
	assert.Equal(t, "7F3K9Q", vault.written[0].Code)
	assert.WithinDuration(t, vault.written[0].FetchedAt.Add(10*time.Minute), vault.written[0].ExpiresAt, time.Second)

	// and announced to live sessions
	require.Len(t, broadcaster.events, 1)
	assert.Equal(t, "acct-1", broadcaster.events[0].AccountID)
	assert.Equal(t, "owner", broadcaster.events[0].OwnerID)
	assert.Equal(t, "7F3K9Q", broadcaster.events[0].Code)

	// the message is consumed and the link marked healthy
	assert.Equal(t, []string{"101"}, client.markedRead)
	assert.Equal(t, []string{"link-1"}, registry.successes)
	assert.Empty(t, registry.failures)

	// listing honored the configured filters
	assert.True(t, client.lastQuery.UnreadOnly)
	assert.Equal(t, "noreply@battle.net", client.lastQuery.SenderFilter)
	assert.Equal(t, "Account Verification", client.lastQuery.SubjectFilter)
}

func TestScheduler_MarkReadFailureKeepsCode(t *testing.T) {
	client := &fakeMailboxClient{
		messages: map[string]*interfaces.MailMessage{
			"101": otpMessage("janedoe@gmail.com", "7F3K9Q"),
		},
		markReadErr: errors.New("connection reset"),
	}
	registry := newFakeLinkRegistry()
	registry.client = client
	registry.links = []*models.MailboxLink{
		{ID: "link-1", OwnerID: "owner"},
	}
	vault := newFakeCredentialStore()
	vault.accounts["owner|janedoe@gmail.com"] = &models.Account{
		ID:      "acct-1",
		OwnerID: "owner",
	}
	broadcaster := &fakeBroadcaster{}

	scheduler := newTestScheduler(registry, vault, broadcaster, &fakeNotifier{})
	scheduler.PollOnce(context.Background())

	// a failed flag update does not roll the code back
	assert.Len(t, vault.written, 1)
	assert.Len(t, broadcaster.events, 1)
	assert.Equal(t, []string{"link-1"}, registry.successes)
}

func TestScheduler_UnmatchedRecipientIsSkipped(t *testing.T) {
	client := &fakeMailboxClient{messages: map[string]*interfaces.MailMessage{
		"101": otpMessage("nobody@example.com", "7F3K9Q"),
	}}
	registry := newFakeLinkRegistry()
	registry.client = client
	registry.links = []*models.MailboxLink{
		{ID: "link-1", OwnerID: "owner"},
	}
	vault := newFakeCredentialStore()

	scheduler := newTestScheduler(registry, vault, &fakeBroadcaster{}, &fakeNotifier{})
	scheduler.PollOnce(context.Background())

	// unmatched mail is normal traffic, not a link failure
	assert.Empty(t, vault.written)
	assert.Equal(t, []string{"link-1"}, registry.successes)
	assert.Empty(t, registry.failures)
}

func TestScheduler_AuthFailureRecordedWithReason(t *testing.T) {
	registry := newFakeLinkRegistry()
	registry.clientErr = errors.Wrap(er.ErrMailboxAuth, "login rejected")
	registry.links = []*models.MailboxLink{
		{ID: "link-1", OwnerID: "owner"},
	}

	scheduler := newTestScheduler(registry, newFakeCredentialStore(), &fakeBroadcaster{}, &fakeNotifier{})
	scheduler.PollOnce(context.Background())

	assert.Equal(t, 1, registry.failures["link-1"])
	assert.Equal(t, enum.LinkDeactivatedAuthError, registry.failureReason["link-1"])
	assert.Empty(t, registry.successes)
}

func TestScheduler_ListFailureInvalidatesClient(t *testing.T) {
	client := &fakeMailboxClient{listErr: errors.Wrap(er.ErrTransientFetch, "timeout")}
	registry := newFakeLinkRegistry()
	registry.client = client
	registry.links = []*models.MailboxLink{
		{ID: "link-1", OwnerID: "owner"},
	}

	scheduler := newTestScheduler(registry, newFakeCredentialStore(), &fakeBroadcaster{}, &fakeNotifier{})
	scheduler.PollOnce(context.Background())

	assert.Equal(t, []string{"link-1"}, registry.invalidated)
	assert.Equal(t, 1, registry.failures["link-1"])
	assert.Equal(t, enum.LinkDeactivatedFetchError, registry.failureReason["link-1"])
}

func TestScheduler_DeactivationNotifiesOwner(t *testing.T) {
	registry := newFakeLinkRegistry()
	registry.clientErr = errors.Wrap(er.ErrTransientFetch, "unreachable")
	registry.deactivateAt = 1
	registry.links = []*models.MailboxLink{
		{
			ID:                      "link-1",
			OwnerID:                 "owner",
			MailboxAddress:          "inbox@example.com",
			ConsecutiveFailureCount: 4,
		},
	}
	notifier := &fakeNotifier{}

	scheduler := newTestScheduler(registry, newFakeCredentialStore(), &fakeBroadcaster{}, notifier)
	scheduler.PollOnce(context.Background())

	require.Len(t, notifier.notifications, 1)
	notification := notifier.notifications[0]
	assert.Equal(t, "link-1", notification.LinkID)
	assert.Equal(t, "owner", notification.OwnerID)
	assert.Equal(t, "inbox@example.com", notification.MailboxAddress)
	assert.Equal(t, enum.LinkDeactivatedFetchError, notification.Reason)
	assert.Equal(t, 5, notification.FailureCount)
}

func TestScheduler_InFlightLinkIsSkipped(t *testing.T) {
	client := &fakeMailboxClient{messages: map[string]*interfaces.MailMessage{}}
	registry := newFakeLinkRegistry()
	registry.client = client
	registry.links = []*models.MailboxLink{
		{ID: "link-1", OwnerID: "owner"},
	}

	scheduler := newTestScheduler(registry, newFakeCredentialStore(), &fakeBroadcaster{}, &fakeNotifier{})
	require.True(t, scheduler.tryAcquire("link-1"))

	scheduler.PollOnce(context.Background())
	assert.Empty(t, registry.successes, "a link already being polled is skipped")

	scheduler.release("link-1")
	scheduler.PollOnce(context.Background())
	assert.Equal(t, []string{"link-1"}, registry.successes)
}

func TestScheduler_SweepOnce(t *testing.T) {
	vault := newFakeCredentialStore()
	scheduler := newTestScheduler(newFakeLinkRegistry(), vault, &fakeBroadcaster{}, &fakeNotifier{})

	scheduler.SweepOnce(context.Background())

	assert.Equal(t, 1, vault.sweeps)
}
