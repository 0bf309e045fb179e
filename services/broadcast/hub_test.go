package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credstack/credstack/dto"
	"github.com/credstack/credstack/internal/logger"
)

// allowListAccess grants (userId, accountId) pairs present in the map.
type allowListAccess struct {
	allowed map[string]bool
}

func pairKey(userID, accountID string) string {
	return userID + "|" + accountID
}

func (a *allowListAccess) CanRead(ctx context.Context, userID, accountID string) (bool, error) {
	return a.allowed[pairKey(userID, accountID)], nil
}

func (a *allowListAccess) Share(ctx context.Context, ownerID, accountID, granteeUserID string) error {
	return nil
}

func (a *allowListAccess) Revoke(ctx context.Context, ownerID, accountID, granteeUserID string) error {
	return nil
}

func (a *allowListAccess) GranteesFor(ctx context.Context, accountID string) ([]string, error) {
	return nil, nil
}

func getTestLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func newTestClient(hub *Hub, id, userID string) *Client {
	return &Client{
		ID:         id,
		UserID:     userID,
		send:       make(chan []byte, 16),
		hub:        hub,
		accountIDs: make(map[string]bool),
		log:        hub.log,
	}
}

func receiveMessage(t *testing.T, client *Client) *Message {
	t.Helper()
	select {
	case data := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("expected a websocket frame")
		return nil
	}
}

func TestHub_SubscribeAuthorized(t *testing.T) {
	access := &allowListAccess{allowed: map[string]bool{
		pairKey("user-1", "acct-1"): true,
	}}
	hub := NewHub(access, getTestLogger())
	client := newTestClient(hub, "ws_1", "user-1")

	client.subscribeAccount("acct-1")

	msg := receiveMessage(t, client)
	assert.Equal(t, MessageTypeSubscribed, msg.Type)
	assert.Equal(t, "acct-1", msg.AccountID)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Contains(t, hub.accounts["acct-1"], "ws_1")
}

func TestHub_SubscribeDenied(t *testing.T) {
	hub := NewHub(&allowListAccess{allowed: map[string]bool{}}, getTestLogger())
	client := newTestClient(hub, "ws_1", "stranger")

	client.subscribeAccount("acct-1")

	msg := receiveMessage(t, client)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.NotEmpty(t, msg.Error)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.accounts["acct-1"])
}

func TestHub_BroadcastReachesOnlySubscribers(t *testing.T) {
	access := &allowListAccess{allowed: map[string]bool{
		pairKey("user-1", "acct-1"): true,
		pairKey("user-2", "acct-2"): true,
	}}
	hub := NewHub(access, getTestLogger())

	subscriber := newTestClient(hub, "ws_1", "user-1")
	subscriber.subscribeAccount("acct-1")
	receiveMessage(t, subscriber) // drain the subscribed ack

	bystander := newTestClient(hub, "ws_2", "user-2")
	bystander.subscribeAccount("acct-2")
	receiveMessage(t, bystander)

	event := &dto.OTPEvent{
		AccountID: "acct-1",
		OwnerID:   "user-1",
		Code:      "7F3K9Q",
		FetchedAt: time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	hub.broadcastToAccount(event)

	msg := receiveMessage(t, subscriber)
	assert.Equal(t, MessageTypeOtp, msg.Type)
	assert.Equal(t, "acct-1", msg.AccountID)

	var delivered dto.OTPEvent
	require.NoError(t, json.Unmarshal(msg.Data, &delivered))
	assert.Equal(t, "7F3K9Q", delivered.Code)

	select {
	case <-bystander.send:
		t.Fatal("event leaked to a session subscribed to a different account")
	default:
	}
}

func TestHub_RevalidationDropsRevokedSubscription(t *testing.T) {
	access := &allowListAccess{allowed: map[string]bool{
		pairKey("user-1", "acct-1"): true,
	}}
	hub := NewHub(access, getTestLogger())
	client := newTestClient(hub, "ws_1", "user-1")

	client.subscribeAccount("acct-1")
	receiveMessage(t, client)

	// the grant is revoked while the session stays open
	delete(access.allowed, pairKey("user-1", "acct-1"))
	hub.revalidateSubscriptions(context.Background())

	hub.mu.RLock()
	assert.Empty(t, hub.accounts["acct-1"])
	hub.mu.RUnlock()

	// nothing is delivered after the drop
	hub.broadcastToAccount(&dto.OTPEvent{AccountID: "acct-1", Code: "7F3K9Q"})
	select {
	case <-client.send:
		t.Fatal("event delivered to a revoked subscription")
	default:
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(&allowListAccess{allowed: map[string]bool{}}, getTestLogger())

	// nobody is draining the broadcast channel; filling past its capacity
	// must drop instead of deadlocking
	for i := 0; i < 300; i++ {
		hub.Publish(context.Background(), dto.OTPEvent{AccountID: "acct-1", Code: "7F3K9Q"})
	}
}
