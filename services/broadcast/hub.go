package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/credstack/credstack/dto"
	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/utils"
)

// MessageType identifies a websocket frame
type MessageType string

const (
	MessageTypeOtp         MessageType = "otp"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message is the websocket frame exchanged with clients
type Message struct {
	Type      MessageType     `json:"type"`
	AccountID string          `json:"accountId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client is one live websocket session, bound to the authenticated user id
// carried on the upgrade request.
type Client struct {
	ID         string
	UserID     string
	conn       *websocket.Conn
	send       chan []byte
	hub        *Hub
	accountIDs map[string]bool
	mu         sync.RWMutex
	log        logger.Logger
}

// Hub fans extracted codes out to subscribed sessions. Subscriptions are
// keyed (userId, accountId) and each subscribe is checked against access
// control; sessions never attach to an owner-wide room. Grants can be
// revoked while a session is open, so subscriptions are re-validated on a
// timer as well.
type Hub struct {
	clients    map[string]*Client
	accounts   map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *dto.OTPEvent
	access     interfaces.AccessController
	log        logger.Logger
	mu         sync.RWMutex
}

const revalidateInterval = 60 * time.Second

func NewHub(access interfaces.AccessController, log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		accounts:   make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *dto.OTPEvent, 256),
		access:     access,
		log:        log,
	}
}

// Publish hands an event to the hub without blocking the caller. Sessions
// that cannot keep up miss the event; they can still read the code over the
// reveal endpoint while it is valid.
func (h *Hub) Publish(ctx context.Context, event dto.OTPEvent) {
	select {
	case h.broadcast <- &event:
	default:
		h.log.Warnf("Broadcast queue full, dropping event for account %s", event.AccountID)
	}
}

// Run drives the hub loop until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(revalidateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("Websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Infof("Websocket client %s registered for user %s", client.ID, client.UserID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for accountID := range client.accountIDs {
					if clients, exists := h.accounts[accountID]; exists {
						delete(clients, client.ID)
						if len(clients) == 0 {
							delete(h.accounts, accountID)
						}
					}
				}
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Infof("Websocket client %s unregistered", client.ID)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.broadcastToAccount(event)

		case <-ticker.C:
			h.revalidateSubscriptions(ctx)
			h.pingAllClients()
		}
	}
}

// broadcastToAccount delivers an event to every session subscribed to the
// account. Sends never block; a stalled session is skipped.
func (h *Hub) broadcastToAccount(event *dto.OTPEvent) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.accounts[event.AccountID]))
	for _, client := range h.accounts[event.AccountID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Errorf("Failed to marshal event for account %s: %v", event.AccountID, err)
		return
	}

	data, err := json.Marshal(&Message{
		Type:      MessageTypeOtp,
		AccountID: event.AccountID,
		Data:      payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.log.Errorf("Failed to marshal frame for account %s: %v", event.AccountID, err)
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.log.Warnf("Websocket client %s blocked, skipping delivery", client.ID)
		}
	}
}

// revalidateSubscriptions drops subscriptions whose grant was revoked after
// the session subscribed.
func (h *Hub) revalidateSubscriptions(ctx context.Context) {
	type pair struct {
		client    *Client
		accountID string
	}

	h.mu.RLock()
	pairs := make([]pair, 0)
	for accountID, clients := range h.accounts {
		for _, client := range clients {
			pairs = append(pairs, pair{client: client, accountID: accountID})
		}
	}
	h.mu.RUnlock()

	for _, p := range pairs {
		allowed, err := h.access.CanRead(ctx, p.client.UserID, p.accountID)
		if err != nil {
			h.log.Warnf("Failed to re-validate subscription of client %s to account %s: %v", p.client.ID, p.accountID, err)
			continue
		}
		if !allowed {
			h.log.Infof("Dropping revoked subscription of client %s to account %s", p.client.ID, p.accountID)
			p.client.dropSubscription(p.accountID)
		}
	}
}

func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Message{Type: MessageTypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.accounts = make(map[string]map[string]*Client)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades an authenticated request into a hub session. The
// caller identity comes from the trusted gateway headers, same as the REST
// surface.
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := ""
		for _, header := range utils.UserIdHeaders {
			if value := c.GetHeader(header); value != "" {
				userID = value
				break
			}
		}
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Errorf("Failed to upgrade websocket connection from %s: %v", c.ClientIP(), err)
			return
		}

		client := &Client{
			ID:         utils.GenerateNanoIDWithPrefix("ws", 12),
			UserID:     userID,
			conn:       conn,
			send:       make(chan []byte, 256),
			hub:        hub,
			accountIDs: make(map[string]bool),
			log:        hub.log,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnf("Websocket error on client %s: %v", c.ID, err)
			}
			break
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribeAccount(msg.AccountID)
	case MessageTypeUnsubscribe:
		c.dropSubscription(msg.AccountID)
	case MessageTypePong:
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	default:
		c.log.Warnf("Unknown websocket message type %q from client %s", msg.Type, c.ID)
	}
}

// subscribeAccount attaches the session to one account after an access
// check. Owners and grantees subscribe the same way; there is no implicit
// owner-wide subscription.
func (c *Client) subscribeAccount(accountID string) {
	if accountID == "" {
		c.sendError("account id is required")
		return
	}

	allowed, err := c.hub.access.CanRead(context.Background(), c.UserID, accountID)
	if err != nil {
		c.log.Warnf("Subscription check failed for client %s on account %s: %v", c.ID, accountID, err)
		c.sendError("subscription check failed")
		return
	}
	if !allowed {
		c.log.Warnf("Subscription denied for client %s on account %s", c.ID, accountID)
		c.sendError("no access to account " + accountID)
		return
	}

	c.mu.Lock()
	c.accountIDs[accountID] = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	if c.hub.accounts[accountID] == nil {
		c.hub.accounts[accountID] = make(map[string]*Client)
	}
	c.hub.accounts[accountID][c.ID] = c
	c.hub.mu.Unlock()

	c.sendMessage(&Message{
		Type:      MessageTypeSubscribed,
		AccountID: accountID,
		Timestamp: time.Now(),
	})
}

func (c *Client) dropSubscription(accountID string) {
	c.mu.Lock()
	delete(c.accountIDs, accountID)
	c.mu.Unlock()

	c.hub.mu.Lock()
	if clients, exists := c.hub.accounts[accountID]; exists {
		delete(clients, c.ID)
		if len(clients) == 0 {
			delete(c.hub.accounts, accountID)
		}
	}
	c.hub.mu.Unlock()
}

func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorf("Failed to marshal websocket message: %v", err)
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warnf("Websocket client %s channel blocked", c.ID)
	}
}
