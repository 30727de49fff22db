// Package ha is a minimal Home Assistant WebSocket API client: it
// authenticates, calls services, reads states and fans out state_changed
// events to per-entity subscribers.
package ha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("not connected to Home Assistant")
	ErrAuthInvalid  = errors.New("authentication failed: invalid token")
	ErrNotFound     = errors.New("entity not found")
)

const (
	requestTimeout = 10 * time.Second
	dialTimeout    = 10 * time.Second
	minBackoff     = time.Second
	maxBackoff     = 30 * time.Second
)

// HAClient is the part of Home Assistant the bridge uses
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	GetAllStates() ([]*State, error)
	CallService(domain, service string, data map[string]any) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
	SetInputBoolean(name string, value bool) error
	SelectOption(name, option string) error
	SetSelectOptions(name string, options []string) error
}

type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// Client implements HAClient over a single WebSocket connection. After a
// connection loss it reconnects with exponential backoff; subscriptions
// survive reconnects.
type Client struct {
	url    string
	token  string
	logger *zap.Logger
	dialer *websocket.Dialer

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected bool
	reconnect bool
	ctx       context.Context
	cancel    context.CancelFunc

	writeMu sync.Mutex

	msgMu     sync.Mutex
	msgID     int
	pending   map[int]chan Message
	nextSubID int

	subsMu      sync.RWMutex
	subscribers map[string][]subscriberEntry
}

// NewClient creates a client for the WebSocket API at url
// (ws://homeassistant.local:8123/api/websocket)
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:         url,
		token:       token,
		logger:      logger.Named("ha"),
		dialer:      &websocket.Dialer{HandshakeTimeout: dialTimeout},
		pending:     make(map[int]chan Message),
		subscribers: make(map[string][]subscriberEntry),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Connect dials, authenticates and subscribes to state_changed events
func (c *Client) Connect() error {
	c.connMu.Lock()
	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	haVersion, err := c.authenticate(conn)
	if err != nil {
		conn.Close()
		c.connMu.Unlock()
		return err
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.conn = conn
	c.connected = true
	c.reconnect = true
	ctx := c.ctx
	c.connMu.Unlock()

	c.logger.Info("Connected to Home Assistant", zap.String("ha_version", haVersion))

	go c.receiveMessages(ctx, conn)

	if _, err := c.send(&request{Type: "subscribe_events", EventType: "state_changed"}); err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}
	return nil
}

// authenticate runs the auth_required / auth / auth_ok exchange
func (c *Client) authenticate(conn *websocket.Conn) (string, error) {
	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		return "", fmt.Errorf("failed to read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return "", fmt.Errorf("expected auth_required, got %s", hello.Type)
	}

	if err := conn.WriteJSON(authMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return "", fmt.Errorf("failed to send auth: %w", err)
	}

	var reply struct {
		Type      string `json:"type"`
		HAVersion string `json:"ha_version"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		return "", fmt.Errorf("failed to read auth response: %w", err)
	}
	switch reply.Type {
	case "auth_ok":
		return reply.HAVersion, nil
	case "auth_invalid":
		return "", ErrAuthInvalid
	default:
		return "", fmt.Errorf("expected auth_ok, got %s", reply.Type)
	}
}

// Disconnect closes the connection and stops reconnecting
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.reconnect = false
	c.cancel()
	if !c.connected {
		return nil
	}
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}

	c.subsMu.Lock()
	c.subscribers = make(map[string][]subscriberEntry)
	c.subsMu.Unlock()

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected reports whether the connection is up
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// send assigns an id to req, writes it and waits for the matching result
func (c *Client) send(req *request) (*Message, error) {
	c.connMu.RLock()
	conn, ctx, connected := c.conn, c.ctx, c.connected
	c.connMu.RUnlock()
	if !connected {
		return nil, ErrNotConnected
	}

	respChan := make(chan Message, 1)
	c.msgMu.Lock()
	c.msgID++
	req.ID = c.msgID
	c.pending[req.ID] = respChan
	c.msgMu.Unlock()

	defer func() {
		c.msgMu.Lock()
		delete(c.pending, req.ID)
		c.msgMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Type, err)
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %w", resp.Error)
			}
			return nil, fmt.Errorf("%s failed", req.Type)
		}
		return &resp, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("timeout waiting for %s response", req.Type)
	case <-ctx.Done():
		return nil, ErrNotConnected
	}
}

func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect(conn)
			return
		}

		if msg.Type == "event" {
			c.dispatchEvent(msg.Event)
			continue
		}

		if msg.ID > 0 {
			c.msgMu.Lock()
			ch, ok := c.pending[msg.ID]
			c.msgMu.Unlock()
			if ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
		}
	}
}

func (c *Client) dispatchEvent(event *Event) {
	if event == nil || event.EventType != "state_changed" {
		return
	}

	var data StateChangedEvent
	if err := json.Unmarshal(event.Data, &data); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subsMu.RLock()
	entries := append([]subscriberEntry(nil), c.subscribers[data.EntityID]...)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(data.EntityID, data.OldState, data.NewState)
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	c.cancel()
	reconnect := c.reconnect
	c.connMu.Unlock()

	conn.Close()
	c.logger.Warn("Connection lost")

	if reconnect {
		go c.reconnectLoop()
	}
}

func (c *Client) reconnectLoop() {
	backoff := minBackoff
	for {
		time.Sleep(backoff)

		c.connMu.RLock()
		stop := !c.reconnect
		c.connMu.RUnlock()
		if stop {
			return
		}

		c.logger.Info("Attempting to reconnect", zap.Duration("backoff", backoff))
		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

// GetState returns the state of one entity
func (c *Client) GetState(entityID string) (*State, error) {
	states, err := c.GetAllStates()
	if err != nil {
		return nil, err
	}
	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
}

// GetAllStates returns every entity state
func (c *Client) GetAllStates() ([]*State, error) {
	resp, err := c.send(&request{Type: "get_states"})
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}
	return states, nil
}

// CallService calls a Home Assistant service
func (c *Client) CallService(domain, service string, data map[string]any) error {
	_, err := c.send(&request{
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	return err
}

// SubscribeStateChanges registers handler for state changes of entityID
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.msgMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.msgMu.Unlock()

	c.subsMu.Lock()
	c.subscribers[entityID] = append(c.subscribers[entityID], subscriberEntry{subID: subID, handler: handler})
	c.subsMu.Unlock()

	return &subscription{entityID: entityID, subID: subID, client: c}, nil
}

func (c *Client) unsubscribe(entityID string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	entries := c.subscribers[entityID]
	for i, entry := range entries {
		if entry.subID == subID {
			c.subscribers[entityID] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(c.subscribers[entityID]) == 0 {
		delete(c.subscribers, entityID)
	}
	return nil
}

// SetInputBoolean turns input_boolean.<name> on or off
func (c *Client) SetInputBoolean(name string, value bool) error {
	service := "turn_off"
	if value {
		service = "turn_on"
	}
	return c.CallService("input_boolean", service, map[string]any{
		"entity_id": "input_boolean." + name,
	})
}

// SelectOption sets the current option of input_select.<name>
func (c *Client) SelectOption(name, option string) error {
	return c.CallService("input_select", "select_option", map[string]any{
		"entity_id": "input_select." + name,
		"option":    option,
	})
}

// SetSelectOptions replaces the option list of input_select.<name>
func (c *Client) SetSelectOptions(name string, options []string) error {
	return c.CallService("input_select", "set_options", map[string]any{
		"entity_id": "input_select." + name,
		"options":   options,
	})
}
