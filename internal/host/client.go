// Package host is a client for the dashboard host's websocket API: entity
// lookup, session-authenticated stream requests and trusted service calls.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultPingInterval = 30 * time.Second
	handshakeTimeout    = 10 * time.Second
)

var (
	ErrAuthInvalid = errors.New("host rejected access token")
	ErrClosed      = errors.New("host connection closed")
)

// message is the websocket envelope. Commands carry their own fields
// next to id and type.
type message struct {
	ID          int             `json:"id,omitempty"`
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	Message     string          `json:"message,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *resultError    `json:"error,omitempty"`

	EntityID       string         `json:"entity_id,omitempty"`
	Format         string         `json:"format,omitempty"`
	Domain         string         `json:"domain,omitempty"`
	Service        string         `json:"service,omitempty"`
	ServiceData    map[string]any `json:"service_data,omitempty"`
	ReturnResponse bool           `json:"return_response,omitempty"`
}

type resultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client manages the websocket connection to the host.
type Client struct {
	baseURL      string
	token        string
	pingInterval time.Duration
	log          zerolog.Logger

	conn    *websocket.Conn
	mu      sync.Mutex // serializes writes
	pmu     sync.Mutex
	nextID  int
	pending map[int]chan message
	closed  chan struct{}
	once    sync.Once
}

// NewClient creates a client for the host at baseURL (http or https).
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		pingInterval: defaultPingInterval,
		log:          xlog.WithComponent("host"),
		pending:      make(map[int]chan message),
		closed:       make(chan struct{}),
	}
}

// Connect dials the websocket, completes the auth handshake and starts the
// read and ping loops.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse host url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"

	c.log.Info().Str("url", u.String()).Msg("connecting")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	if err := c.authenticate(ctx); err != nil {
		conn.Close()
		return err
	}

	go c.readLoop()
	go c.pingLoop()
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	}
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("auth handshake: %w", err)
		}
		switch msg.Type {
		case "auth_required":
			if err := c.send(message{Type: "auth", AccessToken: c.token}); err != nil {
				return fmt.Errorf("send auth: %w", err)
			}
		case "auth_ok":
			c.log.Info().Msg("authenticated")
			return nil
		case "auth_invalid":
			return fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
		default:
			c.log.Debug().Str("type", msg.Type).Msg("ignoring pre-auth message")
		}
	}
}

// Close shuts down the connection and fails pending requests.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Entity returns the state object of entityID.
func (c *Client) Entity(ctx context.Context, entityID string) (domain.Entity, error) {
	res, err := c.request(ctx, message{Type: "get_states"})
	if err != nil {
		return domain.Entity{}, err
	}
	var states []domain.Entity
	if err := json.Unmarshal(res, &states); err != nil {
		return domain.Entity{}, fmt.Errorf("unmarshal states: %w", err)
	}
	for _, s := range states {
		if s.EntityID == entityID {
			return s, nil
		}
	}
	return domain.Entity{}, fmt.Errorf("entity %s not found", entityID)
}

// RequestStream asks the host for a proxied stream of entityID and returns
// an absolute locator.
func (c *Client) RequestStream(ctx context.Context, entityID, format string) (string, error) {
	res, err := c.request(ctx, message{Type: "camera/stream", EntityID: entityID, Format: format})
	if err != nil {
		return "", err
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return "", fmt.Errorf("unmarshal stream result: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("host returned no stream url for %s", entityID)
	}
	return c.absolute(out.URL), nil
}

// CallService invokes domain.service and returns its response payload.
func (c *Client) CallService(ctx context.Context, domainName, service string, data map[string]any) (map[string]any, error) {
	res, err := c.request(ctx, message{
		Type:           "call_service",
		Domain:         domainName,
		Service:        service,
		ServiceData:    data,
		ReturnResponse: true,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Response map[string]any `json:"response"`
	}
	if len(res) > 0 {
		if err := json.Unmarshal(res, &out); err != nil {
			return nil, fmt.Errorf("unmarshal service result: %w", err)
		}
	}
	return out.Response, nil
}

func (c *Client) request(ctx context.Context, msg message) (json.RawMessage, error) {
	ch := make(chan message, 1)

	c.pmu.Lock()
	c.nextID++
	msg.ID = c.nextID
	c.pending[msg.ID] = ch
	c.pmu.Unlock()

	defer func() {
		c.pmu.Lock()
		delete(c.pending, msg.ID)
		c.pmu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return nil, fmt.Errorf("send %s: %w", msg.Type, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	case resp := <-ch:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("%s failed: %s: %s", msg.Type, resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("%s failed", msg.Type)
		}
		return resp.Result, nil
	}
}

func (c *Client) send(msg message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.log.Debug().Int("id", msg.ID).Str("type", msg.Type).Msg(">>>")
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn().Err(err).Msg("read error")
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	switch msg.Type {
	case "result", "pong":
		c.pmu.Lock()
		ch, ok := c.pending[msg.ID]
		c.pmu.Unlock()
		if ok {
			ch <- msg
		}
	case "event":
		// no subscriptions are made
	default:
		c.log.Debug().Str("type", msg.Type).Msg("unhandled message")
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := c.request(ctx, message{Type: "ping"})
			cancel()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warn().Err(err).Msg("ping failed")
					c.Close()
				}
				return
			}
		}
	}
}

func (c *Client) absolute(locator string) string {
	if strings.Contains(locator, "://") {
		return locator
	}
	return c.baseURL + "/" + strings.TrimLeft(locator, "/")
}
