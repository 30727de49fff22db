// Package puretools is a client for the HTTP/JSON control API of the
// PureTools 4x1 HDMI switcher.
package puretools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionProvider hands out the shared HTTP client (the connection pool).
// It is called whenever the client has no session, including after Close.
type SessionProvider func() *http.Client

// StaticSession returns a SessionProvider that always yields c.
func StaticSession(c *http.Client) SessionProvider {
	return func() *http.Client { return c }
}

// RequestHook observes every completed request.
type RequestHook func(path string, elapsed time.Duration, err error)

// Option configures a Client.
type Option func(*Client)

// WithRequestHook registers a hook invoked after each request.
func WithRequestHook(hook RequestHook) Option {
	return func(c *Client) { c.hook = hook }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client talks to a single switcher. Calls are neither serialized nor
// coalesced; callers must not overlap commands against one device.
type Client struct {
	endpoint Endpoint
	provider SessionProvider
	hook     RequestHook
	logger   *zap.Logger

	sessionMu sync.Mutex
	session   *http.Client
}

// NewClient creates a client for the switcher at endpoint.
func NewClient(endpoint Endpoint, provider SessionProvider, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint.Host) == "" {
		return nil, fmt.Errorf("puretools host is required")
	}
	if strings.TrimSpace(endpoint.Port) == "" {
		return nil, fmt.Errorf("puretools port is required")
	}
	if err := ValidatePort(endpoint.Port); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("puretools session provider is required")
	}

	c := &Client{
		endpoint: endpoint,
		provider: provider,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the device address.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// SysInfo fetches the device status.
func (c *Client) SysInfo(ctx context.Context) (SysInfo, error) {
	var raw rawSysInfo
	if err := c.get(ctx, "/sysinfo", &raw); err != nil {
		return SysInfo{}, err
	}
	info, err := raw.validate()
	if err != nil {
		return SysInfo{}, fmt.Errorf("%w: decode /sysinfo: %w", ErrCannotConnect, err)
	}
	return info, nil
}

// SelectInput switches to HDMI input n (1-4).
func (c *Client) SelectInput(ctx context.Context, n int) (Ack, error) {
	if _, err := SourceForInput(n); err != nil {
		return nil, err
	}
	return c.command(ctx, "/hdmi"+strconv.Itoa(n))
}

// SetAutoMode enables (/auto) or disables (/manual) automatic switching.
func (c *Client) SetAutoMode(ctx context.Context, enabled bool) (Ack, error) {
	if enabled {
		return c.command(ctx, "/auto")
	}
	return c.command(ctx, "/manual")
}

// Close drops the current session. The next request acquires a new one.
func (c *Client) Close() {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.session != nil {
		c.session.CloseIdleConnections()
		c.session = nil
	}
}

func (c *Client) acquire() *http.Client {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.session == nil {
		c.session = c.provider()
	}
	return c.session
}

func (c *Client) command(ctx context.Context, path string) (Ack, error) {
	ack := Ack{}
	if err := c.get(ctx, path, &ack); err != nil {
		return nil, err
	}
	return ack, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	start := time.Now()
	err := c.do(ctx, path, dest)
	if c.hook != nil {
		c.hook(path, time.Since(start), err)
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, dest any) error {
	url := c.endpoint.BaseURL() + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}

	c.logger.Debug("Send command", zap.String("url", url))

	resp, err := c.acquire().Do(req)
	if err != nil {
		return fmt.Errorf("%w: request %s: %w", ErrCannotConnect, url, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrCannotConnect, url, err)
	}

	c.logger.Debug("Feedback",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", payload))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: request %s: status %d: %s",
			ErrCannotConnect, url, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	// Command endpoints may answer with an empty body.
	if _, isAck := dest.(*Ack); isAck && len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrCannotConnect, path, err)
	}
	return nil
}
