// Package relayclient is the local-app side of the relay: it generates
// session tokens, registers them, and waits for the authorization result
// over websocket with an HTTP polling fallback.
package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"github.com/oauthrelay/oauthrelay/pkg/relay"
)

const defaultPollInterval = 2 * time.Second

// NewSessionToken generates a fresh opaque session token for a relay flow.
func NewSessionToken() string {
	return ksuid.New().String()
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	dialer       *websocket.Dialer
	pollInterval time.Duration
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   http.DefaultClient,
		dialer:       websocket.DefaultDialer,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallbackURL returns the redirect URI to hand to the identity provider for
// the given session token.
func (c *Client) CallbackURL(token string) string {
	return c.baseURL + "/callback?session=" + url.QueryEscape(token)
}

// Register opens the session on the relay. It must run before the provider
// redirect fires: a callback for an unregistered token is dropped.
func (c *Client) Register(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.CallbackURL(token), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register session: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Poll reads the session status once. A terminal response is final: the
// relay forgets the session the moment it hands the result out.
func (c *Client) Poll(ctx context.Context, token string) (relay.Result, error) {
	pollURL := c.baseURL + "/poll/" + url.PathEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return relay.Result{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return relay.Result{}, fmt.Errorf("poll session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return relay.Result{}, fmt.Errorf("poll session: unexpected status %d", resp.StatusCode)
	}
	var result relay.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return relay.Result{}, fmt.Errorf("poll session: decode response: %w", err)
	}
	return result, nil
}

// Wait blocks until a terminal result arrives, the session expires, or ctx
// is done. It prefers the websocket push and falls back to polling when the
// upgrade cannot be established.
func (c *Client) Wait(ctx context.Context, token string) (relay.Result, error) {
	result, err := c.waitWebsocket(ctx, token)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return relay.Result{}, ctx.Err()
	}
	slog.Debug("websocket wait failed, falling back to polling", "error", err)
	return c.waitPolling(ctx, token)
}

func (c *Client) waitWebsocket(ctx context.Context, token string) (relay.Result, error) {
	wsURL, err := c.websocketURL(token)
	if err != nil {
		return relay.Result{}, err
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return relay.Result{}, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	// Unblock the read when the caller gives up.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchdogDone:
		}
	}()

	var result relay.Result
	if err := conn.ReadJSON(&result); err != nil {
		if ctx.Err() != nil {
			return relay.Result{}, ctx.Err()
		}
		return relay.Result{}, fmt.Errorf("read relay message: %w", err)
	}
	return result, nil
}

func (c *Client) waitPolling(ctx context.Context, token string) (relay.Result, error) {
	// The websocket connect would have registered the session; without it we
	// have to do so explicitly. Registration is idempotent.
	if err := c.Register(ctx, token); err != nil {
		return relay.Result{}, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		result, err := c.Poll(ctx, token)
		if err != nil {
			return relay.Result{}, err
		}
		if result.Status != relay.StatusPending {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return relay.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) websocketURL(token string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + token
	return u.String(), nil
}
