package paradex

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

const (
	Name = "paradex"

	EnvTestnet = "testnet"
	EnvMainnet = "mainnet"

	_paradexBaseUrlTestnet   = "https://api.testnet.paradex.trade/v1"
	_paradexBaseUrlMainnet   = "https://api.prod.paradex.trade/v1"
	_paradexBaseWsUrlTestnet = "wss://ws.api.testnet.paradex.trade/v1"
	_paradexBaseWsUrlMainnet = "wss://ws.api.prod.paradex.trade/v1"

	defaultTimeout = 20 * time.Second
)

var _ venue.Client = (*Client)(nil)

// TokenSource returns a fresh JWT. Onboarding and signing live outside this
// package; the client only carries the token.
type TokenSource func(ctx context.Context) (string, error)

// Signer produces the order signature the venue requires.
type Signer func(ctx context.Context, req venue.OrderRequest, timestampMs int64) (string, error)

// Config defines one wallet's connection.
type Config struct {
	Env         string
	BaseURL     string
	WsURL       string
	Wallet      string
	L1Address   string
	JWT         string
	TokenSource TokenSource
	Signer      Signer
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// BaseURLs returns the REST and WebSocket endpoints of env.
func BaseURLs(env string) (rest, wss string, err error) {
	switch strings.ToLower(env) {
	case "", EnvTestnet:
		return _paradexBaseUrlTestnet, _paradexBaseWsUrlTestnet, nil
	case EnvMainnet, "prod":
		return _paradexBaseUrlMainnet, _paradexBaseWsUrlMainnet, nil
	default:
		return "", "", errors.Errorf("unknown paradex env %q", env)
	}
}

// Client talks to the Paradex REST API and fill stream for one wallet.
type Client struct {
	cfg     Config
	http    *http.Client
	now     func() time.Time
	mu      sync.Mutex
	token   string
	streams map[*stream]struct{}
	closed  bool
}

// New creates a client. The token is resolved once so auth problems surface at startup.
func New(ctx context.Context, cfg Config) (*Client, error) {
	rest, wss, err := BaseURLs(cfg.Env)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = rest
	}
	if cfg.WsURL == "" {
		cfg.WsURL = wss
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	c := &Client{cfg: cfg, http: hc, now: time.Now, streams: make(map[*stream]struct{})}
	if _, err := c.BearerToken(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

// BearerToken returns the JWT, refreshing it through TokenSource when set.
func (c *Client) BearerToken(ctx context.Context) (string, error) {
	if c.cfg.TokenSource != nil {
		token, err := c.cfg.TokenSource(ctx)
		if err != nil {
			return "", errors.Wrap(errors.Join(exception.ErrVenueAuth, err), "refresh jwt").With("wallet", c.cfg.Wallet)
		}
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
		return token, nil
	}
	if c.cfg.JWT == "" {
		return "", errors.Wrap(errors.Join(exception.ErrVenueAuth, exception.ErrMissingCredential), "jwt").With("wallet", c.cfg.Wallet)
	}
	return c.cfg.JWT, nil
}

// Close shuts every fill stream down. REST needs no teardown.
func (c *Client) Close() error {
	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[*stream]struct{})
	c.closed = true
	c.mu.Unlock()
	for s := range streams {
		s.close()
	}
	return nil
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token
	}
	return c.cfg.JWT
}

// do sends one REST request. 401/403 map to ErrVenueAuth so the loop stops.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := sonic.ConfigFastest.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal body").With("path", path)
		}
		reader = bytes.NewReader(payload)
	}

	u := c.cfg.BaseURL + path
	if len(query) != 0 {
		u += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "new request").With("path", path)
	}
	r.Header.Set("Accept", "application/json")
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(r)
	if err != nil {
		return errors.Wrap(errors.Join(exception.ErrVenueUnavailable, err), method).With("path", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read body").With("path", path)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(exception.ErrVenueAuth, "%s %s status %d: %s", method, path, resp.StatusCode, apiMessage(data))
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return errors.Wrapf(exception.ErrVenueUnavailable, "%s %s status %d: %s", method, path, resp.StatusCode, apiMessage(data))
	case resp.StatusCode >= http.StatusBadRequest:
		return errors.Wrapf(exception.ErrUnexpectedStatus, "%s %s status %d: %s", method, path, resp.StatusCode, apiMessage(data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.ConfigFastest.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "unmarshal response").With("path", path)
	}
	return nil
}

func apiMessage(data []byte) string {
	var e apiError
	if err := sonic.ConfigFastest.Unmarshal(data, &e); err == nil && (e.Error != "" || e.Message != "") {
		return strings.TrimSpace(e.Error + " " + e.Message)
	}
	if len(data) > 256 {
		data = data[:256]
	}
	return string(data)
}
