package hyperliquid

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

const (
	Name = "hyperliquid"

	_hyperliquidBaseUrl        = "https://api.hyperliquid.xyz"
	_hyperliquidBaseUrlTestnet = "https://api.hyperliquid-testnet.xyz"

	defaultTimeout = 20 * time.Second
)

// DefaultMarketSlippage bounds the IOC price used to emulate market orders.
var DefaultMarketSlippage = decimal.New(5, -2)

var _ venue.HedgeVenue = (*Client)(nil)

// Signer signs an exchange action. The default signs with HMAC-SHA256 over
// nonce followed by the action JSON.
type Signer func(action []byte, nonce int64) (string, error)

// Config defines the hedge account.
type Config struct {
	Testnet        bool
	BaseURL        string
	Account        string
	Secret         string
	Signer         Signer
	MarketSlippage decimal.Decimal
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// Client places IOC hedges and reads positions.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu    sync.Mutex
	metas map[string]assetMeta
}

type assetMeta struct {
	index      int
	szDecimals int32
}

// New creates a client. Account and a signer or secret are required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = _hyperliquidBaseUrl
		if cfg.Testnet {
			cfg.BaseURL = _hyperliquidBaseUrlTestnet
		}
	}
	if cfg.Account == "" {
		return nil, errors.Wrap(exception.ErrMissingCredential, "hyperliquid account")
	}
	if cfg.Signer == nil {
		if cfg.Secret == "" {
			return nil, errors.Wrap(exception.ErrMissingCredential, "hyperliquid secret")
		}
		cfg.Signer = hmacSigner(cfg.Secret)
	}
	if !cfg.MarketSlippage.IsPositive() {
		cfg.MarketSlippage = DefaultMarketSlippage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, http: hc, now: time.Now}, nil
}

func (c *Client) Name() string { return Name }

// Coin converts a primary venue market into the hedge coin, ETH-USD-PERP -> ETH.
func Coin(market string) string {
	coin, _, _ := strings.Cut(market, "-")
	return strings.ToUpper(coin)
}

func hmacSigner(secret string) Signer {
	return func(action []byte, nonce int64) (string, error) {
		mac := hmac.New(sha256.New, []byte(secret))
		_, _ = fmt.Fprintf(mac, "%d", nonce)
		_, _ = mac.Write(action)
		return hex.EncodeToString(mac.Sum(nil)), nil
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal body").With("path", path)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "new request").With("path", path)
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(r)
	if err != nil {
		return errors.Wrap(errors.Join(exception.ErrVenueUnavailable, err), "post").With("path", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read body").With("path", path)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(exception.ErrVenueAuth, "post %s status %d: %s", path, resp.StatusCode, data)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return errors.Wrapf(exception.ErrVenueUnavailable, "post %s status %d: %s", path, resp.StatusCode, data)
	case resp.StatusCode >= http.StatusBadRequest:
		return errors.Wrapf(exception.ErrUnexpectedStatus, "post %s status %d: %s", path, resp.StatusCode, data)
	}

	if err := sonic.ConfigFastest.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "unmarshal response").With("path", path)
	}
	return nil
}
