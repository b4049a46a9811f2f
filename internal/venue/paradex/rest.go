package paradex

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	ydecimal "github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"mmhedge/internal/book"
	"mmhedge/internal/enum"
	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

func (c *Client) FetchOrderBook(ctx context.Context, market string, depth int) (venue.BookSnapshot, error) {
	query := url.Values{}
	if depth > 0 {
		query.Set("depth", strconv.Itoa(depth))
	}

	var resp orderBookResponse
	if err := c.do(ctx, http.MethodGet, "/orderbook/"+url.PathEscape(market), query, nil, &resp); err != nil {
		return venue.BookSnapshot{}, err
	}

	snap := venue.BookSnapshot{
		Market: market,
		Bids:   levels(resp.Bids),
		Asks:   levels(resp.Asks),
		At:     time.UnixMilli(resp.LastUpdatedAt),
	}
	if resp.LastUpdatedAt == 0 {
		snap.At = c.now()
	}
	return snap, nil
}

// levels converts wire rows; malformed rows are kept as zero levels so the
// book layer drops them.
func levels(rows [][]ydecimal.Decimal) []book.Level {
	out := make([]book.Level, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, book.Level{
			Price: parse(row[0].String()),
			Size:  parse(row[1].String()),
		})
	}
	return out
}

func (c *Client) FetchPositions(ctx context.Context) ([]venue.Position, error) {
	var resp results[positionResponse]
	if err := c.do(ctx, http.MethodGet, "/positions", nil, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]venue.Position, 0, len(resp.Results))
	for _, p := range resp.Results {
		if p.Status != "" && p.Status != "OPEN" {
			continue
		}
		size := parse(p.Size)
		if enum.ParseOrderSide(p.Side) == enum.OrderSideSell && size.IsPositive() {
			size = size.Neg()
		}
		out = append(out, venue.Position{Market: p.Market, Size: size})
	}
	return out, nil
}

func (c *Client) FetchBalance(ctx context.Context) (venue.Balance, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/account", nil, nil, &resp); err != nil {
		return venue.Balance{}, err
	}
	return venue.Balance{FreeCollateral: parse(resp.FreeCollateral)}, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req venue.OrderRequest) (string, error) {
	if !req.Side.IsAvailable() || !req.Size.IsPositive() || !req.Price.IsPositive() {
		return "", exception.ErrOrderInvalidRequest
	}

	body := orderRequest{
		Market:      req.Market,
		Side:        req.Side.String(),
		Type:        "LIMIT",
		Size:        req.Size.String(),
		Price:       req.Price.String(),
		Instruction: enum.OrderTimeInForceGTC.String(),
		ClientID:    req.ClientID,
	}
	if req.PostOnly {
		body.Instruction = enum.OrderTimeInForcePostOnly.String()
	}
	if c.cfg.Signer != nil {
		ts := c.now().UnixMilli()
		sig, err := c.cfg.Signer(ctx, req, ts)
		if err != nil {
			return "", errors.Wrap(err, "sign order").With("client_id", req.ClientID)
		}
		body.Signature = sig
		body.SignatureTimestamp = ts
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", exception.ErrOrderEmptyResponseOrderID
	}
	return resp.ID, nil
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	if id == "" {
		return exception.ErrOrderInvalidRequest
	}
	return c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) FetchOpenOrders(ctx context.Context, market string) ([]venue.LiveOrder, error) {
	query := url.Values{}
	query.Set("market", market)

	var resp results[orderResponse]
	if err := c.do(ctx, http.MethodGet, "/orders", query, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]venue.LiveOrder, 0, len(resp.Results))
	for _, o := range resp.Results {
		status := enum.ParseOrderStatus(o.Status)
		if status != enum.OrderStatusOpen {
			continue
		}
		size := parse(o.Size)
		filled := decimal.Zero
		if o.RemainingSize != "" {
			filled = size.Sub(parse(o.RemainingSize))
		}
		lo := venue.LiveOrder{
			ID:         o.ID,
			ClientID:   o.ClientID,
			Market:     o.Market,
			Side:       enum.ParseOrderSide(o.Side),
			Price:      parse(o.Price),
			Size:       size,
			FilledSize: filled,
			Status:     status,
		}
		if o.CreatedAt > 0 {
			lo.CreatedAt = time.UnixMilli(o.CreatedAt)
		}
		out = append(out, lo)
	}
	return out, nil
}

func (c *Client) FetchMarket(ctx context.Context, market string) (venue.MarketInfo, error) {
	query := url.Values{}
	query.Set("market", market)

	var resp results[marketResponse]
	if err := c.do(ctx, http.MethodGet, "/markets", query, nil, &resp); err != nil {
		return venue.MarketInfo{}, err
	}
	for _, m := range resp.Results {
		if m.Symbol != market {
			continue
		}
		return venue.MarketInfo{
			Market:    market,
			PriceTick: parse(m.PriceTickSize),
			SizeStep:  parse(m.OrderSizeIncrement),
		}, nil
	}
	return venue.MarketInfo{}, errors.Wrap(exception.ErrUnknownTopic, "market not listed").With("market", market)
}

func parse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
