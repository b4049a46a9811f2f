package hyperliquid

import (
	"context"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"mmhedge/internal/enum"
	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

const (
	priceSigFigs   = 5
	maxPriceDigits = 6
)

// GetPosition returns the signed size of coin, zero when flat.
func (c *Client) GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var state clearinghouseState
	if err := c.post(ctx, "/info", infoRequest{Type: "clearinghouseState", User: c.cfg.Account}, &state); err != nil {
		return decimal.Zero, err
	}

	for _, ap := range state.AssetPositions {
		if !strings.EqualFold(ap.Position.Coin, symbol) {
			continue
		}
		size, err := decimal.NewFromString(ap.Position.Szi)
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "parse szi").With("coin", symbol).With("szi", ap.Position.Szi)
		}
		return size, nil
	}
	return decimal.Zero, nil
}

// PlaceHedge sends an IOC order. Orders without a price are priced off the
// mid with MarketSlippage, which is how the venue emulates market orders.
func (c *Client) PlaceHedge(ctx context.Context, order venue.HedgeOrder) (venue.HedgeAck, error) {
	if !order.Side.IsAvailable() || !order.Size.IsPositive() || order.Symbol == "" {
		return venue.HedgeAck{}, errors.Wrap(exception.ErrOrderInvalidRequest, "hedge order").With("order", order)
	}

	meta, err := c.asset(ctx, order.Symbol)
	if err != nil {
		return venue.HedgeAck{}, err
	}

	price := order.Price
	if price.IsZero() {
		mid, err := c.mid(ctx, order.Symbol)
		if err != nil {
			return venue.HedgeAck{}, err
		}
		price = mid.Mul(decimal.NewFromInt(1).Add(order.Side.Sign().Mul(c.cfg.MarketSlippage)))
	}

	size := order.Size.Round(meta.szDecimals)
	if !size.IsPositive() {
		return venue.HedgeAck{}, errors.Wrap(exception.ErrOrderInvalidRequest, "size below lot").With("size", order.Size.String())
	}

	wire := orderWire{
		Asset: meta.index,
		IsBuy: order.Side == enum.OrderSideBuy,
		Price: RoundPrice(price, meta.szDecimals).String(),
		Size:  size.String(),
		Cloid: cloid(order.ClientID),
	}
	wire.Type.Limit.Tif = tif(order.TIF)

	action := orderAction{Type: "order", Orders: []orderWire{wire}, Grouping: "na"}
	raw, err := sonic.ConfigFastest.Marshal(action)
	if err != nil {
		return venue.HedgeAck{}, errors.Wrap(err, "marshal action")
	}
	nonce := c.now().UnixMilli()
	sig, err := c.cfg.Signer(raw, nonce)
	if err != nil {
		return venue.HedgeAck{}, errors.Wrap(err, "sign action")
	}

	var resp exchangeResponse
	if err := c.post(ctx, "/exchange", exchangeRequest{Action: action, Nonce: nonce, Signature: sig}, &resp); err != nil {
		return venue.HedgeAck{}, err
	}
	if resp.Status != "ok" {
		var msg string
		_ = sonic.ConfigFastest.Unmarshal(resp.Response, &msg)
		return venue.HedgeAck{}, errors.Wrapf(exception.ErrInResponseError, "exchange status %s: %s", resp.Status, msg)
	}

	var data orderResponseData
	if err := sonic.ConfigFastest.Unmarshal(resp.Response, &data); err != nil {
		return venue.HedgeAck{}, errors.Wrap(err, "unmarshal order response")
	}
	if len(data.Data.Statuses) == 0 {
		return venue.HedgeAck{}, errors.Wrap(exception.ErrOrderEmptyResponseOrderID, "no order status")
	}

	st := data.Data.Statuses[0]
	switch {
	case st.Filled != nil:
		return venue.HedgeAck{Status: venue.HedgeStatusFilled, ID: strconv.FormatInt(st.Filled.Oid, 10)}, nil
	case st.Resting != nil:
		return venue.HedgeAck{Status: venue.HedgeStatusAccepted, ID: strconv.FormatInt(st.Resting.Oid, 10)}, nil
	default:
		return venue.HedgeAck{Status: venue.HedgeStatusRejected, ID: st.Error}, nil
	}
}

func (c *Client) asset(ctx context.Context, coin string) (assetMeta, error) {
	coin = strings.ToUpper(coin)

	c.mu.Lock()
	meta, ok := c.metas[coin]
	c.mu.Unlock()
	if ok {
		return meta, nil
	}

	var resp metaResponse
	if err := c.post(ctx, "/info", infoRequest{Type: "meta"}, &resp); err != nil {
		return assetMeta{}, err
	}

	metas := make(map[string]assetMeta, len(resp.Universe))
	for i, u := range resp.Universe {
		metas[strings.ToUpper(u.Name)] = assetMeta{index: i, szDecimals: u.SzDecimals}
	}

	c.mu.Lock()
	c.metas = metas
	c.mu.Unlock()

	meta, ok = metas[coin]
	if !ok {
		return assetMeta{}, errors.Wrap(exception.ErrUnknownTopic, "hyperliquid meta").With("coin", coin)
	}
	return meta, nil
}

func (c *Client) mid(ctx context.Context, coin string) (decimal.Decimal, error) {
	mids := map[string]string{}
	if err := c.post(ctx, "/info", infoRequest{Type: "allMids"}, &mids); err != nil {
		return decimal.Zero, err
	}
	raw, ok := mids[strings.ToUpper(coin)]
	if !ok {
		return decimal.Zero, errors.Wrap(exception.ErrUnknownTopic, "hyperliquid mid").With("coin", coin)
	}
	mid, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse mid").With("coin", coin)
	}
	return mid, nil
}

// RoundPrice keeps at most five significant figures and 6-szDecimals
// decimals. Integer prices are always accepted.
func RoundPrice(p decimal.Decimal, szDecimals int32) decimal.Decimal {
	if p.IsZero() {
		return p
	}
	digits := int32(len(p.Coefficient().String()))
	if p.Coefficient().Sign() < 0 {
		digits--
	}
	lead := digits + p.Exponent() - 1
	places := int32(priceSigFigs-1) - lead
	places = min(places, maxPriceDigits-szDecimals)
	places = max(places, 0)
	return p.Round(places)
}

func tif(t enum.OrderTimeInForce) string {
	switch t {
	case enum.OrderTimeInForceGTC:
		return "Gtc"
	case enum.OrderTimeInForcePostOnly:
		return "Alo"
	default:
		return "Ioc"
	}
}

// cloid turns a UUID client id into the 16-byte hex form the venue takes.
func cloid(clientID string) string {
	id, err := uuid.Parse(clientID)
	if err != nil {
		return ""
	}
	return "0x" + strings.ReplaceAll(id.String(), "-", "")
}
