package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"mmhedge/internal/book"
	"mmhedge/internal/enum"
)

// BookSnapshot is a raw ladder as returned by a market data source.
type BookSnapshot struct {
	Market string
	Bids   []book.Level
	Asks   []book.Level
	At     time.Time
}

// LiveOrder is the venue's view of one of our resting orders.
type LiveOrder struct {
	ID         string
	ClientID   string
	Market     string
	Side       enum.OrderSide
	Price      decimal.Decimal
	Size       decimal.Decimal
	FilledSize decimal.Decimal
	CreatedAt  time.Time
	Status     enum.OrderStatus
}

// Remaining is the unfilled size, never negative.
func (o LiveOrder) Remaining() decimal.Decimal {
	r := o.Size.Sub(o.FilledSize)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Position is a signed base quantity on one market.
type Position struct {
	Market string
	Size   decimal.Decimal
}

type Balance struct {
	FreeCollateral decimal.Decimal
}

// MarketInfo carries the venue's precision for a market.
type MarketInfo struct {
	Market    string
	PriceTick decimal.Decimal
	SizeStep  decimal.Decimal
	MinSize   decimal.Decimal
}

// OrderRequest places one limit order.
type OrderRequest struct {
	Market   string
	Side     enum.OrderSide
	Price    decimal.Decimal
	Size     decimal.Decimal
	PostOnly bool
	ClientID string
}

// FillMessage is one push notification from the fill stream.
// TradeID or CumulativeSize identifies the increment and at least one must be
// set. Messages with neither are dropped by the fill tracker.
type FillMessage struct {
	TradeID        string
	OrderID        string
	Market         string
	Side           enum.OrderSide
	Size           decimal.Decimal
	Price          decimal.Decimal
	CumulativeSize decimal.Decimal
	At             time.Time
}

// HedgeOrder is what the hedge coordinator sends to a hedge venue.
// A zero Price means a market order.
type HedgeOrder struct {
	Symbol   string
	Side     enum.OrderSide
	Size     decimal.Decimal
	Price    decimal.Decimal
	TIF      enum.OrderTimeInForce
	ClientID string
}

// HedgeAck is the hedge venue response.
type HedgeAck struct {
	Status string
	ID     string
}

const (
	HedgeStatusAccepted = "accepted"
	HedgeStatusFilled   = "filled"
	HedgeStatusRejected = "rejected"
)

type MarketData interface {
	FetchOrderBook(ctx context.Context, market string, depth int) (BookSnapshot, error)
}

type Account interface {
	FetchPositions(ctx context.Context) ([]Position, error)
	FetchBalance(ctx context.Context) (Balance, error)
}

type Orders interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, id string) error
	FetchOpenOrders(ctx context.Context, market string) ([]LiveOrder, error)
}

type Markets interface {
	FetchMarket(ctx context.Context, market string) (MarketInfo, error)
}

// FillStream yields fills until the returned channel is closed, which means
// the stream failed or ctx ended.
type FillStream interface {
	SubscribeFills(ctx context.Context, market string, token string) (<-chan FillMessage, error)
}

// Authenticator exposes the bearer token the fill stream needs.
type Authenticator interface {
	BearerToken(ctx context.Context) (string, error)
}

// Client is everything a trader loop needs from the primary venue.
type Client interface {
	Name() string
	MarketData
	Account
	Orders
	Markets
	FillStream
	Authenticator
	Close() error
}

// HedgeVenue is the secondary venue fills are mirrored on.
type HedgeVenue interface {
	Name() string
	GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceHedge(ctx context.Context, order HedgeOrder) (HedgeAck, error)
}

// PositionOf picks market out of positions, zero when absent.
func PositionOf(positions []Position, market string) decimal.Decimal {
	for _, p := range positions {
		if p.Market == market {
			return p.Size
		}
	}
	return decimal.Zero
}
