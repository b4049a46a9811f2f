package paper

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

const HedgeName = "paper-hedge"

var _ venue.HedgeVenue = (*HedgeVenue)(nil)

// HedgeVenue is an in-memory hedge venue that fills every order in full.
// Repeated client ids are acknowledged once.
type HedgeVenue struct {
	mu        sync.Mutex
	positions map[string]decimal.Decimal
	orders    []venue.HedgeOrder
	acks      map[string]venue.HedgeAck
	err       error
	posErr    error
	reject    bool
	seq       uint64
}

func NewHedgeVenue() *HedgeVenue {
	return &HedgeVenue{
		positions: make(map[string]decimal.Decimal),
		acks:      make(map[string]venue.HedgeAck),
	}
}

func (h *HedgeVenue) Name() string { return HedgeName }

func (h *HedgeVenue) SetPosition(symbol string, size decimal.Decimal) {
	h.mu.Lock()
	h.positions[symbol] = size
	h.mu.Unlock()
}

// Fail makes PlaceHedge return err until cleared with nil.
func (h *HedgeVenue) Fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// FailPositions makes GetPosition return err until cleared with nil.
func (h *HedgeVenue) FailPositions(err error) {
	h.mu.Lock()
	h.posErr = err
	h.mu.Unlock()
}

// Reject makes PlaceHedge acknowledge with a rejected status.
func (h *HedgeVenue) Reject(reject bool) {
	h.mu.Lock()
	h.reject = reject
	h.mu.Unlock()
}

// Orders returns every distinct order executed so far.
func (h *HedgeVenue) Orders() []venue.HedgeOrder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]venue.HedgeOrder(nil), h.orders...)
}

func (h *HedgeVenue) GetPosition(_ context.Context, symbol string) (decimal.Decimal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.posErr != nil {
		return decimal.Zero, h.posErr
	}
	return h.positions[symbol], nil
}

func (h *HedgeVenue) PlaceHedge(_ context.Context, order venue.HedgeOrder) (venue.HedgeAck, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return venue.HedgeAck{}, h.err
	}
	if order.Symbol == "" || !order.Side.IsAvailable() || !order.Size.IsPositive() {
		return venue.HedgeAck{}, exception.ErrOrderInvalidRequest
	}
	if ack, ok := h.acks[order.ClientID]; ok && order.ClientID != "" {
		return ack, nil
	}
	if h.reject {
		return venue.HedgeAck{Status: venue.HedgeStatusRejected}, nil
	}

	h.seq++
	ack := venue.HedgeAck{Status: venue.HedgeStatusFilled, ID: "H" + strconv.FormatUint(h.seq, 10)}
	h.positions[order.Symbol] = h.positions[order.Symbol].Add(order.Size.Mul(order.Side.Sign()))
	h.orders = append(h.orders, order)
	if order.ClientID != "" {
		h.acks[order.ClientID] = ack
	}
	return ack, nil
}
