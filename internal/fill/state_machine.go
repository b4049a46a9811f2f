package fill

import (
	"time"

	"github.com/shopspring/decimal"

	"mmhedge/internal/enum"
	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

// OrderState tracks the fill lifecycle of an order.
type OrderState uint8

const (
	OrderStateUnknown OrderState = iota
	OrderStateOpen
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCancelled
)

func (s OrderState) String() string {
	switch s {
	case OrderStateOpen:
		return "open"
	case OrderStatePartFilled:
		return "part_filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no more fills are expected.
func (s OrderState) Terminal() bool {
	return s == OrderStateFilled || s == OrderStateCancelled
}

// Order holds the tracker's view of an order. A zero Size means the venue
// never told us the original size.
type Order struct {
	ID       string
	Market   string
	Side     enum.OrderSide
	Price    decimal.Decimal
	Size     decimal.Decimal
	Filled   decimal.Decimal
	State    OrderState
	ClosedAt time.Time

	VanishedAt time.Time
}

// Remaining is the unfilled size. ok is false when Size is unknown.
func (o *Order) Remaining() (decimal.Decimal, bool) {
	if !o.Size.IsPositive() {
		return decimal.Zero, false
	}
	r := o.Size.Sub(o.Filled)
	if r.IsNegative() {
		return decimal.Zero, true
	}
	return r, true
}

// StateMachine updates orders from track, fill and cancel events.
type StateMachine struct {
	orders map[string]*Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[string]*Order)}
}

// Order returns the current order state.
func (m *StateMachine) Order(id string) (*Order, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// Track creates an Open order, or fills in a size that was unknown.
func (m *StateMachine) Track(lo venue.LiveOrder) *Order {
	if o, ok := m.orders[lo.ID]; ok {
		if !o.Size.IsPositive() && lo.Size.IsPositive() {
			o.Size = lo.Size
		}
		if !o.Side.IsAvailable() {
			o.Side = lo.Side
		}
		return o
	}
	o := &Order{
		ID:     lo.ID,
		Market: lo.Market,
		Side:   lo.Side,
		Price:  lo.Price,
		Size:   lo.Size,
		State:  OrderStateOpen,
	}
	m.orders[o.ID] = o
	return o
}

// Adopt tracks an order first seen in an open-order snapshot. Whatever it had
// filled by then is taken as accounted for.
func (m *StateMachine) Adopt(lo venue.LiveOrder) *Order {
	o := m.Track(lo)
	if lo.FilledSize.GreaterThan(o.Filled) {
		o.Filled = lo.FilledSize
		o.State = OrderStatePartFilled
	}
	return o
}

// ApplyFill adds qty to the accounted filled size of id.
func (m *StateMachine) ApplyFill(id string, qty decimal.Decimal, now time.Time) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, exception.ErrUnknownOrder
	}
	if o.State == OrderStateFilled {
		return o, exception.ErrInvalidTransition
	}
	if !qty.IsPositive() {
		return o, exception.ErrInvalidFill
	}
	o.Filled = o.Filled.Add(qty)
	if r, known := o.Remaining(); known && !r.IsPositive() {
		o.State = OrderStateFilled
		o.ClosedAt = now
	} else if o.State != OrderStateCancelled {
		o.State = OrderStatePartFilled
	}
	return o, nil
}

// Cancel moves an open order to Cancelled. Fills racing the cancel are still
// accepted by ApplyFill.
func (m *StateMachine) Cancel(id string, now time.Time) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, exception.ErrUnknownOrder
	}
	if o.State.Terminal() {
		return o, exception.ErrInvalidTransition
	}
	o.State = OrderStateCancelled
	o.ClosedAt = now
	return o, nil
}

// Forget drops id.
func (m *StateMachine) Forget(id string) {
	delete(m.orders, id)
}
