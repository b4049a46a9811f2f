package fill

import (
	"time"

	"github.com/shopspring/decimal"

	"mmhedge/internal/enum"
)

// Event is one exactly-once fill increment.
type Event struct {
	OrderID     string
	FillID      string
	Market      string
	Side        enum.OrderSide
	DeltaSize   decimal.Decimal
	Price       decimal.Decimal
	SourceVenue string
	At          time.Time
}

// Key identifies the increment across push and poll detection.
func (e Event) Key() string {
	return e.OrderID + "/" + e.FillID
}

// SignedDelta is the change this fill made to the primary position.
func (e Event) SignedDelta() decimal.Decimal {
	return e.DeltaSize.Mul(e.Side.Sign())
}
