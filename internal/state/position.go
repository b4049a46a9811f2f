package state

import (
	"github.com/shopspring/decimal"

	"mmhedge/internal/enum"
)

// PositionBook keeps signed positions per symbol from locally executed trades.
// It is the optimistic hedge-venue bookkeeping; it is not safe for concurrent use.
type PositionBook struct {
	positions map[string]decimal.Decimal
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]decimal.Decimal)}
}

// Apply moves symbol by size in the direction of side and returns the new position.
func (b *PositionBook) Apply(symbol string, side enum.OrderSide, size decimal.Decimal) decimal.Decimal {
	next := b.positions[symbol].Add(size.Mul(side.Sign()))
	b.positions[symbol] = next
	return next
}

// Set replaces the position of symbol, typically from a venue query.
func (b *PositionBook) Set(symbol string, size decimal.Decimal) {
	b.positions[symbol] = size
}

// Position returns the current position of symbol.
func (b *PositionBook) Position(symbol string) decimal.Decimal {
	return b.positions[symbol]
}
