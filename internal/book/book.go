package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"mmhedge/internal/errors"
	"mmhedge/pkg/exception"
)

// Level is one price/size rung of a ladder.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book is an immutable snapshot of one instrument's ladders.
// Bids are sorted descending and asks ascending.
type Book struct {
	bids []Level
	asks []Level
}

// FromLevels builds a book from raw venue levels. Malformed levels are dropped.
// A side that had levels on input but none left after dropping, or a crossed
// result, is reported as ErrInvalidBook.
func FromLevels(bids, asks []Level) (Book, error) {
	b := Book{
		bids: clean(bids),
		asks: clean(asks),
	}
	if len(bids) != 0 && len(b.bids) == 0 {
		return Book{}, errors.Wrap(exception.ErrInvalidBook, "no valid bid levels")
	}
	if len(asks) != 0 && len(b.asks) == 0 {
		return Book{}, errors.Wrap(exception.ErrInvalidBook, "no valid ask levels")
	}

	sort.SliceStable(b.bids, func(i, j int) bool { return b.bids[i].Price.GreaterThan(b.bids[j].Price) })
	sort.SliceStable(b.asks, func(i, j int) bool { return b.asks[i].Price.LessThan(b.asks[j].Price) })

	if len(b.bids) != 0 && len(b.asks) != 0 && b.bids[0].Price.GreaterThanOrEqual(b.asks[0].Price) {
		return Book{}, errors.Wrapf(exception.ErrInvalidBook, "crossed book bid %s ask %s", b.bids[0].Price, b.asks[0].Price)
	}

	return b, nil
}

func clean(levels []Level) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if !l.Price.IsPositive() || !l.Size.IsPositive() {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Empty reports whether either side has no levels.
func (b Book) Empty() bool {
	return len(b.bids) == 0 || len(b.asks) == 0
}

func (b Book) BestBid() (decimal.Decimal, bool) {
	if len(b.bids) == 0 {
		return decimal.Zero, false
	}
	return b.bids[0].Price, true
}

func (b Book) BestAsk() (decimal.Decimal, bool) {
	if len(b.asks) == 0 {
		return decimal.Zero, false
	}
	return b.asks[0].Price, true
}

// Depth returns the number of bid and ask levels.
func (b Book) Depth() (int, int) {
	return len(b.bids), len(b.asks)
}

var two = decimal.NewFromInt(2)

// Mid returns the average of best bid and best ask.
func (b Book) Mid() (decimal.Decimal, bool) {
	if b.Empty() {
		return decimal.Zero, false
	}
	return b.bids[0].Price.Add(b.asks[0].Price).Div(two), true
}

// ReferencePrice returns the volume adjusted mid for targetNotional: each side
// is walked until its cumulative notional reaches the target, the final level
// only contributing the size still needed. A side thinner than the target is
// weighted across all of its levels. Falls back to Mid for a non-positive target.
func (b Book) ReferencePrice(targetNotional decimal.Decimal) (decimal.Decimal, bool) {
	if b.Empty() {
		return decimal.Zero, false
	}
	if !targetNotional.IsPositive() {
		return b.Mid()
	}
	bid, ok := weightedPrice(b.bids, targetNotional)
	if !ok {
		return b.Mid()
	}
	ask, ok := weightedPrice(b.asks, targetNotional)
	if !ok {
		return b.Mid()
	}
	ref := bid.Add(ask).Div(two)
	// a lopsided book can pull the average outside the touch
	if ref.LessThan(b.bids[0].Price) {
		ref = b.bids[0].Price
	}
	if ref.GreaterThan(b.asks[0].Price) {
		ref = b.asks[0].Price
	}
	return ref, true
}

// SideSpread returns the gap between the ask and bid weighted prices for
// targetNotional. It never shrinks as targetNotional grows.
func (b Book) SideSpread(targetNotional decimal.Decimal) (decimal.Decimal, bool) {
	if b.Empty() || !targetNotional.IsPositive() {
		return decimal.Zero, false
	}
	bid, ok := weightedPrice(b.bids, targetNotional)
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := weightedPrice(b.asks, targetNotional)
	if !ok {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// weightedPrice never moves toward the touch as target grows, since every
// extra unit of size is taken at a price no better than the ones before it.
func weightedPrice(levels []Level, target decimal.Decimal) (decimal.Decimal, bool) {
	var (
		notional = decimal.Zero
		size     = decimal.Zero
	)
	for _, l := range levels {
		levelNotional := l.Price.Mul(l.Size)
		remaining := target.Sub(notional)
		if levelNotional.GreaterThanOrEqual(remaining) {
			take := remaining.Div(l.Price)
			notional = notional.Add(take.Mul(l.Price))
			size = size.Add(take)
			break
		}
		notional = notional.Add(levelNotional)
		size = size.Add(l.Size)
	}
	if !size.IsPositive() {
		return decimal.Zero, false
	}
	return notional.Div(size), true
}
