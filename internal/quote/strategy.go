package quote

import (
	"github.com/shopspring/decimal"

	"mmhedge/internal/book"
	"mmhedge/internal/enum"
	"mmhedge/internal/errors"
	"mmhedge/pkg/exception"
)

// Order is a quote the strategy wants resting on the venue.
type Order struct {
	Side     enum.OrderSide
	Price    decimal.Decimal
	Size     decimal.Decimal
	Notional decimal.Decimal
}

// Input is everything a strategy may look at for one tick.
type Input struct {
	Book     book.Book
	Position decimal.Decimal
	Balance  decimal.Decimal
}

// Quotes is the desired order set for one market.
type Quotes struct {
	Buys  []Order
	Sells []Order
}

// All returns buys followed by sells.
func (q Quotes) All() []Order {
	out := make([]Order, 0, len(q.Buys)+len(q.Sells))
	out = append(out, q.Buys...)
	return append(out, q.Sells...)
}

func (q Quotes) Empty() bool {
	return len(q.Buys) == 0 && len(q.Sells) == 0
}

// Strategy turns a market snapshot into desired orders. It must be pure.
// ok is false when nothing should be quoted this tick.
type Strategy interface {
	Name() string
	Params() Params
	ComputeQuotes(in Input) (q Quotes, ok bool)
}

type factory func(Params) (Strategy, error)

var catalog = map[string]factory{
	VampName: func(p Params) (Strategy, error) { return NewVamp(p) },
}

// New builds the named strategy. Unknown names and invalid params fail.
func New(name string, p Params) (Strategy, error) {
	f, ok := catalog[name]
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownStrategy, "strategy %q", name)
	}
	return f(p)
}

// Registered reports whether name is in the catalog.
func Registered(name string) bool {
	_, ok := catalog[name]
	return ok
}
