package quote

import (
	"math"

	"github.com/shopspring/decimal"

	"mmhedge/internal/enum"
)

const VampName = "vamp_mm"

var (
	one      = decimal.NewFromInt(1)
	two      = decimal.NewFromInt(2)
	bpsDenom = decimal.NewFromInt(10_000)
)

// Vamp quotes around the volume adjusted mid, skewed against inventory.
type Vamp struct {
	params Params
}

// NewVamp applies defaults and validates p.
func NewVamp(p Params) (*Vamp, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Vamp{params: p}, nil
}

func (v *Vamp) Name() string { return VampName }

func (v *Vamp) Params() Params { return v.params }

// SkewBps is tanh(position*reference/orderValue)*maxBps. The magnitude stays
// strictly below maxBps even where float64 tanh rounds to one.
func SkewBps(position, reference, orderValue, maxBps decimal.Decimal) decimal.Decimal {
	if !orderValue.IsPositive() || maxBps.IsZero() || position.IsZero() {
		return decimal.Zero
	}
	ratio := position.Mul(reference).Div(orderValue).InexactFloat64()
	t := math.Tanh(ratio)
	if t >= 1 {
		t = math.Nextafter(1, 0)
	} else if t <= -1 {
		t = math.Nextafter(-1, 0)
	}
	return decimal.NewFromFloat(t).Mul(maxBps)
}

func (v *Vamp) ComputeQuotes(in Input) (Quotes, bool) {
	p := v.params
	ref, ok := in.Book.ReferencePrice(p.OrderValue)
	if !ok || !ref.IsPositive() {
		return Quotes{}, false
	}

	skew := SkewBps(in.Position, ref, p.OrderValue, p.InventorySkewBps)
	adjustedMid := ref.Mul(one.Sub(skew.Div(bpsDenom)))

	halfSpread := ref.Mul(p.BaseSpreadBps).Div(bpsDenom).Div(two)
	minSpread := decimal.Max(p.MinSpread, p.PriceTick)
	if halfSpread.Mul(two).LessThan(minSpread) {
		halfSpread = minSpread.Div(two)
	}

	// rounding outward keeps the spread at or above minSpread.
	bid := truncateToStep(adjustedMid.Sub(halfSpread), p.PriceTick)
	ask := ceilToStep(adjustedMid.Add(halfSpread), p.PriceTick)

	if bestAsk, ok := in.Book.BestAsk(); ok && bid.GreaterThanOrEqual(bestAsk) {
		bid = bestAsk.Sub(p.PriceTick)
	}
	if bestBid, ok := in.Book.BestBid(); ok && ask.LessThanOrEqual(bestBid) {
		ask = bestBid.Add(p.PriceTick)
	}
	if !bid.IsPositive() || !ask.IsPositive() || bid.GreaterThanOrEqual(ask) {
		return Quotes{}, false
	}

	step := decimal.Max(roundToStep(halfSpread.Mul(two), p.PriceTick), p.PriceTick)

	var q Quotes
	switch {
	case in.Position.GreaterThan(p.DustThreshold):
		q.Sells = v.ladder(enum.OrderSideSell, ask, step)
	case in.Position.LessThan(p.DustThreshold.Neg()):
		q.Buys = v.ladder(enum.OrderSideBuy, bid, step)
	default:
		q.Buys = v.ladder(enum.OrderSideBuy, bid, step)
		q.Sells = v.ladder(enum.OrderSideSell, ask, step)
	}
	if q.Empty() {
		return Quotes{}, false
	}
	return q, true
}

// ladder walks away from the touch by step per extra level. Levels whose
// size truncates to zero or whose price is not positive are skipped.
func (v *Vamp) ladder(side enum.OrderSide, touch, step decimal.Decimal) []Order {
	p := v.params
	orders := make([]Order, 0, p.OrdersPerSide)
	for i := 0; i < p.OrdersPerSide; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		price := touch.Add(offset)
		if side == enum.OrderSideBuy {
			price = touch.Sub(offset)
		}
		if !price.IsPositive() {
			break
		}
		size := truncateToStep(p.OrderValue.Div(price), p.SizeStep)
		if !size.IsPositive() {
			continue
		}
		orders = append(orders, Order{
			Side:     side,
			Price:    price,
			Size:     size,
			Notional: price.Mul(size),
		})
	}
	return orders
}

func roundToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Round(0).Mul(step)
}

func truncateToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Floor().Mul(step)
}

func ceilToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Ceil().Mul(step)
}
