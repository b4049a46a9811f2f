package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"mmhedge/internal/enum"
	"mmhedge/internal/quote"
	"mmhedge/internal/venue"
)

const (
	DefaultMaxAge = 60 * time.Second
)

// DefaultPriceEpsilon is the relative tolerance used to match prices.
var DefaultPriceEpsilon = decimal.New(1, -9)

// Options tunes matching between desired and live orders.
type Options struct {
	PriceEpsilon decimal.Decimal
	SizeEpsilon  decimal.Decimal
	MaxAge       time.Duration
}

func (o Options) withDefaults() Options {
	if !o.PriceEpsilon.IsPositive() {
		o.PriceEpsilon = DefaultPriceEpsilon
	}
	if o.SizeEpsilon.IsNegative() {
		o.SizeEpsilon = decimal.Zero
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	return o
}

// Plan is the minimal set of actions converging live orders to desired ones.
type Plan struct {
	Cancel []venue.LiveOrder
	Place  []quote.Order
	Keep   []venue.LiveOrder
}

// CancelIDs returns the venue ids in Cancel.
func (p Plan) CancelIDs() []string {
	ids := make([]string, 0, len(p.Cancel))
	for _, o := range p.Cancel {
		ids = append(ids, o.ID)
	}
	return ids
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return len(p.Cancel) == 0 && len(p.Place) == 0
}

// Reconcile compares desired against live. A live order survives only when it
// matches an unused desired order on side, price (relative epsilon) and
// remaining size and is younger than MaxAge. Placements for a side happen only
// once every live order on that side is being cancelled, so a side that needs
// any new order is rebuilt whole. An empty desired set cancels everything.
func Reconcile(desired []quote.Order, live []venue.LiveOrder, opt Options, now time.Time) Plan {
	opt = opt.withDefaults()

	var (
		plan    Plan
		used    = make([]bool, len(desired))
		kept    = make(map[enum.OrderSide][]venue.LiveOrder, 2)
		pending = make(map[enum.OrderSide]bool, 2)
	)

	for _, o := range live {
		if o.Status.IsAvailable() && o.Status != enum.OrderStatusOpen {
			continue
		}
		if stale(o, now, opt.MaxAge) {
			plan.Cancel = append(plan.Cancel, o)
			continue
		}
		idx := match(desired, used, o, opt)
		if idx < 0 {
			plan.Cancel = append(plan.Cancel, o)
			continue
		}
		used[idx] = true
		kept[o.Side] = append(kept[o.Side], o)
	}

	for i, d := range desired {
		if !used[i] {
			pending[d.Side] = true
		}
	}

	for _, side := range []enum.OrderSide{enum.OrderSideBuy, enum.OrderSideSell} {
		if !pending[side] {
			plan.Keep = append(plan.Keep, kept[side]...)
			continue
		}
		plan.Cancel = append(plan.Cancel, kept[side]...)
		for _, d := range desired {
			if d.Side == side {
				plan.Place = append(plan.Place, d)
			}
		}
	}

	return plan
}

func stale(o venue.LiveOrder, now time.Time, maxAge time.Duration) bool {
	if o.CreatedAt.IsZero() || now.IsZero() {
		return false
	}
	return now.Sub(o.CreatedAt) >= maxAge
}

func match(desired []quote.Order, used []bool, o venue.LiveOrder, opt Options) int {
	for i, d := range desired {
		if used[i] || d.Side != o.Side {
			continue
		}
		if !priceEqual(d.Price, o.Price, opt.PriceEpsilon) {
			continue
		}
		if d.Size.Sub(o.Remaining()).Abs().GreaterThan(opt.SizeEpsilon) {
			continue
		}
		return i
	}
	return -1
}

func priceEqual(a, b, eps decimal.Decimal) bool {
	scale := decimal.Max(a.Abs(), b.Abs())
	if scale.IsZero() {
		return true
	}
	return a.Sub(b).Abs().LessThanOrEqual(scale.Mul(eps))
}
