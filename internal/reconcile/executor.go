package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"mmhedge/internal/enum"
	"mmhedge/internal/errors"
	"mmhedge/internal/obs"
	"mmhedge/internal/risk"
	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

// Result reports what Apply actually did.
type Result struct {
	Cancelled []string
	Placed    []venue.LiveOrder
	Skipped   int
	Errors    []error
}

// Failed reports whether any venue call failed.
func (r Result) Failed() bool {
	return len(r.Errors) != 0
}

// Executor applies plans against a venue. Writes are never retried.
type Executor struct {
	venue    string
	orders   venue.Orders
	risk     *risk.Engine
	metrics  *obs.Metrics
	postOnly bool
	prefix   string
	now      func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

func WithRisk(e *risk.Engine) ExecutorOption {
	return func(x *Executor) { x.risk = e }
}

func WithMetrics(m *obs.Metrics) ExecutorOption {
	return func(x *Executor) { x.metrics = m }
}

func WithPostOnly(postOnly bool) ExecutorOption {
	return func(x *Executor) { x.postOnly = postOnly }
}

// WithClientIDPrefix namespaces client order ids so loops never share them.
func WithClientIDPrefix(prefix string) ExecutorOption {
	return func(x *Executor) { x.prefix = prefix }
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(x *Executor) { x.now = now }
}

// NewExecutor creates an executor for one venue.
func NewExecutor(venueName string, orders venue.Orders, opts ...ExecutorOption) *Executor {
	x := &Executor{
		venue:    venueName,
		orders:   orders,
		postOnly: true,
		prefix:   "mm",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Apply cancels first and waits for every cancel, then places. A side with a
// failed cancel gets no placements this pass.
func (x *Executor) Apply(ctx context.Context, market string, plan Plan, position decimal.Decimal) Result {
	var (
		res         Result
		cancelFails = make(map[enum.OrderSide]bool, 2)
	)

	for _, o := range plan.Cancel {
		if err := x.orders.CancelOrder(ctx, o.ID); err != nil {
			cancelFails[o.Side] = true
			err = errors.Tag(exception.ErrReconciliation, err, "cancel order %s", o.ID)
			res.Errors = append(res.Errors, err)
			x.metrics.Inc(obs.CounterReconcileErrors)
			logs.Errorf("cancel failed, venue: %s, market: %s, order: %s, err: %+v", x.venue, market, o.ID, err)
			continue
		}
		res.Cancelled = append(res.Cancelled, o.ID)
		x.metrics.Inc(obs.CounterOrdersCancelled)
	}

	for _, d := range plan.Place {
		if cancelFails[d.Side] {
			res.Skipped++
			continue
		}
		if reason, err := x.risk.Evaluate(d, position, x.now()); err != nil {
			res.Skipped++
			x.metrics.Inc(obs.CounterRiskDenied)
			logs.Warnf("placement denied, venue: %s, market: %s, side: %s, price: %s, reason: %s", x.venue, market, d.Side, d.Price, reason)
			continue
		}

		clientID := x.prefix + "-" + uuid.NewString()
		id, err := x.orders.SubmitOrder(ctx, venue.OrderRequest{
			Market:   market,
			Side:     d.Side,
			Price:    d.Price,
			Size:     d.Size,
			PostOnly: x.postOnly,
			ClientID: clientID,
		})
		if err == nil && id == "" {
			err = exception.ErrOrderEmptyResponseOrderID
		}
		if err != nil {
			err = errors.Tag(exception.ErrReconciliation, err, "place %s %s@%s client %s", d.Side, d.Size, d.Price, clientID)
			res.Errors = append(res.Errors, err)
			x.metrics.Inc(obs.CounterReconcileErrors)
			logs.Errorf("place failed, venue: %s, market: %s, client: %s, err: %+v", x.venue, market, clientID, err)
			continue
		}

		res.Placed = append(res.Placed, venue.LiveOrder{
			ID:        id,
			ClientID:  clientID,
			Market:    market,
			Side:      d.Side,
			Price:     d.Price,
			Size:      d.Size,
			CreatedAt: x.now(),
			Status:    enum.OrderStatusOpen,
		})
		x.metrics.Inc(obs.CounterOrdersPlaced)
	}

	return res
}

// CancelAll cancels every open order on market. Used on empty books and shutdown.
func (x *Executor) CancelAll(ctx context.Context, market string) Result {
	live, err := x.orders.FetchOpenOrders(ctx, market)
	if err != nil {
		err = errors.Tag(exception.ErrReconciliation, err, "fetch open orders for cancel all")
		logs.Errorf("cancel all failed, venue: %s, market: %s, err: %+v", x.venue, market, err)
		return Result{Errors: []error{err}}
	}
	return x.Apply(ctx, market, Reconcile(nil, live, Options{}, x.now()), decimal.Zero)
}
