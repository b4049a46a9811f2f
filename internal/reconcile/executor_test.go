package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mmhedge/internal/enum"
	"mmhedge/internal/obs"
	"mmhedge/internal/quote"
	"mmhedge/internal/risk"
	"mmhedge/internal/venue"
	"mmhedge/internal/venue/paper"
	"mmhedge/pkg/exception"
)

const market = "ETH-USD-PERP"

func newExecutor(ex *paper.Exchange, opts ...ExecutorOption) *Executor {
	opts = append([]ExecutorOption{WithClock(func() time.Time { return t0 })}, opts...)
	return NewExecutor(paper.Name, ex, opts...)
}

func TestApplyThenReconcileIsIdempotent(t *testing.T) {
	ctx := t.Context()
	ex := paper.NewExchange(paper.WithClock(func() time.Time { return t0 }))
	x := newExecutor(ex)

	desired := []quote.Order{
		desiredOrder(enum.OrderSideBuy, "100.4", "0.996"),
		desiredOrder(enum.OrderSideSell, "100.6", "0.994"),
	}

	live, err := ex.FetchOpenOrders(ctx, market)
	require.NoError(t, err)
	res := x.Apply(ctx, market, Reconcile(desired, live, Options{}, t0), decimal.Zero)
	require.False(t, res.Failed())
	require.Len(t, res.Placed, 2)

	live, err = ex.FetchOpenOrders(ctx, market)
	require.NoError(t, err)
	plan := Reconcile(desired, live, Options{}, t0)
	if !plan.Empty() {
		t.Fatalf("second pass mismatch: got %+v want empty plan", plan)
	}

	submits, cancels := ex.Calls()
	require.Equal(t, 2, submits)
	require.Equal(t, 0, cancels)
}

func TestApplyCancelAll(t *testing.T) {
	ctx := t.Context()
	ex := paper.NewExchange()
	ex.AddOrder(liveOrder("b1", enum.OrderSideBuy, "100.4", "1", 0))
	ex.AddOrder(liveOrder("s1", enum.OrderSideSell, "100.6", "1", 0))
	m := obs.NewMetrics()
	x := newExecutor(ex, WithMetrics(m))

	res := x.CancelAll(ctx, market)
	require.False(t, res.Failed())
	require.ElementsMatch(t, []string{"b1", "s1"}, res.Cancelled)
	require.Equal(t, uint64(2), m.Count(obs.CounterOrdersCancelled))

	live, err := ex.FetchOpenOrders(ctx, market)
	require.NoError(t, err)
	require.Empty(t, live)
}

func TestApplyFailedCancelSkipsSidePlacements(t *testing.T) {
	ctx := t.Context()
	ex := paper.NewExchange()
	ex.AddOrder(liveOrder("b1", enum.OrderSideBuy, "100.3", "1", 0))
	ex.AddOrder(liveOrder("s1", enum.OrderSideSell, "100.7", "1", 0))
	venueErr := errors.New("gateway timeout")
	ex.FailCancel("b1", venueErr)
	x := newExecutor(ex)

	desired := []quote.Order{
		desiredOrder(enum.OrderSideBuy, "100.4", "1"),
		desiredOrder(enum.OrderSideSell, "100.6", "1"),
	}
	live, err := ex.FetchOpenOrders(ctx, market)
	require.NoError(t, err)

	res := x.Apply(ctx, market, Reconcile(desired, live, Options{}, t0), decimal.Zero)
	require.True(t, res.Failed())
	require.Len(t, res.Errors, 1)
	require.ErrorIs(t, res.Errors[0], exception.ErrReconciliation)
	require.ErrorIs(t, res.Errors[0], venueErr)
	require.Equal(t, []string{"s1"}, res.Cancelled)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, res.Placed, 1)
	require.Equal(t, enum.OrderSideSell, res.Placed[0].Side)
}

func TestApplyPlacementFailureIsReported(t *testing.T) {
	ctx := t.Context()
	ex := paper.NewExchange()
	ex.FailSubmits(exception.ErrVenueAuth)
	x := newExecutor(ex)

	res := x.Apply(ctx, market, Plan{Place: []quote.Order{desiredOrder(enum.OrderSideBuy, "100.4", "1")}}, decimal.Zero)
	require.Len(t, res.Errors, 1)
	require.ErrorIs(t, res.Errors[0], exception.ErrReconciliation)
	require.ErrorIs(t, res.Errors[0], exception.ErrVenueAuth)
	require.Empty(t, res.Placed)
}

func TestApplyRiskDenial(t *testing.T) {
	ctx := t.Context()
	ex := paper.NewExchange()
	m := obs.NewMetrics()
	x := newExecutor(ex,
		WithMetrics(m),
		WithRisk(risk.NewEngine(risk.Config{MaxPosition: d("1")})),
	)

	plan := Plan{Place: []quote.Order{
		desiredOrder(enum.OrderSideBuy, "100.4", "1"),
		desiredOrder(enum.OrderSideSell, "100.6", "1"),
	}}
	res := x.Apply(ctx, market, plan, d("0.5"))
	require.False(t, res.Failed())
	require.Equal(t, 1, res.Skipped)
	require.Len(t, res.Placed, 1)
	require.Equal(t, enum.OrderSideSell, res.Placed[0].Side)
	require.Equal(t, uint64(1), m.Count(obs.CounterRiskDenied))
}

func TestApplyClientIDsArePrefixed(t *testing.T) {
	ctx := t.Context()
	ex := paper.NewExchange(paper.WithClock(func() time.Time { return t0 }))
	x := newExecutor(ex, WithClientIDPrefix("w1-eth"), WithPostOnly(false))

	res := x.Apply(ctx, market, Plan{Place: []quote.Order{desiredOrder(enum.OrderSideBuy, "100.4", "1")}}, decimal.Zero)
	require.Len(t, res.Placed, 1)
	require.Regexp(t, `^w1-eth-[0-9a-f-]{36}$`, res.Placed[0].ClientID)

	live, err := ex.FetchOpenOrders(ctx, market)
	require.NoError(t, err)
	require.Equal(t, []venue.LiveOrder{res.Placed[0]}, live)
}
