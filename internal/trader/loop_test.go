package trader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mmhedge/internal/enum"
	"mmhedge/internal/hedge"
	"mmhedge/internal/quote"
	"mmhedge/internal/venue"
	"mmhedge/internal/venue/paper"
	"mmhedge/pkg/exception"
)

const market = "ETH-USD-PERP"

var (
	bids = [][2]string{{"100", "5"}, {"99.9", "5"}}
	asks = [][2]string{{"100.2", "5"}, {"100.3", "5"}}
)

func params() quote.Params {
	return quote.Params{
		OrderValue:       decimal.NewFromInt(100),
		BaseSpreadBps:    decimal.NewFromInt(10),
		InventorySkewBps: decimal.NewFromInt(5),
	}.WithDefaults()
}

func testConfig() Config {
	return Config{
		Wallet:   "w1",
		Market:   market,
		Strategy: quote.VampName,
		Params:   params(),
		Refresh:  20 * time.Millisecond,
		PostOnly: true,
	}
}

func newExchange() *paper.Exchange {
	ex := paper.NewExchange(paper.WithBalance(decimal.NewFromInt(10_000)))
	ex.SetBook(market, bids, asks)
	return ex
}

func openOrders(t *testing.T, ex *paper.Exchange) []venue.LiveOrder {
	t.Helper()
	orders, err := ex.FetchOpenOrders(t.Context(), market)
	require.NoError(t, err)
	return orders
}

func orderOn(orders []venue.LiveOrder, side enum.OrderSide) (venue.LiveOrder, bool) {
	for _, o := range orders {
		if o.Side == side {
			return o, true
		}
	}
	return venue.LiveOrder{}, false
}

func TestTickPlacesOnceAndIsIdempotent(t *testing.T) {
	ex := newExchange()
	loop, err := New(testConfig(), Deps{Client: ex})
	require.NoError(t, err)

	require.NoError(t, loop.Tick(t.Context()))
	orders := openOrders(t, ex)
	require.Len(t, orders, 2)
	buy, ok := orderOn(orders, enum.OrderSideBuy)
	require.True(t, ok)
	sell, ok := orderOn(orders, enum.OrderSideSell)
	require.True(t, ok)
	require.True(t, buy.Price.LessThan(sell.Price))

	submits, cancels := ex.Calls()
	require.NoError(t, loop.Tick(t.Context()))
	submits2, cancels2 := ex.Calls()
	if submits2 != submits || cancels2 != cancels {
		t.Fatalf("second tick should be a no-op: got %d/%d want %d/%d", submits2, cancels2, submits, cancels)
	}
}

func TestTickEmptyBookCancelsAll(t *testing.T) {
	ex := newExchange()
	loop, err := New(testConfig(), Deps{Client: ex})
	require.NoError(t, err)

	require.NoError(t, loop.Tick(t.Context()))
	require.Len(t, openOrders(t, ex), 2)

	ex.SetBook(market, nil, nil)
	require.NoError(t, loop.Tick(t.Context()))
	require.Empty(t, openOrders(t, ex))

	submits, _ := ex.Calls()
	require.NoError(t, loop.Tick(t.Context()))
	after, _ := ex.Calls()
	require.Equal(t, submits, after, "empty book must not place")
}

func TestTickErrors(t *testing.T) {
	ex := newExchange()
	loop, err := New(testConfig(), Deps{Client: ex})
	require.NoError(t, err)

	ex.SetBook(market, [][2]string{{"101", "1"}}, [][2]string{{"100", "1"}})
	require.ErrorIs(t, loop.Tick(t.Context()), exception.ErrInvalidBook)

	ex.SetBook(market, bids, asks)
	ex.FailReads(exception.ErrVenueUnavailable)
	require.ErrorIs(t, loop.Tick(t.Context()), exception.ErrVenueUnavailable)
}

func TestStopIsIdempotent(t *testing.T) {
	ex := newExchange()
	var released atomic.Int32
	loop, err := New(testConfig(), Deps{Client: ex, Release: func() error {
		released.Add(1)
		return nil
	}})
	require.NoError(t, err)
	require.Equal(t, StateIdle, loop.State())

	require.NoError(t, loop.Start(t.Context()))
	require.Equal(t, StateRunning, loop.State())
	require.ErrorIs(t, loop.Start(t.Context()), exception.ErrSetup)
	require.Eventually(t, func() bool { return len(openOrders(t, ex)) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, loop.Stop(t.Context()))
	require.Equal(t, StateStopped, loop.State())
	require.Empty(t, openOrders(t, ex))
	require.Equal(t, int32(1), released.Load())

	require.NoError(t, loop.Stop(t.Context()))
	require.Equal(t, int32(1), released.Load())
}

func TestStopBeforeStartReleases(t *testing.T) {
	var released atomic.Int32
	loop, err := New(testConfig(), Deps{Client: newExchange(), Release: func() error {
		released.Add(1)
		return nil
	}})
	require.NoError(t, err)

	require.NoError(t, loop.Stop(t.Context()))
	require.Equal(t, StateStopped, loop.State())
	require.Equal(t, int32(1), released.Load())
	require.NoError(t, loop.Run(t.Context()))
}

func hedgeConfig() Config {
	cfg := testConfig()
	cfg.HedgeEnabled = true
	cfg.Hedge = hedge.Config{
		SymbolMap:   map[string]string{market: "ETH"},
		MinInterval: 10 * time.Millisecond,
	}
	return cfg
}

func TestFillIsHedgedOnce(t *testing.T) {
	ex := newExchange()
	hv := paper.NewHedgeVenue()
	cfg := hedgeConfig()
	cfg.PushFills = true

	loop, err := New(cfg, Deps{Client: ex, Hedge: hv})
	require.NoError(t, err)
	require.NoError(t, loop.Start(t.Context()))
	t.Cleanup(func() { _ = loop.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		return ex.Subscribers(market) > 0 && len(openOrders(t, ex)) == 2
	}, 2*time.Second, 5*time.Millisecond)

	buy, ok := orderOn(openOrders(t, ex), enum.OrderSideBuy)
	require.True(t, ok)
	msg, ok := ex.Fill(buy.ID, decimal.RequireFromString("0.5"))
	require.True(t, ok)
	ex.Redeliver(msg)

	require.Eventually(t, func() bool { return len(hv.Orders()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, loop.Stop(t.Context()))
	orders := hv.Orders()
	require.Len(t, orders, 1, "redelivered fill must not be hedged twice")
	require.Equal(t, "ETH", orders[0].Symbol)
	require.Equal(t, enum.OrderSideSell, orders[0].Side)
	if !orders[0].Size.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("hedge size mismatch: got %s want 0.5", orders[0].Size)
	}

	snap, ok := loop.HedgeSnapshot()
	require.True(t, ok)
	require.Len(t, snap.Positions, 1)
	if !snap.Positions[0].Size.Equal(decimal.RequireFromString("-0.5")) {
		t.Fatalf("hedge book mismatch: got %+v want -0.5", snap.Positions[0])
	}
}

func TestPollModeDetectsFills(t *testing.T) {
	ex := newExchange()
	hv := paper.NewHedgeVenue()
	cfg := hedgeConfig()
	cfg.PushFills = false

	loop, err := New(cfg, Deps{Client: ex, Hedge: hv})
	require.NoError(t, err)
	require.NoError(t, loop.Start(t.Context()))
	t.Cleanup(func() { _ = loop.Stop(context.Background()) })

	require.Eventually(t, func() bool { return len(openOrders(t, ex)) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, ex.Subscribers(market))

	sell, ok := orderOn(openOrders(t, ex), enum.OrderSideSell)
	require.True(t, ok)
	_, ok = ex.Fill(sell.ID, decimal.RequireFromString("0.3"))
	require.True(t, ok)

	require.Eventually(t, func() bool { return len(hv.Orders()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, loop.Stop(t.Context()))

	orders := hv.Orders()
	require.Len(t, orders, 1)
	require.Equal(t, enum.OrderSideBuy, orders[0].Side)
	if !orders[0].Size.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("hedge size mismatch: got %s want 0.3", orders[0].Size)
	}
}

func TestRunStopsOnAuthError(t *testing.T) {
	ex := newExchange()
	var released atomic.Int32
	loop, err := New(testConfig(), Deps{Client: ex, Release: func() error {
		released.Add(1)
		return nil
	}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- loop.Run(t.Context()) }()

	require.Eventually(t, func() bool { return len(openOrders(t, ex)) == 2 }, 2*time.Second, 5*time.Millisecond)
	ex.FailAuth(exception.ErrVenueAuth)

	select {
	case err := <-done:
		require.ErrorIs(t, err, exception.ErrVenueAuth)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on auth error")
	}
	require.Equal(t, StateStopped, loop.State())
	require.Equal(t, int32(1), released.Load())
}

func TestUpdateParams(t *testing.T) {
	ex := newExchange()
	ex.SetMarket(venue.MarketInfo{Market: market, PriceTick: decimal.RequireFromString("0.1"), SizeStep: decimal.RequireFromString("0.01")})
	loop, err := New(testConfig(), Deps{Client: ex})
	require.NoError(t, err)
	require.NoError(t, loop.Start(t.Context()))
	t.Cleanup(func() { _ = loop.Stop(context.Background()) })

	require.True(t, loop.Params().PriceTick.Equal(decimal.RequireFromString("0.1")), "venue tick should win")

	bad := params()
	bad.OrderValue = decimal.Zero
	require.ErrorIs(t, loop.UpdateParams(bad, time.Second), exception.ErrInvalidStrategyParams)
	require.True(t, loop.Params().OrderValue.Equal(decimal.NewFromInt(100)))

	next := params()
	next.OrderValue = decimal.NewFromInt(200)
	require.NoError(t, loop.UpdateParams(next, time.Second))
	require.True(t, loop.Params().OrderValue.Equal(decimal.NewFromInt(200)))
	require.True(t, loop.Params().SizeStep.Equal(decimal.RequireFromString("0.01")))
}

func TestNewValidates(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	require.ErrorIs(t, err, exception.ErrNilInstance)

	cfg := testConfig()
	cfg.Strategy = "nope"
	_, err = New(cfg, Deps{Client: newExchange()})
	require.ErrorIs(t, err, exception.ErrUnknownStrategy)

	_, err = New(hedgeConfig(), Deps{Client: newExchange()})
	require.ErrorIs(t, err, exception.ErrNilInstance)
}
