package quote

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmhedge/internal/book"
	"mmhedge/internal/enum"
	"mmhedge/pkg/exception"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testBook(t *testing.T) book.Book {
	t.Helper()
	b, err := book.FromLevels(
		[]book.Level{{Price: d("100"), Size: d("2")}},
		[]book.Level{{Price: d("101"), Size: d("2")}},
	)
	require.NoError(t, err)
	return b
}

func testParams() Params {
	return Params{
		OrderValue:       d("100"),
		BaseSpreadBps:    d("20"),
		InventorySkewBps: d("50"),
	}
}

func TestFlatInventoryQuotesBothSides(t *testing.T) {
	v, err := NewVamp(testParams())
	require.NoError(t, err)

	q, ok := v.ComputeQuotes(Input{Book: testBook(t), Position: decimal.Zero})
	require.True(t, ok)
	require.Len(t, q.Buys, 1)
	require.Len(t, q.Sells, 1)

	bid, ask := q.Buys[0], q.Sells[0]
	if !bid.Price.Equal(d("100.39")) || !ask.Price.Equal(d("100.61")) {
		t.Fatalf("price mismatch: got bid %s ask %s want 100.39/100.61", bid.Price, ask.Price)
	}
	if !bid.Size.Equal(d("0.9961")) || !ask.Size.Equal(d("0.9939")) {
		t.Fatalf("size mismatch: got bid %s ask %s", bid.Size, ask.Size)
	}
	assert.Equal(t, enum.OrderSideBuy, bid.Side)
	assert.Equal(t, enum.OrderSideSell, ask.Side)
	assert.True(t, bid.Notional.Equal(bid.Price.Mul(bid.Size)))
}

func TestLongInventorySellsOnlyAndSkewsDown(t *testing.T) {
	v, err := NewVamp(testParams())
	require.NoError(t, err)

	flat, ok := v.ComputeQuotes(Input{Book: testBook(t)})
	require.True(t, ok)

	long, ok := v.ComputeQuotes(Input{Book: testBook(t), Position: d("5")})
	require.True(t, ok)
	assert.Empty(t, long.Buys)
	require.Len(t, long.Sells, 1)
	assert.True(t, long.Sells[0].Price.LessThan(flat.Sells[0].Price),
		"long ask %s should sit below flat ask %s", long.Sells[0].Price, flat.Sells[0].Price)
	assert.True(t, long.Sells[0].Price.GreaterThan(d("100")), "ask must stay above best bid")

	short, ok := v.ComputeQuotes(Input{Book: testBook(t), Position: d("-5")})
	require.True(t, ok)
	assert.Empty(t, short.Sells)
	require.Len(t, short.Buys, 1)
	assert.True(t, short.Buys[0].Price.GreaterThan(flat.Buys[0].Price))
	assert.True(t, short.Buys[0].Price.LessThan(d("101")), "bid must stay below best ask")
}

func TestEmptyBookReturnsNoQuotes(t *testing.T) {
	v, err := NewVamp(testParams())
	require.NoError(t, err)

	empty, err := book.FromLevels(nil, nil)
	require.NoError(t, err)
	_, ok := v.ComputeQuotes(Input{Book: empty})
	assert.False(t, ok)
}

func TestSkewBpsIsStrictlyBounded(t *testing.T) {
	maxBps := d("50")
	positions := []string{"0.0001", "1", "-1", "5", "1000", "-1000000", "1e12"}
	for _, pos := range positions {
		skew := SkewBps(d(pos), d("100"), d("100"), maxBps)
		if !skew.Abs().LessThan(maxBps) {
			t.Fatalf("skew not bounded for position %s: got %s", pos, skew)
		}
		if d(pos).IsPositive() != skew.IsPositive() {
			t.Fatalf("skew sign mismatch for position %s: got %s", pos, skew)
		}
	}
	assert.True(t, SkewBps(decimal.Zero, d("100"), d("100"), maxBps).IsZero())
}

func TestQuotesNeverCrossProperty(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		mid := 10 + r.Float64()*1000
		gap := 0.01 + r.Float64()*3
		bidPx := decimal.NewFromFloat(mid - gap/2).Round(2)
		askPx := decimal.NewFromFloat(mid + gap/2).Round(2)
		if !bidPx.LessThan(askPx) {
			continue
		}
		b, err := book.FromLevels(
			[]book.Level{{Price: bidPx, Size: decimal.NewFromFloat(0.1 + r.Float64()*10).Round(4)}},
			[]book.Level{{Price: askPx, Size: decimal.NewFromFloat(0.1 + r.Float64()*10).Round(4)}},
		)
		require.NoError(t, err)

		p := Params{
			OrderValue:       decimal.NewFromFloat(1 + r.Float64()*500).Round(2),
			BaseSpreadBps:    decimal.NewFromFloat(r.Float64() * 100).Round(2),
			InventorySkewBps: decimal.NewFromFloat(r.Float64() * 200).Round(2),
			OrdersPerSide:    1 + r.Intn(3),
		}
		v, err := NewVamp(p)
		require.NoError(t, err)

		pos := decimal.NewFromFloat((r.Float64() - 0.5) * 20).Round(4)
		q, ok := v.ComputeQuotes(Input{Book: b, Position: pos})
		if !ok {
			continue
		}
		for _, o := range q.Buys {
			if !o.Price.LessThan(askPx) {
				t.Fatalf("bid %s crosses best ask %s", o.Price, askPx)
			}
			assert.True(t, o.Size.IsPositive())
		}
		for _, o := range q.Sells {
			if !o.Price.GreaterThan(bidPx) {
				t.Fatalf("ask %s crosses best bid %s", o.Price, bidPx)
			}
			assert.True(t, o.Size.IsPositive())
		}
		if len(q.Buys) != 0 && len(q.Sells) != 0 && !q.Buys[0].Price.LessThan(q.Sells[0].Price) {
			t.Fatalf("bid %s >= ask %s", q.Buys[0].Price, q.Sells[0].Price)
		}
	}
}

func TestLadderLevels(t *testing.T) {
	p := testParams()
	p.OrdersPerSide = 3
	v, err := NewVamp(p)
	require.NoError(t, err)

	q, ok := v.ComputeQuotes(Input{Book: testBook(t)})
	require.True(t, ok)
	require.Len(t, q.Buys, 3)
	require.Len(t, q.Sells, 3)
	for i := 1; i < 3; i++ {
		assert.True(t, q.Buys[i].Price.LessThan(q.Buys[i-1].Price))
		assert.True(t, q.Sells[i].Price.GreaterThan(q.Sells[i-1].Price))
	}
	assert.Len(t, q.All(), 6)
}

func TestZeroSizeSideIsDropped(t *testing.T) {
	p := testParams()
	p.OrderValue = d("0.001")
	v, err := NewVamp(p)
	require.NoError(t, err)

	_, ok := v.ComputeQuotes(Input{Book: testBook(t)})
	assert.False(t, ok, "sizes truncate to zero on both sides")
}

func TestMinSpreadFloor(t *testing.T) {
	p := testParams()
	p.BaseSpreadBps = decimal.Zero
	p.InventorySkewBps = decimal.Zero
	v, err := NewVamp(p)
	require.NoError(t, err)

	q, ok := v.ComputeQuotes(Input{Book: testBook(t)})
	require.True(t, ok)
	require.Len(t, q.Buys, 1)
	require.Len(t, q.Sells, 1)
	assert.True(t, q.Buys[0].Price.LessThan(q.Sells[0].Price), "zero bps still keeps at least one tick of spread")
}

func TestTickRoundingKeepsMinSpread(t *testing.T) {
	b, err := book.FromLevels(
		[]book.Level{{Price: d("100.5"), Size: d("10")}},
		[]book.Level{{Price: d("100.505"), Size: d("10")}},
	)
	require.NoError(t, err)

	p := testParams()
	p.BaseSpreadBps = decimal.Zero
	p.InventorySkewBps = decimal.Zero
	p.MinSpread = d("0.015")
	v, err := NewVamp(p)
	require.NoError(t, err)

	q, ok := v.ComputeQuotes(Input{Book: b})
	require.True(t, ok)
	bid, ask := q.Buys[0].Price, q.Sells[0].Price
	if !bid.Equal(d("100.49")) || !ask.Equal(d("100.51")) {
		t.Fatalf("price mismatch: got bid %s ask %s want 100.49/100.51", bid, ask)
	}
	require.True(t, ask.Sub(bid).GreaterThanOrEqual(p.MinSpread), "spread %s below min", ask.Sub(bid))
}

func TestParamsValidation(t *testing.T) {
	cases := []Params{
		{OrderValue: decimal.Zero},
		{OrderValue: d("10"), BaseSpreadBps: d("-1")},
		{OrderValue: d("10"), InventorySkewBps: d("-1")},
		{OrderValue: d("10"), OrdersPerSide: -1},
		{OrderValue: d("10"), PriceTick: d("-0.01")},
	}
	for _, p := range cases {
		_, err := NewVamp(p)
		require.ErrorIs(t, err, exception.ErrInvalidStrategyParams, "params %+v", p)
	}

	s, err := New(VampName, testParams())
	require.NoError(t, err)
	assert.Equal(t, VampName, s.Name())
	assert.Equal(t, 1, s.Params().OrdersPerSide)

	_, err = New("grid", testParams())
	require.ErrorIs(t, err, exception.ErrUnknownStrategy)
	assert.True(t, Registered(VampName))
}
