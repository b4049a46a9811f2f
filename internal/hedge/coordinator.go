package hedge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"mmhedge/internal/enum"
	"mmhedge/internal/errors"
	"mmhedge/internal/fill"
	"mmhedge/internal/obs"
	"mmhedge/internal/state"
	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

const (
	DefaultMinInterval    = time.Second
	DefaultReconcileEvery = 30 * time.Second
)

var (
	DefaultDust = decimal.New(1, -4)

	// clientIDSpace namespaces the UUIDv5 hedge client ids.
	clientIDSpace = uuid.MustParse("6f1c9a52-4f0e-5b8a-9d47-3c2e8a1b7d10")

	bpsDenominator = decimal.NewFromInt(10_000)
)

// Config defines how fills on one primary market are mirrored.
type Config struct {
	Market      string
	SymbolMap   map[string]string
	Mode        enum.HedgeMode
	SlippageBps decimal.Decimal
	MinInterval time.Duration
	Dust        decimal.Decimal
	SizeStep    decimal.Decimal
}

func (c Config) withDefaults() Config {
	if !c.Mode.IsAvailable() {
		c.Mode = enum.HedgeModeMarket
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if !c.Dust.IsPositive() {
		c.Dust = DefaultDust
	}
	if c.SlippageBps.IsNegative() {
		c.SlippageBps = decimal.Zero
	}
	return c
}

// Recorder persists hedge outcomes for audit.
type Recorder interface {
	RecordHedge(ctx context.Context, res Result) error
}

// Coordinator turns fill events into hedge orders. It is owned by the fill
// task goroutine of one trader loop and is not safe for concurrent use.
//
// Fills arriving inside MinInterval of the previous submission are queued and
// submitted as one net order by Flush once the window opens.
type Coordinator struct {
	cfg      Config
	venue    venue.HedgeVenue
	book     *state.PositionBook
	pending  []fill.Event
	limiter  *rate.Limiter
	recorder Recorder
	metrics  *obs.Metrics
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator hedging cfg.Market on v.
func NewCoordinator(cfg Config, v venue.HedgeVenue, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:     cfg,
		venue:   v,
		book:    state.NewPositionBook(),
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Symbol returns the hedge venue symbol for the market, if mapped.
func (c *Coordinator) Symbol() (string, bool) {
	s, ok := c.cfg.SymbolMap[c.cfg.Market]
	return s, ok && s != ""
}

// Position is the local hedge-venue bookkeeping for the mapped symbol.
func (c *Coordinator) Position() decimal.Decimal {
	symbol, _ := c.Symbol()
	return c.book.Position(symbol)
}

// Snapshot captures the local hedge-venue bookkeeping.
func (c *Coordinator) Snapshot(at time.Time) state.Snapshot {
	return c.book.Snapshot(at)
}

// Pending returns the number of queued fills.
func (c *Coordinator) Pending() int {
	return len(c.pending)
}

// NextFlush returns when queued fills may be submitted.
func (c *Coordinator) NextFlush() (time.Time, bool) {
	if len(c.pending) == 0 {
		return time.Time{}, false
	}
	now := c.now()
	return now.Add(c.delay(now)), true
}

// SyncPosition loads the hedge venue position into the local book.
func (c *Coordinator) SyncPosition(ctx context.Context) error {
	symbol, ok := c.Symbol()
	if !ok {
		return exception.ErrHedgeNoSymbol
	}
	size, err := c.venue.GetPosition(ctx, symbol)
	if err != nil {
		return errors.Wrapf(err, "get hedge position %s", symbol)
	}
	c.book.Set(symbol, size)
	logs.Infof("hedge position synced, venue: %s, market: %s, symbol: %s, size: %s", c.venue.Name(), c.cfg.Market, symbol, size)
	return nil
}

// OnFill hedges e immediately or queues it behind the rate limit window.
func (c *Coordinator) OnFill(ctx context.Context, e fill.Event) Result {
	if _, ok := c.Symbol(); !ok {
		c.metrics.Inc(obs.CounterHedgesSkipped)
		logs.Warnf("hedge skipped, no symbol mapping, market: %s, order: %s, fill: %s", c.cfg.Market, e.OrderID, e.FillID)
		return Result{Status: StatusSkipped, Market: c.cfg.Market, FillKeys: []string{e.Key()}, Err: exception.ErrHedgeNoSymbol}
	}

	if len(c.pending) != 0 || !c.windowOpen() {
		c.pending = append(c.pending, e)
		c.metrics.Inc(obs.CounterHedgesCoalesced)
		return Result{Status: StatusCoalesced, Market: c.cfg.Market, FillKeys: []string{e.Key()}}
	}

	return c.submitFills(ctx, []fill.Event{e})
}

// Flush submits the net of every queued fill once the window is open.
func (c *Coordinator) Flush(ctx context.Context) Result {
	if len(c.pending) == 0 {
		return Result{Status: StatusNoop, Market: c.cfg.Market}
	}
	if !c.windowOpen() {
		return Result{Status: StatusDeferred, Market: c.cfg.Market}
	}
	fills := c.pending
	c.pending = nil
	return c.submitFills(ctx, fills)
}

// Reconcile compares the hedge book against -primary and submits the gap when
// it exceeds the dust threshold. Queued fills are absorbed by the pass since
// primary already reflects them. mark prices limit-mode corrections; zero
// sends a market order.
func (c *Coordinator) Reconcile(ctx context.Context, primary, mark decimal.Decimal) Result {
	symbol, ok := c.Symbol()
	if !ok {
		return Result{Status: StatusSkipped, Market: c.cfg.Market, Err: exception.ErrHedgeNoSymbol}
	}
	if !c.windowOpen() {
		return Result{Status: StatusDeferred, Market: c.cfg.Market}
	}

	absorbed := make([]string, 0, len(c.pending))
	for _, e := range c.pending {
		absorbed = append(absorbed, e.Key())
	}
	c.pending = nil

	current := c.book.Position(symbol)
	gap := primary.Neg().Sub(current)
	if c.roundSize(gap.Abs()).LessThanOrEqual(c.cfg.Dust) {
		return Result{Status: StatusNoop, Market: c.cfg.Market, FillKeys: absorbed, Position: current.String()}
	}

	logs.Warnf("hedge drift detected, market: %s, symbol: %s, primary: %s, hedge: %s, gap: %s", c.cfg.Market, symbol, primary, current, gap)
	at := c.now()
	key := fmt.Sprintf("reconcile/%s/%s/%d", c.cfg.Market, gap, at.UnixNano())
	res := c.submit(ctx, symbol, gap, mark, []string{key})
	res.FillKeys = append(absorbed, res.FillKeys...)
	return res
}

func (c *Coordinator) submitFills(ctx context.Context, fills []fill.Event) Result {
	symbol, _ := c.Symbol()

	var (
		net      decimal.Decimal
		notional decimal.Decimal
		volume   decimal.Decimal
		keys     = make([]string, 0, len(fills))
	)
	for _, e := range fills {
		net = net.Add(e.SignedDelta())
		notional = notional.Add(e.DeltaSize.Mul(e.Price))
		volume = volume.Add(e.DeltaSize)
		keys = append(keys, e.Key())
	}

	if c.roundSize(volume).LessThanOrEqual(c.cfg.Dust) {
		c.metrics.Inc(obs.CounterHedgesSkipped)
		logs.Warnf("hedge below dust, left unhedged, market: %s, symbol: %s, fills: %s, size: %s, dust: %s", c.cfg.Market, symbol, strings.Join(keys, ","), volume, c.cfg.Dust)
		return Result{Status: StatusBelowDust, Market: c.cfg.Market, FillKeys: keys}
	}

	var ref decimal.Decimal
	if volume.IsPositive() {
		ref = notional.Div(volume)
	}
	return c.submit(ctx, symbol, net.Neg(), ref, keys)
}

// submit sends delta (signed, hedge venue direction) for symbol.
func (c *Coordinator) submit(ctx context.Context, symbol string, delta, ref decimal.Decimal, keys []string) Result {
	size := c.roundSize(delta.Abs())
	if size.LessThanOrEqual(c.cfg.Dust) {
		logs.Infof("hedge netted, market: %s, symbol: %s, fills: %s, residual: %s", c.cfg.Market, symbol, strings.Join(keys, ","), delta)
		return Result{Status: StatusNetted, Market: c.cfg.Market, FillKeys: keys}
	}

	side := enum.SideOf(delta)
	order := venue.HedgeOrder{
		Symbol:   symbol,
		Side:     side,
		Size:     size,
		TIF:      enum.OrderTimeInForceIOC,
		ClientID: ClientID(keys),
	}
	if c.cfg.Mode == enum.HedgeModeLimit && ref.IsPositive() {
		order.Price = LimitPrice(ref, side, c.cfg.SlippageBps)
	}

	start := c.now()
	// the window closes on every attempt, failed ones included.
	c.limiter.ReserveN(start, 1)
	ack, err := c.venue.PlaceHedge(ctx, order)
	latency := c.now().Sub(start)
	if err == nil && ack.Status == venue.HedgeStatusRejected {
		err = exception.ErrHedgeRejected
	}

	res := Result{
		Market:   c.cfg.Market,
		Order:    order,
		Ack:      ack,
		FillKeys: keys,
		Latency:  latency,
	}

	if err != nil {
		res.Status = StatusFailed
		res.Err = errors.Tag(exception.ErrHedgeSubmission, err, "place hedge %s %s %s client %s", symbol, side, size, order.ClientID)
		res.Position = c.book.Position(symbol).String()
		c.metrics.Inc(obs.CounterHedgesFailed)
		logs.Errorf("hedge failed, venue: %s, market: %s, symbol: %s, fills: %s, position unchanged: %s, err: %+v",
			c.venue.Name(), c.cfg.Market, symbol, strings.Join(keys, ","), res.Position, res.Err)
		c.record(ctx, res)
		return res
	}

	res.Status = StatusSubmitted
	res.Position = c.book.Apply(symbol, side, size).String()
	c.metrics.Inc(obs.CounterHedgesSubmitted)
	c.metrics.ObserveHedge(latency)
	logs.Infof("hedge submitted, venue: %s, market: %s, symbol: %s, side: %s, size: %s, price: %s, client: %s, ack: %s, position: %s",
		c.venue.Name(), c.cfg.Market, symbol, side, size, order.Price, order.ClientID, ack.ID, res.Position)
	c.record(ctx, res)
	return res
}

func (c *Coordinator) record(ctx context.Context, res Result) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordHedge(ctx, res); err != nil {
		logs.Errorf("record hedge, market: %s, client: %s, err: %+v", res.Market, res.Order.ClientID, err)
	}
}

func (c *Coordinator) windowOpen() bool {
	return c.limiter.TokensAt(c.now()) >= 1
}

// delay is how long after now the limiter admits the next submission.
func (c *Coordinator) delay(now time.Time) time.Duration {
	missing := 1 - c.limiter.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(missing / float64(c.limiter.Limit()) * float64(time.Second)))
}

func (c *Coordinator) roundSize(size decimal.Decimal) decimal.Decimal {
	if !c.cfg.SizeStep.IsPositive() {
		return size
	}
	return size.Div(c.cfg.SizeStep).Round(0).Mul(c.cfg.SizeStep)
}

// ClientID derives a deterministic hedge client id from fill identities.
func ClientID(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return uuid.NewSHA1(clientIDSpace, []byte(strings.Join(sorted, "|"))).String()
}

// LimitPrice moves ref against us by slippageBps: up for buys, down for sells.
func LimitPrice(ref decimal.Decimal, side enum.OrderSide, slippageBps decimal.Decimal) decimal.Decimal {
	adj := slippageBps.Div(bpsDenominator)
	if side == enum.OrderSideSell {
		return ref.Mul(decimal.NewFromInt(1).Sub(adj))
	}
	return ref.Mul(decimal.NewFromInt(1).Add(adj))
}
