package trader

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"mmhedge/internal/book"
	"mmhedge/internal/bus"
	"mmhedge/internal/enum"
	"mmhedge/internal/errors"
	"mmhedge/internal/fill"
	"mmhedge/internal/hedge"
	"mmhedge/internal/obs"
	"mmhedge/internal/quote"
	"mmhedge/internal/reconcile"
	"mmhedge/internal/risk"
	"mmhedge/internal/state"
	"mmhedge/internal/venue"
	"mmhedge/pkg/backoff"
	"mmhedge/pkg/exception"
)

// Journal persists fill events and hedge results.
type Journal interface {
	hedge.Recorder
	RecordFill(ctx context.Context, e fill.Event) error
}

// Deps are the collaborators of a loop. Release, Hedge, Journal and Metrics
// are optional.
type Deps struct {
	Client  venue.Client
	Release func() error
	Hedge   venue.HedgeVenue
	Journal Journal
	Metrics *obs.Metrics
	Now     func() time.Time
}

type tuning struct {
	strategy quote.Strategy
	refresh  time.Duration
}

// Loop quotes one market for one wallet and hedges its fills.
//
// Three goroutines run while the loop is running: the tick, the fill stream
// listener and the fill task. The tracker and the hedge coordinator belong to
// the fill task; everything else reaches them through the queue.
type Loop struct {
	cfg      Config
	client   venue.Client
	release  func() error
	journal  Journal
	metrics  *obs.Metrics
	now      func() time.Time
	executor *reconcile.Executor
	queue    *bus.Queue[event]
	ticks    *obs.Sequence

	state atomic.Int32
	tune  atomic.Value

	mu   sync.Mutex
	info venue.MarketInfo

	// fill task only
	tracker *fill.Tracker
	coord   *hedge.Coordinator
	mark    decimal.Decimal
	synced  bool

	cancelTick   context.CancelFunc
	cancelListen context.CancelFunc
	cancelFill   context.CancelFunc
	tickDone     chan struct{}
	listenDone   chan struct{}
	fillDone     chan struct{}
	fatal        chan error

	life      sync.Mutex
	stopOnce  sync.Once
	closeOnce sync.Once
	stopped   chan struct{}
	stopErr   error
}

// New builds a loop in the Idle state. The strategy is validated here.
func New(cfg Config, deps Deps) (*Loop, error) {
	if deps.Client == nil {
		return nil, errors.Wrapf(exception.ErrNilInstance, "loop %s: venue client", cfg.Key())
	}
	cfg = cfg.withDefaults()

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	l := &Loop{
		cfg:      cfg,
		client:   deps.Client,
		release:  deps.Release,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		now:      now,
		queue:    bus.NewQueue[event](cfg.QueueSize),
		ticks:    obs.NewSequence(0),
		tracker:  fill.NewTracker(deps.Client.Name(), cfg.Market, fill.WithMetrics(deps.Metrics), fill.WithClock(now), fill.WithRetention(cfg.FillRetention)),
		tickDone: make(chan struct{}),
		fatal:    make(chan error, 1),
		stopped:  make(chan struct{}),
	}
	l.executor = reconcile.NewExecutor(deps.Client.Name(), deps.Client,
		reconcile.WithRisk(risk.NewEngine(cfg.Risk)),
		reconcile.WithMetrics(deps.Metrics),
		reconcile.WithPostOnly(cfg.PostOnly),
		reconcile.WithClientIDPrefix(clientPrefix(cfg.Wallet, cfg.Market)),
		reconcile.WithClock(now),
	)

	if cfg.HedgeEnabled {
		if deps.Hedge == nil {
			return nil, errors.Wrapf(exception.ErrNilInstance, "loop %s: hedge venue", cfg.Key())
		}
		opts := []hedge.Option{hedge.WithMetrics(deps.Metrics), hedge.WithClock(now)}
		if deps.Journal != nil {
			opts = append(opts, hedge.WithRecorder(deps.Journal))
		}
		l.coord = hedge.NewCoordinator(cfg.Hedge, deps.Hedge, opts...)
	}
	if !cfg.PushFills {
		l.tracker.SetMode(enum.FillModePoll)
	}

	if err := l.UpdateParams(cfg.Params, cfg.Refresh); err != nil {
		return nil, err
	}
	return l, nil
}

func clientPrefix(wallet, market string) string {
	base, _, _ := strings.Cut(market, "-")
	return strings.ToLower(wallet + "-" + base)
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Config returns the loop configuration.
func (l *Loop) Config() Config {
	return l.cfg
}

// Params returns the strategy parameters in effect.
func (l *Loop) Params() quote.Params {
	return l.tuning().strategy.Params()
}

// HedgeSnapshot returns the local hedge bookkeeping once the loop has stopped.
func (l *Loop) HedgeSnapshot() (state.Snapshot, bool) {
	if l.coord == nil || l.State() != StateStopped {
		return state.Snapshot{}, false
	}
	return l.coord.Snapshot(l.now()), true
}

func (l *Loop) tuning() tuning {
	return l.tune.Load().(tuning)
}

// UpdateParams swaps the strategy parameters of a running loop. Venue
// precision, once known, overrides the configured tick and step. Invalid
// params leave the current ones in place.
func (l *Loop) UpdateParams(p quote.Params, refresh time.Duration) error {
	l.mu.Lock()
	if l.info.PriceTick.IsPositive() {
		p.PriceTick = l.info.PriceTick
	}
	if l.info.SizeStep.IsPositive() {
		p.SizeStep = l.info.SizeStep
	}
	l.mu.Unlock()

	s, err := quote.New(l.cfg.Strategy, p.WithDefaults())
	if err != nil {
		return errors.Wrapf(err, "loop %s: update params", l.cfg.Key())
	}
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	l.tune.Store(tuning{strategy: s, refresh: refresh})
	return nil
}

// Start moves Idle to Running: it loads market precision, syncs the hedge
// position and launches the tick, listener and fill task goroutines.
func (l *Loop) Start(ctx context.Context) error {
	l.life.Lock()
	defer l.life.Unlock()
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.Wrapf(exception.ErrSetup, "loop %s: start in state %s", l.cfg.Key(), l.State())
	}

	if err := l.loadMarket(ctx); err != nil {
		l.abort()
		return err
	}

	if l.coord != nil {
		if _, ok := l.coord.Symbol(); !ok {
			logs.Errorf("hedge symbol not mapped, fills will not be hedged, market: %s, err: %+v", l.cfg.Market, exception.ErrHedgeNoSymbol)
		} else if err := l.coord.SyncPosition(ctx); err != nil {
			logs.Warnf("hedge position sync failed, retry on next reconcile, market: %s, err: %+v", l.cfg.Market, err)
		} else {
			l.synced = true
		}
	}

	run := context.WithoutCancel(ctx)
	var tickCtx, fillCtx context.Context
	tickCtx, l.cancelTick = context.WithCancel(run)
	fillCtx, l.cancelFill = context.WithCancel(run)

	l.fillDone = make(chan struct{})
	go l.fillTask(fillCtx)

	if l.cfg.PushFills {
		var listenCtx context.Context
		listenCtx, l.cancelListen = context.WithCancel(run)
		l.listenDone = make(chan struct{})
		go l.listen(listenCtx)
	}

	go l.tickLoop(tickCtx)

	logs.Infof("trader loop started, venue: %s, wallet: %s, market: %s, strategy: %s, hedge: %v, fills: %s",
		l.client.Name(), l.cfg.Wallet, l.cfg.Market, l.cfg.Strategy, l.coord != nil, l.tracker.Mode())
	return nil
}

// Run starts the loop when idle and blocks until ctx is done, a fatal error
// occurs or Stop is called elsewhere, then stops it. Only fatal errors are returned.
func (l *Loop) Run(ctx context.Context) error {
	if l.State() == StateIdle {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}

	var err error
	select {
	case <-ctx.Done():
	case <-l.stopped:
		return nil
	case err = <-l.fatal:
		logs.Errorf("trader loop failed, wallet: %s, market: %s, kind: %s, err: %+v", l.cfg.Wallet, l.cfg.Market, errors.Kind(err), err)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultStopTimeout)
	defer cancel()
	if stopErr := l.Stop(stopCtx); stopErr != nil {
		logs.Errorf("trader loop stop, wallet: %s, market: %s, err: %+v", l.cfg.Wallet, l.cfg.Market, stopErr)
	}
	return err
}

// Stop cancels the market's open orders, closes the fill stream, drains the
// fill task and releases the venue lease. Later calls return the first result.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.stopErr = l.shutdown(ctx)
		l.markStopped()
	})
	return l.stopErr
}

func (l *Loop) markStopped() {
	l.closeOnce.Do(func() { close(l.stopped) })
}

func (l *Loop) shutdown(ctx context.Context) error {
	l.life.Lock()
	defer l.life.Unlock()

	prev := State(l.state.Swap(int32(StateStopping)))
	if prev != StateRunning {
		l.state.Store(int32(StateStopped))
		if prev == StateIdle {
			return l.releaseLease()
		}
		return nil
	}
	logs.Infof("trader loop stopping, wallet: %s, market: %s", l.cfg.Wallet, l.cfg.Market)

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	l.cancelTick()
	keep(wait(ctx, l.tickDone))

	res := l.executor.CancelAll(ctx, l.cfg.Market)
	l.publishCancelled(ctx, res.Cancelled)
	keep(firstError(res.Errors))

	if l.cancelListen != nil {
		l.cancelListen()
		keep(wait(ctx, l.listenDone))
	}

	l.queue.Close()
	if err := wait(ctx, l.fillDone); err != nil {
		keep(err)
		l.cancelFill()
		<-l.fillDone
	}
	l.cancelFill()

	keep(l.releaseLease())
	l.state.Store(int32(StateStopped))
	logs.Infof("trader loop stopped, wallet: %s, market: %s", l.cfg.Wallet, l.cfg.Market)
	return firstErr
}

// abort undoes a failed Start.
func (l *Loop) abort() {
	l.state.Store(int32(StateStopped))
	if err := l.releaseLease(); err != nil {
		logs.Errorf("release lease, wallet: %s, err: %+v", l.cfg.Wallet, err)
	}
	l.markStopped()
}

func (l *Loop) releaseLease() error {
	if l.release == nil {
		return nil
	}
	return l.release()
}

func (l *Loop) loadMarket(ctx context.Context) error {
	info, err := l.client.FetchMarket(ctx, l.cfg.Market)
	if err != nil {
		if errors.Fatal(err) {
			return errors.Wrapf(err, "loop %s: fetch market", l.cfg.Key())
		}
		logs.Warnf("market info unavailable, using configured precision, venue: %s, market: %s, err: %+v", l.client.Name(), l.cfg.Market, err)
		return nil
	}

	l.mu.Lock()
	l.info = info
	l.mu.Unlock()

	t := l.tuning()
	if err := l.UpdateParams(t.strategy.Params(), t.refresh); err != nil {
		return errors.Wrapf(exception.ErrSetup, "apply market precision: %v", err)
	}
	return nil
}

func (l *Loop) fail(err error) {
	select {
	case l.fatal <- err:
	default:
	}
}

func (l *Loop) tickLoop(ctx context.Context) {
	defer close(l.tickDone)
	for {
		start := l.now()
		if err := l.Tick(ctx); err != nil && errors.Fatal(err) {
			l.fail(err)
			return
		}
		rest := l.tuning().refresh - l.now().Sub(start)
		if backoff.Sleep(ctx, max(rest, 0)) != nil {
			return
		}
	}
}

// Tick runs one quote-reconcile pass. Errors are logged and returned; only
// fatal ones stop the loop.
func (l *Loop) Tick(ctx context.Context) error {
	id := l.ticks.Next()
	start := l.now()
	l.metrics.Inc(obs.CounterTicks)
	err := l.tick(ctx)
	l.metrics.ObserveTick(l.now().Sub(start))
	if err != nil && ctx.Err() == nil {
		l.metrics.Inc(obs.CounterTickErrors)
		logs.Errorf("tick failed, tick: %d, venue: %s, wallet: %s, market: %s, kind: %s, err: %+v",
			id, l.client.Name(), l.cfg.Wallet, l.cfg.Market, errors.Kind(err), err)
	}
	return err
}

func (l *Loop) tick(ctx context.Context) error {
	market := l.cfg.Market
	snap, err := l.client.FetchOrderBook(ctx, market, l.cfg.BookDepth)
	if err != nil {
		return errors.Wrap(err, "fetch order book")
	}
	b, err := book.FromLevels(snap.Bids, snap.Asks)
	if err != nil {
		return errors.Wrapf(err, "order book %s", market)
	}

	if b.Empty() {
		l.metrics.Inc(obs.CounterEmptyBooks)
		logs.Warnf("order book empty, cancelling all orders, venue: %s, market: %s", l.client.Name(), market)
		res := l.executor.CancelAll(ctx, market)
		l.publishCancelled(ctx, res.Cancelled)
		return firstError(res.Errors)
	}

	positions, err := l.client.FetchPositions(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch positions")
	}
	position := venue.PositionOf(positions, market)
	balance, err := l.client.FetchBalance(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch balance")
	}

	var desired []quote.Order
	quotes, ok := l.tuning().strategy.ComputeQuotes(quote.Input{Book: b, Position: position, Balance: balance.FreeCollateral})
	if ok {
		desired = quotes.All()
	} else {
		logs.Infof("no quotes this tick, cancelling live orders, market: %s, position: %s", market, position)
	}

	live, err := l.client.FetchOpenOrders(ctx, market)
	if err != nil {
		return errors.Wrap(err, "fetch open orders")
	}
	mark, _ := b.Mid()
	l.publish(ctx, event{kind: eventSnapshot, orders: live, mark: mark})

	plan := reconcile.Reconcile(desired, live, reconcile.Options{MaxAge: l.cfg.MaxOrderAge}, l.now())
	if plan.Empty() {
		return nil
	}
	res := l.executor.Apply(ctx, market, plan, position)
	l.publishCancelled(ctx, res.Cancelled)
	if len(res.Placed) != 0 {
		l.publish(ctx, event{kind: eventPlaced, orders: res.Placed})
	}
	return firstError(res.Errors)
}

func (l *Loop) listen(ctx context.Context) {
	defer close(l.listenDone)
	listener := fill.NewListener(l.client.Name(), l.cfg.Market, l.client, l.cfg.Listener, l.metrics)
	err := listener.Run(ctx,
		func(msg venue.FillMessage) { l.publish(ctx, event{kind: eventFill, msg: msg}) },
		func(m enum.FillMode) { l.publish(ctx, event{kind: eventMode, mode: m}) },
	)
	if err != nil {
		l.fail(err)
	}
}

func (l *Loop) publish(ctx context.Context, ev event) {
	if err := l.queue.Publish(ctx, ev); err != nil {
		l.metrics.Inc(obs.CounterQueueDrops)
		if ctx.Err() == nil {
			logs.Warnf("fill task queue rejected event, market: %s, kind: %d, err: %+v", l.cfg.Market, ev.kind, err)
		}
	}
}

func (l *Loop) publishCancelled(ctx context.Context, ids []string) {
	if len(ids) != 0 {
		l.publish(ctx, event{kind: eventCancelled, ids: ids})
	}
}

// fillTask is the single consumer of the queue and the only goroutine that
// touches the tracker and the coordinator.
func (l *Loop) fillTask(ctx context.Context) {
	defer close(l.fillDone)

	flush := time.NewTimer(time.Hour)
	flush.Stop()
	defer flush.Stop()

	var reconcileC <-chan time.Time
	if l.coord != nil {
		if _, ok := l.coord.Symbol(); ok {
			ticker := time.NewTicker(l.cfg.ReconcileEvery)
			defer ticker.Stop()
			reconcileC = ticker.C
		}
	}

	for {
		l.armFlush(flush)
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.queue.C():
			if !ok {
				l.drainHedges(ctx)
				return
			}
			l.handle(ctx, ev)
		case <-flush.C:
			l.flushHedges(ctx)
		case <-reconcileC:
			l.reconcileHedge(ctx)
		}
	}
}

func (l *Loop) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventFill:
		if e, ok := l.tracker.ApplyPush(ev.msg); ok {
			l.onFill(ctx, e)
		}
	case eventSnapshot:
		if ev.mark.IsPositive() {
			l.mark = ev.mark
		}
		for _, e := range l.tracker.ObserveOpenOrders(ev.orders) {
			l.onFill(ctx, e)
		}
	case eventPlaced:
		for _, o := range ev.orders {
			l.tracker.Track(o)
		}
	case eventCancelled:
		for _, id := range ev.ids {
			l.tracker.MarkCancelled(id)
		}
	case eventMode:
		l.tracker.SetMode(ev.mode)
	}
}

func (l *Loop) onFill(ctx context.Context, e fill.Event) {
	logs.Infof("fill detected, venue: %s, wallet: %s, market: %s, order: %s, fill: %s, side: %s, size: %s, price: %s",
		e.SourceVenue, l.cfg.Wallet, e.Market, e.OrderID, e.FillID, e.Side, e.DeltaSize, e.Price)

	if l.journal != nil {
		if err := l.journal.RecordFill(ctx, e); err != nil {
			logs.Errorf("record fill, market: %s, order: %s, fill: %s, err: %+v", e.Market, e.OrderID, e.FillID, err)
		}
	}
	if l.coord == nil {
		return
	}

	res := l.coord.OnFill(ctx, e)
	if res.Status == hedge.StatusCoalesced {
		logs.Infof("hedge coalesced, market: %s, order: %s, fill: %s, pending: %d", e.Market, e.OrderID, e.FillID, l.coord.Pending())
	}
}

func (l *Loop) armFlush(t *time.Timer) {
	if l.coord == nil {
		return
	}
	next, ok := l.coord.NextFlush()
	if !ok {
		t.Stop()
		return
	}
	t.Reset(max(next.Sub(l.now()), 0))
}

func (l *Loop) flushHedges(ctx context.Context) hedge.Result {
	if l.coord == nil {
		return hedge.Result{Status: hedge.StatusNoop}
	}
	return l.coord.Flush(ctx)
}

// drainHedges submits what is still queued once the window allows it.
func (l *Loop) drainHedges(ctx context.Context) {
	if l.coord == nil {
		return
	}
	for l.coord.Pending() != 0 {
		if res := l.coord.Flush(ctx); res.Status != hedge.StatusDeferred {
			return
		}
		next, _ := l.coord.NextFlush()
		if backoff.Sleep(ctx, max(next.Sub(l.now()), 0)) != nil {
			logs.Warnf("hedge drain interrupted, market: %s, pending: %d", l.cfg.Market, l.coord.Pending())
			return
		}
	}
}

func (l *Loop) reconcileHedge(ctx context.Context) {
	if !l.synced {
		if err := l.coord.SyncPosition(ctx); err != nil {
			logs.Warnf("hedge position sync failed, skip reconcile, market: %s, err: %+v", l.cfg.Market, err)
			return
		}
		l.synced = true
	}

	positions, err := l.client.FetchPositions(ctx)
	if err != nil {
		logs.Warnf("fetch positions for hedge reconcile, market: %s, err: %+v", l.cfg.Market, err)
		return
	}
	primary := venue.PositionOf(positions, l.cfg.Market)
	res := l.coord.Reconcile(ctx, primary, l.mark)
	if res.Status == hedge.StatusSubmitted {
		logs.Infof("hedge reconciled, market: %s, primary: %s, hedge: %s", l.cfg.Market, primary, res.Position)
	}
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// firstError prefers a fatal error so callers can stop on it.
func firstError(errs []error) error {
	for _, err := range errs {
		if errors.Fatal(err) {
			return err
		}
	}
	if len(errs) != 0 {
		return errs[0]
	}
	return nil
}
