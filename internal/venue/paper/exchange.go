package paper

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mmhedge/internal/enum"
	"mmhedge/internal/errors"
	"mmhedge/internal/venue"
	"mmhedge/pkg/exception"
)

const Name = "paper"

var _ venue.Client = (*Exchange)(nil)

// Exchange is an in-memory primary venue. Orders rest until Fill or Cross
// executes them. It backs dry runs and tests.
type Exchange struct {
	mu sync.Mutex

	books     map[string]venue.BookSnapshot
	markets   map[string]venue.MarketInfo
	orders    map[string]*venue.LiveOrder
	order     []string
	positions map[string]decimal.Decimal
	balance   decimal.Decimal
	subs      map[string][]chan venue.FillMessage

	seq    uint64
	trades uint64
	token  string
	now    func() time.Time
	closed bool

	authErr    error
	readErr    error
	submitErr  error
	cancelErrs map[string]error

	submits int
	cancels int
}

// Option configures an Exchange.
type Option func(*Exchange)

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

func WithBalance(b decimal.Decimal) Option {
	return func(e *Exchange) { e.balance = b }
}

func WithToken(token string) Option {
	return func(e *Exchange) { e.token = token }
}

// NewExchange creates an empty paper venue.
func NewExchange(opts ...Option) *Exchange {
	e := &Exchange{
		books:      make(map[string]venue.BookSnapshot),
		markets:    make(map[string]venue.MarketInfo),
		orders:     make(map[string]*venue.LiveOrder),
		positions:  make(map[string]decimal.Decimal),
		subs:       make(map[string][]chan venue.FillMessage),
		cancelErrs: make(map[string]error),
		balance:    decimal.NewFromInt(10_000),
		token:      "paper-token",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchange) Name() string { return Name }

// SetBook replaces the ladder of market.
func (e *Exchange) SetBook(market string, bids, asks [][2]string) {
	snap := venue.BookSnapshot{Market: market}
	for _, l := range bids {
		snap.Bids = append(snap.Bids, level(l))
	}
	for _, l := range asks {
		snap.Asks = append(snap.Asks, level(l))
	}
	e.mu.Lock()
	snap.At = e.now()
	e.books[market] = snap
	e.mu.Unlock()
}

func (e *Exchange) SetMarket(info venue.MarketInfo) {
	e.mu.Lock()
	e.markets[info.Market] = info
	e.mu.Unlock()
}

func (e *Exchange) SetPosition(market string, size decimal.Decimal) {
	e.mu.Lock()
	e.positions[market] = size
	e.mu.Unlock()
}

// FailReads makes every read return err until cleared with nil.
func (e *Exchange) FailReads(err error) {
	e.mu.Lock()
	e.readErr = err
	e.mu.Unlock()
}

// FailAuth makes token and reads fail with err.
func (e *Exchange) FailAuth(err error) {
	e.mu.Lock()
	e.authErr = err
	e.mu.Unlock()
}

// FailSubmits makes every submit fail with err until cleared with nil.
func (e *Exchange) FailSubmits(err error) {
	e.mu.Lock()
	e.submitErr = err
	e.mu.Unlock()
}

// FailCancel makes cancelling id fail with err.
func (e *Exchange) FailCancel(id string, err error) {
	e.mu.Lock()
	e.cancelErrs[id] = err
	e.mu.Unlock()
}

// Calls returns the number of submit and cancel calls seen.
func (e *Exchange) Calls() (submits, cancels int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submits, e.cancels
}

// Position returns the venue position of market.
func (e *Exchange) Position(market string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[market]
}

// AddOrder inserts a resting order directly, bypassing submit.
func (e *Exchange) AddOrder(o venue.LiveOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o.Status == 0 {
		o.Status = enum.OrderStatusOpen
	}
	cp := o
	e.orders[o.ID] = &cp
	e.order = append(e.order, o.ID)
}

func (e *Exchange) FetchOrderBook(_ context.Context, market string, depth int) (venue.BookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readable(); err != nil {
		return venue.BookSnapshot{}, err
	}
	snap := e.books[market]
	snap.Market = market
	if depth > 0 {
		if len(snap.Bids) > depth {
			snap.Bids = snap.Bids[:depth]
		}
		if len(snap.Asks) > depth {
			snap.Asks = snap.Asks[:depth]
		}
	}
	return snap, nil
}

func (e *Exchange) FetchPositions(context.Context) ([]venue.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readable(); err != nil {
		return nil, err
	}
	out := make([]venue.Position, 0, len(e.positions))
	for m, size := range e.positions {
		out = append(out, venue.Position{Market: m, Size: size})
	}
	return out, nil
}

func (e *Exchange) FetchBalance(context.Context) (venue.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readable(); err != nil {
		return venue.Balance{}, err
	}
	return venue.Balance{FreeCollateral: e.balance}, nil
}

func (e *Exchange) FetchMarket(_ context.Context, market string) (venue.MarketInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readable(); err != nil {
		return venue.MarketInfo{}, err
	}
	info, ok := e.markets[market]
	if !ok {
		return venue.MarketInfo{}, errors.Wrapf(exception.ErrUnknownTopic, "market %s", market)
	}
	return info, nil
}

func (e *Exchange) SubmitOrder(_ context.Context, req venue.OrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submits++
	if e.closed {
		return "", exception.ErrConnectionClose
	}
	if e.authErr != nil {
		return "", e.authErr
	}
	if e.submitErr != nil {
		return "", e.submitErr
	}
	if !req.Side.IsAvailable() || !req.Price.IsPositive() || !req.Size.IsPositive() {
		return "", exception.ErrOrderInvalidRequest
	}
	if req.PostOnly && e.crosses(req.Market, req.Side, req.Price) {
		return "", errors.Wrap(exception.ErrOrderInvalidRequest, "post only order would cross")
	}

	e.seq++
	id := "P" + strconv.FormatUint(e.seq, 10)
	e.orders[id] = &venue.LiveOrder{
		ID:        id,
		ClientID:  req.ClientID,
		Market:    req.Market,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		CreatedAt: e.now(),
		Status:    enum.OrderStatusOpen,
	}
	e.order = append(e.order, id)
	return id, nil
}

func (e *Exchange) CancelOrder(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels++
	if e.closed {
		return exception.ErrConnectionClose
	}
	if e.authErr != nil {
		return e.authErr
	}
	if err, ok := e.cancelErrs[id]; ok {
		return err
	}
	o, ok := e.orders[id]
	if !ok || o.Status != enum.OrderStatusOpen {
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "order %s not open", id)
	}
	o.Status = enum.OrderStatusCancelled
	return nil
}

func (e *Exchange) FetchOpenOrders(_ context.Context, market string) ([]venue.LiveOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.readable(); err != nil {
		return nil, err
	}
	out := make([]venue.LiveOrder, 0)
	for _, id := range e.order {
		o := e.orders[id]
		if o.Market == market && o.Status == enum.OrderStatusOpen {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (e *Exchange) SubscribeFills(ctx context.Context, market string, token string) (<-chan venue.FillMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, exception.ErrConnectionClose
	}
	if e.authErr != nil {
		return nil, e.authErr
	}
	if token != e.token {
		return nil, errors.Wrap(exception.ErrVenueAuth, "bad bearer token")
	}
	ch := make(chan venue.FillMessage, 64)
	e.subs[market] = append(e.subs[market], ch)

	go func() {
		<-ctx.Done()
		e.unsubscribe(market, ch)
	}()
	return ch, nil
}

func (e *Exchange) BearerToken(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.authErr != nil {
		return "", e.authErr
	}
	return e.token, nil
}

// Close drops every stream subscriber and rejects further calls.
func (e *Exchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for market, chans := range e.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(e.subs, market)
	}
	return nil
}

// DropStreams closes every fill subscription on market, as a broken socket would.
func (e *Exchange) DropStreams(market string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs[market] {
		close(ch)
	}
	delete(e.subs, market)
}

// Subscribers returns the number of live fill subscriptions on market.
func (e *Exchange) Subscribers(market string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs[market])
}

// Fill executes size of order id at its limit price, updates the position and
// publishes the fill to subscribers.
func (e *Exchange) Fill(id string, size decimal.Decimal) (venue.FillMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fill(id, size)
}

// Cross fills every resting order of market that the current book trades through.
func (e *Exchange) Cross(market string) []venue.FillMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	var fills []venue.FillMessage
	for _, id := range e.order {
		o := e.orders[id]
		if o.Market != market || o.Status != enum.OrderStatusOpen {
			continue
		}
		if !e.crosses(market, o.Side, o.Price) {
			continue
		}
		if msg, ok := e.fill(id, o.Remaining()); ok {
			fills = append(fills, msg)
		}
	}
	return fills
}

// Redeliver publishes msg again, as a stream replay would.
func (e *Exchange) Redeliver(msg venue.FillMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish(msg)
}

func (e *Exchange) fill(id string, size decimal.Decimal) (venue.FillMessage, bool) {
	o, ok := e.orders[id]
	if !ok || o.Status != enum.OrderStatusOpen || !size.IsPositive() {
		return venue.FillMessage{}, false
	}
	if size.GreaterThan(o.Remaining()) {
		size = o.Remaining()
	}
	o.FilledSize = o.FilledSize.Add(size)
	if !o.Remaining().IsPositive() {
		o.Status = enum.OrderStatusFilled
	}
	e.positions[o.Market] = e.positions[o.Market].Add(size.Mul(o.Side.Sign()))

	e.trades++
	msg := venue.FillMessage{
		TradeID:        "T" + strconv.FormatUint(e.trades, 10),
		OrderID:        o.ID,
		Market:         o.Market,
		Side:           o.Side,
		Size:           size,
		Price:          o.Price,
		CumulativeSize: o.FilledSize,
		At:             e.now(),
	}
	e.publish(msg)
	return msg, true
}

func (e *Exchange) publish(msg venue.FillMessage) {
	for _, ch := range e.subs[msg.Market] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (e *Exchange) unsubscribe(market string, target chan venue.FillMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	chans := e.subs[market]
	for i, ch := range chans {
		if ch == target {
			close(ch)
			e.subs[market] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}

func (e *Exchange) crosses(market string, side enum.OrderSide, price decimal.Decimal) bool {
	snap, ok := e.books[market]
	if !ok {
		return false
	}
	switch side {
	case enum.OrderSideBuy:
		return len(snap.Asks) != 0 && price.GreaterThanOrEqual(snap.Asks[0].Price)
	case enum.OrderSideSell:
		return len(snap.Bids) != 0 && price.LessThanOrEqual(snap.Bids[0].Price)
	default:
		return false
	}
}

func (e *Exchange) readable() error {
	if e.closed {
		return exception.ErrConnectionClose
	}
	if e.authErr != nil {
		return e.authErr
	}
	return e.readErr
}
