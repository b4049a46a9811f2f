package fill

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"mmhedge/internal/enum"
	"mmhedge/internal/obs"
	"mmhedge/internal/venue"
)

const DefaultRetention = 10 * time.Minute

// Tracker turns push messages and open-order snapshots into exactly-once fill
// events. It is owned by a single goroutine.
//
// Both detection paths share the processed key set and the per-order
// accounted size, so an increment seen by one path is never emitted by the
// other.
type Tracker struct {
	venue     string
	market    string
	machine   *StateMachine
	processed map[string]map[string]struct{}
	known     map[string]struct{}
	mode      enum.FillMode
	retention time.Duration
	metrics   *obs.Metrics
	now       func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

func WithMetrics(m *obs.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithRetention bounds how long terminal orders and their keys are remembered.
func WithRetention(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.retention = d }
}

// NewTracker creates a tracker in push mode.
func NewTracker(venueName, market string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		venue:     venueName,
		market:    market,
		machine:   NewStateMachine(),
		processed: make(map[string]map[string]struct{}),
		known:     make(map[string]struct{}),
		mode:      enum.FillModePush,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Mode() enum.FillMode {
	return t.mode
}

// SetMode switches detection. Switching never resets the dedup state.
func (t *Tracker) SetMode(m enum.FillMode) {
	if m == t.mode {
		return
	}
	logs.Infof("fill detection mode changed, venue: %s, market: %s, from: %s, to: %s", t.venue, t.market, t.mode, m)
	t.mode = m
}

// Order returns the tracked state of id.
func (t *Tracker) Order(id string) (Order, bool) {
	o, ok := t.machine.Order(id)
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Track starts following an order we placed.
func (t *Tracker) Track(o venue.LiveOrder) {
	if o.ID == "" {
		return
	}
	t.machine.Track(o)
	t.known[o.ID] = struct{}{}
}

// MarkCancelled records our own cancel so the order disappearing from the
// open set is not mistaken for a fill.
func (t *Tracker) MarkCancelled(id string) {
	_, _ = t.machine.Cancel(id, t.now())
}

// ApplyPush handles one stream message. ok is false for duplicates, foreign
// markets, increments already accounted for and messages that carry neither a
// trade id nor a cumulative size, since a redelivery of those cannot be told
// apart from a new fill.
func (t *Tracker) ApplyPush(msg venue.FillMessage) (Event, bool) {
	if msg.OrderID == "" || (msg.Market != "" && msg.Market != t.market) {
		return Event{}, false
	}
	if msg.TradeID == "" && !msg.CumulativeSize.IsPositive() {
		t.metrics.Inc(obs.CounterFillRejected)
		logs.Errorf("fill message without identity dropped, venue: %s, market: %s, order: %s, size: %s, price: %s", t.venue, t.market, msg.OrderID, msg.Size, msg.Price)
		return Event{}, false
	}

	o := t.machine.Track(venue.LiveOrder{
		ID:     msg.OrderID,
		Market: t.market,
		Side:   msg.Side,
		Price:  msg.Price,
	})

	cumulative := msg.CumulativeSize
	if !cumulative.IsPositive() && !msg.Size.IsPositive() {
		return Event{}, false
	}

	fillID := "c:" + cumulative.String()
	if msg.TradeID != "" {
		fillID = "t:" + msg.TradeID
	}
	if !t.markProcessed(o.ID, fillID) {
		return Event{}, false
	}
	if cumulative.IsPositive() && msg.TradeID != "" {
		t.markProcessed(o.ID, "c:"+cumulative.String())
	}

	delta := msg.Size
	if cumulative.IsPositive() {
		delta = cumulative.Sub(o.Filled)
	}

	price := msg.Price
	if !price.IsPositive() {
		price = o.Price
	}
	at := msg.At
	if at.IsZero() {
		at = t.now()
	}
	return t.emit(o, fillID, delta, price, at)
}

// ObserveOpenOrders diffs a fresh open-order snapshot against the previous
// one. In poll mode it emits the positive filled-size delta of every order and
// the remaining size of every order that disappeared without our cancel. In
// push mode it only refreshes the baseline. Orders seen here before they were
// tracked start from their reported filled size, in either mode.
func (t *Tracker) ObserveOpenOrders(open []venue.LiveOrder) []Event {
	var (
		now     = t.now()
		current = make(map[string]struct{}, len(open))
		events  []Event
	)

	for _, lo := range open {
		if lo.ID == "" {
			continue
		}
		current[lo.ID] = struct{}{}
		if _, tracked := t.machine.Order(lo.ID); !tracked {
			t.adopt(lo)
			continue
		}
		o := t.machine.Track(lo)
		if t.mode != enum.FillModePoll {
			continue
		}
		if lo.FilledSize.GreaterThan(o.Filled) {
			fillID := "c:" + lo.FilledSize.String()
			if t.markProcessed(o.ID, fillID) {
				if e, ok := t.emit(o, fillID, lo.FilledSize.Sub(o.Filled), o.Price, now); ok {
					events = append(events, e)
				}
			}
		}
	}

	for id := range t.known {
		if _, ok := current[id]; ok {
			continue
		}
		o, ok := t.machine.Order(id)
		if !ok || o.State.Terminal() {
			continue
		}
		if t.mode != enum.FillModePoll {
			// the stream owns this order; keep it so a later switch to poll still sees it.
			if o.VanishedAt.IsZero() {
				o.VanishedAt = now
			}
			if now.Sub(o.VanishedAt) < t.retention {
				current[id] = struct{}{}
			} else {
				_, _ = t.machine.Cancel(id, now)
			}
			continue
		}
		remaining, known := o.Remaining()
		if !known {
			logs.Warnf("order vanished with unknown size, venue: %s, market: %s, order: %s", t.venue, t.market, id)
			continue
		}
		if !remaining.IsPositive() {
			continue
		}
		fillID := "c:" + o.Size.String()
		if !t.markProcessed(o.ID, fillID) {
			continue
		}
		if e, ok := t.emit(o, fillID, remaining, o.Price, now); ok {
			events = append(events, e)
		}
	}

	t.known = current
	t.prune(now)
	return events
}

func (t *Tracker) adopt(lo venue.LiveOrder) {
	o := t.machine.Adopt(lo)
	if !o.Filled.IsPositive() {
		return
	}
	t.markProcessed(o.ID, "c:"+o.Filled.String())
	logs.Infof("open order adopted with prior fills, venue: %s, market: %s, order: %s, side: %s, size: %s, filled: %s", t.venue, t.market, o.ID, o.Side, o.Size, o.Filled)
}

func (t *Tracker) emit(o *Order, fillID string, delta, price decimal.Decimal, at time.Time) (Event, bool) {
	if remaining, known := o.Remaining(); known && delta.GreaterThan(remaining) {
		delta = remaining
	}
	if !delta.IsPositive() {
		t.metrics.Inc(obs.CounterFillDuplicates)
		return Event{}, false
	}
	if _, err := t.machine.ApplyFill(o.ID, delta, at); err != nil {
		logs.Errorf("apply fill, venue: %s, market: %s, order: %s, fill: %s, err: %+v", t.venue, t.market, o.ID, fillID, err)
		return Event{}, false
	}
	t.metrics.Inc(obs.CounterFills)
	return Event{
		OrderID:     o.ID,
		FillID:      fillID,
		Market:      t.market,
		Side:        o.Side,
		DeltaSize:   delta,
		Price:       price,
		SourceVenue: t.venue,
		At:          at,
	}, true
}

// markProcessed returns false when key was already seen for order.
func (t *Tracker) markProcessed(orderID, key string) bool {
	keys, ok := t.processed[orderID]
	if !ok {
		keys = make(map[string]struct{}, 2)
		t.processed[orderID] = keys
	}
	if _, dup := keys[key]; dup {
		t.metrics.Inc(obs.CounterFillDuplicates)
		return false
	}
	keys[key] = struct{}{}
	return true
}

func (t *Tracker) prune(now time.Time) {
	if t.retention <= 0 {
		return
	}
	for id, o := range t.machine.orders {
		if !o.State.Terminal() || o.ClosedAt.IsZero() {
			continue
		}
		if _, open := t.known[id]; open {
			continue
		}
		if now.Sub(o.ClosedAt) >= t.retention {
			t.machine.Forget(id)
			delete(t.processed, id)
		}
	}
}
