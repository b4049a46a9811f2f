package obs

import (
	"sync/atomic"
	"time"
)

// Counter identifies one trading counter.
type Counter int

const (
	CounterTicks Counter = iota
	CounterTickErrors
	CounterEmptyBooks
	CounterOrdersPlaced
	CounterOrdersCancelled
	CounterReconcileErrors
	CounterRiskDenied
	CounterFills
	CounterFillDuplicates
	CounterFillRejected
	CounterHedgesSubmitted
	CounterHedgesFailed
	CounterHedgesCoalesced
	CounterHedgesSkipped
	CounterStreamReconnects
	CounterQueueDrops
	counterCount
)

var counterNames = [counterCount]string{
	CounterTicks:            "ticks",
	CounterTickErrors:       "tick_errors",
	CounterEmptyBooks:       "empty_books",
	CounterOrdersPlaced:     "orders_placed",
	CounterOrdersCancelled:  "orders_cancelled",
	CounterReconcileErrors:  "reconcile_errors",
	CounterRiskDenied:       "risk_denied",
	CounterFills:            "fills",
	CounterFillDuplicates:   "fill_duplicates",
	CounterFillRejected:     "fill_rejected",
	CounterHedgesSubmitted:  "hedges_submitted",
	CounterHedgesFailed:     "hedges_failed",
	CounterHedgesCoalesced:  "hedges_coalesced",
	CounterHedgesSkipped:    "hedges_skipped",
	CounterStreamReconnects: "stream_reconnects",
	CounterQueueDrops:       "queue_drops",
}

func (c Counter) String() string {
	if c < 0 || c >= counterCount {
		return "unknown"
	}
	return counterNames[c]
}

// Metrics collects lightweight counters and latency stats for one trader loop.
type Metrics struct {
	counters [counterCount]uint64

	tickLatency  LatencyStats
	hedgeLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Counters     map[Counter]uint64
	TickLatency  LatencySnapshot
	HedgeLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc adds one to c.
func (m *Metrics) Inc(c Counter) {
	m.Add(c, 1)
}

// Add adds n to c.
func (m *Metrics) Add(c Counter, n uint64) {
	if m == nil || c < 0 || c >= counterCount {
		return
	}
	atomic.AddUint64(&m.counters[c], n)
}

// Count returns the current value of c.
func (m *Metrics) Count(c Counter) uint64 {
	if m == nil || c < 0 || c >= counterCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[c])
}

// ObserveTick measures one full tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickLatency.Observe(d)
}

// ObserveHedge measures one hedge submission round trip.
func (m *Metrics) ObserveHedge(d time.Duration) {
	if m == nil {
		return
	}
	m.hedgeLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	counters := make(map[Counter]uint64, counterCount)
	for i := range m.counters {
		if v := atomic.LoadUint64(&m.counters[i]); v > 0 {
			counters[Counter(i)] = v
		}
	}
	return Snapshot{
		Counters:     counters,
		TickLatency:  m.tickLatency.Snapshot(),
		HedgeLatency: m.hedgeLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Sum:   time.Duration(sum),
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
