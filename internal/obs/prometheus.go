package obs

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mmhedge"

var loopLabels = []string{"wallet", "market"}

type loopKey struct {
	wallet string
	market string
}

// Registry hands out per-loop Metrics and exposes them as a prometheus.Collector.
type Registry struct {
	mu    sync.RWMutex
	loops map[loopKey]*Metrics

	counterDescs [counterCount]*prometheus.Desc
	tickDesc     *prometheus.Desc
	hedgeDesc    *prometheus.Desc
}

var _ prometheus.Collector = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{loops: make(map[loopKey]*Metrics)}
	for i := range r.counterDescs {
		name := Counter(i).String()
		r.counterDescs[i] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", name+"_total"),
			"Total "+name+" per trader loop.",
			loopLabels, nil,
		)
	}
	r.tickDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "tick_duration_seconds"),
		"Tick processing time.",
		loopLabels, nil,
	)
	r.hedgeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "hedge_duration_seconds"),
		"Hedge submission round trip.",
		loopLabels, nil,
	)
	return r
}

// For returns the Metrics of a loop, creating it on first use.
func (r *Registry) For(wallet, market string) *Metrics {
	key := loopKey{wallet: wallet, market: market}
	r.mu.RLock()
	m, ok := r.loops[key]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.loops[key]; ok {
		return m
	}
	m = NewMetrics()
	r.loops[key] = m
	return m
}

// Snapshots returns every loop snapshot keyed by "wallet/market", sorted keys first.
func (r *Registry) Snapshots() ([]string, map[string]Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.loops))
	out := make(map[string]Snapshot, len(r.loops))
	for k, m := range r.loops {
		name := k.wallet + "/" + k.market
		keys = append(keys, name)
		out[name] = m.Snapshot()
	}
	sort.Strings(keys)
	return keys, out
}

func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range r.counterDescs {
		ch <- d
	}
	ch <- r.tickDesc
	ch <- r.hedgeDesc
}

func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, m := range r.loops {
		for i, d := range r.counterDescs {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(m.Count(Counter(i))), k.wallet, k.market)
		}
		tick := m.tickLatency.Snapshot()
		ch <- prometheus.MustNewConstSummary(r.tickDesc, tick.Count, tick.Sum.Seconds(), nil, k.wallet, k.market)
		hedge := m.hedgeLatency.Snapshot()
		ch <- prometheus.MustNewConstSummary(r.hedgeDesc, hedge.Count, hedge.Sum.Seconds(), nil, k.wallet, k.market)
	}
}
