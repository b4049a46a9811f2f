package main

import (
	"context"
	"flag"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"mmhedge/internal/errors"
	"mmhedge/internal/obs"
	"mmhedge/internal/ops"
	"mmhedge/internal/state"
	"mmhedge/internal/trader"
	"mmhedge/internal/venue/paper"
)

const defaultConfig = `
tasks:
  - wallet_name: paper
    market_symbol: ETH-USD-PERP
    strategy_name: vamp_mm
    strategy_params:
      order_value: "200"
      base_spread_bps: "8"
      inventory_skew_bps: "4"
      refresh_frequency_ms: 250
    hedge:
      enabled: true
      exchange: paper
      symbol_map:
        ETH-USD-PERP: ETH
      min_interval_ms: 500
`

type session struct {
	task   ops.Task
	ex     *paper.Exchange
	hedge  *paper.HedgeVenue
	loop   *trader.Loop
	mid    decimal.Decimal
	fills  int
	random *rand.Rand
}

func main() {
	configPath := flag.String("config", "", "Path to YAML or JSON config (default: built-in ETH task)")
	duration := flag.Duration("duration", 30*time.Second, "Dry run length")
	interval := flag.Duration("interval", 200*time.Millisecond, "Market move interval")
	startMid := flag.Float64("mid", 2500, "Starting mid price")
	stepBps := flag.Float64("step-bps", 3, "Max mid move per interval in bps")
	seed := flag.Uint64("seed", 1, "Random walk seed")
	snapshotPath := flag.String("snapshot", "", "Write the final hedge book snapshot to this JSON file")
	flag.Parse()

	if *duration <= 0 || *interval <= 0 {
		log.Fatalf("duration and interval must be > 0")
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if len(loaded.Tasks) == 0 {
		log.Fatalf("no runnable task")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	registry := obs.NewRegistry()
	sessions := make([]*session, 0, len(loaded.Tasks))
	for i, task := range loaded.Tasks {
		s, err := newSession(task, loaded, registry, decimal.NewFromFloat(*startMid), *seed+uint64(i))
		if err != nil {
			log.Fatalf("task %s: %v", task.Key(), err)
		}
		sessions = append(sessions, s)
	}

	var eg errgroup.Group
	for _, s := range sessions {
		eg.Go(func() error {
			return s.loop.Run(ctx)
		})
		eg.Go(func() error {
			s.simulate(ctx, *interval, *stepBps)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Printf("dry run stopped early: %v", err)
	}

	snapshots := make(map[string]state.Snapshot, len(sessions))
	for _, s := range sessions {
		snap, ok := s.report(context.Background())
		if ok {
			snapshots[s.task.Key()] = snap
		}
	}
	if *snapshotPath != "" {
		if err := writeSnapshots(*snapshotPath, snapshots); err != nil {
			log.Fatalf("snapshot write failed: %v", err)
		}
	}

	keys, snaps := registry.Snapshots()
	for _, key := range keys {
		snap := snaps[key]
		log.Printf("metrics %s: ticks=%d placed=%d cancelled=%d fills=%d hedges=%d tick_avg=%s",
			key,
			snap.Counters[obs.CounterTicks],
			snap.Counters[obs.CounterOrdersPlaced],
			snap.Counters[obs.CounterOrdersCancelled],
			snap.Counters[obs.CounterFills],
			snap.Counters[obs.CounterHedgesSubmitted],
			snap.TickLatency.Avg,
		)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Parse(".yaml", []byte(defaultConfig))
	}
	return ops.Load(path)
}

func newSession(task ops.Task, loaded ops.Loaded, registry *obs.Registry, mid decimal.Decimal, seed uint64) (*session, error) {
	s := &session{
		task:   task,
		ex:     paper.NewExchange(paper.WithBalance(decimal.NewFromInt(100_000))),
		hedge:  paper.NewHedgeVenue(),
		mid:    mid,
		random: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	s.setBook()

	loop, err := trader.New(trader.FromTask(task, loaded), trader.Deps{
		Client:  s.ex,
		Hedge:   s.hedge,
		Metrics: registry.For(task.Wallet, task.Market),
	})
	if err != nil {
		return nil, err
	}
	s.loop = loop
	return s, nil
}

// simulate walks the mid and executes resting orders the new book trades through.
func (s *session) simulate(ctx context.Context, interval time.Duration, stepBps float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			move := (s.random.Float64()*2 - 1) * stepBps / 10_000
			s.mid = s.mid.Mul(decimal.NewFromFloat(1 + move))
			s.setBook()
			s.fills += len(s.ex.Cross(s.task.Market))
		}
	}
}

func (s *session) setBook() {
	const levels = 5
	tick := s.mid.Mul(decimal.RequireFromString("0.0001"))
	bids := make([][2]string, 0, levels)
	asks := make([][2]string, 0, levels)
	for i := 1; i <= levels; i++ {
		off := tick.Mul(decimal.NewFromInt(int64(i)))
		size := decimal.NewFromInt(int64(i)).String()
		bids = append(bids, [2]string{s.mid.Sub(off).StringFixed(4), size})
		asks = append(asks, [2]string{s.mid.Add(off).StringFixed(4), size})
	}
	s.ex.SetBook(s.task.Market, bids, asks)
}

// report logs the outcome and checks the hedge bookkeeping against the hedge venue.
func (s *session) report(ctx context.Context) (state.Snapshot, bool) {
	primary := s.ex.Position(s.task.Market)
	log.Printf("task %s: state=%s mid=%s fills=%d primary=%s hedges=%d",
		s.task.Key(), s.loop.State(), s.mid.StringFixed(4), s.fills, primary, len(s.hedge.Orders()))

	local, ok := s.loop.HedgeSnapshot()
	if !ok {
		return state.Snapshot{}, false
	}
	remote := state.NewPositionBook()
	for _, entry := range local.Positions {
		size, err := s.hedge.GetPosition(ctx, entry.Symbol)
		if err != nil {
			log.Printf("task %s: hedge position %s: %v", s.task.Key(), entry.Symbol, err)
			return local, true
		}
		remote.Set(entry.Symbol, size)
	}
	if err := state.CompareSnapshots(remote.Snapshot(local.At), local); err != nil {
		log.Printf("task %s: hedge book drifted from venue: %v", s.task.Key(), err)
	} else {
		log.Printf("task %s: hedge book matches venue, net=%s", s.task.Key(), netExposure(primary, local))
	}
	return local, true
}

func netExposure(primary decimal.Decimal, hedge state.Snapshot) decimal.Decimal {
	net := primary
	for _, entry := range hedge.Positions {
		net = net.Add(entry.Size)
	}
	return net
}

func writeSnapshots(path string, snapshots map[string]state.Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshots")
	}
	return os.WriteFile(path, data, 0o644)
}
