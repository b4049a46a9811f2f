package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"mmhedge/internal/errors"
	"mmhedge/internal/journal"
	"mmhedge/internal/obs"
	"mmhedge/internal/ops"
	"mmhedge/internal/trader"
	"mmhedge/internal/venue"
	"mmhedge/internal/venue/hyperliquid"
	"mmhedge/internal/venue/paper"
	"mmhedge/internal/venue/paradex"
	"mmhedge/pkg/backoff"
	"mmhedge/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML or JSON config")
	walletsPath := flag.String("wallets", "wallets.csv", "Path to wallets CSV")
	envPath := flag.String("env", ".env", "Path to .env file (missing is fine)")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	flag.Parse()

	env, err := ops.LoadEnv(*envPath)
	if err != nil {
		log.Fatalf("env load failed: %v", err)
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	wallets, err := ops.LoadWallets(*walletsPath)
	if err != nil {
		log.Fatalf("wallets load failed: %v", err)
	}
	tasks := ops.ForWallets(loaded.Tasks, wallets)
	if len(tasks) == 0 {
		log.Fatalf("no runnable task in %s", *configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if env.PyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "mmhedge.trader",
			ServerAddress:   env.PyroscopeAddr,
			Tags: map[string]string{
				"env": env.ParadexEnv,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	a := &app{
		env:      env,
		wallets:  wallets,
		runtime:  ops.NewRuntime(loaded),
		registry: obs.NewRegistry(),
		hedges:   make(map[string]venue.HedgeVenue),
	}
	if err := a.run(ctx, tasks, *configPath, *configReload); err != nil {
		log.Printf("trader: %v", err)
		stop()
		os.Exit(1)
	}
}

type app struct {
	env      ops.Env
	wallets  ops.Wallets
	runtime  *ops.Runtime
	registry *obs.Registry
	pool     *venue.Pool
	db       *conn.Client

	mu     sync.Mutex
	hedges map[string]venue.HedgeVenue
	loops  map[string]*trader.Loop
}

func (a *app) run(ctx context.Context, tasks []ops.Task, configPath string, reload time.Duration) error {
	srv, err := a.serveMetrics()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := a.openJournal(); err != nil {
		return err
	}
	if a.db != nil {
		defer a.db.Close()
	}

	a.pool = venue.NewPool(a.dial)
	defer func() {
		if err := a.pool.Close(); err != nil {
			log.Printf("venue pool close failed: %v", err)
		}
	}()
	if err := a.pool.Warm(ctx, walletsOf(tasks)); err != nil {
		log.Printf("wallet warm-up failed, affected tasks will be skipped: %v", err)
	}

	a.loops = make(map[string]*trader.Loop, len(tasks))
	for _, task := range tasks {
		loop, err := a.newLoop(ctx, task)
		if err != nil {
			log.Printf("skip task %s: %v", task.Key(), err)
			continue
		}
		a.loops[task.Key()] = loop
	}
	if len(a.loops) == 0 {
		return errors.New("no trader loop could be created")
	}

	if reload > 0 {
		go watchConfig(ctx, configPath, reload, a.applyConfig)
	}
	go a.logMetrics(ctx, a.runtime.Load().Loop.MetricsLog)

	var eg errgroup.Group
	for key, loop := range a.loops {
		eg.Go(func() error {
			if err := loop.Run(ctx); err != nil {
				log.Printf("trader loop %s stopped: %v", key, err)
			}
			return nil
		})
	}
	log.Printf("trader running: loops=%d metrics=%s", len(a.loops), a.env.MetricsAddr)
	return eg.Wait()
}

func (a *app) dial(ctx context.Context, wallet string) (venue.Client, error) {
	w, ok := a.wallets[wallet]
	if !ok {
		return nil, fmt.Errorf("wallet %s not configured", wallet)
	}
	c, err := paradex.New(ctx, paradex.Config{
		Env:       a.env.Paradex(),
		Wallet:    w.Name,
		L1Address: w.L1Address,
		JWT:       w.JWT,
	})
	if err != nil {
		return nil, err
	}
	return venue.WithReadRetry(c, venue.DefaultReadAttempts, backoff.Read()), nil
}

func (a *app) newLoop(ctx context.Context, task ops.Task) (*trader.Loop, error) {
	lease, err := a.pool.Acquire(ctx, task.Wallet)
	if err != nil {
		return nil, err
	}

	deps := trader.Deps{
		Client:  lease,
		Release: lease.Release,
		Metrics: a.registry.For(task.Wallet, task.Market),
	}
	if task.Hedge.Enabled {
		hv, err := a.hedgeVenue(task.Hedge.Exchange)
		if err != nil {
			_ = lease.Release()
			return nil, err
		}
		deps.Hedge = hv
		if a.db != nil {
			deps.Journal = journal.New(a.db.DB(), task.Wallet, hv.Name())
		}
	} else if a.db != nil {
		deps.Journal = journal.New(a.db.DB(), task.Wallet, "")
	}

	loop, err := trader.New(trader.FromTask(task, a.runtime.Load()), deps)
	if err != nil {
		_ = lease.Release()
		return nil, err
	}
	return loop, nil
}

func (a *app) hedgeVenue(exchange string) (venue.HedgeVenue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if hv, ok := a.hedges[exchange]; ok {
		return hv, nil
	}

	var hv venue.HedgeVenue
	switch exchange {
	case "", hyperliquid.Name:
		c, err := hyperliquid.New(hyperliquid.Config{
			Testnet: a.env.HedgeTestnet,
			Account: a.env.HedgeAccount,
			Secret:  a.env.HedgeSecret,
		})
		if err != nil {
			return nil, err
		}
		hv = c
	case paper.Name:
		hv = paper.NewHedgeVenue()
	default:
		return nil, fmt.Errorf("unsupported hedge exchange %q", exchange)
	}
	a.hedges[exchange] = hv
	return hv, nil
}

func (a *app) openJournal() error {
	if !a.runtime.Load().Features.EnableJournal {
		return nil
	}
	if a.env.DatabaseURL == "" {
		log.Printf("journal enabled but DATABASE_URL is empty, journal disabled")
		return nil
	}
	db, err := conn.New(conn.Option{ConnString: a.env.DatabaseURL})
	if err != nil {
		return errors.Wrap(err, "open journal db")
	}
	if err := journal.Migrate(db.DB()); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "migrate journal")
	}
	a.db = db
	return nil
}

func (a *app) serveMetrics() (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(a.registry); err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.env.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server failed: %v", err)
		}
	}()
	return srv, nil
}

// applyConfig swaps the reloaded parameters into every running loop.
// Tasks added or removed by a reload take effect on restart.
func (a *app) applyConfig(loaded ops.Loaded) {
	a.runtime.Update(loaded)
	for key, loop := range a.loops {
		task, ok := a.runtime.Task(key)
		if !ok {
			log.Printf("config reload: task %s no longer configured, keeping current parameters", key)
			continue
		}
		if err := loop.UpdateParams(task.Params, task.Refresh); err != nil {
			log.Printf("config reload: task %s rejected: %v", key, err)
		}
	}
}

func (a *app) logMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			keys, snaps := a.registry.Snapshots()
			for _, key := range keys {
				log.Printf("metrics %s: %s", key, formatSnapshot(snaps[key]))
			}
		}
	}
}

func formatSnapshot(s obs.Snapshot) string {
	counters := make([]obs.Counter, 0, len(s.Counters))
	for c := range s.Counters {
		counters = append(counters, c)
	}
	slices.Sort(counters)

	var b strings.Builder
	for _, c := range counters {
		fmt.Fprintf(&b, "%s=%d ", c, s.Counters[c])
	}
	fmt.Fprintf(&b, "tick_avg=%s tick_max=%s hedge_avg=%s hedge_max=%s",
		s.TickLatency.Avg, s.TickLatency.Max, s.HedgeLatency.Avg, s.HedgeLatency.Max)
	return b.String()
}

func walletsOf(tasks []ops.Task) []string {
	seen := make(map[string]struct{}, len(tasks))
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.Wallet]; ok {
			continue
		}
		seen[t.Wallet] = struct{}{}
		out = append(out, t.Wallet)
	}
	return out
}

func watchConfig(ctx context.Context, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				log.Printf("config stat failed: %v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			loaded, err := ops.Load(path)
			if err != nil {
				log.Printf("config reload failed: %v", err)
				continue
			}
			update(loaded)
			log.Printf("config reloaded: %s", path)
		}
	}
}
