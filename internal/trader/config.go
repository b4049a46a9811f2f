package trader

import (
	"time"

	"mmhedge/internal/fill"
	"mmhedge/internal/hedge"
	"mmhedge/internal/ops"
	"mmhedge/internal/quote"
	"mmhedge/internal/risk"
)

const (
	DefaultBookDepth   = 20
	DefaultQueueSize   = 1024
	DefaultRefresh     = time.Second
	DefaultStopTimeout = 15 * time.Second
)

// Config is everything one loop needs to trade (wallet, market).
type Config struct {
	Wallet   string
	Market   string
	Strategy string
	Params   quote.Params
	Refresh  time.Duration

	MaxOrderAge time.Duration
	BookDepth   int
	QueueSize   int
	PostOnly    bool
	Risk        risk.Config

	// PushFills enables the fill stream; otherwise fills are polled.
	PushFills     bool
	Listener      fill.ListenerConfig
	FillRetention time.Duration

	HedgeEnabled   bool
	Hedge          hedge.Config
	ReconcileEvery time.Duration
}

// FromTask builds a loop config from a resolved task and the global sections.
func FromTask(task ops.Task, loaded ops.Loaded) Config {
	return Config{
		Wallet:         task.Wallet,
		Market:         task.Market,
		Strategy:       task.Strategy,
		Params:         task.Params,
		Refresh:        task.Refresh,
		MaxOrderAge:    task.MaxOrderAge,
		BookDepth:      loaded.Loop.BookDepth,
		QueueSize:      loaded.Loop.QueueSize,
		PostOnly:       loaded.Features.PostOnly,
		Risk:           loaded.Risk,
		PushFills:      loaded.Features.EnableFillStream,
		FillRetention:  loaded.Loop.FillRetention,
		HedgeEnabled:   task.Hedge.Enabled,
		Hedge:          task.Hedge.Config,
		ReconcileEvery: task.Hedge.ReconcileEvery,
	}
}

func (c Config) withDefaults() Config {
	if c.BookDepth <= 0 {
		c.BookDepth = DefaultBookDepth
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Refresh <= 0 {
		c.Refresh = DefaultRefresh
	}
	if c.FillRetention <= 0 {
		c.FillRetention = fill.DefaultRetention
	}
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = hedge.DefaultReconcileEvery
	}
	c.Hedge.Market = c.Market
	return c
}

// Key identifies the loop.
func (c Config) Key() string {
	return c.Wallet + "/" + c.Market
}
