package ops

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"gopkg.in/yaml.v3"

	"mmhedge/internal/enum"
	"mmhedge/internal/errors"
	"mmhedge/internal/fill"
	"mmhedge/internal/hedge"
	"mmhedge/internal/quote"
	"mmhedge/internal/risk"
	"mmhedge/internal/venue/hyperliquid"
	"mmhedge/pkg/exception"
)

const (
	DefaultRefresh    = time.Second
	DefaultBookDepth  = 20
	DefaultQueueSize  = 1024
	DefaultMetricsLog = time.Minute
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FileConfig mirrors the YAML/JSON config layout.
type FileConfig struct {
	Tasks    []TaskConfig       `json:"tasks" yaml:"tasks"`
	Risk     RiskConfig         `json:"risk" yaml:"risk"`
	Loop     LoopConfig         `json:"loop" yaml:"loop"`
	Features FeatureFlagsConfig `json:"features" yaml:"features"`
}

// TaskConfig is one (wallet, market) trading task.
type TaskConfig struct {
	WalletName     string               `json:"wallet_name" yaml:"wallet_name" validate:"required"`
	MarketSymbol   string               `json:"market_symbol" yaml:"market_symbol" validate:"required"`
	StrategyName   string               `json:"strategy_name" yaml:"strategy_name" validate:"required"`
	StrategyParams StrategyParamsConfig `json:"strategy_params" yaml:"strategy_params"`
	Hedge          HedgeConfig          `json:"hedge" yaml:"hedge"`
}

// StrategyParamsConfig holds the quoting knobs. Decimals accept numbers or strings.
type StrategyParamsConfig struct {
	OrderValue         decimal.Decimal `json:"order_value" yaml:"order_value"`
	BaseSpreadBps      decimal.Decimal `json:"base_spread_bps" yaml:"base_spread_bps"`
	InventorySkewBps   decimal.Decimal `json:"inventory_skew_bps" yaml:"inventory_skew_bps"`
	OrdersPerSide      int             `json:"orders_per_side" yaml:"orders_per_side" validate:"gte=0"`
	MinSpread          decimal.Decimal `json:"min_spread" yaml:"min_spread"`
	DustThreshold      decimal.Decimal `json:"dust_threshold" yaml:"dust_threshold"`
	PriceTick          decimal.Decimal `json:"price_tick" yaml:"price_tick"`
	SizeStep           decimal.Decimal `json:"size_step" yaml:"size_step"`
	RefreshFrequencyMs int             `json:"refresh_frequency_ms" yaml:"refresh_frequency_ms" validate:"gte=0"`
	MaxOrderAgeMs      int             `json:"max_order_age_ms" yaml:"max_order_age_ms" validate:"gte=0"`
}

// HedgeConfig describes how fills of a task are mirrored.
type HedgeConfig struct {
	Enabled          bool              `json:"enabled" yaml:"enabled"`
	Exchange         string            `json:"exchange" yaml:"exchange" validate:"omitempty,oneof=hyperliquid paper"`
	SymbolMap        map[string]string `json:"symbol_map" yaml:"symbol_map"`
	Mode             string            `json:"mode" yaml:"mode" validate:"omitempty,oneof=market limit"`
	SlippageBps      decimal.Decimal   `json:"slippage_bps" yaml:"slippage_bps"`
	MinIntervalMs    int               `json:"min_interval_ms" yaml:"min_interval_ms" validate:"gte=0"`
	ReconcileEveryMs int               `json:"reconcile_every_ms" yaml:"reconcile_every_ms" validate:"gte=0"`
}

// RiskConfig mirrors risk.Config.
type RiskConfig struct {
	KillSwitch        bool            `json:"kill_switch" yaml:"kill_switch"`
	MaxOrderNotional  decimal.Decimal `json:"max_order_notional" yaml:"max_order_notional"`
	MaxPosition       decimal.Decimal `json:"max_position" yaml:"max_position"`
	OrderRateLimit    int             `json:"order_rate_limit" yaml:"order_rate_limit" validate:"gte=0"`
	OrderRateWindowMs int             `json:"order_rate_window_ms" yaml:"order_rate_window_ms" validate:"gte=0"`
}

// LoopConfig tunes every trader loop.
type LoopConfig struct {
	BookDepth         int `json:"book_depth" yaml:"book_depth" validate:"gte=0"`
	QueueSize         int `json:"queue_size" yaml:"queue_size" validate:"gte=0"`
	MetricsLogEveryMs int `json:"metrics_log_every_ms" yaml:"metrics_log_every_ms" validate:"gte=0"`
	FillRetentionMs   int `json:"fill_retention_ms" yaml:"fill_retention_ms" validate:"gte=0"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableFillStream *bool `json:"enable_fill_stream" yaml:"enable_fill_stream"`
	EnableJournal    *bool `json:"enable_journal" yaml:"enable_journal"`
	PostOnly         *bool `json:"post_only" yaml:"post_only"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableFillStream bool
	EnableJournal    bool
	PostOnly         bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Tasks    []Task
	Risk     risk.Config
	Loop     LoopSpec
	Features FeatureFlags
}

// Task is a resolved trading task.
type Task struct {
	Wallet      string
	Market      string
	Strategy    string
	Params      quote.Params
	Refresh     time.Duration
	MaxOrderAge time.Duration
	Hedge       HedgeSpec
}

// Key identifies the task across reloads.
func (t Task) Key() string {
	return t.Wallet + "/" + t.Market
}

// HedgeSpec is the resolved hedge section of a task.
type HedgeSpec struct {
	Enabled        bool
	Exchange       string
	Config         hedge.Config
	ReconcileEvery time.Duration
}

type LoopSpec struct {
	BookDepth  int
	QueueSize  int
	MetricsLog time.Duration
	// FillRetention is how long closed orders and their dedup keys are kept.
	FillRetention time.Duration
}

// Load reads a YAML or JSON config, chosen by extension. Invalid tasks are
// logged and skipped; everything else must be valid.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrSetup, "read config %s: %v", path, err)
	}
	return Parse(filepath.Ext(path), data)
}

// Parse decodes data in the format named by ext (".yaml", ".yml" or ".json").
func Parse(ext string, data []byte) (Loaded, error) {
	var cfg FileConfig
	if err := decode(ext, data, &cfg); err != nil {
		return Loaded{}, err
	}
	if err := validate.Struct(cfg.Risk); err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrSetup, "risk config: %v", err)
	}
	if err := validate.Struct(cfg.Loop); err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrSetup, "loop config: %v", err)
	}

	tasks := make([]Task, 0, len(cfg.Tasks))
	for i, tc := range cfg.Tasks {
		task, err := resolveTask(tc)
		if err != nil {
			logs.Errorf("skip invalid task #%d (wallet %s, market %s), err: %+v", i, tc.WalletName, tc.MarketSymbol, err)
			continue
		}
		tasks = append(tasks, task)
	}
	if len(cfg.Tasks) == 0 {
		logs.Warnf("no trading tasks configured, nothing will run")
	}

	return Loaded{
		Tasks:    tasks,
		Risk:     resolveRisk(cfg.Risk),
		Loop:     resolveLoop(cfg.Loop),
		Features: resolveFeatures(cfg.Features),
	}, nil
}

func decode(ext string, data []byte, out *FileConfig) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return errors.Wrapf(exception.ErrSetup, "parse yaml config: %v", err)
		}
	case ".json":
		if err := sonic.Unmarshal(data, out); err != nil {
			return errors.Wrapf(exception.ErrSetup, "parse json config: %v", err)
		}
	default:
		return errors.Wrapf(exception.ErrSetup, "unsupported config extension %q", ext)
	}
	return nil
}

func resolveTask(tc TaskConfig) (Task, error) {
	if err := validate.Struct(tc); err != nil {
		return Task{}, errors.Wrapf(exception.ErrInvalidStrategyParams, "task: %v", err)
	}
	if !quote.Registered(tc.StrategyName) {
		return Task{}, errors.Wrapf(exception.ErrUnknownStrategy, "strategy %q", tc.StrategyName)
	}

	sp := tc.StrategyParams
	params := quote.Params{
		OrderValue:       sp.OrderValue,
		BaseSpreadBps:    sp.BaseSpreadBps,
		InventorySkewBps: sp.InventorySkewBps,
		OrdersPerSide:    sp.OrdersPerSide,
		MinSpread:        sp.MinSpread,
		DustThreshold:    sp.DustThreshold,
		PriceTick:        sp.PriceTick,
		SizeStep:         sp.SizeStep,
	}.WithDefaults()
	if err := params.Validate(); err != nil {
		return Task{}, err
	}

	task := Task{
		Wallet:      tc.WalletName,
		Market:      tc.MarketSymbol,
		Strategy:    tc.StrategyName,
		Params:      params,
		Refresh:     millis(sp.RefreshFrequencyMs, DefaultRefresh),
		MaxOrderAge: millis(sp.MaxOrderAgeMs, 0),
	}

	hs, err := resolveHedge(tc.MarketSymbol, tc.Hedge, params.SizeStep)
	if err != nil {
		return Task{}, err
	}
	task.Hedge = hs
	return task, nil
}

func resolveHedge(market string, hc HedgeConfig, sizeStep decimal.Decimal) (HedgeSpec, error) {
	if !hc.Enabled {
		return HedgeSpec{}, nil
	}
	if hc.SlippageBps.IsNegative() {
		return HedgeSpec{}, errors.Wrapf(exception.ErrInvalidStrategyParams, "hedge slippage_bps must be >= 0, got %s", hc.SlippageBps)
	}

	exchange := hc.Exchange
	if exchange == "" {
		exchange = hyperliquid.Name
	}
	symbols := hc.SymbolMap
	if len(symbols) == 0 && exchange == hyperliquid.Name {
		symbols = map[string]string{market: hyperliquid.Coin(market)}
	}

	return HedgeSpec{
		Enabled:  true,
		Exchange: exchange,
		Config: hedge.Config{
			Market:      market,
			SymbolMap:   symbols,
			Mode:        enum.ParseHedgeMode(hc.Mode),
			SlippageBps: hc.SlippageBps,
			MinInterval: millis(hc.MinIntervalMs, hedge.DefaultMinInterval),
			SizeStep:    sizeStep,
		},
		ReconcileEvery: millis(hc.ReconcileEveryMs, hedge.DefaultReconcileEvery),
	}, nil
}

func resolveRisk(cfg RiskConfig) risk.Config {
	return risk.Config{
		KillSwitch:       cfg.KillSwitch,
		MaxOrderNotional: cfg.MaxOrderNotional,
		MaxPosition:      cfg.MaxPosition,
		OrderRateLimit:   cfg.OrderRateLimit,
		OrderRateWindow:  millis(cfg.OrderRateWindowMs, 0),
	}
}

func resolveLoop(cfg LoopConfig) LoopSpec {
	spec := LoopSpec{
		BookDepth:  cfg.BookDepth,
		QueueSize:  cfg.QueueSize,
		MetricsLog: millis(cfg.MetricsLogEveryMs, DefaultMetricsLog),

		FillRetention: millis(cfg.FillRetentionMs, fill.DefaultRetention),
	}
	if spec.BookDepth == 0 {
		spec.BookDepth = DefaultBookDepth
	}
	if spec.QueueSize == 0 {
		spec.QueueSize = DefaultQueueSize
	}
	return spec
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableFillStream: true,
		EnableJournal:    true,
		PostOnly:         true,
	}
	if cfg.EnableFillStream != nil {
		flags.EnableFillStream = *cfg.EnableFillStream
	}
	if cfg.EnableJournal != nil {
		flags.EnableJournal = *cfg.EnableJournal
	}
	if cfg.PostOnly != nil {
		flags.PostOnly = *cfg.PostOnly
	}
	return flags
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
