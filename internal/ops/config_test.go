package ops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mmhedge/internal/enum"
	"mmhedge/internal/fill"
	"mmhedge/internal/quote"
	"mmhedge/pkg/exception"
)

const yamlConfig = `
tasks:
  - wallet_name: w1
    market_symbol: ETH-USD-PERP
    strategy_name: vamp_mm
    strategy_params:
      order_value: 100
      base_spread_bps: "10"
      inventory_skew_bps: 5
      refresh_frequency_ms: 500
    hedge:
      enabled: true
      mode: limit
      slippage_bps: 10
  - wallet_name: w2
    market_symbol: BTC-USD-PERP
    strategy_name: unknown_strategy
    strategy_params:
      order_value: 100
  - wallet_name: w3
    market_symbol: SOL-USD-PERP
    strategy_name: vamp_mm
    strategy_params:
      order_value: 0
  - market_symbol: SOL-USD-PERP
    strategy_name: vamp_mm
risk:
  max_position: 2
features:
  enable_fill_stream: false
`

func TestParseYAML(t *testing.T) {
	loaded, err := Parse(".yaml", []byte(yamlConfig))
	require.NoError(t, err)
	require.Len(t, loaded.Tasks, 1, "invalid tasks should be skipped")

	task := loaded.Tasks[0]
	require.Equal(t, "w1/ETH-USD-PERP", task.Key())
	require.Equal(t, quote.VampName, task.Strategy)
	require.Equal(t, 500*time.Millisecond, task.Refresh)
	if !task.Params.BaseSpreadBps.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("spread mismatch: got %s want 10", task.Params.BaseSpreadBps)
	}
	require.Equal(t, 1, task.Params.OrdersPerSide)
	require.True(t, task.Params.PriceTick.Equal(quote.DefaultPriceTick))

	h := task.Hedge
	require.True(t, h.Enabled)
	require.Equal(t, "hyperliquid", h.Exchange)
	require.Equal(t, map[string]string{"ETH-USD-PERP": "ETH"}, h.Config.SymbolMap)
	require.Equal(t, enum.HedgeModeLimit, h.Config.Mode)
	require.Equal(t, time.Second, h.Config.MinInterval)
	require.Equal(t, 30*time.Second, h.ReconcileEvery)

	require.True(t, loaded.Risk.MaxPosition.Equal(decimal.NewFromInt(2)))
	require.Equal(t, FeatureFlags{EnableFillStream: false, EnableJournal: true, PostOnly: true}, loaded.Features)
	require.Equal(t, LoopSpec{BookDepth: DefaultBookDepth, QueueSize: DefaultQueueSize, MetricsLog: DefaultMetricsLog, FillRetention: fill.DefaultRetention}, loaded.Loop)
}

func TestParseJSON(t *testing.T) {
	data := `{"tasks":[{"wallet_name":"w1","market_symbol":"ETH-USD-PERP","strategy_name":"vamp_mm",
		"strategy_params":{"order_value":"250.5","base_spread_bps":8,"inventory_skew_bps":4,"orders_per_side":2},
		"hedge":{"enabled":true,"exchange":"paper","symbol_map":{"ETH-USD-PERP":"ETH-PERP"},"min_interval_ms":2500}}],
		"loop":{"book_depth":10,"fill_retention_ms":60000}}`

	loaded, err := Parse(".json", []byte(data))
	require.NoError(t, err)
	require.Len(t, loaded.Tasks, 1)
	task := loaded.Tasks[0]
	require.True(t, task.Params.OrderValue.Equal(decimal.RequireFromString("250.5")))
	require.Equal(t, 2, task.Params.OrdersPerSide)
	require.Equal(t, DefaultRefresh, task.Refresh)
	require.Equal(t, "paper", task.Hedge.Exchange)
	require.Equal(t, "ETH-PERP", task.Hedge.Config.SymbolMap["ETH-USD-PERP"])
	require.Equal(t, enum.HedgeModeMarket, task.Hedge.Config.Mode)
	require.Equal(t, 2500*time.Millisecond, task.Hedge.Config.MinInterval)
	require.Equal(t, 10, loaded.Loop.BookDepth)
	if loaded.Loop.FillRetention != time.Minute {
		t.Fatalf("fill retention mismatch: got %s want %s", loaded.Loop.FillRetention, time.Minute)
	}
}

func TestParseRejects(t *testing.T) {
	_, err := Parse(".toml", []byte("x"))
	require.ErrorIs(t, err, exception.ErrSetup)

	_, err = Parse(".yaml", []byte("tasks: ["))
	require.ErrorIs(t, err, exception.ErrSetup)

	_, err = Parse(".yaml", []byte("loop:\n  book_depth: -1\n"))
	require.ErrorIs(t, err, exception.ErrSetup)

	loaded, err := Parse(".yaml", []byte(`
tasks:
  - wallet_name: w1
    market_symbol: ETH-USD-PERP
    strategy_name: vamp_mm
    strategy_params: {order_value: 100}
    hedge: {enabled: true, mode: twap}
`))
	require.NoError(t, err)
	require.Empty(t, loaded.Tasks)
}

func TestLoadByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main_config.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Tasks, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, exception.ErrSetup)
}

func TestRuntimeAndForWallets(t *testing.T) {
	loaded, err := Parse(".yaml", []byte(yamlConfig))
	require.NoError(t, err)

	rt := NewRuntime(loaded)
	task, ok := rt.Task("w1/ETH-USD-PERP")
	require.True(t, ok)
	require.Equal(t, "w1", task.Wallet)

	rt.Update(Loaded{})
	_, ok = rt.Task("w1/ETH-USD-PERP")
	require.False(t, ok)

	require.Empty(t, ForWallets(loaded.Tasks, Wallets{"w9": {Name: "w9"}}))
	require.Len(t, ForWallets(loaded.Tasks, Wallets{"w1": {Name: "w1"}}), 1)
}

func TestWallets(t *testing.T) {
	wallets, err := ParseWallets(strings.NewReader(`wallet_name,l1_address,l1_private_key
# comment
w1,0xaaa,0x111

w2, 0xbbb , 0x222
`))
	require.NoError(t, err)
	require.Equal(t, []string{"w1", "w2"}, wallets.Names())
	require.Equal(t, "0xbbb", wallets["w2"].L1Address)
	require.NotContains(t, wallets["w1"].String(), "0x111")

	wallets, err = ParseWallets(strings.NewReader("wallet_name,l1_address,l1_private_key,jwt\nw1,0xaaa,0x111,eyJ\n"))
	require.NoError(t, err)
	require.Equal(t, "eyJ", wallets["w1"].JWT)

	bad := []string{
		"",
		"name,address,key\nw1,0xaaa,0x111\n",
		"wallet_name,l1_address,l1_private_key\n",
		"wallet_name,l1_address,l1_private_key\nw1,0xaaa,111\n",
		"wallet_name,l1_address,l1_private_key\nw1,0xaaa,0x111\nw1,0xbbb,0x222\n",
		"wallet_name,l1_address,l1_private_key\nw1,0xaaa\n",
		"wallet_name,l1_address,l1_private_key\nw1,,0x111\n",
	}
	for _, in := range bad {
		_, err := ParseWallets(strings.NewReader(in))
		require.ErrorIs(t, err, exception.ErrSetup, "input %q", in)
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("PARADEX_ENV", "mainnet")
	t.Setenv("HYPERLIQUID_ACCOUNT", "0xabc")

	e, err := LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "mainnet", e.Paradex())
	require.Equal(t, "0xabc", e.HedgeAccount)
	require.Equal(t, ":9102", e.MetricsAddr)

	t.Setenv("PARADEX_ENV", "devnet")
	_, err = ParseEnv()
	require.ErrorIs(t, err, exception.ErrSetup)
}

func TestEnvFile(t *testing.T) {
	t.Setenv("PARADEX_ENV", "")
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PARADEX_ENV=testnet\nDATABASE_URL=postgres://localhost/mm\n"), 0o600))
	require.NoError(t, os.Unsetenv("PARADEX_ENV"))
	require.NoError(t, os.Unsetenv("DATABASE_URL"))

	e, err := LoadEnv(path)
	require.NoError(t, err)
	require.Equal(t, "testnet", e.Paradex())
	require.Equal(t, "postgres://localhost/mm", e.DatabaseURL)
}
