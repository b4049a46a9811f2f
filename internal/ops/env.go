package ops

import (
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"mmhedge/internal/errors"
	"mmhedge/internal/venue/paradex"
	"mmhedge/pkg/exception"
)

// Env is the process environment, optionally seeded from .env files.
type Env struct {
	ParadexEnv string `env:"PARADEX_ENV,required" validate:"oneof=testnet mainnet"`

	HedgeAccount string `env:"HYPERLIQUID_ACCOUNT"`
	HedgeSecret  string `env:"HYPERLIQUID_SECRET"`
	HedgeTestnet bool   `env:"HYPERLIQUID_TESTNET"`

	DatabaseURL   string `env:"DATABASE_URL"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9102"`
	PyroscopeAddr string `env:"PYROSCOPE_ADDR"`
}

// Paradex maps PARADEX_ENV to the client environment.
func (e Env) Paradex() string {
	if e.ParadexEnv == "mainnet" {
		return paradex.EnvMainnet
	}
	return paradex.EnvTestnet
}

// LoadEnv loads files into the environment (missing files are fine) and
// parses it.
func LoadEnv(files ...string) (Env, error) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, errors.Wrapf(exception.ErrSetup, "load %s: %v", file, err)
		}
	}
	return ParseEnv()
}

// ParseEnv reads Env from the current environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, errors.Wrapf(exception.ErrSetup, "parse env: %v", err)
	}
	if err := validate.Struct(e); err != nil {
		return Env{}, errors.Wrapf(exception.ErrSetup, "PARADEX_ENV must be testnet or mainnet: %v", err)
	}
	return e, nil
}
