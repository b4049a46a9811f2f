package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"mmhedge/internal/errors"
	"mmhedge/internal/quote"
	"mmhedge/pkg/exception"
)

// Reason names why an order was denied.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonKillSwitch    Reason = "kill_switch"
	ReasonRateLimit     Reason = "rate_limit"
	ReasonMaxNotional   Reason = "max_notional"
	ReasonPositionLimit Reason = "position_limit"
)

// Config defines simple pre-trade limits. Zero values disable a check.
type Config struct {
	KillSwitch       bool
	MaxOrderNotional decimal.Decimal
	MaxPosition      decimal.Decimal
	OrderRateLimit   int
	OrderRateWindow  time.Duration
}

// Engine evaluates placements. It is owned by one tick goroutine.
type Engine struct {
	cfg     Config
	limiter *rate.Limiter
}

// NewEngine creates a risk engine with static limits. The order rate is a
// bucket of OrderRateLimit placements refilled over OrderRateWindow.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	if cfg.OrderRateLimit > 0 && cfg.OrderRateWindow > 0 {
		e.limiter = rate.NewLimiter(rate.Every(cfg.OrderRateWindow/time.Duration(cfg.OrderRateLimit)), cfg.OrderRateLimit)
	}
	return e
}

// Evaluate returns ErrOrderRiskDenied when order must not be placed given the
// current position.
func (e *Engine) Evaluate(order quote.Order, position decimal.Decimal, now time.Time) (Reason, error) {
	if e == nil {
		return ReasonNone, nil
	}
	if now.IsZero() {
		now = time.Now()
	}

	if e.cfg.KillSwitch {
		return deny(ReasonKillSwitch)
	}

	if e.cfg.MaxOrderNotional.IsPositive() && order.Price.Mul(order.Size).GreaterThan(e.cfg.MaxOrderNotional) {
		return deny(ReasonMaxNotional)
	}

	if e.cfg.MaxPosition.IsPositive() {
		next := position.Add(order.Size.Mul(order.Side.Sign()))
		reduces := next.Abs().LessThan(position.Abs())
		if next.Abs().GreaterThan(e.cfg.MaxPosition) && !reduces {
			return deny(ReasonPositionLimit)
		}
	}

	if e.limiter != nil && !e.limiter.AllowN(now, 1) {
		return deny(ReasonRateLimit)
	}

	return ReasonNone, nil
}

func deny(reason Reason) (Reason, error) {
	return reason, errors.Wrap(exception.ErrOrderRiskDenied, string(reason))
}
