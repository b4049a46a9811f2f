package enum

import "strings"

// HedgeMode market, limit
type HedgeMode uint8

const (
	_hedge_mode_beg HedgeMode = iota
	HedgeModeMarket
	HedgeModeLimit
	_hedge_mode_end
)

func (m HedgeMode) IsAvailable() bool {
	return m > _hedge_mode_beg && m < _hedge_mode_end
}

func (m HedgeMode) String() string {
	switch m {
	case HedgeModeMarket:
		return "market"
	case HedgeModeLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// ParseHedgeMode defaults an empty string to market.
func ParseHedgeMode(s string) HedgeMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "market":
		return HedgeModeMarket
	case "limit":
		return HedgeModeLimit
	default:
		return _hedge_mode_beg
	}
}

// FillMode push, poll
type FillMode uint8

const (
	FillModePush FillMode = iota + 1
	FillModePoll
)

func (m FillMode) String() string {
	switch m {
	case FillModePush:
		return "push"
	case FillModePoll:
		return "poll"
	default:
		return "unknown"
	}
}
