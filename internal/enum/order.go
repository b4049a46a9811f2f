package enum

import (
	"strings"

	"github.com/shopspring/decimal"
)

// OrderSide buy, sell
type OrderSide uint8

const (
	_order_side_beg OrderSide = iota
	OrderSideBuy
	OrderSideSell
	_order_side_end
)

func (s OrderSide) IsAvailable() bool {
	return s > _order_side_beg && s < _order_side_end
}

// Opposite returns the side that offsets s.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return s
	}
}

// Sign is +1 for buys and -1 for sells.
func (s OrderSide) Sign() decimal.Decimal {
	switch s {
	case OrderSideBuy:
		return decimal.NewFromInt(1)
	case OrderSideSell:
		return decimal.NewFromInt(-1)
	default:
		return decimal.Zero
	}
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderSide accepts BUY/SELL in any case, plus LONG/SHORT.
func ParseOrderSide(s string) OrderSide {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B", "BID", "LONG":
		return OrderSideBuy
	case "SELL", "S", "A", "ASK", "SHORT":
		return OrderSideSell
	default:
		return _order_side_beg
	}
}

// SideOf returns the side that moves a position by delta.
func SideOf(delta decimal.Decimal) OrderSide {
	if delta.IsNegative() {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus open, filled, cancelled
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusOpen
	OrderStatusFilled
	OrderStatusCancelled
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "OPEN"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderStatus maps venue status strings. NEW and UNTRIGGERED count as open.
func ParseOrderStatus(s string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN", "NEW", "UNTRIGGERED", "PARTIALLY_FILLED":
		return OrderStatusOpen
	case "FILLED":
		return OrderStatusFilled
	case "CLOSED", "CANCELED", "CANCELLED", "REJECTED", "EXPIRED":
		return OrderStatusCancelled
	default:
		return _order_status_beg
	}
}

// OrderTimeInForce GTC, IOC, POST_ONLY
type OrderTimeInForce uint8

const (
	_order_time_in_force_beg OrderTimeInForce = iota
	OrderTimeInForceGTC
	OrderTimeInForceIOC
	OrderTimeInForcePostOnly
	_order_time_in_force_end
)

func (s OrderTimeInForce) IsAvailable() bool {
	return s > _order_time_in_force_beg && s < _order_time_in_force_end
}

func (s OrderTimeInForce) String() string {
	switch s {
	case OrderTimeInForceGTC:
		return "GTC"
	case OrderTimeInForceIOC:
		return "IOC"
	case OrderTimeInForcePostOnly:
		return "POST_ONLY"
	default:
		return "UNKNOWN"
	}
}
