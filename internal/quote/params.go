package quote

import (
	"github.com/shopspring/decimal"

	"mmhedge/internal/errors"
	"mmhedge/pkg/exception"
)

var (
	DefaultPriceTick = decimal.New(1, -2)
	DefaultSizeStep  = decimal.New(1, -4)
)

// Params configures the VAMP market maker.
type Params struct {
	// OrderValue is the target notional of every order.
	OrderValue       decimal.Decimal
	BaseSpreadBps    decimal.Decimal
	InventorySkewBps decimal.Decimal
	OrdersPerSide    int
	// MinSpread is the narrowest allowed bid/ask distance in price units.
	MinSpread decimal.Decimal
	// DustThreshold is the absolute position below which both sides are quoted.
	// Zero means one SizeStep.
	DustThreshold decimal.Decimal
	PriceTick     decimal.Decimal
	SizeStep      decimal.Decimal
}

// WithDefaults fills optional fields.
func (p Params) WithDefaults() Params {
	if p.OrdersPerSide == 0 {
		p.OrdersPerSide = 1
	}
	if p.PriceTick.IsZero() {
		p.PriceTick = DefaultPriceTick
	}
	if p.SizeStep.IsZero() {
		p.SizeStep = DefaultSizeStep
	}
	if p.DustThreshold.IsZero() {
		p.DustThreshold = p.SizeStep
	}
	return p
}

// Validate reports the first invalid field as ErrInvalidStrategyParams.
func (p Params) Validate() error {
	switch {
	case !p.OrderValue.IsPositive():
		return errors.Wrapf(exception.ErrInvalidStrategyParams, "orderValue must be > 0, got %s", p.OrderValue)
	case p.BaseSpreadBps.IsNegative():
		return errors.Wrapf(exception.ErrInvalidStrategyParams, "baseSpreadBps must be >= 0, got %s", p.BaseSpreadBps)
	case p.InventorySkewBps.IsNegative():
		return errors.Wrapf(exception.ErrInvalidStrategyParams, "inventorySkewBps must be >= 0, got %s", p.InventorySkewBps)
	case p.OrdersPerSide < 1:
		return errors.Wrapf(exception.ErrInvalidStrategyParams, "ordersPerSide must be >= 1, got %d", p.OrdersPerSide)
	case p.MinSpread.IsNegative():
		return errors.Wrapf(exception.ErrInvalidStrategyParams, "minSpread must be >= 0, got %s", p.MinSpread)
	case p.DustThreshold.IsNegative():
		return errors.Wrapf(exception.ErrInvalidStrategyParams, "dustThreshold must be >= 0, got %s", p.DustThreshold)
	case !p.PriceTick.IsPositive():
		return errors.Wrapf(exception.ErrInvalidStrategyParams, "priceTick must be > 0, got %s", p.PriceTick)
	case !p.SizeStep.IsPositive():
		return errors.Wrapf(exception.ErrInvalidStrategyParams, "sizeStep must be > 0, got %s", p.SizeStep)
	}
	return nil
}
