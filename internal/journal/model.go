package journal

import (
	"time"

	"github.com/shopspring/decimal"
)

// FillRecord is one exactly-once fill increment.
type FillRecord struct {
	ID        uint            `gorm:"primaryKey"`
	Wallet    string          `gorm:"size:64;index:idx_fill_wallet_market"`
	Market    string          `gorm:"size:64;index:idx_fill_wallet_market"`
	Venue     string          `gorm:"size:32"`
	OrderID   string          `gorm:"size:128;uniqueIndex:idx_fill_key"`
	FillID    string          `gorm:"size:128;uniqueIndex:idx_fill_key"`
	Side      string          `gorm:"size:8"`
	Size      decimal.Decimal `gorm:"type:numeric(36,18)"`
	Price     decimal.Decimal `gorm:"type:numeric(36,18)"`
	FilledAt  time.Time
	CreatedAt time.Time
}

func (FillRecord) TableName() string { return "mm_fills" }

// HedgeRecord is one hedge coordinator outcome that reached the venue, or
// failed trying.
type HedgeRecord struct {
	ID        uint            `gorm:"primaryKey"`
	Wallet    string          `gorm:"size:64;index:idx_hedge_wallet_market"`
	Market    string          `gorm:"size:64;index:idx_hedge_wallet_market"`
	Venue     string          `gorm:"size:32"`
	Symbol    string          `gorm:"size:32"`
	Status    string          `gorm:"size:16"`
	Side      string          `gorm:"size:8"`
	Size      decimal.Decimal `gorm:"type:numeric(36,18)"`
	Price     decimal.Decimal `gorm:"type:numeric(36,18)"`
	ClientID  string          `gorm:"size:64;index"`
	AckID     string          `gorm:"size:128"`
	FillKeys  string          `gorm:"type:text"`
	Position  string          `gorm:"size:64"`
	LatencyMs int64
	Error     string `gorm:"type:text"`
	CreatedAt time.Time
}

func (HedgeRecord) TableName() string { return "mm_hedges" }
