package journal

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mmhedge/internal/errors"
	"mmhedge/internal/fill"
	"mmhedge/internal/hedge"
)

var _ hedge.Recorder = (*Journal)(nil)

// Migrate creates or updates the journal tables.
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&FillRecord{}, &HedgeRecord{}), "migrate journal")
}

// Journal writes the audit trail of one wallet. A nil Journal discards writes.
type Journal struct {
	db     *gorm.DB
	wallet string
	venue  string
}

// New creates a journal for wallet. Call Migrate once beforehand.
func New(db *gorm.DB, wallet, hedgeVenue string) *Journal {
	return &Journal{db: db, wallet: wallet, venue: hedgeVenue}
}

// RecordFill stores e. Replays of an already stored increment are ignored.
func (j *Journal) RecordFill(ctx context.Context, e fill.Event) error {
	if j == nil || j.db == nil {
		return nil
	}
	rec := FillRecord{
		Wallet:   j.wallet,
		Market:   e.Market,
		Venue:    e.SourceVenue,
		OrderID:  e.OrderID,
		FillID:   e.FillID,
		Side:     e.Side.String(),
		Size:     e.DeltaSize,
		Price:    e.Price,
		FilledAt: e.At,
	}
	err := j.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	return errors.Wrapf(err, "record fill %s", e.Key())
}

// RecordHedge stores res.
func (j *Journal) RecordHedge(ctx context.Context, res hedge.Result) error {
	if j == nil || j.db == nil {
		return nil
	}
	rec := HedgeRecord{
		Wallet:    j.wallet,
		Market:    res.Market,
		Venue:     j.venue,
		Symbol:    res.Order.Symbol,
		Status:    string(res.Status),
		Size:      res.Order.Size,
		Price:     res.Order.Price,
		ClientID:  res.Order.ClientID,
		AckID:     res.Ack.ID,
		FillKeys:  strings.Join(res.FillKeys, ","),
		Position:  res.Position,
		LatencyMs: res.Latency.Milliseconds(),
	}
	if res.Order.Side.IsAvailable() {
		rec.Side = res.Order.Side.String()
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	err := j.db.WithContext(ctx).Create(&rec).Error
	return errors.Wrapf(err, "record hedge %s", res.Order.ClientID)
}

// Fills lists recorded fills of market, oldest first.
func (j *Journal) Fills(ctx context.Context, market string) ([]FillRecord, error) {
	var out []FillRecord
	err := j.db.WithContext(ctx).
		Where("wallet = ? AND market = ?", j.wallet, market).
		Order("id").
		Find(&out).Error
	return out, errors.Wrap(err, "list fills")
}

// Hedges lists recorded hedges of market, oldest first.
func (j *Journal) Hedges(ctx context.Context, market string) ([]HedgeRecord, error) {
	var out []HedgeRecord
	err := j.db.WithContext(ctx).
		Where("wallet = ? AND market = ?", j.wallet, market).
		Order("id").
		Find(&out).Error
	return out, errors.Wrap(err, "list hedges")
}
