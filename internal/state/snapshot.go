package state

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot captures positions at a point in time.
type Snapshot struct {
	At        time.Time       `json:"at"`
	Positions []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	Symbol string          `json:"symbol"`
	Size   decimal.Decimal `json:"size"`
}

// Snapshot builds a snapshot sorted by symbol.
func (b *PositionBook) Snapshot(at time.Time) Snapshot {
	entries := make([]PositionEntry, 0, len(b.positions))
	for symbol, size := range b.positions {
		entries = append(entries, PositionEntry{Symbol: symbol, Size: size})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Symbol < entries[j].Symbol
	})
	return Snapshot{At: at, Positions: entries}
}

// CompareSnapshots checks if two snapshots hold the same positions.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[string]decimal.Decimal, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.Symbol] = entry.Size
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.Symbol]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %s", entry.Symbol)
		}
		if !want.Equal(entry.Size) {
			return fmt.Errorf("snapshot size mismatch: symbol=%s expected=%s actual=%s", entry.Symbol, want, entry.Size)
		}
	}
	return nil
}
