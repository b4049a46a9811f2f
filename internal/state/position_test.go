package state

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mmhedge/internal/enum"
)

func TestPositionBookApply(t *testing.T) {
	b := NewPositionBook()
	require.True(t, b.Apply("ETH", enum.OrderSideSell, decimal.RequireFromString("0.5")).Equal(decimal.RequireFromString("-0.5")))
	require.True(t, b.Apply("ETH", enum.OrderSideBuy, decimal.RequireFromString("0.2")).Equal(decimal.RequireFromString("-0.3")))
	require.True(t, b.Position("BTC").IsZero())
	require.Len(t, b.Snapshot(time.Now()).Positions, 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	b := NewPositionBook()
	b.Set("ETH", decimal.RequireFromString("-1.5"))
	b.Set("BTC", decimal.RequireFromString("0.01"))

	snap := b.Snapshot(time.Unix(1700000000, 0))
	require.Equal(t, "BTC", snap.Positions[0].Symbol)

	restored := NewPositionBook()
	for _, entry := range snap.Positions {
		restored.Set(entry.Symbol, entry.Size)
	}
	require.NoError(t, CompareSnapshots(snap, restored.Snapshot(time.Now())))

	restored.Set("ETH", decimal.NewFromInt(2))
	require.Error(t, CompareSnapshots(snap, restored.Snapshot(time.Now())))
}
