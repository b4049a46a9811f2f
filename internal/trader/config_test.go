package trader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mmhedge/internal/fill"
	"mmhedge/internal/ops"
)

func TestFromTaskCarriesFillRetention(t *testing.T) {
	task := ops.Task{Wallet: "w1", Market: market}
	loaded := ops.Loaded{Loop: ops.LoopSpec{FillRetention: 2 * time.Minute}}

	cfg := FromTask(task, loaded).withDefaults()
	if cfg.FillRetention != 2*time.Minute {
		t.Fatalf("fill retention mismatch: got %s want %s", cfg.FillRetention, 2*time.Minute)
	}
	require.Equal(t, "w1/"+market, cfg.Key())

	cfg = FromTask(task, ops.Loaded{}).withDefaults()
	require.Equal(t, fill.DefaultRetention, cfg.FillRetention)
	require.Equal(t, DefaultQueueSize, cfg.QueueSize)
}
