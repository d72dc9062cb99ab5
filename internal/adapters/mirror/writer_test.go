package mirror

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ledger"
)

func TestBuildSnapshot(t *testing.T) {
	opened := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	positions := []*domain.Position{
		{
			Symbol:     "BTCUSDT",
			Quantity:   0.01,
			EntryPrice: 50000,
			StopLoss:   47500,
			TakeProfits: []domain.TakeProfitLevel{
				{Price: 50750, Portion: 1},
			},
			OpenedAt: opened,
			Score:    81,
			Status:   domain.StatusOpen,
		},
		{
			Symbol:     "ETHUSDT",
			Quantity:   0.5,
			EntryPrice: 2000,
			StopLoss:   1900,
			OpenedAt:   opened,
			Status:     domain.StatusOpen,
		},
	}
	prices := map[string]float64{"BTCUSDT": 51000}
	daily := ledger.DailyStats{Trades: 3, Wins: 2, Losses: 1, PnL: 12.5}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snap := BuildSnapshot(positions, prices, daily, now)

	require.Len(t, snap.Positions, 2)
	btc := snap.Positions["BTCUSDT"]
	assert.InDelta(t, 51000, btc.CurrentPrice, 1e-9)
	assert.InDelta(t, 50750, btc.TakeProfit, 1e-9)
	assert.InDelta(t, 2.0, btc.UnrealizedPnLPct, 1e-9)

	eth := snap.Positions["ETHUSDT"]
	assert.InDelta(t, 2000, eth.CurrentPrice, 1e-9, "missing price falls back to entry")
	assert.InDelta(t, 0, eth.UnrealizedPnLPct, 1e-9)
	assert.InDelta(t, 0, eth.TakeProfit, 1e-9)

	assert.Equal(t, daily, snap.Daily)
	assert.True(t, snap.Updated.Equal(now))
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "mirror.json")
	w, err := NewWriter(path)
	require.NoError(t, err)

	snap := BuildSnapshot([]*domain.Position{
		{
			Symbol:     "BTCUSDT",
			Quantity:   0.01,
			EntryPrice: 50000,
			StopLoss:   47500,
			OpenedAt:   time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
			Status:     domain.StatusOpen,
		},
	}, map[string]float64{"BTCUSDT": 50800}, ledger.DailyStats{Trades: 1, Wins: 1, PnL: 6.9}, time.Now())

	require.NoError(t, w.Write(snap))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	require.Contains(t, got.Positions, "BTCUSDT")
	assert.InDelta(t, 50800, got.Positions["BTCUSDT"].CurrentPrice, 1e-9)
	assert.Equal(t, 1, got.Daily.Trades)
}

func TestWriteReplacesExistingAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.json")
	w, err := NewWriter(path)
	require.NoError(t, err)

	first := Snapshot{Positions: map[string]PositionView{}, Daily: ledger.DailyStats{Trades: 1}, Updated: time.Now()}
	require.NoError(t, w.Write(first))
	second := Snapshot{Positions: map[string]PositionView{}, Daily: ledger.DailyStats{Trades: 2}, Updated: time.Now()}
	require.NoError(t, w.Write(second))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 2, got.Daily.Trades)

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
