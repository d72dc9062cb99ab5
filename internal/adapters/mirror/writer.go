// Package mirror writes the read-only JSON state snapshot consumed by
// external monitoring. The snapshot is written atomically (temp file, fsync,
// rename) once per cycle; nothing in the engine ever reads it back.
package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ledger"
)

// PositionView is one open position as exposed to monitoring.
type PositionView struct {
	Quantity         float64   `json:"quantity"`
	BuyPrice         float64   `json:"buy_price"`
	CurrentPrice     float64   `json:"current_price"`
	TakeProfit       float64   `json:"tp"`
	StopLoss         float64   `json:"sl"`
	Opened           time.Time `json:"opened"`
	OpportunityScore float64   `json:"opportunity_score"`
	UnrealizedPnLPct float64   `json:"unrealized_pnl_pct"`
}

// Snapshot is the full mirror file contents.
type Snapshot struct {
	Positions map[string]PositionView `json:"positions"`
	Daily     ledger.DailyStats       `json:"daily"`
	Updated   time.Time               `json:"updated"`
}

// Writer persists snapshots to a fixed path.
type Writer struct {
	path string
	now  func() time.Time
}

// NewWriter creates a mirror writer targeting path.
func NewWriter(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("mirror path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return &Writer{path: path, now: time.Now}, nil
}

// BuildSnapshot assembles a snapshot from open positions, their latest
// prices, and today's realized stats. Positions without a known price carry
// their entry price.
func BuildSnapshot(positions []*domain.Position, prices map[string]float64, daily ledger.DailyStats, now time.Time) Snapshot {
	views := make(map[string]PositionView, len(positions))
	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			price = pos.EntryPrice
		}
		views[pos.Symbol] = PositionView{
			Quantity:         pos.Quantity,
			BuyPrice:         pos.EntryPrice,
			CurrentPrice:     price,
			TakeProfit:       pos.FirstTakeProfit(),
			StopLoss:         pos.StopLoss,
			Opened:           pos.OpenedAt,
			OpportunityScore: pos.Score,
			UnrealizedPnLPct: pos.UnrealizedPnLPct(price),
		}
	}
	return Snapshot{Positions: views, Daily: daily, Updated: now.UTC()}
}

// Write renders the snapshot and swaps it into place. A crash mid-write
// leaves the previous file intact.
func (w *Writer) Write(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mirror snapshot: %w", err)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create mirror temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write mirror temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync mirror temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close mirror temp file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("failed to swap mirror file into place: %w", err)
	}
	return nil
}
