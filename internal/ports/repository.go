package ports

import (
	"context"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
)

// PositionRepository defines the interface for storing and retrieving
// positions. Implementations need only atomic single-row upserts and
// in-process read-after-write consistency; the store is mutated from a single
// cycle's thread of control.
type PositionRepository interface {
	// GetOpenPositions retrieves all currently open positions.
	GetOpenPositions(ctx context.Context) ([]*domain.Position, error)
	// Upsert inserts or replaces the open position for pos.Symbol.
	Upsert(ctx context.Context, pos *domain.Position) error
	// ClosePosition marks the open position for symbol as closed with the
	// given exit price and reason. Closing an already-closed or missing
	// position returns ErrNotFound.
	ClosePosition(ctx context.Context, symbol string, exitPrice float64, reason domain.ExitAction) error
}

// TradeRepository defines the interface for the append-only fill journal the
// ledger is replayed from.
type TradeRepository interface {
	// RecordFill appends one executed fill. Duplicate order IDs return
	// ErrDuplicateEntry.
	RecordFill(ctx context.Context, fill *domain.Fill) error
	// ListFills retrieves fills ordered by timestamp ascending, up to limit
	// (0 means no limit).
	ListFills(ctx context.Context, limit int) ([]*domain.Fill, error)
	// CountTodayBySymbol counts fills executed today for a symbol, used to
	// cap per-day trading activity.
	CountTodayBySymbol(ctx context.Context, symbol string) (int, error)
}
