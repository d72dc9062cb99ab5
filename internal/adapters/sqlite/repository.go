// Package sqlite implements the position store and the append-only fill
// journal on SQLite. The fill journal is the source of truth: positions are
// re-derived from it on startup, so the positions table is a cache of the
// latest derivation plus risk levels.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

// Repository implements ports.PositionRepository and ports.TradeRepository
// using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database, initializes the schema and
// returns a ready repository.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/rotator.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL keeps readers unblocked during the cycle's writes.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profits TEXT NOT NULL DEFAULT '[]',
		trailing_stop REAL NOT NULL DEFAULT 0,
		highest_price REAL NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		resting_order_id TEXT DEFAULT NULL,
		exit_price REAL DEFAULT NULL,
		close_reason TEXT DEFAULT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);
	-- At most one open position per symbol.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_symbol
		ON positions (symbol) WHERE status = 'open';
	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);

	CREATE TABLE IF NOT EXISTS fills (
		order_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		size REAL NOT NULL,
		funds REAL NOT NULL,
		fee REAL NOT NULL,
		fee_currency TEXT NOT NULL DEFAULT '',
		executed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_symbol_time ON fills (symbol, executed_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for health probes.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository ---

// GetOpenPositions retrieves all currently open positions.
func (r *Repository) GetOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT symbol, quantity, entry_price, stop_loss, take_profits, trailing_stop,
	       highest_price, opened_at, score, status, resting_order_id,
	       COALESCE(exit_price, 0), close_reason, closed_at
	FROM positions
	WHERE status = ?
	ORDER BY opened_at ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// Upsert inserts or replaces the open position for pos.Symbol.
func (r *Repository) Upsert(ctx context.Context, pos *domain.Position) error {
	levels, err := json.Marshal(pos.TakeProfits)
	if err != nil {
		return fmt.Errorf("failed to encode take-profit levels for %s: %w", pos.Symbol, err)
	}

	const query = `
	INSERT INTO positions (symbol, quantity, entry_price, stop_loss, take_profits,
	                       trailing_stop, highest_price, opened_at, score, status, resting_order_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol) WHERE status = 'open' DO UPDATE SET
		quantity = excluded.quantity,
		entry_price = excluded.entry_price,
		stop_loss = excluded.stop_loss,
		take_profits = excluded.take_profits,
		trailing_stop = excluded.trailing_stop,
		highest_price = excluded.highest_price,
		score = excluded.score,
		resting_order_id = excluded.resting_order_id`

	var restingID sql.NullString
	if pos.RestingOrderID != nil {
		restingID = sql.NullString{String: *pos.RestingOrderID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Quantity, pos.EntryPrice, pos.StopLoss, string(levels),
		pos.TrailingStop, pos.HighestPrice, pos.OpenedAt, pos.Score, domain.StatusOpen, restingID)
	if err != nil {
		return fmt.Errorf("failed to upsert position for %s: %w", pos.Symbol, err)
	}
	r.logger.Debug(ctx, "Position upserted", map[string]interface{}{
		"symbol": pos.Symbol, "quantity": pos.Quantity, "entryPrice": pos.EntryPrice,
	})
	return nil
}

// Close marks the open position for symbol as closed.
func (r *Repository) ClosePosition(ctx context.Context, symbol string, exitPrice float64, reason domain.ExitAction) error {
	const query = `
	UPDATE positions
	SET status = ?, exit_price = ?, close_reason = ?, closed_at = ?, resting_order_id = NULL
	WHERE symbol = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		domain.StatusClosed, exitPrice, string(reason), time.Now().UTC(), symbol, domain.StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to close position for %s: %w", symbol, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected closing position for %s: %w", symbol, err)
	}
	if affected == 0 {
		return fmt.Errorf("no open position for %s: %w", symbol, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position closed", map[string]interface{}{
		"symbol": symbol, "exitPrice": exitPrice, "reason": string(reason),
	})
	return nil
}

// --- TradeRepository ---

// RecordFill appends one executed fill to the journal.
func (r *Repository) RecordFill(ctx context.Context, fill *domain.Fill) error {
	const query = `
	INSERT INTO fills (order_id, symbol, side, price, size, funds, fee, fee_currency, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		fill.OrderID, fill.Symbol, string(fill.Side), fill.Price, fill.Size,
		fill.Funds, fill.Fee, fill.FeeCurrency, fill.Timestamp.UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("fill %s already recorded: %w", fill.OrderID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert fill %s: %w", fill.OrderID, err)
	}
	return nil
}

// ListFills retrieves fills ordered by timestamp ascending. A limit of 0
// returns everything.
func (r *Repository) ListFills(ctx context.Context, limit int) ([]*domain.Fill, error) {
	const query = `
	SELECT order_id, symbol, side, price, size, funds, fee, fee_currency, executed_at
	FROM fills
	ORDER BY executed_at ASC, order_id ASC
	LIMIT ?`

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	fills := make([]*domain.Fill, 0)
	for rows.Next() {
		f := &domain.Fill{}
		var side string
		if err := rows.Scan(&f.OrderID, &f.Symbol, &side, &f.Price, &f.Size,
			&f.Funds, &f.Fee, &f.FeeCurrency, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.Side = domain.OrderSide(side)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fill rows: %w", err)
	}
	return fills, nil
}

// CountTodayBySymbol counts fills executed today (UTC) for a symbol.
func (r *Repository) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	const query = `SELECT COUNT(*) FROM fills WHERE symbol = ? AND date(executed_at) = date('now')`
	var count int
	if err := r.db.QueryRowContext(ctx, query, symbol).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count fills today for %s: %w", symbol, err)
	}
	return count, nil
}

// --- helpers ---

// scanner is compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var levels string
	var status string
	var restingID sql.NullString
	var closeReason sql.NullString
	var closedAt sql.NullTime
	err := s.Scan(
		&p.Symbol, &p.Quantity, &p.EntryPrice, &p.StopLoss, &levels, &p.TrailingStop,
		&p.HighestPrice, &p.OpenedAt, &p.Score, &status, &restingID,
		&p.ExitPrice, &closeReason, &closedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(levels), &p.TakeProfits); err != nil {
		return nil, fmt.Errorf("failed to decode take-profit levels for %s: %w", p.Symbol, err)
	}
	p.Status = domain.PositionStatus(status)
	if restingID.Valid {
		id := restingID.String
		p.RestingOrderID = &id
	}
	if closeReason.Valid {
		p.CloseReason = domain.ExitAction(closeReason.String)
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	return p, nil
}
