package domain

import "time"

// TakeProfitLevel is one staged take-profit target: Price is the exit level,
// Portion is the fraction of the position quantity to close at that level.
type TakeProfitLevel struct {
	Price   float64 `json:"price"`
	Portion float64 `json:"portion"`
}

// Position is the mutable aggregate for one symbol's open spot holding: the
// FIFO-unmatched remainder of recorded buys. It is mutated on price ticks and
// partial exits from within a single cycle's thread of control, and closed
// when the remaining quantity reaches ~0.
type Position struct {
	Symbol       string            // Trading symbol (e.g., "BTCUSDT")
	Quantity     float64           // Remaining base quantity
	EntryPrice   float64           // Weighted-average cost basis of the remainder
	StopLoss     float64           // Stop-loss trigger price
	TakeProfits  []TakeProfitLevel // Staged take-profit levels, ascending by price
	TrailingStop float64           // Current trailing-stop price (0 when inactive)
	HighestPrice float64           // Highest price observed since entry
	OpenedAt     time.Time         // Timestamp of the oldest unmatched buy
	Score        float64           // Latest opportunity score [0,100]
	Status       PositionStatus    // open or closed

	// RestingOrderID is the exchange ID of an open limit sell working the
	// first take-profit level, if any (nullable in DB).
	RestingOrderID *string

	ExitPrice   float64    // Set when closed
	CloseReason ExitAction // Action that closed the position
	ClosedAt    time.Time  // Set when closed
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Value returns the position's market value at the given price.
func (p *Position) Value(price float64) float64 {
	return p.Quantity * price
}

// UnrealizedPnLPct returns the unrealized profit relative to cost basis,
// in percent, at the given price.
func (p *Position) UnrealizedPnLPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// FirstTakeProfit returns the lowest staged take-profit price, or 0 when no
// levels are set.
func (p *Position) FirstTakeProfit() float64 {
	if len(p.TakeProfits) == 0 {
		return 0
	}
	return p.TakeProfits[0].Price
}
