package domain

import (
	"fmt"
	"time"
)

// Fill is an immutable fact: a single executed order fill as reported by the
// exchange. Fills are never mutated after creation; the ledger's FIFO matcher
// works on value copies with a transient remaining size.
type Fill struct {
	OrderID     string    // Exchange order ID (unique per fill record)
	Symbol      string    // Trading symbol (e.g., "BTCUSDT")
	Side        OrderSide // BUY or SELL
	Price       float64   // Average execution price, > 0
	Size        float64   // Base quantity executed, > 0
	Funds       float64   // Quote amount exchanged, >= 0
	Fee         float64   // Fee charged, >= 0, in FeeCurrency
	FeeCurrency string    // Currency the fee was charged in
	Timestamp   time.Time // Execution time
}

// Validate checks the construction invariants for a fill.
func (f *Fill) Validate() error {
	switch {
	case f.OrderID == "":
		return fmt.Errorf("fill order ID is empty")
	case f.Symbol == "":
		return fmt.Errorf("fill symbol is empty")
	case !f.Side.IsValid():
		return fmt.Errorf("fill side %q is not BUY or SELL", f.Side)
	case f.Price <= 0:
		return fmt.Errorf("fill price %v must be positive", f.Price)
	case f.Size <= 0:
		return fmt.Errorf("fill size %v must be positive", f.Size)
	case f.Funds < 0:
		return fmt.Errorf("fill funds %v cannot be negative", f.Funds)
	case f.Fee < 0:
		return fmt.Errorf("fill fee %v cannot be negative", f.Fee)
	case f.Timestamp.IsZero():
		return fmt.Errorf("fill timestamp is zero")
	}
	return nil
}

// MatchedTrade is a derived fact: one closed buy+sell round trip, possibly
// partial relative to the original fills. Only the ledger's FIFO matcher
// creates these; they are immutable once produced.
type MatchedTrade struct {
	Symbol      string        // Trading symbol
	BuyOrderID  string        // Order ID of the buy leg
	SellOrderID string        // Order ID of the sell leg
	Quantity    float64       // Matched quantity (<= either leg's remaining size)
	EntryPrice  float64       // Buy leg price
	ExitPrice   float64       // Sell leg price
	GrossPnL    float64       // Quantity * (exit - entry)
	Fees        float64       // Prorated buy + sell fees for the matched slice
	NetPnL      float64       // GrossPnL - Fees
	PnLPct      float64       // NetPnL relative to entry cost, in percent
	OpenedAt    time.Time     // Buy leg timestamp
	ClosedAt    time.Time     // Sell leg timestamp
	Duration    time.Duration // ClosedAt - OpenedAt
}
