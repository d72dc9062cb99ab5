// Package ledger implements the FIFO trade-matching ledger: raw exchange
// fills in, realized round trips and open remainders out. The matcher is pure
// and deterministic: replaying an identical fill set always yields identical
// matches and totals, which is how positions and PnL reports are re-derived
// from the persisted journal on restart.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

// epsilon below which a remaining size is considered fully consumed.
const epsilon = 1e-8

// Ledger accumulates validated fills and matches them FIFO per symbol.
// It does no I/O; persistence and replay are the caller's concern.
type Ledger struct {
	fills  []domain.Fill
	seen   map[string]struct{}
	logger ports.Logger
}

// New creates an empty ledger.
func New(logger ports.Logger) *Ledger {
	return &Ledger{
		seen:   make(map[string]struct{}),
		logger: logger,
	}
}

// Record validates and appends one fill. Duplicate order IDs and malformed
// fills are rejected with a ValidationError.
func (l *Ledger) Record(fill domain.Fill) error {
	if err := fill.Validate(); err != nil {
		return &ports.ValidationError{Field: "fill", Reason: err.Error()}
	}
	if _, dup := l.seen[fill.OrderID]; dup {
		return &ports.ValidationError{Field: "order_id", Reason: "duplicate order ID " + fill.OrderID}
	}
	l.seen[fill.OrderID] = struct{}{}
	l.fills = append(l.fills, fill)
	return nil
}

// Replay resets the ledger and records the given fills in order. Used on
// startup to rebuild state from the persisted journal.
func (l *Ledger) Replay(fills []*domain.Fill) error {
	l.fills = l.fills[:0]
	l.seen = make(map[string]struct{}, len(fills))
	symbols := make(map[string]struct{})
	for _, f := range fills {
		if err := l.Record(*f); err != nil {
			return err
		}
		symbols[f.Symbol] = struct{}{}
	}
	if l.logger != nil {
		l.logger.Debug(context.Background(), "ledger replayed from journal", map[string]interface{}{
			"fills": len(fills), "symbols": len(symbols),
		})
	}
	return nil
}

// Fills returns a copy of all recorded fills in record order.
func (l *Ledger) Fills() []domain.Fill {
	out := make([]domain.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// OpenLot is one buy fill's unmatched remainder.
type OpenLot struct {
	OrderID   string
	Price     float64
	Remaining float64
	Timestamp time.Time
}

// OpenPosition is the per-symbol aggregate of unmatched buys: the quantity
// still held and its remaining-cost basis.
type OpenPosition struct {
	Symbol    string
	Quantity  float64
	CostBasis float64 // remaining cost / remaining quantity
	OpenedAt  time.Time
	Lots      []OpenLot
}

// MatchResult is the full output of one FIFO matching pass.
type MatchResult struct {
	Matches []domain.MatchedTrade
	Open    map[string]OpenPosition
}

// workingFill is the value copy used during matching; the recorded fill is
// never mutated.
type workingFill struct {
	domain.Fill
	remaining float64
}

// MatchFIFO groups fills by symbol and repeatedly matches the oldest
// unmatched buy against the oldest unmatched sell for the smaller of the two
// remaining sizes. Fees are prorated by matched quantity over original size
// on each leg. When symbols is empty, every recorded symbol is matched.
//
// A sell with no older buy to consume, or a match that would draw more than
// a fill's original size, breaks the ledger's conservation invariant and
// fails with a CalculationError carrying the offending pair.
func (l *Ledger) MatchFIFO(symbols ...string) (*MatchResult, error) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	bySymbol := make(map[string][]domain.Fill)
	var order []string
	for _, f := range l.fills {
		if len(want) > 0 && !want[f.Symbol] {
			continue
		}
		if _, ok := bySymbol[f.Symbol]; !ok {
			order = append(order, f.Symbol)
		}
		bySymbol[f.Symbol] = append(bySymbol[f.Symbol], f)
	}
	sort.Strings(order)

	result := &MatchResult{Open: make(map[string]OpenPosition)}
	for _, symbol := range order {
		matches, open, err := matchSymbol(symbol, bySymbol[symbol])
		if err != nil {
			return nil, err
		}
		result.Matches = append(result.Matches, matches...)
		if open != nil {
			result.Open[symbol] = *open
		}
	}
	return result, nil
}

func matchSymbol(symbol string, fills []domain.Fill) ([]domain.MatchedTrade, *OpenPosition, error) {
	var buys, sells []workingFill
	for _, f := range fills {
		w := workingFill{Fill: f, remaining: f.Size}
		if f.Side == domain.Buy {
			buys = append(buys, w)
		} else {
			sells = append(sells, w)
		}
	}
	sortByTime(buys)
	sortByTime(sells)

	var matches []domain.MatchedTrade
	bi, si := 0, 0
	for bi < len(buys) && si < len(sells) {
		buy, sell := &buys[bi], &sells[si]

		if sell.Timestamp.Before(buy.Timestamp) {
			return nil, nil, &ports.CalculationError{
				Op:     "MatchFIFO",
				Reason: "sell precedes oldest unmatched buy",
				Inputs: map[string]interface{}{
					"symbol": symbol,
					"buy":    buy.OrderID,
					"sell":   sell.OrderID,
				},
			}
		}

		qty := buy.remaining
		if sell.remaining < qty {
			qty = sell.remaining
		}
		if qty <= 0 || qty-buy.Size > epsilon || qty-sell.Size > epsilon {
			return nil, nil, &ports.CalculationError{
				Op:     "MatchFIFO",
				Reason: "match quantity exceeds remaining size",
				Inputs: map[string]interface{}{
					"symbol": symbol,
					"buy":    buy.OrderID,
					"sell":   sell.OrderID,
					"qty":    qty,
				},
			}
		}

		gross := qty * (sell.Price - buy.Price)
		feeBuy := buy.Fee * qty / buy.Size
		feeSell := sell.Fee * qty / sell.Size
		net := gross - feeBuy - feeSell

		pnlPct := 0.0
		if cost := qty * buy.Price; cost > 0 {
			pnlPct = net / cost * 100
		}

		matches = append(matches, domain.MatchedTrade{
			Symbol:      symbol,
			BuyOrderID:  buy.OrderID,
			SellOrderID: sell.OrderID,
			Quantity:    qty,
			EntryPrice:  buy.Price,
			ExitPrice:   sell.Price,
			GrossPnL:    gross,
			Fees:        feeBuy + feeSell,
			NetPnL:      net,
			PnLPct:      pnlPct,
			OpenedAt:    buy.Timestamp,
			ClosedAt:    sell.Timestamp,
			Duration:    sell.Timestamp.Sub(buy.Timestamp),
		})

		buy.remaining -= qty
		sell.remaining -= qty
		if buy.remaining <= epsilon {
			bi++
		}
		if sell.remaining <= epsilon {
			si++
		}
	}

	if si < len(sells) && sells[si].remaining > epsilon {
		return nil, nil, &ports.CalculationError{
			Op:     "MatchFIFO",
			Reason: "sell quantity exceeds total bought quantity",
			Inputs: map[string]interface{}{
				"symbol":    symbol,
				"sell":      sells[si].OrderID,
				"remaining": sells[si].remaining,
			},
		}
	}

	open := openRemainder(symbol, buys[bi:])
	return matches, open, nil
}

// openRemainder folds the unconsumed buys into the symbol's open position.
func openRemainder(symbol string, rest []workingFill) *OpenPosition {
	var qty, cost float64
	var lots []OpenLot
	var openedAt time.Time
	for _, b := range rest {
		if b.remaining <= epsilon {
			continue
		}
		if openedAt.IsZero() {
			openedAt = b.Timestamp
		}
		qty += b.remaining
		cost += b.remaining * b.Price
		lots = append(lots, OpenLot{
			OrderID:   b.OrderID,
			Price:     b.Price,
			Remaining: b.remaining,
			Timestamp: b.Timestamp,
		})
	}
	if qty <= epsilon {
		return nil
	}
	return &OpenPosition{
		Symbol:    symbol,
		Quantity:  qty,
		CostBasis: cost / qty,
		OpenedAt:  openedAt,
		Lots:      lots,
	}
}

func sortByTime(fills []workingFill) {
	sort.SliceStable(fills, func(i, j int) bool {
		return fills[i].Timestamp.Before(fills[j].Timestamp)
	})
}
