// Package rotation classifies open positions into exit actions each cycle
// and schedules the resulting intents in strict priority order. The engine is
// pure decision logic: prices and scores come in, ordered intents go out, and
// the execution layer does the I/O.
package rotation

import (
	"fmt"
	"sort"
	"time"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

// Thresholds configure the classification rules. Like risk.Parameters they
// are passed in explicitly, never read from a global.
type Thresholds struct {
	TakeProfitPct float64       // unrealized gain (percent) that takes profit
	StopLossPct   float64       // unrealized loss (percent) that cuts the position
	StaleAfter    time.Duration // age after which a flat position is rotated out
	StaleMovePct  float64       // |pnl| (percent) under which an aged position counts as flat
	MaxHoldTime   time.Duration // unconditional age limit
	MinScore      float64       // score under which a position is rotated out
	DustThreshold float64       // market value (quote) under which a position is dust
}

// Quote is the fresh per-symbol market view for one evaluation.
type Quote struct {
	Price float64
	Score float64
}

// Intent is one classified exit decision, ready for execution.
type Intent struct {
	Symbol   string
	Action   domain.ExitAction
	Reason   string
	Price    float64 // price the classification was made at
	PnLPct   float64
	Value    float64 // market value at classification time
	Age      time.Duration
	Position *domain.Position
}

// CycleSummary reports what one rotation cycle decided and executed.
type CycleSummary struct {
	StartedAt        time.Time
	Evaluated        int
	TradesExecuted   int
	TotalRealizedPnL float64
	CapitalFreed     float64
	ByAction         map[domain.ExitAction][]string
	Failures         map[string]string // symbol -> error message
}

// NewCycleSummary returns an empty summary for a cycle starting now.
func NewCycleSummary(now time.Time) *CycleSummary {
	return &CycleSummary{
		StartedAt: now,
		ByAction:  make(map[domain.ExitAction][]string),
		Failures:  make(map[string]string),
	}
}

// RecordFill accumulates one confirmed exit into the summary.
func (s *CycleSummary) RecordFill(intent Intent, realizedPnL, capitalFreed float64) {
	s.TradesExecuted++
	s.TotalRealizedPnL += realizedPnL
	s.CapitalFreed += capitalFreed
}

// Engine classifies positions and schedules exit intents.
type Engine struct {
	thresholds Thresholds
	logger     ports.Logger
}

// New creates a rotation engine.
func New(thresholds Thresholds, logger ports.Logger) *Engine {
	return &Engine{thresholds: thresholds, logger: logger}
}

// Classify assigns exactly one action to a position. Rules are evaluated in
// fixed order and the first match wins; a position that matches nothing is
// held. A closed position is always a hold (re-evaluation is a no-op).
func (e *Engine) Classify(pos *domain.Position, q Quote, now time.Time) Intent {
	intent := Intent{
		Symbol:   pos.Symbol,
		Action:   domain.ActionHold,
		Price:    q.Price,
		PnLPct:   pos.UnrealizedPnLPct(q.Price),
		Value:    pos.Value(q.Price),
		Age:      now.Sub(pos.OpenedAt),
		Position: pos,
	}
	if !pos.IsOpen() || pos.Quantity <= 0 {
		intent.Reason = "position not open"
		return intent
	}

	th := e.thresholds
	switch {
	case intent.PnLPct >= th.TakeProfitPct:
		intent.Action = domain.ActionTakeProfit
		intent.Reason = fmt.Sprintf("pnl %.2f%% >= target %.2f%%", intent.PnLPct, th.TakeProfitPct)
	case pos.FirstTakeProfit() > 0 && q.Price >= pos.FirstTakeProfit():
		intent.Action = domain.ActionTakeProfit
		intent.Reason = fmt.Sprintf("price %.4f at or above take-profit level %.4f", q.Price, pos.FirstTakeProfit())
	case intent.PnLPct <= -th.StopLossPct:
		intent.Action = domain.ActionStopLoss
		intent.Reason = fmt.Sprintf("pnl %.2f%% <= stop %.2f%%", intent.PnLPct, -th.StopLossPct)
	case pos.StopLoss > 0 && q.Price <= pos.StopLoss:
		intent.Action = domain.ActionStopLoss
		intent.Reason = fmt.Sprintf("price %.4f at or under stop %.4f", q.Price, pos.StopLoss)
	case pos.TrailingStop > 0 && q.Price <= pos.TrailingStop:
		intent.Action = domain.ActionStopLoss
		intent.Reason = fmt.Sprintf("price %.4f at or under trailing stop %.4f", q.Price, pos.TrailingStop)
	case intent.Age > th.StaleAfter && abs(intent.PnLPct) < th.StaleMovePct:
		intent.Action = domain.ActionStaleExit
		intent.Reason = fmt.Sprintf("aged %s with |pnl| %.2f%% under %.2f%%", intent.Age.Round(time.Minute), intent.PnLPct, th.StaleMovePct)
	case intent.Age > th.MaxHoldTime:
		intent.Action = domain.ActionStaleExit
		intent.Reason = fmt.Sprintf("aged %s past max hold %s", intent.Age.Round(time.Minute), th.MaxHoldTime)
	case q.Score < th.MinScore:
		intent.Action = domain.ActionStaleExit
		intent.Reason = fmt.Sprintf("score %.1f under minimum %.1f", q.Score, th.MinScore)
	case intent.Value < th.DustThreshold:
		intent.Action = domain.ActionConsolidate
		intent.Reason = fmt.Sprintf("value %.2f under dust threshold %.2f", intent.Value, th.DustThreshold)
	default:
		intent.Reason = "holding"
	}
	return intent
}

// PlanCycle classifies every position against its fresh quote and returns the
// exit intents ordered for execution: TAKE_PROFIT, then STOP_LOSS, then
// STALE_EXIT, then CONSOLIDATE. Positions without a quote are skipped (their
// symbol failed this cycle; partial-failure isolation keeps the rest moving).
// Holds are not returned.
func (e *Engine) PlanCycle(positions []*domain.Position, quotes map[string]Quote, now time.Time) []Intent {
	var intents []Intent
	for _, pos := range positions {
		q, ok := quotes[pos.Symbol]
		if !ok {
			continue
		}
		intent := e.Classify(pos, q, now)
		if intent.Action == domain.ActionHold {
			continue
		}
		intents = append(intents, intent)
	}

	// Stable sort keeps the per-action ordering deterministic (input order)
	// while enforcing the action priority.
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].Action.Priority() < intents[j].Action.Priority()
	})
	return intents
}

// StillTriggered re-classifies an intent's position at the latest price and
// reports whether the same action is still selected. The execution gateway
// calls this immediately before any sell so a stale classification aborts
// with no side effect.
func (e *Engine) StillTriggered(intent Intent, price float64) bool {
	fresh := e.Classify(intent.Position, Quote{Price: price, Score: intent.Position.Score}, time.Now())
	return fresh.Action == intent.Action
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
