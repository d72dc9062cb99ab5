// Package risk prices position size, stop-loss, staged take-profit and
// trailing-stop levels under volatility, trend and regime inputs, and gates
// positions against per-trade and portfolio limits. All functions are pure:
// numeric inputs in, prices out, no I/O.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

// Engine computes risk prices from explicit Parameters.
type Engine struct {
	params Parameters
}

// New creates a risk engine.
func New(params Parameters) *Engine {
	return &Engine{params: params}
}

// Params returns the engine's configuration.
func (e *Engine) Params() Parameters { return e.params }

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

// --- multiplier tables ---

func regimeStopMult(r domain.Regime) float64 {
	switch r {
	case domain.RegimeQuiet:
		return 0.85
	case domain.RegimeTrending:
		return 1.1
	case domain.RegimeVolatile:
		return 1.35
	default:
		return 1.0
	}
}

// trendStopMult tightens the stop on strong bullish trends and widens it on
// strong bearish ones.
func trendStopMult(t domain.Trend) float64 {
	switch t {
	case domain.TrendStrongBull:
		return 0.8
	case domain.TrendBull:
		return 0.9
	case domain.TrendBear:
		return 1.15
	case domain.TrendStrongBear:
		return 1.3
	default:
		return 1.0
	}
}

func regimeRewardMult(r domain.Regime) float64 {
	switch r {
	case domain.RegimeQuiet:
		return 0.9
	case domain.RegimeTrending:
		return 1.2
	case domain.RegimeVolatile:
		return 0.85
	default:
		return 1.0
	}
}

func trendRewardMult(t domain.Trend) float64 {
	switch t {
	case domain.TrendStrongBull:
		return 1.25
	case domain.TrendBull:
		return 1.1
	case domain.TrendBear:
		return 0.9
	case domain.TrendStrongBear:
		return 0.75
	default:
		return 1.0
	}
}

func regimeTrailMult(r domain.Regime) float64 {
	switch r {
	case domain.RegimeQuiet:
		return 0.9
	case domain.RegimeVolatile:
		return 1.3
	default:
		return 1.0
	}
}

func trendTrailMult(t domain.Trend) float64 {
	switch t {
	case domain.TrendStrongBull:
		return 1.2
	case domain.TrendBull:
		return 1.1
	case domain.TrendBear:
		return 0.9
	case domain.TrendStrongBear:
		return 0.8
	default:
		return 1.0
	}
}

// --- position sizing ---

// PositionSize computes a base-quantity position size for a long entry.
// The risk amount is balance * BaseRiskPct scaled by confidence [0.7,1.5],
// inverse volatility [0.6,1.5] and liquidity [0.6,1.0] multipliers, capped at
// balance * MaxRiskPct. The quantity is the risk amount over the stop
// distance when the stop is usable, a fixed fraction of balance otherwise,
// clamped to the configured size bounds and to the position-value cap.
func (e *Engine) PositionSize(balance, entry, stop, confidence, volatility, liquidity float64) (float64, error) {
	if balance <= 0 || entry <= 0 {
		return 0, &ports.CalculationError{
			Op:     "PositionSize",
			Reason: "balance and entry must be positive",
			Inputs: map[string]interface{}{"balance": balance, "entry": entry},
		}
	}

	confMult := clamp(0.7+0.8*clamp01(confidence), 0.7, 1.5)
	volMult := clamp(1.0/(0.5+math.Max(volatility, 0)), 0.6, 1.5)
	liqMult := clamp(0.6+0.4*clamp01(liquidity), 0.6, 1.0)

	riskAmount := balance * e.params.BaseRiskPct * confMult * volMult * liqMult
	riskAmount = math.Min(riskAmount, balance*e.params.MaxRiskPct)

	var qty float64
	if stop > 0 && stop < entry {
		qty = riskAmount / (entry - stop)
	} else {
		qty = balance * e.params.FallbackPct / entry
	}

	qty = clamp(qty, e.params.MinPositionSize, e.params.MaxPositionSize)

	valueCap := balance * e.params.MaxPositionPct / entry
	if qty > valueCap {
		qty = valueCap
	}
	if qty < e.params.MinPositionSize {
		// Even the minimum size would breach the value cap; the position is
		// not worth taking at this balance.
		return 0, nil
	}
	return qty, nil
}

// --- stop loss ---

// StopLossInput carries the per-call inputs for stop pricing.
type StopLossInput struct {
	Entry      float64
	Volatility float64
	ATR        float64
	Support    float64 // 0 when unknown
	RecentLow  float64 // lowest low over the recent window, 0 when unknown
	Trend      domain.Trend
	Regime     domain.Regime
}

// StopLoss computes a long stop-loss price. The base distance is scaled by
// volatility, regime and trend, then raised by the ATR, support and
// recent-low floors, widened by the round-trip fee+slippage cost in price
// terms, and finally clamped to [entry*(1-max), entry*(1-min)]. The result is
// always strictly below entry.
func (e *Engine) StopLoss(in StopLossInput, fees FeePolicy) (float64, error) {
	if in.Entry <= 0 {
		return 0, &ports.CalculationError{
			Op:     "StopLoss",
			Reason: "entry must be positive",
			Inputs: map[string]interface{}{"entry": in.Entry},
		}
	}

	pct := e.params.BaseStopLossPct *
		(1 + 0.5*math.Max(in.Volatility, 0)) *
		regimeStopMult(in.Regime) *
		trendStopMult(in.Trend)
	stop := in.Entry * (1 - pct)

	if in.ATR > 0 {
		stop = math.Max(stop, in.Entry-e.params.ATRStopMult*in.ATR)
	}
	if in.Support > 0 && in.Support < in.Entry {
		stop = math.Max(stop, in.Support*(1-e.params.SupportBuffer))
	}
	if in.RecentLow > 0 && in.RecentLow < in.Entry {
		stop = math.Max(stop, in.RecentLow*0.995)
	}

	// Widen by the round-trip transaction cost so a stop hit realizes the
	// planned loss, not the planned loss plus fees.
	stop -= in.Entry * fees.RoundTripRate()

	lo := in.Entry * (1 - e.params.MaxStopLossPct)
	hi := in.Entry * (1 - e.params.MinStopLossPct)
	return clamp(stop, lo, hi), nil
}

// --- take profit ---

// TakeProfitInput carries the per-call inputs for take-profit pricing.
type TakeProfitInput struct {
	Entry      float64
	Stop       float64
	Resistance float64 // 0 when unknown
	RecentHigh float64 // highest high over the recent window, 0 when unknown
	Volatility float64
	Trend      domain.Trend
	Regime     domain.Regime
	Staged     bool
}

// TakeProfits computes take-profit levels for a long position, sorted
// ascending by price. Each level is solved so the net proceeds after entry
// fee, exit fee and slippage equal entry plus the level's reward:
//
//	price = (entry + reward + entry*entryFee + slippage) / (1 - exitFee)
//
// Levels are capped at resistance*0.99 and recentHigh*0.99, then re-validated
// and bumped back to the cost-covering floor if a cap pushed them below the
// minimum net profit buffer.
func (e *Engine) TakeProfits(in TakeProfitInput, fees FeePolicy) ([]domain.TakeProfitLevel, error) {
	if in.Entry <= 0 || in.Stop <= 0 || in.Stop >= in.Entry {
		return nil, &ports.CalculationError{
			Op:     "TakeProfits",
			Reason: "require 0 < stop < entry",
			Inputs: map[string]interface{}{"entry": in.Entry, "stop": in.Stop},
		}
	}
	if fees.ExitFeeRate >= 1 || fees.ExitFeeRate < 0 || fees.EntryFeeRate < 0 {
		return nil, &ports.CalculationError{
			Op:     "TakeProfits",
			Reason: "fee rates out of range",
			Inputs: map[string]interface{}{"entryFee": fees.EntryFeeRate, "exitFee": fees.ExitFeeRate},
		}
	}

	target := (in.Entry - in.Stop) * e.params.RiskRewardRatio *
		(1 + 0.2*clamp01(in.Volatility)) *
		trendRewardMult(in.Trend) *
		regimeRewardMult(in.Regime)

	stages := e.params.StagedLevels
	if !in.Staged || len(stages) == 0 {
		stages = []StagedLevel{{Portion: 1.0, RewardMult: 1.0}}
	}

	slip := in.Entry * fees.SlippagePct
	entryCost := in.Entry * fees.EntryFeeRate
	// The lowest price at which net profit still clears the buffer.
	floor := (in.Entry + in.Entry*e.params.MinProfitBuffer + entryCost + slip) / (1 - fees.ExitFeeRate)

	levels := make([]domain.TakeProfitLevel, 0, len(stages))
	for _, st := range stages {
		reward := target * st.RewardMult
		price := (in.Entry + reward + entryCost + slip) / (1 - fees.ExitFeeRate)

		if in.Resistance > 0 {
			price = math.Min(price, in.Resistance*0.99)
		}
		if in.RecentHigh > 0 {
			price = math.Min(price, in.RecentHigh*0.99)
		}
		// Capping may have pushed the level under its cost-covering floor;
		// every level must still clear round-trip cost plus the buffer.
		if price < floor {
			price = floor
		}
		levels = append(levels, domain.TakeProfitLevel{Price: price, Portion: st.Portion})
	}

	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels, nil
}

// --- trailing stop ---

// TrailingInput carries the per-call inputs for trailing-stop pricing.
type TrailingInput struct {
	Entry      float64
	Current    float64
	Highest    float64
	Volatility float64
	ATR        float64
	Trend      domain.Trend
	Regime     domain.Regime
}

// TrailingStop computes the trailing-stop price for a long position, or 0
// while unrealized profit is below the activation threshold. The distance is
// the larger of a dynamic fraction of the highest price and an ATR multiple;
// the result is floored at a cost-covering minimum-profit price, and at
// entry*(1+profit/2) once profit exceeds the lock-in threshold. For a fixed
// entry and rising highest, the output never decreases.
func (e *Engine) TrailingStop(in TrailingInput, fees FeePolicy) float64 {
	if in.Entry <= 0 || in.Current <= 0 {
		return 0
	}
	profit := (in.Current - in.Entry) / in.Entry
	if profit < e.params.TrailingActivationPct {
		return 0
	}

	pct := e.params.BaseTrailingPct *
		(1 + 0.5*math.Max(in.Volatility, 0)) *
		trendTrailMult(in.Trend) *
		regimeTrailMult(in.Regime)
	pct = clamp(pct, e.params.MinTrailingPct, e.params.MaxTrailingPct)

	dist := in.Highest * pct
	if atrDist := in.ATR * e.params.TrailingATRMult; atrDist > dist {
		dist = atrDist
	}
	stop := in.Highest - dist

	slip := in.Entry * fees.SlippagePct
	costFloor := (in.Entry*(1+e.params.MinProfitBuffer) + in.Entry*fees.EntryFeeRate + slip) / (1 - fees.ExitFeeRate)
	stop = math.Max(stop, costFloor)

	if profit > e.params.LockInProfitPct {
		stop = math.Max(stop, in.Entry*(1+profit*0.5))
	}
	return stop
}

// --- validation gates ---

// ValidatePosition checks a proposed position against the per-trade gates.
// It returns ok plus the list of violated constraints.
func (e *Engine) ValidatePosition(pos *domain.Position, balance float64) (bool, []string) {
	var violations []string

	if pos.Quantity < e.params.MinPositionSize {
		violations = append(violations, fmt.Sprintf("quantity %v below minimum %v", pos.Quantity, e.params.MinPositionSize))
	}
	if pos.Quantity > e.params.MaxPositionSize {
		violations = append(violations, fmt.Sprintf("quantity %v above maximum %v", pos.Quantity, e.params.MaxPositionSize))
	}
	if pos.StopLoss <= 0 || pos.StopLoss >= pos.EntryPrice {
		violations = append(violations, fmt.Sprintf("stop loss %v must sit below entry %v", pos.StopLoss, pos.EntryPrice))
	}

	if balance > 0 {
		if riskAmt := (pos.EntryPrice - pos.StopLoss) * pos.Quantity; riskAmt > balance*e.params.MaxRiskPct {
			violations = append(violations, fmt.Sprintf("risk %v exceeds %v%% of balance", riskAmt, e.params.MaxRiskPct*100))
		}
		if value := pos.Quantity * pos.EntryPrice; value > balance*e.params.MaxSingleExposurePct {
			violations = append(violations, fmt.Sprintf("exposure %v exceeds %v%% of balance", value, e.params.MaxSingleExposurePct*100))
		}
	}

	if tp := pos.FirstTakeProfit(); tp > 0 && pos.StopLoss > 0 && pos.StopLoss < pos.EntryPrice {
		if tp <= pos.EntryPrice {
			violations = append(violations, fmt.Sprintf("take profit %v must sit above entry %v", tp, pos.EntryPrice))
		} else if rr := (tp - pos.EntryPrice) / (pos.EntryPrice - pos.StopLoss); rr < e.params.MinRiskReward {
			violations = append(violations, fmt.Sprintf("risk:reward %.2f below minimum %.2f", rr, e.params.MinRiskReward))
		}
	}

	return len(violations) == 0, violations
}

// ValidatePortfolio checks aggregate heat, concentration and drawdown gates
// before admitting a new entry.
func (e *Engine) ValidatePortfolio(snap PortfolioSnapshot) (bool, []string) {
	var violations []string

	if snap.Balance > 0 {
		if heat := snap.OpenRisk / snap.Balance; heat > e.params.MaxHeatPct {
			violations = append(violations, fmt.Sprintf("portfolio heat %.4f exceeds %.4f", heat, e.params.MaxHeatPct))
		}
	}
	if snap.TotalExposure > 0 {
		if conc := snap.LargestExposure / snap.TotalExposure; conc > e.params.MaxConcentrationPct {
			violations = append(violations, fmt.Sprintf("concentration %.2f exceeds %.2f", conc, e.params.MaxConcentrationPct))
		}
	}
	if snap.Drawdown > e.params.MaxDrawdownPct {
		violations = append(violations, fmt.Sprintf("drawdown %.2f exceeds %.2f", snap.Drawdown, e.params.MaxDrawdownPct))
	}
	if e.params.MaxOpenPositions > 0 && snap.OpenPositions >= e.params.MaxOpenPositions {
		violations = append(violations, fmt.Sprintf("open positions %d at limit %d", snap.OpenPositions, e.params.MaxOpenPositions))
	}

	return len(violations) == 0, violations
}
