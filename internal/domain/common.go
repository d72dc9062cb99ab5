package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// IsValid reports whether the side is one of the two known values.
func (s OrderSide) IsValid() bool {
	return s == Buy || s == Sell
}

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// ExitAction is the rotation engine's verdict for a position in one cycle.
// Exactly one action is assigned per position per cycle.
type ExitAction string

const (
	ActionTakeProfit  ExitAction = "TAKE_PROFIT"
	ActionStopLoss    ExitAction = "STOP_LOSS"
	ActionStaleExit   ExitAction = "STALE_EXIT"
	ActionConsolidate ExitAction = "CONSOLIDATE"
	ActionHold        ExitAction = "HOLD"
)

// Priority orders exit actions for execution within a cycle: winners are
// realized before losers are cut before housekeeping, so freed-capital
// accounting reflects profits first. Lower value executes earlier.
func (a ExitAction) Priority() int {
	switch a {
	case ActionTakeProfit:
		return 0
	case ActionStopLoss:
		return 1
	case ActionStaleExit:
		return 2
	case ActionConsolidate:
		return 3
	default:
		return 4
	}
}

// Trend is a coarse directional classification of recent price action.
type Trend string

const (
	TrendStrongBull Trend = "STRONG_BULL"
	TrendBull       Trend = "BULL"
	TrendNeutral    Trend = "NEUTRAL"
	TrendBear       Trend = "BEAR"
	TrendStrongBear Trend = "STRONG_BEAR"
)

// Regime is a coarse market-condition classification used to scale
// risk parameters.
type Regime string

const (
	RegimeQuiet    Regime = "QUIET"
	RegimeNormal   Regime = "NORMAL"
	RegimeTrending Regime = "TRENDING"
	RegimeVolatile Regime = "VOLATILE"
)
