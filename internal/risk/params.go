package risk

// FeePolicy carries the fee legs and slippage assumption for one pricing
// call. Which leg pays taker vs maker is the caller's policy decision (a
// stop-loss market exit really pays taker on both legs), so the rates travel
// with every call instead of being assumed here.
type FeePolicy struct {
	EntryFeeRate float64 // fraction of notional paid on the entry leg
	ExitFeeRate  float64 // fraction of notional paid on the exit leg
	SlippagePct  float64 // expected slippage as a fraction of entry price
}

// RoundTripRate is the total cost fraction for entering and exiting.
func (f FeePolicy) RoundTripRate() float64 {
	return f.EntryFeeRate + f.ExitFeeRate + f.SlippagePct
}

// StagedLevel configures one staged take-profit target: Portion of the
// position closed at a reward of RewardMult times the base target.
type StagedLevel struct {
	Portion    float64
	RewardMult float64
}

// Parameters is the explicit per-call risk configuration. It is passed into
// constructors and never read from a hidden global, so tests can override any
// field in isolation.
type Parameters struct {
	// Position sizing
	BaseRiskPct     float64 // fraction of balance risked per trade before multipliers
	MaxRiskPct      float64 // hard cap on the risk amount as a fraction of balance
	MaxPositionPct  float64 // cap on position value as a fraction of balance
	MinPositionSize float64 // minimum base quantity
	MaxPositionSize float64 // maximum base quantity
	FallbackPct     float64 // fixed-fraction sizing when no usable stop exists

	// Stop loss
	BaseStopLossPct float64 // base stop distance as a fraction of entry
	MinStopLossPct  float64 // tightest allowed stop distance
	MaxStopLossPct  float64 // widest allowed stop distance
	ATRStopMult     float64 // stop floored at entry - mult*ATR
	SupportBuffer   float64 // stop placed this fraction under support

	// Take profit
	RiskRewardRatio float64       // base reward multiple of the stop distance
	MinProfitBuffer float64       // minimum net profit per unit, fraction of entry
	StagedLevels    []StagedLevel // staged targets; empty means one full-size level

	// Trailing stop
	TrailingActivationPct float64 // unrealized profit fraction before trailing arms
	BaseTrailingPct       float64 // base trail distance as fraction of highest
	MinTrailingPct        float64
	MaxTrailingPct        float64
	TrailingATRMult       float64 // trail distance floored at mult*ATR
	LockInProfitPct       float64 // above this profit, trail floors at entry*(1+profit/2)

	// Validation gates
	MinRiskReward        float64 // minimum reward:risk for a new position
	MaxSingleExposurePct float64 // one position's value vs balance
	MaxHeatPct           float64 // total open risk vs balance
	MaxConcentrationPct  float64 // largest exposure vs total exposure
	MaxDrawdownPct       float64 // portfolio drawdown gate
	MaxOpenPositions     int

	// RecentWindow is the lookback (in periods) the signal provider uses for
	// the recent-high/low caps. Kept regime-independent; whether it should
	// vary by regime is unresolved upstream.
	RecentWindow int

	// Fees is the default fee policy; call sites may substitute a
	// taker-taker policy for market exits.
	Fees FeePolicy
}

// DefaultParameters returns conservative spot-trading defaults.
func DefaultParameters() Parameters {
	return Parameters{
		BaseRiskPct:     0.01,
		MaxRiskPct:      0.02,
		MaxPositionPct:  0.02,
		MinPositionSize: 0.0001,
		MaxPositionSize: 100,
		FallbackPct:     0.01,

		BaseStopLossPct: 0.02,
		MinStopLossPct:  0.005,
		MaxStopLossPct:  0.08,
		ATRStopMult:     1.5,
		SupportBuffer:   0.005,

		RiskRewardRatio: 2.0,
		MinProfitBuffer: 0.002,
		StagedLevels: []StagedLevel{
			{Portion: 0.5, RewardMult: 0.6},
			{Portion: 0.3, RewardMult: 1.0},
			{Portion: 0.2, RewardMult: 1.5},
		},

		TrailingActivationPct: 0.01,
		BaseTrailingPct:       0.02,
		MinTrailingPct:        0.008,
		MaxTrailingPct:        0.06,
		TrailingATRMult:       2.0,
		LockInProfitPct:       0.02,

		MinRiskReward:        1.2,
		MaxSingleExposurePct: 0.25,
		MaxHeatPct:           0.06,
		MaxConcentrationPct:  0.5,
		MaxDrawdownPct:       0.2,
		MaxOpenPositions:     10,

		RecentWindow: 20,

		Fees: FeePolicy{
			EntryFeeRate: 0.001, // taker on entry
			ExitFeeRate:  0.001, // maker assumed on exit
			SlippagePct:  0.0005,
		},
	}
}

// PortfolioSnapshot aggregates exposure, concentration and drawdown metrics
// used to gate new entries.
type PortfolioSnapshot struct {
	Balance         float64 // account quote balance
	TotalExposure   float64 // sum of open position values
	LargestExposure float64 // largest single position value
	OpenRisk        float64 // sum of (entry - stop) * quantity across positions
	Drawdown        float64 // current drawdown as a fraction of peak equity
	OpenPositions   int
}
