package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
)

var allTrends = []domain.Trend{
	domain.TrendStrongBull, domain.TrendBull, domain.TrendNeutral,
	domain.TrendBear, domain.TrendStrongBear,
}

var allRegimes = []domain.Regime{
	domain.RegimeQuiet, domain.RegimeNormal, domain.RegimeTrending, domain.RegimeVolatile,
}

func TestPositionSizeRiskBased(t *testing.T) {
	e := New(DefaultParameters())

	// balance 10000, entry 100, stop 95 => risk amount capped well under
	// 2% of balance; quantity = riskAmount / 5.
	qty, err := e.PositionSize(10000, 100, 95, 0.5, 0.3, 1.0)
	require.NoError(t, err)
	assert.Greater(t, qty, 0.0)

	// Risked amount never exceeds MaxRiskPct of balance.
	riskAmt := qty * (100 - 95)
	assert.LessOrEqual(t, riskAmt, 10000*e.Params().MaxRiskPct+1e-9)

	// Position value never exceeds MaxPositionPct of balance.
	assert.LessOrEqual(t, qty*100, 10000*e.Params().MaxPositionPct+1e-9)
}

func TestPositionSizeFallbackWithoutStop(t *testing.T) {
	e := New(DefaultParameters())
	qty, err := e.PositionSize(10000, 100, 0, 0.5, 0.3, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 10000*e.Params().FallbackPct/100, qty, 1e-9)
}

func TestPositionSizeInvalidInputs(t *testing.T) {
	e := New(DefaultParameters())
	_, err := e.PositionSize(0, 100, 95, 0.5, 0.3, 1.0)
	assert.Error(t, err)
	_, err = e.PositionSize(1000, -1, 95, 0.5, 0.3, 1.0)
	assert.Error(t, err)
}

func TestPositionSizeMultiplierExtremes(t *testing.T) {
	e := New(DefaultParameters())
	// Tight stop so the value cap binds identically and only the risk
	// multipliers differ.
	timid, err := e.PositionSize(1e6, 100, 99.9, 0, 5, 0)
	require.NoError(t, err)
	bold, err := e.PositionSize(1e6, 100, 99.9, 1, 0, 1)
	require.NoError(t, err)
	assert.Greater(t, bold, 0.0)
	assert.GreaterOrEqual(t, bold, timid)
}

func TestStopLossAlwaysBelowEntryWithinBounds(t *testing.T) {
	e := New(DefaultParameters())
	fees := DefaultParameters().Fees
	entry := 50000.0

	for _, trend := range allTrends {
		for _, regime := range allRegimes {
			for _, vol := range []float64{0, 0.2, 0.8, 2.0} {
				for _, atr := range []float64{0, 100, 2000} {
					stop, err := e.StopLoss(StopLossInput{
						Entry:      entry,
						Volatility: vol,
						ATR:        atr,
						Trend:      trend,
						Regime:     regime,
					}, fees)
					require.NoError(t, err)
					assert.Less(t, stop, entry, "trend=%s regime=%s vol=%v atr=%v", trend, regime, vol, atr)
					assert.LessOrEqual(t, entry-stop, entry*e.Params().MaxStopLossPct+1e-6)
					assert.GreaterOrEqual(t, entry-stop, entry*e.Params().MinStopLossPct-1e-6)
				}
			}
		}
	}
}

func TestStopLossSupportFloor(t *testing.T) {
	p := DefaultParameters()
	p.BaseStopLossPct = 0.05
	p.MaxStopLossPct = 0.10
	e := New(p)

	// Support just under entry should pull the stop up toward it.
	withSupport, err := e.StopLoss(StopLossInput{Entry: 100, Support: 98.5, Trend: domain.TrendNeutral, Regime: domain.RegimeNormal}, FeePolicy{})
	require.NoError(t, err)
	without, err := e.StopLoss(StopLossInput{Entry: 100, Trend: domain.TrendNeutral, Regime: domain.RegimeNormal}, FeePolicy{})
	require.NoError(t, err)
	assert.Greater(t, withSupport, without)
}

func TestStopLossFeeWidening(t *testing.T) {
	e := New(DefaultParameters())
	free, err := e.StopLoss(StopLossInput{Entry: 100, Trend: domain.TrendNeutral, Regime: domain.RegimeNormal}, FeePolicy{})
	require.NoError(t, err)
	costly, err := e.StopLoss(StopLossInput{Entry: 100, Trend: domain.TrendNeutral, Regime: domain.RegimeNormal},
		FeePolicy{EntryFeeRate: 0.002, ExitFeeRate: 0.002, SlippagePct: 0.001})
	require.NoError(t, err)
	assert.LessOrEqual(t, costly, free)
}

// simulatedNet is the per-unit profit actually banked when exiting at price:
// proceeds after the exit fee, minus entry cost, entry fee and slippage.
func simulatedNet(entry, price float64, fees FeePolicy) float64 {
	return price*(1-fees.ExitFeeRate) - entry - entry*fees.EntryFeeRate - entry*fees.SlippagePct
}

func TestTakeProfitsNetProfitFloor(t *testing.T) {
	e := New(DefaultParameters())
	entry, stop := 100.0, 97.0

	policies := []FeePolicy{
		{},
		{EntryFeeRate: 0.001, ExitFeeRate: 0.001, SlippagePct: 0.0005},
		// Adversarial: heavy taker fees both legs plus fat slippage.
		{EntryFeeRate: 0.05, ExitFeeRate: 0.05, SlippagePct: 0.01},
	}

	for _, fees := range policies {
		for _, trend := range allTrends {
			for _, regime := range allRegimes {
				levels, err := e.TakeProfits(TakeProfitInput{
					Entry:      entry,
					Stop:       stop,
					Volatility: 0.4,
					Trend:      trend,
					Regime:     regime,
					Staged:     true,
					// Aggressive cap pressure from just above entry.
					Resistance: entry * 1.04,
					RecentHigh: entry * 1.05,
				}, fees)
				require.NoError(t, err)
				require.NotEmpty(t, levels)
				for _, lv := range levels {
					net := simulatedNet(entry, lv.Price, fees)
					assert.GreaterOrEqual(t, net, entry*e.Params().MinProfitBuffer-1e-9,
						"fees=%+v trend=%s regime=%s price=%v", fees, trend, regime, lv.Price)
				}
			}
		}
	}
}

func TestTakeProfitsStagedSortedAscending(t *testing.T) {
	e := New(DefaultParameters())
	levels, err := e.TakeProfits(TakeProfitInput{
		Entry: 100, Stop: 96, Trend: domain.TrendNeutral, Regime: domain.RegimeNormal, Staged: true,
	}, DefaultParameters().Fees)
	require.NoError(t, err)
	require.Len(t, levels, len(DefaultParameters().StagedLevels))

	var portions float64
	for i := 1; i < len(levels); i++ {
		assert.GreaterOrEqual(t, levels[i].Price, levels[i-1].Price)
	}
	for _, lv := range levels {
		assert.Greater(t, lv.Price, 100.0)
		portions += lv.Portion
	}
	assert.InDelta(t, 1.0, portions, 1e-9)
}

func TestTakeProfitsSingleLevel(t *testing.T) {
	e := New(DefaultParameters())
	levels, err := e.TakeProfits(TakeProfitInput{
		Entry: 100, Stop: 96, Trend: domain.TrendNeutral, Regime: domain.RegimeNormal, Staged: false,
	}, FeePolicy{})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.InDelta(t, 1.0, levels[0].Portion, 1e-9)
	// reward = (100-96)*2.0 with neutral multipliers and no fees.
	assert.InDelta(t, 108.0, levels[0].Price, 1e-9)
}

func TestTakeProfitsInvalidInputs(t *testing.T) {
	e := New(DefaultParameters())
	_, err := e.TakeProfits(TakeProfitInput{Entry: 100, Stop: 100}, FeePolicy{})
	assert.Error(t, err)
	_, err = e.TakeProfits(TakeProfitInput{Entry: 100, Stop: 96}, FeePolicy{ExitFeeRate: 1.0})
	assert.Error(t, err)
}

func TestTrailingStopInactiveBelowActivation(t *testing.T) {
	e := New(DefaultParameters())
	fees := DefaultParameters().Fees
	// 0.5% profit with 1% activation threshold.
	stop := e.TrailingStop(TrailingInput{
		Entry: 100, Current: 100.5, Highest: 100.5,
		Trend: domain.TrendNeutral, Regime: domain.RegimeNormal,
	}, fees)
	assert.Zero(t, stop)
}

func TestTrailingStopMonotoneOverRisingHighest(t *testing.T) {
	e := New(DefaultParameters())
	fees := DefaultParameters().Fees

	prev := 0.0
	for h := 102.0; h <= 140.0; h += 0.5 {
		stop := e.TrailingStop(TrailingInput{
			Entry: 100, Current: h, Highest: h,
			Volatility: 0.3, ATR: 1.2,
			Trend: domain.TrendBull, Regime: domain.RegimeTrending,
		}, fees)
		assert.GreaterOrEqual(t, stop, prev, "highest=%v", h)
		prev = stop
	}
	assert.Greater(t, prev, 100.0)
}

func TestTrailingStopLockInFloor(t *testing.T) {
	e := New(DefaultParameters())
	// 10% profit: floor is entry*(1+0.05) even with a huge ATR distance.
	stop := e.TrailingStop(TrailingInput{
		Entry: 100, Current: 110, Highest: 110,
		ATR: 50, Trend: domain.TrendNeutral, Regime: domain.RegimeNormal,
	}, FeePolicy{})
	assert.GreaterOrEqual(t, stop, 105.0-1e-9)
}

func TestValidatePosition(t *testing.T) {
	e := New(DefaultParameters())

	ok, violations := e.ValidatePosition(&domain.Position{
		Symbol: "BTCUSDT", Quantity: 0.01, EntryPrice: 50000, StopLoss: 48500,
		TakeProfits: []domain.TakeProfitLevel{{Price: 53000, Portion: 1}},
	}, 100000)
	assert.True(t, ok, "violations: %v", violations)

	// Stop above entry, oversized exposure, weak risk:reward.
	ok, violations = e.ValidatePosition(&domain.Position{
		Symbol: "BTCUSDT", Quantity: 1, EntryPrice: 50000, StopLoss: 51000,
	}, 100000)
	assert.False(t, ok)
	assert.NotEmpty(t, violations)

	ok, violations = e.ValidatePosition(&domain.Position{
		Symbol: "BTCUSDT", Quantity: 0.01, EntryPrice: 50000, StopLoss: 48000,
		TakeProfits: []domain.TakeProfitLevel{{Price: 50100, Portion: 1}},
	}, 100000)
	assert.False(t, ok)
	assert.NotEmpty(t, violations)
}

func TestValidatePortfolio(t *testing.T) {
	e := New(DefaultParameters())

	ok, violations := e.ValidatePortfolio(PortfolioSnapshot{
		Balance: 10000, TotalExposure: 2000, LargestExposure: 800,
		OpenRisk: 100, Drawdown: 0.05, OpenPositions: 3,
	})
	assert.True(t, ok, "violations: %v", violations)

	ok, violations = e.ValidatePortfolio(PortfolioSnapshot{
		Balance: 10000, TotalExposure: 2000, LargestExposure: 1900,
		OpenRisk: 900, Drawdown: 0.3, OpenPositions: 10,
	})
	assert.False(t, ok)
	assert.Len(t, violations, 4)
}
