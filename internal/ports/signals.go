package ports

import (
	"context"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
)

// MarketSignal is the collapsed signal surface the rotation and risk engines
// consume: one opportunity score plus the volatility/trend/regime inputs.
// How the provider composes these internally is out of scope here.
type MarketSignal struct {
	Symbol     string
	Score      float64       // Opportunity score in [0,100]
	Volatility float64       // Normalized volatility, roughly [0,1]
	ATR        float64       // Average true range in price terms
	Trend      domain.Trend  // Directional classification
	Regime     domain.Regime // Market-condition classification
	RecentLow  float64       // Lowest low over the recent lookback window
	RecentHigh float64       // Highest high over the recent lookback window
}

// SignalProvider supplies per-symbol market signals.
type SignalProvider interface {
	Signal(ctx context.Context, symbol string) (*MarketSignal, error)
}
