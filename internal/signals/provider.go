// Package signals derives per-symbol market signals from recent candlestick
// data: an opportunity score, a normalized volatility, trend and regime
// classifications, and the recent price window. The rotation and risk engines
// consume the collapsed signal through ports.SignalProvider without knowing
// how it is composed.
package signals

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

// Config holds the provider's derivation parameters.
type Config struct {
	Interval     string        // kline interval requested from the exchange
	Lookback     int           // klines fetched per signal
	ATRPeriod    int
	RSIPeriod    int
	FastMAPeriod int
	SlowMAPeriod int
	RecentWindow int           // klines for the recent low/high
	CacheTTL     time.Duration // signal reuse window within a cycle
}

// DefaultConfig returns the derivation parameters used in production.
func DefaultConfig() Config {
	return Config{
		Interval:     "1h",
		Lookback:     100,
		ATRPeriod:    14,
		RSIPeriod:    14,
		FastMAPeriod: 9,
		SlowMAPeriod: 21,
		RecentWindow: 20,
		CacheTTL:     time.Minute,
	}
}

type cachedSignal struct {
	signal    *ports.MarketSignal
	fetchedAt time.Time
}

// Provider computes market signals from exchange klines. Signals are cached
// briefly so that exit planning and entry scanning within one cycle share a
// single kline fetch per symbol.
type Provider struct {
	cfg      Config
	exchange ports.ExchangeClient
	logger   ports.Logger

	mu    sync.Mutex
	cache map[string]cachedSignal
	now   func() time.Time
}

// New creates a signal provider.
func New(cfg Config, exchange ports.ExchangeClient, logger ports.Logger) (*Provider, error) {
	if exchange == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for signal provider")
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.FastMAPeriod <= 0 {
		cfg.FastMAPeriod = 9
	}
	if cfg.SlowMAPeriod <= cfg.FastMAPeriod {
		cfg.SlowMAPeriod = cfg.FastMAPeriod + 12
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 20
	}
	minLookback := cfg.SlowMAPeriod + cfg.ATRPeriod
	if cfg.Lookback < minLookback {
		cfg.Lookback = minLookback
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	return &Provider{
		cfg:      cfg,
		exchange: exchange,
		logger:   logger,
		cache:    make(map[string]cachedSignal),
		now:      time.Now,
	}, nil
}

// Signal derives the symbol's current market signal, reusing a cached value
// inside the TTL.
func (p *Provider) Signal(ctx context.Context, symbol string) (*ports.MarketSignal, error) {
	p.mu.Lock()
	if c, ok := p.cache[symbol]; ok && p.now().Sub(c.fetchedAt) < p.cfg.CacheTTL {
		p.mu.Unlock()
		return c.signal, nil
	}
	p.mu.Unlock()

	klines, err := p.exchange.GetKlines(ctx, symbol, p.cfg.Interval, p.cfg.Lookback)
	if err != nil {
		return nil, fmt.Errorf("fetching klines for %s: %w", symbol, err)
	}
	sig, err := p.derive(symbol, klines)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[symbol] = cachedSignal{signal: sig, fetchedAt: p.now()}
	p.mu.Unlock()

	p.logger.Debug(ctx, "signal derived", map[string]interface{}{
		"symbol": symbol, "score": sig.Score, "trend": string(sig.Trend),
		"regime": string(sig.Regime), "volatility": sig.Volatility,
	})
	return sig, nil
}

// Invalidate drops the cached signal for a symbol.
func (p *Provider) Invalidate(symbol string) {
	p.mu.Lock()
	delete(p.cache, symbol)
	p.mu.Unlock()
}

// fullyVolatileRange is the ATR-to-price ratio mapped to a volatility of 1.
const fullyVolatileRange = 0.04

func (p *Provider) derive(symbol string, klines []*domain.Kline) (*ports.MarketSignal, error) {
	need := p.cfg.SlowMAPeriod + 1
	if a := p.cfg.ATRPeriod + 1; a > need {
		need = a
	}
	if len(klines) < need {
		return nil, fmt.Errorf("not enough klines for %s: need %d, got %d", symbol, need, len(klines))
	}

	lastClose := klines[len(klines)-1].Close
	if lastClose <= 0 {
		return nil, fmt.Errorf("non-positive close for %s", symbol)
	}

	rangeVal, err := atr(klines, p.cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}
	fast, err := ema(klines, p.cfg.FastMAPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := ema(klines, p.cfg.SlowMAPeriod)
	if err != nil {
		return nil, err
	}
	strength, err := rsi(klines, p.cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}

	volatility := math.Min(1, math.Max(0, rangeVal/lastClose/fullyVolatileRange))
	gapPct := (fast - slow) / slow
	trend := classifyTrend(gapPct)
	regime := classifyRegime(volatility, gapPct)
	low, high := window(klines, p.cfg.RecentWindow)

	return &ports.MarketSignal{
		Symbol:     symbol,
		Score:      score(gapPct, strength, volatility),
		Volatility: volatility,
		ATR:        rangeVal,
		Trend:      trend,
		Regime:     regime,
		RecentLow:  low,
		RecentHigh: high,
	}, nil
}

func classifyTrend(gapPct float64) domain.Trend {
	switch {
	case gapPct >= 0.02:
		return domain.TrendStrongBull
	case gapPct >= 0.005:
		return domain.TrendBull
	case gapPct <= -0.02:
		return domain.TrendStrongBear
	case gapPct <= -0.005:
		return domain.TrendBear
	default:
		return domain.TrendNeutral
	}
}

func classifyRegime(volatility, gapPct float64) domain.Regime {
	switch {
	case volatility >= 0.7:
		return domain.RegimeVolatile
	case math.Abs(gapPct) >= 0.015:
		return domain.RegimeTrending
	case volatility <= 0.2:
		return domain.RegimeQuiet
	default:
		return domain.RegimeNormal
	}
}

// score collapses trend, momentum and volatility into one [0,100] opportunity
// score. A clean uptrend with RSI in the mid-band scores highest; chop and
// overextension pull it down.
func score(gapPct, rsiVal, volatility float64) float64 {
	s := 50.0
	s += math.Max(-25, math.Min(25, gapPct*1000))
	s += math.Max(0, 55-math.Abs(rsiVal-55)) * 0.4
	s -= volatility * 15
	return math.Max(0, math.Min(100, s))
}
