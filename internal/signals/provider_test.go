package signals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockKlineSource struct {
	klines []*domain.Kline
	err    error
	calls  int
}

func (m *mockKlineSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	m.calls++
	return m.klines, m.err
}

func (m *mockKlineSource) GetTicker(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func (m *mockKlineSource) GetSymbolRules(ctx context.Context, symbol string) (*ports.SymbolRules, error) {
	return nil, nil
}

func (m *mockKlineSource) CreateMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.Order, error) {
	return nil, nil
}

func (m *mockKlineSource) CreateLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price string) (*ports.Order, error) {
	return nil, nil
}

func (m *mockKlineSource) GetOrder(ctx context.Context, symbol, orderID string) (*ports.Order, error) {
	return nil, nil
}

func (m *mockKlineSource) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (m *mockKlineSource) GetAllBalances(ctx context.Context) (map[string]ports.Balance, error) {
	return nil, nil
}

func (m *mockKlineSource) Ping(ctx context.Context) error { return nil }

func series(n int, closeAt func(i int) float64, spread float64) []*domain.Kline {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, n)
	for i := 0; i < n; i++ {
		c := closeAt(i)
		out[i] = &domain.Kline{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
			Symbol:    "BTCUSDT",
			Open:      c,
			High:      c + spread,
			Low:       c - spread,
			Close:     c,
			Volume:    100,
		}
	}
	return out
}

func testProvider(t *testing.T, src *mockKlineSource) *Provider {
	t.Helper()
	p, err := New(DefaultConfig(), src, &mockLogger{})
	require.NoError(t, err)
	return p
}

func TestSignalSteadyUptrend(t *testing.T) {
	src := &mockKlineSource{klines: series(100, func(i int) float64 { return 100 + float64(i) }, 1)}
	p := testProvider(t, src)

	sig, err := p.Signal(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, domain.TrendStrongBull, sig.Trend)
	assert.Equal(t, domain.RegimeTrending, sig.Regime)
	assert.Greater(t, sig.Score, 60.0)
	assert.InDelta(t, 2.0, sig.ATR, 0.01)
	assert.InDelta(t, 200.0, sig.RecentHigh, 1e-9)
	assert.InDelta(t, 179.0, sig.RecentLow, 1e-9)
}

func TestSignalSteadyDowntrend(t *testing.T) {
	src := &mockKlineSource{klines: series(100, func(i int) float64 { return 199 - float64(i) }, 1)}
	p := testProvider(t, src)

	sig, err := p.Signal(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, domain.TrendStrongBear, sig.Trend)
	assert.Less(t, sig.Score, 30.0)
}

func TestSignalFlatSeries(t *testing.T) {
	src := &mockKlineSource{klines: series(100, func(i int) float64 { return 100 }, 0.5)}
	p := testProvider(t, src)

	sig, err := p.Signal(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, domain.TrendNeutral, sig.Trend)
	assert.Equal(t, domain.RegimeNormal, sig.Regime)
}

func TestSignalVolatileSeries(t *testing.T) {
	src := &mockKlineSource{klines: series(100, func(i int) float64 {
		if i%2 == 0 {
			return 100
		}
		return 120
	}, 2)}
	p := testProvider(t, src)

	sig, err := p.Signal(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, domain.RegimeVolatile, sig.Regime)
	assert.InDelta(t, 1.0, sig.Volatility, 1e-9, "clipped at the normalization ceiling")
}

func TestSignalQuietSeries(t *testing.T) {
	src := &mockKlineSource{klines: series(100, func(i int) float64 { return 100 }, 0.1)}
	p := testProvider(t, src)

	sig, err := p.Signal(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, domain.RegimeQuiet, sig.Regime)
	assert.LessOrEqual(t, sig.Volatility, 0.2)
}

func TestSignalInsufficientData(t *testing.T) {
	src := &mockKlineSource{klines: series(10, func(i int) float64 { return 100 }, 1)}
	p := testProvider(t, src)

	_, err := p.Signal(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough klines")
}

func TestSignalFetchErrorPropagates(t *testing.T) {
	src := &mockKlineSource{err: fmt.Errorf("exchange down")}
	p := testProvider(t, src)

	_, err := p.Signal(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange down")
}

func TestSignalCachedWithinTTL(t *testing.T) {
	src := &mockKlineSource{klines: series(100, func(i int) float64 { return 100 + float64(i) }, 1)}
	p := testProvider(t, src)

	first, err := p.Signal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	second, err := p.Signal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, src.calls, "second signal inside the TTL must not refetch")

	p.Invalidate("BTCUSDT")
	_, err = p.Signal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
