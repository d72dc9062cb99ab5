package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fill(id string, side domain.OrderSide, price, size, fee float64, offset time.Duration) domain.Fill {
	return domain.Fill{
		OrderID:     id,
		Symbol:      "BTCUSDT",
		Side:        side,
		Price:       price,
		Size:        size,
		Funds:       price * size,
		Fee:         fee,
		FeeCurrency: "USDT",
		Timestamp:   t0.Add(offset),
	}
}

func TestRecordValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Fill)
	}{
		{"empty order ID", func(f *domain.Fill) { f.OrderID = "" }},
		{"empty symbol", func(f *domain.Fill) { f.Symbol = "" }},
		{"bad side", func(f *domain.Fill) { f.Side = "SHORT" }},
		{"zero price", func(f *domain.Fill) { f.Price = 0 }},
		{"negative size", func(f *domain.Fill) { f.Size = -1 }},
		{"negative fee", func(f *domain.Fill) { f.Fee = -0.1 }},
		{"zero timestamp", func(f *domain.Fill) { f.Timestamp = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(nil)
			f := fill("o1", domain.Buy, 100, 1, 0.1, 0)
			tt.mutate(&f)
			err := l.Record(f)
			require.Error(t, err)
			var verr *ports.ValidationError
			assert.True(t, errors.As(err, &verr), "want ValidationError, got %T", err)
		})
	}
}

func TestRecordDuplicateOrderID(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Record(fill("o1", domain.Buy, 100, 1, 0.1, 0)))
	err := l.Record(fill("o1", domain.Buy, 101, 1, 0.1, time.Minute))
	require.Error(t, err)
	var verr *ports.ValidationError
	assert.True(t, errors.As(err, &verr))
}

// Cross-lot sell: BUY 10@10 fee 0.1, BUY 10@12 fee 0.1,
// SELL 15@11 fee 0.15. The sell consumes all of the first buy plus 5 units
// of the second; 5 units remain open at cost basis 12.
func TestMatchFIFOCrossLotSell(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Record(fill("b1", domain.Buy, 10, 10, 0.1, 0)))
	require.NoError(t, l.Record(fill("b2", domain.Buy, 12, 10, 0.1, time.Minute)))
	require.NoError(t, l.Record(fill("s1", domain.Sell, 11, 15, 0.15, 2*time.Minute)))

	res, err := l.MatchFIFO()
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)

	m1, m2 := res.Matches[0], res.Matches[1]
	assert.Equal(t, "b1", m1.BuyOrderID)
	assert.Equal(t, "s1", m1.SellOrderID)
	assert.InDelta(t, 10.0, m1.Quantity, 1e-9)
	assert.InDelta(t, 10.0, m1.GrossPnL, 1e-9) // 10 * (11-10)

	assert.Equal(t, "b2", m2.BuyOrderID)
	assert.InDelta(t, 5.0, m2.Quantity, 1e-9)
	assert.InDelta(t, -5.0, m2.GrossPnL, 1e-9) // 5 * (11-12)

	gross := m1.GrossPnL + m2.GrossPnL
	assert.InDelta(t, 5.0, gross, 1e-9)

	// Fee proration: b1 contributes its full 0.1, b2 contributes 0.05,
	// the sell contributes 0.1 + 0.05 across the two matches.
	assert.InDelta(t, 0.1+0.1, m1.Fees, 1e-9)
	assert.InDelta(t, 0.05+0.05, m2.Fees, 1e-9)

	open, ok := res.Open["BTCUSDT"]
	require.True(t, ok)
	assert.InDelta(t, 5.0, open.Quantity, 1e-9)
	assert.InDelta(t, 12.0, open.CostBasis, 1e-9)
}

func TestMatchFIFODeterministicReplay(t *testing.T) {
	build := func() *Ledger {
		l := New(nil)
		require.NoError(t, l.Record(fill("b1", domain.Buy, 100, 2, 0.2, 0)))
		require.NoError(t, l.Record(fill("b2", domain.Buy, 105, 3, 0.3, time.Minute)))
		require.NoError(t, l.Record(fill("s1", domain.Sell, 110, 4, 0.4, 2*time.Minute)))
		require.NoError(t, l.Record(fill("s2", domain.Sell, 95, 0.5, 0.05, 3*time.Minute)))
		return l
	}

	first, err := build().MatchFIFO()
	require.NoError(t, err)
	second, err := build().MatchFIFO()
	require.NoError(t, err)

	assert.Equal(t, first.Matches, second.Matches)
	assert.Equal(t, first.Open, second.Open)

	var totalFirst, totalSecond float64
	for _, m := range first.Matches {
		totalFirst += m.NetPnL
	}
	for _, m := range second.Matches {
		totalSecond += m.NetPnL
	}
	assert.Equal(t, totalFirst, totalSecond)
}

// Conservation: matched quantity drawn from buys plus the remaining open
// quantity always equals the total bought quantity when sells <= buys.
func TestMatchFIFOConservation(t *testing.T) {
	l := New(nil)
	sizes := []float64{1.5, 0.25, 3, 0.0003, 2.75}
	var bought float64
	for i, sz := range sizes {
		require.NoError(t, l.Record(fill(fmt.Sprintf("b%d", i), domain.Buy, 100+float64(i), sz, 0.01, time.Duration(i)*time.Minute)))
		bought += sz
	}
	require.NoError(t, l.Record(fill("s1", domain.Sell, 120, 4.2, 0.1, time.Hour)))
	require.NoError(t, l.Record(fill("s2", domain.Sell, 121, 1.1, 0.1, 2*time.Hour)))

	res, err := l.MatchFIFO()
	require.NoError(t, err)

	var matched float64
	for _, m := range res.Matches {
		matched += m.Quantity
	}
	open := res.Open["BTCUSDT"]
	assert.InDelta(t, bought, matched+open.Quantity, 1e-8)
}

func TestMatchFIFOSellBeforeBuy(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Record(fill("s1", domain.Sell, 100, 1, 0.1, 0)))
	require.NoError(t, l.Record(fill("b1", domain.Buy, 99, 1, 0.1, time.Minute)))

	_, err := l.MatchFIFO()
	require.Error(t, err)
	var cerr *ports.CalculationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "s1", cerr.Inputs["sell"])
}

func TestMatchFIFOOversell(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Record(fill("b1", domain.Buy, 100, 1, 0.1, 0)))
	require.NoError(t, l.Record(fill("s1", domain.Sell, 110, 2, 0.1, time.Minute)))

	_, err := l.MatchFIFO()
	require.Error(t, err)
	var cerr *ports.CalculationError
	require.True(t, errors.As(err, &cerr))
}

func TestMatchFIFOSymbolFilter(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Record(fill("b1", domain.Buy, 100, 1, 0.1, 0)))
	eth := fill("e1", domain.Buy, 2000, 1, 0.5, 0)
	eth.Symbol = "ETHUSDT"
	require.NoError(t, l.Record(eth))

	res, err := l.MatchFIFO("ETHUSDT")
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Contains(t, res.Open, "ETHUSDT")
	assert.NotContains(t, res.Open, "BTCUSDT")
}

func TestReplayResetsState(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Record(fill("old", domain.Buy, 100, 1, 0.1, 0)))

	f1 := fill("b1", domain.Buy, 50, 2, 0.1, 0)
	f2 := fill("s1", domain.Sell, 55, 2, 0.1, time.Minute)
	require.NoError(t, l.Replay([]*domain.Fill{&f1, &f2}))

	res, err := l.MatchFIFO()
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "b1", res.Matches[0].BuyOrderID)
	assert.Empty(t, res.Open)
}

func TestSummarize(t *testing.T) {
	matches := []domain.MatchedTrade{
		{Symbol: "BTCUSDT", NetPnL: 12, GrossPnL: 13, Fees: 1, ClosedAt: t0},
		{Symbol: "BTCUSDT", NetPnL: -4, GrossPnL: -3.5, Fees: 0.5, ClosedAt: t0},
		{Symbol: "ETHUSDT", NetPnL: 2, GrossPnL: 2.2, Fees: 0.2, ClosedAt: t0.Add(48 * time.Hour)},
	}

	s := Summarize(matches)
	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 10.0, s.NetPnL, 1e-9)
	assert.InDelta(t, 8.0, s.BySymbol["BTCUSDT"], 1e-9)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, s.Symbols())

	day := SummarizeDay(matches, t0)
	assert.Equal(t, 2, day.Trades)
	assert.Equal(t, 1, day.Wins)
	assert.Equal(t, 1, day.Losses)
	assert.InDelta(t, 8.0, day.PnL, 1e-9)
}

type captureLogger struct {
	debugs []string
}

func (l *captureLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.debugs = append(l.debugs, msg)
}
func (l *captureLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *captureLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *captureLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestReplayLogsJournalSummary(t *testing.T) {
	log := &captureLogger{}
	l := New(log)
	buy := fill("b1", domain.Buy, 100, 1, 0.1, 0)
	sell := fill("s1", domain.Sell, 110, 1, 0.1, time.Minute)
	require.NoError(t, l.Replay([]*domain.Fill{&buy, &sell}))
	require.Len(t, log.debugs, 1, "one replay summary per journal rebuild")
}
