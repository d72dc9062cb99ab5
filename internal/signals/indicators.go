package signals

import (
	"fmt"
	"math"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
)

// sma computes the simple moving average of the last period closes.
func sma(klines []*domain.Kline, period int) (float64, error) {
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(klines), period)
	}
	total := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		total += klines[i].Close
	}
	return total / float64(period), nil
}

// ema computes the exponential moving average, seeded with the SMA of the
// first period closes.
func ema(klines []*domain.Kline, period int) (float64, error) {
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(klines), period)
	}
	seed, err := sma(klines[:period], period)
	if err != nil {
		return 0, err
	}
	multiplier := 2.0 / float64(period+1)
	out := seed
	for i := period; i < len(klines); i++ {
		out = (klines[i].Close-out)*multiplier + out
	}
	return out, nil
}

// atr computes the Average True Range using Wilder's smoothing.
func atr(klines []*domain.Kline, period int) (float64, error) {
	if len(klines) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR calculation: need %d, got %d", period+1, len(klines))
	}

	trueRanges := make([]float64, len(klines))
	trueRanges[0] = klines[0].High - klines[0].Low
	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		tr := high - low
		tr = math.Max(tr, math.Abs(high-prevClose))
		tr = math.Max(tr, math.Abs(low-prevClose))
		trueRanges[i] = tr
	}

	out := 0.0
	for i := 0; i < period; i++ {
		out += trueRanges[i]
	}
	out /= float64(period)
	for i := period; i < len(klines); i++ {
		out = (out*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return out, nil
}

// rsi computes the Relative Strength Index using Wilder's smoothing.
// Returns 50 on a flat series.
func rsi(klines []*domain.Kline, period int) (float64, error) {
	if len(klines) <= period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(klines), period)
	}

	changes := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		changes = append(changes, klines[i].Close-klines[i-1].Close)
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*float64(period-1) + changes[i]) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - changes[i]) / float64(period)
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}

	rs := avgGain / avgLoss
	out := 100 - (100 / (1 + rs))
	return math.Max(0, math.Min(100, out)), nil
}

// window returns the lowest low and highest high over the last n klines.
func window(klines []*domain.Kline, n int) (low, high float64) {
	if n > len(klines) {
		n = len(klines)
	}
	for _, k := range klines[len(klines)-n:] {
		if low == 0 || k.Low < low {
			low = k.Low
		}
		if k.High > high {
			high = k.High
		}
	}
	return low, high
}
