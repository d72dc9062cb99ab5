package ledger

import (
	"sort"
	"time"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
)

// RealizedSummary aggregates matched round trips into the totals the JSON
// mirror and metrics report each cycle.
type RealizedSummary struct {
	TotalTrades int
	Wins        int
	Losses      int
	GrossPnL    float64
	Fees        float64
	NetPnL      float64
	BySymbol    map[string]float64 // net PnL per symbol
}

// DailyStats are the day-scoped counters exposed in the mirror file.
type DailyStats struct {
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	PnL    float64 `json:"pnl"`
}

// Summarize folds matched trades into a realized summary.
func Summarize(matches []domain.MatchedTrade) RealizedSummary {
	s := RealizedSummary{BySymbol: make(map[string]float64)}
	for _, m := range matches {
		s.TotalTrades++
		s.GrossPnL += m.GrossPnL
		s.Fees += m.Fees
		s.NetPnL += m.NetPnL
		s.BySymbol[m.Symbol] += m.NetPnL
		if m.NetPnL >= 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	return s
}

// SummarizeDay folds the matched trades closed on the given UTC day.
func SummarizeDay(matches []domain.MatchedTrade, day time.Time) DailyStats {
	y, m, d := day.UTC().Date()
	var stats DailyStats
	for _, mt := range matches {
		cy, cm, cd := mt.ClosedAt.UTC().Date()
		if cy != y || cm != m || cd != d {
			continue
		}
		stats.Trades++
		stats.PnL += mt.NetPnL
		if mt.NetPnL >= 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}
	return stats
}

// Symbols lists the symbols appearing in the summary, sorted for stable
// logging and mirror output.
func (s RealizedSummary) Symbols() []string {
	out := make([]string, 0, len(s.BySymbol))
	for sym := range s.BySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
