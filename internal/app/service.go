// Package app runs the rotation service: reconcile state from the fill
// journal on startup, then repeatedly quote every symbol, classify open
// positions, execute the resulting exits in priority order, scan for new
// entries, and publish metrics and the JSON mirror.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/mirror"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/execution"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ledger"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/metrics"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/risk"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/rotation"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/pkg/id"
)

// maxPrefetch bounds the concurrent price/signal fetches per cycle.
const maxPrefetch = 4

// Executor places orders for intents; the execution gateway implements it.
type Executor interface {
	ExecuteExit(ctx context.Context, intent rotation.Intent) (*execution.ExitResult, error)
	ExecuteEntry(ctx context.Context, pos *domain.Position, quantity float64) (*execution.EntryResult, error)
}

// Config holds the service's cycle parameters.
type Config struct {
	Symbols         []string      // universe scanned for entries
	QuoteCurrency   string        // balance currency, e.g. "USDT"
	CycleInterval   time.Duration // wall-clock spacing between cycles
	MaxTradesPerDay int           // per-symbol daily fill cap, 0 for none
	EntryScoreMin   float64       // opportunity score floor for new entries
	MinQuoteBalance float64       // below this no new entries are taken
}

// Deps bundles the service's collaborators. Metrics, Health and Mirror are
// optional; everything else is required.
type Deps struct {
	Logger    ports.Logger
	Exchange  ports.ExchangeClient
	Positions ports.PositionRepository
	Trades    ports.TradeRepository
	Signals   ports.SignalProvider
	Risk      *risk.Engine
	Rotation  *rotation.Engine
	Executor  Executor
	Ledger    *ledger.Ledger

	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Mirror  *mirror.Writer
}

// Service drives the rotation cycle. All state is owned by the single cycle
// goroutine; nothing here is accessed concurrently.
type Service struct {
	cfg  Config
	deps Deps

	peakEquity float64
	now        func() time.Time
}

// New creates the rotation service, validating its dependencies.
func New(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Exchange == nil:
		return nil, fmt.Errorf("exchange client is required")
	case deps.Positions == nil:
		return nil, fmt.Errorf("position repository is required")
	case deps.Trades == nil:
		return nil, fmt.Errorf("trade repository is required")
	case deps.Signals == nil:
		return nil, fmt.Errorf("signal provider is required")
	case deps.Risk == nil:
		return nil, fmt.Errorf("risk engine is required")
	case deps.Rotation == nil:
		return nil, fmt.Errorf("rotation engine is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Minute
	}
	if cfg.EntryScoreMin <= 0 {
		cfg.EntryScoreMin = 60
	}
	return &Service{cfg: cfg, deps: deps, now: time.Now}, nil
}

// Start reconciles persisted state, then runs cycles until the context is
// cancelled or an interrupt arrives. Shutdown always lands between cycles; a
// cycle in flight completes first.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := s.deps.Exchange.Ping(ctx); err != nil {
		return fmt.Errorf("exchange unreachable at startup: %w", err)
	}
	if s.deps.Health != nil {
		s.deps.Health.SetExchangeOK(true)
	}

	if err := s.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	s.deps.Logger.Info(ctx, "rotation service started", map[string]interface{}{
		"symbols":  s.cfg.Symbols,
		"interval": s.cfg.CycleInterval.String(),
	})

	for {
		if _, err := s.RunCycle(ctx); err != nil {
			// A failed cycle never stops the service; the next cycle
			// re-derives everything from persisted state.
			s.deps.Logger.Error(ctx, err, "cycle failed")
		}

		select {
		case <-ctx.Done():
			s.deps.Logger.Info(ctx, "context cancelled, shutting down")
			return nil
		case sig := <-sigCh:
			s.deps.Logger.Info(ctx, "shutdown signal received", map[string]interface{}{"signal": sig.String()})
			return nil
		case <-time.After(s.cfg.CycleInterval):
		}
	}
}

// Reconcile rebuilds the in-memory ledger from the persisted fill journal and
// brings the position store in line with what the ledger says is actually
// held. The journal is the source of truth: stored positions are adjusted or
// closed to match it, and ledger remainders without a stored position are
// adopted.
func (s *Service) Reconcile(ctx context.Context) error {
	fills, err := s.deps.Trades.ListFills(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to load fill journal: %w", err)
	}
	if err := s.deps.Ledger.Replay(fills); err != nil {
		return fmt.Errorf("failed to replay fill journal: %w", err)
	}
	res, err := s.deps.Ledger.MatchFIFO()
	if err != nil {
		return fmt.Errorf("failed to match fill journal: %w", err)
	}

	stored, err := s.deps.Positions.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}
	bySymbol := make(map[string]*domain.Position, len(stored))
	for _, pos := range stored {
		bySymbol[pos.Symbol] = pos
	}

	adopted, adjusted, closed := 0, 0, 0
	for symbol, open := range res.Open {
		pos, ok := bySymbol[symbol]
		if !ok {
			pos = &domain.Position{
				Symbol:       symbol,
				Status:       domain.StatusOpen,
				HighestPrice: open.CostBasis,
			}
			adopted++
			s.deps.Logger.Warn(ctx, "adopting position from fill journal", map[string]interface{}{
				"symbol": symbol, "quantity": open.Quantity, "costBasis": open.CostBasis,
			})
		} else if pos.Quantity != open.Quantity || pos.EntryPrice != open.CostBasis {
			adjusted++
			s.deps.Logger.Warn(ctx, "adjusting stored position to fill journal", map[string]interface{}{
				"symbol":         symbol,
				"storedQuantity": pos.Quantity, "journalQuantity": open.Quantity,
				"storedEntry": pos.EntryPrice, "journalEntry": open.CostBasis,
			})
		}
		pos.Quantity = open.Quantity
		pos.EntryPrice = open.CostBasis
		pos.OpenedAt = open.OpenedAt
		if pos.HighestPrice < pos.EntryPrice {
			pos.HighestPrice = pos.EntryPrice
		}
		if err := s.deps.Positions.Upsert(ctx, pos); err != nil {
			return fmt.Errorf("failed to persist reconciled position for %s: %w", symbol, err)
		}
	}

	for symbol, pos := range bySymbol {
		if _, ok := res.Open[symbol]; ok {
			continue
		}
		closed++
		s.deps.Logger.Warn(ctx, "closing stored position without journal backing", map[string]interface{}{
			"symbol": symbol, "quantity": pos.Quantity,
		})
		if err := s.deps.Positions.ClosePosition(ctx, symbol, pos.EntryPrice, domain.ActionConsolidate); err != nil && !errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("failed to close unbacked position for %s: %w", symbol, err)
		}
	}

	s.deps.Logger.Info(ctx, "reconciled positions against fill journal", map[string]interface{}{
		"fills": len(fills), "open": len(res.Open),
		"adopted": adopted, "adjusted": adjusted, "closed": closed,
	})
	return nil
}

// cycleView is the per-cycle market snapshot shared by the exit and entry
// phases.
type cycleView struct {
	quotes  map[string]rotation.Quote
	prices  map[string]float64
	signals map[string]*ports.MarketSignal
}

// RunCycle executes one full rotation cycle and returns its summary. A
// symbol whose data or orders fail is isolated: it is skipped or recorded as
// a failure and the rest of the cycle proceeds.
func (s *Service) RunCycle(ctx context.Context) (*rotation.CycleSummary, error) {
	started := s.now()
	cycleID := id.New()
	summary := rotation.NewCycleSummary(started)

	positions, err := s.deps.Positions.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load open positions: %w", err)
	}
	summary.Evaluated = len(positions)

	view := s.collectQuotes(ctx, positions)
	s.refreshPositions(ctx, positions, view)

	intents := s.deps.Rotation.PlanCycle(positions, view.quotes, s.now())
	for _, intent := range intents {
		s.executeExit(ctx, cycleID, intent, summary)
	}

	balance := s.quoteBalance(ctx)
	s.scanEntries(ctx, cycleID, view, balance, summary)

	s.publish(ctx, cycleID, started, balance, view, summary)
	return summary, nil
}

// collectQuotes fetches a price and signal for every symbol in the universe
// plus every held symbol. A failed price drops the symbol for this cycle. A
// failed signal on a held symbol falls back to the stored score so exits are
// never blocked by a signal outage; on an unheld symbol it just rules out an
// entry.
func (s *Service) collectQuotes(ctx context.Context, positions []*domain.Position) *cycleView {
	view := &cycleView{
		quotes:  make(map[string]rotation.Quote),
		prices:  make(map[string]float64),
		signals: make(map[string]*ports.MarketSignal),
	}

	held := make(map[string]*domain.Position, len(positions))
	symbols := make([]string, 0, len(s.cfg.Symbols)+len(positions))
	seen := make(map[string]bool)
	for _, sym := range s.cfg.Symbols {
		symbols = append(symbols, sym)
		seen[sym] = true
	}
	for _, pos := range positions {
		held[pos.Symbol] = pos
		if !seen[pos.Symbol] {
			symbols = append(symbols, pos.Symbol)
		}
	}

	// Fetch price and signal for each symbol concurrently, each goroutine
	// writing only its own slot; the merge below runs after the join.
	type marketData struct {
		price    float64
		priceErr error
		sig      *ports.MarketSignal
		sigErr   error
	}
	fetched := make([]marketData, len(symbols))
	sem := make(chan struct{}, maxPrefetch)
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			d := &fetched[i]
			d.price, d.priceErr = s.deps.Exchange.GetTicker(ctx, sym)
			if d.priceErr != nil || d.price <= 0 {
				return
			}
			d.sig, d.sigErr = s.deps.Signals.Signal(ctx, sym)
		}(i, sym)
	}
	wg.Wait()

	for i, sym := range symbols {
		d := fetched[i]
		if d.priceErr != nil || d.price <= 0 {
			s.deps.Logger.Warn(ctx, "no usable price, skipping symbol this cycle", map[string]interface{}{
				"symbol": sym, "error": errString(d.priceErr),
			})
			if s.deps.Metrics != nil {
				s.deps.Metrics.SymbolsSkipped.Inc()
			}
			continue
		}
		view.prices[sym] = d.price

		if d.sigErr != nil {
			pos, isHeld := held[sym]
			if !isHeld {
				s.deps.Logger.Warn(ctx, "no signal, skipping symbol this cycle", map[string]interface{}{
					"symbol": sym, "error": d.sigErr.Error(),
				})
				if s.deps.Metrics != nil {
					s.deps.Metrics.SymbolsSkipped.Inc()
				}
				continue
			}
			s.deps.Logger.Warn(ctx, "signal failed for held symbol, using stored score", map[string]interface{}{
				"symbol": sym, "error": d.sigErr.Error(),
			})
			view.quotes[sym] = rotation.Quote{Price: d.price, Score: pos.Score}
			continue
		}
		view.signals[sym] = d.sig
		view.quotes[sym] = rotation.Quote{Price: d.price, Score: d.sig.Score}
	}
	return view
}

// refreshPositions updates each held position's highest price, trailing stop
// and score from the fresh market view, persisting any change before
// classification runs.
func (s *Service) refreshPositions(ctx context.Context, positions []*domain.Position, view *cycleView) {
	for _, pos := range positions {
		price, ok := view.prices[pos.Symbol]
		if !ok {
			continue
		}
		changed := false
		if price > pos.HighestPrice {
			pos.HighestPrice = price
			changed = true
		}
		if sig, ok := view.signals[pos.Symbol]; ok {
			if sig.Score != pos.Score {
				pos.Score = sig.Score
				changed = true
			}
			trail := s.deps.Risk.TrailingStop(risk.TrailingInput{
				Entry:      pos.EntryPrice,
				Current:    price,
				Highest:    pos.HighestPrice,
				Volatility: sig.Volatility,
				ATR:        sig.ATR,
				Trend:      sig.Trend,
				Regime:     sig.Regime,
			}, s.deps.Risk.Params().Fees)
			if trail > pos.TrailingStop {
				pos.TrailingStop = trail
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := s.deps.Positions.Upsert(ctx, pos); err != nil {
			s.deps.Logger.Warn(ctx, "failed to persist refreshed position", map[string]interface{}{
				"symbol": pos.Symbol, "error": err.Error(),
			})
		}
	}
}

// executeExit runs one intent through the gateway and folds the outcome into
// the summary.
func (s *Service) executeExit(ctx context.Context, cycleID string, intent rotation.Intent, summary *rotation.CycleSummary) {
	res, err := s.deps.Executor.ExecuteExit(ctx, intent)
	if err != nil {
		summary.Failures[intent.Symbol] = err.Error()
		if s.deps.Metrics != nil {
			s.deps.Metrics.ExitFailures.WithLabelValues(string(intent.Action)).Inc()
		}
		s.deps.Logger.Error(ctx, err, "exit failed", map[string]interface{}{
			"cycle": cycleID, "symbol": intent.Symbol, "action": string(intent.Action), "retryable": ports.IsRetryable(err),
		})
		return
	}
	if res.Skipped {
		s.deps.Logger.Debug(ctx, "exit skipped", map[string]interface{}{
			"cycle": cycleID, "symbol": intent.Symbol, "action": string(intent.Action), "reason": res.SkipReason,
		})
		return
	}

	summary.RecordFill(intent, res.RealizedPnL, res.CapitalFreed)
	summary.ByAction[intent.Action] = append(summary.ByAction[intent.Action], intent.Symbol)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ExitsTotal.WithLabelValues(string(intent.Action)).Inc()
	}
	s.deps.Logger.Info(ctx, "exit executed", map[string]interface{}{
		"cycle": cycleID, "symbol": intent.Symbol, "action": string(intent.Action),
		"reason": intent.Reason, "realizedPnL": res.RealizedPnL, "closed": res.Closed,
	})
}

// quoteBalance returns the available quote-currency balance, 0 when the
// exchange cannot be queried.
func (s *Service) quoteBalance(ctx context.Context) float64 {
	balances, err := s.deps.Exchange.GetAllBalances(ctx)
	if err != nil {
		s.deps.Logger.Warn(ctx, "failed to fetch balances, entries disabled this cycle", map[string]interface{}{
			"error": err.Error(),
		})
		if s.deps.Health != nil {
			s.deps.Health.SetExchangeOK(false)
		}
		return 0
	}
	if s.deps.Health != nil {
		s.deps.Health.SetExchangeOK(true)
	}
	return balances[s.cfg.QuoteCurrency].Available
}

// scanEntries sizes and places new positions for unheld symbols whose signal
// clears the score floor and every risk gate. Exposure accumulated by earlier
// entries in the same cycle counts against later candidates.
func (s *Service) scanEntries(ctx context.Context, cycleID string, view *cycleView, balance float64, summary *rotation.CycleSummary) {
	if balance < s.cfg.MinQuoteBalance || balance <= 0 {
		s.deps.Logger.Debug(ctx, "quote balance under entry floor, skipping entry scan", map[string]interface{}{
			"balance": balance, "floor": s.cfg.MinQuoteBalance,
		})
		return
	}

	positions, err := s.deps.Positions.GetOpenPositions(ctx)
	if err != nil {
		s.deps.Logger.Warn(ctx, "failed to reload positions, skipping entry scan", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	held := make(map[string]bool, len(positions))
	var totalExposure, largestExposure, openRisk float64
	for _, pos := range positions {
		held[pos.Symbol] = true
		price, ok := view.prices[pos.Symbol]
		if !ok {
			price = pos.EntryPrice
		}
		value := pos.Value(price)
		totalExposure += value
		if value > largestExposure {
			largestExposure = value
		}
		if pos.StopLoss > 0 && pos.StopLoss < pos.EntryPrice {
			openRisk += (pos.EntryPrice - pos.StopLoss) * pos.Quantity
		}
	}
	openCount := len(positions)
	fees := s.deps.Risk.Params().Fees

	for _, sym := range s.cfg.Symbols {
		if held[sym] {
			continue
		}
		sig, ok := view.signals[sym]
		price := view.prices[sym]
		if !ok || price <= 0 {
			continue
		}
		if sig.Score < s.cfg.EntryScoreMin {
			continue
		}
		if s.cfg.MaxTradesPerDay > 0 {
			n, err := s.deps.Trades.CountTodayBySymbol(ctx, sym)
			if err != nil {
				s.deps.Logger.Warn(ctx, "failed to count today's fills", map[string]interface{}{
					"symbol": sym, "error": err.Error(),
				})
				continue
			}
			if n >= s.cfg.MaxTradesPerDay {
				s.deps.Logger.Debug(ctx, "daily trade cap reached", map[string]interface{}{
					"symbol": sym, "fills": n, "cap": s.cfg.MaxTradesPerDay,
				})
				continue
			}
		}

		stop, err := s.deps.Risk.StopLoss(risk.StopLossInput{
			Entry:      price,
			Volatility: sig.Volatility,
			ATR:        sig.ATR,
			RecentLow:  sig.RecentLow,
			Trend:      sig.Trend,
			Regime:     sig.Regime,
		}, fees)
		if err != nil {
			s.deps.Logger.Warn(ctx, "stop-loss pricing failed", map[string]interface{}{"symbol": sym, "error": err.Error()})
			continue
		}
		takeProfits, err := s.deps.Risk.TakeProfits(risk.TakeProfitInput{
			Entry:      price,
			Stop:       stop,
			RecentHigh: sig.RecentHigh,
			Volatility: sig.Volatility,
			Trend:      sig.Trend,
			Regime:     sig.Regime,
			Staged:     true,
		}, fees)
		if err != nil {
			s.deps.Logger.Warn(ctx, "take-profit pricing failed", map[string]interface{}{"symbol": sym, "error": err.Error()})
			continue
		}
		quantity, err := s.deps.Risk.PositionSize(balance, price, stop, sig.Score/100, sig.Volatility, 1)
		if err != nil {
			s.deps.Logger.Warn(ctx, "position sizing failed", map[string]interface{}{"symbol": sym, "error": err.Error()})
			continue
		}
		if quantity <= 0 {
			continue
		}

		candidate := &domain.Position{
			Symbol:       sym,
			Quantity:     quantity,
			EntryPrice:   price,
			StopLoss:     stop,
			TakeProfits:  takeProfits,
			HighestPrice: price,
			OpenedAt:     s.now(),
			Score:        sig.Score,
			Status:       domain.StatusOpen,
		}
		if ok, violations := s.deps.Risk.ValidatePosition(candidate, balance); !ok {
			s.deps.Logger.Debug(ctx, "entry rejected by position gates", map[string]interface{}{
				"symbol": sym, "violations": violations,
			})
			continue
		}
		equity := balance + totalExposure
		snap := risk.PortfolioSnapshot{
			Balance:         balance,
			TotalExposure:   totalExposure,
			LargestExposure: largestExposure,
			OpenRisk:        openRisk,
			Drawdown:        s.drawdown(equity),
			OpenPositions:   openCount,
		}
		if ok, violations := s.deps.Risk.ValidatePortfolio(snap); !ok {
			s.deps.Logger.Info(ctx, "entry rejected by portfolio gates", map[string]interface{}{
				"symbol": sym, "violations": violations,
			})
			continue
		}

		res, err := s.deps.Executor.ExecuteEntry(ctx, candidate, quantity)
		if err != nil {
			summary.Failures[sym] = err.Error()
			s.deps.Logger.Error(ctx, err, "entry failed", map[string]interface{}{
				"cycle": cycleID, "symbol": sym,
			})
			continue
		}
		if res.Skipped {
			s.deps.Logger.Debug(ctx, "entry skipped", map[string]interface{}{
				"cycle": cycleID, "symbol": sym, "reason": res.SkipReason,
			})
			continue
		}

		if s.deps.Metrics != nil {
			s.deps.Metrics.EntriesTotal.Inc()
		}
		s.deps.Logger.Info(ctx, "entry executed", map[string]interface{}{
			"cycle": cycleID, "symbol": sym, "price": res.Fill.Price,
			"quantity": res.Fill.Size, "score": sig.Score,
		})

		// Later candidates in this cycle see the exposure just taken on.
		value := candidate.Value(price)
		totalExposure += value
		if value > largestExposure {
			largestExposure = value
		}
		if candidate.StopLoss > 0 && candidate.StopLoss < price {
			openRisk += (price - candidate.StopLoss) * candidate.Quantity
		}
		openCount++
		balance -= res.Fill.Funds + res.Fill.Fee
		if balance < s.cfg.MinQuoteBalance || balance <= 0 {
			return
		}
	}
}

// publish pushes cycle results to metrics, health and the JSON mirror.
func (s *Service) publish(ctx context.Context, cycleID string, started time.Time, balance float64, view *cycleView, summary *rotation.CycleSummary) {
	positions, err := s.deps.Positions.GetOpenPositions(ctx)
	if err != nil {
		s.deps.Logger.Warn(ctx, "failed to reload positions for publishing", map[string]interface{}{
			"error": err.Error(),
		})
		positions = nil
	}

	equity := balance
	for _, pos := range positions {
		price, ok := view.prices[pos.Symbol]
		if !ok {
			price = pos.EntryPrice
		}
		equity += pos.Value(price)
	}
	if equity > s.peakEquity {
		s.peakEquity = equity
	}

	var realized ledger.RealizedSummary
	var daily ledger.DailyStats
	if res, err := s.deps.Ledger.MatchFIFO(); err != nil {
		s.deps.Logger.Error(ctx, err, "failed to summarize ledger")
	} else {
		realized = ledger.Summarize(res.Matches)
		daily = ledger.SummarizeDay(res.Matches, s.now())
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.CyclesTotal.Inc()
		s.deps.Metrics.CycleDuration.Observe(s.now().Sub(started).Seconds())
		s.deps.Metrics.OpenPositions.Set(float64(len(positions)))
		s.deps.Metrics.RealizedPnL.Set(realized.NetPnL)
		s.deps.Metrics.Equity.Set(equity)
	}
	if s.deps.Health != nil {
		s.deps.Health.SetLastCycleAt(s.now())
	}
	if s.deps.Mirror != nil {
		snap := mirror.BuildSnapshot(positions, view.prices, daily, s.now())
		if err := s.deps.Mirror.Write(snap); err != nil {
			s.deps.Logger.Error(ctx, err, "failed to write mirror snapshot")
		}
	}

	s.deps.Logger.Info(ctx, "cycle complete", map[string]interface{}{
		"cycle": cycleID, "duration": s.now().Sub(started).String(),
		"evaluated": summary.Evaluated, "executed": summary.TradesExecuted,
		"realizedPnL": summary.TotalRealizedPnL, "capitalFreed": summary.CapitalFreed,
		"failures": len(summary.Failures), "open": len(positions), "equity": equity,
	})
}

// drawdown reports the current drawdown from peak equity as a fraction.
func (s *Service) drawdown(equity float64) float64 {
	if s.peakEquity <= 0 || equity >= s.peakEquity {
		return 0
	}
	return (s.peakEquity - equity) / s.peakEquity
}

func errString(err error) string {
	if err == nil {
		return "non-positive price"
	}
	return err.Error()
}
