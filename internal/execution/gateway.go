// Package execution turns exit and entry intents into confirmed exchange
// fills: pre-execution re-checks, lot rounding, bounded retry with backoff,
// per-symbol circuit breaking, and ledger/position updates once a fill is
// confirmed.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ledger"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/rotation"
)

// Rechecker re-evaluates whether an intent's triggering condition still holds
// at the latest price; the rotation engine implements it.
type Rechecker interface {
	StillTriggered(intent rotation.Intent, price float64) bool
}

// Config holds the gateway's execution tunables.
type Config struct {
	MaxRetries         int           // attempts per order beyond the first
	BackoffMin         time.Duration // initial retry delay
	BackoffMax         time.Duration // retry delay ceiling
	BreakerMaxFailures int           // consecutive failures before a symbol's breaker opens
	BreakerCooldown    time.Duration // open duration before the half-open probe
	CallTimeout        time.Duration // per exchange call, not per cycle
	RulesTTL           time.Duration // symbol rules cache lifetime
	PlaceRestingTP     bool          // work the first take-profit level as a limit sell after entry
	DryRun             bool          // classify and log, place no orders
}

// ExitResult reports one executed (or skipped) exit.
type ExitResult struct {
	Skipped      bool
	SkipReason   string
	Order        *ports.Order
	Fill         *domain.Fill
	RealizedPnL  float64 // net PnL of the round trips this exit closed
	CapitalFreed float64 // quote proceeds of the exit
	Closed       bool    // position fully closed
}

// EntryResult reports one executed entry.
type EntryResult struct {
	Skipped    bool
	SkipReason string
	Order      *ports.Order
	Fill       *domain.Fill
}

type cachedRules struct {
	rules     *ports.SymbolRules
	fetchedAt time.Time
}

// Gateway executes intents against the exchange and keeps the ledger and
// position store consistent with what actually filled. It is driven from a
// single cycle's thread of control; the breaker map is per symbol.
type Gateway struct {
	cfg       Config
	exchange  ports.ExchangeClient
	ledger    *ledger.Ledger
	posRepo   ports.PositionRepository
	tradeRepo ports.TradeRepository
	recheck   Rechecker
	logger    ports.Logger

	breakers map[string]*CircuitBreaker
	rules    map[string]cachedRules
	now      func() time.Time

	// OnRetry and OnBreakerOpen are optional instrumentation hooks. OnRetry
	// fires before each backed-off order retry; OnBreakerOpen fires when a
	// symbol's breaker transitions to open.
	OnRetry       func(symbol string)
	OnBreakerOpen func(symbol string)
}

// New creates an execution gateway.
func New(cfg Config, exchange ports.ExchangeClient, led *ledger.Ledger, posRepo ports.PositionRepository, tradeRepo ports.TradeRepository, recheck Rechecker, logger ports.Logger) (*Gateway, error) {
	if exchange == nil || led == nil || posRepo == nil || tradeRepo == nil || recheck == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for execution gateway")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MaxRetries cannot be negative")
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.RulesTTL <= 0 {
		cfg.RulesTTL = 10 * time.Minute
	}
	return &Gateway{
		cfg:       cfg,
		exchange:  exchange,
		ledger:    led,
		posRepo:   posRepo,
		tradeRepo: tradeRepo,
		recheck:   recheck,
		logger:    logger,
		breakers:  make(map[string]*CircuitBreaker),
		rules:     make(map[string]cachedRules),
		now:       time.Now,
	}, nil
}

// breaker returns the symbol's circuit breaker, creating it on first use.
func (g *Gateway) breaker(symbol string) *CircuitBreaker {
	cb, ok := g.breakers[symbol]
	if !ok {
		cb = NewCircuitBreaker(g.cfg.BreakerMaxFailures, g.cfg.BreakerCooldown)
		cb.OnStateChange = func(from, to BreakerState) {
			g.logger.Warn(context.Background(), "circuit breaker state change", map[string]interface{}{
				"symbol": symbol, "from": from.String(), "to": to.String(),
			})
			if to == BreakerOpen && g.OnBreakerOpen != nil {
				g.OnBreakerOpen(symbol)
			}
		}
		g.breakers[symbol] = cb
	}
	return cb
}

// symbolRules returns cached exchange rules for the symbol, refreshing past
// the TTL.
func (g *Gateway) symbolRules(ctx context.Context, symbol string) (*ports.SymbolRules, error) {
	if c, ok := g.rules[symbol]; ok && g.now().Sub(c.fetchedAt) < g.cfg.RulesTTL {
		return c.rules, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	rules, err := g.exchange.GetSymbolRules(callCtx, symbol)
	if err != nil {
		return nil, ports.NewRetryable(symbol, "GetSymbolRules", err)
	}
	g.rules[symbol] = cachedRules{rules: rules, fetchedAt: g.now()}
	return rules, nil
}

// InvalidateRules drops the cached rules for a symbol. Called after every
// confirmed fill so stale increments never survive an exchange rule change.
func (g *Gateway) InvalidateRules(symbol string) {
	delete(g.rules, symbol)
}

// roundQuantity floors qty to the lot increment using decimal arithmetic, so
// 0.1+0.2-style float dust never produces an invalid increment.
func roundQuantity(qty float64, rules *ports.SymbolRules) float64 {
	if rules == nil || rules.LotIncrement <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	inc := decimal.NewFromFloat(rules.LotIncrement)
	out, _ := q.Div(inc).Floor().Mul(inc).Float64()
	return out
}

// formatQuantity renders qty with the increment's precision.
func formatQuantity(qty float64, rules *ports.SymbolRules) string {
	d := decimal.NewFromFloat(qty)
	if rules != nil && rules.LotIncrement > 0 {
		exp := decimal.NewFromFloat(rules.LotIncrement).Exponent()
		if exp < 0 {
			return d.StringFixed(-exp)
		}
	}
	return d.String()
}

func formatPrice(price float64, rules *ports.SymbolRules) string {
	d := decimal.NewFromFloat(price)
	if rules != nil && rules.PriceTick > 0 {
		tick := decimal.NewFromFloat(rules.PriceTick)
		d = d.Div(tick).Floor().Mul(tick)
		if exp := tick.Exponent(); exp < 0 {
			return d.StringFixed(-exp)
		}
	}
	return d.String()
}

// sellQuantity applies lot rounding and the minimum-lot floor to an exit.
func sellQuantity(held float64, rules *ports.SymbolRules, price float64) (float64, error) {
	qty := roundQuantity(held, rules)
	if rules != nil && qty < rules.MinLotSize {
		if held >= rules.MinLotSize {
			qty = rules.MinLotSize
		} else {
			return 0, fmt.Errorf("quantity %v below minimum lot %v", held, rules.MinLotSize)
		}
	}
	if rules != nil && rules.MinQuoteSize > 0 && qty*price < rules.MinQuoteSize {
		return 0, fmt.Errorf("notional %v below minimum %v", qty*price, rules.MinQuoteSize)
	}
	return qty, nil
}

// submitOrder runs one order placement through retry, backoff and the
// symbol's circuit breaker. An open breaker rejects without a network call.
func (g *Gateway) submitOrder(ctx context.Context, symbol, op string, place func(context.Context) (*ports.Order, error)) (*ports.Order, error) {
	cb := g.breaker(symbol)
	boff := &backoff.Backoff{
		Min:    g.cfg.BackoffMin,
		Max:    g.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	var order *ports.Order
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		err := cb.Execute(func() error {
			callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
			defer cancel()
			var placeErr error
			order, placeErr = place(callCtx)
			return placeErr
		})
		if err == nil {
			return order, nil
		}
		lastErr = err

		if errors.Is(err, ports.ErrCircuitOpen) {
			return nil, ports.NewRetryable(symbol, op, err)
		}
		if errors.Is(err, ports.ErrInvalidLotSize) {
			// The caller handles the single clamp-and-retry.
			return nil, ports.NewTerminal(symbol, op, err)
		}
		if errors.Is(err, ports.ErrInsufficientFunds) || errors.Is(err, ports.ErrAuthenticationFailed) {
			return nil, ports.NewTerminal(symbol, op, err)
		}

		if attempt < g.cfg.MaxRetries {
			if g.OnRetry != nil {
				g.OnRetry(symbol)
			}
			delay := boff.Duration()
			g.logger.Warn(ctx, "order attempt failed, backing off", map[string]interface{}{
				"symbol": symbol, "op": op, "attempt": attempt + 1, "delay": delay.String(), "error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return nil, ports.NewRetryable(symbol, op, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return nil, ports.NewRetryable(symbol, op, lastErr)
}

// marketSell places a market sell, clamping to the minimum lot and retrying
// once when the exchange rejects the increment.
func (g *Gateway) marketSell(ctx context.Context, symbol string, qty float64, rules *ports.SymbolRules) (*ports.Order, error) {
	order, err := g.submitOrder(ctx, symbol, "CreateMarketOrder", func(callCtx context.Context) (*ports.Order, error) {
		return g.exchange.CreateMarketOrder(callCtx, symbol, domain.Sell, formatQuantity(qty, rules))
	})
	if err != nil && errors.Is(err, ports.ErrInvalidLotSize) && rules != nil && qty != rules.MinLotSize {
		g.logger.Warn(ctx, "increment rejected, clamping to minimum lot", map[string]interface{}{
			"symbol": symbol, "quantity": qty, "minLot": rules.MinLotSize,
		})
		return g.submitOrder(ctx, symbol, "CreateMarketOrder", func(callCtx context.Context) (*ports.Order, error) {
			return g.exchange.CreateMarketOrder(callCtx, symbol, domain.Sell, formatQuantity(rules.MinLotSize, rules))
		})
	}
	return order, err
}

// fillFromOrder converts a confirmed order into a ledger fill.
func fillFromOrder(order *ports.Order, fallbackPrice float64, now time.Time) *domain.Fill {
	price := order.AvgPrice
	if price <= 0 {
		price = fallbackPrice
	}
	funds := order.Funds
	if funds <= 0 {
		funds = price * order.ExecutedQty
	}
	ts := order.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return &domain.Fill{
		OrderID:     order.OrderID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Price:       price,
		Size:        order.ExecutedQty,
		Funds:       funds,
		Fee:         order.Fee,
		FeeCurrency: order.FeeCurrency,
		Timestamp:   ts,
	}
}

// ExecuteExit carries out one exit intent. Before any sell the triggering
// condition is re-checked against the latest price and the exit aborts with
// no side effect when stale. TAKE_PROFIT prefers an existing resting limit
// order; all other actions cancel any resting order and go to market.
func (g *Gateway) ExecuteExit(ctx context.Context, intent rotation.Intent) (*ExitResult, error) {
	pos := intent.Position
	symbol := intent.Symbol

	if g.cfg.DryRun {
		g.logger.Info(ctx, "dry run: would execute exit", map[string]interface{}{
			"symbol": symbol, "action": string(intent.Action), "reason": intent.Reason,
		})
		return &ExitResult{Skipped: true, SkipReason: "dry run"}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	latest, err := g.exchange.GetTicker(callCtx, symbol)
	cancel()
	if err != nil {
		return nil, ports.NewRetryable(symbol, "GetTicker", err)
	}
	if !g.recheck.StillTriggered(intent, latest) {
		g.logger.Info(ctx, "exit condition no longer holds, aborting", map[string]interface{}{
			"symbol": symbol, "action": string(intent.Action), "classifiedAt": intent.Price, "latest": latest,
		})
		return &ExitResult{Skipped: true, SkipReason: "condition stale at latest price"}, nil
	}

	rules, err := g.symbolRules(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var exitOrder *ports.Order
	var fills []*domain.Fill

	if pos.RestingOrderID != nil {
		resting, handled, partial, restErr := g.handleRestingOrder(ctx, intent, *pos.RestingOrderID)
		if restErr != nil {
			return nil, restErr
		}
		if handled != nil {
			return handled, nil // resting order still working: wait, no-op
		}
		if partial != nil {
			// The cancelled order already sold part of the position. Record
			// that slice before sizing the market order so the ledger matches
			// what executed and the remainder is never oversold.
			fallback := partial.Price
			if fallback <= 0 {
				fallback = latest
			}
			pf := fillFromOrder(partial, fallback, g.now())
			if err := g.recordFill(ctx, pf); err != nil {
				return nil, err
			}
			g.logger.Info(ctx, "recorded partial fill from cancelled resting order", map[string]interface{}{
				"symbol": symbol, "orderID": pf.OrderID, "quantity": pf.Size, "price": pf.Price,
			})
			fills = append(fills, pf)
		}
		exitOrder = resting // nil unless the resting order already filled
	}

	if exitOrder == nil {
		remaining := pos.Quantity
		for _, f := range fills {
			remaining -= f.Size
		}
		qty, qtyErr := sellQuantity(remaining, rules, latest)
		if qtyErr != nil {
			if len(fills) > 0 {
				// The resting order sold nearly everything; settle on what
				// executed rather than forcing a sub-minimum market order.
				return g.settleExit(ctx, intent, fills, nil)
			}
			return nil, ports.NewTerminal(symbol, "sellQuantity", qtyErr)
		}
		exitOrder, err = g.marketSell(ctx, symbol, qty, rules)
		if err != nil {
			return nil, err
		}
	}

	fill := fillFromOrder(exitOrder, latest, g.now())
	if err := g.recordFill(ctx, fill); err != nil {
		return nil, err
	}
	fills = append(fills, fill)

	return g.settleExit(ctx, intent, fills, exitOrder)
}

// recordFill appends one confirmed fill to the ledger and the trade journal.
// A journal duplicate is tolerated; the ledger has already deduplicated.
func (g *Gateway) recordFill(ctx context.Context, fill *domain.Fill) error {
	if err := g.ledger.Record(*fill); err != nil {
		return err
	}
	if err := g.tradeRepo.RecordFill(ctx, fill); err != nil && !errors.Is(err, ports.ErrDuplicateEntry) {
		return err
	}
	return nil
}

// handleRestingOrder resolves an existing limit order before an exit.
// Returns (filledOrder, nil, nil, nil) when the resting order already filled
// and (nil, waitResult, nil, nil) when it should be left working. Otherwise
// the order is cancelled and the exit falls through to a market order; if the
// order had executed part of its quantity by then, that order is returned as
// partial so the caller can record the slice and sell only the remainder.
func (g *Gateway) handleRestingOrder(ctx context.Context, intent rotation.Intent, orderID string) (filled *ports.Order, wait *ExitResult, partial *ports.Order, err error) {
	symbol := intent.Symbol
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	order, err := g.exchange.GetOrder(callCtx, symbol, orderID)
	cancel()

	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			g.logger.Warn(ctx, "resting order vanished, falling back to market", map[string]interface{}{
				"symbol": symbol, "orderID": orderID,
			})
			return nil, nil, nil, nil
		}
		return nil, nil, nil, ports.NewRetryable(symbol, "GetOrder", err)
	}

	switch order.Status {
	case ports.OrderStatusDone:
		return order, nil, nil, nil
	case ports.OrderStatusActive:
		if intent.Action == domain.ActionTakeProfit {
			// The limit sell is already working the target; leave it.
			return nil, &ExitResult{Skipped: true, SkipReason: "resting take-profit order active"}, nil, nil
		}
		fallthrough
	default:
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		cancelErr := g.exchange.CancelOrder(callCtx, symbol, orderID)
		cancel()
		if cancelErr != nil && !errors.Is(cancelErr, ports.ErrOrderNotFound) {
			return nil, nil, nil, ports.NewRetryable(symbol, "CancelOrder", cancelErr)
		}
		if order.ExecutedQty > 0 {
			return nil, nil, order, nil
		}
		return nil, nil, nil, nil
	}
}

// settleExit re-derives the symbol's position from the ledger after the
// exit's fills (already recorded) and updates or closes the stored position.
// Realized PnL and freed capital cover every fill of this exit, including a
// partial slice recovered from a cancelled resting order.
func (g *Gateway) settleExit(ctx context.Context, intent rotation.Intent, fills []*domain.Fill, order *ports.Order) (*ExitResult, error) {
	pos := intent.Position
	symbol := intent.Symbol

	res, err := g.ledger.MatchFIFO(symbol)
	if err != nil {
		return nil, err
	}

	sold := make(map[string]bool, len(fills))
	var freed float64
	for _, f := range fills {
		sold[f.OrderID] = true
		freed += f.Funds - f.Fee
	}
	var realized float64
	for _, m := range res.Matches {
		if sold[m.SellOrderID] {
			realized += m.NetPnL
		}
	}

	fill := fills[len(fills)-1]
	result := &ExitResult{
		Order:        order,
		Fill:         fill,
		RealizedPnL:  realized,
		CapitalFreed: freed,
	}

	open, stillOpen := res.Open[symbol]
	if stillOpen && open.Quantity > 0 {
		pos.Quantity = open.Quantity
		pos.EntryPrice = open.CostBasis
		pos.RestingOrderID = nil
		if err := g.posRepo.Upsert(ctx, pos); err != nil {
			return nil, err
		}
	} else {
		result.Closed = true
		pos.Status = domain.StatusClosed
		if err := g.posRepo.ClosePosition(ctx, symbol, fill.Price, intent.Action); err != nil {
			return nil, err
		}
	}

	g.InvalidateRules(symbol)
	g.logger.Info(ctx, "exit settled", map[string]interface{}{
		"symbol": symbol, "action": string(intent.Action), "orderID": fill.OrderID,
		"price": fill.Price, "quantity": fill.Size, "realizedPnL": realized, "closed": result.Closed,
	})
	return result, nil
}

// ExecuteEntry places a market buy sized by the risk engine and persists the
// resulting position. When configured, the first staged take-profit level is
// immediately worked as a resting limit sell.
func (g *Gateway) ExecuteEntry(ctx context.Context, pos *domain.Position, quantity float64) (*EntryResult, error) {
	symbol := pos.Symbol

	if g.cfg.DryRun {
		g.logger.Info(ctx, "dry run: would execute entry", map[string]interface{}{
			"symbol": symbol, "quantity": quantity,
		})
		return &EntryResult{Skipped: true, SkipReason: "dry run"}, nil
	}

	rules, err := g.symbolRules(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qty := roundQuantity(quantity, rules)
	if qty < rules.MinLotSize || (rules.MinQuoteSize > 0 && qty*pos.EntryPrice < rules.MinQuoteSize) {
		return &EntryResult{Skipped: true, SkipReason: "sized below exchange minimums"}, nil
	}

	order, err := g.submitOrder(ctx, symbol, "CreateMarketOrder", func(callCtx context.Context) (*ports.Order, error) {
		return g.exchange.CreateMarketOrder(callCtx, symbol, domain.Buy, formatQuantity(qty, rules))
	})
	if err != nil {
		return nil, err
	}

	fill := fillFromOrder(order, pos.EntryPrice, g.now())
	if err := g.recordFill(ctx, fill); err != nil {
		return nil, err
	}

	pos.Quantity = fill.Size
	pos.EntryPrice = fill.Price
	pos.HighestPrice = fill.Price
	pos.OpenedAt = fill.Timestamp
	pos.Status = domain.StatusOpen

	if g.cfg.PlaceRestingTP && len(pos.TakeProfits) > 0 {
		level := pos.TakeProfits[0]
		restQty := roundQuantity(fill.Size*level.Portion, rules)
		if restQty >= rules.MinLotSize {
			resting, restErr := g.submitOrder(ctx, symbol, "CreateLimitOrder", func(callCtx context.Context) (*ports.Order, error) {
				return g.exchange.CreateLimitOrder(callCtx, symbol, domain.Sell,
					formatQuantity(restQty, rules), formatPrice(level.Price, rules))
			})
			if restErr != nil {
				// The position is live either way; the exit path covers the
				// target on later cycles.
				g.logger.Warn(ctx, "failed to place resting take-profit order", map[string]interface{}{
					"symbol": symbol, "price": level.Price, "error": restErr.Error(),
				})
			} else {
				id := resting.OrderID
				pos.RestingOrderID = &id
			}
		}
	}

	if err := g.posRepo.Upsert(ctx, pos); err != nil {
		return nil, err
	}
	g.InvalidateRules(symbol)
	g.logger.Info(ctx, "entry settled", map[string]interface{}{
		"symbol": symbol, "orderID": fill.OrderID, "price": fill.Price, "quantity": fill.Size,
	})
	return &EntryResult{Order: order, Fill: fill}, nil
}
