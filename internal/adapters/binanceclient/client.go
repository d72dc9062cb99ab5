// Package binanceclient implements ports.ExchangeClient against the Binance
// spot API. All exchange responses are translated into port types at this
// boundary; API error codes are mapped onto the standard ports errors so the
// execution layer can classify failures without knowing the exchange.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements the ports.ExchangeClient interface using the go-binance
// spot client.
type Client struct {
	spot   *binance.Client
	logger ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance spot client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance spot client configured", map[string]interface{}{
		"baseURL": client.BaseURL, "testnet": cfg.UseTestnet,
	})

	return &Client{spot: client, logger: cfg.Logger}, nil
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1013, -1111: // Filter failure / precision over maximum
			mappedErr = ports.ErrInvalidLotSize
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015:
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1121, -1130:
			mappedErr = ports.ErrInvalidRequest
		case -2010:
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderPlacementFailed
			}
		case -2011:
			mappedErr = ports.ErrOrderCancelFailed
		case -2013:
			mappedErr = ports.ErrOrderNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetTicker retrieves the last traded price for a symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	op := "GetTicker"
	prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err), op)
	}
	return price, nil
}

// GetSymbolRules retrieves lot and notional constraints for a symbol from the
// exchange info filters.
func (c *Client) GetSymbolRules(ctx context.Context, symbol string) (*ports.SymbolRules, error) {
	op := "GetSymbolRules"
	info, err := c.spot.NewExchangeInfoService().Symbols(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		rules := &ports.SymbolRules{
			Symbol:        s.Symbol,
			BaseCurrency:  s.BaseAsset,
			QuoteCurrency: s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "LOT_SIZE":
				rules.LotIncrement = parseFilterFloat(f, "stepSize")
				rules.MinLotSize = parseFilterFloat(f, "minQty")
			case "PRICE_FILTER":
				rules.PriceTick = parseFilterFloat(f, "tickSize")
			case "MIN_NOTIONAL", "NOTIONAL":
				rules.MinQuoteSize = parseFilterFloat(f, "minNotional")
			}
		}
		c.logger.Debug(ctx, op+" loaded", map[string]interface{}{
			"symbol": symbol, "lotIncrement": rules.LotIncrement,
			"minLot": rules.MinLotSize, "minNotional": rules.MinQuoteSize,
		})
		return rules, nil
	}
	return nil, fmt.Errorf("%s: symbol %s not in exchange info: %w", op, symbol, ports.ErrNotFound)
}

// CreateMarketOrder places a spot market order for the given base quantity.
func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.Order, error) {
	op := "CreateMarketOrder"
	res, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(quantity).
		NewClientOrderID(uuid.NewString()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	order := translateCreateResponse(res)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": string(side), "quantity": quantity,
		"orderID": order.OrderID, "avgPrice": order.AvgPrice, "status": string(order.Status),
	})
	return order, nil
}

// CreateLimitOrder places a GTC spot limit order at the given price.
func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price string) (*ports.Order, error) {
	op := "CreateLimitOrder"
	res, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(quantity).
		Price(price).
		NewClientOrderID(uuid.NewString()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	order := translateCreateResponse(res)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": string(side), "quantity": quantity, "price": price,
		"orderID": order.OrderID, "status": string(order.Status),
	})
	return order, nil
}

// GetOrder retrieves the current state of an order by ID.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*ports.Order, error) {
	op := "GetOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed order ID %q: %w", op, orderID, ports.ErrInvalidRequest)
	}
	res, err := c.spot.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(res), nil
}

// CancelOrder cancels an open order by ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: malformed order ID %q: %w", op, orderID, ports.ErrInvalidRequest)
	}
	_, err = c.spot.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return nil
}

// GetAllBalances retrieves available and held amounts for every currency with
// a non-zero balance.
func (c *Client) GetAllBalances(ctx context.Context) (map[string]ports.Balance, error) {
	op := "GetAllBalances"
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	balances := make(map[string]ports.Balance)
	for _, b := range account.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse free balance '%s' for %s: %w", b.Free, b.Asset, err), op)
		}
		locked, err := strconv.ParseFloat(b.Locked, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse locked balance '%s' for %s: %w", b.Locked, b.Asset, err), op)
		}
		if free == 0 && locked == 0 {
			continue
		}
		balances[b.Asset] = ports.Balance{Available: free, Hold: locked}
	}
	return balances, nil
}

// GetKlines retrieves recent candlesticks for a symbol.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	raw, err := c.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines := make([]*domain.Kline, 0, len(raw))
	for _, k := range raw {
		dk, err := translateKline(k, symbol)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		klines = append(klines, dk)
	}
	return klines, nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	return nil
}

// --- translation helpers ---

// translateStatus collapses the exchange's order lifecycle into the coarse
// port states. Partially filled orders remain ACTIVE; the gateway settles
// them only once DONE.
func translateStatus(status binance.OrderStatusType) ports.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return ports.OrderStatusActive
	case binance.OrderStatusTypeFilled:
		return ports.OrderStatusDone
	default:
		return ports.OrderStatusCanceled
	}
}

func translateCreateResponse(res *binance.CreateOrderResponse) *ports.Order {
	if res == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(res.Price, 64)
	origQty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	funds, _ := strconv.ParseFloat(res.CummulativeQuoteQuantity, 64)

	var fee float64
	var feeCurrency string
	for _, f := range res.Fills {
		commission, _ := strconv.ParseFloat(f.Commission, 64)
		fee += commission
		if feeCurrency == "" {
			feeCurrency = f.CommissionAsset
		}
	}

	avgPrice := 0.0
	if execQty > 0 {
		avgPrice = funds / execQty
	}

	return &ports.Order{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          domain.OrderSide(res.Side),
		Type:          string(res.Type),
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Funds:         funds,
		Fee:           fee,
		FeeCurrency:   feeCurrency,
		Status:        translateStatus(res.Status),
		Timestamp:     time.UnixMilli(res.TransactTime),
	}
}

func translateOrder(o *binance.Order) *ports.Order {
	if o == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(o.Price, 64)
	origQty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	funds, _ := strconv.ParseFloat(o.CummulativeQuoteQuantity, 64)

	avgPrice := 0.0
	if execQty > 0 {
		avgPrice = funds / execQty
	}

	return &ports.Order{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Type:          string(o.Type),
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Funds:         funds,
		Status:        translateStatus(o.Status),
		Timestamp:     time.UnixMilli(o.UpdateTime),
	}
}

func translateKline(k *binance.Kline, symbol string) (*domain.Kline, error) {
	if k == nil {
		return nil, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Symbol:    symbol,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}

func parseFilterFloat(filter map[string]interface{}, key string) float64 {
	s, ok := filter[key].(string)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
