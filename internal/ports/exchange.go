package ports

import (
	"context"
	"time"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/domain"
)

// OrderStatus is the coarse lifecycle state of an exchange order.
type OrderStatus string

const (
	OrderStatusActive   OrderStatus = "ACTIVE" // resting or partially filled
	OrderStatusDone     OrderStatus = "DONE"   // fully filled
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Order represents the essential details of an exchange order.
type Order struct {
	OrderID       string           // Exchange's order ID
	ClientOrderID string           // Client-assigned order ID
	Symbol        string           // Symbol for the order
	Side          domain.OrderSide // BUY or SELL
	Type          string           // MARKET or LIMIT
	Price         float64          // Limit price (0 for market orders)
	AvgPrice      float64          // Average filled price
	OrigQuantity  float64          // Quantity requested
	ExecutedQty   float64          // Quantity filled
	Funds         float64          // Quote amount exchanged so far
	Fee           float64          // Total fee charged, in quote terms
	FeeCurrency   string           // Currency the fee was charged in
	Status        OrderStatus      // Current status
	Timestamp     time.Time        // Exchange transaction time
}

// SymbolRules holds the exchange's trading constraints for one symbol.
type SymbolRules struct {
	Symbol        string
	BaseCurrency  string
	QuoteCurrency string
	LotIncrement  float64 // Step size for base quantity
	MinLotSize    float64 // Minimum base quantity per order
	MinQuoteSize  float64 // Minimum notional (quote) per order
	PriceTick     float64 // Step size for prices
}

// Balance holds the available and held amounts for one currency.
type Balance struct {
	Available float64
	Hold      float64
}

// ExchangeClient defines the interface for interacting with a spot exchange.
// All calls may fail transiently; the core treats such failures uniformly as
// retryable unless mapped to a terminal error.
type ExchangeClient interface {
	// GetTicker retrieves the last traded price for a symbol.
	GetTicker(ctx context.Context, symbol string) (float64, error)

	// GetSymbolRules retrieves lot and notional constraints for a symbol.
	GetSymbolRules(ctx context.Context, symbol string) (*SymbolRules, error)

	// CreateMarketOrder places a market order for the given base quantity.
	CreateMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*Order, error)

	// CreateLimitOrder places a limit order at the given price.
	CreateLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price string) (*Order, error)

	// GetOrder retrieves the current state of an order by ID.
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// CancelOrder cancels an open order by ID.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetAllBalances retrieves available/hold amounts for every currency with
	// a non-zero balance.
	GetAllBalances(ctx context.Context) (map[string]Balance, error)

	// GetKlines retrieves recent candlesticks for signal derivation.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error
}
