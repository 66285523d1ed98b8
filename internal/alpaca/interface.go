package alpaca

import (
	"context"
	"time"
)

// MarketDataClient provides quotes and historical bars
type MarketDataClient interface {
	GetLatestQuote(ctx context.Context, symbol string) (*Quote, error)
	GetBars(ctx context.Context, symbol string, start, end time.Time, limit int) ([]Bar, error)
}

// BrokerClient provides account, clock, order and position access
type BrokerClient interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetClock(ctx context.Context) (*Clock, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOpenOrders(ctx context.Context) ([]Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Client combines the market data and broker surfaces of one connection
type Client interface {
	MarketDataClient
	BrokerClient
}

// Ensure MockClient implements the full interface
var _ Client = (*MockClient)(nil)
