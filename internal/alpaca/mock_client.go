package alpaca

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient simulates a brokerage for dry runs and tests. Fixtures are set
// explicitly so behavior stays deterministic.
type MockClient struct {
	mu        sync.RWMutex
	quotes    map[string]Quote
	bars      map[string][]Bar
	account   Account
	clock     Clock
	positions map[string]Position
	orders    map[string]Order

	// FillImmediately makes PlaceOrder report filled right away using the
	// current quote (ask for buys, bid for sells).
	FillImmediately bool
}

// NewMockClient creates an empty mock with an open market and a funded account
func NewMockClient() *MockClient {
	return &MockClient{
		quotes:    make(map[string]Quote),
		bars:      make(map[string][]Bar),
		positions: make(map[string]Position),
		orders:    make(map[string]Order),
		account: Account{
			Equity:         10000,
			Cash:           10000,
			BuyingPower:    10000,
			PortfolioValue: 10000,
		},
		clock:           Clock{IsOpen: true},
		FillImmediately: true,
	}
}

// SetQuote installs the quote returned for symbol
func (mc *MockClient) SetQuote(q Quote) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.quotes[q.Symbol] = q
}

// SetBars installs the bar history returned for symbol
func (mc *MockClient) SetBars(symbol string, bars []Bar) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.bars[symbol] = bars
}

// SetAccount installs the account snapshot
func (mc *MockClient) SetAccount(a Account) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.account = a
}

// SetClock installs the market clock
func (mc *MockClient) SetClock(c Clock) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.clock = c
}

// SetPosition installs a broker position
func (mc *MockClient) SetPosition(p Position) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.positions[p.Symbol] = p
}

// AddOrder installs an order (used to simulate preexisting open orders)
func (mc *MockClient) AddOrder(o Order) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.orders[o.ID] = o
}

// GetLatestQuote returns the installed quote for symbol
func (mc *MockClient) GetLatestQuote(ctx context.Context, symbol string) (*Quote, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	q, ok := mc.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &q, nil
}

// GetBars returns up to limit bars for symbol within [start, end]
func (mc *MockClient) GetBars(ctx context.Context, symbol string, start, end time.Time, limit int) ([]Bar, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	bars := mc.bars[symbol]
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// GetAccount returns the account snapshot
func (mc *MockClient) GetAccount(ctx context.Context) (*Account, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	a := mc.account
	return &a, nil
}

// GetClock returns the market clock
func (mc *MockClient) GetClock(ctx context.Context) (*Clock, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	c := mc.clock
	return &c, nil
}

// GetPositions returns all open positions
func (mc *MockClient) GetPositions(ctx context.Context) ([]Position, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := make([]Position, 0, len(mc.positions))
	for _, p := range mc.positions {
		out = append(out, p)
	}
	return out, nil
}

// GetOpenOrders returns orders that are not in a terminal state
func (mc *MockClient) GetOpenOrders(ctx context.Context) ([]Order, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	out := make([]Order, 0)
	for _, o := range mc.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetOrder returns the order with the given ID
func (mc *MockClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	o, ok := mc.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return &o, nil
}

// PlaceOrder simulates order placement. With FillImmediately set the order
// fills at the current quote and the position and cash are adjusted.
func (mc *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	order := Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		Notional:      req.Notional,
		LimitPrice:    req.LimitPrice,
		Status:        StatusNew,
		SubmittedAt:   now,
	}

	if mc.FillImmediately {
		mc.fillLocked(&order, now)
	}

	mc.orders[order.ID] = order
	o := order
	return &o, nil
}

// FillOrder marks a pending order filled at the given price (test hook)
func (mc *MockClient) FillOrder(orderID string, price float64) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	o, ok := mc.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	now := time.Now()
	mc.fillAtLocked(&o, price, now)
	mc.orders[orderID] = o
	return nil
}

func (mc *MockClient) fillLocked(order *Order, now time.Time) {
	q, ok := mc.quotes[order.Symbol]
	if !ok {
		return
	}
	price := q.AskPrice
	if order.Side == SideSell {
		price = q.BidPrice
	}
	mc.fillAtLocked(order, price, now)
}

func (mc *MockClient) fillAtLocked(order *Order, price float64, now time.Time) {
	qty := order.Qty
	if qty == 0 && order.Notional > 0 && price > 0 {
		qty = order.Notional / price
	}

	order.Status = StatusFilled
	order.FilledQty = qty
	order.FilledAvgPrice = price
	order.FilledAt = &now

	if order.Side == SideBuy {
		pos := mc.positions[order.Symbol]
		total := pos.Qty*pos.AvgEntryPrice + qty*price
		pos.Symbol = order.Symbol
		pos.Qty += qty
		if pos.Qty > 0 {
			pos.AvgEntryPrice = total / pos.Qty
		}
		pos.CurrentPrice = price
		pos.MarketValue = pos.Qty * price
		mc.positions[order.Symbol] = pos
		mc.account.Cash -= qty * price
		mc.account.BuyingPower -= qty * price
	} else {
		pos, ok := mc.positions[order.Symbol]
		if ok {
			pos.Qty -= qty
			if pos.Qty <= 0 {
				delete(mc.positions, order.Symbol)
			} else {
				pos.MarketValue = pos.Qty * price
				mc.positions[order.Symbol] = pos
			}
		}
		mc.account.Cash += qty * price
		mc.account.BuyingPower += qty * price
	}
}

// CancelOrder marks an open order cancelled
func (mc *MockClient) CancelOrder(ctx context.Context, orderID string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	o, ok := mc.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("order %s already %s", orderID, o.Status)
	}
	o.Status = StatusCancelled
	mc.orders[orderID] = o
	return nil
}
