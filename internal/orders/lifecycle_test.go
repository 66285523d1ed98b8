package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alpaca-trading-bot/internal/alpaca"
	"alpaca-trading-bot/internal/events"
)

func newTestManager() *Manager {
	return NewManager(zerolog.Nop(), events.NewEventBus(), nil, nil)
}

// memoryStore is a StateStore kept in a map for recovery tests
type memoryStore struct {
	states  map[string]*SymbolState
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: make(map[string]*SymbolState)}
}

func (s *memoryStore) SaveState(_ context.Context, st *SymbolState) error {
	cp := *st
	s.states[st.Symbol] = &cp
	return nil
}

func (s *memoryStore) LoadStates(_ context.Context) (map[string]*SymbolState, error) {
	out := make(map[string]*SymbolState, len(s.states))
	for symbol, st := range s.states {
		cp := *st
		out[symbol] = &cp
	}
	return out, nil
}

func (s *memoryStore) DeleteState(_ context.Context, symbol string) error {
	delete(s.states, symbol)
	s.deleted = append(s.deleted, symbol)
	return nil
}

func filledOrder(id, symbol string, side alpaca.OrderSide, qty, price float64) *alpaca.Order {
	return &alpaca.Order{
		ID:             id,
		Symbol:         symbol,
		Side:           side,
		Type:           alpaca.OrderMarket,
		Qty:            qty,
		FilledQty:      qty,
		FilledAvgPrice: price,
		Status:         alpaca.StatusFilled,
	}
}

func pendingOrder(id, symbol string, side alpaca.OrderSide, qty float64) *alpaca.Order {
	return &alpaca.Order{
		ID:     id,
		Symbol: symbol,
		Side:   side,
		Type:   alpaca.OrderMarket,
		Qty:    qty,
		Status: alpaca.StatusNew,
	}
}

// TestBuyFillOpensPosition covers the none -> pending_buy -> active path
// for a market order that fills on placement
func TestBuyFillOpensPosition(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.RecordBuyPlaced(ctx, filledOrder("o1", "AAPL", alpaca.SideBuy, 2, 100), 200); err != nil {
		t.Fatalf("RecordBuyPlaced failed: %v", err)
	}

	st := m.State("AAPL")
	if st.State != StateActive {
		t.Fatalf("Expected active state, got %s", st.State)
	}
	if st.EntryPrice != 100 || st.Qty != 2 || st.HighestPrice != 100 {
		t.Errorf("Unexpected position fields: %+v", st)
	}
	if m.CanEnter("AAPL") {
		t.Error("CanEnter should be false with an open position")
	}
	if got := m.AllocatedCapital(); got != 200 {
		t.Errorf("AllocatedCapital = %f, want 200", got)
	}
}

// TestOnePerSymbol verifies a second buy on a busy symbol is rejected
func TestOnePerSymbol(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.RecordBuyPlaced(ctx, pendingOrder("o1", "MSFT", alpaca.SideBuy, 1), 50); err != nil {
		t.Fatalf("First buy failed: %v", err)
	}
	if err := m.RecordBuyPlaced(ctx, pendingOrder("o2", "MSFT", alpaca.SideBuy, 1), 50); !errors.Is(err, ErrSymbolBusy) {
		t.Errorf("Expected ErrSymbolBusy, got %v", err)
	}
}

// TestSellFillRealizesPnL covers the full round trip and the P&L math
func TestSellFillRealizesPnL(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.RecordBuyPlaced(ctx, filledOrder("o1", "AAPL", alpaca.SideBuy, 2, 100), 200); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if err := m.RecordSellPlaced(ctx, filledOrder("o2", "AAPL", alpaca.SideSell, 2, 103), "take_profit"); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}

	if got := m.RealizedPnL(); got != 6 {
		t.Errorf("RealizedPnL = %f, want 6", got)
	}
	if st := m.State("AAPL"); st.State != StateNone {
		t.Errorf("Expected symbol released after exit, got %s", st.State)
	}
	if !m.CanEnter("AAPL") {
		t.Error("Symbol should be re-enterable after the exit fills")
	}
	if got := m.AllocatedCapital(); got != 0 {
		t.Errorf("AllocatedCapital = %f, want 0", got)
	}
}

// TestSellWithoutPosition verifies a sell on a flat symbol is rejected
func TestSellWithoutPosition(t *testing.T) {
	m := newTestManager()

	err := m.RecordSellPlaced(context.Background(), pendingOrder("o1", "AMD", alpaca.SideSell, 1), "stop_loss")
	if !errors.Is(err, ErrNoPosition) {
		t.Errorf("Expected ErrNoPosition, got %v", err)
	}
}

// TestBuyCancelRollsBack verifies cancelled, rejected and expired buys all
// release the symbol and its reserved capital
func TestBuyCancelRollsBack(t *testing.T) {
	for _, status := range []alpaca.OrderStatus{alpaca.StatusCancelled, alpaca.StatusRejected, alpaca.StatusExpired} {
		t.Run(string(status), func(t *testing.T) {
			m := newTestManager()
			ctx := context.Background()

			order := pendingOrder("o1", "AAPL", alpaca.SideBuy, 1)
			if err := m.RecordBuyPlaced(ctx, order, 150); err != nil {
				t.Fatalf("Buy failed: %v", err)
			}
			if got := m.AllocatedCapital(); got != 150 {
				t.Fatalf("AllocatedCapital = %f, want 150", got)
			}

			update := *order
			update.Status = status
			m.ApplyOrderUpdate(ctx, &update)

			if st := m.State("AAPL"); st.State != StateNone {
				t.Errorf("Expected rollback to none, got %s", st.State)
			}
			if got := m.AllocatedCapital(); got != 0 {
				t.Errorf("AllocatedCapital = %f, want 0 after rollback", got)
			}
		})
	}
}

// TestSellCancelKeepsPosition verifies a failed sell returns the symbol to
// active with the position intact
func TestSellCancelKeepsPosition(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.RecordBuyPlaced(ctx, filledOrder("o1", "AAPL", alpaca.SideBuy, 2, 100), 200); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	sell := pendingOrder("o2", "AAPL", alpaca.SideSell, 2)
	if err := m.RecordSellPlaced(ctx, sell, "stop_loss"); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}

	update := *sell
	update.Status = alpaca.StatusRejected
	m.ApplyOrderUpdate(ctx, &update)

	st := m.State("AAPL")
	if st.State != StateActive {
		t.Fatalf("Expected position back to active, got %s", st.State)
	}
	if st.EntryPrice != 100 || st.Qty != 2 {
		t.Errorf("Position fields lost across rollback: %+v", st)
	}
	if st.PendingOrderID != "" || st.ExitReason != "" {
		t.Errorf("Pending fields not cleared: %+v", st)
	}
}

// TestPartialFillStaysPending verifies intermediate statuses do not advance
// the state machine
func TestPartialFillStaysPending(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	order := pendingOrder("o1", "AAPL", alpaca.SideBuy, 10)
	if err := m.RecordBuyPlaced(ctx, order, 1000); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	update := *order
	update.Status = alpaca.StatusPartiallyFilled
	update.FilledQty = 4
	m.ApplyOrderUpdate(ctx, &update)

	if st := m.State("AAPL"); st.State != StatePendingBuy {
		t.Errorf("Expected pending_buy on partial fill, got %s", st.State)
	}
}

// TestUpdateIgnoresUnknownOrder verifies stale order IDs are dropped
func TestUpdateIgnoresUnknownOrder(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.RecordBuyPlaced(ctx, pendingOrder("o1", "AAPL", alpaca.SideBuy, 1), 100); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	m.ApplyOrderUpdate(ctx, filledOrder("stale", "AAPL", alpaca.SideBuy, 1, 100))

	if st := m.State("AAPL"); st.State != StatePendingBuy {
		t.Errorf("Stale update should not advance the state, got %s", st.State)
	}
}

// TestUpdateHighestOnlyRaises verifies the high-water mark never drops
func TestUpdateHighestOnlyRaises(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if err := m.RecordBuyPlaced(ctx, filledOrder("o1", "AAPL", alpaca.SideBuy, 1, 100), 100); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	m.UpdateHighest(ctx, "AAPL", 104)
	m.UpdateHighest(ctx, "AAPL", 102)

	if st := m.State("AAPL"); st.HighestPrice != 104 {
		t.Errorf("HighestPrice = %f, want 104", st.HighestPrice)
	}
}

// TestRecoverFromBroker verifies startup reconstruction from held positions
// and open orders
func TestRecoverFromBroker(t *testing.T) {
	m := newTestManager()

	positions := []alpaca.Position{
		{Symbol: "AAPL", Qty: 3, AvgEntryPrice: 150, CurrentPrice: 155},
	}
	openOrders := []alpaca.Order{
		*pendingOrder("o1", "MSFT", alpaca.SideBuy, 0),
		*pendingOrder("o2", "AAPL", alpaca.SideSell, 3),
	}
	openOrders[0].Notional = 300

	m.Recover(context.Background(), positions, openOrders)

	apple := m.State("AAPL")
	if apple.State != StatePendingSell {
		t.Errorf("Expected AAPL pending_sell (position plus open sell), got %s", apple.State)
	}
	if apple.EntryPrice != 150 || apple.Qty != 3 {
		t.Errorf("Position fields not recovered: %+v", apple)
	}
	if apple.HighestPrice != 155 {
		t.Errorf("HighestPrice should seed from current price, got %f", apple.HighestPrice)
	}
	if apple.EntryTime.IsZero() {
		t.Error("EntryTime should be set on recovery")
	}

	msft := m.State("MSFT")
	if msft.State != StatePendingBuy {
		t.Errorf("Expected MSFT pending_buy, got %s", msft.State)
	}
	if msft.PendingAmount != 300 {
		t.Errorf("PendingAmount = %f, want the order notional", msft.PendingAmount)
	}

	if got := m.AllocatedCapital(); got != 3*150+300 {
		t.Errorf("AllocatedCapital = %f, want 750", got)
	}
}

// TestRecoverMergesPersistedState verifies persisted state restores what the
// broker cannot report: the high-water mark, the entry time and a pending
// sell's exit reason. Persisted symbols the broker no longer holds are
// dropped from the store.
func TestRecoverMergesPersistedState(t *testing.T) {
	store := newMemoryStore()
	entered := time.Date(2025, 6, 2, 15, 10, 0, 0, time.UTC)
	store.states["AAPL"] = &SymbolState{
		Symbol:       "AAPL",
		State:        StatePendingSell,
		EntryPrice:   150,
		Qty:          3,
		EntryTime:    entered,
		HighestPrice: 160,
		ExitReason:   "take_profit",
	}
	store.states["GONE"] = &SymbolState{
		Symbol:     "GONE",
		State:      StateActive,
		EntryPrice: 50,
		Qty:        1,
	}

	m := NewManager(zerolog.Nop(), events.NewEventBus(), store, nil)

	positions := []alpaca.Position{
		{Symbol: "AAPL", Qty: 3, AvgEntryPrice: 150, CurrentPrice: 155},
	}
	openOrders := []alpaca.Order{
		*pendingOrder("o1", "AAPL", alpaca.SideSell, 3),
	}

	m.Recover(context.Background(), positions, openOrders)

	apple := m.State("AAPL")
	if apple.State != StatePendingSell {
		t.Fatalf("Expected AAPL pending_sell, got %s", apple.State)
	}
	if apple.HighestPrice != 160 {
		t.Errorf("HighestPrice = %f, want the persisted high-water mark 160", apple.HighestPrice)
	}
	if !apple.EntryTime.Equal(entered) {
		t.Errorf("EntryTime = %v, want the persisted entry time %v", apple.EntryTime, entered)
	}
	if apple.ExitReason != "take_profit" {
		t.Errorf("ExitReason = %q, want the persisted reason", apple.ExitReason)
	}

	if m.State("GONE").State != StateNone {
		t.Errorf("GONE should not be recovered without a broker position")
	}
	if _, ok := store.states["GONE"]; ok {
		t.Error("Expected the stale persisted state to be deleted")
	}
}
