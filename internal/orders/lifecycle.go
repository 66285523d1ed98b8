package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alpaca-trading-bot/internal/alpaca"
	"alpaca-trading-bot/internal/events"
)

var (
	ErrSymbolBusy  = errors.New("symbol already has a pending or active order")
	ErrNoPosition  = errors.New("no active position for symbol")
	ErrNoSuchState = errors.New("no lifecycle state for symbol")
)

// State is the per-symbol lifecycle phase
type State string

const (
	StateNone        State = "none"
	StatePendingBuy  State = "pending_buy"
	StateActive      State = "active"
	StatePendingSell State = "pending_sell"
)

// SymbolState tracks one symbol through the order lifecycle
type SymbolState struct {
	Symbol         string    `json:"symbol"`
	State          State     `json:"state"`
	PendingOrderID string    `json:"pending_order_id,omitempty"`
	PendingSide    string    `json:"pending_side,omitempty"`
	PendingAmount  float64   `json:"pending_amount,omitempty"` // reserved notional of a pending buy
	EntryPrice     float64   `json:"entry_price,omitempty"`
	Qty            float64   `json:"qty,omitempty"`
	EntryTime      time.Time `json:"entry_time,omitempty"`
	HighestPrice   float64   `json:"highest_price,omitempty"`
	ExitReason     string    `json:"exit_reason,omitempty"`
}

// StateStore persists lifecycle state between restarts
type StateStore interface {
	SaveState(ctx context.Context, state *SymbolState) error
	LoadStates(ctx context.Context) (map[string]*SymbolState, error)
	DeleteState(ctx context.Context, symbol string) error
}

// TradeLog records entries and exits for the trade history
type TradeLog interface {
	LogEntry(ctx context.Context, symbol string, qty, price float64, reason string) error
	LogExit(ctx context.Context, symbol string, qty, entryPrice, exitPrice, pnl float64, reason string) error
}

// Manager owns the per-symbol order state machine. A symbol holds at most
// one pending order or one active position at a time.
type Manager struct {
	logger zerolog.Logger
	bus    *events.EventBus
	store  StateStore // optional
	trades TradeLog   // optional

	mu          sync.RWMutex
	states      map[string]*SymbolState
	realizedPnL float64
}

// NewManager creates a lifecycle manager. Store and trade log may be nil.
func NewManager(logger zerolog.Logger, bus *events.EventBus, store StateStore, trades TradeLog) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "lifecycle").Logger(),
		bus:    bus,
		store:  store,
		trades: trades,
		states: make(map[string]*SymbolState),
	}
}

// State returns a copy of the lifecycle state for symbol
func (m *Manager) State(symbol string) SymbolState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.states[symbol]; ok {
		return *st
	}
	return SymbolState{Symbol: symbol, State: StateNone}
}

// CanEnter reports whether a new buy may be placed for symbol
func (m *Manager) CanEnter(symbol string) bool {
	return m.State(symbol).State == StateNone
}

// ActiveSymbols returns symbols with an open position
func (m *Manager) ActiveSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0)
	for symbol, st := range m.states {
		if st.State == StateActive || st.State == StatePendingSell {
			out = append(out, symbol)
		}
	}
	return out
}

// PendingSymbols returns symbols with an outstanding broker order
func (m *Manager) PendingSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0)
	for symbol, st := range m.states {
		if st.PendingOrderID != "" {
			out = append(out, symbol)
		}
	}
	return out
}

// AllocatedCapital sums qty x entry over open positions plus the reserved
// notional of pending buys. Feeds the fixed-capital sizer.
func (m *Manager) AllocatedCapital() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0.0
	for _, st := range m.states {
		switch st.State {
		case StateActive, StatePendingSell:
			total += st.Qty * st.EntryPrice
		case StatePendingBuy:
			total += st.PendingAmount
		}
	}
	return total
}

// RealizedPnL returns the cumulative realized profit and loss
func (m *Manager) RealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.realizedPnL
}

// RecordBuyPlaced transitions a symbol to pending-buy after submission.
// An already-filled order (market fills on placement) goes straight to
// active.
func (m *Manager) RecordBuyPlaced(ctx context.Context, order *alpaca.Order, reservedAmount float64) error {
	m.mu.Lock()
	st := m.getLocked(order.Symbol)
	if st.State != StateNone {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSymbolBusy, order.Symbol, st.State)
	}

	st.State = StatePendingBuy
	st.PendingOrderID = order.ID
	st.PendingSide = string(alpaca.SideBuy)
	st.PendingAmount = reservedAmount
	m.mu.Unlock()

	m.persist(ctx, order.Symbol)
	m.bus.PublishOrderPlaced(order.ID, order.Symbol, string(order.Side), order.Qty, order.Notional)
	m.bus.PublishOrdersChanged(order.Symbol)

	m.logger.Info().
		Str("symbol", order.Symbol).
		Str("order_id", order.ID).
		Float64("reserved", reservedAmount).
		Msg("Buy order placed")

	if order.Status == alpaca.StatusFilled {
		m.ApplyOrderUpdate(ctx, order)
	}
	return nil
}

// RecordSellPlaced transitions an active symbol to pending-sell
func (m *Manager) RecordSellPlaced(ctx context.Context, order *alpaca.Order, reason string) error {
	m.mu.Lock()
	st := m.getLocked(order.Symbol)
	if st.State != StateActive {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNoPosition, order.Symbol, st.State)
	}

	st.State = StatePendingSell
	st.PendingOrderID = order.ID
	st.PendingSide = string(alpaca.SideSell)
	st.ExitReason = reason
	m.mu.Unlock()

	m.persist(ctx, order.Symbol)
	m.bus.PublishOrderPlaced(order.ID, order.Symbol, string(order.Side), order.Qty, order.Notional)
	m.bus.PublishOrdersChanged(order.Symbol)

	m.logger.Info().
		Str("symbol", order.Symbol).
		Str("order_id", order.ID).
		Str("reason", reason).
		Msg("Sell order placed")

	if order.Status == alpaca.StatusFilled {
		m.ApplyOrderUpdate(ctx, order)
	}
	return nil
}

// ApplyOrderUpdate advances the state machine with the broker's view of an
// order. Partial fills keep the order pending; cancelled, rejected and
// expired orders roll the symbol back.
func (m *Manager) ApplyOrderUpdate(ctx context.Context, order *alpaca.Order) {
	m.mu.Lock()
	st := m.getLocked(order.Symbol)
	if st.PendingOrderID != order.ID {
		m.mu.Unlock()
		return
	}

	switch order.Status {
	case alpaca.StatusFilled:
		if st.State == StatePendingBuy {
			m.applyBuyFillLocked(st, order)
			m.mu.Unlock()
			m.persist(ctx, order.Symbol)
			m.bus.PublishOrderFilled(order.ID, order.Symbol, string(order.Side), order.FilledAvgPrice, order.FilledQty)
			m.bus.PublishOrdersChanged(order.Symbol)
			if m.trades != nil {
				if err := m.trades.LogEntry(ctx, order.Symbol, order.FilledQty, order.FilledAvgPrice, "entry"); err != nil {
					m.logger.Warn().Err(err).Str("symbol", order.Symbol).Msg("Trade log entry failed")
				}
			}
			return
		}
		if st.State == StatePendingSell {
			entryPrice := st.EntryPrice
			qty := order.FilledQty
			pnl := (order.FilledAvgPrice - entryPrice) * qty
			reason := st.ExitReason
			m.realizedPnL += pnl
			m.resetLocked(st)
			m.mu.Unlock()

			m.dropState(ctx, order.Symbol)
			m.bus.PublishOrderFilled(order.ID, order.Symbol, string(order.Side), order.FilledAvgPrice, qty)
			m.bus.PublishPositionClosed(order.Symbol, entryPrice, order.FilledAvgPrice, qty, pnl)
			m.bus.PublishOrdersChanged(order.Symbol)
			if m.trades != nil {
				if err := m.trades.LogExit(ctx, order.Symbol, qty, entryPrice, order.FilledAvgPrice, pnl, reason); err != nil {
					m.logger.Warn().Err(err).Str("symbol", order.Symbol).Msg("Trade log exit failed")
				}
			}

			m.logger.Info().
				Str("symbol", order.Symbol).
				Float64("entry", entryPrice).
				Float64("exit", order.FilledAvgPrice).
				Float64("pnl", pnl).
				Str("reason", reason).
				Msg("Position closed")
			return
		}
		m.mu.Unlock()

	case alpaca.StatusCancelled, alpaca.StatusRejected, alpaca.StatusExpired:
		wasBuy := st.State == StatePendingBuy
		if wasBuy {
			m.resetLocked(st)
		} else if st.State == StatePendingSell {
			// Sell fell through, the position is still ours
			st.State = StateActive
			st.PendingOrderID = ""
			st.PendingSide = ""
			st.ExitReason = ""
		}
		status := order.Status
		m.mu.Unlock()

		if wasBuy {
			m.dropState(ctx, order.Symbol)
		} else {
			m.persist(ctx, order.Symbol)
		}
		m.bus.Publish(events.Event{
			Type: events.EventOrderCancelled,
			Data: map[string]interface{}{
				"order_id": order.ID,
				"symbol":   order.Symbol,
				"status":   string(status),
			},
		})
		m.bus.PublishOrdersChanged(order.Symbol)

		m.logger.Info().
			Str("symbol", order.Symbol).
			Str("order_id", order.ID).
			Str("status", string(status)).
			Msg("Pending order closed without fill")

	default:
		// new, accepted, partially_filled: still pending
		m.mu.Unlock()
	}
}

func (m *Manager) applyBuyFillLocked(st *SymbolState, order *alpaca.Order) {
	filledAt := time.Now()
	if order.FilledAt != nil {
		filledAt = *order.FilledAt
	}
	st.State = StateActive
	st.PendingOrderID = ""
	st.PendingSide = ""
	st.PendingAmount = 0
	st.EntryPrice = order.FilledAvgPrice
	st.Qty = order.FilledQty
	st.EntryTime = filledAt
	st.HighestPrice = order.FilledAvgPrice

	m.logger.Info().
		Str("symbol", st.Symbol).
		Float64("entry", st.EntryPrice).
		Float64("qty", st.Qty).
		Msg("Position opened")
}

// UpdateHighest raises the high-water mark for the trailing stop
func (m *Manager) UpdateHighest(ctx context.Context, symbol string, price float64) {
	m.mu.Lock()
	st, ok := m.states[symbol]
	if !ok || (st.State != StateActive && st.State != StatePendingSell) || price <= st.HighestPrice {
		m.mu.Unlock()
		return
	}
	st.HighestPrice = price
	m.mu.Unlock()

	m.persist(ctx, symbol)
}

// Recover rebuilds lifecycle state from the broker at startup. Held
// positions become active; open orders become pending. The broker is the
// source of truth for what exists, while persisted state restores what the
// broker cannot tell us: the high-water mark, the original entry time and
// a pending sell's exit reason. Persisted entries for symbols the broker
// no longer reports are dropped.
func (m *Manager) Recover(ctx context.Context, positions []alpaca.Position, openOrders []alpaca.Order) {
	now := time.Now()

	persisted := make(map[string]*SymbolState)
	if m.store != nil {
		loaded, err := m.store.LoadStates(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Persisted state load failed, recovering from broker only")
		} else {
			persisted = loaded
		}
	}

	m.mu.Lock()
	for _, pos := range positions {
		st := m.getLocked(pos.Symbol)
		st.State = StateActive
		st.EntryPrice = pos.AvgEntryPrice
		st.Qty = pos.Qty
		st.EntryTime = now
		st.HighestPrice = pos.AvgEntryPrice
		if pos.CurrentPrice > st.HighestPrice {
			st.HighestPrice = pos.CurrentPrice
		}
		if prev, ok := persisted[pos.Symbol]; ok {
			if prev.HighestPrice > st.HighestPrice {
				st.HighestPrice = prev.HighestPrice
			}
			if !prev.EntryTime.IsZero() {
				st.EntryTime = prev.EntryTime
			}
		}
	}
	for _, order := range openOrders {
		st := m.getLocked(order.Symbol)
		st.PendingOrderID = order.ID
		st.PendingSide = string(order.Side)
		if order.Side == alpaca.SideSell && st.State == StateActive {
			st.State = StatePendingSell
			if prev, ok := persisted[order.Symbol]; ok {
				st.ExitReason = prev.ExitReason
			}
		} else if order.Side == alpaca.SideBuy && st.State == StateNone {
			st.State = StatePendingBuy
			st.PendingAmount = order.Notional
			if st.PendingAmount == 0 {
				st.PendingAmount = order.Qty * order.LimitPrice
			}
		}
	}
	recovered := len(m.states)
	m.mu.Unlock()

	for _, pos := range positions {
		m.persist(ctx, pos.Symbol)
	}
	for _, order := range openOrders {
		m.persist(ctx, order.Symbol)
	}
	for symbol := range persisted {
		m.mu.RLock()
		_, known := m.states[symbol]
		m.mu.RUnlock()
		if !known {
			m.dropState(ctx, symbol)
		}
	}

	m.logger.Info().
		Int("positions", len(positions)).
		Int("open_orders", len(openOrders)).
		Int("symbols", recovered).
		Msg("Lifecycle state recovered from broker")
}

func (m *Manager) getLocked(symbol string) *SymbolState {
	st, ok := m.states[symbol]
	if !ok {
		st = &SymbolState{Symbol: symbol, State: StateNone}
		m.states[symbol] = st
	}
	return st
}

func (m *Manager) resetLocked(st *SymbolState) {
	symbol := st.Symbol
	*st = SymbolState{Symbol: symbol, State: StateNone}
}

func (m *Manager) persist(ctx context.Context, symbol string) {
	if m.store == nil {
		return
	}
	state := m.State(symbol)
	if err := m.store.SaveState(ctx, &state); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("State persist failed")
	}
}

func (m *Manager) dropState(ctx context.Context, symbol string) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteState(ctx, symbol); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("State delete failed")
	}
}
