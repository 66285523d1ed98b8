package database

import (
	"context"
	"time"
)

// TradeLogger adapts the repository to the lifecycle manager's trade log
type TradeLogger struct {
	repo *Repository
}

// NewTradeLogger creates a trade logger backed by the repository
func NewTradeLogger(repo *Repository) *TradeLogger {
	return &TradeLogger{repo: repo}
}

// LogEntry records a filled buy as an open trade
func (l *TradeLogger) LogEntry(ctx context.Context, symbol string, qty, price float64, reason string) error {
	trade := &Trade{
		Symbol:     symbol,
		Side:       "buy",
		EntryPrice: price,
		Quantity:   qty,
		EntryTime:  time.Now(),
		Reason:     &reason,
		Status:     TradeStatusOpen,
	}
	return l.repo.CreateTrade(ctx, trade)
}

// LogExit closes the open trade for symbol with its realized P&L
func (l *TradeLogger) LogExit(ctx context.Context, symbol string, qty, entryPrice, exitPrice, pnl float64, reason string) error {
	pnlPercent := 0.0
	if entryPrice > 0 {
		pnlPercent = (exitPrice - entryPrice) / entryPrice * 100
	}
	return l.repo.CloseTrade(ctx, symbol, exitPrice, pnl, pnlPercent, reason)
}
