package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Repository provides trade history data access
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// CreateTrade inserts a new trade
func (r *Repository) CreateTrade(ctx context.Context, trade *Trade) error {
	if trade.Status == "" {
		trade.Status = TradeStatusOpen
	}
	query := `
		INSERT INTO trades (symbol, side, entry_price, quantity, entry_time, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		trade.Symbol, trade.Side, trade.EntryPrice, trade.Quantity, trade.EntryTime,
		trade.Reason, trade.Status,
	).Scan(&trade.ID, &trade.CreatedAt, &trade.UpdatedAt)
}

// CloseTrade marks the open trade for symbol as closed with its exit fill
func (r *Repository) CloseTrade(ctx context.Context, symbol string, exitPrice, pnl, pnlPercent float64, reason string) error {
	query := `
		UPDATE trades
		SET exit_price = $2, exit_time = NOW(), pnl = $3, pnl_percent = $4, reason = $5,
		    status = 'CLOSED', updated_at = NOW()
		WHERE symbol = $1 AND status = 'OPEN'
	`
	tag, err := r.db.Pool.Exec(ctx, query, symbol, exitPrice, pnl, pnlPercent, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no open trade for %s", symbol)
	}
	return nil
}

// GetOpenTrades retrieves all open trades
func (r *Repository) GetOpenTrades(ctx context.Context) ([]*Trade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, quantity, entry_time, exit_time,
		       pnl, pnl_percent, reason, status, created_at, updated_at
		FROM trades
		WHERE status = 'OPEN'
		ORDER BY entry_time DESC
	`
	return r.queryTrades(ctx, query)
}

// GetTradeHistory retrieves closed trades with pagination
func (r *Repository) GetTradeHistory(ctx context.Context, limit, offset int) ([]*Trade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, quantity, entry_time, exit_time,
		       pnl, pnl_percent, reason, status, created_at, updated_at
		FROM trades
		WHERE status = 'CLOSED'
		ORDER BY exit_time DESC
		LIMIT $1 OFFSET $2
	`
	return r.queryTrades(ctx, query, limit, offset)
}

// GetTradesBySymbol retrieves trades for a specific symbol
func (r *Repository) GetTradesBySymbol(ctx context.Context, symbol string) ([]*Trade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, quantity, entry_time, exit_time,
		       pnl, pnl_percent, reason, status, created_at, updated_at
		FROM trades
		WHERE symbol = $1
		ORDER BY entry_time DESC
	`
	return r.queryTrades(ctx, query, symbol)
}

// GetTradeStats summarizes closed trades
func (r *Repository) GetTradeStats(ctx context.Context) (*TradeStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE pnl > 0),
		       COUNT(*) FILTER (WHERE pnl < 0),
		       COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE status = 'CLOSED'
	`
	stats := &TradeStats{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&stats.TotalTrades, &stats.WinningTrades, &stats.LosingTrades, &stats.TotalPnL,
	)
	if err != nil {
		return nil, err
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
	}
	return stats, nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	trades := make([]*Trade, 0)
	for rows.Next() {
		trade := &Trade{}
		err := rows.Scan(
			&trade.ID, &trade.Symbol, &trade.Side, &trade.EntryPrice, &trade.ExitPrice,
			&trade.Quantity, &trade.EntryTime, &trade.ExitTime, &trade.PnL, &trade.PnLPercent,
			&trade.Reason, &trade.Status, &trade.CreatedAt, &trade.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}
