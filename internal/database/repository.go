package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/report"
)

// Repository stores flushed reports and their trades
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

const insertReportSQL = `
	INSERT INTO trade_reports (reason, file, win_rate, avg_profit, total_profit, trade_count, batch_trades, generated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id
`

const insertTradeSQL = `
	INSERT INTO trades (id, report_id, time, pair, venue, signal, buy_price, sell_price, amount,
	                    gross_profit, fees, net_profit, latency_ms, slippage)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO NOTHING
`

// SaveReport inserts the summary and every trade in one transaction
func (r *Repository) SaveReport(ctx context.Context, rep *report.Report) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		s := rep.Summary
		var reportID int64
		if err := tx.QueryRow(ctx, insertReportSQL,
			rep.Reason, rep.File, s.WinRate, s.AvgProfit, s.TotalProfit, s.TradeCount, s.Trades, s.GeneratedAt,
		).Scan(&reportID); err != nil {
			return fmt.Errorf("insert report: %w", err)
		}

		batch := &pgx.Batch{}
		for _, t := range rep.Trades {
			batch.Queue(insertTradeSQL, tradeArgs(reportID, t)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert trades: %w", err)
		}
		return nil
	})
}

func tradeArgs(reportID int64, t ledger.TradeRecord) []any {
	return []any{
		t.ID, reportID, t.Time, t.Pair, t.Venue, t.Signal, t.BuyPrice, t.SellPrice, t.Amount,
		t.GrossProfit, t.Fees, t.NetProfit, t.Latency.Milliseconds(), t.Slippage,
	}
}

// RecentTrades returns the latest stored trades, newest first
func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]ledger.TradeRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id::text, time, pair, venue, signal, buy_price::float8, sell_price::float8, amount::float8,
		       gross_profit::float8, fees::float8, net_profit::float8, latency_ms, slippage::float8
		FROM trades
		ORDER BY time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []ledger.TradeRecord
	for rows.Next() {
		var (
			t         ledger.TradeRecord
			latencyMS int64
		)
		if err := rows.Scan(&t.ID, &t.Time, &t.Pair, &t.Venue, &t.Signal, &t.BuyPrice, &t.SellPrice, &t.Amount,
			&t.GrossProfit, &t.Fees, &t.NetProfit, &latencyMS, &t.Slippage); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, t)
	}
	return out, rows.Err()
}
