// Package store persists ticks, opportunities, trades and balances in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS arb_ticks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	luno_bid REAL, luno_ask REAL, luno_last REAL,
	binance_bid REAL, binance_ask REAL, binance_last REAL,
	usd_zar_rate REAL, usdt_zar_rate REAL,
	spread_pct REAL, gross_edge_bps REAL, net_edge_bps REAL,
	direction TEXT, is_profitable INTEGER,
	min_edge_threshold_bps REAL, slippage_bps REAL, fee_bps REAL
);
CREATE TABLE IF NOT EXISTS opportunities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	direction TEXT, buy_exchange TEXT, sell_exchange TEXT,
	buy_price REAL, sell_price REAL,
	gross_edge_bps REAL, net_edge_bps REAL,
	size_btc REAL, size_zar REAL,
	was_executed INTEGER, reason_skipped TEXT,
	luno_price_zar REAL, binance_price_usd REAL
);
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	direction TEXT, trade_type TEXT,
	btc_amount REAL, buy_price REAL, sell_price REAL,
	spread_pct REAL, net_edge_bps REAL,
	profit_zar REAL, profit_usd REAL,
	buy_exchange TEXT, sell_exchange TEXT,
	buy_order_id TEXT, sell_order_id TEXT,
	status TEXT
);
CREATE TABLE IF NOT EXISTS float_balances (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange TEXT NOT NULL,
	currency TEXT NOT NULL,
	balance REAL NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(exchange, currency)
);
CREATE TABLE IF NOT EXISTS pnl_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	daily_pnl_usd REAL, cumulative_pnl_usd REAL, trade_count INTEGER
);
CREATE TABLE IF NOT EXISTS config_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	config_json TEXT, updated_by TEXT, description TEXT
);
CREATE INDEX IF NOT EXISTS idx_arb_ticks_timestamp ON arb_ticks(timestamp);
CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
`

// SQLiteStore implements core.IStore on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveTick(ctx context.Context, t *core.TickRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO arb_ticks (
			timestamp, luno_bid, luno_ask, luno_last,
			binance_bid, binance_ask, binance_last,
			usd_zar_rate, usdt_zar_rate,
			spread_pct, gross_edge_bps, net_edge_bps,
			direction, is_profitable,
			min_edge_threshold_bps, slippage_bps, fee_bps
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.Timestamp, t.LunoBid, t.LunoAsk, t.LunoLast,
		t.BinanceBid, t.BinanceAsk, t.BinanceLast,
		t.UsdZarRate, t.UsdtZarRate,
		t.SpreadPct, t.GrossEdgeBps, t.NetEdgeBps,
		string(t.Direction), t.Profitable,
		t.MinEdgeThresholdBps, t.SlippageBps, t.FeeBps)
	if err != nil {
		return fmt.Errorf("failed to insert tick: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) SaveOpportunity(ctx context.Context, o *core.Opportunity) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO opportunities (
			timestamp, direction, buy_exchange, sell_exchange,
			buy_price, sell_price, gross_edge_bps, net_edge_bps,
			size_btc, size_zar, was_executed, reason_skipped,
			luno_price_zar, binance_price_usd
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.Timestamp, string(o.Direction), o.BuyExchange, o.SellExchange,
		o.BuyPrice, o.SellPrice, o.GrossEdgeBps, o.NetEdgeBps,
		o.SizeBTC, o.SizeZAR, o.Executed, o.SkipReason,
		o.LunoPriceZAR, o.BinancePriceUSD)
	if err != nil {
		return fmt.Errorf("failed to insert opportunity: %w", err)
	}
	o.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, tr *core.Trade) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			timestamp, direction, trade_type,
			btc_amount, buy_price, sell_price,
			spread_pct, net_edge_bps, profit_zar, profit_usd,
			buy_exchange, sell_exchange, buy_order_id, sell_order_id, status
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		tr.Timestamp, string(tr.Direction), string(tr.TradeType),
		tr.BTCAmount, tr.BuyPrice, tr.SellPrice,
		tr.SpreadPct, tr.NetEdgeBps, tr.ProfitZAR, tr.ProfitUSD,
		tr.BuyExchange, tr.SellExchange, tr.BuyOrderID, tr.SellOrderID, tr.Status)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	tr.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) UpsertFloatBalance(ctx context.Context, exchange, currency string, balance float64, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO float_balances (exchange, currency, balance, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(exchange, currency)
		DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
		exchange, currency, balance, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert float balance: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SavePnL(ctx context.Context, p *core.PnLRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pnl_records (timestamp, daily_pnl_usd, cumulative_pnl_usd, trade_count)
		VALUES (?,?,?,?)`,
		p.Timestamp, p.DailyPnLUSD, p.CumulativeUSD, p.TradeCount)
	if err != nil {
		return fmt.Errorf("failed to insert pnl record: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) SaveConfigChange(ctx context.Context, c *core.ConfigChange) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO config_history (timestamp, config_json, updated_by, description)
		VALUES (?,?,?,?)`,
		c.Timestamp, c.ConfigJSON, c.UpdatedBy, c.Description)
	if err != nil {
		return fmt.Errorf("failed to insert config change: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// RecentTicks returns the last N ticks in chronological order.
func (s *SQLiteStore) RecentTicks(ctx context.Context, limit int) ([]core.TickRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, luno_bid, luno_ask, luno_last,
			binance_bid, binance_ask, binance_last,
			usd_zar_rate, usdt_zar_rate,
			spread_pct, gross_edge_bps, net_edge_bps,
			direction, is_profitable,
			min_edge_threshold_bps, slippage_bps, fee_bps
		FROM arb_ticks ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %w", err)
	}
	defer rows.Close()

	var out []core.TickRecord
	for rows.Next() {
		var t core.TickRecord
		var direction string
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.LunoBid, &t.LunoAsk, &t.LunoLast,
			&t.BinanceBid, &t.BinanceAsk, &t.BinanceLast,
			&t.UsdZarRate, &t.UsdtZarRate,
			&t.SpreadPct, &t.GrossEdgeBps, &t.NetEdgeBps,
			&direction, &t.Profitable,
			&t.MinEdgeThresholdBps, &t.SlippageBps, &t.FeeBps); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		t.Direction = core.Direction(direction)
		out = append(out, t)
	}
	reverse(out)
	return out, rows.Err()
}

// RecentOpportunities returns the last N opportunities in chronological order.
func (s *SQLiteStore) RecentOpportunities(ctx context.Context, limit int) ([]core.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, direction, buy_exchange, sell_exchange,
			buy_price, sell_price, gross_edge_bps, net_edge_bps,
			size_btc, size_zar, was_executed, reason_skipped,
			luno_price_zar, binance_price_usd
		FROM opportunities ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer rows.Close()

	var out []core.Opportunity
	for rows.Next() {
		var o core.Opportunity
		var direction string
		if err := rows.Scan(&o.ID, &o.Timestamp, &direction, &o.BuyExchange, &o.SellExchange,
			&o.BuyPrice, &o.SellPrice, &o.GrossEdgeBps, &o.NetEdgeBps,
			&o.SizeBTC, &o.SizeZAR, &o.Executed, &o.SkipReason,
			&o.LunoPriceZAR, &o.BinancePriceUSD); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		o.Direction = core.Direction(direction)
		out = append(out, o)
	}
	reverse(out)
	return out, rows.Err()
}

// RecentTrades returns the last N trades in chronological order.
func (s *SQLiteStore) RecentTrades(ctx context.Context, limit int) ([]core.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, direction, trade_type,
			btc_amount, buy_price, sell_price,
			spread_pct, net_edge_bps, profit_zar, profit_usd,
			buy_exchange, sell_exchange, buy_order_id, sell_order_id, status
		FROM trades ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []core.Trade
	for rows.Next() {
		var tr core.Trade
		var direction, tradeType string
		if err := rows.Scan(&tr.ID, &tr.Timestamp, &direction, &tradeType,
			&tr.BTCAmount, &tr.BuyPrice, &tr.SellPrice,
			&tr.SpreadPct, &tr.NetEdgeBps, &tr.ProfitZAR, &tr.ProfitUSD,
			&tr.BuyExchange, &tr.SellExchange, &tr.BuyOrderID, &tr.SellOrderID, &tr.Status); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		tr.Direction = core.Direction(direction)
		tr.TradeType = core.TradeType(tradeType)
		out = append(out, tr)
	}
	reverse(out)
	return out, rows.Err()
}

func (s *SQLiteStore) FloatBalances(ctx context.Context) ([]core.FloatBalanceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exchange, currency, balance, updated_at
		FROM float_balances ORDER BY exchange, currency`)
	if err != nil {
		return nil, fmt.Errorf("failed to query float balances: %w", err)
	}
	defer rows.Close()

	var out []core.FloatBalanceRow
	for rows.Next() {
		var row core.FloatBalanceRow
		if err := rows.Scan(&row.ID, &row.Exchange, &row.Currency, &row.Balance, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan float balance: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TickStats(ctx context.Context) (core.TickStats, error) {
	var stats core.TickStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(is_profitable), 0),
			COALESCE(MIN(net_edge_bps), 0),
			COALESCE(MAX(net_edge_bps), 0),
			COALESCE(AVG(net_edge_bps), 0)
		FROM arb_ticks`).Scan(
		&stats.Count, &stats.ProfitableCount,
		&stats.MinNetEdgeBps, &stats.MaxNetEdgeBps, &stats.AvgNetEdgeBps)
	if err != nil {
		return core.TickStats{}, fmt.Errorf("failed to query tick stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) TradeSummary(ctx context.Context) (core.TradeSummary, error) {
	var sum core.TradeSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(status = 'paper'), 0),
			COALESCE(SUM(status = 'completed'), 0),
			COALESCE(SUM(status = 'failed'), 0),
			COALESCE(SUM(profit_zar), 0),
			COALESCE(SUM(profit_usd), 0)
		FROM trades`).Scan(
		&sum.TotalTrades, &sum.PaperTrades, &sum.CompletedLive, &sum.FailedLive,
		&sum.TotalProfitZAR, &sum.TotalProfitUSD)
	if err != nil {
		return core.TradeSummary{}, fmt.Errorf("failed to query trade summary: %w", err)
	}
	return sum, nil
}

func (s *SQLiteStore) PnLHistory(ctx context.Context, limit int) ([]core.PnLRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, daily_pnl_usd, cumulative_pnl_usd, trade_count
		FROM pnl_records ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query pnl records: %w", err)
	}
	defer rows.Close()

	var out []core.PnLRecord
	for rows.Next() {
		var p core.PnLRecord
		if err := rows.Scan(&p.ID, &p.Timestamp, &p.DailyPnLUSD, &p.CumulativeUSD, &p.TradeCount); err != nil {
			return nil, fmt.Errorf("failed to scan pnl record: %w", err)
		}
		out = append(out, p)
	}
	reverse(out)
	return out, rows.Err()
}

func (s *SQLiteStore) LatestPnL(ctx context.Context) (core.PnLRecord, bool, error) {
	var p core.PnLRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, daily_pnl_usd, cumulative_pnl_usd, trade_count
		FROM pnl_records ORDER BY id DESC LIMIT 1`).Scan(
		&p.ID, &p.Timestamp, &p.DailyPnLUSD, &p.CumulativeUSD, &p.TradeCount)
	if err == sql.ErrNoRows {
		return core.PnLRecord{}, false, nil
	}
	if err != nil {
		return core.PnLRecord{}, false, fmt.Errorf("failed to query latest pnl: %w", err)
	}
	return p, true, nil
}

// Clear wipes all tables. Used when CLEAR_DB_ON_STARTUP is set.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, table := range []string{
		"arb_ticks", "opportunities", "trades",
		"float_balances", "pnl_records", "config_history",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
