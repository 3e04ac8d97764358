package core

import (
	"context"
	"time"
)

// ILogger is the logging interface used throughout the bot.
// Fields are variadic key/value pairs.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IExchange is a spot venue the bot can quote and trade against.
//
// Buy amounts are denominated per venue convention: Luno market buys take a
// counter (ZAR) amount, Binance market buys take a base (BTC) quantity.
// Sells always take a base (BTC) quantity.
type IExchange interface {
	GetName() string
	GetPrice(ctx context.Context) (PriceQuote, error)
	GetBalance(ctx context.Context, currency string) (Balance, error)
	PlaceMarketBuy(ctx context.Context, amount float64) (OrderResult, error)
	PlaceMarketSell(ctx context.Context, baseAmount float64) (OrderResult, error)
}

// IPriceSource serves the freshest known quotes for both venues.
type IPriceSource interface {
	LunoQuote() (PriceQuote, bool)
	BinanceQuote() (PriceQuote, bool)
}

// IFXProvider converts between the two quote currencies.
type IFXProvider interface {
	USDZAR(ctx context.Context) (float64, error)
	USDTUSD(ctx context.Context) (float64, error)
	// USDTZAR is the composite rate used by all edge math.
	USDTZAR(ctx context.Context) (float64, error)
}

// IStore persists ticks, opportunities, trades and balances.
type IStore interface {
	SaveTick(ctx context.Context, t *TickRecord) error
	SaveOpportunity(ctx context.Context, o *Opportunity) error
	SaveTrade(ctx context.Context, tr *Trade) error
	UpsertFloatBalance(ctx context.Context, exchange, currency string, balance float64, updatedAt time.Time) error
	SavePnL(ctx context.Context, p *PnLRecord) error
	SaveConfigChange(ctx context.Context, c *ConfigChange) error

	RecentTicks(ctx context.Context, limit int) ([]TickRecord, error)
	RecentOpportunities(ctx context.Context, limit int) ([]Opportunity, error)
	RecentTrades(ctx context.Context, limit int) ([]Trade, error)
	FloatBalances(ctx context.Context) ([]FloatBalanceRow, error)
	TickStats(ctx context.Context) (TickStats, error)
	TradeSummary(ctx context.Context) (TradeSummary, error)
	PnLHistory(ctx context.Context, limit int) ([]PnLRecord, error)
	LatestPnL(ctx context.Context) (PnLRecord, bool, error)

	Clear(ctx context.Context) error
	Close() error
}
