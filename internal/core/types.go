package core

import "time"

// Direction identifies which venue is bought and which is sold.
type Direction string

const (
	// DirectionLunoToBinance buys BTC with ZAR on Luno and sells it for USDT on Binance.
	DirectionLunoToBinance Direction = "luno_to_binance"
	// DirectionBinanceToLuno buys BTC with USDT on Binance and sells it for ZAR on Luno.
	DirectionBinanceToLuno Direction = "binance_to_luno"
)

// Opposite returns the mirror direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLunoToBinance {
		return DirectionBinanceToLuno
	}
	return DirectionLunoToBinance
}

// TradeType classifies why a trade was executed.
type TradeType string

const (
	TradeTypeProfitable TradeType = "profitable"
	TradeTypeKeepalive  TradeType = "keepalive"
	TradeTypeRebalance  TradeType = "rebalance"
)

// PriceQuote is a top-of-book quote from one venue. A zero bid or ask means
// "no data", never a real price.
type PriceQuote struct {
	Bid       float64
	Ask       float64
	Last      float64
	Exchange  string
	Pair      string
	Timestamp time.Time
}

// Valid reports whether the quote carries usable prices.
func (q PriceQuote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Bid <= q.Ask
}

// Age returns how long ago the quote was observed.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// Balance is a single-currency account balance on a venue.
type Balance struct {
	Currency  string
	Available float64
	Reserved  float64
	Total     float64
}

// OrderResult is the structured outcome of a market order. Venue rejections
// surface here with Success=false; transport failures surface as Go errors.
type OrderResult struct {
	Success      bool
	OrderID      string
	FilledAmount float64
	FilledPrice  float64
	Error        string
}

// EdgeResult is the computed edge for one direction at one instant.
// Buy and sell prices stay in the quote currency of their own venue.
type EdgeResult struct {
	Direction    Direction
	BuyExchange  string
	SellExchange string
	BuyPrice     float64
	SellPrice    float64
	SpreadPct    float64
	GrossEdgeBps float64
	NetEdgeBps   float64
	Profitable   bool
}

// TickRecord is an immutable snapshot of one decision input, in one direction.
type TickRecord struct {
	ID                  int64
	Timestamp           time.Time
	LunoBid             float64
	LunoAsk             float64
	LunoLast            float64
	BinanceBid          float64
	BinanceAsk          float64
	BinanceLast         float64
	UsdZarRate          float64
	UsdtZarRate         float64
	SpreadPct           float64
	GrossEdgeBps        float64
	NetEdgeBps          float64
	Direction           Direction
	Profitable          bool
	MinEdgeThresholdBps float64
	SlippageBps         float64
	FeeBps              float64
}

// Opportunity records one edge that cleared the profitability bar and
// whether it was acted on.
type Opportunity struct {
	ID              int64
	Timestamp       time.Time
	Direction       Direction
	BuyExchange     string
	SellExchange    string
	BuyPrice        float64
	SellPrice       float64
	GrossEdgeBps    float64
	NetEdgeBps      float64
	SizeBTC         float64
	SizeZAR         float64
	Executed        bool
	SkipReason      string
	LunoPriceZAR    float64
	BinancePriceUSD float64
}

// Trade is one realised hedged execution, paper or live.
type Trade struct {
	ID           int64
	Timestamp    time.Time
	Direction    Direction
	TradeType    TradeType
	BTCAmount    float64
	BuyPrice     float64
	SellPrice    float64
	SpreadPct    float64
	NetEdgeBps   float64
	ProfitZAR    float64
	ProfitUSD    float64
	BuyExchange  string
	SellExchange string
	BuyOrderID   string
	SellOrderID  string
	Status       string // "paper", "completed" or "failed"
}

// FloatBalanceRow is the persisted balance of one currency on one venue.
type FloatBalanceRow struct {
	ID        int64
	Exchange  string
	Currency  string
	Balance   float64
	UpdatedAt time.Time
}

// PnLRecord is a running profit aggregate written after each trade.
type PnLRecord struct {
	ID            int64
	Timestamp     time.Time
	DailyPnLUSD   float64
	CumulativeUSD float64
	TradeCount    int64
}

// ConfigChange is one row of configuration history.
type ConfigChange struct {
	ID          int64
	Timestamp   time.Time
	ConfigJSON  string
	UpdatedBy   string
	Description string
}

// TickStats summarises the persisted tick table.
type TickStats struct {
	Count           int64
	ProfitableCount int64
	MinNetEdgeBps   float64
	MaxNetEdgeBps   float64
	AvgNetEdgeBps   float64
}

// TradeSummary aggregates the trade table for reporting.
type TradeSummary struct {
	TotalTrades    int64
	PaperTrades    int64
	CompletedLive  int64
	FailedLive     int64
	TotalProfitZAR float64
	TotalProfitUSD float64
}
