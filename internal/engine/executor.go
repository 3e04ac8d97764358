package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/pkg/telemetry"
)

// Executor dispatches hedged trades. Paper trades mutate the simulated
// float book; live trades fire both market orders concurrently.
type Executor struct {
	luno    core.IExchange
	binance core.IExchange
	store   core.IStore
	floats  *Floats
	logger  core.ILogger

	lunoFee    float64
	binanceFee float64

	mu          sync.Mutex
	totalTrades int64
	totalUSD    float64

	now func() time.Time
}

// NewExecutor creates the trade dispatcher.
func NewExecutor(cfg *config.Config, luno, binance core.IExchange, store core.IStore, floats *Floats, logger core.ILogger) *Executor {
	return &Executor{
		luno:       luno,
		binance:    binance,
		store:      store,
		floats:     floats,
		logger:     logger.WithField("component", "executor"),
		lunoFee:    cfg.Exchanges["luno"].FeeRate,
		binanceFee: cfg.Exchanges["binance"].FeeRate,
		now:        time.Now,
	}
}

// Totals returns the running trade count and cumulative USD profit.
func (x *Executor) Totals() (trades int64, profitUSD float64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.totalTrades, x.totalUSD
}

// ResetTotals zeroes the running aggregates (paper float reset).
func (x *Executor) ResetTotals() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.totalTrades = 0
	x.totalUSD = 0
}

// ExecutePaper simulates a hedged trade against the float book.
// Executability and size are re-checked at execution time; the selector's
// view may be an iteration stale.
func (x *Executor) ExecutePaper(ctx context.Context, edge core.EdgeResult, tradeType core.TradeType, lunoLast, binanceLast, usdtZar float64) (*core.Trade, error) {
	if ok, reason := x.floats.CanExecute(edge.Direction); !ok {
		return nil, fmt.Errorf("cannot execute %s: %s", edge.Direction, reason)
	}

	btc, zar := x.floats.TradeSize(edge.Direction, lunoLast, binanceLast)
	if btc <= 0 {
		return nil, fmt.Errorf("trade size below minimum for %s", edge.Direction)
	}

	profitZAR := zar * edge.NetEdgeBps / 10000
	profitUSD := profitZAR / usdtZar

	x.floats.Apply(edge.Direction, btc, zar, binanceLast, x.lunoFee, x.binanceFee)

	trade := &core.Trade{
		Timestamp:    x.now().UTC(),
		Direction:    edge.Direction,
		TradeType:    tradeType,
		BTCAmount:    btc,
		BuyPrice:     edge.BuyPrice,
		SellPrice:    edge.SellPrice,
		SpreadPct:    edge.SpreadPct,
		NetEdgeBps:   edge.NetEdgeBps,
		ProfitZAR:    profitZAR,
		ProfitUSD:    profitUSD,
		BuyExchange:  edge.BuyExchange,
		SellExchange: edge.SellExchange,
		Status:       "paper",
	}
	if err := x.store.SaveTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to persist paper trade: %w", err)
	}
	x.recordTrade(ctx, trade)

	b := x.floats.Balances()
	x.logger.Info("paper trade executed",
		"direction", edge.Direction, "type", tradeType,
		"btc", btc, "zar", zar, "profit_zar", profitZAR, "profit_usd", profitUSD,
		"luno_zar", b.LunoZAR, "luno_btc", b.LunoBTC,
		"binance_btc", b.BinanceBTC, "binance_usdt", b.BinanceUSDT)

	return trade, nil
}

// ExecuteLive places both market orders concurrently and waits for both.
// A failed leg is never unwound automatically; both outcomes are logged
// and a failed trade row is written for the operator.
func (x *Executor) ExecuteLive(ctx context.Context, edge core.EdgeResult, btc float64, usdtZar float64) (*core.Trade, error) {
	if btc <= 0 {
		return nil, fmt.Errorf("trade size must be positive")
	}

	var (
		buyRes, sellRes core.OrderResult
		buyErr, sellErr error
	)
	start := x.now()

	// Both legs run to completion no matter what happens to the sibling.
	// A failing buy must not cancel the in-flight sell: the venue may have
	// filled it anyway, and its order ID is the only record we get.
	var wg sync.WaitGroup
	wg.Add(2)
	if edge.Direction == core.DirectionLunoToBinance {
		// Luno market buys are counter-denominated: spend ZAR, receive BTC.
		go func() {
			defer wg.Done()
			buyRes, buyErr = x.luno.PlaceMarketBuy(ctx, btc*edge.BuyPrice)
		}()
		go func() {
			defer wg.Done()
			sellRes, sellErr = x.binance.PlaceMarketSell(ctx, btc)
		}()
	} else {
		go func() {
			defer wg.Done()
			buyRes, buyErr = x.binance.PlaceMarketBuy(ctx, btc)
		}()
		go func() {
			defer wg.Done()
			sellRes, sellErr = x.luno.PlaceMarketSell(ctx, btc)
		}()
	}
	wg.Wait()
	legErr := errors.Join(buyErr, sellErr)
	elapsed := x.now().Sub(start)
	x.logger.Info("parallel execution completed", "elapsed_ms", elapsed.Milliseconds())

	if legErr != nil || !buyRes.Success || !sellRes.Success {
		x.logger.Error("live trade failed",
			"direction", edge.Direction,
			"buy_success", buyRes.Success, "buy_error", buyRes.Error, "buy_leg_error", buyErr,
			"sell_success", sellRes.Success, "sell_error", sellRes.Error, "sell_leg_error", sellErr)

		failed := &core.Trade{
			Timestamp:    x.now().UTC(),
			Direction:    edge.Direction,
			TradeType:    core.TradeTypeProfitable,
			BTCAmount:    btc,
			BuyPrice:     edge.BuyPrice,
			SellPrice:    edge.SellPrice,
			NetEdgeBps:   edge.NetEdgeBps,
			BuyExchange:  edge.BuyExchange,
			SellExchange: edge.SellExchange,
			BuyOrderID:   buyRes.OrderID,
			SellOrderID:  sellRes.OrderID,
			Status:       "failed",
		}
		if err := x.store.SaveTrade(ctx, failed); err != nil {
			x.logger.Error("failed to persist failed trade", "error", err)
		}
		telemetry.TradesTotal.WithLabelValues(string(core.TradeTypeProfitable), "failed").Inc()
		if legErr != nil {
			return nil, legErr
		}
		return nil, fmt.Errorf("live trade failed: buy=%q sell=%q", buyRes.Error, sellRes.Error)
	}

	profitUSD, profitZAR := realisedProfit(edge.Direction, btc, buyRes, sellRes, usdtZar, x.lunoFee, x.binanceFee)

	trade := &core.Trade{
		Timestamp:    x.now().UTC(),
		Direction:    edge.Direction,
		TradeType:    core.TradeTypeProfitable,
		BTCAmount:    btc,
		BuyPrice:     buyRes.FilledPrice,
		SellPrice:    sellRes.FilledPrice,
		SpreadPct:    edge.SpreadPct,
		NetEdgeBps:   edge.NetEdgeBps,
		ProfitZAR:    profitZAR,
		ProfitUSD:    profitUSD,
		BuyExchange:  edge.BuyExchange,
		SellExchange: edge.SellExchange,
		BuyOrderID:   buyRes.OrderID,
		SellOrderID:  sellRes.OrderID,
		Status:       "completed",
	}
	if err := x.store.SaveTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to persist trade: %w", err)
	}
	x.recordTrade(ctx, trade)

	x.logger.Info("live trade completed",
		"direction", edge.Direction, "btc", btc,
		"buy_order", buyRes.OrderID, "sell_order", sellRes.OrderID,
		"profit_usd", profitUSD, "elapsed_ms", elapsed.Milliseconds())

	return trade, nil
}

// realisedProfit converts both fills to USD and nets out per-leg fees.
// The ZAR leg is whichever side Luno took.
func realisedProfit(d core.Direction, btc float64, buy, sell core.OrderResult, usdtZar, lunoFee, binanceFee float64) (usd, zar float64) {
	buyUSD := buy.FilledPrice
	sellUSD := sell.FilledPrice
	buyFee, sellFee := binanceFee, lunoFee

	if d == core.DirectionLunoToBinance {
		buyUSD = buy.FilledPrice / usdtZar
		buyFee, sellFee = lunoFee, binanceFee
	} else {
		sellUSD = sell.FilledPrice / usdtZar
	}

	usd = btc * (sellUSD - buyUSD)
	usd -= btc * buyUSD * buyFee
	usd -= btc * sellUSD * sellFee
	return usd, usd * usdtZar
}

// recordTrade updates the running aggregates and writes a PnL row.
func (x *Executor) recordTrade(ctx context.Context, trade *core.Trade) {
	x.mu.Lock()
	x.totalTrades++
	x.totalUSD += trade.ProfitUSD
	trades, cumulative := x.totalTrades, x.totalUSD
	x.mu.Unlock()

	telemetry.TradesTotal.WithLabelValues(string(trade.TradeType), trade.Status).Inc()
	telemetry.CumulativeProfitUSD.Set(cumulative)

	if err := x.store.SavePnL(ctx, &core.PnLRecord{
		Timestamp:     x.now().UTC(),
		DailyPnLUSD:   trade.ProfitUSD,
		CumulativeUSD: cumulative,
		TradeCount:    trades,
	}); err != nil {
		x.logger.Error("failed to persist pnl record", "error", err)
	}
}
