package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/ticks"
	apperrors "github.com/DaleTiley-AirCapital/CryptArb/pkg/errors"
	"github.com/DaleTiley-AirCapital/CryptArb/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// PriceSource is the quote feed the loop reads from.
type PriceSource interface {
	core.IPriceSource
	IsReady() bool
	Start(ctx context.Context)
	Stop()
}

// IterStats are the per-run loop counters.
type IterStats struct {
	Checks             int64   `json:"checks"`
	OpportunitiesFound int64   `json:"opportunities_found"`
	TradesExecuted     int64   `json:"trades_executed"`
	SkippedNoBalance   int64   `json:"skipped_insufficient_balance"`
	AvgCheckTimeMs     float64 `json:"avg_check_time_ms"`
}

// InventoryStatus reports which directions the float book can currently serve.
type InventoryStatus struct {
	CanLunoToBinance bool           `json:"can_trade_luno_to_binance"`
	CanBinanceToLuno bool           `json:"can_trade_binance_to_luno"`
	BlockReasonL2B   string         `json:"block_reason_l2b,omitempty"`
	BlockReasonB2L   string         `json:"block_reason_b2l,omitempty"`
	LastDirection    core.Direction `json:"last_profitable_direction,omitempty"`
	ConsecutiveSame  int            `json:"consecutive_same_direction"`
	RebalanceArmed   bool           `json:"rebalance_armed"`
}

// Status is the engine snapshot served by the API.
type Status struct {
	Running           bool                  `json:"running"`
	State             State                 `json:"state"`
	Mode              string                `json:"mode"`
	LastCheck         time.Time             `json:"last_check"`
	LastEdge          *core.EdgeResult      `json:"last_edge,omitempty"`
	TotalTrades       int64                 `json:"total_trades"`
	TotalPnLUSD       float64               `json:"total_pnl_usd"`
	UptimeSeconds     float64               `json:"uptime_seconds"`
	ConsecutiveErrors int                   `json:"consecutive_errors"`
	CheckIntervalMs   int                   `json:"check_interval_ms"`
	Stats             IterStats             `json:"stats"`
	PaperFloats       *FloatSet             `json:"paper_floats,omitempty"`
	Tradeable         *FloatSet             `json:"tradeable_amounts,omitempty"`
	Buffers           *config.BuffersConfig `json:"safety_buffers,omitempty"`
	Inventory         *InventoryStatus      `json:"inventory_status,omitempty"`
	RecentTicks       []core.TickRecord     `json:"recent_ticks"`
}

// Engine drives the fixed-period decision loop and owns the lifecycle of
// the price feed and the tick pipeline.
type Engine struct {
	cfg      *config.Config
	prices   PriceSource
	fx       core.IFXProvider
	luno     core.IExchange
	binance  core.IExchange
	store    core.IStore
	pipeline *ticks.Pipeline
	logger   core.ILogger

	floats   *Floats
	selector *Selector
	executor *Executor

	live bool
	now  func() time.Time

	mu                sync.Mutex
	state             State
	consecutiveErrors int
	stats             IterStats
	startTime         time.Time
	lastCheck         time.Time
	lastEdge          *core.EdgeResult

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine wires the orchestrator. Start must be called to begin trading.
func NewEngine(
	cfg *config.Config,
	prices PriceSource,
	fx core.IFXProvider,
	luno, binance core.IExchange,
	store core.IStore,
	pipeline *ticks.Pipeline,
	logger core.ILogger,
) *Engine {
	floats := NewFloats(cfg.Trading, cfg.Buffers)
	return &Engine{
		cfg:      cfg,
		prices:   prices,
		fx:       fx,
		luno:     luno,
		binance:  binance,
		store:    store,
		pipeline: pipeline,
		logger:   logger.WithField("component", "engine"),
		floats:   floats,
		selector: NewSelector(cfg.Trading),
		executor: NewExecutor(cfg, luno, binance, store, floats, logger),
		live:     strings.ToLower(cfg.App.Mode) == "live",
		now:      time.Now,
		state:    StateStopped,
	}
}

// Floats exposes the paper book for the API layer.
func (e *Engine) Floats() *Floats { return e.floats }

// Start launches the price feed, waits out the warmup window and enters
// the decision loop. Returns an error if the engine is not stopped.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine is %s, cannot start", e.state)
	}
	e.state = StateStarting
	e.consecutiveErrors = 0
	e.stats = IterStats{}
	e.startTime = e.now()
	// Config changes land while stopped; refresh the derived components so
	// a restart trades on the current parameters.
	e.selector = NewSelector(e.cfg.Trading)
	e.floats.SetConfig(e.cfg.Trading, e.cfg.Buffers)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.mu.Unlock()

	e.prices.Start(runCtx)
	e.pipeline.Start(runCtx)

	e.wg.Add(1)
	go e.run(runCtx)
	return nil
}

// Stop halts the loop, the price feed and the tick pipeline. The pipeline
// flushes its ring and drains its queue before returning.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StateStarting {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.prices.Stop()
	e.pipeline.Stop()

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.logger.Info("engine stopped")
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	// Warmup: give the feeds time to deliver a first snapshot.
	select {
	case <-time.After(time.Duration(e.cfg.Engine.WarmupSec) * time.Second):
	case <-ctx.Done():
		return
	}

	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()

	mode := "PAPER"
	if e.live {
		mode = "LIVE"
	}
	interval := time.Duration(e.cfg.Engine.CheckIntervalMs) * time.Millisecond
	e.logger.Info("arbitrage loop started", "mode", mode, "check_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	balanceCounter := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		e.runIteration(ctx)

		balanceCounter++
		if balanceCounter >= e.cfg.Engine.BalanceSyncEvery {
			balanceCounter = 0
			go e.syncBalances(context.WithoutCancel(ctx))
		}

		e.mu.Lock()
		errs := e.consecutiveErrors
		e.mu.Unlock()
		if errs >= e.cfg.Engine.ErrorStopCount {
			e.logger.Error("stopping loop after consecutive errors", "count", errs)
			e.mu.Lock()
			e.state = StateStopped
			cancel := e.cancel
			e.mu.Unlock()
			cancel()
			// Tear down the feeds off the loop goroutine; Stop would
			// deadlock waiting for this goroutine to exit.
			go func() {
				e.prices.Stop()
				e.pipeline.Stop()
			}()
			return
		}
	}
}

func (e *Engine) runIteration(ctx context.Context) {
	start := e.now()

	luno, lunoOK := e.prices.LunoQuote()
	binance, binanceOK := e.prices.BinanceQuote()
	if !lunoOK || !binanceOK {
		if !e.prices.IsReady() {
			// Still warming up, not an error.
			return
		}
		e.recordError("price snapshot unavailable after readiness", nil)
		return
	}

	// A present quote is not enough; trading on a frozen feed is worse
	// than not trading. Stale sides count toward the circuit breaker.
	if maxAge := time.Duration(e.cfg.Prices.MaxAgeSec * float64(time.Second)); maxAge > 0 {
		if age := start.Sub(luno.Timestamp); age > maxAge {
			e.recordError("luno quote stale", fmt.Errorf("%w: age %.1fs", apperrors.ErrStalePrice, age.Seconds()))
			return
		}
		if age := start.Sub(binance.Timestamp); age > maxAge {
			e.recordError("binance quote stale", fmt.Errorf("%w: age %.1fs", apperrors.ErrStalePrice, age.Seconds()))
			return
		}
	}

	usdtZar, err := e.fx.USDTZAR(ctx)
	if err != nil {
		e.recordError("usdt/zar rate unavailable", err)
		return
	}
	usdZar, err := e.fx.USDZAR(ctx)
	if err != nil {
		usdZar = usdtZar
	}

	params := EdgeParams{
		SlippageBps:   e.cfg.Trading.SlippageBpsBuffer,
		LunoFee:       e.cfg.Exchanges["luno"].FeeRate,
		BinanceFee:    e.cfg.Exchanges["binance"].FeeRate,
		MinNetEdgeBps: e.cfg.Trading.MinNetEdgeBps,
	}
	lunoToBinance, binanceToLuno, err := ComputeEdges(luno, binance, usdtZar, params)
	if err != nil {
		e.recordError("edge computation failed", err)
		return
	}

	now := e.now().UTC()
	for _, edge := range []core.EdgeResult{lunoToBinance, binanceToLuno} {
		e.pipeline.Add(e.buildTick(now, luno, binance, usdZar, usdtZar, edge, params))
		telemetry.TicksTotal.WithLabelValues(string(edge.Direction)).Inc()
		telemetry.NetEdgeBps.WithLabelValues(string(edge.Direction)).Set(edge.NetEdgeBps)
		if edge.Profitable {
			telemetry.ProfitableTicksTotal.WithLabelValues(string(edge.Direction)).Inc()
		}
	}

	if !e.live && e.floats.Initialize(luno.Last) {
		b := e.floats.Balances()
		e.logger.Info("paper floats initialised",
			"luno_zar", b.LunoZAR, "binance_btc", b.BinanceBTC)
	}

	best := BestEdge(lunoToBinance, binanceToLuno)

	e.mu.Lock()
	e.consecutiveErrors = 0
	e.lastCheck = e.now()
	e.lastEdge = &best
	e.stats.Checks++
	checkMs := float64(e.now().Sub(start).Milliseconds())
	e.stats.AvgCheckTimeMs = e.stats.AvgCheckTimeMs*0.9 + checkMs*0.1
	checks := e.stats.Checks
	e.mu.Unlock()
	telemetry.ConsecutiveErrors.Set(0)
	telemetry.LoopDuration.Observe(e.now().Sub(start).Seconds())

	if e.cfg.Engine.HeartbeatEvery > 0 && checks%int64(e.cfg.Engine.HeartbeatEvery) == 0 {
		e.logger.Info("heartbeat",
			"mode", e.cfg.App.Mode, "usd_zar", usdZar,
			"luno_last", luno.Last, "binance_last", binance.Last,
			"net_edge_bps", best.NetEdgeBps, "direction", best.Direction)
	}

	decision := e.selector.Select(lunoToBinance, binanceToLuno, e.floats, e.live)
	e.handleDecision(ctx, decision, best, luno, binance, usdtZar)
}

func (e *Engine) handleDecision(ctx context.Context, d Decision, best core.EdgeResult, luno, binance core.PriceQuote, usdtZar float64) {
	if !d.Execute {
		if best.Profitable && d.SkipReason != "" {
			e.mu.Lock()
			e.stats.OpportunitiesFound++
			if d.SkipReason != "cooldown" {
				e.stats.SkippedNoBalance++
			}
			e.mu.Unlock()
			e.logOpportunity(ctx, best, luno, binance, false, d.SkipReason)
		}
		return
	}

	e.mu.Lock()
	e.stats.OpportunitiesFound++
	e.mu.Unlock()

	e.logger.Info("opportunity selected",
		"direction", d.Edge.Direction, "type", d.TradeType,
		"net_edge_bps", d.Edge.NetEdgeBps)

	var trade *core.Trade
	var err error
	if e.live {
		btc, _ := liveTradeSize(e.cfg.Trading, luno.Last)
		trade, err = e.executor.ExecuteLive(ctx, d.Edge, btc, usdtZar)
	} else {
		trade, err = e.executor.ExecutePaper(ctx, d.Edge, d.TradeType, luno.Last, binance.Last, usdtZar)
	}

	if err != nil || trade == nil {
		if err != nil {
			e.logger.Error("trade execution failed", "error", err)
		}
		e.logOpportunity(ctx, d.Edge, luno, binance, false, "execution_failed")
		return
	}

	e.selector.MarkExecuted(d.TradeType)
	e.mu.Lock()
	e.stats.TradesExecuted++
	e.mu.Unlock()
	e.logOpportunity(ctx, d.Edge, luno, binance, true, "")
}

// liveTradeSize bounds a live order by the ZAR budget and the BTC cap.
func liveTradeSize(t config.TradingConfig, lunoLast float64) (btc, zar float64) {
	if lunoLast <= 0 {
		return 0, 0
	}
	btc = t.MaxTradeZAR / lunoLast
	if btc > t.MaxTradeSizeBTC {
		btc = t.MaxTradeSizeBTC
	}
	return btc, btc * lunoLast
}

func (e *Engine) buildTick(ts time.Time, luno, binance core.PriceQuote, usdZar, usdtZar float64, edge core.EdgeResult, p EdgeParams) *core.TickRecord {
	return &core.TickRecord{
		Timestamp:           ts,
		LunoBid:             luno.Bid,
		LunoAsk:             luno.Ask,
		LunoLast:            luno.Last,
		BinanceBid:          binance.Bid,
		BinanceAsk:          binance.Ask,
		BinanceLast:         binance.Last,
		UsdZarRate:          usdZar,
		UsdtZarRate:         usdtZar,
		SpreadPct:           edge.SpreadPct,
		GrossEdgeBps:        edge.GrossEdgeBps,
		NetEdgeBps:          edge.NetEdgeBps,
		Direction:           edge.Direction,
		Profitable:          edge.Profitable,
		MinEdgeThresholdBps: p.MinNetEdgeBps,
		SlippageBps:         p.SlippageBps,
		FeeBps:              (p.LunoFee + p.BinanceFee) * 10000,
	}
}

func (e *Engine) logOpportunity(ctx context.Context, edge core.EdgeResult, luno, binance core.PriceQuote, executed bool, skipReason string) {
	sizeBTC := e.cfg.Trading.MaxTradeSizeBTC
	o := &core.Opportunity{
		Timestamp:       e.now().UTC(),
		Direction:       edge.Direction,
		BuyExchange:     edge.BuyExchange,
		SellExchange:    edge.SellExchange,
		BuyPrice:        edge.BuyPrice,
		SellPrice:       edge.SellPrice,
		GrossEdgeBps:    edge.GrossEdgeBps,
		NetEdgeBps:      edge.NetEdgeBps,
		SizeBTC:         sizeBTC,
		SizeZAR:         sizeBTC * luno.Last,
		Executed:        executed,
		SkipReason:      skipReason,
		LunoPriceZAR:    luno.Last,
		BinancePriceUSD: binance.Last,
	}
	if err := e.store.SaveOpportunity(ctx, o); err != nil {
		e.logger.Error("failed to persist opportunity", "error", err)
	}
}

func (e *Engine) recordError(msg string, err error) {
	e.mu.Lock()
	e.consecutiveErrors++
	n := e.consecutiveErrors
	e.mu.Unlock()
	telemetry.ConsecutiveErrors.Set(float64(n))
	e.logger.Warn(msg, "error", err, "consecutive_errors", n)
}

// syncBalances refreshes the float_balances table. Paper mode writes the
// simulated book; live mode queries the venues. Advisory only, failures
// are logged and dropped.
func (e *Engine) syncBalances(ctx context.Context) {
	now := e.now().UTC()

	if !e.live {
		if !e.floats.Initialized() {
			return
		}
		b := e.floats.Balances()
		rows := []struct {
			exchange, currency string
			balance            float64
		}{
			{"luno", "ZAR", b.LunoZAR},
			{"luno", "BTC", b.LunoBTC},
			{"binance", "BTC", b.BinanceBTC},
			{"binance", "USDT", b.BinanceUSDT},
		}
		for _, r := range rows {
			if err := e.store.UpsertFloatBalance(ctx, r.exchange, r.currency, r.balance, now); err != nil {
				e.logger.Error("failed to upsert float balance", "error", err)
			}
		}
		return
	}

	type query struct {
		venue    core.IExchange
		exchange string
		currency string
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range []query{
		{e.luno, "luno", "BTC"},
		{e.luno, "luno", "ZAR"},
		{e.binance, "binance", "BTC"},
		{e.binance, "binance", "USDT"},
	} {
		q := q
		g.Go(func() error {
			bal, err := q.venue.GetBalance(gctx, q.currency)
			if err != nil {
				e.logger.Warn("balance fetch failed", "exchange", q.exchange, "currency", q.currency, "error", err)
				return nil
			}
			if err := e.store.UpsertFloatBalance(gctx, q.exchange, q.currency, bal.Available, now); err != nil {
				e.logger.Error("failed to upsert float balance", "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ResetFloats clears the paper book and the running PnL aggregates.
func (e *Engine) ResetFloats() {
	e.floats.Reset()
	e.executor.ResetTotals()
	e.mu.Lock()
	e.stats.TradesExecuted = 0
	e.stats.OpportunitiesFound = 0
	e.mu.Unlock()
	e.logger.Info("paper floats reset, will re-initialise on next price check")
}

// Status assembles the API snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		Running:           e.state == StateRunning || e.state == StateStarting,
		State:             e.state,
		Mode:              strings.ToLower(e.cfg.App.Mode),
		LastCheck:         e.lastCheck,
		LastEdge:          e.lastEdge,
		ConsecutiveErrors: e.consecutiveErrors,
		CheckIntervalMs:   e.cfg.Engine.CheckIntervalMs,
		Stats:             e.stats,
	}
	if !e.startTime.IsZero() && st.Running {
		st.UptimeSeconds = e.now().Sub(e.startTime).Seconds()
	}
	selector := e.selector
	e.mu.Unlock()

	st.TotalTrades, st.TotalPnLUSD = e.executor.Totals()
	st.RecentTicks = e.pipeline.Ring()

	if !e.live && e.floats.Initialized() {
		balances := e.floats.Balances()
		tradeable := e.floats.Tradeable()
		st.PaperFloats = &balances
		st.Tradeable = &tradeable
		buffers := e.cfg.Buffers
		st.Buffers = &buffers

		canL2B, reasonL2B := e.floats.CanExecute(core.DirectionLunoToBinance)
		canB2L, reasonB2L := e.floats.CanExecute(core.DirectionBinanceToLuno)
		lastDir, streak, armed := selector.Streak()
		st.Inventory = &InventoryStatus{
			CanLunoToBinance: canL2B,
			CanBinanceToLuno: canB2L,
			BlockReasonL2B:   reasonL2B,
			BlockReasonB2L:   reasonB2L,
			LastDirection:    lastDir,
			ConsecutiveSame:  streak,
			RebalanceArmed:   armed,
		}
	}
	return st
}
