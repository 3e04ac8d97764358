package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/mock"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/ticks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPrices is a controllable PriceSource.
type stubPrices struct {
	mu      sync.Mutex
	luno    core.PriceQuote
	binance core.PriceQuote
	lunoOK  bool
	binOK   bool
	ready   bool
}

func (s *stubPrices) Start(ctx context.Context) {}
func (s *stubPrices) Stop()                     {}

func (s *stubPrices) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *stubPrices) LunoQuote() (core.PriceQuote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.luno, s.lunoOK
}

func (s *stubPrices) BinanceQuote() (core.PriceQuote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binance, s.binOK
}

func (s *stubPrices) set(luno, binance core.PriceQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.luno, s.binance = luno, binance
	s.lunoOK, s.binOK = true, true
	s.ready = true
}

// stubFX returns fixed rates.
type stubFX struct {
	usdZar  float64
	usdtUSD float64
}

func (f *stubFX) USDZAR(ctx context.Context) (float64, error)  { return f.usdZar, nil }
func (f *stubFX) USDTUSD(ctx context.Context) (float64, error) { return f.usdtUSD, nil }
func (f *stubFX) USDTZAR(ctx context.Context) (float64, error) {
	return f.usdZar / f.usdtUSD, nil
}

func testEngineConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.CheckIntervalMs = 10
	cfg.Engine.WarmupSec = 0
	cfg.Engine.BalanceSyncEvery = 1000
	cfg.Engine.HeartbeatEvery = 1000
	return cfg
}

func newTestEngine(cfg *config.Config, prices PriceSource, store *mock.Store) (*Engine, *mock.Exchange, *mock.Exchange) {
	luno := mock.NewExchange("luno")
	binance := mock.NewExchange("binance")
	pipeline := ticks.NewPipeline(cfg.Ticks, store, &MockLogger{})
	eng := NewEngine(cfg, prices, &stubFX{usdZar: 16.5, usdtUSD: 1.0}, luno, binance, store, pipeline, &MockLogger{})
	return eng, luno, binance
}

// Quotes where Binance trades rich: luno_to_binance nets ~+184 bps, which a
// freshly seeded paper book (Luno ZAR + Binance BTC) can execute.
func profitableQuotes() (core.PriceQuote, core.PriceQuote) {
	luno := core.PriceQuote{Bid: 1000000, Ask: 1000500, Last: 1000200, Timestamp: time.Now()}
	binance := core.PriceQuote{Bid: 62000, Ask: 62100, Last: 62050, Timestamp: time.Now()}
	return luno, binance
}

func TestEngine_StartTwiceFails(t *testing.T) {
	cfg := testEngineConfig()
	prices := &stubPrices{}
	eng, _, _ := newTestEngine(cfg, prices, mock.NewStore())

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	assert.Error(t, eng.Start(context.Background()))
}

func TestEngine_PaperTradeEndToEnd(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Trading.MinNetEdgeBps = 20

	store := mock.NewStore()
	prices := &stubPrices{}
	prices.set(profitableQuotes())

	eng, _, _ := newTestEngine(cfg, prices, store)
	require.NoError(t, eng.Start(context.Background()))

	require.Eventually(t, func() bool {
		trades, _ := store.RecentTrades(context.Background(), 0)
		return len(trades) >= 1
	}, 2*time.Second, 10*time.Millisecond, "a paper trade should execute")

	eng.Stop()
	assert.Equal(t, StateStopped, eng.State())

	trades, err := store.RecentTrades(context.Background(), 0)
	require.NoError(t, err)
	first := trades[0]
	assert.Equal(t, "paper", first.Status)
	assert.Equal(t, core.TradeTypeProfitable, first.TradeType)
	assert.Equal(t, core.DirectionLunoToBinance, first.Direction)
	assert.GreaterOrEqual(t, first.NetEdgeBps, cfg.Trading.MinNetEdgeBps)
	assert.Positive(t, first.ProfitZAR)

	// Floats were seeded from the first Luno price
	st := eng.Status()
	require.NotNil(t, st.PaperFloats)

	// Each iteration records both directions
	opps, err := store.RecentOpportunities(context.Background(), 0)
	require.NoError(t, err)
	require.NotEmpty(t, opps)
	assert.True(t, opps[0].Executed)
}

func TestEngine_NotReadyIsNotAnError(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Engine.ErrorStopCount = 2

	prices := &stubPrices{} // never ready
	eng, _, _ := newTestEngine(cfg, prices, mock.NewStore())
	require.NoError(t, eng.Start(context.Background()))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateRunning, eng.State())
	assert.Zero(t, eng.Status().ConsecutiveErrors)

	eng.Stop()
}

func TestEngine_CircuitBreaker(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Engine.ErrorStopCount = 3

	// Ready but serving no quotes: every iteration is an error.
	prices := &stubPrices{ready: true}
	eng, _, _ := newTestEngine(cfg, prices, mock.NewStore())
	require.NoError(t, eng.Start(context.Background()))

	require.Eventually(t, func() bool {
		return eng.State() == StateStopped
	}, 2*time.Second, 10*time.Millisecond, "loop should break after 3 consecutive errors")

	st := eng.Status()
	assert.False(t, st.Running)
	assert.GreaterOrEqual(t, st.ConsecutiveErrors, 3)
}

func TestEngine_StaleQuotesTripCircuitBreaker(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Engine.ErrorStopCount = 3
	cfg.Trading.MinNetEdgeBps = 20

	store := mock.NewStore()
	prices := &stubPrices{}
	// Profitable numbers, but the feed froze a minute ago.
	luno, binance := profitableQuotes()
	luno.Timestamp = time.Now().Add(-time.Minute)
	binance.Timestamp = time.Now().Add(-time.Minute)
	prices.set(luno, binance)

	eng, _, _ := newTestEngine(cfg, prices, store)
	require.NoError(t, eng.Start(context.Background()))

	require.Eventually(t, func() bool {
		return eng.State() == StateStopped
	}, 2*time.Second, 10*time.Millisecond, "stale quotes must count as errors")

	// No trade fires off a frozen book
	trades, err := store.RecentTrades(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestEngine_CooldownLimitsTradeRate(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Trading.MinNetEdgeBps = 20
	cfg.Trading.MinTradeIntervalSec = 2.0

	store := mock.NewStore()
	prices := &stubPrices{}
	prices.set(profitableQuotes())

	eng, _, _ := newTestEngine(cfg, prices, store)
	require.NoError(t, eng.Start(context.Background()))

	// Plenty of profitable 10 ms iterations inside the 2 s window
	time.Sleep(500 * time.Millisecond)
	eng.Stop()

	trades, err := store.RecentTrades(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1, "cooldown must hold the second trade back")

	// The skipped iterations are visible as cooldown opportunities
	opps, err := store.RecentOpportunities(context.Background(), 0)
	require.NoError(t, err)
	var cooldowns int
	for _, o := range opps {
		if o.SkipReason == "cooldown" {
			cooldowns++
		}
	}
	assert.Greater(t, cooldowns, 0)
}

func TestEngine_TwoTicksPerIteration(t *testing.T) {
	cfg := testEngineConfig()

	store := mock.NewStore()
	prices := &stubPrices{}
	// Dead spread: no trades, just ticks
	prices.set(
		core.PriceQuote{Bid: 1000000, Ask: 1000100, Last: 1000050, Timestamp: time.Now()},
		core.PriceQuote{Bid: 60600, Ask: 60610, Last: 60605, Timestamp: time.Now()},
	)

	eng, _, _ := newTestEngine(cfg, prices, store)
	require.NoError(t, eng.Start(context.Background()))

	require.Eventually(t, func() bool {
		return eng.Status().Stats.Checks >= 4
	}, 2*time.Second, 10*time.Millisecond)

	// Read the ring before Stop flushes it.
	ring := eng.Status().RecentTicks
	eng.Stop()
	require.NotEmpty(t, ring)

	// Each iteration records both directions; a read may land between the
	// two adds of an iteration, so allow the counts to differ by one.
	var l2b, b2l int
	for _, tick := range ring {
		switch tick.Direction {
		case core.DirectionLunoToBinance:
			l2b++
		case core.DirectionBinanceToLuno:
			b2l++
		}
	}
	assert.InDelta(t, l2b, b2l, 1, "each iteration must record both directions")
}

func TestEngine_StatusReportsInventory(t *testing.T) {
	cfg := testEngineConfig()
	store := mock.NewStore()
	prices := &stubPrices{}
	prices.set(profitableQuotes())

	eng, _, _ := newTestEngine(cfg, prices, store)
	require.NoError(t, eng.Start(context.Background()))

	require.Eventually(t, func() bool {
		return eng.Status().PaperFloats != nil
	}, 2*time.Second, 10*time.Millisecond)
	eng.Stop()

	st := eng.Status()
	require.NotNil(t, st.Inventory)
	require.NotNil(t, st.Tradeable)
	assert.Equal(t, "paper", st.Mode)
	assert.Equal(t, cfg.Engine.CheckIntervalMs, st.CheckIntervalMs)
}

func TestEngine_ResetFloats(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Trading.MinNetEdgeBps = 20
	store := mock.NewStore()
	prices := &stubPrices{}
	prices.set(profitableQuotes())

	eng, _, _ := newTestEngine(cfg, prices, store)
	require.NoError(t, eng.Start(context.Background()))
	require.Eventually(t, func() bool {
		return eng.Status().TotalTrades >= 1
	}, 2*time.Second, 10*time.Millisecond)

	eng.ResetFloats()
	st := eng.Status()
	assert.Zero(t, st.TotalTrades)
	assert.Zero(t, st.TotalPnLUSD)

	// The book re-seeds on the next iteration
	require.Eventually(t, func() bool {
		return eng.Floats().Initialized()
	}, 2*time.Second, 10*time.Millisecond)
	eng.Stop()
}
