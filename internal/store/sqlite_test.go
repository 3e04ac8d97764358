package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTick(edge float64) *core.TickRecord {
	return &core.TickRecord{
		Timestamp:           time.Now().UTC(),
		LunoBid:             1890000,
		LunoAsk:             1892500,
		LunoLast:            1891000,
		BinanceBid:          104000,
		BinanceAsk:          104002,
		BinanceLast:         104001,
		UsdZarRate:          18.2,
		UsdtZarRate:         18.19,
		NetEdgeBps:          edge,
		GrossEdgeBps:        edge + 20,
		Direction:           core.DirectionLunoToBinance,
		Profitable:          edge >= 40,
		MinEdgeThresholdBps: 40,
		SlippageBps:         10,
		FeeBps:              20,
	}
}

func TestSaveAndQueryTicks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, edge := range []float64{10, 20, 55} {
		require.NoError(t, s.SaveTick(ctx, sampleTick(edge)))
	}

	got, err := s.RecentTicks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Chronological order of the most recent two
	assert.Equal(t, 20.0, got[0].NetEdgeBps)
	assert.Equal(t, 55.0, got[1].NetEdgeBps)
	assert.Equal(t, core.DirectionLunoToBinance, got[0].Direction)

	stats, err := s.TickStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, int64(1), stats.ProfitableCount)
	assert.Equal(t, 10.0, stats.MinNetEdgeBps)
	assert.Equal(t, 55.0, stats.MaxNetEdgeBps)
}

func TestSaveTrade_AndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trades := []*core.Trade{
		{Timestamp: time.Now().UTC(), Direction: core.DirectionLunoToBinance,
			TradeType: core.TradeTypeProfitable, BTCAmount: 0.0025,
			ProfitZAR: 22.5, ProfitUSD: 1.24, Status: "paper"},
		{Timestamp: time.Now().UTC(), Direction: core.DirectionBinanceToLuno,
			TradeType: core.TradeTypeKeepalive, BTCAmount: 0.0025,
			ProfitZAR: -5.0, ProfitUSD: -0.27, Status: "paper"},
		{Timestamp: time.Now().UTC(), Direction: core.DirectionLunoToBinance,
			TradeType: core.TradeTypeProfitable, BTCAmount: 0.001,
			ProfitZAR: 0, ProfitUSD: 0, Status: "failed"},
	}
	for _, tr := range trades {
		require.NoError(t, s.SaveTrade(ctx, tr))
		assert.NotZero(t, tr.ID)
	}

	sum, err := s.TradeSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.TotalTrades)
	assert.Equal(t, int64(2), sum.PaperTrades)
	assert.Equal(t, int64(1), sum.FailedLive)
	assert.InDelta(t, 17.5, sum.TotalProfitZAR, 1e-9)

	got, err := s.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, core.TradeTypeKeepalive, got[1].TradeType)
}

func TestUpsertFloatBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertFloatBalance(ctx, "luno", "ZAR", 5000, now))
	require.NoError(t, s.UpsertFloatBalance(ctx, "luno", "BTC", 0.002, now))
	require.NoError(t, s.UpsertFloatBalance(ctx, "luno", "ZAR", 4100, now.Add(time.Second)))

	rows, err := s.FloatBalances(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2, "upsert must not create duplicate rows")

	byCurrency := map[string]float64{}
	for _, r := range rows {
		byCurrency[r.Currency] = r.Balance
	}
	assert.Equal(t, 4100.0, byCurrency["ZAR"])
	assert.Equal(t, 0.002, byCurrency["BTC"])
}

func TestSaveOpportunity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := &core.Opportunity{
		Timestamp:    time.Now().UTC(),
		Direction:    core.DirectionBinanceToLuno,
		BuyExchange:  "binance",
		SellExchange: "luno",
		NetEdgeBps:   44.0,
		SizeBTC:      0.0025,
		SizeZAR:      4727.5,
		Executed:     false,
		SkipReason:   "cooldown",
	}
	require.NoError(t, s.SaveOpportunity(ctx, o))

	got, err := s.RecentOpportunities(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cooldown", got[0].SkipReason)
	assert.False(t, got[0].Executed)
}

func TestPnLRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.LatestPnL(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SavePnL(ctx, &core.PnLRecord{
		Timestamp: time.Now().UTC(), DailyPnLUSD: 1.2, CumulativeUSD: 1.2, TradeCount: 1}))
	require.NoError(t, s.SavePnL(ctx, &core.PnLRecord{
		Timestamp: time.Now().UTC(), DailyPnLUSD: 2.5, CumulativeUSD: 3.7, TradeCount: 2}))

	latest, found, err := s.LatestPnL(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3.7, latest.CumulativeUSD)
	assert.Equal(t, int64(2), latest.TradeCount)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTick(ctx, sampleTick(10)))
	require.NoError(t, s.SaveTrade(ctx, &core.Trade{Timestamp: time.Now().UTC(), Status: "paper"}))
	require.NoError(t, s.UpsertFloatBalance(ctx, "luno", "ZAR", 5000, time.Now().UTC()))

	require.NoError(t, s.Clear(ctx))

	stats, err := s.TickStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	rows, err := s.FloatBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
