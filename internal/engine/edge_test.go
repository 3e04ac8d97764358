package engine

import (
	"testing"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	apperrors "github.com/DaleTiley-AirCapital/CryptArb/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quote(bid, ask, last float64) core.PriceQuote {
	return core.PriceQuote{Bid: bid, Ask: ask, Last: last}
}

func defaultParams() EdgeParams {
	return EdgeParams{
		SlippageBps:   10,
		LunoFee:       0.001,
		BinanceFee:    0.001,
		MinNetEdgeBps: 40,
	}
}

func TestComputeEdges_FeeInvariant(t *testing.T) {
	luno := quote(1890000, 1892500, 1891000)
	binance := quote(104000, 104010, 104005)

	l2b, b2l, err := ComputeEdges(luno, binance, 18.2, defaultParams())
	require.NoError(t, err)

	// net == gross - (feeA+feeB)*10000, in both directions
	assert.InDelta(t, l2b.GrossEdgeBps-20, l2b.NetEdgeBps, 0.01)
	assert.InDelta(t, b2l.GrossEdgeBps-20, b2l.NetEdgeBps, 0.01)
}

func TestComputeEdges_UnprofitableSpread(t *testing.T) {
	luno := quote(1050000, 1050500, 1050200)
	binance := quote(60100, 60200, 60150)

	l2b, b2l, err := ComputeEdges(luno, binance, 17.5, defaultParams())
	require.NoError(t, err)

	// Slippage widens the buy and narrows the sell
	assert.InDelta(t, 1051550.5, l2b.BuyPrice, 0.001)
	assert.InDelta(t, 60039.9, l2b.SellPrice, 0.001)

	assert.InDelta(t, -8.10, l2b.GrossEdgeBps, 0.01)
	assert.InDelta(t, -28.10, l2b.NetEdgeBps, 0.01)
	assert.False(t, l2b.Profitable)

	assert.InDelta(t, -53.14, b2l.GrossEdgeBps, 0.01)
	assert.False(t, b2l.Profitable)

	best := BestEdge(l2b, b2l)
	assert.Equal(t, core.DirectionLunoToBinance, best.Direction)
}

func TestComputeEdges_CleanArbitrage(t *testing.T) {
	luno := quote(1000000, 1000500, 1000200)
	binance := quote(60000, 60100, 60050)

	p := defaultParams()
	p.MinNetEdgeBps = 20

	l2b, b2l, err := ComputeEdges(luno, binance, 16.5, p)
	require.NoError(t, err)

	// Luno trades rich against the USDT book: selling ZAR-priced BTC into
	// Binance-bought inventory clears the threshold.
	assert.InDelta(t, 64.05, b2l.GrossEdgeBps, 0.01)
	assert.InDelta(t, 44.05, b2l.NetEdgeBps, 0.01)
	assert.True(t, b2l.Profitable)
	assert.False(t, l2b.Profitable)

	best := BestEdge(l2b, b2l)
	assert.Equal(t, core.DirectionBinanceToLuno, best.Direction)
	assert.Equal(t, "binance", best.BuyExchange)
	assert.Equal(t, "luno", best.SellExchange)
}

func TestComputeEdges_ZeroLastPrice(t *testing.T) {
	luno := quote(1000000, 1000500, 0)
	binance := quote(60000, 60100, 60050)

	_, _, err := ComputeEdges(luno, binance, 17.0, defaultParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNoPrice)

	_, _, err = ComputeEdges(quote(1000000, 1000500, 1000200), quote(60000, 60100, 0), 17.0, defaultParams())
	assert.ErrorIs(t, err, apperrors.ErrNoPrice)
}

func TestComputeEdges_BadFXRate(t *testing.T) {
	luno := quote(1000000, 1000500, 1000200)
	binance := quote(60000, 60100, 60050)

	_, _, err := ComputeEdges(luno, binance, 0, defaultParams())
	assert.ErrorIs(t, err, apperrors.ErrFXUnavailable)
}

func TestBestEdge_TieBreaksToLunoToBinance(t *testing.T) {
	l2b := core.EdgeResult{Direction: core.DirectionLunoToBinance, NetEdgeBps: 12.5}
	b2l := core.EdgeResult{Direction: core.DirectionBinanceToLuno, NetEdgeBps: 12.5}

	assert.Equal(t, core.DirectionLunoToBinance, BestEdge(l2b, b2l).Direction)
	assert.Equal(t, core.DirectionLunoToBinance, BestEdge(b2l, l2b).Direction)
}

func TestComputeEdge_MirrorSymmetry(t *testing.T) {
	// With a flat book and no slippage the two directions are exact
	// opposites of the same spread.
	luno := quote(1000000, 1000000, 1000000)
	binance := quote(60000, 60000, 60000)
	p := EdgeParams{MinNetEdgeBps: 40}

	l2b := ComputeEdge(core.DirectionLunoToBinance, luno, binance, 16.5, p)
	b2l := ComputeEdge(core.DirectionBinanceToLuno, luno, binance, 16.5, p)

	// luno_usd = 60606.06, binance = 60000: l2b loses what b2l gains
	assert.Negative(t, l2b.GrossEdgeBps)
	assert.Positive(t, b2l.GrossEdgeBps)
	assert.InDelta(t, l2b.GrossEdgeBps, -b2l.GrossEdgeBps, 2.0)
}
