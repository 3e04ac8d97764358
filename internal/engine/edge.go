// Package engine contains the arbitrage decision loop: edge computation,
// inventory tracking, trade selection and hedged execution.
package engine

import (
	"fmt"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	apperrors "github.com/DaleTiley-AirCapital/CryptArb/pkg/errors"
)

// EdgeParams are the scalar inputs to edge computation.
type EdgeParams struct {
	SlippageBps   float64
	LunoFee       float64
	BinanceFee    float64
	MinNetEdgeBps float64
}

// ComputeEdge evaluates one direction. Slippage is applied pessimistically:
// the buy leg pays above the ask, the sell leg receives below the bid. Buy
// and sell prices stay in the quote currency of their own venue; the gross
// edge is computed in USDT terms.
func ComputeEdge(d core.Direction, luno, binance core.PriceQuote, usdtZar float64, p EdgeParams) core.EdgeResult {
	s := p.SlippageBps / 10000

	var buy, sell, gross float64
	var buyEx, sellEx string

	if d == core.DirectionLunoToBinance {
		buyEx, sellEx = "luno", "binance"
		buy = luno.Ask * (1 + s)
		sell = binance.Bid * (1 - s)
		buyUSD := buy / usdtZar
		gross = (sell - buyUSD) / buyUSD
	} else {
		buyEx, sellEx = "binance", "luno"
		buy = binance.Ask * (1 + s)
		sell = luno.Bid * (1 - s)
		sellUSD := sell / usdtZar
		gross = (sellUSD - buy) / buy
	}

	grossBps := gross * 10000
	netBps := grossBps - (p.LunoFee+p.BinanceFee)*10000

	return core.EdgeResult{
		Direction:    d,
		BuyExchange:  buyEx,
		SellExchange: sellEx,
		BuyPrice:     buy,
		SellPrice:    sell,
		SpreadPct:    gross * 100,
		GrossEdgeBps: grossBps,
		NetEdgeBps:   netBps,
		Profitable:   netBps >= p.MinNetEdgeBps,
	}
}

// ComputeEdges evaluates both directions. A zero last price on either venue
// means the feed is broken; no edge is trusted in that case.
func ComputeEdges(luno, binance core.PriceQuote, usdtZar float64, p EdgeParams) (lunoToBinance, binanceToLuno core.EdgeResult, err error) {
	if luno.Last == 0 || binance.Last == 0 {
		return core.EdgeResult{}, core.EdgeResult{},
			fmt.Errorf("%w: luno_last=%v binance_last=%v", apperrors.ErrNoPrice, luno.Last, binance.Last)
	}
	if usdtZar <= 0 {
		return core.EdgeResult{}, core.EdgeResult{},
			fmt.Errorf("%w: usdt_zar=%v", apperrors.ErrFXUnavailable, usdtZar)
	}

	lunoToBinance = ComputeEdge(core.DirectionLunoToBinance, luno, binance, usdtZar, p)
	binanceToLuno = ComputeEdge(core.DirectionBinanceToLuno, luno, binance, usdtZar, p)
	return lunoToBinance, binanceToLuno, nil
}

// BestEdge picks the direction with the higher net edge. Ties go to
// luno_to_binance.
func BestEdge(lunoToBinance, binanceToLuno core.EdgeResult) core.EdgeResult {
	if binanceToLuno.NetEdgeBps > lunoToBinance.NetEdgeBps {
		return binanceToLuno
	}
	return lunoToBinance
}
