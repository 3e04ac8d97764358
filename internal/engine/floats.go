package engine

import (
	"math"
	"sync"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
)

// FloatSet is one balance per leg currency.
type FloatSet struct {
	LunoZAR     float64
	LunoBTC     float64
	BinanceBTC  float64
	BinanceUSDT float64
}

// Floats tracks the simulated inventory on both venues in paper mode.
// Safety buffers carve a floor out of each balance so a trade can never
// fully drain a leg.
type Floats struct {
	mu          sync.Mutex
	trading     config.TradingConfig
	buffers     config.BuffersConfig
	balances    FloatSet
	initialized bool
}

// NewFloats creates an uninitialised inventory tracker. Balances are seeded
// from the first valid Luno price via Initialize.
func NewFloats(trading config.TradingConfig, buffers config.BuffersConfig) *Floats {
	return &Floats{trading: trading, buffers: buffers}
}

// Initialize seeds the paper book once: the full ZAR budget on Luno and its
// BTC equivalent on Binance, so either direction can open. No-op after the
// first call until Reset.
func (f *Floats) Initialize(lunoLast float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized || lunoLast <= 0 {
		return false
	}
	f.balances = FloatSet{
		LunoZAR:    f.trading.MaxTradeZAR,
		BinanceBTC: f.trading.MaxTradeZAR / lunoLast,
	}
	f.initialized = true
	return true
}

// SetConfig swaps the sizing parameters while preserving balances. Only
// called with the engine stopped, where config changes are applied.
func (f *Floats) SetConfig(trading config.TradingConfig, buffers config.BuffersConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trading = trading
	f.buffers = buffers
}

// Initialized reports whether the paper book has been seeded.
func (f *Floats) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

// Reset clears the book. It re-initialises on the next price check.
func (f *Floats) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances = FloatSet{}
	f.initialized = false
}

// Balances returns a copy of the current book.
func (f *Floats) Balances() FloatSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances
}

// Tradeable returns the per-currency amounts above the safety buffers.
func (f *Floats) Tradeable() FloatSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tradeableLocked()
}

func (f *Floats) tradeableLocked() FloatSet {
	return FloatSet{
		LunoZAR:     math.Max(0, f.balances.LunoZAR-f.buffers.LunoZAR),
		LunoBTC:     math.Max(0, f.balances.LunoBTC-f.buffers.LunoBTC),
		BinanceBTC:  math.Max(0, f.balances.BinanceBTC-f.buffers.BinanceBTC),
		BinanceUSDT: math.Max(0, f.balances.BinanceUSDT-f.buffers.BinanceUSDT),
	}
}

// CanExecute reports whether both legs of a direction have tradeable
// inventory, with a human-readable reason when blocked.
func (f *Floats) CanExecute(d core.Direction) (bool, string) {
	t := f.Tradeable()

	if d == core.DirectionLunoToBinance {
		if t.BinanceBTC <= 0 {
			return false, "insufficient BTC on Binance (below safety buffer)"
		}
		if t.LunoZAR <= 0 {
			return false, "insufficient ZAR on Luno (below safety buffer)"
		}
		return true, ""
	}

	if t.LunoBTC <= 0 {
		return false, "insufficient BTC on Luno (below safety buffer)"
	}
	if t.BinanceUSDT <= 0 {
		return false, "insufficient USDT on Binance (below safety buffer)"
	}
	return true, ""
}

// TradeSize computes the BTC amount for a trade in direction d, bounded by
// the ZAR budget, the hard BTC cap and both-leg availability. Returns zero
// when the clamped size falls under the minimum.
func (f *Floats) TradeSize(d core.Direction, lunoLast, binanceLast float64) (btc, zar float64) {
	if lunoLast <= 0 {
		return 0, 0
	}

	btc = math.Min(f.trading.MaxTradeZAR/lunoLast, f.trading.MaxTradeSizeBTC)

	t := f.Tradeable()
	if d == core.DirectionLunoToBinance {
		btc = math.Min(btc, t.BinanceBTC)
		btc = math.Min(btc, t.LunoZAR/lunoLast)
	} else {
		btc = math.Min(btc, t.LunoBTC)
		if binanceLast > 0 {
			btc = math.Min(btc, t.BinanceUSDT/binanceLast)
		}
	}

	if btc < f.trading.MinTradeSizeBTC {
		return 0, 0
	}
	return btc, btc * lunoLast
}

// Apply mutates the book for one executed paper trade. Fees are taken on
// the receiving side of each leg.
func (f *Floats) Apply(d core.Direction, btc, zar, binancePrice, lunoFee, binanceFee float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if d == core.DirectionLunoToBinance {
		f.balances.LunoZAR -= zar
		f.balances.LunoBTC += btc * (1 - lunoFee)
		f.balances.BinanceBTC -= btc
		f.balances.BinanceUSDT += btc * binancePrice * (1 - binanceFee)
	} else {
		f.balances.BinanceUSDT -= btc * binancePrice
		f.balances.BinanceBTC += btc * (1 - binanceFee)
		f.balances.LunoBTC -= btc
		f.balances.LunoZAR += zar * (1 - lunoFee)
	}
}
