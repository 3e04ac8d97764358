package engine

import (
	"sync"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
)

// Decision is the selector's verdict for one iteration.
type Decision struct {
	Execute    bool
	TradeType  core.TradeType
	Edge       core.EdgeResult
	SkipReason string
}

// Selector decides which direction (if any) to trade. It keeps the
// directional streak counter used to arm rebalancing, and enforces the
// inter-trade cooldown.
//
// Keepalive trades re-mint inventory on a blocked side by trading the
// opposite direction at a small acceptable loss, avoiding a real BTC
// transfer between venues. Rebalancing does the same at a deeper loss
// bound, but only after a long one-sided streak.
type Selector struct {
	mu  sync.Mutex
	cfg config.TradingConfig
	now func() time.Time

	lastProfitableDirection core.Direction
	consecutiveSame         int
	rebalanceArmed          bool
	lastTradeTime           time.Time
}

// NewSelector creates a selector with the given trading parameters.
func NewSelector(cfg config.TradingConfig) *Selector {
	return &Selector{cfg: cfg, now: time.Now}
}

// Select applies the selection rules to the two directional edges.
// Live mode only ever takes the plain profitable path.
func (s *Selector) Select(lunoToBinance, binanceToLuno core.EdgeResult, floats *Floats, live bool) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := BestEdge(lunoToBinance, binanceToLuno)
	opposite := binanceToLuno
	if best.Direction == core.DirectionBinanceToLuno {
		opposite = lunoToBinance
	}

	if best.Profitable {
		if s.lastProfitableDirection == best.Direction {
			s.consecutiveSame++
		} else {
			s.consecutiveSame = 1
		}
		s.lastProfitableDirection = best.Direction
		if s.cfg.RebalanceEnabled && s.consecutiveSame >= s.cfg.RebalanceTriggerCount {
			s.rebalanceArmed = true
		}
	}

	if !best.Profitable {
		if d, ok := s.rebalanceLocked(opposite, floats); ok {
			return d
		}
		return Decision{Edge: best}
	}

	if !s.cooldownElapsedLocked() {
		return Decision{Edge: best, SkipReason: "cooldown"}
	}

	// Rule 1: profitable and executable.
	if live {
		// Live inventory is checked at the venues, not here.
		return Decision{Execute: true, TradeType: core.TradeTypeProfitable, Edge: best}
	}
	ok, reason := floats.CanExecute(best.Direction)
	if ok {
		return Decision{Execute: true, TradeType: core.TradeTypeProfitable, Edge: best}
	}

	// Rule 2: blocked side, executable opposite at an acceptable loss.
	if oppOK, _ := floats.CanExecute(opposite.Direction); oppOK &&
		opposite.NetEdgeBps >= s.cfg.KeepaliveThresholdBps {
		return Decision{Execute: true, TradeType: core.TradeTypeKeepalive, Edge: opposite}
	}

	// Rule 3: armed rebalance.
	if d, armed := s.rebalanceLocked(opposite, floats); armed {
		return d
	}

	return Decision{Edge: best, SkipReason: reason}
}

// rebalanceLocked evaluates rule 3. Caller holds s.mu.
func (s *Selector) rebalanceLocked(opposite core.EdgeResult, floats *Floats) (Decision, bool) {
	if !s.cfg.RebalanceEnabled || !s.rebalanceArmed {
		return Decision{}, false
	}
	if opposite.NetEdgeBps < s.cfg.RebalanceThresholdBps {
		return Decision{}, false
	}
	if ok, _ := floats.CanExecute(opposite.Direction); !ok {
		return Decision{}, false
	}
	if !s.cooldownElapsedLocked() {
		return Decision{Edge: opposite, SkipReason: "cooldown"}, true
	}
	return Decision{Execute: true, TradeType: core.TradeTypeRebalance, Edge: opposite}, true
}

func (s *Selector) cooldownElapsedLocked() bool {
	if s.lastTradeTime.IsZero() {
		return true
	}
	interval := time.Duration(s.cfg.MinTradeIntervalSec * float64(time.Second))
	return s.now().Sub(s.lastTradeTime) >= interval
}

// MarkExecuted records a completed trade: starts the cooldown window and
// disarms rebalancing once a rebalance has gone through.
func (s *Selector) MarkExecuted(tradeType core.TradeType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTradeTime = s.now()
	if tradeType == core.TradeTypeRebalance {
		s.rebalanceArmed = false
		s.consecutiveSame = 0
	}
}

// Streak returns the directional streak state for status reporting.
func (s *Selector) Streak() (direction core.Direction, count int, armed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProfitableDirection, s.consecutiveSame, s.rebalanceArmed
}
