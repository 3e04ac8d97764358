// Package price maintains the live top-of-book snapshot for both venues.
package price

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/pkg/telemetry"
	"github.com/DaleTiley-AirCapital/CryptArb/pkg/websocket"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// LunoTicker fetches the ZAR-quoted leg's ticker. Satisfied by the Luno client.
type LunoTicker interface {
	GetPrice(ctx context.Context) (core.PriceQuote, error)
}

// Snapshot is a coherent copy of both sides of the book.
type Snapshot struct {
	Luno           core.PriceQuote
	Binance        core.PriceQuote
	LunoUpdatedAt  time.Time
	BinanceUpdated time.Time
}

// Ready reports whether both sides have ever been populated.
func (s Snapshot) Ready() bool {
	return !s.LunoUpdatedAt.IsZero() && !s.BinanceUpdated.IsZero()
}

// Fresh reports whether both sides were updated within maxAge of now.
func (s Snapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	if !s.Ready() {
		return false
	}
	return now.Sub(s.LunoUpdatedAt) < maxAge && now.Sub(s.BinanceUpdated) < maxAge
}

// Stats exposes the service's update counters.
type Stats struct {
	BinanceUpdates int64
	LunoUpdates    int64
	LunoErrors     int64
	WSReconnects   int64
	WSConnected    bool
	LunoAgeSec     float64
	BinanceAgeSec  float64
}

// Service runs the venue-B websocket streamer and the venue-A REST poller.
// Each task has exclusive write access to its side of the snapshot.
type Service struct {
	cfg    config.PricesConfig
	luno   LunoTicker
	logger core.ILogger

	ws      *websocket.Client
	limiter *rate.Limiter

	mu   sync.RWMutex
	snap Snapshot

	binanceUpdates int64
	lunoUpdates    int64
	lunoErrors     int64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewService creates the price service. Start must be called before quotes
// are available.
func NewService(cfg config.PricesConfig, luno LunoTicker, logger core.ILogger) *Service {
	s := &Service{
		cfg:    cfg,
		luno:   luno,
		logger: logger.WithField("component", "prices"),
		limiter: rate.NewLimiter(
			rate.Every(time.Duration(cfg.LunoPollIntervalS*float64(time.Second))), 1),
		now: func() time.Time { return time.Now().UTC() },
	}
	s.ws = websocket.NewClient(cfg.BinanceWSURL, s.handleBookTicker, s.logger)
	s.ws.SetPingConfig(20*time.Second, 10*time.Second, 60*time.Second)
	return s
}

// Start launches the streamer and the poller.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.ws.Start()

	s.wg.Add(1)
	go s.pollLuno(ctx)

	s.logger.Info("price service started",
		"ws_url", s.cfg.BinanceWSURL,
		"luno_poll_interval_s", s.cfg.LunoPollIntervalS)
}

// Stop cancels both tasks and closes the websocket.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.ws.Stop()
	s.wg.Wait()
	s.logger.Info("price service stopped")
}

// handleBookTicker applies one bookTicker push to the Binance side.
func (s *Service) handleBookTicker(message []byte) {
	var event struct {
		Bid    string `json:"b"`
		Ask    string `json:"a"`
		Symbol string `json:"s"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.Warn("unparseable bookTicker message", "error", err)
		return
	}
	if event.Bid == "" || event.Ask == "" {
		return
	}

	bid, err := decimal.NewFromString(event.Bid)
	if err != nil {
		return
	}
	ask, err := decimal.NewFromString(event.Ask)
	if err != nil {
		return
	}

	now := s.now()
	quote := core.PriceQuote{
		Bid:       bid.InexactFloat64(),
		Ask:       ask.InexactFloat64(),
		Last:      bid.Add(ask).Div(decimal.NewFromInt(2)).InexactFloat64(),
		Exchange:  "binance",
		Pair:      event.Symbol,
		Timestamp: now,
	}
	if !quote.Valid() {
		return
	}

	s.mu.Lock()
	s.snap.Binance = quote
	s.snap.BinanceUpdated = now
	s.binanceUpdates++
	s.mu.Unlock()
}

// pollLuno fetches the Luno ticker at the configured rate until cancelled.
func (s *Service) pollLuno(ctx context.Context) {
	defer s.wg.Done()

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		quote, err := s.luno.GetPrice(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			s.lunoErrors++
			s.mu.Unlock()
			s.logger.Warn("luno ticker poll failed", "error", err)
			continue
		}

		s.mu.Lock()
		s.snap.Luno = quote
		s.snap.LunoUpdatedAt = quote.Timestamp
		s.lunoUpdates++
		s.mu.Unlock()
	}
}

// Snapshot returns a coherent copy of both quotes.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// IsReady reports whether both sides have been populated.
func (s *Service) IsReady() bool {
	return s.Snapshot().Ready()
}

// LunoQuote implements core.IPriceSource.
func (s *Service) LunoQuote() (core.PriceQuote, bool) {
	snap := s.Snapshot()
	return snap.Luno, !snap.LunoUpdatedAt.IsZero()
}

// BinanceQuote implements core.IPriceSource.
func (s *Service) BinanceQuote() (core.PriceQuote, bool) {
	snap := s.Snapshot()
	return snap.Binance, !snap.BinanceUpdated.IsZero()
}

// Stats returns the update counters and quote ages.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	snap := s.snap
	stats := Stats{
		BinanceUpdates: s.binanceUpdates,
		LunoUpdates:    s.lunoUpdates,
		LunoErrors:     s.lunoErrors,
	}
	s.mu.RUnlock()

	stats.WSReconnects = s.ws.Reconnects()
	stats.WSConnected = s.ws.IsConnected()

	now := s.now()
	if !snap.LunoUpdatedAt.IsZero() {
		stats.LunoAgeSec = now.Sub(snap.LunoUpdatedAt).Seconds()
		telemetry.PriceAgeSeconds.WithLabelValues("luno").Set(stats.LunoAgeSec)
	}
	if !snap.BinanceUpdated.IsZero() {
		stats.BinanceAgeSec = now.Sub(snap.BinanceUpdated).Seconds()
		telemetry.PriceAgeSeconds.WithLabelValues("binance").Set(stats.BinanceAgeSec)
	}
	return stats
}
