// Package fx resolves the USD/ZAR and USDT/USD rates used to compare a
// ZAR-quoted leg with a USDT-quoted leg.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	apperrors "github.com/DaleTiley-AirCapital/CryptArb/pkg/errors"
	pkghttp "github.com/DaleTiley-AirCapital/CryptArb/pkg/http"
	"github.com/DaleTiley-AirCapital/CryptArb/pkg/telemetry"
)

// TickerSource serves spot prices for stablecoin crosses. Satisfied by the
// Binance client.
type TickerSource interface {
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
}

// provider is one public USD/ZAR rate source.
type provider struct {
	name   string
	client *pkghttp.Client
	path   string
}

// Service caches FX rates with per-rate TTLs. USD/ZAR is probed across
// public providers in fixed order; USDT/USD is proxied through venue B's
// stablecoin tickers.
type Service struct {
	cfg    config.FXConfig
	ticker TickerSource
	logger core.ILogger

	providers []provider

	mu             sync.Mutex
	usdZAR         float64
	usdZARFetched  time.Time
	usdtUSD        float64
	usdtUSDFetched time.Time

	now func() time.Time
}

// NewService creates the FX rate service with the standard provider chain.
func NewService(cfg config.FXConfig, ticker TickerSource, logger core.ILogger) *Service {
	return &Service{
		cfg:    cfg,
		ticker: ticker,
		logger: logger.WithField("component", "fx"),
		providers: []provider{
			{
				name:   "exchangerate-api",
				client: pkghttp.NewClient("https://api.exchangerate-api.com", 5*time.Second, nil),
				path:   "/v4/latest/USD",
			},
			{
				name:   "frankfurter",
				client: pkghttp.NewClient("https://api.frankfurter.app", 5*time.Second, nil),
				path:   "/latest?from=USD&to=ZAR",
			},
			{
				name:   "open-er-api",
				client: pkghttp.NewClient("https://open.er-api.com", 5*time.Second, nil),
				path:   "/v6/latest/USD",
			},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// USDZAR returns a cached USD/ZAR rate if fresh, else probes the providers
// in order. On total failure it returns the stale cache, then the hard-coded
// fallback.
func (s *Service) USDZAR(ctx context.Context) (float64, error) {
	s.mu.Lock()
	ttl := time.Duration(s.cfg.USDZARTTLSec * float64(time.Second))
	if s.usdZAR > 0 && s.now().Sub(s.usdZARFetched) < ttl {
		rate := s.usdZAR
		s.mu.Unlock()
		return rate, nil
	}
	s.mu.Unlock()

	if rate, ok := s.fetchLiveUSDZAR(ctx); ok {
		s.mu.Lock()
		s.usdZAR = rate
		s.usdZARFetched = s.now()
		s.mu.Unlock()
		telemetry.FXRate.WithLabelValues("usd_zar").Set(rate)
		return rate, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usdZAR > 0 {
		s.logger.Warn("using stale USD/ZAR rate", "rate", s.usdZAR, "age", s.now().Sub(s.usdZARFetched))
		return s.usdZAR, nil
	}

	s.logger.Warn("using fallback USD/ZAR rate", "rate", s.cfg.FallbackUSDZAR)
	return s.cfg.FallbackUSDZAR, nil
}

func (s *Service) fetchLiveUSDZAR(ctx context.Context) (float64, bool) {
	for _, p := range s.providers {
		rate, err := s.fetchZARRate(ctx, p)
		if err != nil {
			s.logger.Debug("FX provider failed", "provider", p.name, "error", err)
			continue
		}
		// Sanity band rejects parse glitches and inverted quotes.
		if rate <= 10 || rate >= 30 {
			s.logger.Warn("FX rate outside sanity band", "provider", p.name, "rate", rate)
			continue
		}
		s.logger.Info("live USD/ZAR rate fetched", "provider", p.name, "rate", rate)
		return rate, true
	}
	return 0, false
}

func (s *Service) fetchZARRate(ctx context.Context, p provider) (float64, error) {
	body, err := p.client.Get(ctx, p.path, nil)
	if err != nil {
		return 0, err
	}

	var raw struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("failed to parse rates: %w", err)
	}

	rate, ok := raw.Rates["ZAR"]
	if !ok || rate == 0 {
		return 0, apperrors.ErrFXUnavailable
	}
	return rate, nil
}

// USDTUSD proxies the USDT/USD rate via venue B's USDC/USDT ticker
// (usdt_usd = 1/price), falling back to FDUSD/USDT. Accounts for stablecoin
// depeg when translating USDT P&L to USD.
func (s *Service) USDTUSD(ctx context.Context) (float64, error) {
	s.mu.Lock()
	ttl := time.Duration(s.cfg.USDTUSDTTLSec * float64(time.Second))
	if s.usdtUSD > 0 && s.now().Sub(s.usdtUSDFetched) < ttl {
		rate := s.usdtUSD
		s.mu.Unlock()
		return rate, nil
	}
	s.mu.Unlock()

	for _, symbol := range []string{"USDCUSDT", "FDUSDUSDT"} {
		price, err := s.ticker.GetTickerPrice(ctx, symbol)
		if err != nil || price <= 0 {
			s.logger.Debug("stablecoin ticker failed", "symbol", symbol, "error", err)
			continue
		}
		rate := 1 / price
		s.mu.Lock()
		s.usdtUSD = rate
		s.usdtUSDFetched = s.now()
		s.mu.Unlock()
		telemetry.FXRate.WithLabelValues("usdt_usd").Set(rate)
		return rate, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usdtUSD > 0 {
		return s.usdtUSD, nil
	}

	// USDT trades close enough to par to be a safe last resort.
	return 1.0, nil
}

// USDTZAR composes usd_zar · usdt_usd. All edge math uses this rate.
func (s *Service) USDTZAR(ctx context.Context) (float64, error) {
	usdZAR, err := s.USDZAR(ctx)
	if err != nil {
		return 0, err
	}
	usdtUSD, err := s.USDTUSD(ctx)
	if err != nil {
		return 0, err
	}
	rate := usdZAR * usdtUSD
	telemetry.FXRate.WithLabelValues("usdt_zar").Set(rate)
	return rate, nil
}

// CachedUSDZAR returns the cached rate and its age without fetching.
func (s *Service) CachedUSDZAR() (float64, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usdZAR == 0 {
		return 0, 0, false
	}
	return s.usdZAR, s.now().Sub(s.usdZARFetched), true
}
