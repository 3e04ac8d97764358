// Package server exposes the control and reporting HTTP API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/engine"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultReportLimit = 100

// EngineControl is the slice of the engine the API drives.
type EngineControl interface {
	Start(ctx context.Context) error
	Stop()
	State() engine.State
	Status() engine.Status
	ResetFloats()
}

// Server serves the bot's REST API, health check and Prometheus metrics.
type Server struct {
	engine     EngineControl
	store      core.IStore
	cfg        *config.Config
	logger     core.ILogger
	priceStats func() interface{}

	mu  sync.Mutex
	srv *http.Server
}

// NewServer wires the API. priceStats may be nil when no feed is attached.
func NewServer(cfg *config.Config, eng EngineControl, store core.IStore, priceStats func() interface{}, logger core.ILogger) *Server {
	return &Server{
		engine:     eng,
		store:      store,
		cfg:        cfg,
		logger:     logger.WithField("component", "server"),
		priceStats: priceStats,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("POST /floats/reset", s.handleFloatsReset)

	mux.HandleFunc("GET /floats", s.handleFloats)
	mux.HandleFunc("GET /reports/trades", s.handleTrades)
	mux.HandleFunc("GET /reports/opportunities", s.handleOpportunities)
	mux.HandleFunc("GET /reports/pnl", s.handlePnL)
	mux.HandleFunc("GET /reports/summary", s.handleSummary)
	mux.HandleFunc("GET /ticks", s.handleTicks)
	mux.HandleFunc("GET /ticks/stats", s.handleTickStats)

	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("POST /config", s.handlePostConfig)

	return mux
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.mu.Unlock()

	s.logger.Info("starting api server", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping api server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "cryptarb",
		"mode":    s.cfg.App.Mode,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"state":  s.engine.State(),
		"time":   time.Now().UTC().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"engine": s.engine.Status(),
	}
	if s.priceStats != nil {
		payload["price_service"] = s.priceStats()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"started": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
}

func (s *Server) handleFloatsReset(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetFloats()
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": true})
}

func (s *Server) handleFloats(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.FloatBalances(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balances": rows})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.RecentTrades(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, err := s.store.RecentOpportunities(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"opportunities": opps})
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.PnLHistory(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	latest, found, err := s.store.LatestPnL(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := map[string]interface{}{"history": history}
	if found {
		payload["latest"] = latest
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.TradeSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	ticks, err := s.store.RecentTicks(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticks": ticks})
}

func (s *Server) handleTickStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TickStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	// Secrets are masked by their own marshaller.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"app":     s.cfg.App,
		"trading": s.cfg.Trading,
		"buffers": s.cfg.Buffers,
		"engine":  s.cfg.Engine,
	})
}

// ConfigUpdate is the tunable subset accepted by POST /config.
type ConfigUpdate struct {
	MinNetEdgeBps         *float64 `json:"min_net_edge_bps,omitempty"`
	SlippageBpsBuffer     *float64 `json:"slippage_bps_buffer,omitempty"`
	MaxTradeZAR           *float64 `json:"max_trade_zar,omitempty"`
	MaxTradeSizeBTC       *float64 `json:"max_trade_size_btc,omitempty"`
	MinTradeSizeBTC       *float64 `json:"min_trade_size_btc,omitempty"`
	KeepaliveThresholdBps *float64 `json:"keepalive_threshold_bps,omitempty"`
	RebalanceEnabled      *bool    `json:"rebalance_enabled,omitempty"`
	RebalanceTriggerCount *int     `json:"rebalance_trigger_count,omitempty"`
	RebalanceThresholdBps *float64 `json:"rebalance_threshold_bps,omitempty"`
	UpdatedBy             string   `json:"updated_by,omitempty"`
	Description           string   `json:"description,omitempty"`
}

// handlePostConfig applies a tunable subset of trading parameters and
// records a config history row. The engine reads trading parameters
// lock-free on its hot loop, so updates are only accepted while stopped.
func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	if s.engine.State() != engine.StateStopped {
		writeError(w, http.StatusConflict, "stop the engine before changing configuration")
		return
	}

	var update ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// Apply against a copy so a rejected update leaves config untouched.
	trading := s.cfg.Trading
	update.apply(&trading)
	candidate := *s.cfg
	candidate.Trading = trading
	if err := candidate.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.cfg.Trading = trading

	snapshot, err := json.Marshal(s.cfg.Trading)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	change := &core.ConfigChange{
		Timestamp:   time.Now().UTC(),
		ConfigJSON:  string(snapshot),
		UpdatedBy:   update.UpdatedBy,
		Description: update.Description,
	}
	if err := s.store.SaveConfigChange(r.Context(), change); err != nil {
		s.logger.Error("failed to persist config change", "error", err)
	}

	s.logger.Info("trading configuration updated", "updated_by", update.UpdatedBy)
	writeJSON(w, http.StatusOK, map[string]interface{}{"trading": s.cfg.Trading})
}

func (u ConfigUpdate) apply(t *config.TradingConfig) {
	if u.MinNetEdgeBps != nil {
		t.MinNetEdgeBps = *u.MinNetEdgeBps
	}
	if u.SlippageBpsBuffer != nil {
		t.SlippageBpsBuffer = *u.SlippageBpsBuffer
	}
	if u.MaxTradeZAR != nil {
		t.MaxTradeZAR = *u.MaxTradeZAR
	}
	if u.MaxTradeSizeBTC != nil {
		t.MaxTradeSizeBTC = *u.MaxTradeSizeBTC
	}
	if u.MinTradeSizeBTC != nil {
		t.MinTradeSizeBTC = *u.MinTradeSizeBTC
	}
	if u.KeepaliveThresholdBps != nil {
		t.KeepaliveThresholdBps = *u.KeepaliveThresholdBps
	}
	if u.RebalanceEnabled != nil {
		t.RebalanceEnabled = *u.RebalanceEnabled
	}
	if u.RebalanceTriggerCount != nil {
		t.RebalanceTriggerCount = *u.RebalanceTriggerCount
	}
	if u.RebalanceThresholdBps != nil {
		t.RebalanceThresholdBps = *u.RebalanceThresholdBps
	}
}

func queryLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultReportLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultReportLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
