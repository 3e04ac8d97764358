// Package bootstrap wires configuration, persistence, exchange clients and
// the trading engine into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/engine"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/exchange/binance"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/exchange/luno"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/fx"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/price"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/server"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/store"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/ticks"
	"github.com/DaleTiley-AirCapital/CryptArb/pkg/logging"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// App holds the wired application.
type App struct {
	Cfg    *config.Config
	Logger core.ILogger

	Store  *store.SQLiteStore
	Prices *price.Service
	Engine *engine.Engine
	Server *server.Server
}

// NewApp loads configuration and constructs every component. A non-empty
// configPath reads YAML; otherwise configuration comes from the environment.
func NewApp(configPath string) (*App, error) {
	// Secrets are commonly kept in a .env next to the binary.
	_ = godotenv.Load()

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if cfg.Database.ClearOnStartup {
		clearCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := st.Clear(clearCtx)
		cancel()
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("clear store: %w", err)
		}
		logger.Warn("cleared persisted state on startup")
	}

	lunoCfg := cfg.Exchanges["luno"]
	binanceCfg := cfg.Exchanges["binance"]
	lunoClient := luno.NewClient(&lunoCfg, logger)
	binanceClient := binance.NewClient(&binanceCfg, logger)

	// The primary Binance host is geo-blocked from some regions. Probe the
	// configured fallbacks once before anything depends on the client.
	probeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	baseURL := binanceClient.ResolveBaseURL(probeCtx)
	cancel()
	logger.Info("binance base url resolved", "base_url", baseURL)

	prices := price.NewService(cfg.Prices, lunoClient, logger)
	fxSvc := fx.NewService(cfg.FX, binanceClient, logger)
	pipeline := ticks.NewPipeline(cfg.Ticks, st, logger)
	eng := engine.NewEngine(cfg, prices, fxSvc, lunoClient, binanceClient, st, pipeline, logger)
	srv := server.NewServer(cfg, eng, st, func() interface{} { return prices.Stats() }, logger)

	return &App{
		Cfg:    cfg,
		Logger: logger,
		Store:  st,
		Prices: prices,
		Engine: eng,
		Server: srv,
	}, nil
}

// Run starts the engine and the API server and blocks until a termination
// signal arrives or the server fails. The engine may stop and be restarted
// over the API while the server keeps running.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.Info("starting application",
		"mode", a.Cfg.App.Mode,
		"addr", a.Cfg.Server.Addr)

	if err := a.Engine.Start(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Server.Start(gctx, a.Cfg.Server.Addr)
	})

	err := g.Wait()

	// The engine detaches from the caller's context so an API-driven stop
	// does not tear down the process; shut it down explicitly here.
	a.Engine.Stop()
	if cerr := a.Store.Close(); cerr != nil {
		a.Logger.Warn("closing store", "error", cerr)
	}

	if err != nil && err != context.Canceled {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}
	a.Logger.Info("application shut down gracefully")
	return nil
}
