// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig                 `yaml:"app"`
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
	Trading   TradingConfig             `yaml:"trading"`
	Buffers   BuffersConfig             `yaml:"buffers"`
	Prices    PricesConfig              `yaml:"prices"`
	FX        FXConfig                  `yaml:"fx"`
	Ticks     TicksConfig               `yaml:"ticks"`
	Engine    EngineConfig              `yaml:"engine"`
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Mode     string `yaml:"mode"` // "paper" or "live"
	LogLevel string `yaml:"log_level"`
}

// ExchangeConfig contains venue-specific configuration
type ExchangeConfig struct {
	APIKey       Secret   `yaml:"api_key"`
	APISecret    Secret   `yaml:"api_secret"`
	BaseURL      string   `yaml:"base_url"`
	FallbackURLs []string `yaml:"fallback_urls"`
	Pair         string   `yaml:"pair"`
	FeeRate      float64  `yaml:"fee_rate"`
}

// TradingConfig contains the edge and sizing parameters
type TradingConfig struct {
	MinNetEdgeBps         float64 `yaml:"min_net_edge_bps"`
	SlippageBpsBuffer     float64 `yaml:"slippage_bps_buffer"`
	MaxTradeZAR           float64 `yaml:"max_trade_zar"`
	MaxTradeSizeBTC       float64 `yaml:"max_trade_size_btc"`
	MinTradeSizeBTC       float64 `yaml:"min_trade_size_btc"`
	KeepaliveThresholdBps float64 `yaml:"keepalive_threshold_bps"`
	RebalanceEnabled      bool    `yaml:"rebalance_enabled"`
	RebalanceTriggerCount int     `yaml:"rebalance_trigger_count"`
	RebalanceThresholdBps float64 `yaml:"rebalance_threshold_bps"`
	MinTradeIntervalSec   float64 `yaml:"min_trade_interval_sec"`
}

// BuffersConfig contains the per-currency safety floors for sizing
type BuffersConfig struct {
	LunoZAR     float64 `yaml:"luno_zar"`
	LunoBTC     float64 `yaml:"luno_btc"`
	BinanceBTC  float64 `yaml:"binance_btc"`
	BinanceUSDT float64 `yaml:"binance_usdt"`
}

// PricesConfig contains the price service settings
type PricesConfig struct {
	BinanceWSURL      string  `yaml:"binance_ws_url"`
	LunoPollIntervalS float64 `yaml:"luno_poll_interval_sec"`
	MaxAgeSec         float64 `yaml:"max_age_sec"`
}

// FXConfig contains FX rate service settings
type FXConfig struct {
	USDZARTTLSec   float64 `yaml:"usd_zar_ttl_sec"`
	USDTUSDTTLSec  float64 `yaml:"usdt_usd_ttl_sec"`
	FallbackUSDZAR float64 `yaml:"fallback_usd_zar"`
}

// TicksConfig contains tick pipeline settings
type TicksConfig struct {
	RingSize      int `yaml:"ring_size"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// EngineConfig contains orchestrator settings
type EngineConfig struct {
	CheckIntervalMs  int `yaml:"check_interval_ms"`
	WarmupSec        int `yaml:"warmup_sec"`
	ErrorStopCount   int `yaml:"error_stop_count"`
	BalanceSyncEvery int `yaml:"balance_sync_every"`
	HeartbeatEvery   int `yaml:"heartbeat_every"`
}

// ServerConfig contains the HTTP API settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig contains persistence settings
type DatabaseConfig struct {
	Path           string `yaml:"path"`
	ClearOnStartup bool   `yaml:"clear_on_startup"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// FromEnv builds a configuration from defaults and the flat environment
// keys alone, so the binary can run without a YAML file.
func FromEnv() (*Config, error) {
	config := DefaultConfig()
	config.ApplyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// ApplyEnvOverrides applies the flat environment keys on top of the file
// configuration. Env always wins so a deployment can be retuned without
// editing YAML.
func (c *Config) ApplyEnvOverrides() {
	envString(&c.App.Mode, "MODE")
	envString(&c.App.LogLevel, "LOG_LEVEL")

	if luno, ok := c.Exchanges["luno"]; ok {
		envSecret(&luno.APIKey, "LUNO_API_KEY")
		envSecret(&luno.APISecret, "LUNO_API_SECRET")
		envFloat(&luno.FeeRate, "LUNO_TRADING_FEE")
		c.Exchanges["luno"] = luno
	}
	if binance, ok := c.Exchanges["binance"]; ok {
		envSecret(&binance.APIKey, "BINANCE_API_KEY")
		envSecret(&binance.APISecret, "BINANCE_API_SECRET")
		envFloat(&binance.FeeRate, "BINANCE_TRADING_FEE")
		envString(&binance.BaseURL, "BINANCE_BASE_URL")
		c.Exchanges["binance"] = binance
	}

	envFloat(&c.Trading.MinNetEdgeBps, "MIN_NET_EDGE_BPS")
	envFloat(&c.Trading.SlippageBpsBuffer, "SLIPPAGE_BPS_BUFFER")
	envFloat(&c.Trading.MaxTradeZAR, "MAX_TRADE_ZAR")
	envFloat(&c.Trading.MaxTradeSizeBTC, "MAX_TRADE_SIZE_BTC")
	envFloat(&c.Trading.MinTradeSizeBTC, "MIN_TRADE_SIZE_BTC")
	envFloat(&c.Trading.KeepaliveThresholdBps, "KEEPALIVE_THRESHOLD_BPS")
	envBool(&c.Trading.RebalanceEnabled, "REBALANCE_ENABLED")
	envInt(&c.Trading.RebalanceTriggerCount, "REBALANCE_TRIGGER_COUNT")
	envFloat(&c.Trading.RebalanceThresholdBps, "REBALANCE_THRESHOLD_BPS")

	envFloat(&c.Buffers.LunoZAR, "MIN_REMAINING_ZAR_LUNO")
	envFloat(&c.Buffers.LunoBTC, "MIN_REMAINING_BTC_LUNO")
	envFloat(&c.Buffers.BinanceBTC, "MIN_REMAINING_BTC_BINANCE")
	envFloat(&c.Buffers.BinanceUSDT, "MIN_REMAINING_USDT_BINANCE")

	envInt(&c.Engine.ErrorStopCount, "ERROR_STOP_COUNT")

	envString(&c.Server.Addr, "API_ADDR")
	envString(&c.Database.Path, "DATABASE_PATH")
	envBool(&c.Database.ClearOnStartup, "CLEAR_DB_ON_STARTUP")
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateExchanges(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTradingConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateEngineConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validModes := []string{"paper", "live"}
	if !contains(validModes, strings.ToLower(c.App.Mode)) {
		return ValidationError{
			Field:   "app.mode",
			Value:   c.App.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateExchanges() error {
	for _, name := range []string{"luno", "binance"} {
		ex, exists := c.Exchanges[name]
		if !exists {
			return ValidationError{
				Field:   "exchanges." + name,
				Message: "exchange configuration is required",
			}
		}
		if ex.Pair == "" {
			return ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.pair", name),
				Message: "trading pair is required",
			}
		}
		if ex.FeeRate < 0 || ex.FeeRate >= 1 {
			return ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.fee_rate", name),
				Value:   ex.FeeRate,
				Message: "fee rate must be in [0, 1)",
			}
		}
	}

	// Live mode requires credentials on both venues. Paper mode runs
	// read-only against public endpoints.
	if strings.ToLower(c.App.Mode) == "live" {
		for _, name := range []string{"luno", "binance"} {
			ex := c.Exchanges[name]
			if ex.APIKey == "" || ex.APISecret == "" {
				return ValidationError{
					Field:   fmt.Sprintf("exchanges.%s.api_key", name),
					Message: "credentials are required in live mode",
				}
			}
		}
	}

	return nil
}

func (c *Config) validateTradingConfig() error {
	if c.Trading.MaxTradeZAR <= 0 {
		return ValidationError{
			Field:   "trading.max_trade_zar",
			Value:   c.Trading.MaxTradeZAR,
			Message: "max trade value must be positive",
		}
	}
	if c.Trading.MaxTradeSizeBTC <= 0 {
		return ValidationError{
			Field:   "trading.max_trade_size_btc",
			Value:   c.Trading.MaxTradeSizeBTC,
			Message: "max trade size must be positive",
		}
	}
	if c.Trading.MinTradeSizeBTC < 0 || c.Trading.MinTradeSizeBTC > c.Trading.MaxTradeSizeBTC {
		return ValidationError{
			Field:   "trading.min_trade_size_btc",
			Value:   c.Trading.MinTradeSizeBTC,
			Message: "min trade size must be non-negative and below max trade size",
		}
	}
	if c.Trading.SlippageBpsBuffer < 0 {
		return ValidationError{
			Field:   "trading.slippage_bps_buffer",
			Value:   c.Trading.SlippageBpsBuffer,
			Message: "slippage buffer cannot be negative",
		}
	}
	if c.Trading.RebalanceTriggerCount < 1 {
		return ValidationError{
			Field:   "trading.rebalance_trigger_count",
			Value:   c.Trading.RebalanceTriggerCount,
			Message: "trigger count must be at least 1",
		}
	}
	return nil
}

func (c *Config) validateEngineConfig() error {
	if c.Engine.CheckIntervalMs <= 0 {
		return ValidationError{
			Field:   "engine.check_interval_ms",
			Value:   c.Engine.CheckIntervalMs,
			Message: "check interval must be positive",
		}
	}
	if c.Engine.ErrorStopCount < 1 {
		return ValidationError{
			Field:   "engine.error_stop_count",
			Value:   c.Engine.ErrorStopCount,
			Message: "error stop count must be at least 1",
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envSecret(dst *Secret, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = Secret(v)
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			*dst = b
		}
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the default configuration. Tests and LoadConfig both
// start from here so unset YAML keys inherit sane values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Mode:     "paper",
			LogLevel: "INFO",
		},
		Exchanges: map[string]ExchangeConfig{
			"luno": {
				BaseURL: "https://api.luno.com/api/1",
				Pair:    "XBTZAR",
				FeeRate: 0.001,
			},
			"binance": {
				BaseURL: "https://api.binance.com",
				FallbackURLs: []string{
					"https://api1.binance.com",
					"https://api2.binance.com",
					"https://api3.binance.com",
					"https://api4.binance.com",
				},
				Pair:    "BTCUSDT",
				FeeRate: 0.001,
			},
		},
		Trading: TradingConfig{
			MinNetEdgeBps:         40,
			SlippageBpsBuffer:     10,
			MaxTradeZAR:           5000,
			MaxTradeSizeBTC:       0.01,
			MinTradeSizeBTC:       0.0001,
			KeepaliveThresholdBps: -20,
			RebalanceEnabled:      true,
			RebalanceTriggerCount: 10,
			RebalanceThresholdBps: -50,
			MinTradeIntervalSec:   2.0,
		},
		Buffers: BuffersConfig{
			LunoZAR:     1000,
			LunoBTC:     0.0005,
			BinanceBTC:  0.001,
			BinanceUSDT: 50,
		},
		Prices: PricesConfig{
			BinanceWSURL:      "wss://stream.binance.com:9443/ws/btcusdt@bookTicker",
			LunoPollIntervalS: 1.0,
			MaxAgeSec:         5.0,
		},
		FX: FXConfig{
			USDZARTTLSec:   300,
			USDTUSDTTLSec:  60,
			FallbackUSDZAR: 17.0,
		},
		Ticks: TicksConfig{
			RingSize:      6,
			QueueCapacity: 100,
		},
		Engine: EngineConfig{
			CheckIntervalMs:  500,
			WarmupSec:        2,
			ErrorStopCount:   5,
			BalanceSyncEvery: 60,
			HeartbeatEvery:   120,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path:           "arbbot.db",
			ClearOnStartup: false,
		},
	}
}
