package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"funding-arb-bot/internal/strategy"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	State     StateConfig     `yaml:"state"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Venue     VenueConfig     `yaml:"venue"`
	Bybit     BybitConfig     `yaml:"bybit"`
	Drift     DriftConfig     `yaml:"drift"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Summary   SummaryConfig   `yaml:"summary"`

	// Thresholds holds the percent settings converted to fractions. It is
	// filled once by Load and never changes afterwards.
	Thresholds strategy.Thresholds `yaml:"-"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	OutputPath string `yaml:"output_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	FundingRateThresholdPct       float64       `yaml:"funding_rate_threshold_pct"`
	PriceDeviationThresholdPct    float64       `yaml:"price_deviation_threshold_pct"`
	BalanceAdjustmentThresholdPct float64       `yaml:"balance_adjustment_threshold_pct"`
	PositionSizeUSD               float64       `yaml:"position_size_usd"`
	MaxPositionSizeUSD            float64       `yaml:"max_position_size_usd"`
	CheckInterval                 time.Duration `yaml:"check_interval"`
	ParallelLegs                  bool          `yaml:"parallel_legs"`
	DryRun                        bool          `yaml:"dry_run"`
}

type VenueConfig struct {
	CallTimeout      time.Duration `yaml:"call_timeout"`
	RequestsPerSec   float64       `yaml:"requests_per_sec"`
	Burst            int           `yaml:"burst"`
	BreakerFailures  uint          `yaml:"breaker_failures"`
	BreakerOpenDelay time.Duration `yaml:"breaker_open_delay"`
}

type BybitConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Testnet        bool          `yaml:"testnet"`
	Symbol         string        `yaml:"symbol"`
	APIKey         string        `yaml:"-"`
	APISecret      string        `yaml:"-"`
	RecvWindow     string        `yaml:"recv_window"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PriceMaxAge    time.Duration `yaml:"price_max_age"`
}

type DriftConfig struct {
	GatewayURL  string `yaml:"gateway_url"`
	DataAPIURL  string `yaml:"data_api_url"`
	Market      string `yaml:"market"`
	MarketIndex *int   `yaml:"market_index"`

	// OrderStepSize is the base-amount increment orders are rounded down to.
	OrderStepSize float64 `yaml:"order_step_size"`
}

func (d DriftConfig) MarketIndexValue() int {
	if d.MarketIndex == nil {
		return 1
	}
	return *d.MarketIndex
}

type TelegramConfig struct {
	// Enabled left unset turns delivery on when both token and chat id are present.
	Enabled    *bool  `yaml:"enabled"`
	Token      string `yaml:"token"`
	ChatID     string `yaml:"chat_id"`
	Workers    int    `yaml:"workers"`
	QueueSize  int    `yaml:"queue_size"`
	NotifyInfo bool   `yaml:"notify_info"`
}

func (t TelegramConfig) EnabledValue() bool {
	return t.Enabled != nil && *t.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type SummaryConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

func (s SummaryConfig) EnabledValue() bool {
	return s.Enabled != nil && *s.Enabled
}

// Load reads the YAML file at path (optional: a missing file leaves the
// defaults in place), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDerivedDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	cfg.Thresholds = thresholdsFrom(cfg.Strategy)
	return &cfg, nil
}

// applyDefaults fills zero values from the file before environment overrides,
// so an explicit zero in the environment reaches validate.
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/funding-arb-bot.db"
	}
	if cfg.Strategy.FundingRateThresholdPct == 0 {
		cfg.Strategy.FundingRateThresholdPct = 0.01
	}
	if cfg.Strategy.PriceDeviationThresholdPct == 0 {
		cfg.Strategy.PriceDeviationThresholdPct = 1.5
	}
	if cfg.Strategy.BalanceAdjustmentThresholdPct == 0 {
		cfg.Strategy.BalanceAdjustmentThresholdPct = 10
	}
	if cfg.Strategy.PositionSizeUSD == 0 {
		cfg.Strategy.PositionSizeUSD = 100
	}
	if cfg.Strategy.MaxPositionSizeUSD == 0 {
		cfg.Strategy.MaxPositionSizeUSD = 200
	}
	if cfg.Strategy.CheckInterval == 0 {
		cfg.Strategy.CheckInterval = time.Hour
	}
	if cfg.Venue.CallTimeout == 0 {
		cfg.Venue.CallTimeout = 15 * time.Second
	}
	if cfg.Venue.RequestsPerSec == 0 {
		cfg.Venue.RequestsPerSec = 5
	}
	if cfg.Venue.Burst == 0 {
		cfg.Venue.Burst = 5
	}
	if cfg.Venue.BreakerFailures == 0 {
		cfg.Venue.BreakerFailures = 5
	}
	if cfg.Venue.BreakerOpenDelay == 0 {
		cfg.Venue.BreakerOpenDelay = time.Minute
	}
	if cfg.Bybit.Symbol == "" {
		cfg.Bybit.Symbol = "BTCUSDT"
	}
	if cfg.Bybit.RecvWindow == "" {
		cfg.Bybit.RecvWindow = "5000"
	}
	if cfg.Bybit.ReconnectDelay == 0 {
		cfg.Bybit.ReconnectDelay = 3 * time.Second
	}
	if cfg.Bybit.PingInterval == 0 {
		cfg.Bybit.PingInterval = 20 * time.Second
	}
	if cfg.Bybit.PriceMaxAge == 0 {
		cfg.Bybit.PriceMaxAge = 30 * time.Second
	}
	if cfg.Drift.GatewayURL == "" {
		cfg.Drift.GatewayURL = "http://127.0.0.1:8080"
	}
	if cfg.Drift.DataAPIURL == "" {
		cfg.Drift.DataAPIURL = "https://data.api.drift.trade"
	}
	if cfg.Drift.Market == "" {
		cfg.Drift.Market = "BTC-PERP"
	}
	if cfg.Drift.MarketIndex == nil {
		// BTC-PERP
		index := 1
		cfg.Drift.MarketIndex = &index
	}
	if cfg.Drift.OrderStepSize == 0 {
		cfg.Drift.OrderStepSize = 0.0001
	}
	if cfg.Telegram.Workers == 0 {
		cfg.Telegram.Workers = 2
	}
	if cfg.Telegram.QueueSize == 0 {
		cfg.Telegram.QueueSize = 64
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Summary.Enabled == nil {
		enabled := true
		cfg.Summary.Enabled = &enabled
	}
	if cfg.Summary.Schedule == "" {
		cfg.Summary.Schedule = "@daily"
	}
}

// applyDerivedDefaults fills values that depend on settings the environment
// may have changed.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Bybit.BaseURL == "" {
		cfg.Bybit.BaseURL = "https://api.bybit.com"
		if cfg.Bybit.Testnet {
			cfg.Bybit.BaseURL = "https://api-testnet.bybit.com"
		}
	}
	if cfg.Bybit.WSURL == "" {
		cfg.Bybit.WSURL = "wss://stream.bybit.com/v5/public/linear"
		if cfg.Bybit.Testnet {
			cfg.Bybit.WSURL = "wss://stream-testnet.bybit.com/v5/public/linear"
		}
	}
	if cfg.Telegram.Enabled == nil {
		enabled := strings.TrimSpace(cfg.Telegram.Token) != "" && strings.TrimSpace(cfg.Telegram.ChatID) != ""
		cfg.Telegram.Enabled = &enabled
	}
}

func validate(cfg *Config) error {
	s := cfg.Strategy
	if s.FundingRateThresholdPct <= 0 {
		return errors.New("strategy.funding_rate_threshold_pct must be > 0")
	}
	if s.PriceDeviationThresholdPct <= 0 {
		return errors.New("strategy.price_deviation_threshold_pct must be > 0")
	}
	if s.BalanceAdjustmentThresholdPct <= 0 {
		return errors.New("strategy.balance_adjustment_threshold_pct must be > 0")
	}
	if s.PositionSizeUSD <= 0 {
		return errors.New("strategy.position_size_usd must be > 0")
	}
	if s.MaxPositionSizeUSD > 0 && s.PositionSizeUSD > s.MaxPositionSizeUSD {
		return errors.New("strategy.position_size_usd exceeds strategy.max_position_size_usd")
	}
	if s.CheckInterval <= 0 {
		return errors.New("strategy.check_interval must be > 0")
	}
	if cfg.Venue.CallTimeout < 0 || cfg.Venue.RequestsPerSec < 0 || cfg.Venue.Burst < 0 {
		return errors.New("venue limits must be >= 0")
	}
	if cfg.Bybit.Symbol == "" {
		return errors.New("bybit.symbol is required")
	}
	if !s.DryRun && (cfg.Bybit.APIKey == "" || cfg.Bybit.APISecret == "") {
		return errors.New("BYBIT_API_KEY and BYBIT_API_SECRET are required unless dry_run is set")
	}
	if cfg.Drift.Market == "" {
		return errors.New("drift.market is required")
	}
	if cfg.Drift.MarketIndexValue() < 0 {
		return errors.New("drift.market_index must be >= 0")
	}
	if cfg.Metrics.EnabledValue() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.EnabledValue() && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

func thresholdsFrom(s StrategyConfig) strategy.Thresholds {
	return strategy.Thresholds{
		FundingRate:       s.FundingRateThresholdPct / 100,
		PriceDeviation:    s.PriceDeviationThresholdPct / 100,
		BalanceAdjustment: s.BalanceAdjustmentThresholdPct / 100,
	}
}
