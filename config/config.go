package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Venue identifiers used as keys in pair maps and fee tables
const (
	VenueBinance  = "binance"
	VenueCoinbase = "coinbase"
)

type Config struct {
	Pairs          map[string]PairConfig `json:"pairs"`
	VenueConfigs   VenueConfigs          `json:"venues"`
	TradingConfig  TradingConfig         `json:"trading"`
	StrategyConfig StrategyConfig        `json:"strategy"`
	SimConfig      SimulationConfig      `json:"simulation"`
	RiskConfig     RiskConfig            `json:"risk"`
	RetryConfig    RetryConfig           `json:"retry"`
	LoopConfig     LoopConfig            `json:"loop"`
	ReportConfig   ReportConfig          `json:"report"`
	LoggingConfig  LoggingConfig         `json:"logging"`
	ServerConfig   ServerConfig          `json:"server"`
	DatabaseConfig DatabaseConfig        `json:"database"`
	RedisConfig    RedisConfig           `json:"redis"`
	VaultConfig    VaultConfig           `json:"vault"`
}

// PairConfig maps a venue id to the venue-specific symbol of one pair
type PairConfig map[string]string

type VenueConfigs struct {
	Binance  VenueConfig `json:"binance"`
	Coinbase VenueConfig `json:"coinbase"`
}

type VenueConfig struct {
	Enabled       bool    `json:"enabled"`
	BaseURL       string  `json:"base_url"`
	QuoteCurrency string  `json:"quote_currency"` // USDT, USDC
	FeeRate       float64 `json:"fee_rate"`       // default taker fee when the venue query fails
	RateLimit     float64 `json:"rate_limit"`     // requests per second
	RateBurst     int     `json:"rate_burst"`
}

type TradingConfig struct {
	DryRun               bool    `json:"dry_run"`
	SimulatedMarket      bool    `json:"simulated_market"` // random-walk venues instead of REST adapters
	Timeframe            string  `json:"timeframe"`        // 1m, 5m ...
	CandleLimit          int     `json:"candle_limit"`     // history window length
	BalancePercentage    float64 `json:"balance_percentage"`
	SimulatedBalance     float64 `json:"simulated_balance"` // fixed baseline for sizing and the circuit breaker
	MinTradeAmount       float64 `json:"min_trade_amount"`
	TradeSizePercentage  float64 `json:"trade_size_percentage"`
	MaxPositionPercent   float64 `json:"max_position_percentage"`
	MinQuoteBalance      float64 `json:"min_quote_balance"`
	ScalpingVenue        string  `json:"scalping_venue"`
	PrimaryArbitrageSide string  `json:"primary_arbitrage_venue"`
}

type StrategyConfig struct {
	ArbitrageEnabled        bool    `json:"arbitrage_enabled"`
	ScalpingEnabled         bool    `json:"scalping_enabled"`
	CrossArbitrageThreshold float64 `json:"cross_arbitrage_threshold"`
	ScalpingThreshold       float64 `json:"scalping_threshold"`
	TriangularThreshold     float64 `json:"triangular_threshold"`
	SMAFast                 int     `json:"sma_fast"`
	SMASlow                 int     `json:"sma_slow"`
	VolatilityWindow        int     `json:"volatility_window"`
	ATRPeriod               int     `json:"atr_period"`
}

type SimulationConfig struct {
	LatencyMin      time.Duration `json:"latency_min"`
	LatencyMax      time.Duration `json:"latency_max"`
	FailureRate     float64       `json:"failure_rate"`
	PartialFillRate float64       `json:"partial_fill_rate"`
	Slippage        float64       `json:"slippage"`
	SlippageBandMin float64       `json:"slippage_band_min"`
	SlippageBandMax float64       `json:"slippage_band_max"`
}

type RiskConfig struct {
	PriceTTL                time.Duration `json:"price_ttl"`
	MinProfitMargin         float64       `json:"min_profit_margin"`
	CostSafetyFactor        float64       `json:"cost_safety_factor"`
	CircuitBreakerThreshold float64       `json:"circuit_breaker_threshold"` // fraction of SimulatedBalance
	StopLossPercentage      float64       `json:"stop_loss_percentage"`
}

type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
}

type LoopConfig struct {
	Interval       time.Duration `json:"interval"`
	WarmupInterval time.Duration `json:"warmup_interval"` // used until more than WarmupTrades trades completed
	WarmupTrades   int           `json:"warmup_trades"`
	FetchTimeout   time.Duration `json:"fetch_timeout"`
}

type ReportConfig struct {
	Directory string `json:"directory"`
	Schedule  string `json:"schedule"` // cron spec, e.g. "@every 1h"
	ToDB      bool   `json:"to_db"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	OperatorKeyHash string `json:"operator_key_hash"` // bcrypt hash guarding control routes
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the position mirror
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// DefaultPairs is the stock pair table: every USDT pair on both venues, ETH/BTC on binance only.
func DefaultPairs() map[string]PairConfig {
	return map[string]PairConfig{
		"BTC/USDT": {VenueBinance: "BTC/USDT", VenueCoinbase: "BTC-USDC"},
		"ETH/USDT": {VenueBinance: "ETH/USDT", VenueCoinbase: "ETH-USDC"},
		"XRP/USDT": {VenueBinance: "XRP/USDT", VenueCoinbase: "XRP-USDC"},
		"LTC/USDT": {VenueBinance: "LTC/USDT", VenueCoinbase: "LTC-USDC"},
		"BCH/USDT": {VenueBinance: "BCH/USDT", VenueCoinbase: "BCH-USDC"},
		"ETH/BTC":  {VenueBinance: "ETH/BTC"},
	}
}

// DefaultConfig returns the stock trading parameters
func DefaultConfig() *Config {
	return &Config{
		Pairs: DefaultPairs(),
		VenueConfigs: VenueConfigs{
			Binance: VenueConfig{
				Enabled:       true,
				BaseURL:       "https://api.binance.com",
				QuoteCurrency: "USDT",
				FeeRate:       0.00075,
				RateLimit:     10,
				RateBurst:     20,
			},
			Coinbase: VenueConfig{
				Enabled:       true,
				BaseURL:       "https://api.coinbase.com",
				QuoteCurrency: "USDC",
				FeeRate:       0.005,
				RateLimit:     5,
				RateBurst:     10,
			},
		},
		TradingConfig: TradingConfig{
			DryRun:               true,
			Timeframe:            "1m",
			CandleLimit:          200,
			BalancePercentage:    0.95,
			SimulatedBalance:     25,
			MinTradeAmount:       0.00005,
			TradeSizePercentage:  0.1,
			MaxPositionPercent:   0.10,
			MinQuoteBalance:      10.0,
			ScalpingVenue:        VenueBinance,
			PrimaryArbitrageSide: VenueBinance,
		},
		StrategyConfig: StrategyConfig{
			ArbitrageEnabled:        true,
			ScalpingEnabled:         true,
			CrossArbitrageThreshold: 0.001,
			ScalpingThreshold:       0.001,
			TriangularThreshold:     0.001,
			SMAFast:                 10,
			SMASlow:                 50,
			VolatilityWindow:        20,
			ATRPeriod:               14,
		},
		SimConfig: SimulationConfig{
			LatencyMin:      50 * time.Millisecond,
			LatencyMax:      200 * time.Millisecond,
			FailureRate:     0.01,
			PartialFillRate: 0.1,
			Slippage:        0.001,
			SlippageBandMin: 0.5,
			SlippageBandMax: 2.0,
		},
		RiskConfig: RiskConfig{
			PriceTTL:                60 * time.Second,
			MinProfitMargin:         0.002,
			CostSafetyFactor:        1.5,
			CircuitBreakerThreshold: 0.05,
			StopLossPercentage:      0.02,
		},
		RetryConfig: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
			Multiplier:  2.0,
		},
		LoopConfig: LoopConfig{
			Interval:       100 * time.Millisecond,
			WarmupInterval: 500 * time.Millisecond,
			WarmupTrades:   5,
			FetchTimeout:   15 * time.Second,
		},
		ReportConfig: ReportConfig{
			Directory: "hourly_report",
			Schedule:  "@every 1h",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		ServerConfig: ServerConfig{
			Enabled:         true,
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "trading_bot",
			Database: "trading_bot",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "trading-bot/venues",
		},
	}
}

func Load() (*Config, error) {
	// Defaults first, then the optional file, then the environment
	cfg := DefaultConfig()
	if path := getEnvOrDefault("CONFIG_FILE", "config.json"); path != "" {
		if err := loadFromFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Venue credentials are not read here; see internal/vault.
func applyEnvOverrides(cfg *Config) {
	t := &cfg.TradingConfig
	t.DryRun = getEnvBoolOrDefault("DRY_RUN", t.DryRun)
	t.SimulatedMarket = getEnvBoolOrDefault("SIMULATED_MARKET", t.SimulatedMarket)
	t.Timeframe = getEnvOrDefault("TIMEFRAME", t.Timeframe)
	t.CandleLimit = getEnvIntOrDefault("CANDLE_LIMIT", t.CandleLimit)
	t.BalancePercentage = getEnvFloatOrDefault("BALANCE_PERCENTAGE", t.BalancePercentage)
	t.SimulatedBalance = getEnvFloatOrDefault("SIMULATED_BALANCE", t.SimulatedBalance)
	t.MinTradeAmount = getEnvFloatOrDefault("MIN_TRADE_AMOUNT", t.MinTradeAmount)
	t.TradeSizePercentage = getEnvFloatOrDefault("TRADE_SIZE_PERCENTAGE", t.TradeSizePercentage)
	t.MaxPositionPercent = getEnvFloatOrDefault("MAX_POSITION_PERCENTAGE", t.MaxPositionPercent)
	t.MinQuoteBalance = getEnvFloatOrDefault("MIN_QUOTE_BALANCE", t.MinQuoteBalance)
	t.ScalpingVenue = getEnvOrDefault("SCALPING_VENUE", t.ScalpingVenue)

	v := &cfg.VenueConfigs
	v.Binance.Enabled = getEnvBoolOrDefault("BINANCE_ENABLED", v.Binance.Enabled)
	v.Binance.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", v.Binance.BaseURL)
	v.Binance.FeeRate = getEnvFloatOrDefault("FEE_RATE_BINANCE", v.Binance.FeeRate)
	v.Coinbase.Enabled = getEnvBoolOrDefault("COINBASE_ENABLED", v.Coinbase.Enabled)
	v.Coinbase.BaseURL = getEnvOrDefault("COINBASE_API_BASE", v.Coinbase.BaseURL)
	v.Coinbase.FeeRate = getEnvFloatOrDefault("FEE_RATE_COINBASE", v.Coinbase.FeeRate)

	s := &cfg.StrategyConfig
	s.ArbitrageEnabled = getEnvBoolOrDefault("ARBITRAGE_ENABLED", s.ArbitrageEnabled)
	s.ScalpingEnabled = getEnvBoolOrDefault("SCALPING_ENABLED", s.ScalpingEnabled)
	s.CrossArbitrageThreshold = getEnvFloatOrDefault("CROSS_ARBITRAGE_THRESHOLD", s.CrossArbitrageThreshold)
	s.ScalpingThreshold = getEnvFloatOrDefault("SCALPING_THRESHOLD", s.ScalpingThreshold)
	s.TriangularThreshold = getEnvFloatOrDefault("TRIANGULAR_THRESHOLD", s.TriangularThreshold)
	s.SMAFast = getEnvIntOrDefault("SMA_FAST", s.SMAFast)
	s.SMASlow = getEnvIntOrDefault("SMA_SLOW", s.SMASlow)
	s.VolatilityWindow = getEnvIntOrDefault("VOLATILITY_WINDOW", s.VolatilityWindow)
	s.ATRPeriod = getEnvIntOrDefault("ATR_PERIOD", s.ATRPeriod)

	sim := &cfg.SimConfig
	sim.LatencyMin = getEnvDurationOrDefault("LATENCY_MIN", sim.LatencyMin)
	sim.LatencyMax = getEnvDurationOrDefault("LATENCY_MAX", sim.LatencyMax)
	sim.FailureRate = getEnvFloatOrDefault("FAILURE_RATE", sim.FailureRate)
	sim.PartialFillRate = getEnvFloatOrDefault("PARTIAL_FILL_RATE", sim.PartialFillRate)
	sim.Slippage = getEnvFloatOrDefault("SLIPPAGE", sim.Slippage)
	sim.SlippageBandMin = getEnvFloatOrDefault("SLIPPAGE_BAND_MIN", sim.SlippageBandMin)
	sim.SlippageBandMax = getEnvFloatOrDefault("SLIPPAGE_BAND_MAX", sim.SlippageBandMax)

	r := &cfg.RiskConfig
	r.PriceTTL = getEnvDurationOrDefault("PRICE_TTL", r.PriceTTL)
	r.MinProfitMargin = getEnvFloatOrDefault("MIN_PROFIT_MARGIN", r.MinProfitMargin)
	r.CostSafetyFactor = getEnvFloatOrDefault("COST_SAFETY_FACTOR", r.CostSafetyFactor)
	r.CircuitBreakerThreshold = getEnvFloatOrDefault("CIRCUIT_BREAKER_THRESHOLD", r.CircuitBreakerThreshold)
	r.StopLossPercentage = getEnvFloatOrDefault("STOP_LOSS_PERCENTAGE", r.StopLossPercentage)

	rt := &cfg.RetryConfig
	rt.MaxAttempts = getEnvIntOrDefault("RETRY_MAX_ATTEMPTS", rt.MaxAttempts)
	rt.BaseDelay = getEnvDurationOrDefault("RETRY_BASE_DELAY", rt.BaseDelay)
	rt.MaxDelay = getEnvDurationOrDefault("RETRY_MAX_DELAY", rt.MaxDelay)
	rt.Multiplier = getEnvFloatOrDefault("RETRY_MULTIPLIER", rt.Multiplier)

	l := &cfg.LoopConfig
	l.Interval = getEnvDurationOrDefault("LOOP_INTERVAL", l.Interval)
	l.WarmupInterval = getEnvDurationOrDefault("WARMUP_INTERVAL", l.WarmupInterval)
	l.FetchTimeout = getEnvDurationOrDefault("FETCH_TIMEOUT", l.FetchTimeout)

	cfg.ReportConfig.Directory = getEnvOrDefault("REPORT_DIR", cfg.ReportConfig.Directory)
	cfg.ReportConfig.Schedule = getEnvOrDefault("REPORT_SCHEDULE", cfg.ReportConfig.Schedule)
	cfg.ReportConfig.ToDB = getEnvBoolOrDefault("REPORT_TO_DB", cfg.ReportConfig.ToDB)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)

	// Server config
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.OperatorKeyHash = getEnvOrDefault("OPERATOR_KEY_HASH", cfg.ServerConfig.OperatorKeyHash)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	var problems []string

	if len(c.Pairs) == 0 {
		problems = append(problems, "no pairs configured")
	}
	if c.TradingConfig.CandleLimit <= 0 {
		problems = append(problems, "candle_limit must be > 0")
	}
	if c.TradingConfig.SimulatedBalance <= 0 {
		problems = append(problems, "simulated_balance must be > 0")
	}
	if c.StrategyConfig.SMAFast <= 0 || c.StrategyConfig.SMASlow <= 0 {
		problems = append(problems, "sma windows must be > 0")
	}
	if c.SimConfig.LatencyMax < c.SimConfig.LatencyMin {
		problems = append(problems, "latency_max must be >= latency_min")
	}
	if c.SimConfig.SlippageBandMax < c.SimConfig.SlippageBandMin {
		problems = append(problems, "slippage_band_max must be >= slippage_band_min")
	}
	for name, p := range map[string]float64{
		"failure_rate":      c.SimConfig.FailureRate,
		"partial_fill_rate": c.SimConfig.PartialFillRate,
	} {
		if p < 0 || p > 1 {
			problems = append(problems, fmt.Sprintf("%s must be within [0,1]", name))
		}
	}
	if c.RetryConfig.MaxAttempts <= 0 {
		problems = append(problems, "retry max_attempts must be > 0")
	}
	if c.RiskConfig.CircuitBreakerThreshold < 0 {
		problems = append(problems, "circuit_breaker_threshold must be >= 0")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FeeRate returns the configured default fee rate of a venue
func (c *Config) FeeRate(venueID string) float64 {
	switch venueID {
	case VenueBinance:
		return c.VenueConfigs.Binance.FeeRate
	case VenueCoinbase:
		return c.VenueConfigs.Coinbase.FeeRate
	}
	return c.VenueConfigs.Binance.FeeRate
}

// PairNames returns the configured pairs in a stable order
func (c *Config) PairNames() []string {
	names := make([]string, 0, len(c.Pairs))
	for name := range c.Pairs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CircuitLossLimit is the absolute loss that trips the circuit breaker
func (c *Config) CircuitLossLimit() float64 {
	return c.RiskConfig.CircuitBreakerThreshold * c.TradingConfig.SimulatedBalance
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault accepts Go durations ("250ms") or bare seconds ("60", "0.05")
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
