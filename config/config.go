package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full bot configuration. It is loaded once at startup and
// passed by value into the components that need it.
type Config struct {
	AlpacaConfig   AlpacaConfig   `json:"alpaca"`
	TradingConfig  TradingConfig  `json:"trading"`
	RiskConfig     RiskConfig     `json:"risk"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
}

// AlpacaConfig holds brokerage connection settings
type AlpacaConfig struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	BaseURL   string `json:"base_url"`
	DataURL   string `json:"data_url"`
	Paper     bool   `json:"paper"`
	MockMode  bool   `json:"mock_mode"` // Use the simulated broker instead of a live connection
}

// TradingConfig holds the strategy loop settings
type TradingConfig struct {
	Symbols      []string      `json:"symbols"`
	Mode         string        `json:"mode"` // ultra_safe, conservative, aggressive
	PollInterval time.Duration `json:"poll_interval"`
	DryRun       bool          `json:"dry_run"`
}

// RiskConfig holds position sizing settings
type RiskConfig struct {
	UseFixedCapital bool    `json:"use_fixed_capital"`
	FixedCapital    float64 `json:"fixed_capital"`     // hard ceiling across all entries
	FixedAmount     float64 `json:"fixed_amount"`      // per-trade dollar amount
	WholeShares     bool    `json:"whole_shares"`      // floor quantity instead of notional orders
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"`
	JSONFormat bool   `json:"json_format"`
}

// DatabaseConfig holds PostgreSQL settings for the trade history
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis settings for lifecycle state persistence
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DefaultConfig returns a runnable paper-trading configuration
func DefaultConfig() *Config {
	return &Config{
		AlpacaConfig: AlpacaConfig{
			BaseURL:  "https://paper-api.alpaca.markets",
			DataURL:  "https://data.alpaca.markets",
			Paper:    true,
			MockMode: true,
		},
		TradingConfig: TradingConfig{
			Symbols:      []string{"AAPL", "MSFT", "AMD"},
			Mode:         "conservative",
			PollInterval: 5 * time.Second,
			DryRun:       true,
		},
		RiskConfig: RiskConfig{
			UseFixedCapital: false,
			FixedCapital:    1000,
			FixedAmount:     100,
			WholeShares:     false,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: false,
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "trading_bot",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
	}
}

// LoadConfig reads the JSON config file and applies environment overrides.
// A missing file is not an error; defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the bot cannot run with
func (c *Config) Validate() error {
	if len(c.TradingConfig.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	switch c.TradingConfig.Mode {
	case "ultra_safe", "conservative", "aggressive":
	default:
		return fmt.Errorf("unknown trading mode %q", c.TradingConfig.Mode)
	}
	if c.TradingConfig.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.RiskConfig.UseFixedCapital && c.RiskConfig.FixedCapital <= 0 {
		return fmt.Errorf("fixed capital must be positive when enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.AlpacaConfig.APIKey = getEnvOrDefault("ALPACA_API_KEY", cfg.AlpacaConfig.APIKey)
	cfg.AlpacaConfig.APISecret = getEnvOrDefault("ALPACA_API_SECRET", cfg.AlpacaConfig.APISecret)
	cfg.AlpacaConfig.BaseURL = getEnvOrDefault("ALPACA_BASE_URL", cfg.AlpacaConfig.BaseURL)

	if symbols := os.Getenv("BOT_SYMBOLS"); symbols != "" {
		cfg.TradingConfig.Symbols = splitSymbols(symbols)
	}
	cfg.TradingConfig.Mode = getEnvOrDefault("BOT_MODE", cfg.TradingConfig.Mode)
	cfg.TradingConfig.PollInterval = getEnvDurationOrDefault("BOT_POLL_INTERVAL", cfg.TradingConfig.PollInterval)
	cfg.RiskConfig.FixedCapital = getEnvFloatOrDefault("BOT_FIXED_CAPITAL", cfg.RiskConfig.FixedCapital)
	cfg.RiskConfig.FixedAmount = getEnvFloatOrDefault("BOT_FIXED_AMOUNT", cfg.RiskConfig.FixedAmount)
	cfg.LoggingConfig.Level = getEnvOrDefault("BOT_LOG_LEVEL", cfg.LoggingConfig.Level)

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)

	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Addr)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
