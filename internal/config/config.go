package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance    Binance    `mapstructure:"binance"`
	Oracle     Oracle     `mapstructure:"oracle"`
	Ledger     Ledger     `mapstructure:"ledger"`
	Trading    Trading    `mapstructure:"trading"`
	Settlement Settlement `mapstructure:"settlement"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
}

// Binance holds the configuration for the Binance price API.
type Binance struct {
	BaseURL        string  `mapstructure:"base_url"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Oracle selects where reference prices come from.
type Oracle struct {
	Source      string             `mapstructure:"source"` // "binance" or "simulated"
	StartPrices map[string]float64 `mapstructure:"start_prices"`
	Volatility  float64            `mapstructure:"volatility"`
}

// Ledger holds the simulated balance defaults.
type Ledger struct {
	DefaultAsset   string `mapstructure:"default_asset"`
	InitialBalance string `mapstructure:"initial_balance"`
}

// Duration is one row of the option duration table.
type Duration struct {
	Seconds    int    `mapstructure:"seconds" json:"seconds"`
	ProfitRate string `mapstructure:"profit_rate" json:"profit_rate"`
	MinStake   string `mapstructure:"min_stake" json:"min_stake"`
}

// Trading holds the option product configuration.
type Trading struct {
	Symbols   []string   `mapstructure:"symbols"`
	Durations []Duration `mapstructure:"durations"`
}

// Settlement holds the resolver and recovery configuration.
type Settlement struct {
	Policy         string  `mapstructure:"policy"` // "price" or "random"
	WinProbability float64 `mapstructure:"win_probability"`
	Workers        int     `mapstructure:"workers"`
	SweepInterval  int     `mapstructure:"sweep_interval"` // seconds
	// Stake debits without a trade are refunded once older than this.
	OrphanGrace int `mapstructure:"orphan_grace"` // seconds
}

// Server holds the configuration for the web server.
type Server struct {
	Port       int    `mapstructure:"port"`
	AdminToken string `mapstructure:"admin_token"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultDurations is used when the config file does not define a duration table.
var DefaultDurations = []Duration{
	{Seconds: 30, ProfitRate: "0.10", MinStake: "100"},
	{Seconds: 60, ProfitRate: "0.15", MinStake: "100"},
	{Seconds: 120, ProfitRate: "0.20", MinStake: "500"},
	{Seconds: 300, ProfitRate: "0.30", MinStake: "1000"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_token", "") // registered so the env var is seen
	v.SetDefault("binance.base_url", "")
	v.SetDefault("logger.file", "")
	v.SetDefault("database.dsn", "options.db")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("binance.timeout_seconds", 5)
	v.SetDefault("oracle.source", "binance")
	v.SetDefault("oracle.volatility", 0.0005)
	v.SetDefault("ledger.default_asset", "USDT")
	v.SetDefault("ledger.initial_balance", "10000")
	v.SetDefault("trading.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("settlement.policy", "price")
	v.SetDefault("settlement.win_probability", 0.5)
	v.SetDefault("settlement.workers", 256)
	v.SetDefault("settlement.sweep_interval", 15)
	v.SetDefault("settlement.orphan_grace", 60)
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(config.Trading.Durations) == 0 {
		config.Trading.Durations = append([]Duration(nil), DefaultDurations...)
	}
	sort.Slice(config.Trading.Durations, func(i, j int) bool {
		return config.Trading.Durations[i].Seconds < config.Trading.Durations[j].Seconds
	})
	return config, nil
}
