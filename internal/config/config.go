package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/momentumscan/internal/models"
	"github.com/rewired-gh/momentumscan/internal/monitor"
)

// Config represents the complete application configuration
type Config struct {
	SmartAPI SmartAPIConfig `mapstructure:"smartapi"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SmartAPIConfig holds data provider credentials and connection settings
type SmartAPIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	ClientCode     string        `mapstructure:"client_code"`
	Password       string        `mapstructure:"password"`
	TOTP           string        `mapstructure:"totp"`
	JWTToken       string        `mapstructure:"jwt_token"` // skips login when set
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	Burst          int           `mapstructure:"burst"`
	ClientLocalIP  string        `mapstructure:"client_local_ip"`
	ClientPublicIP string        `mapstructure:"client_public_ip"`
	MACAddress     string        `mapstructure:"mac_address"`
}

// ScannerConfig controls universe resolution and polling cadence
type ScannerConfig struct {
	Target          string        `mapstructure:"target"`
	TopN            int           `mapstructure:"top_n"`
	ExpiryType      string        `mapstructure:"expiry_type"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	DataInterval    time.Duration `mapstructure:"data_interval"`
	MaxInFlight     int           `mapstructure:"max_in_flight"`
	LookbackBuffer  int           `mapstructure:"lookback_buffer"`
}

// StrategyConfig controls alert classification
type StrategyConfig struct {
	Mode             string  `mapstructure:"mode"`
	Interval         string  `mapstructure:"interval"`
	Period           int     `mapstructure:"period"`
	ThresholdPercent float64 `mapstructure:"threshold_percent"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken          string        `mapstructure:"bot_token"`
	ChatID            string        `mapstructure:"chat_id"`
	AdminChatID       string        `mapstructure:"admin_chat_id"` // numeric chat allowed to /say
	Enabled           bool          `mapstructure:"enabled"`
	Commands          bool          `mapstructure:"commands"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// JournalConfig holds alert journal configuration
type JournalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	DBPath    string `mapstructure:"db_path"`
	MaxAlerts int    `mapstructure:"max_alerts"`
}

// ServerConfig holds status API configuration
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment variables.
// An empty path reads environment variables and defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// MOMENTUMSCAN_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("MOMENTUMSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("smartapi.base_url", "https://apiconnect.angelone.in")
	v.SetDefault("smartapi.api_key", "")
	v.SetDefault("smartapi.client_code", "")
	v.SetDefault("smartapi.password", "")
	v.SetDefault("smartapi.totp", "")
	v.SetDefault("smartapi.jwt_token", "")
	v.SetDefault("smartapi.timeout", "15s")
	v.SetDefault("smartapi.requests_per_sec", 3.0)
	v.SetDefault("smartapi.burst", 1)
	v.SetDefault("smartapi.client_local_ip", "")
	v.SetDefault("smartapi.client_public_ip", "")
	v.SetDefault("smartapi.mac_address", "")

	v.SetDefault("scanner.target", "FUTURE")
	v.SetDefault("scanner.top_n", 3)
	v.SetDefault("scanner.expiry_type", "NEAR")
	v.SetDefault("scanner.refresh_interval", "3m")
	v.SetDefault("scanner.data_interval", "1m")
	v.SetDefault("scanner.max_in_flight", 4)
	v.SetDefault("scanner.lookback_buffer", 10)

	v.SetDefault("strategy.mode", "confirmed")
	v.SetDefault("strategy.interval", "ONE_MINUTE")
	v.SetDefault("strategy.period", 15)
	v.SetDefault("strategy.threshold_percent", 0.05)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.admin_chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.commands", true)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.backoff_multiplier", 2.0)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.db_path", "./data/journal.db")
	v.SetDefault("journal.max_alerts", 10000)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", "127.0.0.1:8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
}

// normalize canonicalizes values the data provider matches case-sensitively.
func (c *Config) normalize() {
	c.Scanner.ExpiryType = strings.ToUpper(strings.TrimSpace(c.Scanner.ExpiryType))
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// SmartAPI
	if c.SmartAPI.BaseURL == "" {
		return fmt.Errorf("smartapi.base_url is required")
	}
	if c.SmartAPI.APIKey == "" {
		return fmt.Errorf("smartapi.api_key is required")
	}
	if c.SmartAPI.JWTToken == "" {
		if c.SmartAPI.ClientCode == "" || c.SmartAPI.Password == "" || c.SmartAPI.TOTP == "" {
			return fmt.Errorf("smartapi.client_code, smartapi.password and smartapi.totp are required when smartapi.jwt_token is not set")
		}
	}
	if c.SmartAPI.Timeout <= 0 {
		return fmt.Errorf("smartapi.timeout must be positive")
	}
	if c.SmartAPI.RequestsPerSec <= 0 {
		return fmt.Errorf("smartapi.requests_per_sec must be positive")
	}

	// Scanner
	if _, err := models.ParseInstrumentType(c.Scanner.Target); err != nil {
		return fmt.Errorf("scanner.target: %w", err)
	}
	if c.Scanner.TopN < 1 || c.Scanner.TopN > 50 {
		return fmt.Errorf("scanner.top_n must be between 1 and 50")
	}
	switch c.Scanner.ExpiryType {
	case "NEAR", "NEXT", "FAR":
	default:
		return fmt.Errorf("scanner.expiry_type must be one of: NEAR, NEXT, FAR")
	}
	if c.Scanner.RefreshInterval < 10*time.Second {
		return fmt.Errorf("scanner.refresh_interval must be at least 10 seconds")
	}
	if c.Scanner.DataInterval < 10*time.Second {
		return fmt.Errorf("scanner.data_interval must be at least 10 seconds")
	}
	if c.Scanner.MaxInFlight < 1 {
		return fmt.Errorf("scanner.max_in_flight must be at least 1")
	}
	if c.Scanner.LookbackBuffer < 0 {
		return fmt.Errorf("scanner.lookback_buffer must not be negative")
	}

	// Strategy
	if _, err := monitor.ParseMode(c.Strategy.Mode); err != nil {
		return fmt.Errorf("strategy.mode: %w", err)
	}
	if _, err := models.ParseInterval(c.Strategy.Interval); err != nil {
		return fmt.Errorf("strategy.interval: %w", err)
	}
	if c.Strategy.Period < 1 {
		return fmt.Errorf("strategy.period must be at least 1")
	}
	if c.Strategy.ThresholdPercent < 0 {
		return fmt.Errorf("strategy.threshold_percent must not be negative")
	}

	// Telegram. A missing chat_id only disables delivery.
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.AdminChatID != "" {
			if _, err := strconv.ParseInt(c.Telegram.AdminChatID, 10, 64); err != nil {
				return fmt.Errorf("telegram.admin_chat_id must be a numeric chat ID")
			}
		}
		if c.Telegram.RetryDelayBase <= 0 {
			return fmt.Errorf("telegram.retry_delay_base must be positive")
		}
		if c.Telegram.BackoffMultiplier < 1 {
			return fmt.Errorf("telegram.backoff_multiplier must be at least 1")
		}
	}

	// Journal
	if c.Journal.Enabled && c.Journal.MaxAlerts < 1 {
		return fmt.Errorf("journal.max_alerts must be at least 1")
	}

	// Server
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when server is enabled")
	}

	// Logging
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Target returns the parsed scan target. Call after Validate.
func (c *Config) Target() models.InstrumentType {
	t, _ := models.ParseInstrumentType(c.Scanner.Target)
	return t
}

// Mode returns the parsed strategy mode. Call after Validate.
func (c *Config) Mode() monitor.Mode {
	m, _ := monitor.ParseMode(c.Strategy.Mode)
	return m
}

// Interval returns the parsed bar interval. Call after Validate.
func (c *Config) Interval() models.Interval {
	iv, _ := models.ParseInterval(c.Strategy.Interval)
	return iv
}
