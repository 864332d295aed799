package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Environment        string `yaml:"environment"`
	EnforceTradingDays bool   `yaml:"enforce_trading_days"`
	Log                struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		FromName string `yaml:"from_name"`
	} `yaml:"smtp"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	HTTP struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"http"`
	DataSource struct {
		QuoteURL     string            `yaml:"quote_url"`
		NAVURL       string            `yaml:"nav_url"`
		RatePerSec   float64           `yaml:"rate_per_sec"`
		Concurrency  int               `yaml:"concurrency"`
		Limits       map[string]string `yaml:"limits"`
		Mock         bool              `yaml:"mock"`
		MockSnapshot []MockFund        `yaml:"mock_funds"`
	} `yaml:"data_source"`
	Calendar struct {
		Holidays  []string `yaml:"holidays"`
		Workdays  []string `yaml:"workdays"`
		RemoteURL string   `yaml:"remote_url"`
	} `yaml:"calendar"`
	Retention struct {
		FundStateDays int `yaml:"fund_state_days"`
	} `yaml:"retention"`
	Schedule struct {
		PruneCron    string `yaml:"prune_cron"`
		CalendarCron string `yaml:"calendar_cron"`
	} `yaml:"schedule"`
	Proxy string `yaml:"proxy"`
}

// MockFund seeds the mock data source.
type MockFund struct {
	Code        string  `yaml:"code"`
	Name        string  `yaml:"name"`
	PremiumRate float64 `yaml:"premium_rate"`
	MarketPrice float64 `yaml:"market_price"`
	NAV         float64 `yaml:"nav"`
	LimitText   string  `yaml:"limit_text"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		c.SMTP.User = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		c.SMTP.From = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("CALENDAR_URL"); v != "" {
		c.Calendar.RemoteURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	// Production and release builds skip polling on non-trading days.
	switch strings.ToLower(c.Environment) {
	case "production", "release":
		c.EnforceTradingDays = true
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/qdii_radar.db"
	}
	if c.SMTP.Host == "" {
		c.SMTP.Host = "smtp.gmail.com"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.FromName == "" {
		c.SMTP.FromName = "QDII Fund Radar"
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.User
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8000"
	}
	if len(c.HTTP.CORSOrigins) == 0 {
		c.HTTP.CORSOrigins = []string{"*"}
	}
	if c.DataSource.QuoteURL == "" {
		c.DataSource.QuoteURL = "https://push2.eastmoney.com/api/qt/ulist.np/get"
	}
	if c.DataSource.NAVURL == "" {
		c.DataSource.NAVURL = "https://fundmobapi.eastmoney.com/FundMApi/FundNetValue.ashx"
	}
	if c.DataSource.RatePerSec == 0 {
		c.DataSource.RatePerSec = 5
	}
	if c.DataSource.Concurrency == 0 {
		c.DataSource.Concurrency = 5
	}
	if c.Retention.FundStateDays == 0 {
		c.Retention.FundStateDays = 7
	}
	if c.Schedule.PruneCron == "" {
		c.Schedule.PruneCron = "0 30 3 * * *"
	}
	if c.Schedule.CalendarCron == "" {
		c.Schedule.CalendarCron = "0 0 8 * * *"
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port must be between 1 and 65535")
	}
	if c.SMTP.User != "" && c.SMTP.Password == "" {
		return fmt.Errorf("smtp.password is required when smtp.user is set")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if c.DataSource.RatePerSec < 0 {
		return fmt.Errorf("data_source.rate_per_sec must not be negative")
	}
	if c.Retention.FundStateDays < 0 {
		return fmt.Errorf("retention.fund_state_days must not be negative")
	}
	for _, d := range append(append([]string{}, c.Calendar.Holidays...), c.Calendar.Workdays...) {
		if _, err := ParseDate(d); err != nil {
			return fmt.Errorf("calendar: %w", err)
		}
	}
	return nil
}
