package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                 string        `mapstructure:"ENV"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	APIBaseURL          string        `mapstructure:"API_BASE_URL"`
	WSURL               string        `mapstructure:"WS_URL"`
	SessionFile         string        `mapstructure:"SESSION_FILE"`
	HTTPTimeout         time.Duration `mapstructure:"HTTP_TIMEOUT"`
	EligibilityDebounce time.Duration `mapstructure:"ELIGIBILITY_DEBOUNCE"`
	MessageClearAfter   time.Duration `mapstructure:"MESSAGE_CLEAR_AFTER"`
	StockPollInterval   time.Duration `mapstructure:"STOCK_POLL_INTERVAL"`
	ReconnectAttempts   int           `mapstructure:"RECONNECT_ATTEMPTS"`
	ReconnectDelay      time.Duration `mapstructure:"RECONNECT_DELAY"`
	PollFallbackAfter   int           `mapstructure:"POLL_FALLBACK_AFTER"`
	RejoinOnReconnect   bool          `mapstructure:"REJOIN_ON_RECONNECT"`
	ScannerDevice       string        `mapstructure:"SCANNER_DEVICE"`
	SimPort             string        `mapstructure:"SIM_PORT"`
	SimSigningKey       string        `mapstructure:"SIM_SIGNING_KEY"`
	MetricsAddr         string        `mapstructure:"METRICS_ADDR"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "API_BASE_URL", "WS_URL", "SESSION_FILE",
	"HTTP_TIMEOUT", "ELIGIBILITY_DEBOUNCE", "MESSAGE_CLEAR_AFTER",
	"STOCK_POLL_INTERVAL", "RECONNECT_ATTEMPTS", "RECONNECT_DELAY",
	"POLL_FALLBACK_AFTER", "REJOIN_ON_RECONNECT", "SCANNER_DEVICE",
	"SIM_PORT", "SIM_SIGNING_KEY", "METRICS_ADDR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("API_BASE_URL", "http://localhost:5002/api")
	v.SetDefault("SESSION_FILE", defaultSessionFile())
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("ELIGIBILITY_DEBOUNCE", "500ms")
	v.SetDefault("MESSAGE_CLEAR_AFTER", "5s")
	v.SetDefault("STOCK_POLL_INTERVAL", "30s")
	v.SetDefault("RECONNECT_ATTEMPTS", 5)
	v.SetDefault("RECONNECT_DELAY", "1s")
	v.SetDefault("POLL_FALLBACK_AFTER", 2)
	v.SetDefault("REJOIN_ON_RECONNECT", false)
	v.SetDefault("SIM_PORT", "5002")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.WSURL == "" {
		cfg.WSURL = DeriveWSURL(cfg.APIBaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL, got %q", c.APIBaseURL)
	}
	if !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
		return fmt.Errorf("WS_URL must be a ws(s) URL, got %q", c.WSURL)
	}
	if c.EligibilityDebounce <= 0 {
		return fmt.Errorf("ELIGIBILITY_DEBOUNCE must be positive")
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("RECONNECT_ATTEMPTS must not be negative, got %d", c.ReconnectAttempts)
	}
	if c.StockPollInterval < time.Second {
		return fmt.Errorf("STOCK_POLL_INTERVAL must be at least 1s, got %s", c.StockPollInterval)
	}
	return nil
}

// DeriveWSURL maps the REST base URL onto the realtime endpoint served by
// the same backend: http(s)://host/api -> ws(s)://host/ws.
func DeriveWSURL(apiBase string) string {
	u := apiBase
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u = strings.TrimSuffix(u, "/api")
	return u + "/ws"
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "campdesk", "session.json")
}
