package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://camp.local:5002/api/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIBaseURL != "http://camp.local:5002/api" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.APIBaseURL)
	}
	if cfg.WSURL != "ws://camp.local:5002/ws" {
		t.Errorf("expected derived ws url, got %s", cfg.WSURL)
	}
	if cfg.EligibilityDebounce != 500*time.Millisecond {
		t.Errorf("expected 500ms debounce, got %s", cfg.EligibilityDebounce)
	}
	if cfg.StockPollInterval != 30*time.Second {
		t.Errorf("expected 30s stock poll, got %s", cfg.StockPollInterval)
	}
	if cfg.ReconnectAttempts != 5 {
		t.Errorf("expected 5 reconnect attempts, got %d", cfg.ReconnectAttempts)
	}
	if cfg.RejoinOnReconnect {
		t.Error("expected rejoin on reconnect to default to false")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://camp.example.org/api")
	t.Setenv("WS_URL", "wss://push.example.org/ws")
	t.Setenv("ELIGIBILITY_DEBOUNCE", "250ms")
	t.Setenv("REJOIN_ON_RECONNECT", "true")
	t.Setenv("SIM_SIGNING_KEY", "camp-demo-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WSURL != "wss://push.example.org/ws" {
		t.Errorf("expected explicit ws url, got %s", cfg.WSURL)
	}
	if cfg.EligibilityDebounce != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", cfg.EligibilityDebounce)
	}
	if !cfg.RejoinOnReconnect {
		t.Error("expected rejoin on reconnect to be enabled")
	}
	if cfg.SimSigningKey != "camp-demo-key" {
		t.Errorf("expected simulator signing key from env, got %q", cfg.SimSigningKey)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		APIBaseURL:          "http://localhost:5002/api",
		WSURL:               "ws://localhost:5002/ws",
		EligibilityDebounce: time.Millisecond,
		StockPollInterval:   time.Second,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing api", func(c *Config) { c.APIBaseURL = "" }},
		{"bad api scheme", func(c *Config) { c.APIBaseURL = "ftp://x" }},
		{"bad ws scheme", func(c *Config) { c.WSURL = "http://x/ws" }},
		{"zero debounce", func(c *Config) { c.EligibilityDebounce = 0 }},
		{"negative reconnect", func(c *Config) { c.ReconnectAttempts = -1 }},
		{"tiny poll", func(c *Config) { c.StockPollInterval = time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDeriveWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:5002/api": "ws://localhost:5002/ws",
		"https://camp.org/api":      "wss://camp.org/ws",
		"http://camp.org":           "ws://camp.org/ws",
	}
	for in, want := range cases {
		if got := DeriveWSURL(in); got != want {
			t.Errorf("DeriveWSURL(%q) = %q, want %q", in, got, want)
		}
	}
}
