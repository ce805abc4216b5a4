package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"STAGE", "LOG_LEVEL", "SCAN_MARKETS", "SCAN_INTERVAL", "SCAN_MIN_RISK_SCORE",
		"SCORING_MIN_PROFIT", "CACHE_BACKEND", "WALLET_CACHE_TTL", "STORE_DRIVER", "STORE_DSN",
		"ALERT_DEDUP_WINDOW", "ALERT_MIN_NOTIFY_SEVERITY", "KAFKA_BROKERS",
		"DISCORD_BOT_TOKEN", "GITHUB_TOKEN", "CACHE_GIST_ID",
		"POLYMARKET_GAMMA_API_URL", "POLYMARKET_DATA_API_URL", "POLYMARKET_REQUEST_TIMEOUT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	if cfg.IsProd {
		t.Error("expected IsProd to be false by default")
	}
	if cfg.Scan.Markets != nil {
		t.Errorf("expected no markets by default, got %v", cfg.Scan.Markets)
	}
	if cfg.Scan.LookbackHours != 72 {
		t.Errorf("unexpected lookback: %d", cfg.Scan.LookbackHours)
	}
	if cfg.Scan.MinTradeSize != 50 {
		t.Errorf("unexpected min trade size: %f", cfg.Scan.MinTradeSize)
	}
	if cfg.Scan.BatchSize != 5 || cfg.Scan.BatchDelay != 300*time.Millisecond {
		t.Errorf("unexpected batching: %d / %v", cfg.Scan.BatchSize, cfg.Scan.BatchDelay)
	}
	if cfg.Scoring.MinProfit != 1000 {
		t.Errorf("unexpected min profit: %f", cfg.Scoring.MinProfit)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("unexpected cache backend: %s", cfg.Cache.Backend)
	}
	if cfg.Cache.WalletTTL != 24*time.Hour {
		t.Errorf("unexpected wallet TTL: %v", cfg.Cache.WalletTTL)
	}
	if cfg.Cache.MarketContextTTL != time.Hour {
		t.Errorf("unexpected market TTL: %v", cfg.Cache.MarketContextTTL)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "insiderwatch.db" {
		t.Errorf("unexpected store: %s %s", cfg.Store.Driver, cfg.Store.DSN)
	}
	if cfg.Alerts.DedupWindow != 7*24*time.Hour {
		t.Errorf("unexpected dedup window: %v", cfg.Alerts.DedupWindow)
	}
	if cfg.Polymarket.GammaAPIURL != "https://gamma-api.polymarket.com" {
		t.Errorf("unexpected gamma API URL: %s", cfg.Polymarket.GammaAPIURL)
	}
	if cfg.Polymarket.RequestTimeout != 30*time.Second {
		t.Errorf("unexpected request timeout: %v", cfg.Polymarket.RequestTimeout)
	}

	if result := cfg.Validate(); !result.Valid {
		t.Errorf("expected default config to be valid, got %+v", result.Errors)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STAGE", "PROD")
	t.Setenv("SCAN_MARKETS", "0xabc, fed-decision ,")
	t.Setenv("SCAN_INTERVAL", "5m")
	t.Setenv("SCAN_MIN_RISK_SCORE", "60")
	t.Setenv("SCORING_MIN_PROFIT", "2500.5")
	t.Setenv("CACHE_BACKEND", "REDIS")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_DSN", "host=db user=iw")
	t.Setenv("ALERT_DEDUP_WINDOW", "48h")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DISCORD_BOT_TOKEN", "test-token")
	t.Setenv("GITHUB_TOKEN", "gh-token")
	t.Setenv("POLYMARKET_REQUEST_TIMEOUT", "10s")

	cfg := Load()

	if !cfg.IsProd {
		t.Error("expected IsProd to be true")
	}
	if len(cfg.Scan.Markets) != 2 || cfg.Scan.Markets[1] != "fed-decision" {
		t.Errorf("unexpected markets: %v", cfg.Scan.Markets)
	}
	if cfg.Scan.Interval != 5*time.Minute {
		t.Errorf("unexpected interval: %v", cfg.Scan.Interval)
	}
	if cfg.Scan.MinRiskScore != 60 {
		t.Errorf("unexpected min risk score: %d", cfg.Scan.MinRiskScore)
	}
	if cfg.Scoring.MinProfit != 2500.5 {
		t.Errorf("unexpected min profit: %f", cfg.Scoring.MinProfit)
	}
	if cfg.Cache.Backend != "redis" {
		t.Errorf("expected lower-cased backend, got %s", cfg.Cache.Backend)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected redis addr: %s", cfg.Redis.Addr)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "host=db user=iw" {
		t.Errorf("unexpected store: %+v", cfg.Store)
	}
	if cfg.Alerts.DedupWindow != 48*time.Hour {
		t.Errorf("unexpected dedup window: %v", cfg.Alerts.DedupWindow)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Discord.BotToken != "test-token" {
		t.Errorf("unexpected bot token: %s", cfg.Discord.BotToken)
	}
	if cfg.Gist.Token != "gh-token" {
		t.Errorf("unexpected gist token: %s", cfg.Gist.Token)
	}
	if cfg.Polymarket.RequestTimeout != 10*time.Second {
		t.Errorf("unexpected request timeout: %v", cfg.Polymarket.RequestTimeout)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SCAN_LOOKBACK_HOURS", "three days")
	t.Setenv("SCAN_BATCH_DELAY", "soon")

	cfg := Load()
	if cfg.Scan.LookbackHours != 72 {
		t.Errorf("expected default lookback, got %d", cfg.Scan.LookbackHours)
	}
	if cfg.Scan.BatchDelay != 300*time.Millisecond {
		t.Errorf("expected default batch delay, got %v", cfg.Scan.BatchDelay)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "  trimmed  ")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BOOL", "prod")
	t.Setenv("TEST_BOOL_DEFAULT", "yes")

	if v := envString("TEST_STRING", "default"); v != "trimmed" {
		t.Errorf("expected 'trimmed', got '%s'", v)
	}
	if v := envString("NONEXISTENT", "default"); v != "default" {
		t.Errorf("expected 'default', got '%s'", v)
	}
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
	if v := envFloat("TEST_FLOAT", 0); v != 0.25 {
		t.Errorf("expected 0.25, got %f", v)
	}
	if v := envDuration("TEST_DURATION", 0); v != 90*time.Second {
		t.Errorf("expected 90s, got %v", v)
	}
	if !envBool("TEST_BOOL", "PROD") {
		t.Error("expected case-insensitive match")
	}
	if !envBoolDefault("TEST_BOOL_DEFAULT", false) {
		t.Error("expected 'yes' to be true")
	}
	if !envBoolDefault("NONEXISTENT", true) {
		t.Error("expected default to be used")
	}
}

func TestEnvStringSlice(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected []string
	}{
		{name: "empty", envValue: "", expected: nil},
		{name: "single value", envValue: "abc", expected: []string{"abc"}},
		{name: "with whitespace", envValue: "abc , def , ghi ", expected: []string{"abc", "def", "ghi"}},
		{name: "empty elements filtered", envValue: "abc,,def,", expected: []string{"abc", "def"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_STRING_SLICE", tt.envValue)
			result := envStringSlice("TEST_STRING_SLICE")

			if tt.expected == nil {
				if result != nil {
					t.Errorf("expected nil, got %v", result)
				}
				return
			}
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d elements, got %d", len(tt.expected), len(result))
			}
			for i, v := range tt.expected {
				if result[i] != v {
					t.Errorf("expected %s at index %d, got %s", v, i, result[i])
				}
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "interval too short", mutate: func(c *Config) { c.Scan.Interval = time.Second }, field: "scan.interval"},
		{name: "min risk score out of range", mutate: func(c *Config) { c.Scan.MinRiskScore = 101 }, field: "scan.min_risk_score"},
		{name: "batch size zero", mutate: func(c *Config) { c.Scan.BatchSize = 0 }, field: "scan.batch_size"},
		{name: "ceiling below floor", mutate: func(c *Config) { c.Scoring.ProfitCeiling = 500 }, field: "scoring.profit_ceiling"},
		{name: "unknown cache backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, field: "cache.backend"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }, field: "store.driver"},
		{name: "unknown severity", mutate: func(c *Config) { c.Alerts.MinNotifySeverity = "urgent" }, field: "alerts.min_notify_severity"},
		{name: "bad port", mutate: func(c *Config) { c.HealthServer.Port = 70000 }, field: "health_server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			result := cfg.Validate()
			if result.Valid {
				t.Fatal("expected validation to fail")
			}
			found := false
			for _, e := range result.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for %s, got %+v", tt.field, result.Errors)
			}
		})
	}
}

func TestConfigFromJSON_MergesWithBase(t *testing.T) {
	base := Defaults()
	base.Scan.Markets = []string{"0xabc"}

	cfg, err := ConfigFromJSON([]byte(`{"scan":{"min_risk_score":70,"markets":["0xdef"]}}`), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Scan.MinRiskScore != 70 {
		t.Errorf("unexpected min risk score: %d", cfg.Scan.MinRiskScore)
	}
	if cfg.Scan.LookbackHours != 72 {
		t.Errorf("expected untouched fields to keep base values, got %d", cfg.Scan.LookbackHours)
	}
	if base.Scan.Markets[0] != "0xabc" {
		t.Errorf("base was mutated: %v", base.Scan.Markets)
	}
}

func TestLiveConfig_Update(t *testing.T) {
	lc := NewLiveConfig(nil)

	var seen *Config
	lc.AddObserver(ObserverFunc(func(cfg *Config) { seen = cfg }))

	err := lc.UpdatePartial(func(c *Config) { c.Scan.TopN = 25 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.Get().Scan.TopN != 25 {
		t.Errorf("expected update to apply, got %d", lc.Get().Scan.TopN)
	}
	if seen == nil || seen.Scan.TopN != 25 {
		t.Error("expected observer to be notified")
	}

	err = lc.UpdatePartial(func(c *Config) { c.Scan.BatchSize = 0 })
	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if lc.Get().Scan.BatchSize != 5 {
		t.Errorf("invalid update must not apply, got %d", lc.Get().Scan.BatchSize)
	}
}

func TestLiveConfig_GetReturnsCopy(t *testing.T) {
	initial := Defaults()
	initial.Scan.Markets = []string{"0xabc"}
	lc := NewLiveConfig(initial)

	cfg := lc.Get()
	cfg.Scan.Markets[0] = "mutated"

	if lc.Get().Scan.Markets[0] != "0xabc" {
		t.Error("Get must return an independent copy")
	}
}
