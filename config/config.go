package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd   bool   `json:"is_prod"`
	LogLevel string `json:"log_level"`

	// Market scanning
	Scan ScanConfig `json:"scan"`

	// Risk scoring
	Scoring ScoringConfig `json:"scoring"`

	// Caching
	Cache CacheConfig `json:"cache"`
	Redis RedisConfig `json:"redis"`

	// Persistence
	Store StoreConfig `json:"store"`

	// Alerting
	Alerts   AlertsConfig   `json:"alerts"`
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	Kafka    KafkaConfig    `json:"kafka"`

	// GitHub Gist - excluded from settings (env var only)
	Gist GistConfig `json:"-"`

	// Polymarket API
	Polymarket PolymarketConfig `json:"polymarket"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`
}

// ScanConfig controls which markets are scanned and how wallets are selected.
type ScanConfig struct {
	Markets         []string      `json:"markets"` // Condition IDs or event slugs
	Interval        time.Duration `json:"interval"`
	LookbackHours   int           `json:"lookback_hours"`
	MinTradeSize    float64       `json:"min_trade_size"`    // USD, trades below are ignored
	LargeTradeFloor float64       `json:"large_trade_floor"` // USD, traders at or above become candidates
	MaxWallets      int           `json:"max_wallets"`
	TopN            int           `json:"top_n"`
	MinRiskScore    int           `json:"min_risk_score"`
	BatchSize       int           `json:"batch_size"`
	BatchDelay      time.Duration `json:"batch_delay"`
}

// ScoringConfig holds risk scoring thresholds.
type ScoringConfig struct {
	MinProfit                 float64 `json:"min_profit"`
	ProfitCeiling             float64 `json:"profit_ceiling"`   // Wallets above are treated as bad data
	PositionCeiling           float64 `json:"position_ceiling"` // Any single position above is treated as bad data
	EstablishedTradeThreshold int     `json:"established_trade_threshold"`
	ActivityLimit             int     `json:"activity_limit"`
}

// CacheConfig holds cache configuration.
type CacheConfig struct {
	Backend          string        `json:"backend"` // memory or redis
	MarketContextTTL time.Duration `json:"market_context_ttl"`
	WalletTTL        time.Duration `json:"wallet_ttl"`
	SaveInterval     time.Duration `json:"save_interval"`
	FileName         string        `json:"file_name"`
	MaxEntries       int           `json:"max_entries"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"` // Excluded - env var only
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// StoreConfig holds database configuration.
type StoreConfig struct {
	Driver string `json:"driver"` // sqlite or postgres
	DSN    string `json:"-"`      // Excluded - may contain credentials
}

// AlertsConfig holds alert deduplication and notification settings.
type AlertsConfig struct {
	DedupWindow       time.Duration `json:"dedup_window"`
	MinNotifySeverity string        `json:"min_notify_severity"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// KafkaConfig holds the suspect event publisher configuration.
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// GistConfig holds GitHub Gist configuration.
type GistConfig struct {
	Token  string `json:"-"` // Excluded - env var only
	GistID string `json:"-"` // Excluded - env var only
}

// PolymarketConfig holds Polymarket API configuration.
type PolymarketConfig struct {
	GammaAPIURL    string        `json:"gamma_api_url"`
	DataAPIURL     string        `json:"data_api_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled    bool   `json:"enabled"`
	Port       int    `json:"port"`
	AdminToken string `json:"-"` // Guards mutating routes; empty leaves them open
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Scan.Markets != nil {
		clone.Scan.Markets = make([]string, len(c.Scan.Markets))
		copy(clone.Scan.Markets, c.Scan.Markets)
	}
	if c.Kafka.Brokers != nil {
		clone.Kafka.Brokers = make([]string, len(c.Kafka.Brokers))
		copy(clone.Kafka.Brokers, c.Kafka.Brokers)
	}
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd:   false,
		LogLevel: "info",
		Scan: ScanConfig{
			Interval:        15 * time.Minute,
			LookbackHours:   72,
			MinTradeSize:    50,
			LargeTradeFloor: 1000,
			MaxWallets:      50,
			TopN:            10,
			MinRiskScore:    0,
			BatchSize:       5,
			BatchDelay:      300 * time.Millisecond,
		},
		Scoring: ScoringConfig{
			MinProfit:                 1000,
			ProfitCeiling:             10_000_000,
			PositionCeiling:           50_000_000,
			EstablishedTradeThreshold: 50,
			ActivityLimit:             500,
		},
		Cache: CacheConfig{
			Backend:          "memory",
			MarketContextTTL: 1 * time.Hour,
			WalletTTL:        24 * time.Hour,
			SaveInterval:     10 * time.Minute,
			FileName:         "wallet_cache.json",
			MaxEntries:       5000,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "insiderwatch:",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "insiderwatch.db",
		},
		Alerts: AlertsConfig{
			DedupWindow:       7 * 24 * time.Hour,
			MinNotifySeverity: "high",
		},
		Kafka: KafkaConfig{
			Topic: "insiderwatch.suspects",
		},
		Polymarket: PolymarketConfig{
			GammaAPIURL:    "https://gamma-api.polymarket.com",
			DataAPIURL:     "https://data-api.polymarket.com",
			RequestTimeout: 30 * time.Second,
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is read first when present.
func Load() *Config {
	_ = godotenv.Load()

	d := Defaults()
	return &Config{
		IsProd:   envBool("STAGE", "PROD"),
		LogLevel: strings.ToLower(envString("LOG_LEVEL", d.LogLevel)),

		Scan: ScanConfig{
			Markets:         envStringSlice("SCAN_MARKETS"),
			Interval:        envDuration("SCAN_INTERVAL", d.Scan.Interval),
			LookbackHours:   envInt("SCAN_LOOKBACK_HOURS", d.Scan.LookbackHours),
			MinTradeSize:    envFloat("SCAN_MIN_TRADE_SIZE", d.Scan.MinTradeSize),
			LargeTradeFloor: envFloat("SCAN_LARGE_TRADE_FLOOR", d.Scan.LargeTradeFloor),
			MaxWallets:      envInt("SCAN_MAX_WALLETS", d.Scan.MaxWallets),
			TopN:            envInt("SCAN_TOP_N", d.Scan.TopN),
			MinRiskScore:    envInt("SCAN_MIN_RISK_SCORE", d.Scan.MinRiskScore),
			BatchSize:       envInt("SCAN_BATCH_SIZE", d.Scan.BatchSize),
			BatchDelay:      envDuration("SCAN_BATCH_DELAY", d.Scan.BatchDelay),
		},

		Scoring: ScoringConfig{
			MinProfit:                 envFloat("SCORING_MIN_PROFIT", d.Scoring.MinProfit),
			ProfitCeiling:             envFloat("SCORING_PROFIT_CEILING", d.Scoring.ProfitCeiling),
			PositionCeiling:           envFloat("SCORING_POSITION_CEILING", d.Scoring.PositionCeiling),
			EstablishedTradeThreshold: envInt("SCORING_ESTABLISHED_TRADES", d.Scoring.EstablishedTradeThreshold),
			ActivityLimit:             envInt("SCORING_ACTIVITY_LIMIT", d.Scoring.ActivityLimit),
		},

		Cache: CacheConfig{
			Backend:          strings.ToLower(envString("CACHE_BACKEND", d.Cache.Backend)),
			MarketContextTTL: envDuration("MARKET_CONTEXT_TTL", d.Cache.MarketContextTTL),
			WalletTTL:        envDuration("WALLET_CACHE_TTL", d.Cache.WalletTTL),
			SaveInterval:     envDuration("CACHE_SAVE_INTERVAL", d.Cache.SaveInterval),
			FileName:         envString("CACHE_FILE_NAME", d.Cache.FileName),
			MaxEntries:       envInt("CACHE_MAX_ENTRIES", d.Cache.MaxEntries),
		},

		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", d.Redis.Addr),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			Prefix:   envString("REDIS_PREFIX", d.Redis.Prefix),
		},

		Store: StoreConfig{
			Driver: strings.ToLower(envString("STORE_DRIVER", d.Store.Driver)),
			DSN:    envString("STORE_DSN", d.Store.DSN),
		},

		Alerts: AlertsConfig{
			DedupWindow:       envDuration("ALERT_DEDUP_WINDOW", d.Alerts.DedupWindow),
			MinNotifySeverity: strings.ToLower(envString("ALERT_MIN_NOTIFY_SEVERITY", d.Alerts.MinNotifySeverity)),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		Kafka: KafkaConfig{
			Brokers: envStringSlice("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TOPIC", d.Kafka.Topic),
		},

		Gist: GistConfig{
			Token:  envString("GITHUB_TOKEN", ""),
			GistID: envString("CACHE_GIST_ID", ""),
		},

		Polymarket: PolymarketConfig{
			GammaAPIURL:    envString("POLYMARKET_GAMMA_API_URL", d.Polymarket.GammaAPIURL),
			DataAPIURL:     envString("POLYMARKET_DATA_API_URL", d.Polymarket.DataAPIURL),
			RequestTimeout: envDuration("POLYMARKET_REQUEST_TIMEOUT", d.Polymarket.RequestTimeout),
		},

		HealthServer: HealthServerConfig{
			Enabled:    envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:       envInt("HEALTH_SERVER_PORT", d.HealthServer.Port),
			AdminToken: envString("ADMIN_TOKEN", ""),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
