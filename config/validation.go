package config

import (
	"fmt"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var severities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateScan(&c.Scan)...)
	errors = append(errors, validateScoring(&c.Scoring)...)
	errors = append(errors, validateCache(&c.Cache)...)
	errors = append(errors, validateStore(&c.Store)...)
	errors = append(errors, validateAlerts(&c.Alerts)...)
	errors = append(errors, validatePolymarket(&c.Polymarket)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateScan(s *ScanConfig) []ValidationError {
	var errors []ValidationError

	if s.Interval < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "scan.interval",
			Message: "must be at least 1 minute",
		})
	}

	if s.LookbackHours < 1 || s.LookbackHours > 720 {
		errors = append(errors, ValidationError{
			Field:   "scan.lookback_hours",
			Message: "must be between 1 and 720",
		})
	}

	if s.MinTradeSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "scan.min_trade_size",
			Message: "must be non-negative",
		})
	}

	if s.LargeTradeFloor < 0 {
		errors = append(errors, ValidationError{
			Field:   "scan.large_trade_floor",
			Message: "must be non-negative",
		})
	}

	if s.MaxWallets < 1 || s.MaxWallets > 500 {
		errors = append(errors, ValidationError{
			Field:   "scan.max_wallets",
			Message: "must be between 1 and 500",
		})
	}

	if s.TopN < 1 {
		errors = append(errors, ValidationError{
			Field:   "scan.top_n",
			Message: "must be at least 1",
		})
	}

	if s.MinRiskScore < 0 || s.MinRiskScore > 100 {
		errors = append(errors, ValidationError{
			Field:   "scan.min_risk_score",
			Message: "must be between 0 and 100",
		})
	}

	if s.BatchSize < 1 || s.BatchSize > 50 {
		errors = append(errors, ValidationError{
			Field:   "scan.batch_size",
			Message: "must be between 1 and 50",
		})
	}

	if s.BatchDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "scan.batch_delay",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateScoring(s *ScoringConfig) []ValidationError {
	var errors []ValidationError

	if s.MinProfit < 0 {
		errors = append(errors, ValidationError{
			Field:   "scoring.min_profit",
			Message: "must be non-negative",
		})
	}

	if s.ProfitCeiling <= s.MinProfit {
		errors = append(errors, ValidationError{
			Field:   "scoring.profit_ceiling",
			Message: "must be greater than min_profit",
		})
	}

	if s.PositionCeiling <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scoring.position_ceiling",
			Message: "must be positive",
		})
	}

	if s.EstablishedTradeThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "scoring.established_trade_threshold",
			Message: "must be at least 1",
		})
	}

	if s.ActivityLimit < 1 || s.ActivityLimit > 10000 {
		errors = append(errors, ValidationError{
			Field:   "scoring.activity_limit",
			Message: "must be between 1 and 10000",
		})
	}

	return errors
}

func validateCache(c *CacheConfig) []ValidationError {
	var errors []ValidationError

	if c.Backend != "memory" && c.Backend != "redis" {
		errors = append(errors, ValidationError{
			Field:   "cache.backend",
			Message: fmt.Sprintf("unknown backend %q (memory or redis)", c.Backend),
		})
	}

	if c.MarketContextTTL < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "cache.market_context_ttl",
			Message: "must be at least 1 minute",
		})
	}

	if c.WalletTTL < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "cache.wallet_ttl",
			Message: "must be at least 1 minute",
		})
	}

	if c.SaveInterval < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "cache.save_interval",
			Message: "must be at least 1 minute",
		})
	}

	if c.MaxEntries < 0 {
		errors = append(errors, ValidationError{
			Field:   "cache.max_entries",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateStore(s *StoreConfig) []ValidationError {
	var errors []ValidationError

	if s.Driver != "sqlite" && s.Driver != "postgres" {
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Message: fmt.Sprintf("unknown driver %q (sqlite or postgres)", s.Driver),
		})
	}

	if s.DSN == "" {
		errors = append(errors, ValidationError{
			Field:   "store.dsn",
			Message: "must not be empty",
		})
	}

	return errors
}

func validateAlerts(a *AlertsConfig) []ValidationError {
	var errors []ValidationError

	if a.DedupWindow < 1*time.Hour {
		errors = append(errors, ValidationError{
			Field:   "alerts.dedup_window",
			Message: "must be at least 1 hour",
		})
	}

	if !severities[a.MinNotifySeverity] {
		errors = append(errors, ValidationError{
			Field:   "alerts.min_notify_severity",
			Message: "must be one of low, medium, high, critical",
		})
	}

	return errors
}

func validatePolymarket(p *PolymarketConfig) []ValidationError {
	var errors []ValidationError

	if p.GammaAPIURL == "" || p.DataAPIURL == "" {
		errors = append(errors, ValidationError{
			Field:   "polymarket",
			Message: "api urls must not be empty",
		})
	}

	if p.RequestTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "polymarket.request_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Enabled && (hs.Port < 1 || hs.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}
