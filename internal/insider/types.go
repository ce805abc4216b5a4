// Package insider scores prediction-market wallets for likely insider trading.
//
// The pipeline is: DataSource → ContextBuilder and Aggregator → Scorer →
// Ranker. Everything in this package is deterministic for fixed inputs apart
// from the injected caches.
package insider

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrMarketNotFound is returned when a market identifier resolves to no
	// metadata, no trades and no holders.
	ErrMarketNotFound = errors.New("market not found")

	// ErrImplausibleWallet marks wallets whose data fails the realism checks
	// (likely contracts or system accounts).
	ErrImplausibleWallet = errors.New("implausible wallet data")

	// ErrNotProfitable marks wallets below the profitability floor.
	ErrNotProfitable = errors.New("wallet below profit floor")
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes an upstream side string.
func ParseSide(s string) Side {
	if strings.EqualFold(strings.TrimSpace(s), string(SideSell)) {
		return SideSell
	}
	return SideBuy
}

// TradeRecord is one executed trade. Records are never mutated.
type TradeRecord struct {
	Wallet      string    `json:"wallet"`
	MarketID    string    `json:"marketId"`
	Title       string    `json:"title,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Side        Side      `json:"side"`
	SizeUSD     float64   `json:"sizeUsd"`
	Price       float64   `json:"price"`
	Outcome     string    `json:"outcome,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
}

// PositionRecord is a wallet's stake in one outcome of a market.
type PositionRecord struct {
	MarketID      string  `json:"marketId"`
	Title         string  `json:"title,omitempty"`
	Size          float64 `json:"size"`
	InitialValue  float64 `json:"initialValue"`
	CurrentValue  float64 `json:"currentValue"`
	RealizedPnL   float64 `json:"realizedPnl"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	OutcomeIndex  int     `json:"outcomeIndex"`
}

// Closed reports whether the position has resolved. A non-zero realized P&L
// is the proxy upstream gives us.
func (p PositionRecord) Closed() bool {
	return p.RealizedPnL != 0
}

// HolderRecord is a wallet's share of outstanding positions in a market.
type HolderRecord struct {
	Wallet          string  `json:"wallet"`
	MarketID        string  `json:"marketId"`
	Amount          float64 `json:"amount"`
	Outcome         string  `json:"outcome,omitempty"`
	PercentOfMarket float64 `json:"percentOfMarket"`
	DisplayName     string  `json:"displayName,omitempty"`
}

// MarketInfo is the resolved identity of a logical market. An event resolves
// to every sub-market it contains.
type MarketInfo struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	ConditionIDs []string `json:"conditionIds"`
}

// TraderVolume pairs a wallet with its traded volume in one market.
type TraderVolume struct {
	Wallet string  `json:"wallet"`
	Volume float64 `json:"volume"`
}

// MarketContext holds the aggregates used to normalize trader signals.
// Dominance fractions sum to at most 1.
type MarketContext struct {
	MarketID      string             `json:"marketId"`
	Title         string             `json:"title"`
	ConditionIDs  []string           `json:"conditionIds"`
	TradeCount    int                `json:"tradeCount"`
	TotalVolume   float64            `json:"totalVolume"`
	AvgTradeSize  float64            `json:"avgTradeSize"`
	UniqueTraders int                `json:"uniqueTraders"`
	HolderCount   int                `json:"holderCount"`
	Dominance     map[string]float64 `json:"dominance"`
	WalletVolume  map[string]float64 `json:"walletVolume"`
	LargestTrade  map[string]float64 `json:"largestTrade"`
	TopTraders    []TraderVolume     `json:"topTraders"`
	BuiltAt       time.Time          `json:"builtAt"`
}

// DominanceOf returns the wallet's share of market holdings, or 0.
func (m *MarketContext) DominanceOf(wallet string) float64 {
	if m == nil {
		return 0
	}
	return m.Dominance[normalizeAddress(wallet)]
}

// TraderProfile is the per-wallet aggregate the scorer works from.
type TraderProfile struct {
	Address             string    `json:"address"`
	DisplayName         string    `json:"displayName,omitempty"`
	PreviousNames       []string  `json:"previousNames,omitempty"`
	AccountAgeDays      *float64  `json:"accountAgeDays,omitempty"`
	TotalTrades         int       `json:"totalTrades"`
	TotalVolume         float64   `json:"totalVolume"`
	AverageTradeSize    float64   `json:"averageTradeSize"`
	PositionCount       int       `json:"positionCount"`
	ClosedPositions     int       `json:"closedPositions"`
	Wins                int       `json:"wins"`
	WinRate             float64   `json:"winRate"`
	RealizedProfit      float64   `json:"realizedProfit"`
	UnrealizedProfit    float64   `json:"unrealizedProfit"`
	TotalProfit         float64   `json:"totalProfit"`
	UniqueMarketsTraded int       `json:"uniqueMarketsTraded"`
	LargestTrade        float64   `json:"largestTrade"`
	LargestWin          float64   `json:"largestWin"`
	FetchedAt           time.Time `json:"fetchedAt"`

	// Set when the matching upstream lookup failed and the profile was built
	// without it.
	ActivityUnavailable  bool `json:"activityUnavailable,omitempty"`
	PositionsUnavailable bool `json:"positionsUnavailable,omitempty"`
}

// Partial reports whether part of the wallet's data failed to load.
func (p TraderProfile) Partial() bool {
	return p.ActivityUnavailable || p.PositionsUnavailable
}

// Severity is the ordered alert/flag severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities low < medium < high < critical. Unknown values rank
// below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity parses a severity name, defaulting to low.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// FlagName identifies a scoring signal category.
type FlagName string

const (
	FlagLargeProfit      FlagName = "large_profit"
	FlagFreshWallet      FlagName = "fresh_wallet"
	FlagYoungAccount     FlagName = "young_account"
	FlagConcentratedBets FlagName = "concentrated_bets"
	FlagHighWinRate      FlagName = "high_win_rate"
	FlagOutsizedTrade    FlagName = "outsized_trade"
	FlagMarketDominance  FlagName = "market_dominance"
)

// InsiderFlag is one fired signal contributing Weight points to the score.
type InsiderFlag struct {
	Name     FlagName `json:"name"`
	Severity Severity `json:"severity"`
	Weight   int      `json:"weight"`
	Detail   string   `json:"detail"`
}

// SignalType classifies an alert for the sink.
type SignalType string

const (
	SignalNewAccountLargeBet       SignalType = "new_account_large_bet"
	SignalTimingCorrelation        SignalType = "timing_correlation"
	SignalStatisticalImprobability SignalType = "statistical_improbability"
	SignalAccountObfuscation       SignalType = "account_obfuscation"
	SignalDisproportionateBet      SignalType = "disproportionate_bet"
	SignalPatternMatch             SignalType = "pattern_match"
)

// EvidenceMetrics is the checkable metric payload attached to a finding.
// Nil fields were not available for this wallet.
type EvidenceMetrics struct {
	TotalProfit       *float64 `json:"totalProfit,omitempty"`
	WinRate           *float64 `json:"winRate,omitempty"`
	AccountAgeDays    *float64 `json:"accountAgeDays,omitempty"`
	TotalTrades       *int     `json:"totalTrades,omitempty"`
	UniqueMarkets     *int     `json:"uniqueMarkets,omitempty"`
	LargestTrade      *float64 `json:"largestTrade,omitempty"`
	TradeSizeMultiple *float64 `json:"tradeSizeMultiple,omitempty"`
	MarketDominance   *float64 `json:"marketDominance,omitempty"`
	RiskScore         int      `json:"riskScore"`
	Probability       float64  `json:"probability"`
}

// SuspectedInsider is the engine's output for one wallet. It is built fresh
// each run and not mutated afterwards.
type SuspectedInsider struct {
	Profile     TraderProfile   `json:"profile"`
	MarketID    string          `json:"marketId"`
	RiskScore   int             `json:"riskScore"`
	Severity    Severity        `json:"severity"`
	Probability float64         `json:"probability"`
	Flags       []InsiderFlag   `json:"flags"`
	Evidence    []string        `json:"evidence"`
	Metrics     EvidenceMetrics `json:"metrics"`
	SignalType  SignalType      `json:"signalType"`
}

// FlagNames returns the names of the fired flags in order.
func (s *SuspectedInsider) FlagNames() []string {
	names := make([]string, len(s.Flags))
	for i, f := range s.Flags {
		names[i] = string(f.Name)
	}
	return names
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
