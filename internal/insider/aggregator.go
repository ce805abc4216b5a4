package insider

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"insiderwatch/internal/cache"
)

const (
	DefaultActivityLimit   = 500
	DefaultProfitCeiling   = 10_000_000.0
	DefaultPositionCeiling = 50_000_000.0

	// Wallets with no trades but more positions than this are treated as
	// system or contract accounts.
	maxPositionsWithoutTrades = 10

	// Above this many trades an account age below trades/100 days is assumed
	// to come from truncated history.
	ageCorrectionMinTrades = 50
	tradesPerDayFloor      = 100.0

	minClosedForWinRate = 2
)

// AggregatorOptions bounds wallet fetches and the realism checks.
type AggregatorOptions struct {
	ActivityLimit   int
	ProfitCeiling   float64
	PositionCeiling float64
}

// Aggregator collapses a wallet's trades and positions into a TraderProfile.
type Aggregator struct {
	logger *zap.Logger
	source DataSource
	cache  *cache.Cache[TraderProfile]
	opts   AggregatorOptions
	now    func() time.Time
}

// NewAggregator creates an aggregator. A nil cache disables caching.
func NewAggregator(
	logger *zap.Logger,
	source DataSource,
	c *cache.Cache[TraderProfile],
	opts AggregatorOptions,
) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ActivityLimit <= 0 {
		opts.ActivityLimit = DefaultActivityLimit
	}
	if opts.ProfitCeiling <= 0 {
		opts.ProfitCeiling = DefaultProfitCeiling
	}
	if opts.PositionCeiling <= 0 {
		opts.PositionCeiling = DefaultPositionCeiling
	}
	return &Aggregator{
		logger: logger,
		source: source,
		cache:  c,
		opts:   opts,
		now:    time.Now,
	}
}

// Profile returns the wallet's profile, from cache unless force is set.
// Implausible wallets return ErrImplausibleWallet and are not cached, and
// neither are partial profiles.
func (a *Aggregator) Profile(ctx context.Context, address string, force bool) (*TraderProfile, error) {
	address = normalizeAddress(address)
	if address == "" {
		return nil, fmt.Errorf("profile: empty address")
	}

	if a.cache == nil {
		return a.compute(ctx, address)
	}

	p, err := a.cache.GetOrComputeIf(ctx, address, force, func(ctx context.Context) (TraderProfile, error) {
		p, err := a.compute(ctx, address)
		if err != nil {
			return TraderProfile{}, err
		}
		return *p, nil
	}, func(p TraderProfile) bool { return !p.Partial() })
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *Aggregator) compute(ctx context.Context, address string) (*TraderProfile, error) {
	trades, tradesErr := a.source.GetWalletActivity(ctx, address, a.opts.ActivityLimit)
	if tradesErr != nil {
		a.logger.Warn("wallet activity fetch failed",
			zap.String("wallet", shortAddr(address)),
			zap.Error(tradesErr),
		)
		trades = nil
	}

	positions, posErr := a.source.GetWalletPositions(ctx, address)
	if posErr != nil {
		a.logger.Warn("wallet positions fetch failed",
			zap.String("wallet", shortAddr(address)),
			zap.Error(posErr),
		)
		positions = nil
	}

	if tradesErr != nil && posErr != nil {
		return nil, fmt.Errorf("profile %s: activity: %v; positions: %w", address, tradesErr, posErr)
	}

	firstTrade, err := a.source.GetWalletFirstTradeTimestamp(ctx, address)
	if err != nil {
		a.logger.Debug("first trade lookup failed",
			zap.String("wallet", shortAddr(address)),
			zap.Error(err),
		)
		firstTrade = nil
	}

	p := buildProfile(address, trades, positions, firstTrade, a.now())
	p.ActivityUnavailable = tradesErr != nil
	p.PositionsUnavailable = posErr != nil

	if err := a.checkPlausible(p, positions); err != nil {
		a.logger.Debug("wallet rejected",
			zap.String("wallet", shortAddr(address)),
			zap.Error(err),
		)
		return nil, err
	}
	return p, nil
}

func (a *Aggregator) checkPlausible(p *TraderProfile, positions []PositionRecord) error {
	if p.TotalProfit > a.opts.ProfitCeiling {
		return fmt.Errorf("profit %.0f over ceiling: %w", p.TotalProfit, ErrImplausibleWallet)
	}
	for _, pos := range positions {
		if pos.Size > a.opts.PositionCeiling ||
			pos.InitialValue > a.opts.PositionCeiling ||
			pos.CurrentValue > a.opts.PositionCeiling {
			return fmt.Errorf("position in %s over ceiling: %w", pos.MarketID, ErrImplausibleWallet)
		}
	}
	if !p.ActivityUnavailable && p.TotalTrades == 0 && len(positions) > maxPositionsWithoutTrades {
		return fmt.Errorf("%d positions with no trades: %w", len(positions), ErrImplausibleWallet)
	}
	return nil
}

// buildProfile computes the profile metrics from raw records.
func buildProfile(
	address string,
	trades []TradeRecord,
	positions []PositionRecord,
	firstTrade *time.Time,
	now time.Time,
) *TraderProfile {
	p := &TraderProfile{
		Address:       address,
		TotalTrades:   len(trades),
		PositionCount: len(positions),
		FetchedAt:     now,
	}

	volume := decimal.Zero
	markets := make(map[string]struct{})
	var oldest time.Time
	for _, t := range trades {
		volume = volume.Add(decimal.NewFromFloat(t.SizeUSD))
		if t.SizeUSD > p.LargestTrade {
			p.LargestTrade = t.SizeUSD
		}
		if t.MarketID != "" {
			markets[t.MarketID] = struct{}{}
		}
		if !t.Timestamp.IsZero() && (oldest.IsZero() || t.Timestamp.Before(oldest)) {
			oldest = t.Timestamp
		}
	}
	p.TotalVolume = volume.InexactFloat64()
	if p.TotalTrades > 0 {
		p.AverageTradeSize = volume.Div(decimal.NewFromInt(int64(p.TotalTrades))).InexactFloat64()
	}

	p.UniqueMarketsTraded = len(markets)
	if p.UniqueMarketsTraded == 0 {
		titles := make(map[string]struct{})
		for _, pos := range positions {
			key := pos.Title
			if key == "" {
				key = pos.MarketID
			}
			if key != "" {
				titles[key] = struct{}{}
			}
		}
		p.UniqueMarketsTraded = len(titles)
	}

	var start time.Time
	switch {
	case firstTrade != nil && !firstTrade.IsZero():
		start = *firstTrade
	case !oldest.IsZero():
		start = oldest
	}
	if !start.IsZero() {
		age := now.Sub(start).Hours() / 24
		if age < 0 {
			age = 0
		}
		if p.TotalTrades > ageCorrectionMinTrades {
			if floor := float64(p.TotalTrades) / tradesPerDayFloor; age < floor {
				age = floor
			}
		}
		p.AccountAgeDays = &age
	}

	realized := decimal.Zero
	unrealized := decimal.Zero
	for _, pos := range positions {
		realized = realized.Add(decimal.NewFromFloat(pos.RealizedPnL))
		unrealized = unrealized.Add(decimal.NewFromFloat(pos.UnrealizedPnL))
		if pos.Closed() {
			p.ClosedPositions++
			if pos.RealizedPnL > 0 {
				p.Wins++
			}
		}
		if pos.RealizedPnL > p.LargestWin {
			p.LargestWin = pos.RealizedPnL
		}
	}
	p.RealizedProfit = realized.InexactFloat64()
	p.UnrealizedProfit = unrealized.InexactFloat64()
	p.TotalProfit = realized.Add(unrealized).InexactFloat64()

	if p.ClosedPositions >= minClosedForWinRate {
		p.WinRate = float64(p.Wins) / float64(p.ClosedPositions)
	}

	p.DisplayName, p.PreviousNames = nameHistory(trades)
	return p
}

// nameHistory returns the most recent display name and the distinct earlier
// ones, oldest first.
func nameHistory(trades []TradeRecord) (string, []string) {
	named := make([]TradeRecord, 0, len(trades))
	for _, t := range trades {
		if t.DisplayName != "" {
			named = append(named, t)
		}
	}
	if len(named) == 0 {
		return "", nil
	}
	sort.SliceStable(named, func(i, j int) bool {
		return named[i].Timestamp.Before(named[j].Timestamp)
	})

	current := named[len(named)-1].DisplayName
	seen := map[string]struct{}{current: {}}
	var previous []string
	for _, t := range named {
		if _, ok := seen[t.DisplayName]; ok {
			continue
		}
		seen[t.DisplayName] = struct{}{}
		previous = append(previous, t.DisplayName)
	}
	return current, previous
}

func shortAddr(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}
