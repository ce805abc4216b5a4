package insider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"insiderwatch/internal/cache"
)

const (
	DefaultLookbackHours = 72
	DefaultMinTradeSize  = 50.0
	topTraderCount       = 5
)

// ContextOptions tunes the trade window used for market aggregates.
type ContextOptions struct {
	LookbackHours int
	MinTradeSize  float64
}

// ContextBuilder computes MarketContext aggregates from trades and holders.
type ContextBuilder struct {
	logger *zap.Logger
	source DataSource
	cache  *cache.Cache[MarketContext]
	opts   ContextOptions
	now    func() time.Time
}

// NewContextBuilder creates a builder. A nil cache disables caching.
func NewContextBuilder(
	logger *zap.Logger,
	source DataSource,
	c *cache.Cache[MarketContext],
	opts ContextOptions,
) *ContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LookbackHours <= 0 {
		opts.LookbackHours = DefaultLookbackHours
	}
	if opts.MinTradeSize < 0 {
		opts.MinTradeSize = DefaultMinTradeSize
	}
	return &ContextBuilder{
		logger: logger,
		source: source,
		cache:  c,
		opts:   opts,
		now:    time.Now,
	}
}

// Build returns the market context for a condition id or event slug, served
// from cache when fresh. It returns ErrMarketNotFound when the identifier has
// no metadata, no trades and no holders.
func (b *ContextBuilder) Build(ctx context.Context, marketID string) (*MarketContext, error) {
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return nil, fmt.Errorf("build market context: %w", ErrMarketNotFound)
	}

	if b.cache == nil {
		return b.compute(ctx, marketID)
	}

	mctx, err := b.cache.GetOrCompute(ctx, marketID, false, func(ctx context.Context) (MarketContext, error) {
		m, err := b.compute(ctx, marketID)
		if err != nil {
			return MarketContext{}, err
		}
		return *m, nil
	})
	if err != nil {
		return nil, err
	}
	return &mctx, nil
}

func (b *ContextBuilder) compute(ctx context.Context, marketID string) (*MarketContext, error) {
	foundMetadata := false
	info, err := b.source.ResolveMarket(ctx, marketID)
	if err != nil {
		b.logger.Warn("market resolution failed, treating id as condition id",
			zap.String("market", marketID),
			zap.Error(err),
		)
	} else if info.Title != "" || len(info.ConditionIDs) > 0 {
		foundMetadata = true
	}

	conditionIDs := info.ConditionIDs
	if len(conditionIDs) == 0 {
		conditionIDs = []string{marketID}
	}

	var trades []TradeRecord
	for _, cid := range conditionIDs {
		batch, err := b.source.GetMarketTrades(ctx, cid, b.opts.LookbackHours, b.opts.MinTradeSize)
		if err != nil {
			b.logger.Warn("market trades fetch failed",
				zap.String("market", marketID),
				zap.String("condition_id", cid),
				zap.Error(err),
			)
			continue
		}
		trades = append(trades, batch...)
	}

	var holders []HolderRecord
	for _, cid := range conditionIDs {
		batch, err := b.source.GetMarketHolders(ctx, cid)
		if err != nil {
			b.logger.Warn("market holders fetch failed",
				zap.String("market", marketID),
				zap.String("condition_id", cid),
				zap.Error(err),
			)
			continue
		}
		holders = append(holders, batch...)
	}

	if !foundMetadata && len(trades) == 0 && len(holders) == 0 {
		return nil, fmt.Errorf("market %s: %w", marketID, ErrMarketNotFound)
	}

	mctx := aggregateMarket(trades, holders)
	mctx.MarketID = marketID
	mctx.Title = info.Title
	mctx.ConditionIDs = conditionIDs
	mctx.BuiltAt = b.now()

	b.logger.Debug("market context built",
		zap.String("market", marketID),
		zap.Int("trades", mctx.TradeCount),
		zap.Int("traders", mctx.UniqueTraders),
		zap.Int("holders", mctx.HolderCount),
		zap.Float64("volume", mctx.TotalVolume),
	)
	return mctx, nil
}

// aggregateMarket computes volume and dominance aggregates. An empty trade
// set yields zero averages.
func aggregateMarket(trades []TradeRecord, holders []HolderRecord) *MarketContext {
	mctx := &MarketContext{
		Dominance:    make(map[string]float64),
		WalletVolume: make(map[string]float64),
		LargestTrade: make(map[string]float64),
	}

	total := decimal.Zero
	perWallet := make(map[string]decimal.Decimal)
	for _, t := range trades {
		wallet := normalizeAddress(t.Wallet)
		if wallet == "" {
			continue
		}
		size := decimal.NewFromFloat(t.SizeUSD)
		total = total.Add(size)
		perWallet[wallet] = perWallet[wallet].Add(size)
		if t.SizeUSD > mctx.LargestTrade[wallet] {
			mctx.LargestTrade[wallet] = t.SizeUSD
		}
		mctx.TradeCount++
	}

	mctx.TotalVolume = total.InexactFloat64()
	if mctx.TradeCount > 0 {
		mctx.AvgTradeSize = total.Div(decimal.NewFromInt(int64(mctx.TradeCount))).InexactFloat64()
	}
	mctx.UniqueTraders = len(perWallet)

	traders := make([]TraderVolume, 0, len(perWallet))
	for wallet, vol := range perWallet {
		v := vol.InexactFloat64()
		mctx.WalletVolume[wallet] = v
		traders = append(traders, TraderVolume{Wallet: wallet, Volume: v})
	}
	sortTraderVolumes(traders)
	if len(traders) > topTraderCount {
		traders = traders[:topTraderCount]
	}
	mctx.TopTraders = traders

	holdings := make(map[string]decimal.Decimal)
	totalHeld := decimal.Zero
	for _, h := range holders {
		wallet := normalizeAddress(h.Wallet)
		if wallet == "" || h.Amount <= 0 {
			continue
		}
		amt := decimal.NewFromFloat(h.Amount)
		holdings[wallet] = holdings[wallet].Add(amt)
		totalHeld = totalHeld.Add(amt)
	}
	mctx.HolderCount = len(holdings)
	if totalHeld.IsPositive() {
		for wallet, amt := range holdings {
			mctx.Dominance[wallet] = amt.Div(totalHeld).InexactFloat64()
		}
	}

	return mctx
}

func sortTraderVolumes(tv []TraderVolume) {
	sort.Slice(tv, func(i, j int) bool {
		if tv[i].Volume != tv[j].Volume {
			return tv[i].Volume > tv[j].Volume
		}
		return tv[i].Wallet < tv[j].Wallet
	})
}
