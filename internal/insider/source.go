package insider

import (
	"context"
	"time"
)

// DataSource is the upstream market data provider. Implementations must bound
// every call with a timeout; the engine treats a failed call as empty data.
type DataSource interface {
	// ResolveMarket maps a condition id or event slug to its sub-markets.
	ResolveMarket(ctx context.Context, marketID string) (MarketInfo, error)
	GetMarketTrades(ctx context.Context, conditionID string, hoursBack int, minSize float64) ([]TradeRecord, error)
	// GetWalletActivity returns TRADE activity only, newest first.
	GetWalletActivity(ctx context.Context, address string, limit int) ([]TradeRecord, error)
	// GetWalletPositions returns open and closed positions.
	GetWalletPositions(ctx context.Context, address string) ([]PositionRecord, error)
	GetMarketHolders(ctx context.Context, conditionID string) ([]HolderRecord, error)
	// GetWalletFirstTradeTimestamp returns nil when the wallet has no history.
	GetWalletFirstTradeTimestamp(ctx context.Context, address string) (*time.Time, error)
}
