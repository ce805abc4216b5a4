package insider

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errUpstream = errors.New("upstream unavailable")

// fakeWallet is the canned upstream data for one wallet.
type fakeWallet struct {
	trades      []TradeRecord
	positions   []PositionRecord
	firstTrade  *time.Time
	activityErr error
	positionErr error
}

// fakeSource is an in-memory DataSource. Safe for concurrent use.
type fakeSource struct {
	mu         sync.Mutex
	markets    map[string]MarketInfo
	resolveErr error
	trades     map[string][]TradeRecord
	holders    map[string][]HolderRecord
	wallets    map[string]*fakeWallet

	activityCalls map[string]int
	tradeCalls    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		markets:       make(map[string]MarketInfo),
		trades:        make(map[string][]TradeRecord),
		holders:       make(map[string][]HolderRecord),
		wallets:       make(map[string]*fakeWallet),
		activityCalls: make(map[string]int),
	}
}

func (f *fakeSource) ResolveMarket(_ context.Context, marketID string) (MarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return MarketInfo{}, f.resolveErr
	}
	info, ok := f.markets[marketID]
	if !ok {
		return MarketInfo{}, errors.New("no such market")
	}
	return info, nil
}

func (f *fakeSource) GetMarketTrades(_ context.Context, conditionID string, _ int, _ float64) ([]TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeCalls++
	return f.trades[conditionID], nil
}

func (f *fakeSource) GetWalletActivity(_ context.Context, address string, limit int) ([]TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activityCalls[address]++
	w, ok := f.wallets[address]
	if !ok {
		return nil, nil
	}
	if w.activityErr != nil {
		return nil, w.activityErr
	}
	if len(w.trades) > limit {
		return w.trades[:limit], nil
	}
	return w.trades, nil
}

func (f *fakeSource) GetWalletPositions(_ context.Context, address string) ([]PositionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[address]
	if !ok {
		return nil, nil
	}
	if w.positionErr != nil {
		return nil, w.positionErr
	}
	return w.positions, nil
}

func (f *fakeSource) GetMarketHolders(_ context.Context, conditionID string) ([]HolderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holders[conditionID], nil
}

func (f *fakeSource) GetWalletFirstTradeTimestamp(_ context.Context, address string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[address]
	if !ok {
		return nil, nil
	}
	return w.firstTrade, nil
}

func (f *fakeSource) activityCallsFor(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activityCalls[address]
}

// makeTrades builds n trades of size each, one per hour going back from now,
// spread round-robin over the given markets.
func makeTrades(wallet string, n int, size float64, now time.Time, markets ...string) []TradeRecord {
	if len(markets) == 0 {
		markets = []string{"0xmarket"}
	}
	out := make([]TradeRecord, n)
	for i := 0; i < n; i++ {
		out[i] = TradeRecord{
			Wallet:    wallet,
			MarketID:  markets[i%len(markets)],
			Timestamp: now.Add(-time.Duration(i) * time.Hour),
			Side:      SideBuy,
			SizeUSD:   size,
			Price:     0.5,
		}
	}
	return out
}

// profitableWallet gives a wallet a few winning closed positions worth
// profit in total.
func profitableWallet(wallet string, trades int, profit float64, ageDays float64, now time.Time) *fakeWallet {
	first := now.Add(-time.Duration(ageDays*24) * time.Hour)
	return &fakeWallet{
		trades: makeTrades(wallet, trades, 500, now, "0xmarket"),
		positions: []PositionRecord{
			{MarketID: "0xmarket", Title: "Market", RealizedPnL: profit / 2},
			{MarketID: "0xmarket", Title: "Market", RealizedPnL: profit / 2},
		},
		firstTrade: &first,
	}
}

func ptr[T any](v T) *T {
	return &v
}
