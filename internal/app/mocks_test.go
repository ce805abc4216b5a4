package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"insiderwatch/clients/gist"
	"insiderwatch/clients/notifier"
	"insiderwatch/internal/insider"
)

// MockGistStorage is a mock implementation of gist.Storage for testing.
type MockGistStorage struct {
	mu      sync.RWMutex
	files   map[string]string
	enabled bool
	loadErr error
	saveErr error
	saves   int
}

// NewMockGistStorage creates a new mock gist storage.
func NewMockGistStorage() *MockGistStorage {
	return &MockGistStorage{
		files:   make(map[string]string),
		enabled: true,
	}
}

// IsEnabled returns whether the mock is enabled.
func (m *MockGistStorage) IsEnabled() bool {
	return m.enabled
}

// LoadJSON loads JSON data from a file. Missing files return gist.ErrNotFound.
func (m *MockGistStorage) LoadJSON(_ context.Context, filename string, dest any) error {
	if m.loadErr != nil {
		return m.loadErr
	}
	m.mu.RLock()
	content, ok := m.files[filename]
	m.mu.RUnlock()
	if !ok {
		return gist.ErrNotFound
	}
	return json.Unmarshal([]byte(content), dest)
}

// SaveJSON saves JSON data to a file.
func (m *MockGistStorage) SaveJSON(_ context.Context, filename string, data any) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filename] = string(jsonData)
	m.saves++
	return nil
}

// GetContent returns the content for a filename.
func (m *MockGistStorage) GetContent(filename string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[filename]
}

// mockNotifier records every alert it is sent.
type mockNotifier struct {
	mu      sync.Mutex
	alerts  []notifier.SuspectAlert
	sendErr error
}

func (m *mockNotifier) SendSuspectAlert(_ context.Context, alert notifier.SuspectAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return m.sendErr
}

func (m *mockNotifier) Close() error { return nil }

func (m *mockNotifier) sent() []notifier.SuspectAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notifier.SuspectAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

var errUpstream = errors.New("upstream unavailable")

type fakeWallet struct {
	trades     []insider.TradeRecord
	positions  []insider.PositionRecord
	firstTrade *time.Time
}

// fakeSource is an in-memory insider.DataSource.
type fakeSource struct {
	mu      sync.Mutex
	markets map[string]insider.MarketInfo
	trades  map[string][]insider.TradeRecord
	holders map[string][]insider.HolderRecord
	wallets map[string]*fakeWallet
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		markets: make(map[string]insider.MarketInfo),
		trades:  make(map[string][]insider.TradeRecord),
		holders: make(map[string][]insider.HolderRecord),
		wallets: make(map[string]*fakeWallet),
	}
}

func (f *fakeSource) ResolveMarket(_ context.Context, marketID string) (insider.MarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.markets[marketID]
	if !ok {
		return insider.MarketInfo{}, errUpstream
	}
	return info, nil
}

func (f *fakeSource) GetMarketTrades(_ context.Context, conditionID string, _ int, _ float64) ([]insider.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades[conditionID], nil
}

func (f *fakeSource) GetWalletActivity(_ context.Context, address string, _ int) ([]insider.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wallets[address]; ok {
		return w.trades, nil
	}
	return nil, nil
}

func (f *fakeSource) GetWalletPositions(_ context.Context, address string) ([]insider.PositionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wallets[address]; ok {
		return w.positions, nil
	}
	return nil, nil
}

func (f *fakeSource) GetMarketHolders(_ context.Context, conditionID string) ([]insider.HolderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holders[conditionID], nil
}

func (f *fakeSource) GetWalletFirstTradeTimestamp(_ context.Context, address string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wallets[address]; ok {
		return w.firstTrade, nil
	}
	return nil, nil
}

// addMarket registers a market whose holders are the given wallets.
func (f *fakeSource) addMarket(id, title string, holdings map[string]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[id] = insider.MarketInfo{ID: id, Title: title, ConditionIDs: []string{id}}
	for w, amt := range holdings {
		f.holders[id] = append(f.holders[id], insider.HolderRecord{Wallet: w, MarketID: id, Amount: amt})
		f.trades[id] = append(f.trades[id], insider.TradeRecord{Wallet: w, MarketID: id, SizeUSD: amt, Timestamp: time.Now()})
	}
}

// addWallet gives a wallet a handful of recent trades and two winning
// closed positions worth profit in total.
func (f *fakeSource) addWallet(address, market string, trades int, profit float64, ageDays int) {
	now := time.Now()
	first := now.Add(-time.Duration(ageDays) * 24 * time.Hour)
	w := &fakeWallet{firstTrade: &first}
	for i := 0; i < trades; i++ {
		w.trades = append(w.trades, insider.TradeRecord{
			Wallet:      address,
			MarketID:    market,
			Timestamp:   now.Add(-time.Duration(i) * time.Hour),
			Side:        insider.SideBuy,
			SizeUSD:     500,
			Price:       0.5,
			DisplayName: "lucky",
		})
	}
	w.positions = []insider.PositionRecord{
		{MarketID: market, RealizedPnL: profit / 2},
		{MarketID: market, RealizedPnL: profit / 2},
	}

	f.mu.Lock()
	f.wallets[address] = w
	f.mu.Unlock()
}
