package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"insiderwatch/clients"
	"insiderwatch/clients/gist"
	"insiderwatch/clients/notifier"
	"insiderwatch/clients/polymarketapi"
	"insiderwatch/config"
	"insiderwatch/internal/cache"
	"insiderwatch/internal/insider"
	"insiderwatch/internal/store"
)

const (
	testMarket = "0xmarket"
	testWallet = "0xaaa"
)

type testRunner struct {
	*Runner
	src      *fakeSource
	notifier *mockNotifier
	store    *store.Store
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Scan.Markets = []string{testMarket}
	cfg.Scan.BatchDelay = 0
	cfg.Alerts.MinNotifySeverity = "low"
	cfg.HealthServer.Enabled = false
	return cfg
}

func newTestRunner(t *testing.T, cfg *config.Config) *testRunner {
	t.Helper()

	st, err := store.Open(zap.NewNop(), store.Options{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	src := newFakeSource()
	src.addMarket(testMarket, "Will it happen?", map[string]float64{testWallet: 5000})
	src.addWallet(testWallet, testMarket, 4, 200_000, 2)

	n := &mockNotifier{}
	clts := &clients.Clients{Logger: zap.NewNop(), Notifier: n}
	r := newRunner(clts, config.NewLiveConfig(cfg), st, cache.NewMemory(), src, NewMetrics())

	return &testRunner{Runner: r, src: src, notifier: n, store: st}
}

func TestNewRunner(t *testing.T) {
	cfg := testConfig()
	cfg.Gist = config.GistConfig{Token: ""}

	clts := &clients.Clients{
		Logger:     zap.NewNop(),
		Polymarket: polymarketapi.NewPolymarketApiClient(nil, cfg),
		Gist:       gist.NewClient(nil, cfg),
		Notifier:   notifier.NewMultiNotifier(),
	}

	liveConfig := config.NewLiveConfig(cfg)
	runner := NewRunner(clts, liveConfig, nil, nil)

	if runner.clients != clts {
		t.Error("unexpected clients")
	}
	if runner.liveConfig != liveConfig {
		t.Error("unexpected liveConfig")
	}
	if _, ok := runner.source.(*PolymarketSource); !ok {
		t.Errorf("expected PolymarketSource, got %T", runner.source)
	}
	if runner.cachePersister == nil {
		t.Error("expected cache persister for the memory backend")
	}
	if runner.currentRanker() == nil {
		t.Error("expected ranker to be built")
	}
}

func TestRunCycle_RecordsAndNotifies(t *testing.T) {
	r := newTestRunner(t, testConfig())
	ctx := context.Background()

	r.RunCycle(ctx)

	res, ok := r.LastResult(testMarket)
	if !ok {
		t.Fatal("expected a stored result")
	}
	if res.Error != "" {
		t.Fatalf("unexpected scan error: %s", res.Error)
	}
	if len(res.Suspects) != 1 || res.Suspects[0].Profile.Address != testWallet {
		t.Fatalf("expected %s as the only suspect, got %+v", testWallet, res.Suspects)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Outcome != store.OutcomeCreated || !res.Alerts[0].Notified {
		t.Fatalf("unexpected alert outcomes: %+v", res.Alerts)
	}

	sent := r.notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sent))
	}
	if sent[0].Change != notifier.ChangeCreated {
		t.Errorf("expected created change, got %s", sent[0].Change)
	}
	if sent[0].MarketTitle != "Will it happen?" {
		t.Errorf("unexpected market title: %s", sent[0].MarketTitle)
	}
	if sent[0].RunID == "" || sent[0].AlertID != res.Alerts[0].AlertID {
		t.Errorf("notification should carry run and alert ids: %+v", sent[0])
	}

	acct, err := r.store.GetAccount(ctx, testWallet)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.IsFlagged || acct.RiskScore != res.Suspects[0].RiskScore {
		t.Errorf("unexpected account: flagged=%v score=%d", acct.IsFlagged, acct.RiskScore)
	}

	// A second cycle finds the same wallet at the same severity: the alert is
	// patched, not duplicated, and nobody is notified again.
	r.RunCycle(ctx)

	alerts, err := r.store.ListAlerts(ctx, store.AlertFilter{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("expected 1 alert after two cycles, got %d", len(alerts))
	}
	if got := len(r.notifier.sent()); got != 1 {
		t.Errorf("expected no repeat notification, got %d total", got)
	}
	if res, _ := r.LastResult(testMarket); res.Alerts[0].Outcome != store.OutcomeUpdated {
		t.Errorf("expected updated outcome, got %s", res.Alerts[0].Outcome)
	}

	stats := r.GetStats(ctx)
	if stats.Scan.Cycles != 2 {
		t.Errorf("expected 2 cycles, got %d", stats.Scan.Cycles)
	}
	if stats.Alerts.Total != 1 || stats.Alerts.ByStatus[store.StatusNew] != 1 {
		t.Errorf("unexpected alert stats: %+v", stats.Alerts)
	}
}

func TestRunCycle_MarketNotFound(t *testing.T) {
	cfg := testConfig()
	cfg.Scan.Markets = []string{"missing-event", testMarket}
	r := newTestRunner(t, cfg)

	r.RunCycle(context.Background())

	res, ok := r.LastResult("missing-event")
	if !ok || res.Error == "" {
		t.Fatalf("expected an error result for the missing market, got %+v", res)
	}
	if res, _ := r.LastResult(testMarket); len(res.Suspects) != 1 {
		t.Error("a missing market should not stop the rest of the cycle")
	}
	if stats := r.GetStats(context.Background()); stats.Scan.LastScanErrors != 1 {
		t.Errorf("expected 1 scan error, got %d", stats.Scan.LastScanErrors)
	}
}

func TestScanMarket_NotFound(t *testing.T) {
	r := newTestRunner(t, testConfig())

	_, err := r.ScanMarket(context.Background(), "missing-event", false)
	if !errors.Is(err, insider.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestRunCycle_NotifierErrorDoesNotFailScan(t *testing.T) {
	r := newTestRunner(t, testConfig())
	r.notifier.sendErr = errors.New("discord down")

	r.RunCycle(context.Background())

	res, _ := r.LastResult(testMarket)
	if res.Error != "" {
		t.Fatalf("unexpected scan error: %s", res.Error)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Notified {
		t.Errorf("alert should be recorded but not marked notified: %+v", res.Alerts)
	}
}

func TestOnConfigUpdate_RebuildsEngine(t *testing.T) {
	r := newTestRunner(t, testConfig())
	r.liveConfig.AddObserver(r)

	err := r.liveConfig.UpdatePartial(func(c *config.Config) {
		c.Scoring.MinProfit = 5_000_000
	})
	if err != nil {
		t.Fatalf("update config: %v", err)
	}

	r.RunCycle(context.Background())

	res, _ := r.LastResult(testMarket)
	if len(res.Suspects) != 0 {
		t.Errorf("expected the raised profit floor to exclude the wallet, got %d suspects", len(res.Suspects))
	}
}

func suspect(address string, sev insider.Severity, score int) *insider.SuspectedInsider {
	return &insider.SuspectedInsider{
		Profile:    insider.TraderProfile{Address: address, TotalProfit: 50_000, TotalTrades: 3},
		MarketID:   testMarket,
		RiskScore:  score,
		Severity:   sev,
		SignalType: insider.SignalNewAccountLargeBet,
		Evidence:   []string{"Only 3 trades"},
	}
}

func TestRecordSuspect_EscalationAndThreshold(t *testing.T) {
	r := newTestRunner(t, testConfig())
	ctx := context.Background()
	mctx := &insider.MarketContext{MarketID: "fed-decision", Title: "Fed decision"}

	// Below the notify threshold: recorded, not sent.
	out, err := r.recordSuspect(ctx, "run-1", mctx, suspect("0xbbb", insider.SeverityMedium, 45), insider.SeverityHigh)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if out.Outcome != store.OutcomeCreated || out.Notified {
		t.Errorf("unexpected outcome: %+v", out)
	}

	// Escalation past the threshold notifies with the previous severity.
	out, err = r.recordSuspect(ctx, "run-2", mctx, suspect("0xbbb", insider.SeverityHigh, 65), insider.SeverityHigh)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if out.Outcome != store.OutcomeUpdated || !out.Notified {
		t.Errorf("expected escalated notification, got %+v", out)
	}
	sent := r.notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sent))
	}
	if sent[0].Change != notifier.ChangeEscalated || sent[0].PreviousSeverity != "medium" {
		t.Errorf("unexpected escalation alert: %+v", sent[0])
	}
	if sent[0].MarketURL != "https://polymarket.com/event/fed-decision" {
		t.Errorf("unexpected market URL: %s", sent[0].MarketURL)
	}

	// A weaker finding leaves the alert alone.
	out, err = r.recordSuspect(ctx, "run-3", mctx, suspect("0xbbb", insider.SeverityLow, 20), insider.SeverityLow)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if out.Outcome != store.OutcomeUnchanged || out.Notified {
		t.Errorf("unexpected outcome for weaker finding: %+v", out)
	}

	acct, err := r.store.GetAccount(ctx, "0xbbb")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.RiskScore != 65 {
		t.Errorf("stored risk score should keep the maximum, got %d", acct.RiskScore)
	}
}

func TestAlertTitleAndMarketURL(t *testing.T) {
	s := suspect("0xbbb", insider.SeverityHigh, 70)

	if got := alertTitle(s, &insider.MarketContext{MarketID: "0xabc"}); got != "new account large bet: 0xabc" {
		t.Errorf("unexpected title: %s", got)
	}
	if got := alertTitle(s, &insider.MarketContext{MarketID: "0xabc", Title: "Rates"}); got != "new account large bet: Rates" {
		t.Errorf("unexpected title: %s", got)
	}

	tests := []struct {
		id, want string
	}{
		{"", ""},
		{"0xABC", ""},
		{"fed-decision", "https://polymarket.com/event/fed-decision"},
	}
	for _, tt := range tests {
		if got := marketURL(tt.id); got != tt.want {
			t.Errorf("marketURL(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := newTestRunner(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Give the first cycle a chance to run, then stop.
	for i := 0; i < 200; i++ {
		if _, ok := r.LastResult(testMarket); ok {
			break
		}
		select {
		case err := <-done:
			t.Fatalf("Run returned early: %v", err)
		default:
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, ok := r.LastResult(testMarket); !ok {
		t.Error("expected the first cycle to run immediately")
	}
}

func TestPruneLoop_DropsExpiredEntries(t *testing.T) {
	r := newTestRunner(t, testConfig())
	mem, ok := r.backend.(*cache.Memory)
	if !ok {
		t.Fatalf("expected memory backend, got %T", r.backend)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mem.Set(ctx, "wallet:0xold", []byte(`{}`), time.Millisecond); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := mem.Set(ctx, "wallet:0xnew", []byte(`{}`), time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		r.pruneLoop(ctx, mem, 5*time.Millisecond)
		close(done)
	}()

	for i := 0; i < 200 && mem.Len() != 1; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if mem.Len() != 1 {
		t.Errorf("expected only the live entry to remain, got %d", mem.Len())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prune loop did not stop on cancel")
	}
}
