package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	clts "insiderwatch/clients"
	"insiderwatch/clients/notifier"
	"insiderwatch/config"
	"insiderwatch/internal/cache"
	"insiderwatch/internal/insider"
	"insiderwatch/internal/store"
)

var _ config.Observer = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

const (
	walletNamespace = "wallet"
	marketNamespace = "market"

	cachePruneInterval = 5 * time.Minute
)

// MarketResult is the outcome of the latest scan of one market.
type MarketResult struct {
	MarketID   string                     `json:"market_id"`
	Title      string                     `json:"title"`
	RunID      string                     `json:"run_id"`
	ScannedAt  time.Time                  `json:"scanned_at"`
	Duration   string                     `json:"duration"`
	Candidates int                        `json:"candidates"`
	Skipped    int                        `json:"skipped"`
	Analyzed   int                        `json:"analyzed"`
	Rejected   int                        `json:"rejected"`
	Failed     int                        `json:"failed"`
	Suspects   []insider.SuspectedInsider `json:"suspects"`
	Alerts     []AlertOutcome             `json:"alerts"`
	Error      string                     `json:"error,omitempty"`
}

// AlertOutcome links a suspect to the alert it landed on.
type AlertOutcome struct {
	Wallet   string             `json:"wallet"`
	AlertID  string             `json:"alert_id"`
	Outcome  store.MergeOutcome `json:"outcome"`
	Severity insider.Severity   `json:"severity"`
	Notified bool               `json:"notified"`
}

type cycleInfo struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Markets  int
	Suspects int
	Errors   int
}

type Runner struct {
	clients        *clts.Clients
	liveConfig     *config.LiveConfig
	store          *store.Store
	source         insider.DataSource
	notifier       notifier.Notifier
	backend        cache.Backend
	metrics        *Metrics
	marketCache    *cache.Cache[insider.MarketContext]
	walletCache    *cache.Cache[insider.TraderProfile]
	cachePersister *CachePersister
	healthServer   *http.Server
	startTime      time.Time
	now            func() time.Time

	mu        sync.RWMutex
	ranker    *insider.Ranker
	results   map[string]*MarketResult
	lastCycle cycleInfo
	cycles    int

	// scanMu keeps cycles and on-demand scans from overlapping.
	scanMu sync.Mutex
}

// NewRunner wires the engine over the Polymarket client. backend holds the
// market and wallet caches.
func NewRunner(
	clients *clts.Clients,
	liveConfig *config.LiveConfig,
	st *store.Store,
	backend cache.Backend,
) *Runner {
	cfg := liveConfig.Get()
	source := NewPolymarketSource(clients.Logger, clients.Polymarket, cfg.Polymarket.RequestTimeout)
	return newRunner(clients, liveConfig, st, backend, source, NewMetrics())
}

func newRunner(
	clients *clts.Clients,
	liveConfig *config.LiveConfig,
	st *store.Store,
	backend cache.Backend,
	source insider.DataSource,
	metrics *Metrics,
) *Runner {
	if clients.Logger == nil {
		clients.Logger = zap.NewNop()
	}
	if backend == nil {
		backend = cache.NewMemory()
	}
	cfg := liveConfig.Get()

	r := &Runner{
		clients:    clients,
		liveConfig: liveConfig,
		store:      st,
		source:     source,
		notifier:   clients.Notifier,
		backend:    backend,
		metrics:    metrics,
		startTime:  time.Now(),
		now:        time.Now,
		results:    make(map[string]*MarketResult),
	}
	if r.notifier == nil {
		r.notifier = notifier.NewMultiNotifier()
	}

	r.marketCache = cache.New[insider.MarketContext](clients.Logger, backend, marketNamespace, cfg.Cache.MarketContextTTL)
	r.walletCache = cache.New[insider.TraderProfile](clients.Logger, backend, walletNamespace, cfg.Cache.WalletTTL)
	r.ranker = r.buildRanker(cfg)

	if mem, ok := backend.(*cache.Memory); ok && clients.Gist != nil {
		r.cachePersister = NewCachePersister(
			clients.Logger,
			clients.Gist,
			mem,
			walletNamespace+":",
			cfg.Cache.SaveInterval,
			cfg.Cache.FileName,
			cfg.Cache.MaxEntries,
		)
	}
	return r
}

func (r *Runner) buildRanker(cfg *config.Config) *insider.Ranker {
	logger := r.clients.Logger
	contexts := insider.NewContextBuilder(logger, r.source, r.marketCache, insider.ContextOptions{
		LookbackHours: cfg.Scan.LookbackHours,
		MinTradeSize:  cfg.Scan.MinTradeSize,
	})
	aggregator := insider.NewAggregator(logger, r.source, r.walletCache, insider.AggregatorOptions{
		ActivityLimit:   cfg.Scoring.ActivityLimit,
		ProfitCeiling:   cfg.Scoring.ProfitCeiling,
		PositionCeiling: cfg.Scoring.PositionCeiling,
	})
	scorer := insider.NewScorer(insider.ScorerOptions{
		MinProfit:                 cfg.Scoring.MinProfit,
		EstablishedTradeThreshold: cfg.Scoring.EstablishedTradeThreshold,
	})
	return insider.NewRanker(logger, contexts, aggregator, scorer, insider.RankerOptions{
		LargeTradeFloor: cfg.Scan.LargeTradeFloor,
		BatchSize:       cfg.Scan.BatchSize,
		BatchDelay:      cfg.Scan.BatchDelay,
		MaxWallets:      cfg.Scan.MaxWallets,
		TopN:            cfg.Scan.TopN,
	})
}

// OnConfigUpdate rebuilds the engine with the new scan and scoring options.
// Caches are kept; TTL and backend changes need a restart.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.clients.Logger.Info("config update received, rebuilding engine",
		zap.Strings("markets", cfg.Scan.Markets),
		zap.Duration("interval", cfg.Scan.Interval),
		zap.Float64("minProfit", cfg.Scoring.MinProfit),
	)
	ranker := r.buildRanker(cfg)
	r.mu.Lock()
	r.ranker = ranker
	r.mu.Unlock()
}

func (r *Runner) currentRanker() *insider.Ranker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ranker
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	r.liveConfig.AddObserver(r)

	logger.Info("starting insider scan",
		zap.Strings("markets", cfg.Scan.Markets),
		zap.Duration("interval", cfg.Scan.Interval),
		zap.String("cacheBackend", cfg.Cache.Backend),
		zap.Duration("dedupWindow", cfg.Alerts.DedupWindow),
	)

	if r.cachePersister != nil {
		loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
		if imported, err := r.cachePersister.LoadCache(loadCtx); err != nil {
			logger.Warn("failed to load cache from gist", zap.Error(err))
		} else if imported > 0 {
			logger.Info("restored wallet cache from gist",
				zap.Int("wallets", imported),
			)
		}
		loadCancel()
		go r.cachePersister.Run(ctx)
	}

	if mem, ok := r.backend.(*cache.Memory); ok {
		go r.pruneLoop(ctx, mem, cachePruneInterval)
	}

	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("runner shutting down")
			if r.healthServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = r.healthServer.Shutdown(shutdownCtx)
				shutdownCancel()
			}
			return nil

		case <-timer.C:
			r.RunCycle(ctx)
			timer.Reset(r.liveConfig.Get().Scan.Interval)
		}
	}
}

// pruneLoop drops expired in-memory cache entries until ctx is done.
func (r *Runner) pruneLoop(ctx context.Context, mem *cache.Memory, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := mem.PruneExpired(); pruned > 0 {
				r.clients.Logger.Debug("pruned expired cache entries",
					zap.Int("pruned", pruned),
					zap.Int("remaining", mem.Len()),
				)
			}
		}
	}
}

// RunCycle scans every configured market once with a shared session, so a
// wallet active in several markets is scored once per cycle.
func (r *Runner) RunCycle(ctx context.Context) {
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	info := cycleInfo{
		RunID:   uuid.NewString(),
		Started: r.now(),
	}
	session := insider.NewSession()

	for _, marketID := range cfg.Scan.Markets {
		if ctx.Err() != nil {
			break
		}
		res, err := r.scan(ctx, marketID, info.RunID, session, false)
		info.Markets++
		if err != nil {
			info.Errors++
			continue
		}
		info.Suspects += len(res.Suspects)
	}

	info.Finished = r.now()
	r.mu.Lock()
	r.lastCycle = info
	r.cycles++
	r.mu.Unlock()

	r.metrics.ScanCycles.Inc()
	r.metrics.LastScan.Set(float64(info.Finished.Unix()))

	logger.Info("scan cycle complete",
		zap.String("runID", info.RunID),
		zap.Int("markets", info.Markets),
		zap.Int("suspects", info.Suspects),
		zap.Int("errors", info.Errors),
		zap.Int("walletsSeen", session.Len()),
		zap.Duration("took", info.Finished.Sub(info.Started)),
	)
}

// ScanMarket runs one on-demand scan outside the cycle. force bypasses the
// wallet profile cache.
func (r *Runner) ScanMarket(ctx context.Context, marketID string, force bool) (*MarketResult, error) {
	return r.scan(ctx, marketID, uuid.NewString(), nil, force)
}

func (r *Runner) scan(
	ctx context.Context,
	marketID string,
	runID string,
	session *insider.Session,
	force bool,
) (*MarketResult, error) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	logger := r.clients.Logger
	cfg := r.liveConfig.Get()
	started := r.now()
	timer := r.metrics.ScanDuration
	defer func() { timer.Observe(r.now().Sub(started).Seconds()) }()

	result := &MarketResult{
		MarketID:  marketID,
		RunID:     runID,
		ScannedAt: started,
	}

	ranked, err := r.currentRanker().Rank(ctx, insider.RankRequest{
		MarketID:     marketID,
		MinRiskScore: cfg.Scan.MinRiskScore,
		Session:      session,
		Force:        force,
	})
	if err != nil {
		label := "error"
		if errors.Is(err, insider.ErrMarketNotFound) {
			label = "not_found"
			logger.Warn("market not found", zap.String("market", marketID))
		} else {
			logger.Error("market scan failed", zap.String("market", marketID), zap.Error(err))
		}
		r.metrics.MarketScans.WithLabelValues(label).Inc()
		result.Error = err.Error()
		r.storeResult(result)
		return nil, err
	}

	result.Title = ranked.Market.Title
	result.Candidates = ranked.Candidates
	result.Skipped = ranked.Skipped
	result.Analyzed = ranked.Analyzed
	result.Rejected = ranked.Rejected
	result.Failed = ranked.Failed
	result.Suspects = ranked.Suspects

	r.metrics.WalletsAnalyzed.WithLabelValues("analyzed").Add(float64(ranked.Analyzed))
	r.metrics.WalletsAnalyzed.WithLabelValues("rejected").Add(float64(ranked.Rejected))
	r.metrics.WalletsAnalyzed.WithLabelValues("failed").Add(float64(ranked.Failed))
	r.metrics.WalletsAnalyzed.WithLabelValues("skipped").Add(float64(ranked.Skipped))

	minNotify := insider.ParseSeverity(cfg.Alerts.MinNotifySeverity)
	for i := range ranked.Suspects {
		s := &ranked.Suspects[i]
		r.metrics.Suspects.WithLabelValues(string(s.Severity)).Inc()

		outcome, err := r.recordSuspect(ctx, runID, ranked.Market, s, minNotify)
		if err != nil {
			r.metrics.MarketScans.WithLabelValues("error").Inc()
			result.Error = err.Error()
			r.storeResult(result)
			logger.Error("failed to record suspect",
				zap.String("market", marketID),
				zap.String("wallet", shortID(s.Profile.Address)),
				zap.Error(err),
			)
			return nil, err
		}
		result.Alerts = append(result.Alerts, outcome)
	}

	result.Duration = r.now().Sub(started).Round(time.Millisecond).String()
	r.metrics.MarketScans.WithLabelValues("ok").Inc()
	r.storeResult(result)

	logger.Info("market scanned",
		zap.String("market", marketID),
		zap.String("title", result.Title),
		zap.Int("candidates", result.Candidates),
		zap.Int("analyzed", result.Analyzed),
		zap.Int("suspects", len(result.Suspects)),
	)
	return result, nil
}

// recordSuspect upserts the account, merges the finding into its alerts and
// notifies when the alert is new or escalated past minNotify.
func (r *Runner) recordSuspect(
	ctx context.Context,
	runID string,
	mctx *insider.MarketContext,
	s *insider.SuspectedInsider,
	minNotify insider.Severity,
) (AlertOutcome, error) {
	out := AlertOutcome{Wallet: s.Profile.Address, Severity: s.Severity}

	acct, err := r.store.UpsertAccount(ctx, store.AccountUpdateFromSuspect(s))
	if err != nil {
		return out, fmt.Errorf("upsert account: %w", err)
	}

	merge, err := r.store.CreateOrMergeAlert(ctx, store.Finding{
		AccountID:   acct.ID,
		MarketID:    mctx.MarketID,
		Severity:    s.Severity,
		SignalType:  s.SignalType,
		Title:       alertTitle(s, mctx),
		Description: strings.Join(s.Evidence, "; "),
		Evidence: store.AlertEvidence{
			Metrics:   s.Metrics,
			Reasoning: s.Evidence,
			Flags:     s.Flags,
		},
		RunID: runID,
	})
	if err != nil {
		return out, fmt.Errorf("merge alert: %w", err)
	}
	r.metrics.Alerts.WithLabelValues(string(merge.Outcome)).Inc()

	out.AlertID = merge.AlertID.String()
	out.Outcome = merge.Outcome
	out.Severity = merge.Severity

	if !merge.Escalated() || !merge.Severity.AtLeast(minNotify) {
		return out, nil
	}

	alert := buildSuspectAlert(runID, mctx, s, merge, r.now())
	if err := r.notifier.SendSuspectAlert(ctx, alert); err != nil {
		r.metrics.Notifications.WithLabelValues("error").Inc()
		r.clients.Logger.Warn("failed to send suspect alert",
			zap.String("wallet", shortID(s.Profile.Address)),
			zap.String("alertID", out.AlertID),
			zap.Error(err),
		)
		return out, nil
	}
	r.metrics.Notifications.WithLabelValues("sent").Inc()
	out.Notified = true
	return out, nil
}

func (r *Runner) storeResult(res *MarketResult) {
	r.mu.Lock()
	r.results[res.MarketID] = res
	r.mu.Unlock()
}

// LastResult returns the latest scan of marketID, if any.
func (r *Runner) LastResult(marketID string) (*MarketResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.results[marketID]
	return res, ok
}

func alertTitle(s *insider.SuspectedInsider, mctx *insider.MarketContext) string {
	signal := strings.ReplaceAll(string(s.SignalType), "_", " ")
	return fmt.Sprintf("%s: %s", signal, nz(mctx.Title, mctx.MarketID))
}

func buildSuspectAlert(
	runID string,
	mctx *insider.MarketContext,
	s *insider.SuspectedInsider,
	merge store.MergeResult,
	now time.Time,
) notifier.SuspectAlert {
	p := s.Profile
	change := notifier.ChangeEscalated
	if merge.Outcome == store.OutcomeCreated {
		change = notifier.ChangeCreated
	}

	flags := make([]notifier.Flag, len(s.Flags))
	for i, f := range s.Flags {
		flags[i] = notifier.Flag{
			Name:     string(f.Name),
			Severity: string(f.Severity),
			Weight:   f.Weight,
			Detail:   f.Detail,
		}
	}

	return notifier.SuspectAlert{
		AlertID:          merge.AlertID.String(),
		RunID:            runID,
		Change:           change,
		TraderName:       p.DisplayName,
		PreviousNames:    p.PreviousNames,
		TraderAddress:    p.Address,
		WalletURL:        "https://polymarket.com/profile/" + p.Address,
		MarketID:         mctx.MarketID,
		MarketTitle:      nz(mctx.Title, mctx.MarketID),
		MarketURL:        marketURL(mctx.MarketID),
		RiskScore:        s.RiskScore,
		Severity:         string(merge.Severity),
		PreviousSeverity: string(merge.Previous),
		Probability:      s.Probability,
		SignalType:       string(s.SignalType),
		Flags:            flags,
		Evidence:         s.Evidence,
		TotalProfit:      p.TotalProfit,
		TotalTrades:      p.TotalTrades,
		UniqueMarkets:    p.UniqueMarketsTraded,
		WinRate:          p.WinRate,
		AccountAgeDays:   p.AccountAgeDays,
		LargestTrade:     p.LargestTrade,
		Timestamp:        now,
	}
}

// marketURL links event slugs; bare condition ids have no public page.
func marketURL(marketID string) string {
	if marketID == "" || strings.HasPrefix(strings.ToLower(marketID), "0x") {
		return ""
	}
	return "https://polymarket.com/event/" + marketID
}

// ServiceStats holds service statistics for /stats.
type ServiceStats struct {
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Scan struct {
		Markets        []string `json:"markets"`
		Interval       string   `json:"interval"`
		Cycles         int      `json:"cycles"`
		LastRunID      string   `json:"last_run_id,omitempty"`
		LastCycleAt    string   `json:"last_cycle_at,omitempty"`
		LastCycleAgo   string   `json:"last_cycle_ago,omitempty"`
		LastCycleTook  string   `json:"last_cycle_took,omitempty"`
		LastSuspects   int      `json:"last_suspects"`
		LastScanErrors int      `json:"last_scan_errors"`
	} `json:"scan"`

	Alerts struct {
		ByStatus map[store.AlertStatus]int64 `json:"by_status"`
		Total    int64                       `json:"total"`
	} `json:"alerts"`

	Caches struct {
		Backend        string `json:"backend"`
		BackendEntries int    `json:"backend_entries"`
		MarketTTL      string `json:"market_ttl"`
		WalletTTL      string `json:"wallet_ttl"`
		MarketHits     int64  `json:"market_hits"`
		MarketMisses   int64  `json:"market_misses"`
		WalletHits     int64  `json:"wallet_hits"`
		WalletMisses   int64  `json:"wallet_misses"`
	} `json:"caches"`

	Notifications struct {
		DiscordEnabled  bool `json:"discord_enabled"`
		TelegramEnabled bool `json:"telegram_enabled"`
		KafkaEnabled    bool `json:"kafka_enabled"`
	} `json:"notifications"`

	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`  // bytes currently allocated on heap
		HeapSys    uint64 `json:"heap_sys"`    // bytes obtained from system for heap
		HeapInuse  uint64 `json:"heap_inuse"`  // bytes in in-use spans
		StackInuse uint64 `json:"stack_inuse"` // bytes in stack spans
		NumGC      uint32 `json:"num_gc"`      // number of completed GC cycles
		LastGC     string `json:"last_gc"`     // time of last GC
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

// GetStats returns service statistics. Alert counts are best effort.
func (r *Runner) GetStats(ctx context.Context) ServiceStats {
	var stats ServiceStats
	cfg := r.liveConfig.Get()

	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := time.Since(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	r.mu.RLock()
	last := r.lastCycle
	stats.Scan.Cycles = r.cycles
	r.mu.RUnlock()

	stats.Scan.Markets = cfg.Scan.Markets
	stats.Scan.Interval = cfg.Scan.Interval.String()
	if !last.Finished.IsZero() {
		stats.Scan.LastRunID = last.RunID
		stats.Scan.LastCycleAt = last.Finished.UTC().Format(time.RFC3339)
		stats.Scan.LastCycleAgo = time.Since(last.Finished).Round(time.Second).String()
		stats.Scan.LastCycleTook = last.Finished.Sub(last.Started).Round(time.Millisecond).String()
		stats.Scan.LastSuspects = last.Suspects
		stats.Scan.LastScanErrors = last.Errors
	}

	if r.store != nil {
		counts, err := r.store.CountAlertsByStatus(ctx)
		if err != nil {
			r.clients.Logger.Warn("failed to count alerts", zap.Error(err))
		}
		stats.Alerts.ByStatus = counts
		for _, n := range counts {
			stats.Alerts.Total += n
		}
	}

	stats.Caches.Backend = cfg.Cache.Backend
	stats.Caches.BackendEntries = r.backend.Len()
	stats.Caches.MarketTTL = r.marketCache.TTL().String()
	stats.Caches.WalletTTL = r.walletCache.TTL().String()
	stats.Caches.MarketHits, stats.Caches.MarketMisses = r.marketCache.Stats()
	stats.Caches.WalletHits, stats.Caches.WalletMisses = r.walletCache.Stats()

	if r.clients.Discord != nil {
		stats.Notifications.DiscordEnabled = r.clients.Discord.Enabled()
	}
	if r.clients.Telegram != nil {
		stats.Notifications.TelegramEnabled = r.clients.Telegram.Enabled()
	}
	if r.clients.Kafka != nil {
		stats.Notifications.KafkaEnabled = r.clients.Kafka.Enabled()
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = m.HeapAlloc
	stats.Runtime.HeapSys = m.HeapSys
	stats.Runtime.HeapInuse = m.HeapInuse
	stats.Runtime.StackInuse = m.StackInuse
	stats.Runtime.NumGC = m.NumGC
	if m.LastGC > 0 {
		stats.Runtime.LastGC = time.Unix(0, int64(m.LastGC)).UTC().Format(time.RFC3339)
	}
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
