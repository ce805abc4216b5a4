package insider

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBatchSize       = 5
	DefaultBatchDelay      = 300 * time.Millisecond
	DefaultMaxWallets      = 50
	DefaultTopN            = 10
	DefaultLargeTradeFloor = 1_000.0
)

// RankerOptions controls candidate selection and fan-out.
type RankerOptions struct {
	LargeTradeFloor float64
	BatchSize       int
	BatchDelay      time.Duration
	MaxWallets      int
	TopN            int
}

// RankRequest describes one market scan.
type RankRequest struct {
	MarketID     string
	MinRiskScore int
	// MaxWallets and TopN override the ranker defaults when positive.
	MaxWallets int
	TopN       int
	// Session skips wallets already analyzed in the same cycle. May be nil.
	Session *Session
	// Force bypasses cached wallet profiles.
	Force bool
}

// RankResult is the ranked suspect list plus counters for the scan.
type RankResult struct {
	Market     *MarketContext
	Suspects   []SuspectedInsider
	Candidates int
	Skipped    int
	Analyzed   int
	Rejected   int
	Failed     int
}

// Ranker runs the aggregator and scorer over a market's candidate wallets.
type Ranker struct {
	logger     *zap.Logger
	contexts   *ContextBuilder
	aggregator *Aggregator
	scorer     *Scorer
	opts       RankerOptions
}

// NewRanker wires the engine stages together.
func NewRanker(
	logger *zap.Logger,
	contexts *ContextBuilder,
	aggregator *Aggregator,
	scorer *Scorer,
	opts RankerOptions,
) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LargeTradeFloor <= 0 {
		opts.LargeTradeFloor = DefaultLargeTradeFloor
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	if opts.MaxWallets <= 0 {
		opts.MaxWallets = DefaultMaxWallets
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	return &Ranker{
		logger:     logger,
		contexts:   contexts,
		aggregator: aggregator,
		scorer:     scorer,
		opts:       opts,
	}
}

type walletOutcome struct {
	suspect *SuspectedInsider
	err     error
}

// Rank returns the market's suspects, most profitable first. Individual
// wallet failures exclude that wallet; only ErrMarketNotFound and context
// cancellation are returned.
func (r *Ranker) Rank(ctx context.Context, req RankRequest) (*RankResult, error) {
	mctx, err := r.contexts.Build(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}

	maxWallets := r.opts.MaxWallets
	if req.MaxWallets > 0 {
		maxWallets = req.MaxWallets
	}
	topN := r.opts.TopN
	if req.TopN > 0 {
		topN = req.TopN
	}

	res := &RankResult{Market: mctx}
	candidates := r.candidates(mctx)
	res.Candidates = len(candidates)

	wallets := make([]string, 0, min(len(candidates), maxWallets))
	for _, w := range candidates {
		if len(wallets) >= maxWallets {
			break
		}
		if !req.Session.Claim(w) {
			res.Skipped++
			continue
		}
		wallets = append(wallets, w)
	}

	outcomes := make([]walletOutcome, len(wallets))
	for start := 0; start < len(wallets); start += r.opts.BatchSize {
		if start > 0 && r.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.opts.BatchDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+r.opts.BatchSize, len(wallets))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := r.analyze(ctx, wallets[i], mctx, req.Force)
				outcomes[i] = walletOutcome{suspect: s, err: err}
			}(i)
		}
		wg.Wait()
	}

	for i, o := range outcomes {
		switch {
		case o.err == nil:
			res.Analyzed++
			if o.suspect.RiskScore >= req.MinRiskScore {
				res.Suspects = append(res.Suspects, *o.suspect)
			}
		case errors.Is(o.err, ErrImplausibleWallet), errors.Is(o.err, ErrNotProfitable):
			res.Analyzed++
			res.Rejected++
		default:
			res.Failed++
			r.logger.Warn("wallet analysis failed",
				zap.String("market", req.MarketID),
				zap.String("wallet", shortAddr(wallets[i])),
				zap.Error(o.err),
			)
		}
	}

	SortSuspects(res.Suspects)
	if len(res.Suspects) > topN {
		res.Suspects = res.Suspects[:topN]
	}

	r.logger.Info("market ranked",
		zap.String("market", req.MarketID),
		zap.Int("candidates", res.Candidates),
		zap.Int("analyzed", res.Analyzed),
		zap.Int("rejected", res.Rejected),
		zap.Int("failed", res.Failed),
		zap.Int("suspects", len(res.Suspects)),
	)
	return res, nil
}

func (r *Ranker) analyze(ctx context.Context, wallet string, mctx *MarketContext, force bool) (*SuspectedInsider, error) {
	p, err := r.aggregator.Profile(ctx, wallet, force)
	if err != nil {
		return nil, err
	}
	s, err := r.scorer.Score(p, mctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// candidates returns holders plus large traders, highest volume first.
func (r *Ranker) candidates(mctx *MarketContext) []string {
	set := make(map[string]struct{}, len(mctx.Dominance)+len(mctx.LargestTrade))
	for w := range mctx.Dominance {
		set[w] = struct{}{}
	}
	for w, largest := range mctx.LargestTrade {
		if largest >= r.opts.LargeTradeFloor {
			set[w] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := mctx.WalletVolume[out[i]], mctx.WalletVolume[out[j]]
		if vi != vj {
			return vi > vj
		}
		di, dj := mctx.Dominance[out[i]], mctx.Dominance[out[j]]
		if di != dj {
			return di > dj
		}
		return out[i] < out[j]
	})
	return out
}

// SortSuspects orders by profit, then risk score, both descending, with the
// address as a final tie-break.
func SortSuspects(s []SuspectedInsider) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Profile.TotalProfit != s[j].Profile.TotalProfit {
			return s[i].Profile.TotalProfit > s[j].Profile.TotalProfit
		}
		if s[i].RiskScore != s[j].RiskScore {
			return s[i].RiskScore > s[j].RiskScore
		}
		return s[i].Profile.Address < s[j].Profile.Address
	})
}
