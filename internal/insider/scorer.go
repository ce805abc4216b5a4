package insider

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

const (
	DefaultMinProfit                 = 1_000.0
	DefaultEstablishedTradeThreshold = 50

	maxScore = 100

	// Probability is a logistic curve centred on this score.
	probabilityMidpoint = 45.0
	probabilitySlope    = 0.08

	agePenaltyStartDays    = 30.0
	agePenaltyPerDecade    = 3
	agePenaltyMax          = 25
	tradePenaltyStart      = 100
	tradePenaltyPerHundred = 5
	tradePenaltyMax        = 20
	penaltyCap             = 40
)

// band is one threshold tier of a signal. For "at most" signals the value
// must be <= limit, otherwise >= limit.
type band struct {
	limit    float64
	weight   int
	severity Severity
}

var (
	profitBands = []band{
		{100_000, 40, SeverityCritical},
		{50_000, 32, SeverityHigh},
		{10_000, 22, SeverityMedium},
		{1_000, 12, SeverityLow},
	}
	tradeCountBands = []band{
		{5, 28, SeverityHigh},
		{10, 22, SeverityMedium},
		{20, 14, SeverityLow},
	}
	accountAgeBands = []band{
		{3, 26, SeverityHigh},
		{7, 20, SeverityMedium},
		{30, 12, SeverityLow},
	}
	marketCountBands = []band{
		{1, 35, SeverityHigh},
		{3, 26, SeverityMedium},
		{5, 16, SeverityLow},
	}
	winRateBands = []band{
		{0.95, 32, SeverityHigh},
		{0.85, 24, SeverityMedium},
		{0.70, 14, SeverityLow},
	}
	relativeSizeBands = []band{
		{10, 28, SeverityHigh},
		{5, 20, SeverityMedium},
		{3, 12, SeverityLow},
	}
	absoluteSizeBands = []band{
		{50_000, 28, SeverityHigh},
		{20_000, 20, SeverityMedium},
		{5_000, 12, SeverityLow},
	}
	dominanceBands = []band{
		{0.70, 30, SeverityHigh},
		{0.50, 22, SeverityMedium},
		{0.30, 14, SeverityLow},
	}
)

func atLeast(bands []band, v float64) (band, bool) {
	for _, b := range bands {
		if v >= b.limit {
			return b, true
		}
	}
	return band{}, false
}

func atMost(bands []band, v float64) (band, bool) {
	for _, b := range bands {
		if v <= b.limit {
			return b, true
		}
	}
	return band{}, false
}

// ScorerOptions holds the scoring policy knobs.
type ScorerOptions struct {
	MinProfit                 float64
	EstablishedTradeThreshold int
}

// Scorer applies the additive heuristic rules to a profile.
type Scorer struct {
	opts ScorerOptions
}

// NewScorer creates a scorer. Zero options take the defaults.
func NewScorer(opts ScorerOptions) *Scorer {
	if opts.MinProfit <= 0 {
		opts.MinProfit = DefaultMinProfit
	}
	if opts.EstablishedTradeThreshold <= 0 {
		opts.EstablishedTradeThreshold = DefaultEstablishedTradeThreshold
	}
	return &Scorer{opts: opts}
}

// Score rates a profile, optionally relative to the market it was found in.
// Profiles below the profit floor return ErrNotProfitable.
func (s *Scorer) Score(p *TraderProfile, mctx *MarketContext) (*SuspectedInsider, error) {
	if p == nil {
		return nil, fmt.Errorf("score: nil profile")
	}
	if p.TotalProfit < s.opts.MinProfit {
		return nil, fmt.Errorf("profit %s below %s: %w", usd(p.TotalProfit), usd(s.opts.MinProfit), ErrNotProfitable)
	}

	out := &SuspectedInsider{Profile: *p}
	if mctx != nil {
		out.MarketID = mctx.MarketID
	}
	m := &out.Metrics

	addFlag := func(name FlagName, b band, detail string) {
		out.Flags = append(out.Flags, InsiderFlag{
			Name:     name,
			Severity: b.severity,
			Weight:   b.weight,
			Detail:   detail,
		})
		out.Evidence = append(out.Evidence, detail)
	}

	profit := p.TotalProfit
	m.TotalProfit = &profit
	if b, ok := atLeast(profitBands, profit); ok {
		addFlag(FlagLargeProfit, b, fmt.Sprintf("Total profit of %s", usd(profit)))
	}

	trades := p.TotalTrades
	if p.ActivityUnavailable {
		out.Evidence = append(out.Evidence, "Trade history unavailable")
	} else {
		m.TotalTrades = &trades
		if b, ok := atMost(tradeCountBands, float64(trades)); ok {
			addFlag(FlagFreshWallet, b, fmt.Sprintf("Only %d trades on record", trades))
		}
	}

	if p.AccountAgeDays != nil {
		age := *p.AccountAgeDays
		m.AccountAgeDays = &age
		if trades <= s.opts.EstablishedTradeThreshold {
			if b, ok := atMost(accountAgeBands, age); ok {
				addFlag(FlagYoungAccount, b, fmt.Sprintf("Account is %.1f days old", age))
			}
		}
	}

	marketsTraded := p.UniqueMarketsTraded
	m.UniqueMarkets = &marketsTraded
	if marketsTraded > 0 {
		if b, ok := atMost(marketCountBands, float64(marketsTraded)); ok {
			addFlag(FlagConcentratedBets, b, fmt.Sprintf("Bets concentrated in %d %s",
				marketsTraded, plural(marketsTraded, "market", "markets")))
		}
	}

	if p.ClosedPositions >= minClosedForWinRate {
		wr := p.WinRate
		m.WinRate = &wr
		if b, ok := atLeast(winRateBands, wr); ok {
			addFlag(FlagHighWinRate, b, fmt.Sprintf("Won %d of %d closed positions (%.0f%%)",
				p.Wins, p.ClosedPositions, wr*100))
		}
	}

	largest := p.LargestTrade
	if mctx != nil {
		if v := mctx.LargestTrade[normalizeAddress(p.Address)]; v > largest {
			largest = v
		}
	}
	if largest > 0 {
		m.LargestTrade = &largest
	}
	if mctx != nil && mctx.AvgTradeSize > 0 {
		multiple := largest / mctx.AvgTradeSize
		m.TradeSizeMultiple = &multiple
		if b, ok := atLeast(relativeSizeBands, multiple); ok {
			addFlag(FlagOutsizedTrade, b, fmt.Sprintf("Largest trade %s is %.1fx the market average of %s",
				usd(largest), multiple, usd(mctx.AvgTradeSize)))
		}
	} else if b, ok := atLeast(absoluteSizeBands, largest); ok {
		addFlag(FlagOutsizedTrade, b, fmt.Sprintf("Largest single trade of %s", usd(largest)))
	}

	if mctx != nil {
		dom := mctx.DominanceOf(p.Address)
		if dom > 0 {
			m.MarketDominance = &dom
		}
		if b, ok := atLeast(dominanceBands, dom); ok {
			addFlag(FlagMarketDominance, b, fmt.Sprintf("Holds %.0f%% of market positions", dom*100))
		}
	}

	raw := 0
	for _, f := range out.Flags {
		raw += f.Weight
	}

	penalty, note := establishedPenalty(p)
	if penalty > 0 {
		out.Evidence = append(out.Evidence, note)
	}

	out.RiskScore = clampScore(raw - penalty)
	out.Severity = SeverityForScore(out.RiskScore)
	out.Probability = Probability(out.RiskScore)
	m.RiskScore = out.RiskScore
	m.Probability = out.Probability
	out.SignalType = classifySignal(out)

	return out, nil
}

// establishedPenalty reduces the score for long-lived or very active
// accounts.
func establishedPenalty(p *TraderProfile) (int, string) {
	agePenalty := 0
	if p.AccountAgeDays != nil && *p.AccountAgeDays > agePenaltyStartDays {
		decades := int((*p.AccountAgeDays - agePenaltyStartDays) / 10)
		agePenalty = min(decades*agePenaltyPerDecade, agePenaltyMax)
	}

	tradePenalty := 0
	if p.TotalTrades > tradePenaltyStart {
		hundreds := (p.TotalTrades - tradePenaltyStart) / 100
		tradePenalty = min(hundreds*tradePenaltyPerHundred, tradePenaltyMax)
	}

	total := min(agePenalty+tradePenalty, penaltyCap)
	if total == 0 {
		return 0, ""
	}
	return total, fmt.Sprintf("Established account penalty -%d (age %d, activity %d)",
		total, agePenalty, tradePenalty)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

// SeverityForScore maps a risk score to its severity tier.
func SeverityForScore(score int) Severity {
	switch {
	case score >= 85:
		return SeverityCritical
	case score >= 70:
		return SeverityHigh
	case score >= 55:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Probability is the display confidence for a score: 0.5 at 45, saturating
// toward 0 and 1.
func Probability(score int) float64 {
	return 1 / (1 + math.Exp(-probabilitySlope*(float64(score)-probabilityMidpoint)))
}

func classifySignal(s *SuspectedInsider) SignalType {
	fired := make(map[FlagName]bool, len(s.Flags))
	for _, f := range s.Flags {
		fired[f.Name] = true
	}
	switch {
	case (fired[FlagFreshWallet] || fired[FlagYoungAccount]) && fired[FlagOutsizedTrade]:
		return SignalNewAccountLargeBet
	case fired[FlagHighWinRate]:
		return SignalStatisticalImprobability
	case fired[FlagOutsizedTrade] || fired[FlagMarketDominance]:
		return SignalDisproportionateBet
	case len(s.Profile.PreviousNames) > 0:
		return SignalAccountObfuscation
	default:
		return SignalPatternMatch
	}
}

func usd(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + "$" + humanize.Comma(int64(math.Round(v)))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
