package insider

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insiderwatch/internal/cache"
)

const testMarket = "0xmarket"

func newTestRanker(src *fakeSource, opts RankerOptions) *Ranker {
	contexts := NewContextBuilder(nil, src, cache.New[MarketContext](nil, cache.NewMemory(), "market", time.Hour), ContextOptions{})
	agg := NewAggregator(nil, src, cache.New[TraderProfile](nil, cache.NewMemory(), "wallet", time.Hour), AggregatorOptions{})
	agg.now = func() time.Time { return testNow }
	return NewRanker(nil, contexts, agg, NewScorer(ScorerOptions{}), opts)
}

// seedMarket registers holders for every wallet with the given amounts.
func seedMarket(src *fakeSource, holdings map[string]float64) {
	src.markets[testMarket] = MarketInfo{ID: testMarket, Title: "Test market", ConditionIDs: []string{testMarket}}
	for w, amt := range holdings {
		src.holders[testMarket] = append(src.holders[testMarket], HolderRecord{Wallet: w, MarketID: testMarket, Amount: amt})
		src.trades[testMarket] = append(src.trades[testMarket], TradeRecord{Wallet: w, MarketID: testMarket, SizeUSD: amt})
	}
}

func TestRank_OrdersByProfitThenScore(t *testing.T) {
	src := newFakeSource()
	seedMarket(src, map[string]float64{
		"0x01": 100, "0x02": 100, "0x03": 100, "0x04": 100,
		"0x05": 100, "0x06": 100, "0x07": 100,
	})
	src.wallets["0x01"] = profitableWallet("0x01", 4, 200_000, 2, testNow)
	// Same profit as 0x01 but spread over many markets with a mixed record.
	src.wallets["0x02"] = &fakeWallet{
		trades: makeTrades("0x02", 40, 500, testNow, "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8"),
		positions: []PositionRecord{
			{MarketID: "m1", RealizedPnL: 250_000},
			{MarketID: "m2", RealizedPnL: -50_000},
		},
		firstTrade: ptr(testNow.Add(-90 * 24 * time.Hour)),
	}
	src.wallets["0x03"] = profitableWallet("0x03", 4, 15_000, 2, testNow)
	src.wallets["0x04"] = profitableWallet("0x04", 4, 60_000, 2, testNow)
	// Losing wallet that otherwise looks maximally suspicious.
	src.wallets["0x05"] = profitableWallet("0x05", 2, -5_000, 1, testNow)
	// Profit over the realism ceiling.
	src.wallets["0x06"] = profitableWallet("0x06", 2, 50_000_000, 1, testNow)
	src.wallets["0x07"] = &fakeWallet{activityErr: errUpstream, positionErr: errUpstream}

	r := newTestRanker(src, RankerOptions{BatchDelay: 0})
	res, err := r.Rank(context.Background(), RankRequest{MarketID: testMarket})
	require.NoError(t, err)

	var order []string
	for _, s := range res.Suspects {
		order = append(order, s.Profile.Address)
	}
	assert.Equal(t, []string{"0x01", "0x02", "0x04", "0x03"}, order)
	assert.Greater(t, res.Suspects[0].RiskScore, res.Suspects[1].RiskScore)
	assert.Equal(t, 7, res.Candidates)
	assert.Equal(t, 6, res.Analyzed)
	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, 1, res.Failed)

	again, err := r.Rank(context.Background(), RankRequest{MarketID: testMarket})
	require.NoError(t, err)
	assert.Equal(t, res.Suspects, again.Suspects)
}

func TestRank_MinScoreAndTopN(t *testing.T) {
	src := newFakeSource()
	holdings := make(map[string]float64)
	for i := 0; i < 12; i++ {
		w := fmt.Sprintf("0x%02d", i)
		holdings[w] = 100
		src.wallets[w] = profitableWallet(w, 4, float64(10_000+i*1_000), 2, testNow)
	}
	// Established trader scores low.
	holdings["0xold"] = 100
	src.wallets["0xold"] = &fakeWallet{
		trades: makeTrades("0xold", 400, 50, testNow, "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10"),
		positions: []PositionRecord{
			{MarketID: "m1", RealizedPnL: 100_000},
			{MarketID: "m2", RealizedPnL: -10_000},
		},
		firstTrade: ptr(testNow.Add(-400 * 24 * time.Hour)),
	}
	seedMarket(src, holdings)

	r := newTestRanker(src, RankerOptions{BatchDelay: 0})
	res, err := r.Rank(context.Background(), RankRequest{MarketID: testMarket, MinRiskScore: 50, TopN: 3})
	require.NoError(t, err)

	require.Len(t, res.Suspects, 3)
	assert.Equal(t, "0x11", res.Suspects[0].Profile.Address)
	assert.Equal(t, "0x10", res.Suspects[1].Profile.Address)
	assert.Equal(t, "0x09", res.Suspects[2].Profile.Address)
	for _, s := range res.Suspects {
		assert.GreaterOrEqual(t, s.RiskScore, 50)
		assert.NotEqual(t, "0xold", s.Profile.Address)
	}
}

func TestRank_CandidatesIncludeLargeTraders(t *testing.T) {
	src := newFakeSource()
	src.markets[testMarket] = MarketInfo{ID: testMarket, Title: "Test", ConditionIDs: []string{testMarket}}
	src.trades[testMarket] = []TradeRecord{
		{Wallet: "0xbig", SizeUSD: 5_000},
		{Wallet: "0xsmall", SizeUSD: 60},
	}
	src.wallets["0xbig"] = profitableWallet("0xbig", 3, 30_000, 1, testNow)
	src.wallets["0xsmall"] = profitableWallet("0xsmall", 3, 30_000, 1, testNow)

	r := newTestRanker(src, RankerOptions{BatchDelay: 0})
	res, err := r.Rank(context.Background(), RankRequest{MarketID: testMarket})
	require.NoError(t, err)
	require.Len(t, res.Suspects, 1)
	assert.Equal(t, "0xbig", res.Suspects[0].Profile.Address)
	assert.Equal(t, testMarket, res.Suspects[0].MarketID)
}

func TestRank_SessionSkipsSeenWallets(t *testing.T) {
	src := newFakeSource()
	seedMarket(src, map[string]float64{"0x01": 100, "0x02": 100})
	src.wallets["0x01"] = profitableWallet("0x01", 4, 20_000, 2, testNow)
	src.wallets["0x02"] = profitableWallet("0x02", 4, 30_000, 2, testNow)

	session := NewSession()
	session.Claim("0x02")

	r := newTestRanker(src, RankerOptions{BatchDelay: 0})
	res, err := r.Rank(context.Background(), RankRequest{MarketID: testMarket, Session: session})
	require.NoError(t, err)

	require.Len(t, res.Suspects, 1)
	assert.Equal(t, "0x01", res.Suspects[0].Profile.Address)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, src.activityCallsFor("0x02"))
	assert.True(t, session.Seen("0x01"))
}

func TestRank_MaxWalletsCapsByVolume(t *testing.T) {
	src := newFakeSource()
	seedMarket(src, map[string]float64{"0x01": 100, "0x02": 900, "0x03": 500})
	for _, w := range []string{"0x01", "0x02", "0x03"} {
		src.wallets[w] = profitableWallet(w, 4, 20_000, 2, testNow)
	}

	r := newTestRanker(src, RankerOptions{BatchDelay: 0, BatchSize: 1})
	res, err := r.Rank(context.Background(), RankRequest{MarketID: testMarket, MaxWallets: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Analyzed)
	assert.Zero(t, src.activityCallsFor("0x01"))
	assert.Equal(t, 1, src.activityCallsFor("0x02"))
	assert.Equal(t, 1, src.activityCallsFor("0x03"))
}

func TestRank_MarketNotFound(t *testing.T) {
	r := newTestRanker(newFakeSource(), RankerOptions{})
	res, err := r.Rank(context.Background(), RankRequest{MarketID: "0xnothing"})
	assert.ErrorIs(t, err, ErrMarketNotFound)
	assert.Nil(t, res)
}

func TestRank_MarketWithoutSuspects(t *testing.T) {
	src := newFakeSource()
	src.markets[testMarket] = MarketInfo{ID: testMarket, Title: "Quiet", ConditionIDs: []string{testMarket}}

	res, err := newTestRanker(src, RankerOptions{}).Rank(context.Background(), RankRequest{MarketID: testMarket})
	require.NoError(t, err)
	assert.Empty(t, res.Suspects)
}

func TestRank_CancelledBetweenBatches(t *testing.T) {
	src := newFakeSource()
	seedMarket(src, map[string]float64{"0x01": 100, "0x02": 100})
	src.wallets["0x01"] = profitableWallet("0x01", 4, 20_000, 2, testNow)
	src.wallets["0x02"] = profitableWallet("0x02", 4, 20_000, 2, testNow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRanker(src, RankerOptions{BatchSize: 1, BatchDelay: time.Hour})
	_, err := r.Rank(ctx, RankRequest{MarketID: testMarket})
	assert.ErrorIs(t, err, context.Canceled)
}
