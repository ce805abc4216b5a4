package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"insiderwatch/clients/polymarketapi"
	"insiderwatch/internal/insider"
)

const (
	tradePageSize      = 500
	maxTradePages      = 10
	closedPositionsCap = 500
	openPositionsCap   = 500
	holdersPerToken    = 100
)

// marketAPI is the subset of the Polymarket client the source needs.
type marketAPI interface {
	GetMarketByConditionID(ctx context.Context, conditionID string) (*polymarketapi.GammaMarket, error)
	GetEventBySlug(ctx context.Context, slug string) (*polymarketapi.GammaEvent, error)
	GetMarketTrades(ctx context.Context, conditionID string, query polymarketapi.TradeQuery) ([]polymarketapi.Trade, error)
	GetUserActivity(ctx context.Context, wallet string, query polymarketapi.ActivityQuery) ([]polymarketapi.Activity, error)
	GetClosedPositions(ctx context.Context, wallet string, limit, offset int) ([]polymarketapi.ClosedPosition, error)
	GetPositions(ctx context.Context, wallet string, limit int) ([]polymarketapi.Position, error)
	GetMarketHolders(ctx context.Context, conditionID string, limit int) ([]polymarketapi.TokenHolders, error)
}

var _ insider.DataSource = (*PolymarketSource)(nil)

// PolymarketSource adapts the Gamma and Data APIs to insider.DataSource.
// Every call runs under its own timeout.
type PolymarketSource struct {
	logger  *zap.Logger
	api     marketAPI
	timeout time.Duration
	now     func() time.Time
}

func NewPolymarketSource(logger *zap.Logger, api marketAPI, timeout time.Duration) *PolymarketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PolymarketSource{
		logger:  logger,
		api:     api,
		timeout: timeout,
		now:     time.Now,
	}
}

// ResolveMarket treats 0x-prefixed ids as condition ids and anything else as
// an event slug.
func (s *PolymarketSource) ResolveMarket(ctx context.Context, marketID string) (insider.MarketInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	marketID = strings.TrimSpace(marketID)
	if strings.HasPrefix(strings.ToLower(marketID), "0x") {
		m, err := s.api.GetMarketByConditionID(ctx, marketID)
		if err != nil {
			return insider.MarketInfo{}, err
		}
		return insider.MarketInfo{
			ID:           marketID,
			Title:        m.Question,
			ConditionIDs: []string{m.ConditionID},
		}, nil
	}

	ev, err := s.api.GetEventBySlug(ctx, marketID)
	if err != nil {
		return insider.MarketInfo{}, err
	}
	info := insider.MarketInfo{ID: marketID, Title: ev.Title}
	for _, m := range ev.Markets {
		if m.ConditionID != "" {
			info.ConditionIDs = append(info.ConditionIDs, m.ConditionID)
		}
	}
	return info, nil
}

// GetMarketTrades pages back through the market's trades until the lookback
// window is exhausted.
func (s *PolymarketSource) GetMarketTrades(
	ctx context.Context,
	conditionID string,
	hoursBack int,
	minSize float64,
) ([]insider.TradeRecord, error) {
	cutoff := s.now().Add(-time.Duration(hoursBack) * time.Hour)

	var out []insider.TradeRecord
	for page := 0; page < maxTradePages; page++ {
		batch, err := s.tradePage(ctx, conditionID, page*tradePageSize, minSize)
		if err != nil {
			if len(out) > 0 {
				s.logger.Warn("trade paging stopped early",
					zap.String("condition_id", conditionID),
					zap.Int("page", page),
					zap.Error(err),
				)
				return out, nil
			}
			return nil, err
		}

		reachedCutoff := false
		for _, t := range batch {
			ts := time.Unix(t.Timestamp, 0)
			if ts.Before(cutoff) {
				reachedCutoff = true
				continue
			}
			if t.Notional() < minSize {
				continue
			}
			out = append(out, insider.TradeRecord{
				Wallet:      strings.ToLower(t.ProxyWallet),
				MarketID:    t.ConditionID,
				Title:       t.Title,
				Timestamp:   ts,
				Side:        insider.ParseSide(t.Side),
				SizeUSD:     t.Notional(),
				Price:       t.Price,
				Outcome:     t.Outcome,
				DisplayName: displayName(t.Name, t.Pseudonym),
			})
		}

		if reachedCutoff || len(batch) < tradePageSize {
			break
		}
	}
	return out, nil
}

func (s *PolymarketSource) tradePage(ctx context.Context, conditionID string, offset int, minSize float64) ([]polymarketapi.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.api.GetMarketTrades(ctx, conditionID, polymarketapi.TradeQuery{
		Limit:   tradePageSize,
		Offset:  offset,
		MinCash: minSize,
	})
}

// GetWalletActivity returns the wallet's trades, newest first.
func (s *PolymarketSource) GetWalletActivity(ctx context.Context, address string, limit int) ([]insider.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	activity, err := s.api.GetUserActivity(ctx, address, polymarketapi.ActivityQuery{
		Limit: limit,
		Type:  "TRADE",
	})
	if err != nil {
		return nil, err
	}

	out := make([]insider.TradeRecord, 0, len(activity))
	for _, a := range activity {
		if a.Type != "" && !strings.EqualFold(a.Type, "TRADE") {
			continue
		}
		size := a.UsdcSize
		if size == 0 {
			size = a.Size * a.Price
		}
		out = append(out, insider.TradeRecord{
			Wallet:      strings.ToLower(address),
			MarketID:    a.ConditionID,
			Title:       a.Title,
			Timestamp:   time.Unix(a.Timestamp, 0),
			Side:        insider.ParseSide(a.Side),
			SizeUSD:     size,
			Price:       a.Price,
			Outcome:     a.Outcome,
			DisplayName: displayName(a.Name, a.Pseudonym),
		})
	}
	return out, nil
}

// GetWalletPositions merges open positions with resolved ones. The call
// fails only if both lookups fail.
func (s *PolymarketSource) GetWalletPositions(ctx context.Context, address string) ([]insider.PositionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	open, openErr := s.api.GetPositions(ctx, address, openPositionsCap)
	closed, closedErr := s.api.GetClosedPositions(ctx, address, closedPositionsCap, 0)
	if openErr != nil && closedErr != nil {
		return nil, errors.Join(openErr, closedErr)
	}
	if openErr != nil {
		s.logger.Debug("open positions unavailable", zap.String("wallet", shortID(address)), zap.Error(openErr))
	}
	if closedErr != nil {
		s.logger.Debug("closed positions unavailable", zap.String("wallet", shortID(address)), zap.Error(closedErr))
	}

	out := make([]insider.PositionRecord, 0, len(open)+len(closed))
	for _, p := range open {
		out = append(out, insider.PositionRecord{
			MarketID:      p.ConditionID,
			Title:         p.Title,
			Size:          p.Size,
			InitialValue:  p.InitialValue,
			CurrentValue:  p.CurrentValue,
			RealizedPnL:   p.RealizedPnl,
			UnrealizedPnL: p.CashPnl,
			OutcomeIndex:  p.OutcomeIndex,
		})
	}
	for _, p := range closed {
		out = append(out, insider.PositionRecord{
			MarketID:     p.ConditionID,
			Title:        p.Title,
			InitialValue: p.TotalBought * p.AvgPrice,
			RealizedPnL:  p.RealizedPnl,
			OutcomeIndex: p.OutcomeIndex,
		})
	}
	return out, nil
}

// GetMarketHolders flattens the per-token holder lists of a market.
func (s *PolymarketSource) GetMarketHolders(ctx context.Context, conditionID string) ([]insider.HolderRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	groups, err := s.api.GetMarketHolders(ctx, conditionID, holdersPerToken)
	if err != nil {
		return nil, err
	}

	var total float64
	var out []insider.HolderRecord
	for _, g := range groups {
		for _, h := range g.Holders {
			total += h.Amount
			out = append(out, insider.HolderRecord{
				Wallet:      strings.ToLower(h.ProxyWallet),
				MarketID:    conditionID,
				Amount:      h.Amount,
				Outcome:     fmt.Sprintf("%d", h.OutcomeIndex),
				DisplayName: displayName(h.Name, h.Pseudonym),
			})
		}
	}
	if total > 0 {
		for i := range out {
			out[i].PercentOfMarket = out[i].Amount / total * 100
		}
	}
	return out, nil
}

// GetWalletFirstTradeTimestamp returns the time of the wallet's oldest trade.
func (s *PolymarketSource) GetWalletFirstTradeTimestamp(ctx context.Context, address string) (*time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	activity, err := s.api.GetUserActivity(ctx, address, polymarketapi.ActivityQuery{
		Limit:     1,
		Type:      "TRADE",
		Ascending: true,
	})
	if err != nil {
		return nil, err
	}
	if len(activity) == 0 || activity[0].Timestamp <= 0 {
		return nil, nil
	}
	ts := time.Unix(activity[0].Timestamp, 0)
	return &ts, nil
}

func displayName(name, pseudonym string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return strings.TrimSpace(pseudonym)
}
