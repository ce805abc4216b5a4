package polymarketapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"insiderwatch/config"
)

// ErrNotFound is returned when Gamma has no market or event for an id.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from either API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.Code, e.Body)
}

type PolymarketApiClient struct {
	logger       *zap.Logger
	httpClient   *http.Client
	gammaBaseURL string
	dataBaseURL  string
}

func NewPolymarketApiClient(logger *zap.Logger, cfg *config.Config) *PolymarketApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Polymarket.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &PolymarketApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		gammaBaseURL: cfg.Polymarket.GammaAPIURL,
		dataBaseURL:  cfg.Polymarket.DataAPIURL,
	}
}

// ---- Gamma API types ----

type GammaEvent struct {
	ID      string        `json:"id"`
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	Markets []GammaMarket `json:"markets"`
}

type GammaMarket struct {
	ID          string          `json:"id"`
	Slug        string          `json:"slug"`
	Question    string          `json:"question"`
	ConditionID string          `json:"conditionId"`
	Outcomes    json.RawMessage `json:"outcomes"`
	VolumeNum   float64         `json:"volumeNum"`
	Active      bool            `json:"active"`
	Closed      bool            `json:"closed"`
	EndDate     string          `json:"endDate,omitempty"`
}

// GetMarketByConditionID fetches a market by its condition ID.
func (c *PolymarketApiClient) GetMarketByConditionID(
	ctx context.Context,
	conditionID string,
) (*GammaMarket, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	u, err := c.gammaURL("/markets")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("condition_ids", conditionID)
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	var markets []GammaMarket
	if err := c.doGet(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get market by condition: %w", err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("market %s: %w", conditionID, ErrNotFound)
	}
	return &markets[0], nil
}

// GetEventBySlug fetches an event and its sub-markets, e.g.
// "fed-decision-in-december".
func (c *PolymarketApiClient) GetEventBySlug(
	ctx context.Context,
	slug string,
) (*GammaEvent, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, fmt.Errorf("slug is empty")
	}

	u, err := c.gammaURL("/events/slug/" + url.PathEscape(slug))
	if err != nil {
		return nil, err
	}

	var ev GammaEvent
	if err := c.doGet(ctx, u.String(), &ev); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, fmt.Errorf("event %s: %w", slug, ErrNotFound)
		}
		return nil, fmt.Errorf("get event by slug: %w", err)
	}
	return &ev, nil
}

// ---- Data API types ----

// Trade represents a trade from the data API.
type Trade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Asset           string  `json:"asset"`
	TransactionHash string  `json:"transactionHash"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`
	Name            string  `json:"name"`
	Pseudonym       string  `json:"pseudonym"`
}

// Notional is the trade's USD value.
func (t Trade) Notional() float64 {
	return t.Size * t.Price
}

// Activity represents user activity from the data API.
type Activity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"` // TRADE, SPLIT, MERGE, REDEEM, REWARD, CONVERSION
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	Side            string  `json:"side"`
	TransactionHash string  `json:"transactionHash"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	Outcome         string  `json:"outcome"`
	Name            string  `json:"name"`
	Pseudonym       string  `json:"pseudonym"`
}

// ClosedPosition represents a resolved position from the data API.
type ClosedPosition struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	AvgPrice     float64 `json:"avgPrice"`
	TotalBought  float64 `json:"totalBought"`
	RealizedPnl  float64 `json:"realizedPnl"`
	Timestamp    int64   `json:"timestamp"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcomeIndex"`
}

// Position represents an open position from the data API.
type Position struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnl      float64 `json:"cashPnl"`
	RealizedPnl  float64 `json:"realizedPnl"`
	CurPrice     float64 `json:"curPrice"`
	Redeemable   bool    `json:"redeemable"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcomeIndex"`
}

// Holder is one wallet's balance of an outcome token.
type Holder struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	Amount       float64 `json:"amount"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Name         string  `json:"name"`
	Pseudonym    string  `json:"pseudonym"`
}

// TokenHolders groups the top holders of one outcome token.
type TokenHolders struct {
	Token   string   `json:"token"`
	Holders []Holder `json:"holders"`
}

// TradeQuery filters GetMarketTrades.
type TradeQuery struct {
	Limit  int
	Offset int
	// MinCash drops trades below this USD size server-side.
	MinCash float64
}

// GetMarketTrades fetches one page of trades for a market, newest first.
func (c *PolymarketApiClient) GetMarketTrades(
	ctx context.Context,
	conditionID string,
	query TradeQuery,
) ([]Trade, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}
	if query.Limit <= 0 {
		query.Limit = 500
	}

	u, err := c.dataURL("/trades")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("market", conditionID)
	q.Set("limit", strconv.Itoa(query.Limit))
	q.Set("takerOnly", "false")
	if query.Offset > 0 {
		q.Set("offset", strconv.Itoa(query.Offset))
	}
	if query.MinCash > 0 {
		q.Set("filterType", "CASH")
		q.Set("filterAmount", strconv.FormatFloat(query.MinCash, 'f', -1, 64))
	}
	u.RawQuery = q.Encode()

	var trades []Trade
	if err := c.doGet(ctx, u.String(), &trades); err != nil {
		return nil, fmt.Errorf("get market trades: %w", err)
	}
	return trades, nil
}

// ActivityQuery filters GetUserActivity.
type ActivityQuery struct {
	Limit int
	// Type restricts to one activity type, e.g. "TRADE".
	Type string
	// Ascending returns the oldest activity first.
	Ascending bool
}

// GetUserActivity fetches activity for a wallet.
func (c *PolymarketApiClient) GetUserActivity(
	ctx context.Context,
	wallet string,
	query ActivityQuery,
) ([]Activity, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := c.dataURL("/activity")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("user", wallet)
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Type != "" {
		q.Set("type", query.Type)
	}
	q.Set("sortBy", "TIMESTAMP")
	if query.Ascending {
		q.Set("sortDirection", "ASC")
	} else {
		q.Set("sortDirection", "DESC")
	}
	u.RawQuery = q.Encode()

	var activity []Activity
	if err := c.doGet(ctx, u.String(), &activity); err != nil {
		return nil, fmt.Errorf("get user activity: %w", err)
	}
	return activity, nil
}

// GetClosedPositions fetches resolved positions for a wallet.
func (c *PolymarketApiClient) GetClosedPositions(
	ctx context.Context,
	wallet string,
	limit int,
	offset int,
) ([]ClosedPosition, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := c.dataURL("/closed-positions")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("user", wallet)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	u.RawQuery = q.Encode()

	var positions []ClosedPosition
	if err := c.doGet(ctx, u.String(), &positions); err != nil {
		return nil, fmt.Errorf("get closed positions: %w", err)
	}
	return positions, nil
}

// GetPositions fetches open positions of any size for a wallet.
func (c *PolymarketApiClient) GetPositions(
	ctx context.Context,
	wallet string,
	limit int,
) ([]Position, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := c.dataURL("/positions")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("user", wallet)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	q.Set("sizeThreshold", "0")
	u.RawQuery = q.Encode()

	var positions []Position
	if err := c.doGet(ctx, u.String(), &positions); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return positions, nil
}

// GetMarketHolders fetches the top holders of each outcome token of a market.
func (c *PolymarketApiClient) GetMarketHolders(
	ctx context.Context,
	conditionID string,
	limit int,
) ([]TokenHolders, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	u, err := c.dataURL("/holders")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("market", conditionID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	var holders []TokenHolders
	if err := c.doGet(ctx, u.String(), &holders); err != nil {
		return nil, fmt.Errorf("get market holders: %w", err)
	}
	return holders, nil
}

func (c *PolymarketApiClient) gammaURL(path string) (*url.URL, error) {
	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = path
	return u, nil
}

func (c *PolymarketApiClient) dataURL(path string) (*url.URL, error) {
	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = path
	return u, nil
}

// doGet performs a GET request and decodes the JSON response.
func (c *PolymarketApiClient) doGet(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
