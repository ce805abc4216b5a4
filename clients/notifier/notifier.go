package notifier

import (
	"context"
	"errors"
	"time"
)

// Change describes what happened to the alert behind a notification.
type Change string

const (
	ChangeCreated   Change = "created"
	ChangeEscalated Change = "escalated"
)

// Flag is one fired risk heuristic.
type Flag struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Weight   int    `json:"weight"`
	Detail   string `json:"detail"`
}

// SuspectAlert contains all the data needed for a suspect notification.
type SuspectAlert struct {
	AlertID string `json:"alert_id"`
	RunID   string `json:"run_id"`
	Change  Change `json:"change"`

	// Wallet info
	TraderName    string   `json:"trader_name,omitempty"`
	PreviousNames []string `json:"previous_names,omitempty"`
	TraderAddress string   `json:"trader_address"`
	WalletURL     string   `json:"wallet_url"`

	// Market info
	MarketID    string `json:"market_id"`
	MarketTitle string `json:"market_title"`
	MarketURL   string `json:"market_url,omitempty"`

	// Assessment
	RiskScore        int      `json:"risk_score"`
	Severity         string   `json:"severity"`
	PreviousSeverity string   `json:"previous_severity,omitempty"`
	Probability      float64  `json:"probability"`
	SignalType       string   `json:"signal_type"`
	Flags            []Flag   `json:"flags"`
	Evidence         []string `json:"evidence"`

	// Wallet stats
	TotalProfit    float64  `json:"total_profit"`
	TotalTrades    int      `json:"total_trades"`
	UniqueMarkets  int      `json:"unique_markets"`
	WinRate        float64  `json:"win_rate"`
	AccountAgeDays *float64 `json:"account_age_days,omitempty"`
	LargestTrade   float64  `json:"largest_trade"`

	Timestamp time.Time `json:"timestamp"`
}

// Notifier is the interface for delivering suspect alerts to a channel.
type Notifier interface {
	// SendSuspectAlert delivers one alert. Implementations that are not
	// configured return nil.
	SendSuspectAlert(ctx context.Context, alert SuspectAlert) error

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendSuspectAlert sends the alert to every notifier. A failing channel
// does not stop delivery to the others; all errors are joined.
func (m *MultiNotifier) SendSuspectAlert(ctx context.Context, alert SuspectAlert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.SendSuspectAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
