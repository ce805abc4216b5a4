package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"insiderwatch/clients/notifier"
	"insiderwatch/config"
)

const defaultAPIBase = "https://api.telegram.org"

var severityEmoji = map[string]string{
	"critical": "🟣",
	"high":     "🔴",
	"medium":   "🟠",
	"low":      "🟡",
}

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	apiBase  string
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	tc := &TelegramClient{
		logger:  logger,
		chatID:  chatID,
		isProd:  cfg.IsProd,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	if cfg.Telegram.BotToken == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return tc
	}
	tc.botToken = cfg.Telegram.BotToken

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)
	return tc
}

// Enabled reports whether both token and chat are configured.
func (tc *TelegramClient) Enabled() bool {
	return tc.botToken != "" && tc.chatID != ""
}

// SendSuspectAlert sends a suspect alert as a Markdown message.
func (tc *TelegramClient) SendSuspectAlert(ctx context.Context, alert notifier.SuspectAlert) error {
	if !tc.Enabled() {
		tc.logger.Debug("telegram not configured, skipping alert")
		return nil
	}

	if err := tc.sendMessage(ctx, buildAlertMessage(alert)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	tc.logger.Info("sent telegram suspect alert",
		zap.String("wallet", shortAddress(alert.TraderAddress)),
		zap.String("market", alert.MarketTitle),
	)
	return nil
}

func buildAlertMessage(alert notifier.SuspectAlert) string {
	var sb strings.Builder

	emoji, ok := severityEmoji[alert.Severity]
	if !ok {
		emoji = severityEmoji["low"]
	}
	title := fmt.Sprintf("%s %s suspect: %s", emoji, strings.ToUpper(alert.Severity), strings.ReplaceAll(alert.SignalType, "_", " "))
	if alert.Change == notifier.ChangeEscalated {
		title += fmt.Sprintf(" (escalated from %s)", alert.PreviousSeverity)
	}
	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(title)))

	if alert.MarketURL != "" {
		sb.WriteString(fmt.Sprintf("*Market:* [%s](%s)\n", escapeMarkdown(alert.MarketTitle), alert.MarketURL))
	} else {
		sb.WriteString(fmt.Sprintf("*Market:* %s\n", escapeMarkdown(alert.MarketTitle)))
	}

	traderDisplay := shortAddress(alert.TraderAddress)
	if alert.TraderName != "" && alert.TraderName != traderDisplay {
		traderDisplay = fmt.Sprintf("%s (%s)", alert.TraderName, traderDisplay)
	}
	if alert.WalletURL != "" {
		sb.WriteString(fmt.Sprintf("*Trader:* [%s](%s)\n", escapeMarkdown(traderDisplay), alert.WalletURL))
	} else {
		sb.WriteString(fmt.Sprintf("*Trader:* %s\n", escapeMarkdown(traderDisplay)))
	}
	if len(alert.PreviousNames) > 0 {
		sb.WriteString(fmt.Sprintf("*Previously:* %s\n", escapeMarkdown(strings.Join(alert.PreviousNames, ", "))))
	}

	sb.WriteString(fmt.Sprintf("*Risk:* %d/100 (%.0f%% likely)\n", alert.RiskScore, alert.Probability*100))
	sb.WriteString(fmt.Sprintf("*Profit:* $%s\n", humanize.Comma(int64(alert.TotalProfit))))
	sb.WriteString(fmt.Sprintf("*Trades:* %d across %d markets\n", alert.TotalTrades, alert.UniqueMarkets))
	if alert.AccountAgeDays != nil {
		sb.WriteString(fmt.Sprintf("*Account age:* %.0f days\n", *alert.AccountAgeDays))
	}

	if len(alert.Evidence) > 0 {
		sb.WriteString("\n")
		for _, e := range alert.Evidence {
			sb.WriteString("• " + escapeMarkdown(e) + "\n")
		}
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_%s_", ts.UTC().Format("2006-01-02 15:04 MST")))

	return sb.String()
}

func (tc *TelegramClient) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiBase, tc.botToken)

	payload := map[string]any{
		"chat_id":                  tc.chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
