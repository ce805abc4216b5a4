package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"insiderwatch/clients/notifier"
	"insiderwatch/config"
)

// Embed colors per severity.
var severityColors = map[string]int{
	"critical": 0x8E44AD,
	"high":     0xE74C3C,
	"medium":   0xE67E22,
	"low":      0xF1C40F,
}

var signalTitles = map[string]string{
	"new_account_large_bet":     "🆕 New Account Large Bet",
	"timing_correlation":        "⏱️ Timing Correlation",
	"statistical_improbability": "🎯 Statistically Improbable Record",
	"account_obfuscation":       "🥷 Account Obfuscation",
	"disproportionate_bet":      "🐋 Disproportionate Bet",
	"pattern_match":             "🚨 Suspected Insider",
}

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	dc := &DiscordClient{
		logger:    logger,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return dc
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return dc
	}
	dc.session = session

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)
	return dc
}

// Enabled reports whether a session is available.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil && dc.channelID != ""
}

// SendSuspectAlert sends a rich embedded suspect alert.
func (dc *DiscordClient) SendSuspectAlert(ctx context.Context, alert notifier.SuspectAlert) error {
	if !dc.Enabled() {
		dc.logger.Debug("discord session not initialized, skipping alert")
		return nil
	}

	embed := buildSuspectEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord embed: %w", err)
	}

	dc.logger.Info("sent discord suspect alert",
		zap.String("wallet", shortAddress(alert.TraderAddress)),
		zap.String("market", alert.MarketTitle),
		zap.String("severity", alert.Severity),
	)
	return nil
}

func buildSuspectEmbed(alert notifier.SuspectAlert) *discordgo.MessageEmbed {
	color, ok := severityColors[alert.Severity]
	if !ok {
		color = severityColors["low"]
	}

	traderDisplay := shortAddress(alert.TraderAddress)
	if alert.TraderName != "" && alert.TraderName != traderDisplay {
		traderDisplay = fmt.Sprintf("%s (%s)", alert.TraderName, traderDisplay)
	}
	if alert.WalletURL != "" {
		traderDisplay = fmt.Sprintf("[%s](%s)", traderDisplay, alert.WalletURL)
	}

	severity := strings.ToUpper(alert.Severity)
	if alert.Change == notifier.ChangeEscalated && alert.PreviousSeverity != "" {
		severity = fmt.Sprintf("%s → %s", strings.ToUpper(alert.PreviousSeverity), severity)
	}

	winRate := "N/A"
	if alert.WinRate > 0 {
		winRate = fmt.Sprintf("%.1f%%", alert.WinRate*100)
	}
	age := "unknown"
	if alert.AccountAgeDays != nil {
		age = fmt.Sprintf("%.0f days", *alert.AccountAgeDays)
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Trader", Value: traderDisplay, Inline: true},
		{Name: "Risk", Value: fmt.Sprintf("%d/100 (%s)", alert.RiskScore, severity), Inline: true},
		{Name: "Probability", Value: fmt.Sprintf("%.0f%%", alert.Probability*100), Inline: true},
		{Name: "Profit", Value: "$" + humanize.Commaf(roundCents(alert.TotalProfit)), Inline: true},
		{Name: "Trades / Markets", Value: fmt.Sprintf("%d / %d", alert.TotalTrades, alert.UniqueMarkets), Inline: true},
		{Name: "Win Rate", Value: winRate, Inline: true},
		{Name: "Account Age", Value: age, Inline: true},
		{Name: "Largest Trade", Value: "$" + humanize.Commaf(roundCents(alert.LargestTrade)), Inline: true},
	}
	if len(alert.PreviousNames) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Previous Names",
			Value: strings.Join(alert.PreviousNames, ", "),
		})
	}
	if len(alert.Evidence) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Evidence",
			Value: truncate("• "+strings.Join(alert.Evidence, "\n• "), 1024),
		})
	}

	description := fmt.Sprintf("**%s**", alert.MarketTitle)
	if alert.MarketURL != "" {
		description = fmt.Sprintf("**[%s](%s)**", alert.MarketTitle, alert.MarketURL)
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &discordgo.MessageEmbed{
		Title:       buildAlertTitle(alert),
		URL:         alert.WalletURL,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("insiderwatch * alert %s", alert.AlertID),
		},
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}

func buildAlertTitle(alert notifier.SuspectAlert) string {
	title, ok := signalTitles[alert.SignalType]
	if !ok {
		title = signalTitles["pattern_match"]
	}
	if alert.Change == notifier.ChangeEscalated {
		title += " (escalated)"
	}
	return title
}

func roundCents(v float64) float64 {
	return float64(int64(v*100)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
