package clients

import (
	"go.uber.org/zap"

	"insiderwatch/clients/discord"
	"insiderwatch/clients/gist"
	"insiderwatch/clients/kafka"
	"insiderwatch/clients/notifier"
	"insiderwatch/clients/polymarketapi"
	"insiderwatch/clients/telegram"
	"insiderwatch/config"
)

type Clients struct {
	Logger *zap.Logger

	Discord    *discord.DiscordClient
	Telegram   *telegram.TelegramClient
	Kafka      *kafka.SuspectPublisher
	Notifier   notifier.Notifier // Combined notifier for all channels
	Polymarket *polymarketapi.PolymarketApiClient
	Gist       *gist.Client
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)
	kafkaPublisher := kafka.NewSuspectPublisher(logger, cfg)

	return &Clients{
		Logger:     logger,
		Discord:    discordClient,
		Telegram:   telegramClient,
		Kafka:      kafkaPublisher,
		Notifier:   notifier.NewMultiNotifier(discordClient, telegramClient, kafkaPublisher),
		Polymarket: polymarketapi.NewPolymarketApiClient(logger, cfg),
		Gist:       gist.NewClient(logger, cfg),
	}
}

// Close releases notifier resources.
func (c *Clients) Close() error {
	return c.Notifier.Close()
}
