package platform

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/metrics"
)

// TelegramChannel publishes posts to a Telegram channel through the
// Bot API. The adapter owns the shape of the API response: the core
// only ever sees domain.PublishResult.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

var _ domain.PlatformAdapter = (*TelegramChannel)(nil)

// NewTelegramChannel creates the adapter for one channel.
func NewTelegramChannel(bot *tgbotapi.BotAPI, chatID int64) *TelegramChannel {
	return &TelegramChannel{bot: bot, chatID: chatID}
}

// Name implements domain.PlatformAdapter.
func (t *TelegramChannel) Name() string { return "telegram" }

// Publish sends the post text to the channel.
func (t *TelegramChannel) Publish(ctx context.Context, post domain.Post) (domain.PublishResult, error) {
	msg := tgbotapi.NewMessage(t.chatID, post.Content)
	start := time.Now()
	sent, err := t.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "publish_post", strconv.FormatInt(t.chatID, 10), start, err)
	if err != nil {
		return domain.PublishResult{}, err
	}
	return domain.PublishResult{
		Success:        true,
		PlatformPostID: strconv.Itoa(sent.MessageID),
	}, nil
}
