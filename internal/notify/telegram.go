package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const defaultTelegramAPIURL = "https://api.telegram.org"

type TelegramConfig struct {
	APIURL   string
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

// Telegram posts messages through the Bot API sendMessage method. The bot
// never polls for updates.
type Telegram struct {
	cfg TelegramConfig
	bot *bot.Bot
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultTelegramAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	b, err := bot.New(cfg.BotToken,
		bot.WithSkipGetMe(),
		bot.WithServerURL(cfg.APIURL),
		bot.WithHTTPClient(cfg.Timeout, &http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %s", redactToken(err.Error(), cfg.BotToken))
	}

	return &Telegram{cfg: cfg, bot: b}, nil
}

func (t *Telegram) Publish(ctx context.Context, msg Message) error {
	chatID := t.cfg.ChatID
	if msg.Destination != "" {
		chatID = msg.Destination
	}

	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      msg.Text,
		ParseMode: models.ParseMode(msg.Format),
	})
	if err != nil {
		// request errors carry the url, which embeds the bot token
		return fmt.Errorf("%w: telegram sendMessage: %s", ErrDeliveryFailed, redactToken(err.Error(), t.cfg.BotToken))
	}
	return nil
}

func redactToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<redacted>")
}
