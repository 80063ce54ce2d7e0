package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"surveybot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 2
)

// Telegram implements domain.Channel for a Telegram bot. Chat IDs are the
// numeric Telegram chat IDs in decimal.
type Telegram struct {
	token     string
	parseMode string
	logger    *slog.Logger

	bot       *tgbotapi.BotAPI
	ready     chan struct{}
	readyOnce sync.Once
}

type TelegramChannelConfig struct {
	Token     string
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramChannelConfig) *Telegram {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		parseMode: cfg.ParseMode,
		logger:    logger,
		ready:     make(chan struct{}),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Ready is closed once the bot has authenticated.
func (t *Telegram) Ready() <-chan struct{} { return t.ready }

// Start connects to Telegram and long-polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.readyOnce.Do(func() { close(t.ready) })
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(bus, update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := t.chat(chatID)
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, id, chunk); err != nil {
			return err
		}
	}
	return nil
}

// SendMedia sends images as photos and everything else as documents.
func (t *Telegram) SendMedia(ctx context.Context, chatID, path, caption string) error {
	id, err := t.chat(chatID)
	if err != nil {
		return err
	}

	var msg tgbotapi.Chattable
	if isImage(path) {
		photo := tgbotapi.NewPhoto(id, tgbotapi.FilePath(path))
		photo.Caption = caption
		msg = photo
	} else {
		doc := tgbotapi.NewDocument(id, tgbotapi.FilePath(path))
		doc.Caption = caption
		msg = doc
	}

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send media: %w", err)
	}
	return nil
}

func (t *Telegram) chat(chatID string) (int64, error) {
	if t.bot == nil {
		return 0, fmt.Errorf("telegram: not connected")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat ID %q: %w", chatID, err)
	}
	return id, nil
}

func (t *Telegram) handleUpdate(bus domain.MessageBus, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	chatID := update.Message.Chat.ID
	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}
	if update.Message.IsCommand() {
		t.logger.Debug("telegram command ignored", "chat_id", chatID, "command", update.Message.Command())
		return
	}

	t.logger.Debug("telegram message received", "chat_id", chatID, "text_len", len(text))
	bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(update.Message.From.ID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

// sendChunk tries the configured parse mode first, falls back to plain text
// on a markup error and backs off on rate limits.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	parseMode := t.parseMode
	var lastErr error

	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = parseMode

		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		if parseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markup rejected, retrying as plain text", "err", err, "parseMode", parseMode)
			parseMode = ""
			continue
		}

		backoff := time.Duration(attempt+1) * time.Second
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff *= 3
		}
		if attempt == telegramMaxSendRetries {
			break
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("telegram send: %w", lastErr)
}
