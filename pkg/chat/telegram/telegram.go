// Package telegram adapts the Telegram Bot API to the chat transport contract.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/3leaps/deploybot/pkg/chat"
)

// Config configures the Telegram adapter.
type Config struct {
	// Token is the bot token issued by BotFather.
	Token string

	// PollTimeout is the long-poll timeout in seconds.
	// Default: 60
	PollTimeout int

	// Debug enables request logging inside the Bot API client.
	Debug bool
}

// Bot is a chat.Transport backed by the Telegram Bot API.
type Bot struct {
	api         *tgbotapi.BotAPI
	logger      *zap.Logger
	pollTimeout int
}

var _ chat.Transport = (*Bot)(nil)

// New connects to the Bot API and validates the token.
func New(cfg Config, logger *zap.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot api: %w", err)
	}
	api.Debug = cfg.Debug

	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 60
	}

	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	return &Bot{api: api, logger: logger, pollTimeout: timeout}, nil
}

// UserName returns the bot's username.
func (b *Bot) UserName() string {
	return b.api.Self.UserName
}

// Send posts a new message and returns its id.
func (b *Bot) Send(_ context.Context, chatID int64, msg chat.OutgoingMessage) (int, error) {
	cfg := tgbotapi.NewMessage(chatID, msg.Text)
	if !msg.Keyboard.Empty() {
		cfg.ReplyMarkup = toInlineMarkup(msg.Keyboard)
	}

	sent, err := b.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

// Edit replaces text and keyboard of an existing message. An empty keyboard
// removes the existing one.
func (b *Bot) Edit(_ context.Context, chatID int64, messageID int, msg chat.OutgoingMessage) error {
	var cfg tgbotapi.EditMessageTextConfig
	if msg.Keyboard.Empty() {
		cfg = tgbotapi.NewEditMessageText(chatID, messageID, msg.Text)
	} else {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, msg.Text, toInlineMarkup(msg.Keyboard))
	}

	if _, err := b.api.Request(cfg); err != nil {
		if isNotModified(err) {
			return nil
		}
		return fmt.Errorf("edit message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// Delete removes a message.
func (b *Bot) Delete(_ context.Context, chatID int64, messageID int) error {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query.
func (b *Bot) AnswerCallback(_ context.Context, callbackID string, text string) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback %s: %w", callbackID, err)
	}
	return nil
}

// CheckHealth verifies the Bot API is reachable.
func (b *Bot) CheckHealth(_ context.Context) error {
	if _, err := b.api.GetMe(); err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	return nil
}

// Updates long-polls the Bot API and emits converted updates until ctx is
// cancelled. The returned channel is closed on exit.
func (b *Bot) Updates(ctx context.Context) <-chan chat.Update {
	out := make(chan chat.Update)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	in := b.api.GetUpdatesChan(u)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				update, ok := fromUpdate(raw)
				if !ok {
					continue
				}
				select {
				case out <- update:
				case <-ctx.Done():
					b.api.StopReceivingUpdates()
					return
				}
			}
		}
	}()

	return out
}

func toInlineMarkup(k chat.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(k))
	for _, row := range k {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func fromUpdate(raw tgbotapi.Update) (chat.Update, bool) {
	switch {
	case raw.Message != nil && raw.Message.Chat != nil:
		m := &chat.Message{
			ChatID:    raw.Message.Chat.ID,
			MessageID: raw.Message.MessageID,
			Text:      raw.Message.Text,
		}
		if raw.Message.From != nil {
			m.UserID = raw.Message.From.ID
			m.UserName = raw.Message.From.UserName
		}
		return chat.Update{Message: m}, true

	case raw.CallbackQuery != nil:
		q := raw.CallbackQuery
		cb := &chat.Callback{
			ID:   q.ID,
			Data: q.Data,
		}
		if q.From != nil {
			cb.UserID = q.From.ID
			cb.UserName = q.From.UserName
		}
		if q.Message != nil && q.Message.Chat != nil {
			cb.ChatID = q.Message.Chat.ID
			cb.MessageID = q.Message.MessageID
		} else if q.From != nil {
			cb.ChatID = q.From.ID
		}
		return chat.Update{Callback: cb}, true
	}
	return chat.Update{}, false
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
