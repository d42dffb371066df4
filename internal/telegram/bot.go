// Package telegram adapts the Telegram Bot API to pipeline.Transport.
//
// HISTORY:
// The Bot API has no "read chat history" call. Every inbound message is
// appended to the store's message log by the pipeline, and every message the
// bot sends is appended here. RecentMessages reads that log.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sakif/contact-tracker/internal/model"
	"github.com/sakif/contact-tracker/internal/pipeline"
	"github.com/sakif/contact-tracker/internal/repository"
)

// pollTimeout is the long-polling timeout in seconds.
const pollTimeout = 30

// Dial connects to the Bot API with token and checks it with getMe.
func Dial(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connecting bot: %w", err)
	}
	return api, nil
}

// Bot is the transport for one account.
type Bot struct {
	api       *tgbotapi.BotAPI
	accountID string
	messages  repository.MessageRepository
	logger    *slog.Logger
}

var _ pipeline.Transport = (*Bot)(nil)

func New(api *tgbotapi.BotAPI, accountID string, messages repository.MessageRepository, logger *slog.Logger) *Bot {
	return &Bot{
		api:       api,
		accountID: accountID,
		messages:  messages,
		logger: logger.With(
			slog.String("component", "telegram"),
			slog.String("account_id", accountID),
			slog.String("bot", api.Self.UserName),
		),
	}
}

// Username is the bot's own @name.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Listen long-polls for updates and emits one Event per text message. The
// returned channel is closed after ctx is done and polling has stopped.
func (b *Bot) Listen(ctx context.Context) <-chan pipeline.Event {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)

	out := make(chan pipeline.Event)
	go func() {
		defer close(out)
		defer b.api.StopReceivingUpdates()

		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				ev, ok := toEvent(upd)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	b.logger.Info("listening for updates")
	return out
}

// toEvent keeps messages with text (or a caption) and a human-visible
// author. Edits, channel posts and service messages are dropped.
func toEvent(upd tgbotapi.Update) (pipeline.Event, bool) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return pipeline.Event{}, false
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return pipeline.Event{}, false
	}

	return pipeline.Event{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Sender: pipeline.Sender{
			ID:        msg.From.ID,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
			Username:  msg.From.UserName,
			IsBot:     msg.From.IsBot,
		},
		Text:    text,
		SentAt:  msg.Time().UTC(),
		Private: msg.Chat.IsPrivate(),
	}, true
}

// Profile reads a user's public profile. For a user the private chat id is
// the user id, and getChat is the only Bot API call that returns the bio.
func (b *Bot) Profile(_ context.Context, userID int64) (pipeline.Profile, error) {
	chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: userID},
	})
	if err != nil {
		return pipeline.Profile{}, fmt.Errorf("telegram: getChat %d: %w", userID, err)
	}
	return pipeline.Profile{
		Name:     model.DisplayName(chat.FirstName, chat.LastName),
		Username: chat.UserName,
		Bio:      chat.Bio,
	}, nil
}

func (b *Bot) RecentMessages(ctx context.Context, chatID int64, limit int) ([]model.Message, error) {
	return b.messages.RecentMessages(ctx, b.accountID, chatID, limit)
}

// Send delivers a plain-text message and records it in the message log as
// outgoing.
func (b *Bot) Send(ctx context.Context, chatID int64, text string) error {
	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return fmt.Errorf("telegram: sending to %d: %w", chatID, err)
	}

	sentAt := sent.Time()
	if sent.Date == 0 {
		sentAt = time.Now()
	}
	err = b.messages.AppendMessage(ctx, &model.Message{
		AccountID: b.accountID,
		ChatID:    chatID,
		MessageID: sent.MessageID,
		SenderID:  b.api.Self.ID,
		Text:      text,
		SentAt:    sentAt.UTC(),
		Direction: model.DirectionOutgoing,
	})
	if err != nil {
		b.logger.Warn("logging sent message failed", slog.String("error", err.Error()))
	}
	return nil
}
