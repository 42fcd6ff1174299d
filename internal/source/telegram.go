// Package source implements the upstream message source client for Telegram.
//
// Polling deliberately never passes an update offset: the Telegram service
// keeps re-delivering unacknowledged updates, which gives the engine the
// at-least-once, possibly-duplicate stream it is specified against. The
// ingestion engine's deduplication window is the only defense against that
// replay.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"tglite/internal/domain"
)

// Telegram is a domain.MessageSource backed by the Telegram Bot API.
type Telegram struct {
	api         *tgbotapi.BotAPI
	limiter     *rate.Limiter
	pollTimeout int
	logger      *slog.Logger
}

type Config struct {
	Token string
	// PollTimeout is the long-poll timeout in seconds; 0 means short poll.
	PollTimeout int
	// SendRate caps outbound dispatches per second. Telegram throttles
	// bots that exceed roughly one message per second per chat.
	SendRate float64
	Logger   *slog.Logger
}

func NewTelegram(cfg Config) (*Telegram, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 1
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected",
		"username", api.Self.UserName,
		"id", api.Self.ID,
	)
	return &Telegram{
		api:         api,
		limiter:     rate.NewLimiter(rate.Limit(cfg.SendRate), 1),
		pollTimeout: cfg.PollTimeout,
		logger:      cfg.Logger,
	}, nil
}

// BotName returns the username Telegram reported for this bot at connect time.
func (t *Telegram) BotName() string { return t.api.Self.UserName }

// PollNew fetches the current unacknowledged update batch in arrival order.
// Events without a text body are dropped.
func (t *Telegram) PollNew(ctx context.Context) ([]domain.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = t.pollTimeout

	updates, err := t.api.GetUpdates(cfg)
	if err != nil {
		return nil, mapAPIError(err)
	}

	events := make([]domain.RawEvent, 0, len(updates))
	for _, u := range updates {
		ev, ok := eventFromUpdate(u)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Dispatch sends text to the target chat and returns Telegram's message id.
func (t *Telegram) Dispatch(ctx context.Context, targetID int64, text string) (int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	sent, err := t.api.Send(tgbotapi.NewMessage(targetID, text))
	if err != nil {
		return 0, mapAPIError(err)
	}
	return sent.MessageID, nil
}

// Retract deletes a previously dispatched message from Telegram. Best-effort:
// Telegram refuses deletion of messages older than 48 hours, among others.
func (t *Telegram) Retract(ctx context.Context, targetID int64, upstreamMessageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(targetID, upstreamMessageID)); err != nil {
		return mapAPIError(err)
	}
	return nil
}

// eventFromUpdate converts one Telegram update into a raw event. Updates
// without a message or with an empty text body are skipped.
func eventFromUpdate(u tgbotapi.Update) (domain.RawEvent, bool) {
	if u.Message == nil || u.Message.Text == "" || u.Message.From == nil {
		return domain.RawEvent{}, false
	}
	name := u.Message.From.FirstName
	if u.Message.From.LastName != "" {
		name += " " + u.Message.From.LastName
	}
	return domain.RawEvent{
		ConversationID:    u.Message.Chat.ID,
		SenderName:        name,
		SenderHandle:      u.Message.From.UserName,
		Text:              u.Message.Text,
		UpstreamMessageID: u.Message.MessageID,
	}, true
}

// mapAPIError turns a Telegram API rejection into a RejectedError with the
// service's own description, and everything else into a transient error.
func mapAPIError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &domain.RejectedError{Detail: apiErr.Message}
	}
	return &domain.TransientError{Err: err}
}
