package notify

import (
	"context"
	"fmt"
	"strings"

	"campusbook/internal/events"
	"campusbook/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const channelTelegram = "telegram"

// TelegramSender is the slice of *tgbotapi.BotAPI used for desk alerts.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

// DeskAlerts posts reservation changes to the facility desk chat.
type DeskAlerts struct {
	bot    TelegramSender
	chatID int64
	logger *zerolog.Logger
}

func NewDeskAlerts(bot TelegramSender, chatID int64, logger *zerolog.Logger) *DeskAlerts {
	return &DeskAlerts{bot: bot, chatID: chatID, logger: logger}
}

// NewBotAPI connects to Telegram with the configured token.
func NewBotAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

// Subscribe wires the alerts to reservation events on bus.
func (d *DeskAlerts) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventReservationCreated, d.handle)
	bus.Subscribe(events.EventReservationCancelled, d.handle)
	d.logger.Info().Str("bot", d.bot.GetSelf().UserName).Int64("chat_id", d.chatID).Msg("desk alerts enabled")
}

func (d *DeskAlerts) handle(_ context.Context, event *events.Event) error {
	var p events.ReservationEventPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}

	msg := tgbotapi.NewMessage(d.chatID, formatAlert(event.Type, p))
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := d.bot.Send(msg)
	metrics.IncNotification(channelTelegram, err)
	if err != nil {
		return fmt.Errorf("send desk alert: %w", err)
	}
	return nil
}

func formatAlert(eventType string, p events.ReservationEventPayload) string {
	var b strings.Builder
	switch eventType {
	case events.EventReservationCreated:
		b.WriteString("*New reservation*\n")
	case events.EventReservationCancelled:
		b.WriteString("*Reservation cancelled*\n")
	}
	fmt.Fprintf(&b, "%s\n", escapeMarkdown(p.Title))
	fmt.Fprintf(&b, "%s, %s\n", p.Date, escapeMarkdown(p.TimeSlot))
	fmt.Fprintf(&b, "Host: %s", escapeMarkdown(p.HostName))
	if p.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", escapeMarkdown(p.Reason))
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
