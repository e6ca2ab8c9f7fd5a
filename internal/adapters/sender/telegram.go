package sender

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

const telegramMessageLimit = 4096

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет сообщения через Bot API. Адресом служит chat id.
type Telegram struct {
	bot botAPI
	log zerolog.Logger
}

var _ domain.ChannelSender = (*Telegram)(nil)

// NewTelegram создаёт отправителя поверх готового клиента бота.
func NewTelegram(bot *tgbotapi.BotAPI, logger zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, log: logger.With().Str("component", "sender_telegram").Logger()}
}

// Name реализует domain.ChannelSender.
func (t *Telegram) Name() string { return string(domain.ContactTelegram) }

// Send реализует domain.ChannelSender. Длинный текст делится на части,
// кнопка со ссылкой прикрепляется к последней.
func (t *Telegram) Send(ctx context.Context, user domain.User, intent domain.DeliveryIntent) (domain.Receipt, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(intent.Address(user)), 10, 64)
	if err != nil {
		return domain.Receipt{}, &domain.DeliveryError{Channel: t.Name(), Err: fmt.Errorf("chat id: %w", err)}
	}
	parts := splitText(intent.Content, telegramMessageLimit)
	if len(parts) == 0 {
		return domain.Receipt{}, &domain.DeliveryError{Channel: t.Name(), Err: errors.New("empty message")}
	}

	var keyboard *tgbotapi.InlineKeyboardMarkup
	if url, label := linkFor(intent); url != "" {
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(label, url),
		))
		keyboard = &markup
	}

	var last tgbotapi.Message
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return domain.Receipt{}, &domain.DeliveryError{Channel: t.Name(), Retryable: true, Err: err}
		}
		msg := tgbotapi.NewMessage(chatID, part)
		if i == len(parts)-1 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		last, err = t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", string(intent.Kind), start, err)
		if err != nil {
			return domain.Receipt{}, &domain.DeliveryError{Channel: t.Name(), Retryable: retryableTelegram(err), Err: err}
		}
	}
	return domain.Receipt{
		Channel:    t.Name(),
		ProviderID: strconv.Itoa(last.MessageID),
		SentAt:     time.Now().UTC(),
	}, nil
}

func linkFor(intent domain.DeliveryIntent) (string, string) {
	if intent.Kind == domain.MessageEmergency {
		return intent.StatusURL, "状況を確認する"
	}
	return intent.CheckInURL, "今日のチェックイン"
}

func retryableTelegram(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}
