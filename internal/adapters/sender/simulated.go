package sender

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
)

// Simulated заменяет канал без подключённого провайдера (LINE, SMS):
// сообщение пишется в лог, квитанция помечается как симулированная.
type Simulated struct {
	channel domain.ContactMethod
	log     zerolog.Logger
}

var _ domain.ChannelSender = (*Simulated)(nil)

// NewLine создаёт заглушку LINE.
func NewLine(logger zerolog.Logger) *Simulated {
	return newSimulated(domain.ContactLine, logger)
}

// NewSMS создаёт заглушку SMS.
func NewSMS(logger zerolog.Logger) *Simulated {
	return newSimulated(domain.ContactPhone, logger)
}

func newSimulated(channel domain.ContactMethod, logger zerolog.Logger) *Simulated {
	return &Simulated{channel: channel, log: logger.With().Str("component", "sender_"+string(channel)).Logger()}
}

// Name реализует domain.ChannelSender.
func (s *Simulated) Name() string { return string(s.channel) }

// Send реализует domain.ChannelSender.
func (s *Simulated) Send(_ context.Context, user domain.User, intent domain.DeliveryIntent) (domain.Receipt, error) {
	id := uuid.NewString()
	s.log.Info().
		Str("user", user.ID).
		Str("to", intent.Address(user)).
		Str("kind", string(intent.Kind)).
		Str("provider_id", id).
		Msg("sender: provider not connected, message logged")
	return domain.Receipt{Channel: s.Name(), ProviderID: id, Simulated: true, SentAt: time.Now().UTC()}, nil
}
