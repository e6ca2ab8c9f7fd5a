package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"amber-ink/internal/domain"
)

// SMTPConfig описывает подключение к почтовому серверу.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type mailClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Email отправляет письма через SMTP. Без настроенного хоста письма только
// пишутся в лог и возвращается симулированная квитанция.
type Email struct {
	client mailClient
	from   string
	log    zerolog.Logger
}

var _ domain.ChannelSender = (*Email)(nil)

// NewEmail создаёт отправителя писем.
func NewEmail(cfg SMTPConfig, logger zerolog.Logger) (*Email, error) {
	e := &Email{from: cfg.From, log: logger.With().Str("component", "sender_email").Logger()}
	if cfg.Host == "" {
		return e, nil
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(20 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	e.client = client
	return e, nil
}

// Name реализует domain.ChannelSender.
func (e *Email) Name() string { return string(domain.ContactEmail) }

// Send реализует domain.ChannelSender.
func (e *Email) Send(ctx context.Context, user domain.User, intent domain.DeliveryIntent) (domain.Receipt, error) {
	rendered, err := Render(user, intent)
	if err != nil {
		return domain.Receipt{}, &domain.DeliveryError{Channel: e.Name(), Err: err}
	}
	recipient := intent.Address(user)

	if e.client == nil {
		e.log.Info().Str("user", user.ID).Str("to", recipient).Str("subject", rendered.Subject).Msg("sender_email: smtp not configured, message logged")
		return domain.Receipt{Channel: e.Name(), Simulated: true, SentAt: time.Now().UTC()}, nil
	}

	msg := mail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return domain.Receipt{}, &domain.DeliveryError{Channel: e.Name(), Err: fmt.Errorf("from address: %w", err)}
	}
	if err := msg.To(recipient); err != nil {
		return domain.Receipt{}, &domain.DeliveryError{Channel: e.Name(), Err: fmt.Errorf("recipient address: %w", err)}
	}
	msg.Subject(rendered.Subject)
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, rendered.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, rendered.HTML)

	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		return domain.Receipt{}, &domain.DeliveryError{Channel: e.Name(), Retryable: retryableSMTP(err), Err: err}
	}
	receipt := domain.Receipt{Channel: e.Name(), SentAt: time.Now().UTC()}
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		receipt.ProviderID = ids[0]
	}
	e.log.Info().Str("user", user.ID).Str("kind", string(intent.Kind)).Msg("sender_email: sent")
	return receipt, nil
}

// Постоянные отказы сервера (5xx) повторять бессмысленно.
func retryableSMTP(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	return true
}
