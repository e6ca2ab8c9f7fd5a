package sender

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

// DefaultTimeout ограничивает одну отправку.
const DefaultTimeout = 30 * time.Second

// Dispatcher выбирает отправителя по каналу адресата. Неизвестный канал
// обслуживает email.
type Dispatcher struct {
	senders  map[domain.ContactMethod]domain.ChannelSender
	fallback domain.ChannelSender
	timeout  time.Duration
	log      zerolog.Logger
}

var _ domain.ChannelSender = (*Dispatcher)(nil)

// NewDispatcher создаёт таблицу отправителей. fallback используется для
// каналов без своего отправителя.
func NewDispatcher(fallback domain.ChannelSender, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{
		senders:  make(map[domain.ContactMethod]domain.ChannelSender),
		fallback: fallback,
		timeout:  timeout,
		log:      logger.With().Str("component", "sender").Logger(),
	}
	d.Register(domain.ContactEmail, fallback)
	return d
}

// Register назначает отправителя каналу.
func (d *Dispatcher) Register(method domain.ContactMethod, sender domain.ChannelSender) {
	if sender == nil {
		return
	}
	d.senders[method] = sender
}

// Resolve возвращает отправителя для канала.
func (d *Dispatcher) Resolve(method domain.ContactMethod) domain.ChannelSender {
	if s, ok := d.senders[domain.NormalizeContactMethod(string(method))]; ok {
		return s
	}
	return d.fallback
}

// Name реализует domain.ChannelSender.
func (d *Dispatcher) Name() string { return "dispatcher" }

// Send выбирает отправителя и ограничивает отправку по времени. Любая ошибка
// возвращается как *domain.DeliveryError.
func (d *Dispatcher) Send(ctx context.Context, user domain.User, intent domain.DeliveryIntent) (domain.Receipt, error) {
	sender := d.Resolve(intent.Method(user))
	if sender == nil {
		return domain.Receipt{}, &domain.DeliveryError{Channel: string(intent.Method(user)), Err: errors.New("no sender configured")}
	}
	channel := sender.Name()
	if strings.TrimSpace(intent.Address(user)) == "" {
		err := &domain.DeliveryError{Channel: channel, Err: errors.New("empty recipient address")}
		metrics.ObserveDelivery(channel, string(intent.Kind), err)
		return domain.Receipt{}, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	receipt, err := sender.Send(sendCtx, user, intent)
	if err == nil && sendCtx.Err() != nil {
		err = sendCtx.Err()
	}
	if err != nil {
		err = d.wrap(channel, sendCtx, err)
	}
	metrics.ObserveDelivery(channel, string(intent.Kind), err)
	metrics.ObserveNetworkRequest("sender", string(intent.Kind), channel, start, err)
	if err != nil {
		return domain.Receipt{}, err
	}
	if receipt.Channel == "" {
		receipt.Channel = channel
	}
	if receipt.SentAt.IsZero() {
		receipt.SentAt = time.Now().UTC()
	}
	d.log.Debug().Str("user", user.ID).Str("channel", channel).Str("kind", string(intent.Kind)).Bool("simulated", receipt.Simulated).Msg("sender: delivered")
	return receipt, nil
}

func (d *Dispatcher) wrap(channel string, ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.DeliveryError{Channel: channel, Retryable: true, Err: err}
	}
	var de *domain.DeliveryError
	if errors.As(err, &de) {
		return de
	}
	return &domain.DeliveryError{Channel: channel, Retryable: true, Err: err}
}
