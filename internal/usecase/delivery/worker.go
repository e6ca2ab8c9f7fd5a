package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
)

// MaxJobAttempts ограничивает число попыток одной задачи.
const MaxJobAttempts = 5

const (
	jobKeyPrefix = "amber-ink:delivery-job:"
	jobKeyTTL    = 24 * time.Hour
)

// Worker обрабатывает задачи из очереди доставки: пробные отправки и
// внеплановые проходы для одного пользователя.
type Worker struct {
	queue   domain.DeliveryQueue
	service *Service
	dedup   domain.Cache
	log     zerolog.Logger
	backoff time.Duration
}

// NewWorker создаёт обработчик очереди.
func NewWorker(queue domain.DeliveryQueue, service *Service, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:   queue,
		service: service,
		log:     logger.With().Str("component", "delivery_worker").Logger(),
		backoff: time.Second,
	}
}

// WithDedup включает защиту от повторной доставки пробных задач: задача с
// уже выполненным ID пропускается. cache может быть nil.
func (w *Worker) WithDedup(cache domain.Cache) *Worker {
	w.dedup = cache
	return w
}

// Run читает очередь до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("delivery_worker: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}
		if err := w.Process(ctx, job); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("delivery_worker: задача отброшена")
		}
		if err := ack(true); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("delivery_worker: не удалось подтвердить задачу")
		}
	}
}

// Process выполняет задачу. Временные сбои переотправляют задачу в очередь
// с увеличенным счётчиком попыток; возвращённая ошибка означает, что задача
// больше не будет выполняться.
func (w *Worker) Process(ctx context.Context, job domain.DeliveryJob) error {
	logger := w.log.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("user", job.UserID).Int("attempt", job.Attempt).Logger()

	var err error
	switch job.Kind {
	case domain.DeliveryJobTest:
		sent := false
		err = w.once(ctx, job, func() error {
			receipt, err := w.service.SendTest(ctx, job.UserID, job.Content)
			if err != nil {
				return err
			}
			sent = true
			logger.Info().Str("channel", receipt.Channel).Bool("simulated", receipt.Simulated).Msg("delivery_worker: пробная доставка отправлена")
			return nil
		})
		if err == nil && !sent {
			logger.Info().Msg("delivery_worker: задача уже выполнена, повтор пропущен")
		}
	case domain.DeliveryJobRunDue:
		if err = domain.ValidateUserID(job.UserID); err != nil {
			break
		}
		var result domain.PassResult
		result, err = w.service.RunDue(ctx, w.service.now(), job.UserID)
		if err == nil {
			logger.Info().Int("sent", result.Sent).Int("failed", result.Failed).Msg("delivery_worker: проход выполнен")
		}
	default:
		return fmt.Errorf("неизвестный тип задачи %q", job.Kind)
	}
	if err == nil {
		return nil
	}
	if !retryable(err) || job.Attempt+1 >= MaxJobAttempts {
		return err
	}
	job.Attempt++
	if qerr := w.queue.Enqueue(ctx, job); qerr != nil {
		return fmt.Errorf("повторная постановка: %w (исходная ошибка: %v)", qerr, err)
	}
	logger.Warn().Err(err).Msg("delivery_worker: задача поставлена на повтор")
	return nil
}

func (w *Worker) once(ctx context.Context, job domain.DeliveryJob, fn func() error) error {
	if w.dedup == nil || job.ID == "" {
		return fn()
	}
	return w.dedup.Once(ctx, jobKeyPrefix+job.ID, jobKeyTTL, fn)
}

func retryable(err error) bool {
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
		return false
	}
	var derr *domain.DeliveryError
	if errors.As(err, &derr) {
		return derr.Retryable
	}
	return true
}
