package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

// DefaultTestContent отправляется пробной доставкой без текста.
const DefaultTestContent = "Amber Ink からのテスト配信です。"

// Service управляет запланированными доставками.
type Service struct {
	users      domain.UserRepo
	deliveries domain.DeliveryRepo
	events     domain.BusinessMetricRepo
	sender     domain.ChannelSender
	links      domain.LinkIssuer
	log        zerolog.Logger
	now        func() time.Time
}

// NewService создаёт сервис доставки. links может быть nil: тогда сообщения
// уходят без ссылки на отметку.
func NewService(users domain.UserRepo, deliveries domain.DeliveryRepo, events domain.BusinessMetricRepo, sender domain.ChannelSender, links domain.LinkIssuer, logger zerolog.Logger) *Service {
	return &Service{
		users:      users,
		deliveries: deliveries,
		events:     events,
		sender:     sender,
		links:      links,
		log:        logger.With().Str("component", "delivery").Logger(),
		now:        time.Now,
	}
}

// GenerateSchedule записывает следующую доставку пользователя. Предыдущая
// запись заменяется целиком, флаг sent сбрасывается.
func (s *Service) GenerateSchedule(ctx context.Context, userID, content string, scheduledAt time.Time) error {
	if err := domain.ValidateUserID(userID); err != nil {
		return err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.NewValidationError("content", "required")
	}
	if scheduledAt.IsZero() {
		return domain.NewValidationError("scheduled_at", "required")
	}
	record := domain.ScheduledDelivery{
		Content:     content,
		ScheduledAt: scheduledAt.UTC(),
		GeneratedAt: s.now().UTC(),
	}
	if err := s.deliveries.SaveScheduledDelivery(ctx, userID, record); err != nil {
		return fmt.Errorf("сохранение доставки: %w", err)
	}
	s.recordEvent(ctx, domain.BusinessMetricEventDeliveryScheduled, userID, map[string]any{
		"scheduled_at": record.ScheduledAt.Format(time.RFC3339),
	})
	return nil
}

// DueDeliveries возвращает готовые к отправке доставки, упорядоченные по
// времени. Непустой targetUserID ограничивает выборку одним пользователем.
func (s *Service) DueDeliveries(ctx context.Context, now time.Time, targetUserID string) ([]domain.DueDelivery, error) {
	if targetUserID != "" {
		if err := domain.ValidateUserID(targetUserID); err != nil {
			return nil, err
		}
	}
	due, err := s.deliveries.ListDueDeliveries(ctx, now, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("выборка доставок: %w", err)
	}
	return due, nil
}

// MarkSent фиксирует успешную отправку. Возвращает false, если запись была
// перегенерирована или уже отмечена.
func (s *Service) MarkSent(ctx context.Context, due domain.DueDelivery, at time.Time) (bool, error) {
	ok, err := s.deliveries.MarkDeliverySent(ctx, due.User.ID, due.Delivery.ScheduledAt, at)
	if err != nil {
		return false, fmt.Errorf("отметка отправки: %w", err)
	}
	return ok, nil
}

// RunDue выполняет один проход: отправляет каждую готовую доставку и
// отмечает её отправленной. Ошибка одного пользователя не прерывает проход.
func (s *Service) RunDue(ctx context.Context, now time.Time, targetUserID string) (domain.PassResult, error) {
	start := time.Now()
	defer func() { metrics.DeliveryPassSeconds.Observe(time.Since(start).Seconds()) }()

	due, err := s.DueDeliveries(ctx, now, targetUserID)
	if err != nil {
		return domain.PassResult{}, err
	}
	result := domain.PassResult{Candidates: len(due)}
	for _, item := range due {
		if ctx.Err() != nil {
			s.log.Warn().Err(ctx.Err()).Msg("delivery: pass interrupted")
			break
		}
		logger := s.log.With().Str("user", item.User.ID).Time("scheduled_at", item.Delivery.ScheduledAt).Logger()

		intent := domain.DeliveryIntent{
			Target:     domain.TargetSelf,
			Kind:       domain.MessageDaily,
			Content:    item.Delivery.Content,
			CheckInURL: s.checkInURL(item.User.ID),
		}
		receipt, err := s.sender.Send(ctx, item.User, intent)
		if err != nil {
			result.Failed++
			logger.Error().Err(err).Msg("delivery: send failed")
			continue
		}

		marked, err := s.MarkSent(ctx, item, s.now().UTC())
		if err != nil {
			// Сообщение уже ушло: повтор на следующем проходе возможен.
			result.Failed++
			logger.Error().Err(err).Msg("delivery: mark sent failed")
			continue
		}
		result.Sent++
		if !marked {
			logger.Warn().Msg("delivery: record changed during send, left for next pass")
			continue
		}
		s.recordEvent(ctx, domain.BusinessMetricEventDeliverySent, item.User.ID, map[string]any{
			"channel":   receipt.Channel,
			"simulated": receipt.Simulated,
		})
		logger.Info().Str("channel", receipt.Channel).Msg("delivery: sent")
	}
	s.log.Info().Int("candidates", result.Candidates).Int("sent", result.Sent).Int("failed", result.Failed).Msg("delivery: pass finished")
	return result, nil
}

// SendTest отправляет пробное сообщение в обход расписания. Состояние
// пользователя не меняется.
func (s *Service) SendTest(ctx context.Context, userID, content string) (domain.Receipt, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return domain.Receipt{}, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.Receipt{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		content = DefaultTestContent
	}
	intent := domain.DeliveryIntent{
		Target:     domain.TargetSelf,
		Kind:       domain.MessageTest,
		Content:    content,
		CheckInURL: s.checkInURL(userID),
	}
	receipt, err := s.sender.Send(ctx, user, intent)
	if err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("delivery: test send failed")
		return domain.Receipt{}, err
	}
	s.log.Info().Str("user", userID).Str("channel", receipt.Channel).Msg("delivery: test sent")
	return receipt, nil
}

func (s *Service) checkInURL(userID string) string {
	if s.links == nil {
		return ""
	}
	url, err := s.links.CheckInURL(userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("delivery: check-in link failed")
		return ""
	}
	return url
}

func (s *Service) recordEvent(ctx context.Context, event, userID string, meta map[string]any) {
	if s.events == nil {
		return
	}
	metric := domain.BusinessMetric{Event: event, UserID: userID, Metadata: meta, OccurredAt: s.now().UTC()}
	if err := s.events.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("delivery: business metric failed")
	}
}
