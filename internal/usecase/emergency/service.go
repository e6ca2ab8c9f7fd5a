package emergency

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

// DefaultThreshold: период тишины, после которого уведомляется экстренный контакт.
const DefaultThreshold = domain.DefaultInactivityThreshold

// Service следит за неактивными пользователями.
type Service struct {
	repo   domain.EmergencyRepo
	events domain.BusinessMetricRepo
	sender domain.ChannelSender
	links  domain.LinkIssuer
	log    zerolog.Logger
}

// NewService создаёт монитор неактивности.
func NewService(repo domain.EmergencyRepo, events domain.BusinessMetricRepo, sender domain.ChannelSender, links domain.LinkIssuer, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		events: events,
		sender: sender,
		links:  links,
		log:    logger.With().Str("component", "emergency").Logger(),
	}
}

// Scan уведомляет экстренные контакты пользователей, молчащих дольше
// threshold. За один эпизод тишины уведомление уходит не больше одного раза.
func (s *Service) Scan(ctx context.Context, now time.Time, threshold time.Duration) (domain.ScanResult, error) {
	users, err := s.repo.ListInactive(ctx, domain.InactivityCutoff(now, threshold))
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("выборка неактивных: %w", err)
	}
	result := domain.ScanResult{Candidates: len(users)}
	for _, user := range users {
		if ctx.Err() != nil {
			s.log.Warn().Err(ctx.Err()).Msg("emergency: scan interrupted")
			break
		}
		logger := s.log.With().Str("user", user.ID).Time("last_seen", user.LastSeen).Logger()

		intent := domain.DeliveryIntent{
			Target:    domain.TargetEmergency,
			Kind:      domain.MessageEmergency,
			Content:   AlertText(user, now),
			StatusURL: s.statusURL(user.ID),
		}
		receipt, err := s.sender.Send(ctx, user, intent)
		metrics.ObserveEmergencyAlert(err)
		if err != nil {
			result.Failed++
			logger.Error().Err(err).Msg("emergency: alert failed")
			continue
		}

		marked, err := s.repo.MarkEmergencyNotified(ctx, user.ID, user.LastSeen, now)
		if err != nil {
			result.Failed++
			logger.Error().Err(err).Msg("emergency: mark notified failed")
			continue
		}
		result.Notified++
		if !marked {
			logger.Warn().Msg("emergency: user checked in during alert, flag left clear")
			continue
		}
		if s.events != nil {
			metric := domain.BusinessMetric{
				Event:      domain.BusinessMetricEventEmergencyNotified,
				UserID:     user.ID,
				Metadata:   map[string]any{"channel": receipt.Channel, "days_since": DaysSince(user.LastSeen, now)},
				OccurredAt: now,
			}
			if err := s.events.RecordBusinessMetric(ctx, metric); err != nil {
				logger.Warn().Err(err).Msg("emergency: business metric failed")
			}
		}
		logger.Info().Str("channel", receipt.Channel).Msg("emergency: contact notified")
	}
	s.log.Info().Int("candidates", result.Candidates).Int("notified", result.Notified).Int("failed", result.Failed).Msg("emergency: scan finished")
	return result, nil
}

// DaysSince возвращает число полных суток с момента lastSeen.
func DaysSince(lastSeen, now time.Time) int {
	if !now.After(lastSeen) {
		return 0
	}
	return int(now.Sub(lastSeen) / (24 * time.Hour))
}

// AlertText формирует текст уведомления экстренному контакту.
func AlertText(user domain.User, now time.Time) string {
	return fmt.Sprintf("%s さんから %d 日間チェックインがありません。お手すきの際にご様子を確認してください。",
		user.Name, DaysSince(user.LastSeen, now))
}

func (s *Service) statusURL(userID string) string {
	if s.links == nil {
		return ""
	}
	url, err := s.links.StatusURL(userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("emergency: status link failed")
		return ""
	}
	return url
}
