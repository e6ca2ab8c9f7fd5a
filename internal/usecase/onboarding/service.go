package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
)

// ErrAgentDisabled возвращается, если диалоговая регистрация не настроена.
var ErrAgentDisabled = errors.New("onboarding agent is not configured")

// TurnResult: ответ на один ход регистрационного диалога.
type TurnResult struct {
	Messages []string
	Draft    domain.OnboardingDraft
	Complete bool
	User     *domain.User
}

// Service регистрирует пользователей: через анкету или через диалог с агентом.
type Service struct {
	users    domain.UserRepo
	sessions domain.SessionRepo
	events   domain.BusinessMetricRepo
	agent    domain.OnboardingAgent
	loc      *time.Location
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис регистрации. agent может быть nil, если диалог не нужен.
func NewService(users domain.UserRepo, sessions domain.SessionRepo, events domain.BusinessMetricRepo, agent domain.OnboardingAgent, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		users:    users,
		sessions: sessions,
		events:   events,
		agent:    agent,
		loc:      loc,
		log:      logger.With().Str("component", "onboarding").Logger(),
		now:      time.Now,
	}
}

// Register создаёт или обновляет профиль. Новый пользователь становится
// активным и получает отметку за сегодня; существующие отметки сохраняются.
func (s *Service) Register(ctx context.Context, profile domain.Profile) (domain.User, bool, error) {
	profile = profile.Normalize()
	if err := profile.Validate(); err != nil {
		return domain.User{}, false, err
	}
	now := s.now()
	user, created, err := s.users.UpsertProfile(ctx, profile, domain.DayOf(now, s.loc), now)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("сохранение профиля: %w", err)
	}
	if created {
		s.log.Info().Str("user", user.ID).Str("method", string(user.ContactMethod)).Msg("onboarding: user registered")
		if s.events != nil {
			metric := domain.BusinessMetric{
				Event:      domain.BusinessMetricEventUserRegistered,
				UserID:     user.ID,
				Metadata:   map[string]any{"contact_method": string(user.ContactMethod)},
				OccurredAt: now,
			}
			if err := s.events.RecordBusinessMetric(ctx, metric); err != nil {
				s.log.Warn().Err(err).Str("user", user.ID).Msg("onboarding: business metric failed")
			}
		}
	}
	return user, created, nil
}

// Turn выполняет ход диалога: агент отвечает, извлечённые поля дополняют
// черновик. Когда агент сообщает о завершении и все поля собраны,
// пользователь регистрируется так же, как через анкету.
func (s *Service) Turn(ctx context.Context, userID, message string, history []domain.ChatMessage) (TurnResult, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return TurnResult{}, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return TurnResult{}, domain.NewValidationError("message", "required")
	}
	if s.agent == nil {
		return TurnResult{}, ErrAgentDisabled
	}

	session, found, err := s.sessions.GetSession(ctx, userID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("получение сессии: %w", err)
	}
	if !found {
		session = domain.PersonaSession{UserID: userID, PersonaSummary: domain.DefaultPersonaSummary}
	}

	reply, err := s.agent.Onboard(ctx, domain.OnboardingPrompt{
		PersonaSummary: session.PersonaSummary,
		Draft:          session.Draft,
		History:        history,
		Message:        message,
	})
	if err != nil {
		return TurnResult{}, err
	}

	session.Draft = session.Draft.Merge(reply.Extracted)
	session.UpdatedAt = s.now().UTC()
	result := TurnResult{Messages: domain.SplitMessages(reply.Text), Draft: session.Draft}

	if reply.Complete && session.Draft.Filled() {
		user, _, err := s.Register(ctx, session.Draft.Profile(userID))
		switch {
		case err == nil:
			session.Complete = true
			if summary := strings.TrimSpace(reply.PersonaSummary); summary != "" {
				session.PersonaSummary = summary
			}
			result.Complete = true
			result.User = &user
		case errors.Is(err, domain.ErrValidation):
			s.log.Warn().Err(err).Str("user", userID).Msg("onboarding: draft rejected")
		default:
			return TurnResult{}, err
		}
	}

	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return TurnResult{}, fmt.Errorf("сохранение сессии: %w", err)
	}
	return result, nil
}

// UpdateProfile применяет частичное изменение профиля из клиента.
func (s *Service) UpdateProfile(ctx context.Context, userID string, patch domain.ProfilePatch) (domain.User, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return domain.User{}, err
	}
	if patch.Empty() {
		return domain.User{}, domain.NewValidationError("", "nothing to update")
	}
	if err := patch.Validate(); err != nil {
		return domain.User{}, err
	}
	user, err := s.users.UpdateProfile(ctx, userID, patch)
	if err != nil {
		return domain.User{}, err
	}
	s.log.Info().Str("user", userID).Msg("onboarding: profile updated")
	return user, nil
}
