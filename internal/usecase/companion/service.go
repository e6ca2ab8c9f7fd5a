package companion

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
)

// Result: ответ собеседника.
type Result struct {
	Messages       []string
	User           domain.User
	ProfileUpdated bool
}

// Service ведёт разговор с зарегистрированным пользователем.
type Service struct {
	users    domain.UserRepo
	sessions domain.SessionRepo
	agent    domain.CompanionAgent
	history  int
	log      zerolog.Logger
}

// NewService создаёт сервис. В промпт попадают последние historyLimit реплик.
func NewService(users domain.UserRepo, sessions domain.SessionRepo, agent domain.CompanionAgent, historyLimit int, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		agent:    agent,
		history:  historyLimit,
		log:      logger.With().Str("component", "companion").Logger(),
	}
}

// Reply отвечает на сообщение. При initial=true агент сам начинает разговор
// и message может быть пустым. Если агент вернул изменения профиля, они
// проверяются и сохраняются.
func (s *Service) Reply(ctx context.Context, userID, message string, history []domain.ChatMessage, initial bool) (Result, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return Result{}, err
	}
	message = strings.TrimSpace(message)
	if message == "" && !initial {
		return Result{}, domain.NewValidationError("message", "required")
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	summary := domain.DefaultPersonaSummary
	session, found, err := s.sessions.GetSession(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("получение сессии: %w", err)
	}
	if found && session.PersonaSummary != "" {
		summary = session.PersonaSummary
	}
	if s.history > 0 && len(history) > s.history {
		history = history[len(history)-s.history:]
	}

	reply, err := s.agent.Respond(ctx, domain.CompanionPrompt{
		User:           user,
		PersonaSummary: summary,
		History:        history,
		Message:        message,
		Initial:        initial,
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{Messages: domain.SplitMessages(reply.Text), User: user}
	if reply.UpdatedProfile == nil {
		return result, nil
	}
	patch := reply.UpdatedProfile.Patch()
	if patch.Empty() {
		return result, nil
	}
	if err := patch.Validate(); err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("companion: profile update rejected")
		return result, nil
	}
	updated, err := s.users.UpdateProfile(ctx, userID, patch)
	if err != nil {
		return Result{}, fmt.Errorf("обновление профиля: %w", err)
	}
	s.log.Info().Str("user", userID).Msg("companion: profile updated")
	result.User = updated
	result.ProfileUpdated = true
	return result, nil
}
