package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

// Scheduler сохраняет сгенерированную доставку.
type Scheduler interface {
	GenerateSchedule(ctx context.Context, userID, content string, scheduledAt time.Time) error
}

// Result: итог прохода генерации.
type Result struct {
	Candidates int
	Scheduled  int
	Failed     int
}

// Service готовит следующую доставку для каждого активного пользователя.
type Service struct {
	users     domain.UserRepo
	generator domain.ContentGenerator
	scheduler Scheduler
	log       zerolog.Logger
}

// NewService создаёт сервис генерации.
func NewService(users domain.UserRepo, generator domain.ContentGenerator, scheduler Scheduler, logger zerolog.Logger) *Service {
	return &Service{
		users:     users,
		generator: generator,
		scheduler: scheduler,
		log:       logger.With().Str("component", "analyzer").Logger(),
	}
}

// Run проходит по активным пользователям. Ошибка генерации оставляет прежнее
// расписание пользователя без изменений и не прерывает проход.
func (s *Service) Run(ctx context.Context) (Result, error) {
	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("выборка пользователей: %w", err)
	}
	result := Result{Candidates: len(users)}
	for _, user := range users {
		if ctx.Err() != nil {
			s.log.Warn().Err(ctx.Err()).Msg("analyzer: run interrupted")
			break
		}
		if err := s.RunForUser(ctx, user); err != nil {
			result.Failed++
			s.log.Error().Err(err).Str("user", user.ID).Msg("analyzer: generation failed")
			continue
		}
		result.Scheduled++
	}
	s.log.Info().Int("candidates", result.Candidates).Int("scheduled", result.Scheduled).Int("failed", result.Failed).Msg("analyzer: run finished")
	return result, nil
}

// RunForUser генерирует и сохраняет доставку одного пользователя.
func (s *Service) RunForUser(ctx context.Context, user domain.User) error {
	generated, err := s.generator.Generate(ctx, user)
	metrics.ObserveGeneration(err)
	if err != nil {
		return err
	}
	if err := s.scheduler.GenerateSchedule(ctx, user.ID, generated.Content, generated.ScheduledAt); err != nil {
		return fmt.Errorf("сохранение расписания: %w", err)
	}
	return nil
}
