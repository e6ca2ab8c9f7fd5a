package checkin

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

const (
	// SourceAPI: отметка из авторизованного клиента.
	SourceAPI = "api"
	// SourceLink: отметка по ссылке из письма или сообщения.
	SourceLink = "link"
)

// Result описывает итог отметки.
type Result struct {
	UserID   string
	Day      domain.Day
	NewDay   bool
	LastSeen time.Time
	Streak   int
}

// Summary: профиль вместе с серией и календарём.
type Summary struct {
	User   domain.User
	Today  domain.Day
	Streak int
	Window []domain.WindowDay
}

// StatusView: состояние пользователя для экстренного контакта.
type StatusView struct {
	UserID         string
	Name           string
	LastSeen       time.Time
	DaysSince      int
	NeedsAttention bool
	Streak         int
}

// Service ведёт журнал отметок.
type Service struct {
	users    domain.UserRepo
	checkins domain.CheckinRepo
	events   domain.BusinessMetricRepo
	loc      *time.Location
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис. Все дни считаются в зоне loc.
func NewService(users domain.UserRepo, checkins domain.CheckinRepo, events domain.BusinessMetricRepo, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		users:    users,
		checkins: checkins,
		events:   events,
		loc:      loc,
		log:      logger.With().Str("component", "checkin").Logger(),
		now:      time.Now,
	}
}

// Location возвращает зону журнала.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Today возвращает текущий день журнала.
func (s *Service) Today() domain.Day {
	return domain.DayOf(s.now(), s.loc)
}

// RecordCheckIn добавляет день отметки и обновляет last_seen. Повторная
// отметка в тот же день не меняет множество, но обновляет last_seen.
func (s *Service) RecordCheckIn(ctx context.Context, userID string, ts time.Time, source string) (Result, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return Result{}, err
	}
	if ts.IsZero() {
		ts = s.now()
	}
	day := domain.DayOf(ts, s.loc)
	added, err := s.checkins.AddCheckin(ctx, userID, day, ts)
	if err != nil {
		return Result{}, fmt.Errorf("запись отметки: %w", err)
	}
	metrics.ObserveCheckin(source, added)

	days, err := s.checkins.ListCheckins(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("получение отметок: %w", err)
	}
	streak := domain.CurrentStreak(domain.NewCheckinSet(days...), day)

	if added && s.events != nil {
		metric := domain.BusinessMetric{
			Event:      domain.BusinessMetricEventCheckinRecorded,
			UserID:     userID,
			Metadata:   map[string]any{"day": day.String(), "source": source, "streak": streak},
			OccurredAt: ts,
		}
		if err := s.events.RecordBusinessMetric(ctx, metric); err != nil {
			s.log.Warn().Err(err).Str("user", userID).Msg("checkin: business metric failed")
		}
	}
	s.log.Debug().Str("user", userID).Str("day", day.String()).Bool("new_day", added).Msg("checkin: recorded")
	return Result{UserID: userID, Day: day, NewDay: added, LastSeen: ts, Streak: streak}, nil
}

// RecordCheckInRaw разбирает строковую метку времени и записывает отметку.
// Пустая строка означает текущий момент.
func (s *Service) RecordCheckInRaw(ctx context.Context, userID, raw, source string) (Result, error) {
	if raw == "" {
		return s.RecordCheckIn(ctx, userID, s.now(), source)
	}
	ts, err := domain.ParseCheckInTimestamp(raw, s.loc)
	if err != nil {
		return Result{}, err
	}
	return s.RecordCheckIn(ctx, userID, ts, source)
}

// CurrentStreak возвращает длину серии, заканчивающейся днём asOf.
func (s *Service) CurrentStreak(ctx context.Context, userID string, asOf domain.Day) (int, error) {
	set, err := s.loadSet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return domain.CurrentStreak(set, asOf), nil
}

// RenderWindow строит календарь серии из size дней.
func (s *Service) RenderWindow(ctx context.Context, userID string, today domain.Day, size int) ([]domain.WindowDay, error) {
	set, err := s.loadSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.RenderWindow(set, today, size), nil
}

// Summary возвращает пользователя с текущей серией и календарём.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return Summary{}, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	today := s.Today()
	set := domain.NewCheckinSet(user.Checkins...)
	return Summary{
		User:   user,
		Today:  today,
		Streak: domain.CurrentStreak(set, today),
		Window: domain.RenderWindow(set, today, domain.DefaultWindowSize),
	}, nil
}

// Status собирает сводку для экстренного контакта. Пользователь требует
// внимания по тому же правилу, по которому монитор тишины шлёт оповещение.
func (s *Service) Status(ctx context.Context, userID string, threshold time.Duration) (StatusView, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return StatusView{}, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return StatusView{}, err
	}
	now := s.now()
	daysSince := 0
	if elapsed := now.Sub(user.LastSeen); elapsed > 0 {
		daysSince = int(elapsed / (24 * time.Hour))
	}
	return StatusView{
		UserID:         user.ID,
		Name:           user.Name,
		LastSeen:       user.LastSeen,
		DaysSince:      daysSince,
		NeedsAttention: user.Silent(now, threshold),
		Streak:         domain.CurrentStreak(domain.NewCheckinSet(user.Checkins...), domain.DayOf(now, s.loc)),
	}, nil
}

func (s *Service) loadSet(ctx context.Context, userID string) (domain.CheckinSet, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	days, err := s.checkins.ListCheckins(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.NewCheckinSet(days...), nil
}
