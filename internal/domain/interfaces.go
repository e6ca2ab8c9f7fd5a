package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями.
type UserRepo interface {
	// GetUser возвращает пользователя вместе с отметками или NotFoundError.
	GetUser(ctx context.Context, userID string) (User, error)
	// UpsertProfile создаёт или обновляет профиль. При создании пользователь
	// становится активным и получает отметку на день at.
	UpsertProfile(ctx context.Context, profile Profile, day Day, at time.Time) (User, bool, error)
	// UpdateProfile применяет частичное изменение профиля.
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (User, error)
	// ListActiveUsers возвращает активных пользователей.
	ListActiveUsers(ctx context.Context) ([]User, error)
}

// CheckinRepo хранит отметки присутствия.
type CheckinRepo interface {
	// AddCheckin атомарно добавляет день в множество, обновляет last_seen и
	// сбрасывает emergency_notified. Возвращает true, если день был новым.
	AddCheckin(ctx context.Context, userID string, day Day, at time.Time) (bool, error)
	// ListCheckins возвращает дни с отметками без повторов.
	ListCheckins(ctx context.Context, userID string) ([]Day, error)
}

// DeliveryRepo хранит запланированные доставки.
type DeliveryRepo interface {
	// SaveScheduledDelivery перезаписывает доставку пользователя с sent=false.
	SaveScheduledDelivery(ctx context.Context, userID string, delivery ScheduledDelivery) error
	// ListDueDeliveries выбирает активных пользователей с неотправленной
	// доставкой, у которой scheduled_at <= now. Пустой userID: все пользователи.
	ListDueDeliveries(ctx context.Context, now time.Time, userID string) ([]DueDelivery, error)
	// MarkDeliverySent помечает доставку отправленной, если запись не была
	// перегенерирована после выборки. Возвращает false, если запись изменилась.
	MarkDeliverySent(ctx context.Context, userID string, scheduledAt time.Time, at time.Time) (bool, error)
}

// EmergencyRepo обслуживает монитор неактивности.
type EmergencyRepo interface {
	// ListInactive выбирает активных пользователей с last_seen < cutoff и без уведомления.
	ListInactive(ctx context.Context, cutoff time.Time) ([]User, error)
	// MarkEmergencyNotified ставит флаг, если last_seen не изменился с момента выборки.
	MarkEmergencyNotified(ctx context.Context, userID string, lastSeen time.Time, at time.Time) (bool, error)
}

// SessionRepo хранит персональные сессии агента.
type SessionRepo interface {
	GetSession(ctx context.Context, userID string) (PersonaSession, bool, error)
	SaveSession(ctx context.Context, session PersonaSession) error
}

// Store объединяет все репозитории одного хранилища.
type Store interface {
	UserRepo
	CheckinRepo
	DeliveryRepo
	EmergencyRepo
	SessionRepo
	BusinessMetricRepo
}

// Cache выполняет fn не более одного раза за ttl для ключа key. Если fn
// вернула ошибку, ключ снимается и следующая попытка выполнит fn снова.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}
