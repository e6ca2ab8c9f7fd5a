package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"amber-ink/internal/domain"
)

// Memory: хранилище в памяти процесса. Используется в dev-режиме без БД и в тестах.
type Memory struct {
	mu       sync.Mutex
	users    map[string]*memoryUser
	sessions map[string]domain.PersonaSession
	metrics  []domain.BusinessMetric
}

type memoryUser struct {
	user     domain.User
	checkins domain.CheckinSet
}

var _ domain.Store = (*Memory)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*memoryUser),
		sessions: make(map[string]domain.PersonaSession),
	}
}

func (m *memoryUser) snapshot() domain.User {
	u := m.user
	u.Checkins = m.checkins.Sorted()
	if m.user.ScheduledDelivery != nil {
		d := *m.user.ScheduledDelivery
		u.ScheduledDelivery = &d
	}
	return u
}

// GetUser реализует domain.UserRepo.
func (m *Memory) GetUser(_ context.Context, userID string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok {
		return domain.User{}, &domain.NotFoundError{UserID: userID}
	}
	return rec.snapshot(), nil
}

// UpsertProfile реализует domain.UserRepo.
func (m *Memory) UpsertProfile(_ context.Context, p domain.Profile, day domain.Day, at time.Time) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[p.UserID]
	if !ok {
		rec = &memoryUser{
			user: domain.User{
				ID:        p.UserID,
				Status:    domain.UserStatusActive,
				LastSeen:  at,
				CreatedAt: at,
			},
			checkins: domain.NewCheckinSet(day),
		}
		m.users[p.UserID] = rec
	}
	rec.user.Name = p.Name
	rec.user.Interest = p.Interest
	rec.user.Contact = p.Contact
	rec.user.ContactMethod = p.ContactMethod
	rec.user.EmergencyContact = p.EmergencyContact
	rec.user.EmergencyMethod = p.EmergencyMethod
	rec.user.Status = domain.UserStatusActive
	rec.user.UpdatedAt = at
	return rec.snapshot(), !ok, nil
}

// UpdateProfile реализует domain.UserRepo.
func (m *Memory) UpdateProfile(_ context.Context, userID string, patch domain.ProfilePatch) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok {
		return domain.User{}, &domain.NotFoundError{UserID: userID}
	}
	rec.user = patch.Apply(rec.user)
	rec.user.UpdatedAt = time.Now().UTC()
	return rec.snapshot(), nil
}

// ListActiveUsers реализует domain.UserRepo.
func (m *Memory) ListActiveUsers(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, rec := range m.users {
		if rec.user.IsActive() {
			out = append(out, rec.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddCheckin реализует domain.CheckinRepo.
func (m *Memory) AddCheckin(_ context.Context, userID string, day domain.Day, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok {
		return false, &domain.NotFoundError{UserID: userID}
	}
	added := rec.checkins.Add(day)
	if at.After(rec.user.LastSeen) {
		rec.user.LastSeen = at
	}
	rec.user.EmergencyNotified = false
	rec.user.UpdatedAt = at
	return added, nil
}

// ListCheckins реализует domain.CheckinRepo.
func (m *Memory) ListCheckins(_ context.Context, userID string) ([]domain.Day, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok {
		return nil, &domain.NotFoundError{UserID: userID}
	}
	return rec.checkins.Sorted(), nil
}

// SaveScheduledDelivery реализует domain.DeliveryRepo.
func (m *Memory) SaveScheduledDelivery(_ context.Context, userID string, d domain.ScheduledDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok {
		return &domain.NotFoundError{UserID: userID}
	}
	d.Sent = false
	rec.user.ScheduledDelivery = &d
	return nil
}

// ListDueDeliveries реализует domain.DeliveryRepo.
func (m *Memory) ListDueDeliveries(_ context.Context, now time.Time, userID string) ([]domain.DueDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DueDelivery
	for id, rec := range m.users {
		if userID != "" && id != userID {
			continue
		}
		if !rec.user.IsActive() || !rec.user.ScheduledDelivery.Due(now) {
			continue
		}
		out = append(out, domain.DueDelivery{User: rec.snapshot(), Delivery: *rec.user.ScheduledDelivery})
	}
	sortDue(out)
	return out, nil
}

// MarkDeliverySent реализует domain.DeliveryRepo.
func (m *Memory) MarkDeliverySent(_ context.Context, userID string, scheduledAt time.Time, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok {
		return false, &domain.NotFoundError{UserID: userID}
	}
	d := rec.user.ScheduledDelivery
	if d == nil || d.Sent || !d.ScheduledAt.Equal(scheduledAt) {
		return false, nil
	}
	d.Sent = true
	delivered := at
	rec.user.LastDeliveredAt = &delivered
	return true, nil
}

// ListInactive реализует domain.EmergencyRepo.
func (m *Memory) ListInactive(_ context.Context, cutoff time.Time) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, rec := range m.users {
		if rec.user.IsActive() && !rec.user.EmergencyNotified && rec.user.LastSeen.Before(cutoff) {
			out = append(out, rec.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.Before(out[j].LastSeen) })
	return out, nil
}

// MarkEmergencyNotified реализует domain.EmergencyRepo.
func (m *Memory) MarkEmergencyNotified(_ context.Context, userID string, lastSeen time.Time, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok {
		return false, &domain.NotFoundError{UserID: userID}
	}
	if rec.user.EmergencyNotified || !rec.user.LastSeen.Equal(lastSeen) {
		return false, nil
	}
	rec.user.EmergencyNotified = true
	notified := at
	rec.user.LastEmergencyAt = &notified
	return true, nil
}

// GetSession реализует domain.SessionRepo.
func (m *Memory) GetSession(_ context.Context, userID string) (domain.PersonaSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok, nil
}

// SaveSession реализует domain.SessionRepo.
func (m *Memory) SaveSession(_ context.Context, s domain.PersonaSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.UserID] = s
	return nil
}

// RecordBusinessMetric реализует domain.BusinessMetricRepo.
func (m *Memory) RecordBusinessMetric(_ context.Context, metric domain.BusinessMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, metric)
	return nil
}

// BusinessMetrics возвращает записанные события.
func (m *Memory) BusinessMetrics() []domain.BusinessMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BusinessMetric(nil), m.metrics...)
}

// SetLastSeen выставляет last_seen напрямую. Нужен для сценариев с давней активностью.
func (m *Memory) SetLastSeen(userID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.users[userID]; ok {
		rec.user.LastSeen = at
	}
}

func sortDue(out []domain.DueDelivery) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Delivery.ScheduledAt, out[j].Delivery.ScheduledAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].User.ID < out[j].User.ID
	})
}
