package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const userColumns = `id, name, interest, contact, contact_method, emergency_contact, emergency_method, status,
last_seen, delivery_content, delivery_scheduled_at, delivery_sent, delivery_generated_at, last_delivered_at,
emergency_notified, last_emergency_at, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u             domain.User
		contactMethod string
		emergencyVia  string
		status        string
		content       sql.NullString
		scheduledAt   sql.NullTime
		sent          bool
		generatedAt   sql.NullTime
		deliveredAt   sql.NullTime
		emergencyAt   sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Interest, &u.Contact, &contactMethod, &u.EmergencyContact, &emergencyVia, &status,
		&u.LastSeen, &content, &scheduledAt, &sent, &generatedAt, &deliveredAt,
		&u.EmergencyNotified, &emergencyAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}
	u.ContactMethod = domain.ContactMethod(contactMethod)
	u.EmergencyMethod = domain.ContactMethod(emergencyVia)
	u.Status = domain.UserStatus(status)
	if scheduledAt.Valid {
		d := &domain.ScheduledDelivery{
			Content:     content.String,
			ScheduledAt: scheduledAt.Time,
			Sent:        sent,
		}
		if generatedAt.Valid {
			d.GeneratedAt = generatedAt.Time
		}
		u.ScheduledDelivery = d
	}
	if deliveredAt.Valid {
		ts := deliveredAt.Time
		u.LastDeliveredAt = &ts
	}
	if emergencyAt.Valid {
		ts := emergencyAt.Time
		u.LastEmergencyAt = &ts
	}
	return u, nil
}

func (p *Postgres) queryUsers(ctx context.Context, operation, query string, args ...any) ([]domain.User, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", operation, "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser реализует domain.UserRepo.
func (p *Postgres) GetUser(ctx context.Context, userID string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	u, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, &domain.NotFoundError{UserID: userID}
	}
	if err != nil {
		return domain.User{}, err
	}
	days, err := p.ListCheckins(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	u.Checkins = days
	return u, nil
}

// UpsertProfile реализует domain.UserRepo.
func (p *Postgres) UpsertProfile(ctx context.Context, profile domain.Profile, day domain.Day, at time.Time) (domain.User, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "users", start, err)
	if err != nil {
		return domain.User{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var created bool
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO users (id, name, interest, contact, contact_method, emergency_contact, emergency_method, status, last_seen, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'active', $8, $8, $8)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    interest = EXCLUDED.interest,
    contact = EXCLUDED.contact,
    contact_method = EXCLUDED.contact_method,
    emergency_contact = EXCLUDED.emergency_contact,
    emergency_method = EXCLUDED.emergency_method,
    status = 'active',
    updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0)
`, profile.UserID, profile.Name, profile.Interest, profile.Contact, string(profile.ContactMethod),
		profile.EmergencyContact, string(profile.EmergencyMethod), at).Scan(&created)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, false, err
	}

	if created {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO checkins (user_id, day, first_at) VALUES ($1, $2, $3)
ON CONFLICT (user_id, day) DO NOTHING
`, profile.UserID, day.Time(time.UTC), at)
		metrics.ObserveNetworkRequest("postgres", "checkins_insert", "checkins", start, err)
		if err != nil {
			return domain.User{}, false, err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit_tx", "users", start, err)
	if err != nil {
		return domain.User{}, false, err
	}

	u, err := p.GetUser(ctx, profile.UserID)
	return u, created, err
}

// UpdateProfile реализует domain.UserRepo.
func (p *Postgres) UpdateProfile(ctx context.Context, userID string, patch domain.ProfilePatch) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	current, err := p.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	next := patch.Apply(current)

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
UPDATE users SET name=$2, interest=$3, contact=$4, contact_method=$5, emergency_contact=$6, emergency_method=$7, status=$8, updated_at=now()
WHERE id=$1
`, userID, next.Name, next.Interest, next.Contact, string(next.ContactMethod), next.EmergencyContact, string(next.EmergencyMethod), string(next.Status))
	metrics.ObserveNetworkRequest("postgres", "users_update_profile", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	return p.GetUser(ctx, userID)
}

// ListActiveUsers реализует domain.UserRepo.
func (p *Postgres) ListActiveUsers(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	return p.queryUsers(ctx, "users_list_active", `SELECT `+userColumns+` FROM users WHERE status='active' ORDER BY id`)
}

// AddCheckin реализует domain.CheckinRepo. Вставка дня и обновление last_seen
// выполняются в одной транзакции.
func (p *Postgres) AddCheckin(ctx context.Context, userID string, day domain.Day, at time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "checkins", start, err)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	res, err := tx.Exec(ctx, `
UPDATE users SET last_seen=GREATEST(last_seen, $2), emergency_notified=FALSE, updated_at=now()
WHERE id=$1
`, userID, at)
	metrics.ObserveNetworkRequest("postgres", "users_touch_last_seen", "users", start, err)
	if err != nil {
		return false, err
	}
	if res.RowsAffected() == 0 {
		return false, &domain.NotFoundError{UserID: userID}
	}

	start = time.Now()
	res, err = tx.Exec(ctx, `
INSERT INTO checkins (user_id, day, first_at) VALUES ($1, $2, $3)
ON CONFLICT (user_id, day) DO NOTHING
`, userID, day.Time(time.UTC), at)
	metrics.ObserveNetworkRequest("postgres", "checkins_insert", "checkins", start, err)
	if err != nil {
		return false, err
	}
	added := res.RowsAffected() > 0

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit_tx", "checkins", start, err)
	if err != nil {
		return false, err
	}
	return added, nil
}

// ListCheckins реализует domain.CheckinRepo.
func (p *Postgres) ListCheckins(ctx context.Context, userID string) ([]domain.Day, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT day FROM checkins WHERE user_id=$1 ORDER BY day`, userID)
	metrics.ObserveNetworkRequest("postgres", "checkins_list", "checkins", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var days []domain.Day
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		days = append(days, domain.DayOf(t, time.UTC))
	}
	return days, rows.Err()
}

// SaveScheduledDelivery реализует domain.DeliveryRepo.
func (p *Postgres) SaveScheduledDelivery(ctx context.Context, userID string, d domain.ScheduledDelivery) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	generatedAt := d.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}
	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE users SET delivery_content=$2, delivery_scheduled_at=$3, delivery_sent=FALSE, delivery_generated_at=$4, updated_at=now()
WHERE id=$1
`, userID, d.Content, d.ScheduledAt, generatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_save_delivery", "users", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return &domain.NotFoundError{UserID: userID}
	}
	return nil
}

// ListDueDeliveries реализует domain.DeliveryRepo.
func (p *Postgres) ListDueDeliveries(ctx context.Context, now time.Time, userID string) ([]domain.DueDelivery, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	users, err := p.queryUsers(ctx, "users_list_due_deliveries", `
SELECT `+userColumns+` FROM users
WHERE status='active' AND delivery_sent=FALSE AND delivery_scheduled_at IS NOT NULL AND delivery_scheduled_at <= $1
  AND ($2 = '' OR id = $2)
ORDER BY delivery_scheduled_at, id
`, now, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DueDelivery, 0, len(users))
	for _, u := range users {
		out = append(out, domain.DueDelivery{User: u, Delivery: *u.ScheduledDelivery})
	}
	return out, nil
}

// MarkDeliverySent реализует domain.DeliveryRepo.
func (p *Postgres) MarkDeliverySent(ctx context.Context, userID string, scheduledAt time.Time, at time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE users SET delivery_sent=TRUE, last_delivered_at=$3, updated_at=now()
WHERE id=$1 AND delivery_sent=FALSE AND delivery_scheduled_at=$2
`, userID, scheduledAt, at)
	metrics.ObserveNetworkRequest("postgres", "users_mark_delivery_sent", "users", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ListInactive реализует domain.EmergencyRepo.
func (p *Postgres) ListInactive(ctx context.Context, cutoff time.Time) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	return p.queryUsers(ctx, "users_list_inactive", `
SELECT `+userColumns+` FROM users
WHERE status='active' AND emergency_notified=FALSE AND last_seen < $1
ORDER BY last_seen
`, cutoff)
}

// MarkEmergencyNotified реализует domain.EmergencyRepo.
func (p *Postgres) MarkEmergencyNotified(ctx context.Context, userID string, lastSeen time.Time, at time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE users SET emergency_notified=TRUE, last_emergency_at=$3, updated_at=now()
WHERE id=$1 AND emergency_notified=FALSE AND last_seen=$2
`, userID, lastSeen, at)
	metrics.ObserveNetworkRequest("postgres", "users_mark_emergency", "users", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// GetSession реализует domain.SessionRepo.
func (p *Postgres) GetSession(ctx context.Context, userID string) (domain.PersonaSession, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	s := domain.PersonaSession{UserID: userID}
	var draft []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT persona_summary, draft, complete, updated_at FROM persona_sessions WHERE user_id=$1
`, userID).Scan(&s.PersonaSummary, &draft, &s.Complete, &s.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "persona_sessions_get", "persona_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PersonaSession{}, false, nil
	}
	if err != nil {
		return domain.PersonaSession{}, false, err
	}
	if len(draft) > 0 {
		if err := json.Unmarshal(draft, &s.Draft); err != nil {
			return domain.PersonaSession{}, false, err
		}
	}
	return s, true, nil
}

// SaveSession реализует domain.SessionRepo.
func (p *Postgres) SaveSession(ctx context.Context, s domain.PersonaSession) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	draft, err := json.Marshal(s.Draft)
	if err != nil {
		return err
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO persona_sessions (user_id, persona_summary, draft, complete, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
    persona_summary = EXCLUDED.persona_summary,
    draft = EXCLUDED.draft,
    complete = EXCLUDED.complete,
    updated_at = EXCLUDED.updated_at
`, s.UserID, s.PersonaSummary, draft, s.Complete, s.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "persona_sessions_upsert", "persona_sessions", start, err)
	return err
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var userID sql.NullString
	if metric.UserID != "" {
		userID = sql.NullString{String: metric.UserID, Valid: true}
	}
	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, metric.Event, userID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}
