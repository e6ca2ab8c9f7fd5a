package repo

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

const (
	usersCollection    = "users"
	sessionsCollection = "persona_sessions"
	metricsCollection  = "business_metrics"
)

// Mongo реализует репозитории поверх MongoDB. Отметки хранятся массивом
// строк внутри документа пользователя и пополняются через $addToSet. Новые
// записи пишутся как YYYY-MM-DD, но в старых документах встречаются полные
// метки ISO-8601: при чтении все они приводятся к дням в зоне loc.
type Mongo struct {
	users    *mongo.Collection
	sessions *mongo.Collection
	events   *mongo.Collection
	loc      *time.Location
	log      zerolog.Logger
}

var _ domain.Store = (*Mongo)(nil)

type userDoc struct {
	ID                string       `bson:"_id"`
	Name              string       `bson:"name"`
	Interest          string       `bson:"interest"`
	Contact           string       `bson:"contact"`
	ContactMethod     string       `bson:"contact_method"`
	EmergencyContact  string       `bson:"emergency_contact"`
	EmergencyMethod   string       `bson:"emergency_method"`
	Status            string       `bson:"status"`
	Checkins          []string     `bson:"checkins"`
	LastSeen          time.Time    `bson:"last_seen"`
	Delivery          *deliveryDoc `bson:"scheduled_delivery,omitempty"`
	LastDeliveredAt   *time.Time   `bson:"last_delivered_at,omitempty"`
	EmergencyNotified bool         `bson:"emergency_notified"`
	LastEmergencyAt   *time.Time   `bson:"last_emergency_at,omitempty"`
	CreatedAt         time.Time    `bson:"created_at"`
	UpdatedAt         time.Time    `bson:"updated_at"`
}

type deliveryDoc struct {
	Content     string    `bson:"content"`
	ScheduledAt time.Time `bson:"at"`
	Sent        bool      `bson:"sent"`
	GeneratedAt time.Time `bson:"generated_at"`
}

type sessionDoc struct {
	UserID         string                 `bson:"_id"`
	PersonaSummary string                 `bson:"persona_summary"`
	Draft          domain.OnboardingDraft `bson:"draft"`
	Complete       bool                   `bson:"complete"`
	UpdatedAt      time.Time              `bson:"updated_at"`
}

type metricDoc struct {
	Event      string         `bson:"event"`
	UserID     string         `bson:"user_id,omitempty"`
	Metadata   map[string]any `bson:"metadata,omitempty"`
	OccurredAt time.Time      `bson:"occurred_at"`
}

// NewMongo создаёт адаптер поверх базы db. loc задаёт зону дней журнала.
func NewMongo(db *mongo.Database, loc *time.Location, logger zerolog.Logger) *Mongo {
	if loc == nil {
		loc = time.UTC
	}
	return &Mongo{
		users:    db.Collection(usersCollection),
		sessions: db.Collection(sessionsCollection),
		events:   db.Collection(metricsCollection),
		loc:      loc,
		log:      logger.With().Str("component", "repo_mongo").Logger(),
	}
}

// EnsureIndexes создаёт индексы для выборок планировщика и монитора.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	start := time.Now()
	_, err := m.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduled_delivery.sent", Value: 1}, {Key: "scheduled_delivery.at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "emergency_notified", Value: 1}, {Key: "last_seen", Value: 1}}},
	})
	metrics.ObserveNetworkRequest("mongo", "create_indexes", usersCollection, start, err)
	return err
}

// decodeCheckins приводит сохранённые отметки к множеству дней. Строки,
// которые не удалось разобрать, возвращаются отдельно.
func decodeCheckins(raw []string, loc *time.Location) (domain.CheckinSet, []string) {
	set := domain.NewCheckinSet()
	var bad []string
	for _, value := range raw {
		ts, err := domain.ParseCheckInTimestamp(value, loc)
		if err != nil {
			bad = append(bad, value)
			continue
		}
		set.Add(domain.DayOf(ts, loc))
	}
	return set, bad
}

func (m *Mongo) toDomain(d userDoc) domain.User {
	u, bad := d.toDomain(m.loc)
	if len(bad) > 0 {
		m.log.Warn().Str("user", d.ID).Strs("values", bad).Msg("repo_mongo: отметки с некорректной датой пропущены")
	}
	return u
}

func (d userDoc) toDomain(loc *time.Location) (domain.User, []string) {
	u := domain.User{
		ID:                d.ID,
		Name:              d.Name,
		Interest:          d.Interest,
		Contact:           d.Contact,
		ContactMethod:     domain.ContactMethod(d.ContactMethod),
		EmergencyContact:  d.EmergencyContact,
		EmergencyMethod:   domain.ContactMethod(d.EmergencyMethod),
		Status:            domain.UserStatus(d.Status),
		LastSeen:          d.LastSeen,
		LastDeliveredAt:   d.LastDeliveredAt,
		EmergencyNotified: d.EmergencyNotified,
		LastEmergencyAt:   d.LastEmergencyAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	set, bad := decodeCheckins(d.Checkins, loc)
	u.Checkins = set.Sorted()
	if d.Delivery != nil {
		u.ScheduledDelivery = &domain.ScheduledDelivery{
			Content:     d.Delivery.Content,
			ScheduledAt: d.Delivery.ScheduledAt,
			Sent:        d.Delivery.Sent,
			GeneratedAt: d.Delivery.GeneratedAt,
		}
	}
	return u, bad
}

func (m *Mongo) findUsers(ctx context.Context, operation string, filter bson.D, opts ...options.Lister[options.FindOptions]) ([]domain.User, error) {
	start := time.Now()
	cur, err := m.users.Find(ctx, filter, opts...)
	metrics.ObserveNetworkRequest("mongo", operation, usersCollection, start, err)
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, m.toDomain(d))
	}
	return out, nil
}

// GetUser реализует domain.UserRepo.
func (m *Mongo) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var doc userDoc
	start := time.Now()
	err := m.users.FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	metrics.ObserveNetworkRequest("mongo", "users_get", usersCollection, start, err)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, &domain.NotFoundError{UserID: userID}
	}
	if err != nil {
		return domain.User{}, err
	}
	return m.toDomain(doc), nil
}

// UpsertProfile реализует domain.UserRepo.
func (m *Mongo) UpsertProfile(ctx context.Context, p domain.Profile, day domain.Day, at time.Time) (domain.User, bool, error) {
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "name", Value: p.Name},
			{Key: "interest", Value: p.Interest},
			{Key: "contact", Value: p.Contact},
			{Key: "contact_method", Value: string(p.ContactMethod)},
			{Key: "emergency_contact", Value: p.EmergencyContact},
			{Key: "emergency_method", Value: string(p.EmergencyMethod)},
			{Key: "status", Value: string(domain.UserStatusActive)},
			{Key: "updated_at", Value: at},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "checkins", Value: bson.A{day.String()}},
			{Key: "last_seen", Value: at},
			{Key: "emergency_notified", Value: false},
			{Key: "created_at", Value: at},
		}},
	}
	start := time.Now()
	res, err := m.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: p.UserID}}, update, options.UpdateOne().SetUpsert(true))
	metrics.ObserveNetworkRequest("mongo", "users_upsert", usersCollection, start, err)
	if err != nil {
		return domain.User{}, false, err
	}
	u, err := m.GetUser(ctx, p.UserID)
	return u, res.UpsertedCount > 0, err
}

// UpdateProfile реализует domain.UserRepo.
func (m *Mongo) UpdateProfile(ctx context.Context, userID string, patch domain.ProfilePatch) (domain.User, error) {
	current, err := m.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	next := patch.Apply(current)
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "name", Value: next.Name},
		{Key: "interest", Value: next.Interest},
		{Key: "contact", Value: next.Contact},
		{Key: "contact_method", Value: string(next.ContactMethod)},
		{Key: "emergency_contact", Value: next.EmergencyContact},
		{Key: "emergency_method", Value: string(next.EmergencyMethod)},
		{Key: "status", Value: string(next.Status)},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}
	start := time.Now()
	_, err = m.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: userID}}, update)
	metrics.ObserveNetworkRequest("mongo", "users_update_profile", usersCollection, start, err)
	if err != nil {
		return domain.User{}, err
	}
	return m.GetUser(ctx, userID)
}

// ListActiveUsers реализует domain.UserRepo.
func (m *Mongo) ListActiveUsers(ctx context.Context) ([]domain.User, error) {
	return m.findUsers(ctx, "users_list_active",
		bson.D{{Key: "status", Value: string(domain.UserStatusActive)}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

// AddCheckin реализует domain.CheckinRepo. Одна атомарная операция
// добавляет день, сдвигает last_seen и снимает флаг уведомления.
func (m *Mongo) AddCheckin(ctx context.Context, userID string, day domain.Day, at time.Time) (bool, error) {
	update := bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: "checkins", Value: day.String()}}},
		{Key: "$max", Value: bson.D{{Key: "last_seen", Value: at}}},
		{Key: "$set", Value: bson.D{
			{Key: "emergency_notified", Value: false},
			{Key: "updated_at", Value: at},
		}},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetProjection(bson.D{{Key: "checkins", Value: 1}})
	var before struct {
		Checkins []string `bson:"checkins"`
	}
	start := time.Now()
	err := m.users.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: userID}}, update, opts).Decode(&before)
	metrics.ObserveNetworkRequest("mongo", "checkins_add", usersCollection, start, err)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, &domain.NotFoundError{UserID: userID}
	}
	if err != nil {
		return false, err
	}
	known, _ := decodeCheckins(before.Checkins, m.loc)
	return !known.Has(day), nil
}

// ListCheckins реализует domain.CheckinRepo.
func (m *Mongo) ListCheckins(ctx context.Context, userID string) ([]domain.Day, error) {
	u, err := m.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Checkins, nil
}

// SaveScheduledDelivery реализует domain.DeliveryRepo.
func (m *Mongo) SaveScheduledDelivery(ctx context.Context, userID string, d domain.ScheduledDelivery) error {
	if d.GeneratedAt.IsZero() {
		d.GeneratedAt = time.Now().UTC()
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "scheduled_delivery", Value: deliveryDoc{
			Content:     d.Content,
			ScheduledAt: d.ScheduledAt,
			Sent:        false,
			GeneratedAt: d.GeneratedAt,
		}},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}
	start := time.Now()
	res, err := m.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: userID}}, update)
	metrics.ObserveNetworkRequest("mongo", "users_save_delivery", usersCollection, start, err)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return &domain.NotFoundError{UserID: userID}
	}
	return nil
}

// ListDueDeliveries реализует domain.DeliveryRepo.
func (m *Mongo) ListDueDeliveries(ctx context.Context, now time.Time, userID string) ([]domain.DueDelivery, error) {
	filter := bson.D{
		{Key: "status", Value: string(domain.UserStatusActive)},
		{Key: "scheduled_delivery.at", Value: bson.D{{Key: "$lte", Value: now}}},
		{Key: "scheduled_delivery.sent", Value: bson.D{{Key: "$ne", Value: true}}},
	}
	if userID != "" {
		filter = append(filter, bson.E{Key: "_id", Value: userID})
	}
	users, err := m.findUsers(ctx, "users_list_due_deliveries", filter,
		options.Find().SetSort(bson.D{{Key: "scheduled_delivery.at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := make([]domain.DueDelivery, 0, len(users))
	for _, u := range users {
		if u.ScheduledDelivery == nil {
			continue
		}
		out = append(out, domain.DueDelivery{User: u, Delivery: *u.ScheduledDelivery})
	}
	return out, nil
}

// MarkDeliverySent реализует domain.DeliveryRepo.
func (m *Mongo) MarkDeliverySent(ctx context.Context, userID string, scheduledAt time.Time, at time.Time) (bool, error) {
	filter := bson.D{
		{Key: "_id", Value: userID},
		{Key: "scheduled_delivery.at", Value: scheduledAt},
		{Key: "scheduled_delivery.sent", Value: bson.D{{Key: "$ne", Value: true}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "scheduled_delivery.sent", Value: true},
		{Key: "last_delivered_at", Value: at},
		{Key: "updated_at", Value: at},
	}}}
	start := time.Now()
	res, err := m.users.UpdateOne(ctx, filter, update)
	metrics.ObserveNetworkRequest("mongo", "users_mark_delivery_sent", usersCollection, start, err)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// ListInactive реализует domain.EmergencyRepo.
func (m *Mongo) ListInactive(ctx context.Context, cutoff time.Time) ([]domain.User, error) {
	return m.findUsers(ctx, "users_list_inactive",
		bson.D{
			{Key: "status", Value: string(domain.UserStatusActive)},
			{Key: "emergency_notified", Value: bson.D{{Key: "$ne", Value: true}}},
			{Key: "last_seen", Value: bson.D{{Key: "$lt", Value: cutoff}}},
		},
		options.Find().SetSort(bson.D{{Key: "last_seen", Value: 1}}))
}

// MarkEmergencyNotified реализует domain.EmergencyRepo.
func (m *Mongo) MarkEmergencyNotified(ctx context.Context, userID string, lastSeen time.Time, at time.Time) (bool, error) {
	filter := bson.D{
		{Key: "_id", Value: userID},
		{Key: "last_seen", Value: lastSeen},
		{Key: "emergency_notified", Value: bson.D{{Key: "$ne", Value: true}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "emergency_notified", Value: true},
		{Key: "last_emergency_at", Value: at},
		{Key: "updated_at", Value: at},
	}}}
	start := time.Now()
	res, err := m.users.UpdateOne(ctx, filter, update)
	metrics.ObserveNetworkRequest("mongo", "users_mark_emergency", usersCollection, start, err)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// GetSession реализует domain.SessionRepo.
func (m *Mongo) GetSession(ctx context.Context, userID string) (domain.PersonaSession, bool, error) {
	var doc sessionDoc
	start := time.Now()
	err := m.sessions.FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	metrics.ObserveNetworkRequest("mongo", "persona_sessions_get", sessionsCollection, start, err)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.PersonaSession{}, false, nil
	}
	if err != nil {
		return domain.PersonaSession{}, false, err
	}
	return domain.PersonaSession{
		UserID:         doc.UserID,
		PersonaSummary: doc.PersonaSummary,
		Draft:          doc.Draft,
		Complete:       doc.Complete,
		UpdatedAt:      doc.UpdatedAt,
	}, true, nil
}

// SaveSession реализует domain.SessionRepo.
func (m *Mongo) SaveSession(ctx context.Context, s domain.PersonaSession) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	doc := sessionDoc{
		UserID:         s.UserID,
		PersonaSummary: s.PersonaSummary,
		Draft:          s.Draft,
		Complete:       s.Complete,
		UpdatedAt:      s.UpdatedAt,
	}
	start := time.Now()
	_, err := m.sessions.ReplaceOne(ctx, bson.D{{Key: "_id", Value: s.UserID}}, doc, options.Replace().SetUpsert(true))
	metrics.ObserveNetworkRequest("mongo", "persona_sessions_upsert", sessionsCollection, start, err)
	return err
}

// RecordBusinessMetric реализует domain.BusinessMetricRepo.
func (m *Mongo) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := m.events.InsertOne(ctx, metricDoc{
		Event:      metric.Event,
		UserID:     metric.UserID,
		Metadata:   metric.Metadata,
		OccurredAt: metric.OccurredAt,
	})
	metrics.ObserveNetworkRequest("mongo", "business_metrics_insert", metricsCollection, start, err)
	return err
}
