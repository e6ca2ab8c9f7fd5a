package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amber-ink/internal/adapters/repo"
	"amber-ink/internal/domain"
)

type stubSender struct {
	mu        sync.Mutex
	fail      map[string]bool
	retryable bool
	sent      []domain.DeliveryIntent
	targets   []string
	onSend    func(user domain.User)
}

func (s *stubSender) Name() string { return "stub" }

func (s *stubSender) Send(_ context.Context, user domain.User, intent domain.DeliveryIntent) (domain.Receipt, error) {
	if s.onSend != nil {
		s.onSend(user)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[user.ID] {
		return domain.Receipt{}, &domain.DeliveryError{Channel: "stub", Retryable: s.retryable, Err: errors.New("provider down")}
	}
	s.sent = append(s.sent, intent)
	s.targets = append(s.targets, user.ID)
	return domain.Receipt{Channel: "stub", SentAt: time.Now()}, nil
}

type stubLinks struct{}

func (stubLinks) CheckInURL(userID string) (string, error) { return "https://amber.test/c/" + userID, nil }
func (stubLinks) StatusURL(userID string) (string, error)  { return "https://amber.test/s/" + userID, nil }

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, ids ...string) (*Service, *repo.Memory, *stubSender) {
	t.Helper()
	store := repo.NewMemory()
	for _, id := range ids {
		_, _, err := store.UpsertProfile(context.Background(), domain.Profile{
			UserID:           id,
			Name:             id,
			Interest:         "news",
			Contact:          id + "@example.com",
			ContactMethod:    domain.ContactEmail,
			EmergencyContact: "family@example.com",
			EmergencyMethod:  domain.ContactEmail,
		}, domain.DayOf(base, time.UTC), base)
		require.NoError(t, err)
	}
	sender := &stubSender{fail: map[string]bool{}}
	svc := NewService(store, store, store, sender, stubLinks{}, zerolog.Nop())
	svc.now = func() time.Time { return base }
	return svc, store, sender
}

func TestDueDeliveriesAndMarkSent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t, "u1")
	require.NoError(t, svc.GenerateSchedule(ctx, "u1", "おはよう", base.Add(-time.Minute)))

	due, err := svc.DueDeliveries(ctx, base, "")
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := svc.MarkSent(ctx, due[0], base)
	require.NoError(t, err)
	assert.True(t, ok)

	due, err = svc.DueDeliveries(ctx, base, "")
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestFutureDeliveryIsNotDue(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t, "u1")
	require.NoError(t, svc.GenerateSchedule(ctx, "u1", "later", base.Add(time.Hour)))

	due, err := svc.DueDeliveries(ctx, base, "")
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRegenerationReplacesSentRecord(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setup(t, "u1")
	require.NoError(t, svc.GenerateSchedule(ctx, "u1", "first", base.Add(-time.Hour)))
	res, err := svc.RunDue(ctx, base, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	require.NoError(t, svc.GenerateSchedule(ctx, "u1", "second", base.Add(-time.Minute)))
	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u.ScheduledDelivery)
	assert.Equal(t, "second", u.ScheduledDelivery.Content)
	assert.False(t, u.ScheduledDelivery.Sent)
}

func TestGenerateScheduleValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t, "u1")
	assert.ErrorIs(t, svc.GenerateSchedule(ctx, "u1", "  ", base), domain.ErrValidation)
	assert.ErrorIs(t, svc.GenerateSchedule(ctx, "u1", "x", time.Time{}), domain.ErrValidation)
	assert.ErrorIs(t, svc.GenerateSchedule(ctx, "ghost", "x", base), domain.ErrNotFound)
}

func TestRunDueIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	svc, store, sender := setup(t, "a", "b", "c")
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, svc.GenerateSchedule(ctx, id, "hello "+id, base.Add(-time.Minute)))
	}
	sender.fail["b"] = true

	res, err := svc.RunDue(ctx, base, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PassResult{Candidates: 3, Sent: 2, Failed: 1}, res)
	assert.Equal(t, []string{"a", "c"}, sender.targets)

	b, err := store.GetUser(ctx, "b")
	require.NoError(t, err)
	assert.False(t, b.ScheduledDelivery.Sent)

	// Следующий проход повторяет только неудачную доставку.
	sender.fail["b"] = false
	res, err = svc.RunDue(ctx, base, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PassResult{Candidates: 1, Sent: 1}, res)
}

func TestRunDueCarriesCheckInLink(t *testing.T) {
	ctx := context.Background()
	svc, store, sender := setup(t, "u1")
	require.NoError(t, svc.GenerateSchedule(ctx, "u1", "今日の一言", base.Add(-time.Minute)))

	_, err := svc.RunDue(ctx, base, "u1")
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, domain.MessageDaily, sender.sent[0].Kind)
	assert.Equal(t, domain.TargetSelf, sender.sent[0].Target)
	assert.Equal(t, "https://amber.test/c/u1", sender.sent[0].CheckInURL)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u.LastDeliveredAt)
	assert.True(t, u.LastDeliveredAt.Equal(base))
}

func TestRunDueDoesNotCommitRegeneratedRecord(t *testing.T) {
	ctx := context.Background()
	svc, store, sender := setup(t, "u1")
	require.NoError(t, svc.GenerateSchedule(ctx, "u1", "old", base.Add(-time.Minute)))
	sender.onSend = func(domain.User) {
		_ = store.SaveScheduledDelivery(ctx, "u1", domain.ScheduledDelivery{Content: "new", ScheduledAt: base.Add(time.Hour)})
	}

	_, err := svc.RunDue(ctx, base, "")
	require.NoError(t, err)
	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", u.ScheduledDelivery.Content)
	assert.False(t, u.ScheduledDelivery.Sent)
}

func TestSendTestDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	svc, store, sender := setup(t, "u1")
	require.NoError(t, svc.GenerateSchedule(ctx, "u1", "scheduled", base.Add(time.Hour)))
	before, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)

	receipt, err := svc.SendTest(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "stub", receipt.Channel)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, domain.MessageTest, sender.sent[0].Kind)
	assert.Equal(t, DefaultTestContent, sender.sent[0].Content)

	after, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = svc.SendTest(ctx, "ghost", "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
