package emergency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amber-ink/internal/adapters/repo"
	"amber-ink/internal/domain"
)

type recordingSender struct {
	fail    bool
	intents []domain.DeliveryIntent
	users   []string
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) Send(_ context.Context, user domain.User, intent domain.DeliveryIntent) (domain.Receipt, error) {
	if s.fail {
		return domain.Receipt{}, &domain.DeliveryError{Channel: "recording", Retryable: true, Err: errors.New("smtp timeout")}
	}
	s.intents = append(s.intents, intent)
	s.users = append(s.users, user.ID)
	return domain.Receipt{Channel: "recording"}, nil
}

type links struct{}

func (links) CheckInURL(id string) (string, error) { return "https://amber.test/c/" + id, nil }
func (links) StatusURL(id string) (string, error)  { return "https://amber.test/s/" + id, nil }

func register(t *testing.T, store *repo.Memory, id string, at time.Time) {
	t.Helper()
	_, _, err := store.UpsertProfile(context.Background(), domain.Profile{
		UserID:           id,
		Name:             "Hana",
		Interest:         "garden",
		Contact:          "hana@example.com",
		ContactMethod:    domain.ContactEmail,
		EmergencyContact: "sora@example.com",
		EmergencyMethod:  domain.ContactEmail,
	}, domain.DayOf(at, time.UTC), at)
	require.NoError(t, err)
}

func TestScanNotifyOnceAndRearm(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	sender := &recordingSender{}
	svc := NewService(store, store, sender, links{}, zerolog.Nop())

	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	register(t, store, "u1", t0)

	// t0+73h: одно уведомление.
	res, err := svc.Scan(ctx, t0.Add(73*time.Hour), 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanResult{Candidates: 1, Notified: 1}, res)
	require.Len(t, sender.intents, 1)
	assert.Equal(t, domain.TargetEmergency, sender.intents[0].Target)
	assert.Equal(t, domain.MessageEmergency, sender.intents[0].Kind)
	assert.Equal(t, "https://amber.test/s/u1", sender.intents[0].StatusURL)
	assert.Contains(t, sender.intents[0].Content, "3 日間")

	// t0+80h: повторного уведомления нет.
	res, err = svc.Scan(ctx, t0.Add(80*time.Hour), 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanResult{}, res)
	assert.Len(t, sender.intents, 1)

	// Отметка в t0+81h снимает флаг.
	_, err = store.AddCheckin(ctx, "u1", domain.DayOf(t0.Add(81*time.Hour), time.UTC), t0.Add(81*time.Hour))
	require.NoError(t, err)
	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.EmergencyNotified)

	// t0+155h: новый эпизод, второе уведомление.
	res, err = svc.Scan(ctx, t0.Add(155*time.Hour), 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
	assert.Len(t, sender.intents, 2)
}

func TestScanFailureLeavesFlagClear(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	sender := &recordingSender{fail: true}
	svc := NewService(store, store, sender, nil, zerolog.Nop())

	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	register(t, store, "u1", t0)

	res, err := svc.Scan(ctx, t0.Add(100*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanResult{Candidates: 1, Failed: 1}, res)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.EmergencyNotified)

	sender.fail = false
	res, err = svc.Scan(ctx, t0.Add(101*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
}

func TestScanSkipsInactiveAndRecent(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	sender := &recordingSender{}
	svc := NewService(store, store, sender, links{}, zerolog.Nop())

	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	register(t, store, "paused", t0)
	register(t, store, "recent", t0.Add(70*time.Hour))
	inactive := domain.UserStatusInactive
	_, err := store.UpdateProfile(ctx, "paused", domain.ProfilePatch{Status: &inactive})
	require.NoError(t, err)

	res, err := svc.Scan(ctx, t0.Add(100*time.Hour), 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
	assert.Empty(t, sender.users)
}

func TestScanBoundaryIsStrict(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	sender := &recordingSender{}
	svc := NewService(store, store, sender, links{}, zerolog.Nop())

	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	register(t, store, "u1", t0)

	res, err := svc.Scan(ctx, t0.Add(72*time.Hour), 72*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)

	res, err = svc.Scan(ctx, t0.Add(72*time.Hour+time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, []string{"u1"}, sender.users)
}

func TestDaysSince(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysSince(t0, t0.Add(-time.Hour)))
	assert.Equal(t, 0, DaysSince(t0, t0.Add(23*time.Hour)))
	assert.Equal(t, 3, DaysSince(t0, t0.Add(73*time.Hour)))
}
