package checkin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amber-ink/internal/adapters/repo"
	"amber-ink/internal/domain"
)

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	return loc
}

func newService(t *testing.T, registeredAt time.Time) (*Service, *repo.Memory) {
	t.Helper()
	store := repo.NewMemory()
	loc := tokyo(t)
	_, _, err := store.UpsertProfile(context.Background(), domain.Profile{
		UserID:           "u1",
		Name:             "Hana",
		Interest:         "tea",
		Contact:          "hana@example.com",
		ContactMethod:    domain.ContactEmail,
		EmergencyContact: "sora@example.com",
		EmergencyMethod:  domain.ContactEmail,
	}, domain.DayOf(registeredAt, loc), registeredAt)
	require.NoError(t, err)
	svc := NewService(store, store, store, loc, zerolog.Nop())
	svc.now = func() time.Time { return registeredAt }
	return svc, store
}

func TestRecordCheckInUsesLedgerTimezone(t *testing.T) {
	loc := tokyo(t)
	registered := time.Date(2024, 4, 20, 9, 0, 0, 0, loc)
	svc, _ := newService(t, registered)

	// 16:00 UTC: уже следующий день по Токио.
	res, err := svc.RecordCheckIn(context.Background(), "u1", time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC), SourceAPI)
	require.NoError(t, err)
	assert.Equal(t, domain.Day{Year: 2024, Month: time.May, Day: 2}, res.Day)
	assert.True(t, res.NewDay)
}

func TestRecordCheckInIdempotentRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	loc := tokyo(t)
	registered := time.Date(2024, 4, 20, 9, 0, 0, 0, loc)
	svc, store := newService(t, registered)

	first := time.Date(2024, 5, 1, 8, 0, 0, 0, loc)
	second := first.Add(3 * time.Hour)
	res, err := svc.RecordCheckIn(ctx, "u1", first, SourceAPI)
	require.NoError(t, err)
	assert.True(t, res.NewDay)
	res, err = svc.RecordCheckIn(ctx, "u1", second, SourceLink)
	require.NoError(t, err)
	assert.False(t, res.NewDay)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, u.Checkins, 2)
	assert.True(t, u.LastSeen.Equal(second))

	var recorded int
	for _, m := range store.BusinessMetrics() {
		if m.Event == domain.BusinessMetricEventCheckinRecorded {
			recorded++
		}
	}
	assert.Equal(t, 1, recorded)
}

func TestConcurrentSameDayCheckIns(t *testing.T) {
	ctx := context.Background()
	loc := tokyo(t)
	svc, store := newService(t, time.Date(2024, 4, 20, 9, 0, 0, 0, loc))
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, loc)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordCheckIn(ctx, "u1", at.Add(time.Duration(i)*time.Minute), SourceAPI)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	days, err := store.ListCheckins(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, days, 2)
}

func TestStreakAcrossRecordedDays(t *testing.T) {
	ctx := context.Background()
	loc := tokyo(t)
	svc, _ := newService(t, time.Date(2024, 4, 1, 9, 0, 0, 0, loc))
	d := domain.Day{Year: 2024, Month: time.May, Day: 10}
	for _, day := range []domain.Day{d.AddDays(-2), d.AddDays(-1), d} {
		_, err := svc.RecordCheckIn(ctx, "u1", day.Time(loc).Add(12*time.Hour), SourceAPI)
		require.NoError(t, err)
	}

	streak, err := svc.CurrentStreak(ctx, "u1", d)
	require.NoError(t, err)
	assert.Equal(t, 3, streak)

	streak, err = svc.CurrentStreak(ctx, "u1", d.AddDays(-3))
	require.NoError(t, err)
	assert.Equal(t, 0, streak)
}

func TestRecordCheckInRawRejectsMalformed(t *testing.T) {
	svc, _ := newService(t, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))
	_, err := svc.RecordCheckInRaw(context.Background(), "u1", "yesterday-ish", SourceAPI)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecordCheckInUnknownUser(t *testing.T) {
	svc, _ := newService(t, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))
	_, err := svc.RecordCheckIn(context.Background(), "ghost", time.Now(), SourceAPI)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.RecordCheckIn(context.Background(), "", time.Now(), SourceAPI)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRenderWindowStartsAtRecentCheckin(t *testing.T) {
	ctx := context.Background()
	loc := tokyo(t)
	today := domain.Day{Year: 2024, Month: time.May, Day: 10}
	svc, _ := newService(t, today.AddDays(-3).Time(loc).Add(9*time.Hour))

	window, err := svc.RenderWindow(ctx, "u1", today, 0)
	require.NoError(t, err)
	require.Len(t, window, domain.DefaultWindowSize)
	assert.Equal(t, today.AddDays(-3), window[0].Date)
	assert.True(t, window[0].Checked)
	assert.True(t, window[3].Today)
}

func TestSummaryAndStatus(t *testing.T) {
	ctx := context.Background()
	loc := tokyo(t)
	registered := time.Date(2024, 5, 1, 9, 0, 0, 0, loc)
	svc, _ := newService(t, registered)

	summary, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Streak)
	assert.Len(t, summary.Window, domain.DefaultWindowSize)

	svc.now = func() time.Time { return registered.Add(80 * time.Hour) }
	status, err := svc.Status(ctx, "u1", 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, status.DaysSince)
	assert.True(t, status.NeedsAttention)
	assert.Equal(t, "Hana", status.Name)

	svc.now = func() time.Time { return registered.Add(30 * time.Hour) }
	status, err = svc.Status(ctx, "u1", 72*time.Hour)
	require.NoError(t, err)
	assert.False(t, status.NeedsAttention)
}

func TestStatusAgreesWithInactivityMonitor(t *testing.T) {
	ctx := context.Background()
	registered := time.Date(2024, 5, 1, 9, 0, 0, 0, tokyo(t))
	svc, store := newService(t, registered)
	threshold := 72 * time.Hour

	for _, elapsed := range []time.Duration{threshold - time.Second, threshold, threshold + time.Second} {
		now := registered.Add(elapsed)
		svc.now = func() time.Time { return now }
		status, err := svc.Status(ctx, "u1", threshold)
		require.NoError(t, err)
		inactive, err := store.ListInactive(ctx, domain.InactivityCutoff(now, threshold))
		require.NoError(t, err)
		assert.Equal(t, len(inactive) == 1, status.NeedsAttention, "elapsed %s", elapsed)
		assert.Equal(t, elapsed > threshold, status.NeedsAttention, "elapsed %s", elapsed)
	}
}
