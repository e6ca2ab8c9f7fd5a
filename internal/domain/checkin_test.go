package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDay(t *testing.T, raw string) Day {
	t.Helper()
	d, err := ParseDay(raw)
	require.NoError(t, err)
	return d
}

func TestDayOfUsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	ts := time.Date(2026, 3, 31, 20, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-31", DayOf(ts, time.UTC).String())
	assert.Equal(t, "2026-04-01", DayOf(ts, tokyo).String())
}

func TestAddDaysRollsOverMonthAndYear(t *testing.T) {
	assert.Equal(t, "2026-02-28", mustDay(t, "2026-03-01").AddDays(-1).String())
	assert.Equal(t, "2024-02-29", mustDay(t, "2024-03-01").AddDays(-1).String())
	assert.Equal(t, "2025-12-31", mustDay(t, "2026-01-01").AddDays(-1).String())
	assert.Equal(t, "2027-01-02", mustDay(t, "2026-12-31").AddDays(2).String())
}

func TestCheckinSetIdempotent(t *testing.T) {
	set := NewCheckinSet()
	d := mustDay(t, "2026-10-18")
	assert.True(t, set.Add(d))
	assert.False(t, set.Add(d))
	assert.Len(t, set, 1)
}

func TestCurrentStreak(t *testing.T) {
	d := mustDay(t, "2026-01-02")
	set := NewCheckinSet(d, d.AddDays(-1), d.AddDays(-2), d.AddDays(-4))

	assert.Equal(t, 3, CurrentStreak(set, d))
	assert.Equal(t, 0, CurrentStreak(set, d.AddDays(-3)))
	assert.Equal(t, 1, CurrentStreak(set, d.AddDays(-4)))
	assert.Equal(t, 2, CurrentStreak(set, d.AddDays(-1)))
}

func TestWindowStart(t *testing.T) {
	today := mustDay(t, "2026-10-18")
	tests := []struct {
		name string
		days []Day
		want Day
	}{
		{name: "no checkins", days: nil, want: today},
		{name: "outside lookback", days: []Day{today.AddDays(-6), today}, want: today},
		{name: "edge of lookback", days: []Day{today.AddDays(-4)}, want: today.AddDays(-4)},
		{name: "earliest within lookback", days: []Day{today.AddDays(-5), today.AddDays(-3), today.AddDays(-1)}, want: today.AddDays(-3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WindowStart(NewCheckinSet(tt.days...), today))
		})
	}
}

func TestRenderWindow(t *testing.T) {
	today := mustDay(t, "2026-10-18")
	set := NewCheckinSet(today.AddDays(-6), today)

	window := RenderWindow(set, today, DefaultWindowSize)
	require.Len(t, window, 28)
	assert.Equal(t, today, window[0].Date)
	assert.True(t, window[0].Today)
	assert.True(t, window[0].Checked)
	assert.True(t, window[0].InStreak)
	assert.Equal(t, today.AddDays(27), window[27].Date)
	assert.False(t, window[1].Checked)
}

func TestRenderWindowMarksStreak(t *testing.T) {
	today := mustDay(t, "2026-10-18")
	set := NewCheckinSet(today.AddDays(-3), today.AddDays(-1), today)

	window := RenderWindow(set, today, 7)
	require.Len(t, window, 7)
	assert.Equal(t, today.AddDays(-3), window[0].Date)
	assert.True(t, window[0].Checked)
	assert.False(t, window[0].InStreak)
	assert.False(t, window[1].Checked)
	assert.True(t, window[2].InStreak)
	assert.True(t, window[3].InStreak)
	assert.True(t, window[3].Today)
}

func TestParseCheckInTimestamp(t *testing.T) {
	ts, err := ParseCheckInTimestamp("2026-10-18T09:15:00+09:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18", DayOf(ts, ts.Location()).String())

	_, err = ParseCheckInTimestamp("2026-10-18", time.UTC)
	require.NoError(t, err)

	for _, raw := range []string{"", "yesterday", "2026-13-01", "18/10/2026"} {
		_, err := ParseCheckInTimestamp(raw, time.UTC)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrValidation))
	}
}

func TestDayTextRoundTrip(t *testing.T) {
	var d Day
	require.NoError(t, d.UnmarshalText([]byte("2026-02-28")))
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", string(text))
	assert.Error(t, d.UnmarshalText([]byte("2026-02-30")))
}

func TestUserSilentBoundary(t *testing.T) {
	lastSeen := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	u := User{LastSeen: lastSeen}

	assert.False(t, u.Silent(lastSeen.Add(72*time.Hour), 72*time.Hour))
	assert.True(t, u.Silent(lastSeen.Add(72*time.Hour+time.Second), 72*time.Hour))
	assert.True(t, InactivityCutoff(lastSeen, 0).Equal(lastSeen.Add(-DefaultInactivityThreshold)))
	assert.False(t, u.Silent(lastSeen.Add(DefaultInactivityThreshold), 0))
}
