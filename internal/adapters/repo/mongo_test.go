package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amber-ink/internal/domain"
)

func TestUserDocDecodesTimestampCheckins(t *testing.T) {
	doc := userDoc{
		ID:       "u1",
		Status:   string(domain.UserStatusActive),
		Checkins: []string{"2026-10-16T23:30:00.000Z", "2026-10-17T08:00:00.000Z", "2026-10-18", "2026-10-18"},
	}

	u, bad := doc.toDomain(time.UTC)
	assert.Empty(t, bad)
	assert.Equal(t, []domain.Day{
		{Year: 2026, Month: time.October, Day: 16},
		{Year: 2026, Month: time.October, Day: 17},
		{Year: 2026, Month: time.October, Day: 18},
	}, u.Checkins)
	today := domain.Day{Year: 2026, Month: time.October, Day: 18}
	assert.Equal(t, 3, domain.CurrentStreak(domain.NewCheckinSet(u.Checkins...), today))
}

func TestUserDocCheckinsFollowLedgerZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	doc := userDoc{ID: "u1", Checkins: []string{"2026-10-16T23:30:00.000Z", "2026-10-17T08:00:00.000Z"}}

	u, _ := doc.toDomain(loc)
	assert.Equal(t, []domain.Day{{Year: 2026, Month: time.October, Day: 17}}, u.Checkins)
}

func TestDecodeCheckinsReportsGarbage(t *testing.T) {
	set, bad := decodeCheckins([]string{"2026-10-18", "yesterday", ""}, time.UTC)
	assert.True(t, set.Has(domain.Day{Year: 2026, Month: time.October, Day: 18}))
	assert.Len(t, set, 1)
	assert.Equal(t, []string{"yesterday", ""}, bad)

	known, _ := decodeCheckins([]string{"2026-10-17T20:00:00Z"}, time.UTC)
	assert.True(t, known.Has(domain.Day{Year: 2026, Month: time.October, Day: 17}))
	assert.False(t, known.Has(domain.Day{Year: 2026, Month: time.October, Day: 18}))
}
