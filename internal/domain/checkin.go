package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultWindowSize: число дней в календаре серии.
	DefaultWindowSize = 28
	// WindowAnchorLookback: сколько дней (включая сегодня) просматривается для
	// выбора начала календаря.
	WindowAnchorLookback = 5

	dayLayout = "2006-01-02"
)

// Day: календарный день без времени и часового пояса.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf возвращает календарный день момента ts в зоне loc.
func DayOf(ts time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := ts.In(loc).Date()
	return Day{Year: y, Month: m, Day: d}
}

// ParseDay разбирает дату формата YYYY-MM-DD.
func ParseDay(raw string) (Day, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(raw))
	if err != nil {
		return Day{}, NewValidationError("date", fmt.Sprintf("invalid date %q", raw))
	}
	return DayOf(t, time.UTC), nil
}

// Time возвращает полночь дня в зоне loc.
func (d Day) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays сдвигает день на n календарных дней.
func (d Day) AddDays(n int) Day {
	return DayOf(d.Time(time.UTC).AddDate(0, 0, n), time.UTC)
}

// Before сообщает, что d раньше other.
func (d Day) Before(other Day) bool {
	return d.Time(time.UTC).Before(other.Time(time.UTC))
}

// IsZero сообщает, что день не задан.
func (d Day) IsZero() bool {
	return d == Day{}
}

func (d Day) String() string {
	return d.Time(time.UTC).Format(dayLayout)
}

// MarshalText реализует encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(text []byte) error {
	parsed, err := ParseDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var checkInLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", dayLayout}

// ParseCheckInTimestamp разбирает метку времени отметки. Строки без зоны
// трактуются в зоне loc. Некорректная строка возвращает ValidationError.
func ParseCheckInTimestamp(raw string, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, NewValidationError("timestamp", "required")
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range checkInLayouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, NewValidationError("timestamp", fmt.Sprintf("invalid timestamp %q", raw))
}

// CheckinSet: множество дней с отметками.
type CheckinSet map[Day]struct{}

// NewCheckinSet строит множество, отбрасывая дубликаты.
func NewCheckinSet(days ...Day) CheckinSet {
	set := make(CheckinSet, len(days))
	for _, d := range days {
		set.Add(d)
	}
	return set
}

// Add добавляет день и сообщает, был ли он новым.
func (s CheckinSet) Add(d Day) bool {
	if _, ok := s[d]; ok {
		return false
	}
	s[d] = struct{}{}
	return true
}

// Has проверяет наличие дня.
func (s CheckinSet) Has(d Day) bool {
	_, ok := s[d]
	return ok
}

// Sorted возвращает дни по возрастанию.
func (s CheckinSet) Sorted() []Day {
	out := make([]Day, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// CurrentStreak считает подряд идущие дни с отметкой, заканчивая asOf включительно.
func CurrentStreak(set CheckinSet, asOf Day) int {
	streak := 0
	for d := asOf; set.Has(d); d = d.AddDays(-1) {
		streak++
	}
	return streak
}

// WindowStart выбирает первый день календаря: самая ранняя отметка за
// последние WindowAnchorLookback дней включая today, иначе сам today.
func WindowStart(set CheckinSet, today Day) Day {
	for offset := WindowAnchorLookback - 1; offset > 0; offset-- {
		if d := today.AddDays(-offset); set.Has(d) {
			return d
		}
	}
	return today
}

// WindowDay: ячейка календаря серии.
type WindowDay struct {
	Date     Day  `json:"date"`
	Checked  bool `json:"checked"`
	Today    bool `json:"today"`
	InStreak bool `json:"in_streak"`
}

// RenderWindow строит size последовательных дней начиная с WindowStart.
func RenderWindow(set CheckinSet, today Day, size int) []WindowDay {
	if size <= 0 {
		size = DefaultWindowSize
	}
	streak := CurrentStreak(set, today)
	streakFrom := today.AddDays(-(streak - 1))
	start := WindowStart(set, today)
	out := make([]WindowDay, 0, size)
	for i := 0; i < size; i++ {
		d := start.AddDays(i)
		out = append(out, WindowDay{
			Date:     d,
			Checked:  set.Has(d),
			Today:    d == today,
			InStreak: streak > 0 && !d.Before(streakFrom) && !today.Before(d),
		})
	}
	return out
}
