package generator

import (
	"fmt"
	"strings"
	"time"
)

// ParseClock разбирает время суток формата HH:MM.
func ParseClock(raw string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, 0, fmt.Errorf("время доставки %q: %w", raw, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextSlot возвращает ближайший момент после now, когда в зоне loc наступает hour:minute.
func NextSlot(now time.Time, loc *time.Location, hour, minute int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	slot := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !slot.After(local) {
		slot = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return slot
}
