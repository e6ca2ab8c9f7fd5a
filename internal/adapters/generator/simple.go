package generator

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"amber-ink/internal/domain"
)

var simpleTemplates = []string{
	"%s さん、おはようございます。今日も「%s」の小さな発見がありますように。",
	"%s さん、今日の一言です。「%s」について、ひとつ新しいことを調べてみませんか。",
	"%s さんへ。深呼吸をひとつ。「%s」の時間を少しだけ楽しんでください。",
}

// Simple: генератор без LLM: шаблонный текст и стандартный слот доставки.
type Simple struct {
	loc    *time.Location
	hour   int
	minute int
	now    func() time.Time
}

var _ domain.ContentGenerator = (*Simple)(nil)

// NewSimple создаёт генератор по шаблонам.
func NewSimple(loc *time.Location, deliveryAt string) (*Simple, error) {
	if deliveryAt == "" {
		deliveryAt = "08:00"
	}
	hour, minute, err := ParseClock(deliveryAt)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Simple{loc: loc, hour: hour, minute: minute, now: time.Now}, nil
}

// Generate реализует domain.ContentGenerator. Шаблон выбирается по
// пользователю и дню, чтобы текст менялся изо дня в день.
func (s *Simple) Generate(_ context.Context, user domain.User) (domain.GeneratedContent, error) {
	at := NextSlot(s.now(), s.loc, s.hour, s.minute)
	h := fnv.New32a()
	_, _ = h.Write([]byte(user.ID + at.Format("2006-01-02")))
	tpl := simpleTemplates[h.Sum32()%uint32(len(simpleTemplates))]
	interest := strings.TrimSpace(user.Interest)
	if interest == "" {
		interest = "好きなこと"
	}
	return domain.GeneratedContent{
		Content:     fmt.Sprintf(tpl, user.Name, interest),
		ScheduledAt: at,
	}, nil
}
