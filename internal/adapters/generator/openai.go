package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"amber-ink/internal/domain"
	openai "amber-ink/internal/infra/openai"
)

type jsonClient interface {
	CompleteJSON(ctx context.Context, req openai.ChatCompletionRequest, out any) error
}

// Config задаёт параметры генератора.
type Config struct {
	Model      string
	Timeout    time.Duration
	Location   *time.Location
	DeliveryAt string
}

// OpenAI готовит «слово дня» по интересам пользователя через Chat Completions.
type OpenAI struct {
	client  jsonClient
	model   string
	timeout time.Duration
	loc     *time.Location
	hour    int
	minute  int
	now     func() time.Time
}

var _ domain.ContentGenerator = (*OpenAI)(nil)

// NewOpenAI создаёт генератор.
func NewOpenAI(client jsonClient, cfg Config) (*OpenAI, error) {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DeliveryAt == "" {
		cfg.DeliveryAt = "08:00"
	}
	hour, minute, err := ParseClock(cfg.DeliveryAt)
	if err != nil {
		return nil, err
	}
	return &OpenAI{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		loc:     cfg.Location,
		hour:    hour,
		minute:  minute,
		now:     time.Now,
	}, nil
}

type contentPayload struct {
	Content     string `json:"content"`
	ScheduledAt string `json:"scheduled_at"`
}

// Generate реализует domain.ContentGenerator. Время из ответа модели
// принимается, только если оно в ближайшие двое суток; иначе используется
// стандартный слот доставки.
func (g *OpenAI) Generate(ctx context.Context, user domain.User) (domain.GeneratedContent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	now := g.now()
	fallbackAt := NextSlot(now, g.loc, g.hour, g.minute)
	userPrompt := fmt.Sprintf(`ユーザー(%s)の興味は「%s」です。
明日届ける「今日の一言」または「最新の関連ニュース要約」を日本語で200文字以内で生成してください。
最適な配信時間を ISO 8601 形式(タイムゾーン付き)で選んでください。目安は %s です。
JSON {"content": "...", "scheduled_at": "..."} のみを返してください。`,
		user.Name, clipRunes(user.Interest, 200), fallbackAt.Format(time.RFC3339))

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.7,
		MaxTokens:   400,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: "あなたは Amber Ink の編集者です。温かく、押しつけがましくない短い文章を書きます。"},
			{Role: openai.RoleUser, Content: userPrompt},
		},
	}
	var payload contentPayload
	if err := g.client.CompleteJSON(ctx, req, &payload); err != nil {
		return domain.GeneratedContent{}, &domain.GenerationError{UserID: user.ID, Retryable: retryable(err), Err: err}
	}
	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return domain.GeneratedContent{}, &domain.GenerationError{UserID: user.ID, Err: errors.New("empty content")}
	}
	return domain.GeneratedContent{Content: content, ScheduledAt: g.pickTime(payload.ScheduledAt, now, fallbackAt)}, nil
}

func (g *OpenAI) pickTime(raw string, now, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	at, err := domain.ParseCheckInTimestamp(raw, g.loc)
	if err != nil || !at.After(now) || at.After(now.Add(48*time.Hour)) {
		return fallback
	}
	return at
}

func retryable(err error) bool {
	var statusErr *openai.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return !errors.Is(err, openai.ErrEmptyResponse)
}

func clipRunes(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if limit <= 0 || len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}
