package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amber-ink/internal/domain"
	openai "amber-ink/internal/infra/openai"
)

type fakeClient struct {
	payload string
	err     error
	req     openai.ChatCompletionRequest
}

func (f *fakeClient) CompleteJSON(_ context.Context, req openai.ChatCompletionRequest, out any) error {
	f.req = req
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.payload), out)
}

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	return loc
}

func TestNextSlot(t *testing.T) {
	loc := tokyo(t)
	before := time.Date(2024, 5, 1, 7, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, loc), NextSlot(before, loc, 8, 0))

	after := time.Date(2024, 5, 1, 8, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 5, 2, 8, 0, 0, 0, loc), NextSlot(after, loc, 8, 0))
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("07:30")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseClock("7h")
	assert.Error(t, err)
}

func TestOpenAIGenerateUsesModelTime(t *testing.T) {
	loc := tokyo(t)
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, loc)
	client := &fakeClient{payload: `{"content":"  今日は新茶の季節です。 ","scheduled_at":"2024-05-02T07:15:00+09:00"}`}
	g, err := NewOpenAI(client, Config{Location: loc, DeliveryAt: "08:00"})
	require.NoError(t, err)
	g.now = func() time.Time { return now }

	out, err := g.Generate(context.Background(), domain.User{ID: "u1", Name: "Hana", Interest: "tea"})
	require.NoError(t, err)
	assert.Equal(t, "今日は新茶の季節です。", out.Content)
	assert.True(t, out.ScheduledAt.Equal(time.Date(2024, 5, 2, 7, 15, 0, 0, loc)))
	assert.Contains(t, client.req.Messages[1].Content, "tea")
}

func TestOpenAIGenerateFallsBackToSlot(t *testing.T) {
	loc := tokyo(t)
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, loc)
	client := &fakeClient{payload: `{"content":"hello","scheduled_at":"2020-01-01T00:00:00Z"}`}
	g, err := NewOpenAI(client, Config{Location: loc})
	require.NoError(t, err)
	g.now = func() time.Time { return now }

	out, err := g.Generate(context.Background(), domain.User{ID: "u1"})
	require.NoError(t, err)
	assert.True(t, out.ScheduledAt.Equal(time.Date(2024, 5, 2, 8, 0, 0, 0, loc)))
}

func TestOpenAIGenerateErrors(t *testing.T) {
	g, err := NewOpenAI(&fakeClient{err: &openai.StatusError{Status: 503}}, Config{})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), domain.User{ID: "u1"})
	var genErr *domain.GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.True(t, genErr.Retryable)
	assert.ErrorIs(t, err, domain.ErrGeneration)

	g, err = NewOpenAI(&fakeClient{payload: `{"content":""}`}, Config{})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), domain.User{ID: "u1"})
	assert.ErrorIs(t, err, domain.ErrGeneration)

	_, err = NewOpenAI(&fakeClient{}, Config{DeliveryAt: "noon"})
	assert.Error(t, err)
}

func TestOpenAIGenerateUpstreamOverload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(openai.NewClient("key", srv.URL, time.Second), Config{})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), domain.User{ID: "u1"})
	var genErr *domain.GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.True(t, genErr.Retryable)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestSimpleGenerate(t *testing.T) {
	loc := tokyo(t)
	g, err := NewSimple(loc, "09:00")
	require.NoError(t, err)
	g.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, loc) }

	out, err := g.Generate(context.Background(), domain.User{ID: "u1", Name: "Hana", Interest: "garden"})
	require.NoError(t, err)
	assert.Contains(t, out.Content, "Hana")
	assert.Contains(t, out.Content, "garden")
	assert.True(t, out.ScheduledAt.Equal(time.Date(2024, 5, 2, 9, 0, 0, 0, loc)))
}
