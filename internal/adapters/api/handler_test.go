package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amber-ink/internal/adapters/repo"
	"amber-ink/internal/domain"
	"amber-ink/internal/infra/auth"
	"amber-ink/internal/usecase/checkin"
	"amber-ink/internal/usecase/companion"
	"amber-ink/internal/usecase/onboarding"
)

type fakeQueue struct {
	jobs []domain.DeliveryJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job domain.DeliveryJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Receive(context.Context) (domain.DeliveryJob, domain.DeliveryAckFunc, error) {
	return domain.DeliveryJob{}, nil, errors.New("not used")
}

type onboardingAgent struct {
	reply domain.OnboardingReply
}

func (a onboardingAgent) Onboard(context.Context, domain.OnboardingPrompt) (domain.OnboardingReply, error) {
	return a.reply, nil
}

type companionAgent struct {
	reply domain.CompanionReply
}

func (a companionAgent) Respond(context.Context, domain.CompanionPrompt) (domain.CompanionReply, error) {
	return a.reply, nil
}

type fixture struct {
	router chi.Router
	store  *repo.Memory
	signer *auth.Signer
	queue  *fakeQueue
}

type options struct {
	onboarding domain.OnboardingAgent
	companion  domain.CompanionAgent
	noQueue    bool
}

func newFixture(t *testing.T, opts options) *fixture {
	t.Helper()
	signer, err := auth.NewSigner(auth.Config{
		Secret:     "test-secret",
		Issuer:     "amber-ink",
		PublicURL:  "http://amber.test",
		SessionTTL: time.Hour,
		CheckInTTL: time.Hour,
		StatusTTL:  time.Hour,
	})
	require.NoError(t, err)

	store := repo.NewMemory()
	logger := zerolog.Nop()
	deps := Deps{
		Tokens:     signer,
		Onboarding: onboarding.NewService(store, store, store, opts.onboarding, time.UTC, logger),
		Checkins:   checkin.NewService(store, store, store, time.UTC, logger),
		Threshold:  72 * time.Hour,
	}
	if opts.companion != nil {
		deps.Companion = companion.NewService(store, store, opts.companion, 10, logger)
	}
	queue := &fakeQueue{}
	if !opts.noQueue {
		deps.Jobs = queue
	}

	r := chi.NewRouter()
	NewHandler(deps, logger).Routes(r)
	return &fixture{router: r, store: store, signer: signer, queue: queue}
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) token(t *testing.T, userID string, purpose auth.Purpose) string {
	t.Helper()
	token, err := f.signer.Issue(userID, purpose)
	require.NoError(t, err)
	return token
}

func (f *fixture) seed(t *testing.T, userID string) {
	t.Helper()
	now := time.Now()
	_, _, err := f.store.UpsertProfile(context.Background(), domain.Profile{
		UserID: userID, Name: "Hana", Interest: "tea", Contact: "hana@example.com", ContactMethod: domain.ContactEmail,
		EmergencyContact: "sora@example.com", EmergencyMethod: domain.ContactEmail,
	}, domain.DayOf(now, time.UTC), now)
	require.NoError(t, err)
}

const registerBody = `{"name":"Hana","interest":"tea","contact":"hana@example.com","contact_method":"email","emergency_contact":"sora@example.com","emergency_method":"email"}`

func TestSessionRegisterAndMe(t *testing.T) {
	f := newFixture(t, options{})

	rec := f.do(t, http.MethodPost, "/api/v1/session", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var session sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.NotEmpty(t, session.UserID)
	require.NotEmpty(t, session.Token)

	rec = f.do(t, http.MethodPost, "/api/v1/users", session.Token, registerBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.True(t, registered.Created)
	assert.Equal(t, session.UserID, registered.User.ID)
	assert.Equal(t, "active", registered.User.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/users", session.Token, registerBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/me", session.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var me meView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, 1, me.Streak)
	assert.Len(t, me.Window, domain.DefaultWindowSize)
	assert.Equal(t, "Hana", me.User.Name)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	f := newFixture(t, options{})

	rec := f.do(t, http.MethodGet, "/api/v1/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	linkToken := f.token(t, "u1", auth.PurposeCheckIn)
	rec = f.do(t, http.MethodGet, "/api/v1/me", linkToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServiceErrorMapping(t *testing.T) {
	f := newFixture(t, options{})
	token := f.token(t, "u1", auth.PurposeSession)

	rec := f.do(t, http.MethodPost, "/api/v1/users", token, `{"interest":"tea"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name")

	rec = f.do(t, http.MethodPost, "/api/v1/users", token, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/me", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.seed(t, "u1")
	rec = f.do(t, http.MethodPost, "/api/v1/checkin", token, `{"timestamp":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckInEndpoint(t *testing.T) {
	f := newFixture(t, options{})
	f.seed(t, "u1")
	token := f.token(t, "u1", auth.PurposeSession)

	rec := f.do(t, http.MethodPost, "/api/v1/checkin", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view checkInView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.NewDay)
	assert.Equal(t, 1, view.Streak)

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(time.RFC3339)
	rec = f.do(t, http.MethodPost, "/api/v1/checkin", token, `{"timestamp":"`+yesterday+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.NewDay)

	days, err := f.store.ListCheckins(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, days, 2)
}

func TestCheckInByLink(t *testing.T) {
	f := newFixture(t, options{})
	f.seed(t, "u1")

	rec := f.do(t, http.MethodGet, "/c/"+f.token(t, "u1", auth.PurposeCheckIn), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "チェックインしました")

	rec = f.do(t, http.MethodGet, "/c/"+f.token(t, "u1", auth.PurposeSession), "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/c/"+f.token(t, "ghost", auth.PurposeCheckIn), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusLinks(t *testing.T) {
	f := newFixture(t, options{})
	f.seed(t, "u1")
	token := f.token(t, "u1", auth.PurposeStatus)

	rec := f.do(t, http.MethodGet, "/s/"+token, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view statusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Hana", view.Name)
	assert.Equal(t, 0, view.DaysSince)
	assert.False(t, view.NeedsAttention)

	rec = f.do(t, http.MethodGet, "/api/v1/users/u1/status?token="+token, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/users/u2/status?token="+token, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusNeedsAttention(t *testing.T) {
	f := newFixture(t, options{})
	f.seed(t, "u1")
	f.store.SetLastSeen("u1", time.Now().Add(-80*time.Hour))

	rec := f.do(t, http.MethodGet, "/s/"+f.token(t, "u1", auth.PurposeStatus), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view statusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 3, view.DaysSince)
	assert.True(t, view.NeedsAttention)
}

func TestUpdateMe(t *testing.T) {
	f := newFixture(t, options{})
	f.seed(t, "u1")
	token := f.token(t, "u1", auth.PurposeSession)

	rec := f.do(t, http.MethodPatch, "/api/v1/me", token, `{"interest":"pottery","contact_method":"sms"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var me meView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "pottery", me.User.Interest)
	assert.Equal(t, "phone", me.User.ContactMethod)

	rec = f.do(t, http.MethodPatch, "/api/v1/me", token, `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueDeliveries(t *testing.T) {
	f := newFixture(t, options{})
	f.seed(t, "u1")
	token := f.token(t, "u1", auth.PurposeSession)

	rec := f.do(t, http.MethodPost, "/api/v1/deliveries/test", token, `{"content":"テスト"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/deliveries/run", token, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.queue.jobs, 2)
	assert.Equal(t, domain.DeliveryJobTest, f.queue.jobs[0].Kind)
	assert.Equal(t, "テスト", f.queue.jobs[0].Content)
	assert.Equal(t, "u1", f.queue.jobs[0].UserID)
	assert.NotEmpty(t, f.queue.jobs[0].ID)
	assert.Equal(t, domain.DeliveryJobRunDue, f.queue.jobs[1].Kind)

	f.queue.err = errors.New("broker down")
	rec = f.do(t, http.MethodPost, "/api/v1/deliveries/run", token, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "broker")

	ghost := f.token(t, "ghost", auth.PurposeSession)
	rec = f.do(t, http.MethodPost, "/api/v1/deliveries/run", ghost, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnqueueWithoutQueue(t *testing.T) {
	f := newFixture(t, options{noQueue: true})
	f.seed(t, "u1")
	rec := f.do(t, http.MethodPost, "/api/v1/deliveries/run", f.token(t, "u1", auth.PurposeSession), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAssistantsUnavailable(t *testing.T) {
	f := newFixture(t, options{})
	token := f.token(t, "u1", auth.PurposeSession)

	rec := f.do(t, http.MethodPost, "/api/v1/onboarding", token, `{"message":"こんにちは"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/companion", token, `{"is_initial":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOnboardingCompletesRegistration(t *testing.T) {
	f := newFixture(t, options{onboarding: onboardingAgent{reply: domain.OnboardingReply{
		Text:           "ありがとうございます[SPLIT]登録しました",
		PersonaSummary: "穏やかな話し方",
		Extracted: domain.OnboardingDraft{
			Name: "Hana", Interest: "tea", Contact: "hana@example.com", ContactMethod: "email",
			EmergencyContact: "sora@example.com", EmergencyMethod: "email",
		},
		Complete: true,
	}}})
	token := f.token(t, "u1", auth.PurposeSession)

	rec := f.do(t, http.MethodPost, "/api/v1/onboarding", token, `{"message":"全部伝えました"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp onboardingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"ありがとうございます", "登録しました"}, resp.Messages)
	assert.True(t, resp.Complete)
	require.NotNil(t, resp.User)
	assert.Equal(t, "u1", resp.User.ID)

	_, err := f.store.GetUser(context.Background(), "u1")
	assert.NoError(t, err)
}

func TestCompanionReply(t *testing.T) {
	interest := "pottery"
	f := newFixture(t, options{companion: companionAgent{reply: domain.CompanionReply{
		Text:           "素敵ですね",
		UpdatedProfile: &domain.OnboardingDraft{Interest: interest},
	}}})
	f.seed(t, "u1")

	rec := f.do(t, http.MethodPost, "/api/v1/companion", f.token(t, "u1", auth.PurposeSession), `{"message":"陶芸を始めました"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp companionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"素敵ですね"}, resp.Messages)
	assert.True(t, resp.ProfileUpdated)
	assert.Equal(t, interest, resp.User.Interest)
}
