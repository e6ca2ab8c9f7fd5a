package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/auth"
	httpinfra "amber-ink/internal/infra/http"
	"amber-ink/internal/usecase/checkin"
	"amber-ink/internal/usecase/companion"
	"amber-ink/internal/usecase/onboarding"
)

const maxBodyBytes = 1 << 20

// Tokens выпускает и проверяет токены сессий и ссылок.
type Tokens interface {
	Issue(userID string, purpose auth.Purpose) (string, error)
	Verify(token string, purpose auth.Purpose) (string, error)
}

// Handler обслуживает HTTP API клиента и ссылки из сообщений.
type Handler struct {
	log        zerolog.Logger
	tokens     Tokens
	onboarding *onboarding.Service
	companion  *companion.Service
	checkins   *checkin.Service
	jobs       domain.DeliveryQueue
	threshold  time.Duration
	newID      func() string
	now        func() time.Time
}

// Deps перечисляет зависимости обработчика. Companion и Jobs могут быть nil:
// соответствующие ручки тогда отвечают 503.
type Deps struct {
	Tokens     Tokens
	Onboarding *onboarding.Service
	Companion  *companion.Service
	Checkins   *checkin.Service
	Jobs       domain.DeliveryQueue
	Threshold  time.Duration
}

// NewHandler создаёт обработчик.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		log:        logger.With().Str("component", "api").Logger(),
		tokens:     deps.Tokens,
		onboarding: deps.Onboarding,
		companion:  deps.Companion,
		checkins:   deps.Checkins,
		jobs:       deps.Jobs,
		threshold:  deps.Threshold,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Routes регистрирует маршруты в r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/v1/session", h.createSession)
	r.Get("/c/{token}", h.checkInByLink)
	r.Get("/s/{token}", h.statusByLink)
	r.Get("/api/v1/users/{id}/status", h.userStatus)

	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.SessionAuthMiddleware(h.tokens))

		protected.Post("/api/v1/users", h.register)
		protected.Post("/api/v1/onboarding", h.onboardingTurn)
		protected.Post("/api/v1/companion", h.companionReply)
		protected.Get("/api/v1/me", h.me)
		protected.Patch("/api/v1/me", h.updateMe)
		protected.Post("/api/v1/checkin", h.checkIn)
		protected.Post("/api/v1/deliveries/test", h.enqueueTest)
		protected.Post("/api/v1/deliveries/run", h.enqueueRun)
	})
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	userID := h.newID()
	token, err := h.tokens.Issue(userID, auth.PurposeSession)
	if err != nil {
		h.log.Error().Err(err).Msg("api: не удалось выпустить токен")
		httpinfra.WriteError(w, http.StatusInternalServerError, "try again later")
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, sessionResponse{UserID: userID, Token: token})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpinfra.UserID(r.Context())
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	user, created, err := h.onboarding.Register(r.Context(), req.profile(userID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpinfra.WriteJSON(w, status, registerResponse{User: newUserView(user), Created: created})
}

func (h *Handler) onboardingTurn(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpinfra.UserID(r.Context())
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.onboarding.Turn(r.Context(), userID, req.Message, req.History)
	if errors.Is(err, onboarding.ErrAgentDisabled) {
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "assistant is unavailable")
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := onboardingResponse{Messages: result.Messages, Draft: result.Draft, Complete: result.Complete}
	if result.User != nil {
		view := newUserView(*result.User)
		resp.User = &view
	}
	httpinfra.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) companionReply(w http.ResponseWriter, r *http.Request) {
	if h.companion == nil {
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "assistant is unavailable")
		return
	}
	userID, _ := httpinfra.UserID(r.Context())
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.companion.Reply(r.Context(), userID, req.Message, req.History, req.Initial)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, companionResponse{
		Messages:       result.Messages,
		User:           newUserView(result.User),
		ProfileUpdated: result.ProfileUpdated,
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpinfra.UserID(r.Context())
	summary, err := h.checkins.Summary(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, newMeView(summary))
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpinfra.UserID(r.Context())
	var req patchRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.onboarding.UpdateProfile(r.Context(), userID, req.patch()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.me(w, r)
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpinfra.UserID(r.Context())
	var req checkInRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	result, err := h.checkins.RecordCheckInRaw(r.Context(), userID, req.Timestamp, checkin.SourceAPI)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, newCheckInView(result))
}

var checkInPage = template.Must(template.New("checkin").Parse(`<!doctype html>
<html lang="ja"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Amber Ink</title></head>
<body style="font-family:sans-serif;background:#fdf6ec;color:#4a3b2a;text-align:center;padding:48px 16px">
<h1 style="color:#c8861e">{{if .OK}}チェックインしました{{else}}リンクが無効です{{end}}</h1>
{{if .OK}}<p>今日も元気でいてくれてありがとう。連続 {{.Streak}} 日です。</p>{{else}}<p>アプリから、もう一度チェックインしてください。</p>{{end}}
</body></html>`))

type checkInPageData struct {
	OK     bool
	Streak int
}

func (h *Handler) checkInByLink(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.Verify(chi.URLParam(r, "token"), auth.PurposeCheckIn)
	if err != nil {
		renderCheckInPage(w, http.StatusUnauthorized, checkInPageData{})
		return
	}
	result, err := h.checkins.RecordCheckIn(r.Context(), userID, h.now(), checkin.SourceLink)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			renderCheckInPage(w, http.StatusNotFound, checkInPageData{})
			return
		}
		h.log.Error().Err(err).Str("user", userID).Msg("api: отметка по ссылке не удалась")
		renderCheckInPage(w, http.StatusInternalServerError, checkInPageData{})
		return
	}
	renderCheckInPage(w, http.StatusOK, checkInPageData{OK: true, Streak: result.Streak})
}

func renderCheckInPage(w http.ResponseWriter, status int, data checkInPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = checkInPage.Execute(w, data)
}

func (h *Handler) statusByLink(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.Verify(chi.URLParam(r, "token"), auth.PurposeStatus)
	if err != nil {
		httpinfra.WriteError(w, http.StatusUnauthorized, "link is invalid or expired")
		return
	}
	h.writeStatus(w, r, userID)
}

func (h *Handler) userStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.Verify(r.URL.Query().Get("token"), auth.PurposeStatus)
	if err != nil || userID != chi.URLParam(r, "id") {
		httpinfra.WriteError(w, http.StatusUnauthorized, "link is invalid or expired")
		return
	}
	h.writeStatus(w, r, userID)
}

func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := h.checkins.Status(r.Context(), userID, h.threshold)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, newStatusView(view))
}

func (h *Handler) enqueueTest(w http.ResponseWriter, r *http.Request) {
	var req testDeliveryRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	h.enqueue(w, r, domain.DeliveryJobTest, req.Content)
}

func (h *Handler) enqueueRun(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, domain.DeliveryJobRunDue, "")
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, kind domain.DeliveryJobKind, content string) {
	if h.jobs == nil {
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "delivery queue is unavailable")
		return
	}
	userID, _ := httpinfra.UserID(r.Context())
	if _, err := h.checkins.Summary(r.Context(), userID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	job := domain.DeliveryJob{
		ID:          h.newID(),
		Kind:        kind,
		UserID:      userID,
		Content:     content,
		RequestedAt: h.now().UTC(),
	}
	if err := h.jobs.Enqueue(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("user", userID).Str("kind", string(kind)).Msg("api: не удалось поставить задачу")
		httpinfra.WriteError(w, http.StatusInternalServerError, "try again later")
		return
	}
	h.log.Info().Str("user", userID).Str("job_id", job.ID).Str("kind", string(kind)).Msg("api: задача доставки поставлена")
	httpinfra.WriteJSON(w, http.StatusAccepted, jobResponse{JobID: job.ID, Kind: string(kind)})
}

// writeServiceError переводит доменные ошибки в HTTP-коды. Подробности
// внутренних сбоев клиенту не отдаются.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		httpinfra.WriteError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, domain.ErrNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, context.Canceled):
		httpinfra.WriteError(w, http.StatusRequestTimeout, "request cancelled")
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", httpinfra.RequestID(r)).Msg("api: внутренняя ошибка")
		httpinfra.WriteError(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}

func validationMessage(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return "invalid request"
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
