package api

import (
	"time"

	"amber-ink/internal/domain"
	"amber-ink/internal/usecase/checkin"
)

type sessionResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type registerRequest struct {
	Name             string `json:"name"`
	Interest         string `json:"interest"`
	Contact          string `json:"contact"`
	ContactMethod    string `json:"contact_method"`
	EmergencyContact string `json:"emergency_contact"`
	EmergencyMethod  string `json:"emergency_method"`
}

func (r registerRequest) profile(userID string) domain.Profile {
	return domain.Profile{
		UserID:           userID,
		Name:             r.Name,
		Interest:         r.Interest,
		Contact:          r.Contact,
		ContactMethod:    domain.ContactMethod(r.ContactMethod),
		EmergencyContact: r.EmergencyContact,
		EmergencyMethod:  domain.ContactMethod(r.EmergencyMethod),
	}
}

type registerResponse struct {
	User    userView `json:"user"`
	Created bool     `json:"created"`
}

type patchRequest struct {
	Name             *string `json:"name"`
	Interest         *string `json:"interest"`
	Contact          *string `json:"contact"`
	ContactMethod    *string `json:"contact_method"`
	EmergencyContact *string `json:"emergency_contact"`
	EmergencyMethod  *string `json:"emergency_method"`
	Status           *string `json:"status"`
}

func (r patchRequest) patch() domain.ProfilePatch {
	patch := domain.ProfilePatch{
		Name:             r.Name,
		Interest:         r.Interest,
		Contact:          r.Contact,
		EmergencyContact: r.EmergencyContact,
	}
	if r.ContactMethod != nil {
		m := domain.ContactMethod(*r.ContactMethod)
		patch.ContactMethod = &m
	}
	if r.EmergencyMethod != nil {
		m := domain.ContactMethod(*r.EmergencyMethod)
		patch.EmergencyMethod = &m
	}
	if r.Status != nil {
		s := domain.UserStatus(*r.Status)
		patch.Status = &s
	}
	return patch
}

type chatRequest struct {
	Message string               `json:"message"`
	History []domain.ChatMessage `json:"history"`
	Initial bool                 `json:"is_initial"`
}

type onboardingResponse struct {
	Messages []string               `json:"messages"`
	Draft    domain.OnboardingDraft `json:"extracted_data"`
	Complete bool                   `json:"is_complete"`
	User     *userView              `json:"user,omitempty"`
}

type companionResponse struct {
	Messages       []string `json:"messages"`
	User           userView `json:"user"`
	ProfileUpdated bool     `json:"profile_updated"`
}

type checkInRequest struct {
	Timestamp string `json:"timestamp"`
}

type checkInView struct {
	UserID   string     `json:"user_id"`
	Date     domain.Day `json:"date"`
	NewDay   bool       `json:"new_day"`
	LastSeen time.Time  `json:"last_seen"`
	Streak   int        `json:"streak"`
}

func newCheckInView(r checkin.Result) checkInView {
	return checkInView{UserID: r.UserID, Date: r.Day, NewDay: r.NewDay, LastSeen: r.LastSeen, Streak: r.Streak}
}

type testDeliveryRequest struct {
	Content string `json:"content"`
}

type jobResponse struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`
}

type deliveryView struct {
	Content     string    `json:"content"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Sent        bool      `json:"sent"`
}

type userView struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Interest          string        `json:"interest"`
	Contact           string        `json:"contact"`
	ContactMethod     string        `json:"contact_method"`
	EmergencyContact  string        `json:"emergency_contact"`
	EmergencyMethod   string        `json:"emergency_method"`
	Status            string        `json:"status"`
	LastSeen          time.Time     `json:"last_seen"`
	LastDeliveredAt   *time.Time    `json:"last_delivered_at,omitempty"`
	EmergencyNotified bool          `json:"emergency_notified"`
	ScheduledDelivery *deliveryView `json:"scheduled_delivery,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

func newUserView(u domain.User) userView {
	view := userView{
		ID:                u.ID,
		Name:              u.Name,
		Interest:          u.Interest,
		Contact:           u.Contact,
		ContactMethod:     string(u.ContactMethod),
		EmergencyContact:  u.EmergencyContact,
		EmergencyMethod:   string(u.EmergencyMethod),
		Status:            string(u.Status),
		LastSeen:          u.LastSeen,
		LastDeliveredAt:   u.LastDeliveredAt,
		EmergencyNotified: u.EmergencyNotified,
		CreatedAt:         u.CreatedAt,
	}
	if d := u.ScheduledDelivery; d != nil {
		view.ScheduledDelivery = &deliveryView{Content: d.Content, ScheduledAt: d.ScheduledAt, Sent: d.Sent}
	}
	return view
}

type meView struct {
	User   userView           `json:"user"`
	Today  domain.Day         `json:"today"`
	Streak int                `json:"streak"`
	Window []domain.WindowDay `json:"window"`
}

func newMeView(s checkin.Summary) meView {
	return meView{User: newUserView(s.User), Today: s.Today, Streak: s.Streak, Window: s.Window}
}

type statusView struct {
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	LastSeen       time.Time `json:"last_seen"`
	DaysSince      int       `json:"days_since"`
	NeedsAttention bool      `json:"needs_attention"`
	Streak         int       `json:"streak"`
}

func newStatusView(v checkin.StatusView) statusView {
	return statusView{
		UserID:         v.UserID,
		Name:           v.Name,
		LastSeen:       v.LastSeen,
		DaysSince:      v.DaysSince,
		NeedsAttention: v.NeedsAttention,
		Streak:         v.Streak,
	}
}
