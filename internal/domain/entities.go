package domain

import (
	"strings"
	"time"
)

// ContactMethod описывает канал связи с пользователем.
type ContactMethod string

const (
	ContactEmail    ContactMethod = "email"
	ContactPhone    ContactMethod = "phone"
	ContactLine     ContactMethod = "line"
	ContactTelegram ContactMethod = "telegram"
)

// NormalizeContactMethod приводит произвольную строку к известному каналу.
// Неизвестные значения сохраняются как есть: выбор отправителя делает fallback на email.
func NormalizeContactMethod(raw string) ContactMethod {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "mail", "e-mail":
		return ContactEmail
	case "sms", "tel", "phone_number":
		return ContactPhone
	}
	return ContactMethod(value)
}

// UserStatus описывает состояние учётной записи.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// User описывает зарегистрированного человека.
type User struct {
	ID                string
	Name              string
	Interest          string
	Contact           string
	ContactMethod     ContactMethod
	EmergencyContact  string
	EmergencyMethod   ContactMethod
	Status            UserStatus
	Checkins          []Day
	LastSeen          time.Time
	ScheduledDelivery *ScheduledDelivery
	LastDeliveredAt   *time.Time
	EmergencyNotified bool
	LastEmergencyAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive сообщает, участвует ли пользователь в рассылках и мониторинге.
func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}

// DefaultInactivityThreshold: период тишины, после которого пользователь
// требует внимания экстренного контакта.
const DefaultInactivityThreshold = 72 * time.Hour

// InactivityCutoff возвращает границу тишины: пользователь с last_seen строго
// раньше неё молчит дольше threshold.
func InactivityCutoff(now time.Time, threshold time.Duration) time.Time {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	return now.Add(-threshold)
}

// Silent сообщает, молчит ли пользователь к моменту now дольше threshold.
func (u User) Silent(now time.Time, threshold time.Duration) bool {
	return u.LastSeen.Before(InactivityCutoff(now, threshold))
}

// ScheduledDelivery: единственная ожидающая доставка пользователя.
type ScheduledDelivery struct {
	Content     string
	ScheduledAt time.Time
	Sent        bool
	GeneratedAt time.Time
}

// Due сообщает, пора ли отправлять запись.
func (d *ScheduledDelivery) Due(now time.Time) bool {
	return d != nil && !d.Sent && !d.ScheduledAt.After(now)
}

// Profile содержит поля регистрации пользователя.
type Profile struct {
	UserID           string
	Name             string
	Interest         string
	Contact          string
	ContactMethod    ContactMethod
	EmergencyContact string
	EmergencyMethod  ContactMethod
}

// Normalize обрезает пробелы и приводит каналы связи.
func (p Profile) Normalize() Profile {
	p.UserID = strings.TrimSpace(p.UserID)
	p.Name = strings.TrimSpace(p.Name)
	p.Interest = strings.TrimSpace(p.Interest)
	p.Contact = strings.TrimSpace(p.Contact)
	p.ContactMethod = NormalizeContactMethod(string(p.ContactMethod))
	p.EmergencyContact = strings.TrimSpace(p.EmergencyContact)
	p.EmergencyMethod = NormalizeContactMethod(string(p.EmergencyMethod))
	if p.ContactMethod == "" {
		p.ContactMethod = ContactEmail
	}
	if p.EmergencyMethod == "" {
		p.EmergencyMethod = ContactEmail
	}
	return p
}

// Validate проверяет обязательные поля регистрации.
func (p Profile) Validate() error {
	if err := ValidateUserID(p.UserID); err != nil {
		return err
	}
	switch {
	case p.Name == "":
		return NewValidationError("name", "required")
	case p.Interest == "":
		return NewValidationError("interest", "required")
	case p.Contact == "":
		return NewValidationError("contact", "required")
	case p.EmergencyContact == "":
		return NewValidationError("emergency_contact", "required")
	}
	return nil
}

// ProfilePatch описывает частичное изменение профиля. Пустые поля не меняются.
type ProfilePatch struct {
	Name             *string
	Interest         *string
	Contact          *string
	ContactMethod    *ContactMethod
	EmergencyContact *string
	EmergencyMethod  *ContactMethod
	Status           *UserStatus
}

// Empty сообщает, что изменений нет.
func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.Interest == nil && p.Contact == nil && p.ContactMethod == nil &&
		p.EmergencyContact == nil && p.EmergencyMethod == nil && p.Status == nil
}

// Validate отклоняет пустые значения обязательных полей.
func (p ProfilePatch) Validate() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"name", p.Name},
		{"interest", p.Interest},
		{"contact", p.Contact},
		{"emergency_contact", p.EmergencyContact},
	}
	for _, f := range fields {
		if f.value != nil && strings.TrimSpace(*f.value) == "" {
			return NewValidationError(f.name, "must not be empty")
		}
	}
	if p.Status != nil && *p.Status != UserStatusActive && *p.Status != UserStatusInactive {
		return NewValidationError("status", "unknown status")
	}
	return nil
}

// Apply применяет изменения к пользователю.
func (p ProfilePatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Interest != nil {
		u.Interest = strings.TrimSpace(*p.Interest)
	}
	if p.Contact != nil {
		u.Contact = strings.TrimSpace(*p.Contact)
	}
	if p.ContactMethod != nil {
		u.ContactMethod = NormalizeContactMethod(string(*p.ContactMethod))
	}
	if p.EmergencyContact != nil {
		u.EmergencyContact = strings.TrimSpace(*p.EmergencyContact)
	}
	if p.EmergencyMethod != nil {
		u.EmergencyMethod = NormalizeContactMethod(string(*p.EmergencyMethod))
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	return u
}

// PersonaSession хранит обезличенное описание собеседника и черновик онбординга.
type PersonaSession struct {
	UserID         string
	PersonaSummary string
	Draft          OnboardingDraft
	Complete       bool
	UpdatedAt      time.Time
}

// OnboardingDraft: данные, извлечённые из диалога регистрации.
type OnboardingDraft struct {
	Name             string `json:"name,omitempty" bson:"name,omitempty"`
	Interest         string `json:"interest,omitempty" bson:"interest,omitempty"`
	Contact          string `json:"contact,omitempty" bson:"contact,omitempty"`
	ContactMethod    string `json:"contact_method,omitempty" bson:"contact_method,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty" bson:"emergency_contact,omitempty"`
	EmergencyMethod  string `json:"emergency_method,omitempty" bson:"emergency_method,omitempty"`
}

// Merge дополняет черновик непустыми значениями из next.
func (d OnboardingDraft) Merge(next OnboardingDraft) OnboardingDraft {
	pick := func(cur, upd string) string {
		if v := strings.TrimSpace(upd); v != "" {
			return v
		}
		return cur
	}
	d.Name = pick(d.Name, next.Name)
	d.Interest = pick(d.Interest, next.Interest)
	d.Contact = pick(d.Contact, next.Contact)
	d.ContactMethod = pick(d.ContactMethod, next.ContactMethod)
	d.EmergencyContact = pick(d.EmergencyContact, next.EmergencyContact)
	d.EmergencyMethod = pick(d.EmergencyMethod, next.EmergencyMethod)
	return d
}

// Filled сообщает, что собраны все шесть полей.
func (d OnboardingDraft) Filled() bool {
	return d.Name != "" && d.Interest != "" && d.Contact != "" && d.ContactMethod != "" &&
		d.EmergencyContact != "" && d.EmergencyMethod != ""
}

// Profile превращает черновик в профиль регистрации.
func (d OnboardingDraft) Profile(userID string) Profile {
	return Profile{
		UserID:           userID,
		Name:             d.Name,
		Interest:         d.Interest,
		Contact:          d.Contact,
		ContactMethod:    ContactMethod(d.ContactMethod),
		EmergencyContact: d.EmergencyContact,
		EmergencyMethod:  ContactMethod(d.EmergencyMethod),
	}.Normalize()
}

// ChatMessage: реплика диалога с агентом.
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
