package domain

import (
	"context"
	"time"
)

// TargetKind определяет адресата сообщения.
type TargetKind string

const (
	TargetSelf      TargetKind = "self"
	TargetEmergency TargetKind = "emergency"
)

// MessageKind определяет тип сообщения.
type MessageKind string

const (
	MessageDaily     MessageKind = "daily"
	MessageEmergency MessageKind = "emergency"
	MessageTest      MessageKind = "test"
)

// DeliveryIntent описывает, что и кому нужно доставить.
type DeliveryIntent struct {
	Target     TargetKind
	Kind       MessageKind
	Content    string
	CheckInURL string
	StatusURL  string
}

// Method возвращает канал, выбранный для адресата.
func (i DeliveryIntent) Method(u User) ContactMethod {
	if i.Target == TargetEmergency {
		return u.EmergencyMethod
	}
	return u.ContactMethod
}

// Address возвращает адрес, выбранный для адресата.
func (i DeliveryIntent) Address(u User) string {
	if i.Target == TargetEmergency {
		return u.EmergencyContact
	}
	return u.Contact
}

// Receipt: подтверждение провайдера.
type Receipt struct {
	Channel    string
	ProviderID string
	Simulated  bool
	SentAt     time.Time
}

// ChannelSender доставляет сообщение в конкретный канал.
type ChannelSender interface {
	Name() string
	Send(ctx context.Context, user User, intent DeliveryIntent) (Receipt, error)
}

// DueDelivery: пользователь, чья запланированная доставка готова к отправке.
type DueDelivery struct {
	User     User
	Delivery ScheduledDelivery
}

// PassResult: итог прохода планировщика доставки.
type PassResult struct {
	Candidates int
	Sent       int
	Failed     int
}

// ScanResult: итог прохода монитора неактивности.
type ScanResult struct {
	Candidates int
	Notified   int
	Failed     int
}

// GeneratedContent: результат генератора контента.
type GeneratedContent struct {
	Content     string
	ScheduledAt time.Time
}

// ContentGenerator готовит следующее сообщение пользователю.
type ContentGenerator interface {
	Generate(ctx context.Context, user User) (GeneratedContent, error)
}

// LinkIssuer выпускает ссылки, по которым можно отметиться без сессии.
type LinkIssuer interface {
	CheckInURL(userID string) (string, error)
	StatusURL(userID string) (string, error)
}
