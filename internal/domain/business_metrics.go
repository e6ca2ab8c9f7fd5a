package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventUserRegistered фиксирует регистрацию нового пользователя.
	BusinessMetricEventUserRegistered = "user_registered"
	// BusinessMetricEventCheckinRecorded фиксирует новую дневную отметку.
	BusinessMetricEventCheckinRecorded = "checkin_recorded"
	// BusinessMetricEventDeliveryScheduled фиксирует сгенерированную доставку.
	BusinessMetricEventDeliveryScheduled = "delivery_scheduled"
	// BusinessMetricEventDeliverySent фиксирует успешную доставку пользователю.
	BusinessMetricEventDeliverySent = "delivery_sent"
	// BusinessMetricEventEmergencyNotified фиксирует уведомление экстренного контакта.
	BusinessMetricEventEmergencyNotified = "emergency_notified"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
