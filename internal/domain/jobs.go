package domain

import (
	"context"
	"time"
)

// DeliveryJobKind описывает тип задачи для воркера доставки.
type DeliveryJobKind string

const (
	// DeliveryJobTest: пробная отправка, не затрагивающая расписание.
	DeliveryJobTest DeliveryJobKind = "test"
	// DeliveryJobRunDue: внеплановый проход доставки для одного пользователя.
	DeliveryJobRunDue DeliveryJobKind = "run_due"
)

// DeliveryJob содержит информацию о задаче доставки.
type DeliveryJob struct {
	ID          string          `json:"job_id"`
	Kind        DeliveryJobKind `json:"kind"`
	UserID      string          `json:"user_id"`
	Content     string          `json:"content,omitempty"`
	Attempt     int             `json:"attempt,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
}

// DeliveryAckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type DeliveryAckFunc func(success bool) error

// DeliveryQueue описывает очередь задач доставки.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, job DeliveryJob) error
	Receive(ctx context.Context) (DeliveryJob, DeliveryAckFunc, error)
}
