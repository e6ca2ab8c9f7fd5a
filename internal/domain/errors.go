package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation: некорректные входные данные, состояние не изменено.
	ErrValidation = errors.New("validation error")
	// ErrNotFound: пользователь не найден.
	ErrNotFound = errors.New("not found")
	// ErrDelivery: ошибка передачи сообщения в канал.
	ErrDelivery = errors.New("delivery error")
	// ErrGeneration: ошибка генерации контента.
	ErrGeneration = errors.New("generation error")
)

// ValidationError описывает некорректное поле.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError создаёт ошибку валидации.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError возвращается для неизвестного userId.
type NotFoundError struct {
	UserID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("user %q not found", e.UserID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DeliveryError оборачивает сбой отправки. Retryable означает, что запись
// остаётся пригодной для следующего прохода.
type DeliveryError struct {
	Channel   string
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// GenerationError оборачивает сбой генератора контента.
type GenerationError struct {
	UserID    string
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate content for %s: %v", e.UserID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

const maxUserIDLength = 128

// ValidateUserID проверяет идентификатор пользователя.
func ValidateUserID(userID string) error {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return NewValidationError("user_id", "required")
	}
	if trimmed != userID {
		return NewValidationError("user_id", "must not contain surrounding spaces")
	}
	if len(userID) > maxUserIDLength {
		return NewValidationError("user_id", "too long")
	}
	for _, r := range userID {
		if r < 0x21 || r == 0x7f {
			return NewValidationError("user_id", "contains control characters")
		}
	}
	return nil
}
