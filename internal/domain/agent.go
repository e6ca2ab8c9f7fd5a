package domain

import (
	"context"
	"strings"
)

// SplitMarker разделяет несколько сообщений в одном ответе агента.
const SplitMarker = "[SPLIT]"

// DefaultPersonaSummary: описание собеседника до первого завершённого онбординга.
const DefaultPersonaSummary = "初対面。まだ情報はありません。"

// OnboardingPrompt: контекст одного хода онбординга.
type OnboardingPrompt struct {
	PersonaSummary string
	Draft          OnboardingDraft
	History        []ChatMessage
	Message        string
}

// OnboardingReply: разобранный ответ агента онбординга.
type OnboardingReply struct {
	Text           string
	PersonaSummary string
	Extracted      OnboardingDraft
	Complete       bool
}

// OnboardingAgent ведёт регистрационный диалог.
type OnboardingAgent interface {
	Onboard(ctx context.Context, prompt OnboardingPrompt) (OnboardingReply, error)
}

// CompanionPrompt: контекст ответа агента-собеседника.
type CompanionPrompt struct {
	User           User
	PersonaSummary string
	History        []ChatMessage
	Message        string
	Initial        bool
}

// CompanionReply: ответ агента-собеседника. UpdatedProfile заполняется,
// если пользователь попросил изменить данные профиля.
type CompanionReply struct {
	Text           string
	UpdatedProfile *OnboardingDraft
}

// CompanionAgent отвечает зарегистрированному пользователю.
type CompanionAgent interface {
	Respond(ctx context.Context, prompt CompanionPrompt) (CompanionReply, error)
}

// SplitMessages делит текст агента по SplitMarker и отбрасывает пустые части.
func SplitMessages(text string) []string {
	parts := strings.Split(text, SplitMarker)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Patch превращает черновик в частичное изменение профиля: пустые поля не меняются.
func (d OnboardingDraft) Patch() ProfilePatch {
	var patch ProfilePatch
	str := func(v string) *string {
		if v = strings.TrimSpace(v); v == "" {
			return nil
		}
		return &v
	}
	method := func(v string) *ContactMethod {
		if strings.TrimSpace(v) == "" {
			return nil
		}
		m := NormalizeContactMethod(v)
		return &m
	}
	patch.Name = str(d.Name)
	patch.Interest = str(d.Interest)
	patch.Contact = str(d.Contact)
	patch.ContactMethod = method(d.ContactMethod)
	patch.EmergencyContact = str(d.EmergencyContact)
	patch.EmergencyMethod = method(d.EmergencyMethod)
	return patch
}
