package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"amber-ink/internal/domain"
	openai "amber-ink/internal/infra/openai"
)

// ErrEmptyReply возвращается, если модель не прислала текст.
var ErrEmptyReply = errors.New("agent: empty reply")

type jsonClient interface {
	CompleteJSON(ctx context.Context, req openai.ChatCompletionRequest, out any) error
}

// OpenAI реализует агентов онбординга и собеседника через Chat Completions.
type OpenAI struct {
	client  jsonClient
	model   string
	timeout time.Duration
}

var (
	_ domain.OnboardingAgent = (*OpenAI)(nil)
	_ domain.CompanionAgent  = (*OpenAI)(nil)
)

// NewOpenAI создаёт агента.
func NewOpenAI(client jsonClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

const onboardingInstruction = `You are the warm onboarding agent for "Amber Ink".
Your goal is to help users protect their "living proof" and prevent social isolation.

[CRITICAL RULE: Handling PII]
- NEVER include names, addresses, phone numbers, email addresses, or IDs in "updated_persona_summary".
- Focus on the user's speaking style, personality, values, interests, and life background.

[YOUR MISSION]
Gather through natural conversation:
1. Name (nickname preferred)
2. Interests & passions (topics they enjoy hearing about daily)
3. Contact method & destination (explicitly ask for "Email" or "Phone number")
4. Emergency contact & method (explicitly ask for "Email" or "Phone number")

[CONVERSATION RULES]
- RESPOND IN JAPANESE. Be warm, dignified, and enveloping.
- Keep responses concise (1-2 sentences per message). Use [SPLIT] to separate messages.
- Ask only ONE question at a time.
- When asking about interests, give a few examples (gardening, cooking, latest news, health).
- If you have all information, express gratitude and set is_complete to true.

[OUTPUT FORMAT (JSON ONLY)]
{
  "text": "response message, may contain [SPLIT]",
  "updated_persona_summary": "persona rewrite without PII; only when is_complete is true",
  "extracted_data": {
    "name": null, "interest": null, "contact": null,
    "contact_method": null, "emergency_contact": null, "emergency_method": null
  },
  "is_complete": false
}`

type onboardingPayload struct {
	Text                  string        `json:"text"`
	UpdatedPersonaSummary string        `json:"updated_persona_summary"`
	ExtractedData         *draftPayload `json:"extracted_data"`
	IsComplete            bool          `json:"is_complete"`
}

// draftPayload принимает null в любом поле.
type draftPayload struct {
	Name             *string `json:"name"`
	Interest         *string `json:"interest"`
	Contact          *string `json:"contact"`
	ContactMethod    *string `json:"contact_method"`
	EmergencyContact *string `json:"emergency_contact"`
	EmergencyMethod  *string `json:"emergency_method"`
}

func (p *draftPayload) draft() domain.OnboardingDraft {
	if p == nil {
		return domain.OnboardingDraft{}
	}
	val := func(s *string) string {
		if s == nil {
			return ""
		}
		v := strings.TrimSpace(*s)
		if strings.EqualFold(v, "null") {
			return ""
		}
		return v
	}
	return domain.OnboardingDraft{
		Name:             val(p.Name),
		Interest:         val(p.Interest),
		Contact:          val(p.Contact),
		ContactMethod:    val(p.ContactMethod),
		EmergencyContact: val(p.EmergencyContact),
		EmergencyMethod:  val(p.EmergencyMethod),
	}
}

// Onboard реализует domain.OnboardingAgent.
func (a *OpenAI) Onboard(ctx context.Context, prompt domain.OnboardingPrompt) (domain.OnboardingReply, error) {
	draft, _ := json.Marshal(prompt.Draft)
	history, _ := json.Marshal(prompt.History)
	state := fmt.Sprintf("[Current Persona Summary (PII removed)]\n%s\n\n[Current Extracted Information]\n%s\n\n[Last Conversation History]\n%s",
		prompt.PersonaSummary, draft, history)

	var payload onboardingPayload
	err := a.complete(ctx, 0.7, []openai.ChatMessage{
		{Role: openai.RoleSystem, Content: onboardingInstruction},
		{Role: openai.RoleSystem, Content: state},
		{Role: openai.RoleUser, Content: prompt.Message},
	}, &payload)
	if err != nil {
		return domain.OnboardingReply{}, err
	}
	if strings.TrimSpace(payload.Text) == "" {
		return domain.OnboardingReply{}, ErrEmptyReply
	}
	return domain.OnboardingReply{
		Text:           payload.Text,
		PersonaSummary: strings.TrimSpace(payload.UpdatedPersonaSummary),
		Extracted:      payload.ExtractedData.draft(),
		Complete:       payload.IsComplete,
	}, nil
}

const companionInstruction = `You are the companion of "Amber Ink", a gentle friend who checks in on the user every day.

[CONVERSATION RULES]
- RESPOND IN JAPANESE, warm and concise (1-2 sentences per message). Use [SPLIT] to separate messages.
- Talk about the user's interests. Never sound like surveillance.
- If the user asks to change their name, interests or contact details, put ONLY the changed fields into "updated_profile".
- If nothing should change, set "updated_profile" to null.

[OUTPUT FORMAT (JSON ONLY)]
{
  "text": "response message, may contain [SPLIT]",
  "updated_profile": null
}`

type companionPayload struct {
	Text           string        `json:"text"`
	UpdatedProfile *draftPayload `json:"updated_profile"`
}

// Respond реализует domain.CompanionAgent.
func (a *OpenAI) Respond(ctx context.Context, prompt domain.CompanionPrompt) (domain.CompanionReply, error) {
	profile := fmt.Sprintf("[User Profile]\nname: %s\ninterest: %s\ncontact_method: %s\n\n[Persona Summary]\n%s",
		prompt.User.Name, prompt.User.Interest, prompt.User.ContactMethod, prompt.PersonaSummary)

	messages := []openai.ChatMessage{
		{Role: openai.RoleSystem, Content: companionInstruction},
		{Role: openai.RoleSystem, Content: profile},
	}
	for _, m := range prompt.History {
		role := openai.RoleUser
		if m.Role != "user" {
			role = openai.RoleAssistant
		}
		messages = append(messages, openai.ChatMessage{Role: role, Content: m.Text})
	}
	if prompt.Initial {
		messages = append(messages, openai.ChatMessage{Role: openai.RoleUser, Content: "(The user just opened the app. Greet them first and ask one light question about their interests.)"})
	} else {
		messages = append(messages, openai.ChatMessage{Role: openai.RoleUser, Content: prompt.Message})
	}

	var payload companionPayload
	if err := a.complete(ctx, 0.8, messages, &payload); err != nil {
		return domain.CompanionReply{}, err
	}
	if strings.TrimSpace(payload.Text) == "" {
		return domain.CompanionReply{}, ErrEmptyReply
	}
	reply := domain.CompanionReply{Text: payload.Text}
	if payload.UpdatedProfile != nil {
		draft := payload.UpdatedProfile.draft()
		reply.UpdatedProfile = &draft
	}
	return reply, nil
}

func (a *OpenAI) complete(ctx context.Context, temperature float64, messages []openai.ChatMessage, out any) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: temperature,
		MaxTokens:   600,
		Messages:    messages,
	}
	if err := a.client.CompleteJSON(ctx, req, out); err != nil {
		return fmt.Errorf("agent completion: %w", err)
	}
	return nil
}
