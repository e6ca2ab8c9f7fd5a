package sender

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"amber-ink/internal/domain"
)

// Message: отрисованное сообщение для любого канала.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

var emailLayout = template.Must(template.New("email").Parse(`<div style="font-family: sans-serif; color: #333; max-width: 600px; margin: auto; border: 1px solid #eee; padding: 20px; border-radius: 10px;">
  <h2 style="color: #d97706;">Amber Ink</h2>
  {{range .Paragraphs}}<p>{{.}}</p>
  {{end}}{{if .URL}}<div style="margin-top: 30px; text-align: center;">
    <a href="{{.URL}}" style="background-color: #f59e0b; color: white; padding: 12px 24px; text-decoration: none; border-radius: 50px; font-weight: bold; display: inline-block;">{{.Button}}</a>
  </div>
  {{end}}<p style="font-size: 12px; color: #999; margin-top: 40px; text-align: center;">このメールは Amber Ink から自動送信されています。</p>
</div>`))

// Render готовит тему, текст и HTML для намерения доставки.
func Render(user domain.User, intent domain.DeliveryIntent) (Message, error) {
	var (
		subject string
		url     string
		label   string
		button  string
	)
	switch intent.Kind {
	case domain.MessageEmergency:
		subject = fmt.Sprintf("【Amber Ink】%s さんのご様子について", user.Name)
		url = intent.StatusURL
		label = "Status"
		button = "状況を確認する"
	case domain.MessageTest:
		subject = "【Amber Ink】テスト配信"
		url = intent.CheckInURL
		label = "Check-in here"
		button = "今日の輝きを確認する (Check-in)"
	default:
		subject = fmt.Sprintf("琥珀の輝き：今日の %s さんへ", user.Name)
		url = intent.CheckInURL
		label = "Check-in here"
		button = "今日の輝きを確認する (Check-in)"
	}

	content := strings.TrimSpace(intent.Content)
	text := content
	if url != "" {
		text += fmt.Sprintf("\n\n%s: %s", label, url)
	}

	var paragraphs []string
	for _, p := range strings.Split(content, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	var buf bytes.Buffer
	err := emailLayout.Execute(&buf, struct {
		Paragraphs []string
		URL        string
		Button     string
	}{paragraphs, url, button})
	if err != nil {
		return Message{}, fmt.Errorf("render email: %w", err)
	}
	return Message{Subject: subject, Text: text, HTML: buf.String()}, nil
}

// splitText режет текст на части не длиннее limit рун, предпочитая границы строк.
func splitText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if limit <= 0 || len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			if chunk := strings.Trim(string(runes[start:]), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}
		cut := end
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if chunk := strings.Trim(string(runes[start:cut]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		start = cut
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	return parts
}
