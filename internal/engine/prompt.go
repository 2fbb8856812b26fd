package engine

import (
	"strings"

	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/adapter"
)

// historyWindow is how many trailing dialogue messages the LLM sees.
const historyWindow = 8

// criticalRules is the invariant behavior block appended to every persona.
var criticalRules = strings.TrimSpace(`
КРИТИЧЕСКИЕ ПРАВИЛА:
- максимум один вопрос за сообщение
- короткие предложения, без длинных абзацев
- никаких эмодзи
- никогда не признавайся, что ты бот или программа
- если собеседник шлет стикеры или медиа, реагируй как человек, не командами
- разделяй части ответа токеном ||| если нужно несколько сообщений
`)

// BuildSystemPrompt assembles the per-turn system prompt: campaign persona,
// the invariant rules block, the questions already asked (so the model does
// not repeat itself) and a stage hint once the dialogue is close to the
// goal threshold.
func BuildSystemPrompt(camp *model.Campaign, dlg *model.Dialogue) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(camp.Prompt.SystemPrompt))
	b.WriteString("\n\n")
	b.WriteString(criticalRules)

	if asked := askedQuestions(dlg); len(asked) > 0 {
		b.WriteString("\n\nВопросы, которые ты уже задавал (не повторяй их):\n")
		for _, q := range asked {
			b.WriteString("- ")
			b.WriteString(q)
			b.WriteString("\n")
		}
	}

	ourMessages := dlg.CountByRole(model.RoleAccount)
	if camp.Goal.MinMessagesGoal > 0 && ourMessages >= camp.Goal.MinMessagesGoal-2 {
		b.WriteString("\n\nДиалог уже разогрет: можно естественно упомянуть свой канал, если это уместно.")
	}
	return b.String()
}

// askedQuestions extracts the question sentences from our past outbound
// messages.
func askedQuestions(dlg *model.Dialogue) []string {
	var out []string
	for i := range dlg.Messages {
		m := &dlg.Messages[i]
		if m.Role != model.RoleAccount || !strings.Contains(m.Content, "?") {
			continue
		}
		var sentence strings.Builder
		for _, r := range m.Content {
			sentence.WriteRune(r)
			if r == '?' {
				out = append(out, strings.TrimSpace(sentence.String()))
				sentence.Reset()
				continue
			}
			if r == '.' || r == '!' {
				sentence.Reset()
			}
		}
	}
	return out
}

// BuildHistory maps the trailing dialogue window into provider chat shape.
func BuildHistory(dlg *model.Dialogue) []adapter.Message {
	recent := dlg.Recent(historyWindow)
	out := make([]adapter.Message, 0, len(recent))
	for i := range recent {
		role := "user"
		if recent[i].Role == model.RoleAccount {
			role = "assistant"
		}
		out = append(out, adapter.Message{Role: role, Content: recent[i].Content})
	}
	return out
}
