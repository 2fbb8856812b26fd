package engine

import (
	"regexp"
	"strings"
	"unicode"
)

// Action is the dialogue-level side effect the LLM asked for alongside its
// reply text.
type Action string

const (
	ActionContinue       Action = "continue"
	ActionSendLinks      Action = "send_links"
	ActionNegativeFinish Action = "negative_finish"
	ActionCreativeSent   Action = "creative_sent"
	ActionHandoff        Action = "handoff"
)

// ParsedResponse is one LLM turn broken into sendable parts plus the action
// tag it carried. Raw always preserves the original string.
type ParsedResponse struct {
	Messages []string
	Action   Action
	Raw      string
}

// separator is the hard message-splitter the LLM is prompted to emit.
const separator = "|||"

var actionTagRe = regexp.MustCompile(`(?i)\[\s*(SEND_LINKS|NEGATIVE_FINISH|CREATIVE_SENT|HANDOFF)\s*\]`)

var tagActions = map[string]Action{
	"SEND_LINKS":      ActionSendLinks,
	"NEGATIVE_FINISH": ActionNegativeFinish,
	"CREATIVE_SENT":   ActionCreativeSent,
	"HANDOFF":         ActionHandoff,
}

// ParseResponse turns a raw LLM string into its message parts and action.
// The first recognized tag wins; all tag occurrences are stripped from the
// text.
func ParseResponse(raw string) ParsedResponse {
	action := ActionContinue
	if m := actionTagRe.FindStringSubmatch(raw); m != nil {
		action = tagActions[strings.ToUpper(m[1])]
	}
	text := actionTagRe.ReplaceAllString(raw, "")

	var messages []string
	for _, part := range strings.Split(text, separator) {
		cleaned := cleanPart(part)
		if cleaned == "" {
			continue
		}
		messages = append(messages, cleaned)
	}
	return ParsedResponse{Messages: messages, Action: action, Raw: raw}
}

// cleanPart normalizes one message part: strays of the splitter are
// trimmed, whitespace runs collapse, trailing periods go, and a leading
// capital before a lowercase letter is folded down. Mid-sentence proper
// nouns keep their case.
func cleanPart(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "|")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".")
	s = strings.TrimSpace(s)
	return lowerLeading(s)
}

func lowerLeading(s string) string {
	r := []rune(s)
	if len(r) >= 2 && unicode.IsUpper(r[0]) && unicode.IsLower(r[1]) {
		r[0] = unicode.ToLower(r[0])
		return string(r)
	}
	return s
}
