package ai

import (
	"github.com/pkoukk/tiktoken-go"

	"telegram-outreach-fleet/internal/domain/ports/adapter"
)

// tokensPerMessage is the chat-format framing overhead per message.
const tokensPerMessage = 4

// CountTokens estimates the prompt size with tiktoken. Unknown models fall
// back to the cl100k_base encoding.
func (p *OpenAIProvider) CountTokens(model string, messages []adapter.Message) (int, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}
	total := 0
	for _, m := range messages {
		total += tokensPerMessage + len(enc.Encode(m.Content, nil, nil))
	}
	return total, nil
}
