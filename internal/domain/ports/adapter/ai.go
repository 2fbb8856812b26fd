package adapter

import "context"

// Message is one chat turn in provider shape.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Reply is one completed generation.
type Reply struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason string
}

// GenerateParams tunes one generation call.
type GenerateParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// LLMProvider is the "generate reply" RPC. Implementations classify their
// failures into domain.RateLimitError (never retried), domain.ConnectionError
// (retried with backoff) and domain.ProviderError (fallback chain).
type LLMProvider interface {
	Generate(ctx context.Context, messages []Message, params GenerateParams) (*Reply, error)
	// CountTokens estimates prompt tokens for budgeting; best effort.
	CountTokens(model string, messages []Message) (int, error)
}
