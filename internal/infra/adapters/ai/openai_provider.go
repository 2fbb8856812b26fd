package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/ports/adapter"
)

var _ adapter.LLMProvider = (*OpenAIProvider)(nil)

// OpenAIProvider implements the LLM port over the Chat Completions API.
// When a proxy URL is configured, ALL provider traffic is routed through
// it; the fleet's egress IP must never reach the provider directly.
type OpenAIProvider struct {
	client openai.Client
}

func NewOpenAIProvider(apiKey, baseURL, proxyURL string, timeout time.Duration) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("llm proxy url: %w", err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []adapter.Message, params adapter.GenerateParams) (*adapter.Reply, error) {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(m.Content))
		case "assistant":
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}

	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(params.Model),
		Messages: converted,
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, classify(err, params.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, &domain.ProviderError{Model: params.Model, Err: errors.New("no choices in response")}
	}
	choice := resp.Choices[0]
	return &adapter.Reply{
		Content: choice.Message.Content,
		Model:   resp.Model,
		Usage: adapter.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}

// classify maps provider failures onto the domain's three retry classes.
func classify(err error, model string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &domain.RateLimitError{RetryAfter: time.Minute}
		case apiErr.StatusCode >= 500:
			return &domain.ProviderError{Model: model, Err: err}
		default:
			return &domain.ProviderError{Model: model, Err: err}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Anything that never produced an HTTP status is transport trouble.
	return &domain.ConnectionError{Err: err}
}
