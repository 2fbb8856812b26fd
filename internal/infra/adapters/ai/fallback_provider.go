package ai

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain"
	"telegram-outreach-fleet/internal/domain/ports/adapter"
)

// lastResortModels is the implementation-defined tail of the fallback
// chain, walked after the configured default and fallback models.
var lastResortModels = []string{"gpt-4o-mini", "gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"}

const (
	connectRetries     = 3
	connectBackoffBase = 1 * time.Second
	connectBackoffMax  = 10 * time.Second
)

var _ adapter.LLMProvider = (*FallbackProvider)(nil)

// FallbackProvider layers two recovery strategies on a raw provider:
// connection errors are retried with exponential backoff against the same
// model, provider errors walk the model fallback chain. Rate limits are
// never retried and bubble up to the caller.
type FallbackProvider struct {
	base          adapter.LLMProvider
	defaultModel  string
	fallbackModel string
	log           *zerolog.Logger

	newBackOff func() backoff.BackOff // test hook
}

func NewFallbackProvider(base adapter.LLMProvider, defaultModel, fallbackModel string, logger *zerolog.Logger) *FallbackProvider {
	l := logger.With().Str("component", "FallbackProvider").Logger()
	return &FallbackProvider{
		base:          base,
		defaultModel:  defaultModel,
		fallbackModel: fallbackModel,
		log:           &l,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = connectBackoffBase
			bo.MaxInterval = connectBackoffMax
			return bo
		},
	}
}

func (f *FallbackProvider) Generate(ctx context.Context, messages []adapter.Message, params adapter.GenerateParams) (*adapter.Reply, error) {
	var lastErr error
	for _, model := range f.chain(params.Model) {
		p := params
		p.Model = model
		reply, err := f.generateOnce(ctx, messages, p)
		if err == nil {
			return reply, nil
		}

		var rle *domain.RateLimitError
		if errors.As(err, &rle) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		f.log.Warn().Err(err).Str("model", model).Msg("model failed, walking fallback chain")
	}
	return nil, lastErr
}

// generateOnce runs one model with the connection-error retry policy.
func (f *FallbackProvider) generateOnce(ctx context.Context, messages []adapter.Message, params adapter.GenerateParams) (*adapter.Reply, error) {
	var reply *adapter.Reply
	op := func() error {
		r, err := f.base.Generate(ctx, messages, params)
		if err != nil {
			var ce *domain.ConnectionError
			if errors.As(err, &ce) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		reply = r
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), connectRetries-1), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return reply, nil
}

func (f *FallbackProvider) CountTokens(model string, messages []adapter.Message) (int, error) {
	return f.base.CountTokens(model, messages)
}

// chain builds the ordered, deduplicated model list for one call.
func (f *FallbackProvider) chain(requested string) []string {
	candidates := make([]string, 0, len(lastResortModels)+3)
	if requested != "" {
		candidates = append(candidates, requested)
	}
	candidates = append(candidates, f.defaultModel, f.fallbackModel)
	candidates = append(candidates, lastResortModels...)

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, m := range candidates {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
