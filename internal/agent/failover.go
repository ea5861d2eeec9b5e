package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/soyeahso/lucai/internal/llm"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/metrics"
)

// FailoverClient wraps an LLM registry to try fallback providers on failure.
// It satisfies llm.Client.
type FailoverClient struct {
	registry  *llm.Registry
	primary   string
	fallbacks []string
	metrics   *metrics.Metrics
	log       *logging.Logger
}

// NewFailoverClient creates a client that tries the primary provider first,
// then falls back through the list on retryable errors (401, 429, 5xx).
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, m *metrics.Metrics, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		metrics:   m,
		log:       log.Sub("failover"),
	}
}

// Name returns the primary provider name.
func (f *FailoverClient) Name() string { return f.primary }

func (f *FailoverClient) candidates() []string {
	return append([]string{f.primary}, f.fallbacks...)
}

// Complete tries the primary provider, falling back on retryable errors.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for _, name := range f.candidates() {
		client, err := f.registry.Resolve(name)
		if err != nil {
			f.log.Debug().Str("provider", name).Err(err).Msg("no provider, skipping")
			lastErr = err
			continue
		}

		start := time.Now()
		resp, err := client.Complete(ctx, req)
		f.metrics.ProviderCall(client.Name(), "complete", time.Since(start), err)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if ctx.Err() == nil && isRetryable(err) {
			f.log.Warn().
				Str("provider", client.Name()).
				Err(err).
				Msg("retryable error, trying next provider")
			continue
		}

		// Non-retryable error, don't try more providers
		return nil, err
	}

	return nil, lastErr
}

// Stream tries the primary provider for streaming, with failover. Only the
// opening of the stream fails over; errors inside an open stream are
// delivered as error events.
func (f *FailoverClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	var lastErr error
	for _, name := range f.candidates() {
		client, err := f.registry.Resolve(name)
		if err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		ch, err := client.Stream(ctx, req)
		if err == nil {
			return f.observe(ctx, client.Name(), start, ch), nil
		}
		f.metrics.ProviderCall(client.Name(), "stream", time.Since(start), err)

		lastErr = err
		if ctx.Err() == nil && isRetryable(err) {
			f.log.Warn().
				Str("provider", client.Name()).
				Err(err).
				Msg("retryable stream error, trying next provider")
			continue
		}

		return nil, err
	}

	return nil, lastErr
}

// observe relays a provider stream and records its duration once it ends.
// If ctx is cancelled the rest of the provider stream is drained.
func (f *FailoverClient) observe(ctx context.Context, provider string, start time.Time, in <-chan llm.StreamEvent) <-chan llm.StreamEvent {
	if f.metrics == nil {
		return in
	}
	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		var err error
		for ev := range in {
			if ev.Type == llm.EventError {
				err = errors.New(ev.Error)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				err = ctx.Err()
				for range in {
				}
			}
		}
		f.metrics.ProviderCall(provider, "stream", time.Since(start), err)
	}()
	return out
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 429, 500, 502, 503, 529:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout")
}
