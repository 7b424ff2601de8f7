package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/velocityai/fundextract/internal/sanitize"
)

// Completer executes one prompt against an LLM backend.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Adapter wraps one backend with the full per-provider policy: rate gate,
// per-call timeout, classified retry with backoff, and response
// sanitization. Exhausted retries yield an empty result plus the last
// error so the caller can decide on provider fallback; the adapter itself
// never panics a section.
type Adapter struct {
	completer Completer
	gate      *Gate
	retry     RetryPolicy
	timeout   time.Duration
	log       *slog.Logger
}

// NewAdapter assembles the policy around a backend. gate may be shared
// across adapters when backends share a quota; it must not be nil.
func NewAdapter(c Completer, gate *Gate, retry RetryPolicy, timeout time.Duration, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Adapter{completer: c, gate: gate, retry: retry, timeout: timeout, log: logger}
}

// Name identifies the wrapped backend.
func (a *Adapter) Name() string { return a.completer.Name() }

// Extract runs the prompt and sanitizes the completion into structured
// data. A sanitizer-empty result is a soft failure: it returns an empty
// map with a nil error and does not consume retries. The returned map is
// never nil.
func (a *Adapter) Extract(ctx context.Context, prompt string, maxTokens int) (map[string]any, error) {
	var content string

	err := a.retry.Do(ctx, a.log, func(ctx context.Context) error {
		if err := a.gate.Acquire(ctx); err != nil {
			return err
		}
		defer a.gate.Release()

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		out, err := a.completer.Complete(callCtx, prompt, maxTokens)
		if err != nil {
			return err
		}
		content = out
		return nil
	})
	if err != nil {
		a.log.Warn("provider.extract.exhausted",
			"provider", a.completer.Name(),
			"class", Classify(err),
			"error", err,
		)
		return map[string]any{}, err
	}

	result, parsed := sanitize.Value(content)
	m, ok := result.(map[string]any)
	if !ok {
		// Top-level arrays are wrapped so section merging always sees a map.
		m = map[string]any{"items": result}
	}
	if !parsed {
		a.log.Warn("provider.extract.unparseable",
			"provider", a.completer.Name(),
			"content_len", len(content),
		)
		return map[string]any{}, nil
	}
	return m, nil
}
