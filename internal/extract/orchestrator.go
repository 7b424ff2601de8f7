package extract

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/velocityai/fundextract/internal/common"
	"github.com/velocityai/fundextract/internal/template"
)

// SectionExtractor is the provider adapter contract the orchestrator
// depends on: one prompt in, sanitized structured data out. An empty map
// with a nil error is a soft failure (unparseable output); a non-nil
// error means the adapter exhausted its own retries or hit a fatal error.
type SectionExtractor interface {
	Name() string
	Extract(ctx context.Context, prompt string, maxTokens int) (map[string]any, error)
}

// Orchestrator coordinates section-by-section extraction for one document
// against one template, with bounded parallel fan-out, per-section
// provider fallback, and merge + scoring of the result.
type Orchestrator struct {
	primary  SectionExtractor
	fallback SectionExtractor // may be nil

	cfg common.ExtractConfig
	log *slog.Logger
}

// NewOrchestrator wires the orchestrator. primary may be nil when only
// the fallback backend is configured; at least one must be non-nil for
// Extract to succeed.
func NewOrchestrator(primary, fallback SectionExtractor, cfg common.ExtractConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SectionBatchSize <= 0 {
		cfg.SectionBatchSize = 3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if primary == nil {
		primary, fallback = fallback, nil
	}
	return &Orchestrator{primary: primary, fallback: fallback, cfg: cfg, log: logger}
}

type sectionOutcome struct {
	key      string
	value    any
	provider string
	state    SectionState
	// err is the last hard error seen for this section (nil for success
	// and for soft failures, where a provider answered but nothing parsed).
	err error
}

// Extract runs every template section and returns the merged, scored
// extraction. Individual section failures degrade to empty sections.
// Hard errors are missing providers, context cancellation, and every
// section erroring out on every configured backend.
func (o *Orchestrator) Extract(ctx context.Context, docText string, tpl template.Template) (Merged, error) {
	if o.primary == nil {
		return Merged{}, common.NewAppError("NO_PROVIDERS",
			"no LLM providers configured; set MISTRAL_API_KEY or GROQ_API_KEY", common.ErrNoProviders)
	}

	keys := make([]string, len(tpl.Sections))
	repeating := make(map[string]bool, len(tpl.Sections))
	for i, s := range tpl.Sections {
		keys[i] = s.Key
		repeating[s.Key] = s.Repeating
	}

	merged := Merged{
		Sections:  newSections(keys, repeating),
		Providers: make(map[string]string, len(keys)),
	}
	for _, k := range keys {
		merged.Providers[k] = ""
	}

	var mu sync.Mutex
	var succeeded, hardFailed int
	var lastErr error
	start := time.Now()

	// Sections run in fixed-size batches; the group bounds in-batch
	// parallelism and an explicit pause between batches keeps total call
	// rate under provider per-minute quotas.
	for bi := 0; bi < len(tpl.Sections); bi += o.cfg.SectionBatchSize {
		end := bi + o.cfg.SectionBatchSize
		if end > len(tpl.Sections) {
			end = len(tpl.Sections)
		}
		batch := tpl.Sections[bi:end]

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.SectionBatchSize)

		for _, sec := range batch {
			sec := sec
			g.Go(func() error {
				out := o.extractSection(gCtx, docText, tpl, sec)
				mu.Lock()
				mergeSection(merged.Sections, out.key, out.value)
				merged.Providers[out.key] = out.provider
				if out.state == StateSuccess {
					succeeded++
				} else if out.err != nil {
					hardFailed++
					lastErr = out.err
				}
				mu.Unlock()
				o.log.Debug("extract.section.done", "section", out.key, "state", out.state)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return merged, err
		}
		if ctx.Err() != nil {
			return merged, ctx.Err()
		}

		if end < len(tpl.Sections) && o.cfg.BatchPause > 0 {
			if err := sleepCtx(ctx, o.cfg.BatchPause); err != nil {
				return merged, err
			}
		}
	}

	Score(&merged, tpl)

	// Every section erroring out on every configured backend is a
	// document-level failure (bad keys, provider outage), not a valid
	// empty extraction. Partial failures still degrade to empty sections.
	if succeeded == 0 && hardFailed == len(tpl.Sections) {
		o.log.Error("extract.document.failed",
			"template", tpl.ID,
			"sections", len(tpl.Sections),
			"error", lastErr,
		)
		return merged, common.NewAppError("ALL_PROVIDERS_FAILED",
			"all LLM providers failed for every section", lastErr)
	}

	o.log.Info("extract.document.ok",
		"template", tpl.ID,
		"sections", len(tpl.Sections),
		"total_fields", merged.TotalFields,
		"coverage_pct", merged.CoveragePct,
		"avg_confidence", merged.AvgConfidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return merged, nil
}

// extractSection walks the per-section state machine: primary first, then
// the fallback backend for this section only. A section that fails both
// resolves to an empty value rather than aborting the document.
func (o *Orchestrator) extractSection(ctx context.Context, docText string, tpl template.Template, sec template.Section) sectionOutcome {
	prompt := BuildSectionPrompt(docText, tpl, sec, o.cfg.PromptCharBudget)

	res, err := o.primary.Extract(ctx, prompt, o.cfg.MaxTokens)
	if err == nil && len(res) > 0 {
		o.log.Info("extract.section.ok", "section", sec.Key, "provider", o.primary.Name())
		return sectionOutcome{key: sec.Key, value: shapeSection(res, sec), provider: o.primary.Name(), state: StateSuccess}
	}

	o.log.Warn("extract.section.primary_failed",
		"section", sec.Key,
		"provider", o.primary.Name(),
		"empty", err == nil,
		"error", err,
	)

	if o.fallback == nil {
		return sectionOutcome{key: sec.Key, value: emptySection(sec), state: StateFailedPrimary, err: err}
	}

	res, err = o.fallback.Extract(ctx, prompt, o.cfg.MaxTokens)
	if err == nil && len(res) > 0 {
		o.log.Info("extract.section.ok", "section", sec.Key, "provider", o.fallback.Name(), "failover", true)
		return sectionOutcome{key: sec.Key, value: shapeSection(res, sec), provider: o.fallback.Name(), state: StateSuccess}
	}

	o.log.Warn("extract.section.fallback_failed",
		"section", sec.Key,
		"provider", o.fallback.Name(),
		"empty", err == nil,
		"error", err,
	)
	return sectionOutcome{key: sec.Key, value: emptySection(sec), state: StateFailedFallback, err: err}
}

func emptySection(sec template.Section) any {
	if sec.Repeating {
		return []any{}
	}
	return map[string]any{}
}

// shapeSection normalizes an adapter result to the section's declared
// shape. Repeating sections expect a list; the sanitizer wraps top-level
// arrays under "items", and some models nest the payload under the
// section key.
func shapeSection(res map[string]any, sec template.Section) any {
	if nested, ok := res[sec.Key]; ok {
		switch t := nested.(type) {
		case []any:
			if sec.Repeating {
				return t
			}
		case map[string]any:
			if !sec.Repeating && len(res) == 1 {
				return t
			}
		}
	}

	if sec.Repeating {
		if items, ok := res["items"].([]any); ok {
			return items
		}
		// Single record returned bare: treat as a one-element list.
		return []any{res}
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
