package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/velocityai/fundextract/internal/common"
	"github.com/velocityai/fundextract/internal/template"
)

// callSeq is a recorder shared between stubs so tests can assert the
// order in which providers were tried.
type callSeq struct {
	mu    sync.Mutex
	calls []callRecord
}

type callRecord struct {
	provider string
	section  string
}

func (c *callSeq) record(provider, section string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, callRecord{provider: provider, section: section})
}

// firstIndex returns the position of the first call by provider for
// section, or -1.
func (c *callSeq) firstIndex(provider, section string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.calls {
		if r.provider == provider && r.section == section {
			return i
		}
	}
	return -1
}

// stubExtractor records the prompts it receives and replays canned
// responses keyed by section title (every prompt embeds the title).
type stubExtractor struct {
	name      string
	mu        sync.Mutex
	calls     []string
	responses map[string]map[string]any
	err       error
	seq       *callSeq
}

func (s *stubExtractor) Name() string { return s.name }

func (s *stubExtractor) Extract(ctx context.Context, prompt string, maxTokens int) (map[string]any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, prompt)
	s.mu.Unlock()
	if s.seq != nil {
		for _, sec := range template.Default.Sections {
			if strings.Contains(prompt, `"`+sec.Title+`"`) {
				s.seq.record(s.name, sec.Title)
			}
		}
	}
	if s.err != nil {
		return map[string]any{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for title, resp := range s.responses {
		if strings.Contains(prompt, `"`+title+`"`) {
			return resp, nil
		}
	}
	return map[string]any{}, nil
}

func (s *stubExtractor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func testConfig() common.ExtractConfig {
	return common.ExtractConfig{
		PromptCharBudget: 25000,
		SectionBatchSize: 3,
		BatchPause:       time.Millisecond,
		MaxTokens:        4000,
	}
}

func TestOrchestrator_NoProviders(t *testing.T) {
	o := NewOrchestrator(nil, nil, testConfig(), nil)
	_, err := o.Extract(context.Background(), "doc", template.Default)
	if !errors.Is(err, common.ErrNoProviders) {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}

func TestOrchestrator_FallbackOnlyPromoted(t *testing.T) {
	fb := &stubExtractor{name: "groq", responses: map[string]map[string]any{
		"Portfolio Summary": {"fund_name": "Apex"},
	}}
	o := NewOrchestrator(nil, fb, testConfig(), nil)

	merged, err := o.Extract(context.Background(), "doc", template.Default)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	sec := merged.Sections["portfolio_summary"].(map[string]any)
	if sec["fund_name"] != "Apex" {
		t.Errorf("got %v", sec)
	}
}

func TestOrchestrator_PrimaryBeforeFallback(t *testing.T) {
	seq := &callSeq{}
	primary := &stubExtractor{name: "mistral", seq: seq, err: errors.New("boom")}
	fb := &stubExtractor{name: "groq", seq: seq, responses: map[string]map[string]any{
		"Portfolio Summary":       {"fund_name": "Apex"},
		"Schedule of Investments": {"items": []any{map[string]any{"company_name": "Acme"}}},
		"Fund Metadata":           {"reporting_date": "December 2021"},
	}}
	o := NewOrchestrator(primary, fb, testConfig(), nil)

	merged, err := o.Extract(context.Background(), "doc", template.Default)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}

	n := len(template.Default.Sections)
	if primary.callCount() != n {
		t.Errorf("primary calls = %d, want %d", primary.callCount(), n)
	}
	if fb.callCount() != n {
		t.Errorf("fallback calls = %d, want %d", fb.callCount(), n)
	}
	for _, sec := range template.Default.Sections {
		if merged.Providers[sec.Key] != "groq" {
			t.Errorf("provider for %s = %q, want groq", sec.Key, merged.Providers[sec.Key])
		}
		pi := seq.firstIndex("mistral", sec.Title)
		fi := seq.firstIndex("groq", sec.Title)
		if pi < 0 || fi < 0 {
			t.Fatalf("section %q missing from call sequence (mistral=%d, groq=%d)", sec.Title, pi, fi)
		}
		if pi > fi {
			t.Errorf("section %q: fallback called at %d before primary at %d", sec.Title, fi, pi)
		}
	}
	soi := merged.Sections["schedule_of_investments"].([]any)
	if len(soi) != 1 {
		t.Errorf("schedule_of_investments = %v", soi)
	}
}

func TestOrchestrator_AllSectionsPresentOnTotalFailure(t *testing.T) {
	primary := &stubExtractor{name: "mistral", err: errors.New("mistral: status 401: invalid api key")}
	fb := &stubExtractor{name: "groq", err: errors.New("groq: status 401: invalid api key")}
	o := NewOrchestrator(primary, fb, testConfig(), nil)

	merged, err := o.Extract(context.Background(), "doc", template.Default)
	if err == nil {
		t.Fatal("Extract() = nil error, want document-level failure")
	}
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "ALL_PROVIDERS_FAILED" {
		t.Fatalf("err = %v, want ALL_PROVIDERS_FAILED", err)
	}

	for _, sec := range template.Default.Sections {
		raw, ok := merged.Sections[sec.Key]
		if !ok {
			t.Fatalf("section %s missing", sec.Key)
		}
		if sec.Repeating {
			if list, ok := raw.([]any); !ok || len(list) != 0 {
				t.Errorf("section %s = %#v, want empty list", sec.Key, raw)
			}
		} else {
			if m, ok := raw.(map[string]any); !ok || len(m) != 0 {
				t.Errorf("section %s = %#v, want empty map", sec.Key, raw)
			}
		}
	}
	if merged.CoveragePct != 0 {
		t.Errorf("coverage = %v, want 0", merged.CoveragePct)
	}
}

func TestOrchestrator_EmptyAnswersAreNotDocumentError(t *testing.T) {
	// Providers that respond but yield nothing parseable degrade to
	// empty sections, not a failed document.
	primary := &stubExtractor{name: "mistral"}
	fb := &stubExtractor{name: "groq"}
	o := NewOrchestrator(primary, fb, testConfig(), nil)

	merged, err := o.Extract(context.Background(), "doc", template.Default)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	if merged.CoveragePct != 0 {
		t.Errorf("coverage = %v, want 0", merged.CoveragePct)
	}
	if len(merged.Sections) != len(template.Default.Sections) {
		t.Errorf("sections = %d, want %d", len(merged.Sections), len(template.Default.Sections))
	}
}

func TestOrchestrator_PartialFailureDegrades(t *testing.T) {
	// One section fills from the fallback while the rest error out on
	// both providers. The document still succeeds.
	primary := &stubExtractor{name: "mistral", err: errors.New("status 500")}
	fb := &stubExtractor{name: "groq", responses: map[string]map[string]any{
		"Portfolio Summary": {"fund_name": "Apex"},
	}}
	o := NewOrchestrator(primary, fb, testConfig(), nil)

	merged, err := o.Extract(context.Background(), "doc", template.Default)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	sec := merged.Sections["portfolio_summary"].(map[string]any)
	if sec["fund_name"] != "Apex" {
		t.Errorf("portfolio_summary = %v", sec)
	}
}

func TestShapeSection(t *testing.T) {
	repeating := template.Section{Key: "schedule_of_investments", Repeating: true, Fields: []string{"company_name"}}
	flat := template.Section{Key: "portfolio_summary", Fields: []string{"fund_name"}}

	tests := []struct {
		name string
		sec  template.Section
		in   map[string]any
		want func(any) bool
	}{
		{
			"repeating items wrapper", repeating,
			map[string]any{"items": []any{map[string]any{"company_name": "Acme"}}},
			func(v any) bool { l, ok := v.([]any); return ok && len(l) == 1 },
		},
		{
			"repeating nested under key", repeating,
			map[string]any{"schedule_of_investments": []any{map[string]any{"company_name": "Acme"}}},
			func(v any) bool { l, ok := v.([]any); return ok && len(l) == 1 },
		},
		{
			"repeating bare record", repeating,
			map[string]any{"company_name": "Acme"},
			func(v any) bool { l, ok := v.([]any); return ok && len(l) == 1 },
		},
		{
			"flat nested under key", flat,
			map[string]any{"portfolio_summary": map[string]any{"fund_name": "Apex"}},
			func(v any) bool { m, ok := v.(map[string]any); return ok && m["fund_name"] == "Apex" },
		},
		{
			"flat plain", flat,
			map[string]any{"fund_name": "Apex"},
			func(v any) bool { m, ok := v.(map[string]any); return ok && m["fund_name"] == "Apex" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shapeSection(tt.in, tt.sec)
			if !tt.want(got) {
				t.Errorf("shapeSection() = %#v", got)
			}
		})
	}
}

func TestMergeSection(t *testing.T) {
	sections := newSections([]string{"a", "b"}, map[string]bool{"a": true})

	mergeSection(sections, "a", []any{"x"})
	mergeSection(sections, "a", []any{"y"})
	if got := sections["a"].([]any); len(got) != 2 {
		t.Errorf("list merge = %v, want [x y]", got)
	}

	mergeSection(sections, "b", map[string]any{"k": "first"})
	mergeSection(sections, "b", map[string]any{"k": "second"})
	if got := sections["b"].(map[string]any); got["k"] != "first" {
		t.Errorf("map merge = %v, first writer should win", got)
	}
}

func TestMergeSection_EmptyMapIsUnset(t *testing.T) {
	sections := newSections([]string{"b"}, nil)
	mergeSection(sections, "b", map[string]any{})
	mergeSection(sections, "b", map[string]any{"k": "v"})
	if got := sections["b"].(map[string]any); got["k"] != "v" {
		t.Errorf("empty map should not block a later fill, got %v", got)
	}
}

func TestScore_Bounds(t *testing.T) {
	tpl := template.Template{Sections: []template.Section{
		{Key: "s", Fields: []string{"a", "b"}},
	}}

	m := Merged{Sections: map[string]any{"s": map[string]any{}}}
	Score(&m, tpl)
	if m.CoveragePct != 0 || m.TotalFields != 2 || m.FilledFields != 0 {
		t.Errorf("empty: coverage=%v total=%d filled=%d", m.CoveragePct, m.TotalFields, m.FilledFields)
	}

	m = Merged{Sections: map[string]any{"s": map[string]any{
		"a": map[string]any{"value": "x", "confidence": 90.0},
		"b": map[string]any{"value": "y", "confidence": 70.0},
	}}}
	Score(&m, tpl)
	if m.CoveragePct != 100 {
		t.Errorf("full: coverage = %v, want 100", m.CoveragePct)
	}
	if m.AvgConfidence != 80 {
		t.Errorf("avg confidence = %v, want 80", m.AvgConfidence)
	}
}

func TestScore_SentinelsUnfilled(t *testing.T) {
	tpl := template.Template{Sections: []template.Section{
		{Key: "s", Fields: []string{"a", "b", "c", "d"}},
	}}
	m := Merged{Sections: map[string]any{"s": map[string]any{
		"a": map[string]any{"value": "Not found", "confidence": 0.0},
		"b": map[string]any{"value": "N/A"},
		"c": map[string]any{"value": "75M", "confidence": 95.0},
		"d": "plain scalar",
	}}}
	Score(&m, tpl)
	if m.FilledFields != 2 {
		t.Errorf("filled = %d, want 2", m.FilledFields)
	}
	if m.CoveragePct != 50 {
		t.Errorf("coverage = %v, want 50", m.CoveragePct)
	}
}

func TestScore_RepeatingRecords(t *testing.T) {
	tpl := template.Template{Sections: []template.Section{
		{Key: "soi", Repeating: true, Fields: []string{"company_name", "status"}},
	}}
	m := Merged{Sections: map[string]any{"soi": []any{
		map[string]any{
			"company_name": map[string]any{"value": "Acme", "confidence": 88.0},
			"status":       map[string]any{"value": "Active", "confidence": 92.0},
		},
		map[string]any{
			"company_name": map[string]any{"value": "Globex", "confidence": 80.0},
			"status":       map[string]any{"value": "Not found", "confidence": 0.0},
		},
	}}}
	Score(&m, tpl)
	if m.TotalFields != 4 || m.FilledFields != 3 {
		t.Errorf("total=%d filled=%d, want 4/3", m.TotalFields, m.FilledFields)
	}
	if m.CoveragePct != 75 {
		t.Errorf("coverage = %v, want 75", m.CoveragePct)
	}
}

func TestScore_FractionalConfidenceScaled(t *testing.T) {
	tpl := template.Template{Sections: []template.Section{
		{Key: "s", Fields: []string{"a"}},
	}}
	m := Merged{Sections: map[string]any{"s": map[string]any{
		"a": map[string]any{"value": "x", "confidence": 0.9},
	}}}
	Score(&m, tpl)
	if m.AvgConfidence != 90 {
		t.Errorf("avg confidence = %v, want 90 (0-1 scale normalized)", m.AvgConfidence)
	}
}

func TestBuildSectionPrompt(t *testing.T) {
	sec := template.Default.Sections[0]
	p := BuildSectionPrompt("the document body", template.Default, sec, 25000)

	if !strings.Contains(p, `"Portfolio Summary"`) {
		t.Error("prompt missing section title")
	}
	for _, f := range sec.Fields {
		if !strings.Contains(p, "- "+f+"\n") {
			t.Errorf("prompt missing field %s", f)
		}
	}
	if !strings.Contains(p, Sentinel) {
		t.Error("prompt missing sentinel instruction")
	}
	if !strings.Contains(p, "Never return a list") {
		t.Error("flat section should forbid list output")
	}

	rp := BuildSectionPrompt("doc", template.Default, template.Default.Sections[1], 25000)
	if !strings.Contains(rp, "JSON array") {
		t.Error("repeating section should ask for an array")
	}
}

func TestBuildSectionPrompt_Truncation(t *testing.T) {
	doc := strings.Repeat("x", 1000)
	p := BuildSectionPrompt(doc, template.Default, template.Default.Sections[0], 100)
	if strings.Contains(p, strings.Repeat("x", 101)) {
		t.Error("document should be truncated to the budget")
	}
	if !strings.Contains(p, "(truncated)") {
		t.Error("truncation marker missing")
	}
}

func TestBuildSectionPrompt_TruncationKeepsValidUTF8(t *testing.T) {
	// OCR output is often wide runes. A cut landing mid-rune must back
	// off to the previous boundary instead of emitting invalid bytes.
	doc := strings.Repeat("€", 200)
	for budget := 95; budget <= 100; budget++ {
		p := BuildSectionPrompt(doc, template.Default, template.Default.Sections[0], budget)
		if !utf8.ValidString(p) {
			t.Fatalf("budget %d: prompt contains invalid UTF-8", budget)
		}
	}
}
