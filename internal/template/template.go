package template

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/velocityai/fundextract/internal/common"
)

// Section is one logical group of fields within a template.
// Repeating sections produce a list of records (one per entity, e.g.
// portfolio company); non-repeating sections produce a single record.
type Section struct {
	Key       string   `json:"key"`
	Title     string   `json:"title"`
	Fields    []string `json:"fields"`
	Repeating bool     `json:"repeating,omitempty"`
}

// Template is a static schema naming the sections and fields to extract
// from a document. Templates are immutable after load.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int       `json:"version"`
	Sections    []Section `json:"sections"`
}

// Section returns the section with the given key, if present.
func (t Template) Section(key string) (Section, bool) {
	for _, s := range t.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return Section{}, false
}

// FieldCount returns the number of declared leaf fields across sections.
func (t Template) FieldCount() int {
	n := 0
	for _, s := range t.Sections {
		n += len(s.Fields)
	}
	return n
}

// Registry holds the loaded templates, keyed by id.
type Registry struct {
	templates map[string]Template
	logger    *slog.Logger
}

// NewRegistry builds a registry containing the built-in default template
// plus any *.json templates found in dir (empty dir = built-ins only).
// Duplicate ids are a load error, not a silent overwrite.
func NewRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{templates: make(map[string]Template), logger: logger}

	r.templates[Default.ID] = Default

	if dir != "" {
		if err := r.loadDir(dir); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("template: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("template: read %s: %w", path, err)
		}
		t, err := Parse(raw)
		if err != nil {
			return fmt.Errorf("template: %s: %w", e.Name(), err)
		}
		if existing, ok := r.templates[t.ID]; ok && existing.ID != Default.ID {
			return common.NewAppError("TEMPLATE_DUPLICATE",
				fmt.Sprintf("template id %q defined more than once", t.ID), common.ErrInvalidInput)
		}
		r.templates[t.ID] = t
		r.logger.Info("template.loaded", "id", t.ID, "version", t.Version, "sections", len(t.Sections))
	}
	return nil
}

// Parse decodes and validates a single template definition.
func Parse(raw []byte) (Template, error) {
	if err := validateDefinition(raw); err != nil {
		return Template{}, err
	}
	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return Template{}, fmt.Errorf("decode: %w", err)
	}
	seen := make(map[string]struct{}, len(t.Sections))
	for _, s := range t.Sections {
		if _, dup := seen[s.Key]; dup {
			return Template{}, common.NewAppError("TEMPLATE_DUPLICATE_SECTION",
				fmt.Sprintf("section key %q repeated", s.Key), common.ErrInvalidInput)
		}
		seen[s.Key] = struct{}{}
	}
	return t, nil
}

// Get returns the template by id.
func (r *Registry) Get(id string) (Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return Template{}, common.NewAppError("TEMPLATE_NOT_FOUND",
			fmt.Sprintf("unknown template id %q", id), common.ErrNotFound)
	}
	return t, nil
}

// List returns all templates sorted by id.
func (r *Registry) List() []Template {
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
