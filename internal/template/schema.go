package template

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// definitionSchema constrains template definition files: non-empty id,
// integer version, at least one section, each section with a snake_case
// key and at least one field.
func definitionSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"id", "name", "version", "sections"},
		"properties": map[string]any{
			"id":          map[string]any{"type": "string", "minLength": 1, "pattern": `^[a-z0-9_]+$`},
			"name":        map[string]any{"type": "string", "minLength": 1},
			"description": map[string]any{"type": "string"},
			"version":     map[string]any{"type": "integer", "minimum": 1.0},
			"sections": map[string]any{
				"type":     "array",
				"minItems": 1.0,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"key", "title", "fields"},
					"properties": map[string]any{
						"key":       map[string]any{"type": "string", "minLength": 1, "pattern": `^[a-z0-9_]+$`},
						"title":     map[string]any{"type": "string", "minLength": 1},
						"repeating": map[string]any{"type": "boolean"},
						"fields": map[string]any{
							"type":     "array",
							"minItems": 1.0,
							"items":    map[string]any{"type": "string", "minLength": 1},
						},
					},
				},
			},
		},
	}
}

// validateDefinition validates a raw template file against the definition schema.
func validateDefinition(raw []byte) error {
	b, err := json.Marshal(definitionSchema())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("template.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("template.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode template: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("template does not match schema: %w", err)
	}
	return nil
}
