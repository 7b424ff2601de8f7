package report

import (
	"fmt"
	"sort"
)

// FlatRecord is one leaf field from a merged extraction, keyed by its
// dotted path (section.field or section[i].field).
type FlatRecord struct {
	Field      string
	Value      any
	Confidence any
	Source     any
}

// Flatten walks the merged section map into an ordered list of leaf
// records. Field records are unwrapped into value/confidence/source
// columns; bare scalars keep empty metadata.
func Flatten(sections map[string]any) []FlatRecord {
	keys := make([]string, 0, len(sections))
	for k := range sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []FlatRecord
	for _, key := range keys {
		out = flattenValue(out, key, sections[key])
	}
	return out
}

func flattenValue(out []FlatRecord, path string, raw any) []FlatRecord {
	switch v := raw.(type) {
	case map[string]any:
		if isFieldRecord(v) {
			return append(out, FlatRecord{
				Field:      path,
				Value:      v["value"],
				Confidence: v["confidence"],
				Source:     v["source_page"],
			})
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = flattenValue(out, path+"."+k, v[k])
		}
		return out
	case []any:
		for i, item := range v {
			out = flattenValue(out, fmt.Sprintf("%s[%d]", path, i), item)
		}
		return out
	default:
		return append(out, FlatRecord{Field: path, Value: raw})
	}
}

func isFieldRecord(m map[string]any) bool {
	if _, ok := m["value"]; !ok {
		return false
	}
	for k := range m {
		switch k {
		case "value", "confidence", "source_page":
		default:
			return false
		}
	}
	return true
}
