package extract

// newSections returns the template-shaped skeleton: every declared
// section key present up front, repeating sections as empty lists and the
// rest as empty mappings. Callers never observe a partially-keyed result.
func newSections(keys []string, repeating map[string]bool) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if repeating[k] {
			out[k] = []any{}
		} else {
			out[k] = map[string]any{}
		}
	}
	return out
}

// mergeSection inserts value under key following the merge rules:
// list-typed values extend (append-only); scalar and mapping values are
// first-writer-wins, where an empty mapping counts as unset and may be filled.
func mergeSection(sections map[string]any, key string, value any) {
	existing, ok := sections[key]
	if !ok {
		sections[key] = value
		return
	}

	switch ex := existing.(type) {
	case []any:
		if list, ok := value.([]any); ok {
			sections[key] = append(ex, list...)
		}
		// non-list onto a list: dropped, lists only ever extend
	case map[string]any:
		if len(ex) == 0 {
			sections[key] = value
		}
		// populated mapping stays: first writer wins
	default:
		// scalar already set: first writer wins
	}
}
