package extract

import (
	"math"
	"strings"

	"github.com/velocityai/fundextract/internal/template"
)

// sentinels are field values that count as "nothing extracted".
var sentinels = map[string]struct{}{
	"":                        {},
	strings.ToLower(Sentinel): {},
	"null":                    {},
	"none":                    {},
	"n/a":                     {},
	"na":                      {},
	"-":                       {},
}

// Score walks the merged sections against the template and fills in the
// derived metadata: leaf counts, coverage percentage, and the average of
// the model's self-reported confidences. Coverage is a completeness
// metric only; it says nothing about whether extracted values are right.
func Score(m *Merged, tpl template.Template) {
	total, filled := 0, 0
	confSum, confN := 0.0, 0

	for _, sec := range tpl.Sections {
		raw := m.Sections[sec.Key]

		if sec.Repeating {
			records, _ := raw.([]any)
			if len(records) == 0 {
				// Empty repeating section: declared fields count once, unfilled.
				total += len(sec.Fields)
				continue
			}
			for _, r := range records {
				rec, _ := r.(map[string]any)
				for _, f := range sec.Fields {
					total++
					v, conf, hasConf := leafValue(rec, f)
					if isFilled(v) {
						filled++
					}
					if hasConf {
						confSum += conf
						confN++
					}
				}
			}
			continue
		}

		rec, _ := raw.(map[string]any)
		for _, f := range sec.Fields {
			total++
			v, conf, hasConf := leafValue(rec, f)
			if isFilled(v) {
				filled++
			}
			if hasConf {
				confSum += conf
				confN++
			}
		}
	}

	m.TotalFields = total
	m.FilledFields = filled
	if total > 0 {
		m.CoveragePct = round1(float64(filled) / float64(total) * 100)
	}
	if confN > 0 {
		m.AvgConfidence = round1(confSum / float64(confN))
	}
}

// leafValue resolves one declared field inside a section record. Fields
// may be {value, confidence, source_page} records or bare scalars.
func leafValue(rec map[string]any, field string) (value any, confidence float64, hasConfidence bool) {
	if rec == nil {
		return nil, 0, false
	}
	raw, ok := rec[field]
	if !ok {
		return nil, 0, false
	}
	if fr, ok := raw.(map[string]any); ok {
		if v, ok := fr["value"]; ok {
			conf, hasConf := asConfidence(fr["confidence"])
			return v, conf, hasConf
		}
	}
	return raw, 0, false
}

// asConfidence accepts the 0-100 scale the prompt asks for, tolerating
// models that answer on 0-1 instead.
func asConfidence(raw any) (float64, bool) {
	f, ok := raw.(float64)
	if !ok {
		return 0, false
	}
	if f < 0 {
		f = 0
	}
	if f <= 1.0 {
		f *= 100
	}
	if f > 100 {
		f = 100
	}
	return f, true
}

func isFilled(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		_, sentinel := sentinels[strings.ToLower(strings.TrimSpace(t))]
		return !sentinel
	case float64, bool:
		return true
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
