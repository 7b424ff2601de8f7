package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/velocityai/fundextract/internal/template"
)

// Sentinel is the value the model must emit for fields it cannot find.
// Coverage scoring treats it as unfilled.
const Sentinel = "Not found"

// BuildSectionPrompt composes the extraction prompt for one template
// section: a truncated document prefix, the expected field list, and
// strict formatting rules. The document prefix is bounded by charBudget
// to respect model context limits.
func BuildSectionPrompt(docText string, tpl template.Template, sec template.Section, charBudget int) string {
	if charBudget <= 0 {
		charBudget = 25000
	}

	var b strings.Builder
	b.WriteString("You are a highly accurate financial AI specializing in Private Equity fund data.\n\n")
	b.WriteString("TASK:\n")
	b.WriteString("- Extract ONLY the fields listed below for the section \"")
	b.WriteString(sec.Title)
	b.WriteString("\" of the template \"")
	b.WriteString(tpl.Name)
	b.WriteString("\". Do NOT invent extra fields.\n")
	b.WriteString("- For each field return an object {\"value\": ..., \"confidence\": <number 0-100>, \"source_page\": \"...\"}.\n")
	b.WriteString("- If a value is missing, set value = \"" + Sentinel + "\" and confidence = 0. Never omit a listed field.\n")
	b.WriteString("- Preserve units for monetary values (75M, 980.0M) and percentages (25.0%).\n")
	b.WriteString("- Standardize dates to \"Month YYYY\" (e.g., \"December 2021\").\n")
	b.WriteString("- Include full page info in 'source_page' (e.g., \"Page 1, opening letter\").\n")

	b.WriteString("\nFIELDS:\n")
	for _, f := range sec.Fields {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}

	b.WriteString("\nDOCUMENT:\n")
	b.WriteString(truncate(docText, charBudget))

	b.WriteString("\n\nOUTPUT:\n")
	if sec.Repeating {
		b.WriteString("Return ONLY a valid JSON array, one object per entity, each object mapping every listed field name to its {value, confidence, source_page} record. Remove duplicate entities. No commentary, no markdown fences.\n")
	} else {
		b.WriteString("Return ONLY a single valid JSON object mapping every listed field name to its {value, confidence, source_page} record. Never return a list. No commentary, no markdown fences.\n")
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back off to a rune boundary so the cut never splits a multibyte
	// character and produces invalid UTF-8.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n…(truncated)"
}
