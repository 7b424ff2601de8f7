package extract

// Merged is the union of all section results for one document plus
// derived metadata. Section keys are template-defined and always present,
// even when a section's extraction failed.
type Merged struct {
	Sections map[string]any `json:"sections"`

	TotalFields  int     `json:"total_fields"`
	FilledFields int     `json:"filled_fields"`
	// CoveragePct is structural completeness: filled leaves / total leaves.
	CoveragePct float64 `json:"coverage_pct"`
	// AvgConfidence averages the model's self-reported per-field
	// confidence. It is a separate, untrusted metric; it is never derived
	// from coverage and coverage is never derived from it.
	AvgConfidence float64 `json:"avg_confidence"`

	// Providers records which backend produced each section ("" = none).
	Providers map[string]string `json:"providers"`
}

// SectionState tracks one section through the dispatch state machine.
type SectionState string

const (
	StatePending        SectionState = "pending"
	StateInFlight       SectionState = "in_flight"
	StateSuccess        SectionState = "success"
	StateFailedPrimary  SectionState = "failed_primary"
	StateFailedFallback SectionState = "failed_fallback"
)

// ExtractionInfo describes how the document text was obtained.
type ExtractionInfo struct {
	Method    string `json:"method"`
	CharCount int    `json:"char_count"`
	PageCount int    `json:"page_count"`
}

// DocumentResult is the per-document entry in a batch response.
type DocumentResult struct {
	Filename string         `json:"filename"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Data     *Merged        `json:"data,omitempty"`
	Info     ExtractionInfo `json:"extraction_info"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)
