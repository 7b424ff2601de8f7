// Package report renders merged extractions into XLSX workbooks: an
// executive summary, one sheet per template section, and a flattened raw
// data sheet. Section sheets always carry their headers so downstream
// consumers see a stable schema even for empty extractions.
package report

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/velocityai/fundextract/internal/extract"
	"github.com/velocityai/fundextract/internal/template"
)

const maxColWidth = 50

// Renderer writes extraction workbooks under outputDir.
type Renderer struct {
	outputDir string
	logger    *slog.Logger
}

// NewRenderer creates a renderer rooted at outputDir.
func NewRenderer(outputDir string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{outputDir: outputDir, logger: logger}
}

// Filename builds the deterministic report name for one run.
func Filename(sessionID, templateID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.xlsx", sessionID, templateID, at.UTC().Format("20060102T150405"))
}

// Render writes one workbook for the batch and returns its full path.
func (r *Renderer) Render(results []extract.DocumentResult, tpl template.Template, filename string) (string, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF", Size: 12},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"366092"}},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return "", fmt.Errorf("create header style: %w", err)
	}

	if err := r.summarySheet(f, results, tpl, headerStyle); err != nil {
		return "", err
	}
	for _, sec := range tpl.Sections {
		if err := r.sectionSheet(f, results, sec, headerStyle); err != nil {
			return "", err
		}
	}
	if err := r.rawSheet(f, results, headerStyle); err != nil {
		return "", err
	}

	// The default sheet is replaced by the summary sheet.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("delete default sheet: %w", err)
	}

	path := filepath.Join(r.outputDir, filename)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}

	r.logger.Info("report.render.ok",
		"path", path,
		"documents", len(results),
		"sheets", len(tpl.Sections)+2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return path, nil
}

func (r *Renderer) summarySheet(f *excelize.File, results []extract.DocumentResult, tpl template.Template, headerStyle int) error {
	const sheet = "Executive Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	rows := [][]any{
		{"Fund Data Extraction Report"},
		{"Generated", time.Now().UTC().Format("2006-01-02 15:04:05")},
		{"Template", fmt.Sprintf("%s (v%d)", tpl.Name, tpl.Version)},
		{"Documents", len(results)},
		{},
		{"Filename", "Status", "Coverage %", "Avg Confidence", "Extraction Method", "Pages", "Error"},
	}
	for _, res := range results {
		row := []any{res.Filename, res.Status}
		if res.Data != nil {
			row = append(row, res.Data.CoveragePct, res.Data.AvgConfidence)
		} else {
			row = append(row, "", "")
		}
		row = append(row, res.Info.Method, res.Info.PageCount, res.Error)
		rows = append(rows, row)
	}

	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	styleHeaderRow(f, sheet, 6, 7, headerStyle)
	autosize(f, sheet, rows)
	return nil
}

// sectionSheet writes one sheet per template section: one row per
// document (or per repeated record), one column per declared field.
// Headers are always written, even with no data rows.
func (r *Renderer) sectionSheet(f *excelize.File, results []extract.DocumentResult, sec template.Section, headerStyle int) error {
	sheet := sheetName(sec.Title)
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := append([]string{"Filename"}, sec.Fields...)
	rows := [][]any{toAnyRow(headers)}

	for _, res := range results {
		if res.Data == nil {
			continue
		}
		raw := res.Data.Sections[sec.Key]
		if sec.Repeating {
			records, _ := raw.([]any)
			for _, rec := range records {
				m, _ := rec.(map[string]any)
				rows = append(rows, recordRow(res.Filename, m, sec.Fields))
			}
		} else {
			m, _ := raw.(map[string]any)
			if len(m) > 0 {
				rows = append(rows, recordRow(res.Filename, m, sec.Fields))
			}
		}
	}

	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	styleHeaderRow(f, sheet, 1, len(headers), headerStyle)
	autosize(f, sheet, rows)
	return nil
}

func (r *Renderer) rawSheet(f *excelize.File, results []extract.DocumentResult, headerStyle int) error {
	const sheet = "Raw Extraction Data"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	rows := [][]any{{"Filename", "Field", "Value", "Confidence", "Source Page"}}
	for _, res := range results {
		if res.Data == nil {
			continue
		}
		for _, fr := range Flatten(res.Data.Sections) {
			rows = append(rows, []any{res.Filename, fr.Field, fr.Value, fr.Confidence, fr.Source})
		}
	}

	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	styleHeaderRow(f, sheet, 1, 5, headerStyle)
	autosize(f, sheet, rows)
	return nil
}

func recordRow(filename string, rec map[string]any, fields []string) []any {
	row := make([]any, 0, len(fields)+1)
	row = append(row, filename)
	for _, field := range fields {
		row = append(row, cellValue(rec[field]))
	}
	return row
}

// cellValue unwraps {value, confidence, source_page} records to their value.
func cellValue(raw any) any {
	if m, ok := raw.(map[string]any); ok {
		if v, ok := m["value"]; ok {
			return v
		}
		return ""
	}
	return raw
}

func toAnyRow(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func styleHeaderRow(f *excelize.File, sheet string, row, cols, style int) {
	from, _ := excelize.CoordinatesToCellName(1, row)
	to, _ := excelize.CoordinatesToCellName(cols, row)
	_ = f.SetCellStyle(sheet, from, to, style)
}

// autosize widens columns to fit content, capped so one long value
// doesn't blow up the layout.
func autosize(f *excelize.File, sheet string, rows [][]any) {
	widths := map[int]int{}
	for _, row := range rows {
		for j, v := range row {
			if n := len(fmt.Sprintf("%v", v)); n > widths[j] {
				widths[j] = n
			}
		}
	}
	for j, w := range widths {
		col, _ := excelize.ColumnNumberToName(j + 1)
		width := float64(w + 2)
		if width > maxColWidth {
			width = maxColWidth
		}
		_ = f.SetColWidth(sheet, col, col, width)
	}
}

// sheetName truncates to the 31-char Excel limit.
func sheetName(title string) string {
	if len(title) > 31 {
		return title[:31]
	}
	return title
}
