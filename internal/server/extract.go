package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/velocityai/fundextract/internal/extract"
	"github.com/velocityai/fundextract/internal/history"
	"github.com/velocityai/fundextract/internal/report"
	"github.com/velocityai/fundextract/internal/template"
)

const maxUploadSize = 50 << 20 // 50MB across all files

// ExtractResponse is the full answer for one extraction batch.
type ExtractResponse struct {
	SessionID   string                   `json:"session_id"`
	JobID       string                   `json:"job_id"`
	TemplateID  string                   `json:"template_id"`
	Results     []extract.DocumentResult `json:"results"`
	Summary     BatchSummary             `json:"summary"`
	ReportID    string                   `json:"report_id,omitempty"`
	DownloadURL string                   `json:"download_url,omitempty"`
}

// BatchSummary aggregates per-document outcomes.
type BatchSummary struct {
	Documents     int     `json:"documents"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	AvgCoverage   float64 `json:"avg_coverage_pct"`
	AvgConfidence float64 `json:"avg_confidence"`
}

func handleExtract(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart request: %v", err)
			return
		}

		templateID := r.FormValue("template_id")
		if templateID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "template_id is required")
			return
		}
		tpl, err := deps.Registry.Get(templateID)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown template %q", templateID)
			return
		}

		files := r.MultipartForm.File["files"]
		if len(files) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one file is required")
			return
		}
		// All files must look like PDFs before any provider call is made.
		for _, fh := range files {
			if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported file type: %s", fh.Filename)
				return
			}
		}

		sessionID := r.FormValue("session_id")
		if sessionID == "" {
			sessionID = uuid.New().String()
		}
		jobID := uuid.New().String()
		log := deps.Logger.With("session_id", sessionID, "job_id", jobID)

		start := time.Now()
		log.Info("extract.batch.start", "template", tpl.ID, "documents", len(files))

		results := make([]extract.DocumentResult, 0, len(files))
		for _, fh := range files {
			results = append(results, processDocument(r.Context(), deps, tpl, fh))
		}

		resp := ExtractResponse{
			SessionID:  sessionID,
			JobID:      jobID,
			TemplateID: tpl.ID,
			Results:    results,
			Summary:    summarize(results),
		}

		if deps.Renderer != nil {
			filename := report.Filename(sessionID, tpl.ID, time.Now())
			if _, err := deps.Renderer.Render(results, tpl, filename); err != nil {
				log.Error("extract.batch.report_failed", "error", err)
			} else {
				resp.ReportID = filename
				resp.DownloadURL = "/api/download/" + filename
			}
		}

		recordSession(r.Context(), deps, sessionID, files, resp)

		log.Info("extract.batch.ok",
			"succeeded", resp.Summary.Succeeded,
			"failed", resp.Summary.Failed,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		writeJSON(w, http.StatusOK, resp)
	}
}

// processDocument runs the text-extraction and LLM pipeline for one
// upload. Failures are captured in the result so sibling documents keep
// processing.
func processDocument(ctx context.Context, deps AppDeps, tpl template.Template, fh *multipart.FileHeader) extract.DocumentResult {
	res := extract.DocumentResult{Filename: fh.Filename, Status: extract.StatusError}

	path, cleanup, err := saveUpload(fh)
	if err != nil {
		res.Error = "failed to store upload: " + err.Error()
		return res
	}
	defer cleanup()

	text := deps.Text.Extract(ctx, path)
	res.Info = extract.ExtractionInfo{
		Method:    string(text.Method),
		CharCount: len(text.Text),
		PageCount: text.PageCount,
	}
	if !text.Success {
		res.Error = "no extractable text in document"
		return res
	}

	merged, err := deps.Extractor.Extract(ctx, text.Text, tpl)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Status = extract.StatusSuccess
	res.Data = &merged
	return res
}

func saveUpload(fh *multipart.FileHeader) (string, func(), error) {
	src, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "fundextract-*.pdf")
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", nil, err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", nil, err
	}
	path := dst.Name()
	return path, func() { os.Remove(path) }, nil
}

func summarize(results []extract.DocumentResult) BatchSummary {
	s := BatchSummary{Documents: len(results)}
	var covSum, confSum float64
	for _, res := range results {
		if res.Status == extract.StatusSuccess && res.Data != nil {
			s.Succeeded++
			covSum += res.Data.CoveragePct
			confSum += res.Data.AvgConfidence
		} else {
			s.Failed++
		}
	}
	if s.Succeeded > 0 {
		s.AvgCoverage = covSum / float64(s.Succeeded)
		s.AvgConfidence = confSum / float64(s.Succeeded)
	}
	return s
}

// recordSession appends the request and its outcome to the session log.
// History failures are logged, not surfaced: the extraction already
// succeeded from the caller's point of view.
func recordSession(ctx context.Context, deps AppDeps, sessionID string, files []*multipart.FileHeader, resp ExtractResponse) {
	if deps.History == nil {
		return
	}
	names := make([]string, len(files))
	for i, fh := range files {
		names[i] = fh.Filename
	}
	now := time.Now().UTC()

	userMsg := history.Message{
		Role:      "user",
		Content:   "Extract " + strings.Join(names, ", ") + " with template " + resp.TemplateID,
		Timestamp: now,
	}
	if err := deps.History.Append(ctx, sessionID, userMsg); err != nil {
		deps.Logger.Error("history.append.failed", "session_id", sessionID, "error", err)
		return
	}

	payload, err := json.Marshal(resp.Results)
	if err != nil {
		deps.Logger.Error("history.append.failed", "session_id", sessionID, "error", err)
		return
	}
	assistantMsg := history.Message{
		Role:      "assistant",
		Content:   summaryLine(resp.Summary),
		Timestamp: now,
		Results:   payload,
	}
	if err := deps.History.Append(ctx, sessionID, assistantMsg); err != nil {
		deps.Logger.Error("history.append.failed", "session_id", sessionID, "error", err)
	}
}

func summaryLine(s BatchSummary) string {
	return fmt.Sprintf("Processed %d document(s): %d succeeded, %d failed",
		s.Documents, s.Succeeded, s.Failed)
}
