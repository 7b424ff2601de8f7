// Package server exposes the extraction service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/velocityai/fundextract/internal/extract"
	"github.com/velocityai/fundextract/internal/history"
	"github.com/velocityai/fundextract/internal/pdftext"
	"github.com/velocityai/fundextract/internal/template"
)

// TextExtractor pulls raw text out of a PDF on disk.
type TextExtractor interface {
	Extract(ctx context.Context, path string) pdftext.Result
}

// DocumentExtractor runs the full section-by-section LLM extraction for
// one document against one template.
type DocumentExtractor interface {
	Extract(ctx context.Context, docText string, tpl template.Template) (extract.Merged, error)
}

// ReportRenderer writes a workbook for a batch and returns its path.
type ReportRenderer interface {
	Render(results []extract.DocumentResult, tpl template.Template, filename string) (string, error)
}

// ProviderStatus is the health-endpoint view of one configured backend.
type ProviderStatus struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	Configured bool   `json:"configured"`
}

type AppDeps struct {
	Registry  *template.Registry
	Text      TextExtractor
	Extractor DocumentExtractor
	Renderer  ReportRenderer
	History   *history.Store
	Providers []ProviderStatus
	OutputDir string
	Logger    *slog.Logger
}

// NewHandler builds the /api router.
func NewHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/extract", handleExtract(deps))
		r.Get("/download/{reportID}", handleDownload(deps))
		r.Get("/templates", handleListTemplates(deps))
		r.Get("/history", handleListSessions(deps))
		r.Get("/history/{sessionID}", handleGetSession(deps))
		r.Get("/health", handleHealth(deps))
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
