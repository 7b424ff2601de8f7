package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/velocityai/fundextract/internal/history"
)

func handleDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reportID := chi.URLParam(r, "reportID")

		// The ID must be a bare xlsx filename, not a path.
		if reportID != filepath.Base(reportID) || !strings.HasSuffix(reportID, ".xlsx") {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid report id")
			return
		}

		path := filepath.Join(deps.OutputDir, reportID)
		if _, err := os.Stat(path); err != nil {
			httpError(w, http.StatusNotFound, "not_found", "report not found")
			return
		}

		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+reportID+`"`)
		http.ServeFile(w, r, path)
	}
}

type templateSummary struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Version  int              `json:"version"`
	Sections []sectionSummary `json:"sections"`
}

type sectionSummary struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	Fields    int    `json:"fields"`
	Repeating bool   `json:"repeating"`
}

func handleListTemplates(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpls := deps.Registry.List()
		out := make([]templateSummary, 0, len(tpls))
		for _, tpl := range tpls {
			ts := templateSummary{ID: tpl.ID, Name: tpl.Name, Version: tpl.Version}
			for _, sec := range tpl.Sections {
				ts.Sections = append(ts.Sections, sectionSummary{
					Key:       sec.Key,
					Title:     sec.Title,
					Fields:    len(sec.Fields),
					Repeating: sec.Repeating,
				})
			}
			out = append(out, ts)
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": out})
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.History.List(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		if sessions == nil {
			sessions = []history.Summary{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		msgs, err := deps.History.Messages(r.Context(), sessionID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}
		if msgs == nil {
			msgs = []history.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sessionID,
			"messages":   msgs,
		})
	}
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		anyConfigured := false
		for _, p := range deps.Providers {
			if p.Configured {
				anyConfigured = true
				break
			}
		}
		status := "ok"
		if !anyConfigured {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    status,
			"providers": deps.Providers,
		})
	}
}
