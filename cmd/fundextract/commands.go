package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/velocityai/fundextract/internal/extract"
	"github.com/velocityai/fundextract/internal/report"
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf> [pdf...]",
	Short: "Extract fund data from PDFs and write an xlsx report",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		templateID, _ := cmd.Flags().GetString("template")
		return runExtract(cmd.Context(), templateID, args)
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List available extraction templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTemplates()
	},
}

func init() {
	extractCmd.Flags().String("template", "template_1", "extraction template id")
}

func runExtract(ctx context.Context, templateID string, paths []string) error {
	logger := slog.Default()

	a, err := buildApp(logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	tpl, err := a.deps.Registry.Get(templateID)
	if err != nil {
		return fmt.Errorf("unknown template %q", templateID)
	}

	results := make([]extract.DocumentResult, 0, len(paths))
	for _, path := range paths {
		res := extract.DocumentResult{Filename: filepath.Base(path), Status: extract.StatusError}

		text := a.deps.Text.Extract(ctx, path)
		res.Info = extract.ExtractionInfo{
			Method:    string(text.Method),
			CharCount: len(text.Text),
			PageCount: text.PageCount,
		}
		switch {
		case !text.Success:
			res.Error = "no extractable text in document"
		default:
			merged, err := a.deps.Extractor.Extract(ctx, text.Text, tpl)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Status = extract.StatusSuccess
				res.Data = &merged
			}
		}
		results = append(results, res)
	}

	filename := report.Filename("cli", tpl.ID, time.Now())
	path, err := a.deps.Renderer.Render(results, tpl, filename)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	out := map[string]any{
		"report":  path,
		"results": results,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runTemplates() error {
	logger := slog.Default()

	a, err := buildApp(logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, tpl := range a.deps.Registry.List() {
		fmt.Printf("%s\t%s (v%d)\n", tpl.ID, tpl.Name, tpl.Version)
		for _, sec := range tpl.Sections {
			kind := "fields"
			if sec.Repeating {
				kind = "repeating"
			}
			fmt.Printf("  %s\t%s\t%d %s\n", sec.Key, sec.Title, len(sec.Fields), kind)
		}
	}
	return nil
}
