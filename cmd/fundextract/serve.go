package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/velocityai/fundextract/internal/common"
	"github.com/velocityai/fundextract/internal/extract"
	"github.com/velocityai/fundextract/internal/history"
	"github.com/velocityai/fundextract/internal/pdftext"
	"github.com/velocityai/fundextract/internal/provider"
	"github.com/velocityai/fundextract/internal/report"
	"github.com/velocityai/fundextract/internal/server"
	"github.com/velocityai/fundextract/internal/template"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the extraction HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// app bundles the wired service and everything that needs closing.
type app struct {
	cfg     *common.Config
	deps    server.AppDeps
	store   *history.Store
	clients []*provider.ChatClient
}

func (a *app) Close() {
	for _, c := range a.clients {
		c.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func buildApp(logger *slog.Logger, withHistory bool) (*app, error) {
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry, err := template.NewRegistry(cfg.Storage.TemplateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	outputDir := filepath.Join(cfg.Storage.DataDir, "outputs")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	a := &app{cfg: cfg}

	if withHistory {
		store, err := history.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		a.store = store
	}

	primary, statuses := a.buildAdapter("mistral", cfg.Providers.Mistral, logger, nil)
	fallback, statuses := a.buildAdapter("groq", cfg.Providers.Groq, logger, statuses)

	a.deps = server.AppDeps{
		Registry:  registry,
		Text:      pdftext.New(cfg.OCR, nil, logger),
		Extractor: extract.NewOrchestrator(primary, fallback, cfg.Extract, logger),
		Renderer:  report.NewRenderer(outputDir, logger),
		History:   a.store,
		Providers: statuses,
		OutputDir: outputDir,
		Logger:    logger,
	}
	return a, nil
}

// buildAdapter returns a section extractor for one backend, or nil when
// the backend has no API key. The status entry is reported either way.
func (a *app) buildAdapter(name string, pc common.ProviderConfig, logger *slog.Logger, statuses []server.ProviderStatus) (extract.SectionExtractor, []server.ProviderStatus) {
	statuses = append(statuses, server.ProviderStatus{
		Name:       name,
		Model:      pc.Model,
		Configured: pc.APIKey != "",
	})
	if pc.APIKey == "" {
		return nil, statuses
	}

	client := provider.NewChatClient(provider.Config{
		Name:        name,
		APIKey:      pc.APIKey,
		BaseURL:     pc.BaseURL,
		Model:       pc.Model,
		Temperature: pc.Temperature,
		Timeout:     a.cfg.Providers.Timeout,
	}, logger)
	a.clients = append(a.clients, client)

	gate := provider.NewGate(a.cfg.Providers.RateLimit, a.cfg.Providers.RateWindow, a.cfg.Providers.MaxInflight)
	adapter := provider.NewAdapter(client, gate,
		provider.DefaultRetryPolicy(a.cfg.Providers.MaxRetries),
		a.cfg.Providers.Timeout, logger)
	return adapter, statuses
}

func runServer() error {
	logger := slog.Default()

	a, err := buildApp(logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: server.NewHandler(a.deps),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.listen", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("server.shutdown.start")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server.shutdown.ok")
	return nil
}
