package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config for one chat-completions backend. Mistral and Groq both speak the
// OpenAI-style /chat/completions dialect and differ only in base URL, key
// and model.
type Config struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// ChatClient executes one prompt against a chat-completions endpoint.
type ChatClient struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewChatClient builds a client with defaults filled in.
func NewChatClient(cfg Config, logger *slog.Logger) *ChatClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

// Name identifies the backend in logs and results.
func (c *ChatClient) Name() string { return c.cfg.Name }

// Model reports the configured model identifier.
func (c *ChatClient) Model() string { return c.cfg.Model }

// Configured reports whether the backend has an API key.
func (c *ChatClient) Configured() bool { return c.cfg.APIKey != "" }

// Close releases pooled connections.
func (c *ChatClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// Complete sends one user prompt and returns the raw completion text.
func (c *ChatClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if !c.Configured() {
		return "", &StatusError{Provider: c.cfg.Name, Status: http.StatusUnauthorized, Body: "no API key configured"}
	}

	rid := uuid.New().String()
	start := time.Now()

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"max_tokens":  maxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	c.log.Info("provider.call.start",
		"req_id", rid,
		"provider", c.cfg.Name,
		"model", c.cfg.Model,
		"prompt_len", len(prompt),
		"max_tokens", maxTokens,
	)

	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Warn("provider.call.http_error",
			"req_id", rid, "provider", c.cfg.Name, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Warn("provider.call.decode_error",
			"req_id", rid, "provider", c.cfg.Name, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("decode %s response: %w", c.cfg.Name, err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in %s response", c.cfg.Name)
	}

	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	c.log.Info("provider.call.ok",
		"req_id", rid,
		"provider", c.cfg.Name,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

func (c *ChatClient) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s http error: %w", c.cfg.Name, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Warn("provider.response_body_close_error", "provider", c.cfg.Name, "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Provider: c.cfg.Name, Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
