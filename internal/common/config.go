package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Providers ProvidersConfig
	Extract   ExtractConfig
	OCR       OCRConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr string
}

// StorageConfig holds filesystem and session-store locations
type StorageConfig struct {
	DataDir     string
	TemplateDir string
}

// ProviderConfig describes one LLM backend
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// ProvidersConfig holds the primary and fallback providers plus
// the shared per-provider call policy.
type ProvidersConfig struct {
	Mistral ProviderConfig
	Groq    ProviderConfig

	Timeout     time.Duration
	MaxRetries  int
	RateLimit   int
	RateWindow  time.Duration
	MaxInflight int
}

// ExtractConfig holds the orchestrator knobs
type ExtractConfig struct {
	PromptCharBudget int
	SectionBatchSize int
	BatchPause       time.Duration
	MaxTokens        int
}

// OCRConfig holds external tool settings for the OCR fallback
type OCRConfig struct {
	PdftoppmBin  string
	TesseractBin string
	DPI          int
	MaxPages     int
}

// LoadConfig loads configuration from environment variables.
// A .env file in the working directory is applied first if present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Storage: StorageConfig{
			DataDir:     getEnv("DATA_DIR", "./data"),
			TemplateDir: getEnv("TEMPLATE_DIR", ""),
		},
		Providers: ProvidersConfig{
			Mistral: ProviderConfig{
				APIKey:      getEnv("MISTRAL_API_KEY", ""),
				BaseURL:     getEnv("MISTRAL_BASE_URL", "https://api.mistral.ai/v1"),
				Model:       getEnv("MISTRAL_MODEL", "mistral-large-latest"),
				Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.1),
			},
			Groq: ProviderConfig{
				APIKey:      getEnv("GROQ_API_KEY", ""),
				BaseURL:     getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
				Model:       getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
				Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.1),
			},
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
			MaxRetries:  getEnvAsInt("LLM_MAX_RETRIES", 3),
			RateLimit:   getEnvAsInt("LLM_RATE_LIMIT", 30),
			RateWindow:  getEnvAsDuration("LLM_RATE_WINDOW", time.Minute),
			MaxInflight: getEnvAsInt("LLM_MAX_INFLIGHT", 3),
		},
		Extract: ExtractConfig{
			PromptCharBudget: getEnvAsInt("PROMPT_CHAR_BUDGET", 25000),
			SectionBatchSize: getEnvAsInt("SECTION_BATCH_SIZE", 3),
			BatchPause:       getEnvAsDuration("BATCH_PAUSE", 2*time.Second),
			MaxTokens:        getEnvAsInt("LLM_MAX_TOKENS", 4000),
		},
		OCR: OCRConfig{
			PdftoppmBin:  getEnv("PDFTOPPM_BIN", "pdftoppm"),
			TesseractBin: getEnv("TESSERACT_BIN", "tesseract"),
			DPI:          getEnvAsInt("OCR_DPI", 300),
			MaxPages:     getEnvAsInt("OCR_MAX_PAGES", 25),
		},
	}
}

// Validate checks startup-fatal configuration. A missing provider key is
// not fatal (that provider is disabled); both keys missing is reported at
// first extraction, not here.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Storage.DataDir == "" {
		return NewAppError("CONFIG_ERROR", "DATA_DIR is required", ErrInvalidInput)
	}
	if c.Providers.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "LLM_MAX_RETRIES must be >= 0", ErrInvalidInput)
	}
	if c.Providers.MaxInflight < 1 {
		return NewAppError("CONFIG_ERROR", "LLM_MAX_INFLIGHT must be >= 1", ErrInvalidInput)
	}
	return nil
}

// HasAnyProvider reports whether at least one LLM backend is configured.
func (c *Config) HasAnyProvider() bool {
	return c.Providers.Mistral.APIKey != "" || c.Providers.Groq.APIKey != ""
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
