package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	NatsURL           string
	NatsToken         string
	DatabaseURL       string
	RedisURL          string
	LogLevel          string
	AnthropicAPIKey   string
	OpenAIAPIKey      string
	GeminiAPIKey      string
	SummaryProvider   string
	SummaryModel      string
	SummaryRPS        float64
	SumMemoryLimit    int
	ImportBatchSize   int
	WorkerConcurrency int
	TaskAckWait       time.Duration
	TaskMaxDeliver    int
	DrainTimeout      time.Duration
	AgeIdentity       string
	NotifyURL         string
	NotifyToken       string
	ModelRatesFile    string
	TokenizerEncoding string
	APIToken          string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	provider := envStr("SUMMARY_PROVIDER", "anthropic")
	return Config{
		Port:              envInt("SCRIBE_PORT", 8760),
		NatsURL:           envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:         envStr("NATS_TOKEN", ""),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		RedisURL:          envStr("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey:   envStr("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:      envStr("OPENAI_API_KEY", ""),
		GeminiAPIKey:      envStr("GEMINI_API_KEY", ""),
		SummaryProvider:   provider,
		SummaryModel:      envStr("SUMMARY_MODEL", DefaultSummaryModel(provider)),
		SummaryRPS:        envFloat("SUMMARY_RPS", 2),
		SumMemoryLimit:    envInt("SUM_MEMORY_LIMIT", 2000),
		ImportBatchSize:   envInt("IMPORT_BATCH_SIZE", 5),
		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 4),
		TaskAckWait:       time.Duration(envInt("TASK_ACK_WAIT_SECONDS", 120)) * time.Second,
		TaskMaxDeliver:    envInt("TASK_MAX_DELIVER", 5),
		DrainTimeout:      time.Duration(envInt("WORKER_DRAIN_SECONDS", 30)) * time.Second,
		AgeIdentity:       envStr("SCRIBE_AGE_IDENTITY", ""),
		NotifyURL:         envStr("NOTIFY_URL", "http://notify:8710"),
		NotifyToken:       envStr("NOTIFY_TOKEN", ""),
		ModelRatesFile:    envStr("MODEL_RATES_FILE", ""),
		TokenizerEncoding: envStr("TOKENIZER_ENCODING", "cl100k_base"),
		APIToken:          envStr("SCRIBE_API_TOKEN", ""),
	}
}

// DefaultSummaryModel is the model used when SUMMARY_MODEL is unset. It
// follows the provider so an unset model never crosses vendors.
func DefaultSummaryModel(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return "gpt-4o-mini"
	case "gemini", "google":
		return "gemini-2.0-flash"
	}
	return "claude-sonnet-4-20250514"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}
