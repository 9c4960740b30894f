package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderVoyage = "voyage"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

type Config struct {
	AppName     string
	ServerAddr  string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	EmbeddingProvider    string
	VoyageAPIKey         string
	VoyageModel          string
	VoyageURL            string
	EmbeddingDimension   int
	OllamaEmbeddingURL   string
	OllamaEmbeddingModel string

	GenerationProvider string
	GeminiAPIKey       string
	GeminiModel        string
	GeminiURL          string
	LLMURL             string
	LLMModel           string

	PGHost    string
	PGPort    int
	PGUser    string
	PGPass    string
	PGDBName  string
	PGSSLMode string

	RedisAddress   string
	RedisPassword  string
	RedisDB        int
	RedisQueueName string

	WorkerBlockTimeout time.Duration
	WorkerMarkFailed   bool
	FetchTimeout       time.Duration
	ChunkSize          int

	Retrieval Retrieval
}

// Retrieval holds the orchestrator's candidate and selection limits.
type Retrieval struct {
	Candidates    int
	MaxContexts   int
	MaxPerDomain  int
	MinSimilarity float64
}

// LoadEnv reads an optional .env file into the process environment.
func LoadEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("error loading .env file", "error", err)
	}
}

func Load() (*Config, error) {
	cfg := &Config{
		AppName:     getEnv("APP_NAME", "Web-Aware RAG Engine"),
		ServerAddr:  getEnv("SERVER_ADDR", ":8000"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9091"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),

		EmbeddingProvider:    strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderVoyage)),
		VoyageAPIKey:         getEnv("VOYAGE_API_KEY", ""),
		VoyageModel:          getEnv("VOYAGE_MODEL", "voyage-context-3"),
		VoyageURL:            getEnv("VOYAGE_URL", "https://api.voyageai.com/v1"),
		EmbeddingDimension:   getEnvAsInt("EMBEDDING_DIMENSION", 1024),
		OllamaEmbeddingURL:   getEnv("OLLAMA_EMBEDDING_URL", ""),
		OllamaEmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", ""),

		GenerationProvider: strings.ToLower(getEnv("GENERATION_PROVIDER", ProviderGemini)),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-pro"),
		GeminiURL:          getEnv("GEMINI_URL", "https://generativelanguage.googleapis.com/v1beta"),
		LLMURL:             getEnv("LLM_URL", ""),
		LLMModel:           getEnv("LLM_MODEL", ""),

		PGHost:    getEnv("PG_HOST", "localhost"),
		PGPort:    getEnvAsInt("PG_PORT", 5432),
		PGUser:    getEnv("PG_USER", ""),
		PGPass:    getEnv("PG_PASS", ""),
		PGDBName:  getEnv("PG_DB_NAME", ""),
		PGSSLMode: getEnv("PG_SSLMODE", "disable"),

		RedisAddress:   getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		RedisQueueName: getEnv("REDIS_QUEUE_NAME", "ingestion_queue"),

		WorkerBlockTimeout: getEnvAsDuration("WORKER_BLOCK_TIMEOUT", 5*time.Second),
		WorkerMarkFailed:   getEnvAsBool("WORKER_MARK_FAILED", true),
		FetchTimeout:       getEnvAsDuration("FETCH_TIMEOUT", 10*time.Second),
		ChunkSize:          getEnvAsInt("CHUNK_SIZE", 1200),

		Retrieval: Retrieval{
			Candidates:    getEnvAsInt("RETRIEVAL_CANDIDATES", 12),
			MaxContexts:   getEnvAsInt("RETRIEVAL_MAX_CONTEXTS", 5),
			MaxPerDomain:  getEnvAsInt("RETRIEVAL_MAX_PER_DOMAIN", 2),
			MinSimilarity: getEnvAsFloat("RETRIEVAL_MIN_SIMILARITY", 0.2),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.EmbeddingProvider {
	case ProviderVoyage:
		if c.VoyageAPIKey == "" {
			errs = append(errs, errors.New("VOYAGE_API_KEY is required for the voyage embedding provider"))
		}
	case ProviderOllama:
		if c.OllamaEmbeddingURL == "" || c.OllamaEmbeddingModel == "" {
			errs = append(errs, errors.New("OLLAMA_EMBEDDING_URL and OLLAMA_EMBEDDING_MODEL are required for the ollama embedding provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.EmbeddingProvider))
	}

	if c.PGUser == "" || c.PGDBName == "" {
		errs = append(errs, errors.New("PG_USER and PG_DB_NAME are required"))
	}
	if c.RedisQueueName == "" {
		errs = append(errs, errors.New("REDIS_QUEUE_NAME cannot be empty"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.EmbeddingDimension <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension))
	}
	if c.Retrieval.Candidates <= 0 || c.Retrieval.MaxContexts <= 0 || c.Retrieval.MaxPerDomain <= 0 {
		errs = append(errs, errors.New("retrieval limits must be positive"))
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_MIN_SIMILARITY must be within [0,1], got %v", c.Retrieval.MinSimilarity))
	}

	return errors.Join(errs...)
}

// ValidateGeneration checks the generation provider settings. Only the API
// process generates text, so Load does not require them.
func (c *Config) ValidateGeneration() error {
	switch c.GenerationProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini generation provider")
		}
	case ProviderOllama:
		if c.LLMURL == "" || c.LLMModel == "" {
			return errors.New("LLM_URL and LLM_MODEL are required for the ollama generation provider")
		}
	default:
		return fmt.Errorf("unknown generation provider %q", c.GenerationProvider)
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PGHost, c.PGPort, c.PGUser, c.PGPass, c.PGDBName, c.PGSSLMode)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("app", c.AppName)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go duration strings ("5s") or a bare number of seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
