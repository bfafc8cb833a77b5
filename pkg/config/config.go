// Package config loads the immutable runtime configuration from the
// environment. Every value is resolved once at startup; nothing here is
// mutated afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultMaxUploadBytes  = 50 << 20 // 50 MiB
	DefaultChunkSize       = 1000
	DefaultChunkOverlap    = 200
	DefaultEmbedBatch      = 100
	DefaultRetrievalTopK   = 10
	DefaultMinScore        = 0.7
	DefaultEmbedDimension  = 3072
	DefaultEmbedRPM        = 300
	DefaultChatTurnTimeout = 60 * time.Second
	DefaultExtractTimeout  = 2 * time.Minute
	DefaultWorkers         = 4

	// Default unit price in USD per input token, matching
	// text-embedding-3-large at $0.13 per 1M tokens.
	DefaultEmbedUnitPrice = 0.13 / 1e6
)

type Blob struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

type Vector struct {
	APIKey      string
	Environment string // host[:port] of the index service
	IndexName   string
}

type LLM struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	ChatModel  string
}

type Config struct {
	ListenAddr  string
	DatabaseURL string
	QueueURL    string

	Blob   Blob
	Vector Vector
	LLM    LLM

	ResearchAPIKey string
	ResearchURL    string

	SessionSecret string

	MaxUploadBytes int64
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatch     int
	RetrievalTopK  int
	MinScore       float64

	EmbedDimension int
	EmbedRPM       int
	EmbedUnitPrice float64

	// MonthlyTokenBudget caps embedding tokens per tenant per calendar
	// month. Zero disables the cap.
	MonthlyTokenBudget int64

	ChatTurnTimeout time.Duration
	ExtractTimeout  time.Duration
	Workers         int
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:  envString("LISTEN_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		QueueURL:    os.Getenv("QUEUE_URL"),
		Blob: Blob{
			Endpoint:  os.Getenv("BLOB_ENDPOINT"),
			Region:    envString("BLOB_REGION", "us-east-1"),
			Bucket:    os.Getenv("BLOB_BUCKET"),
			AccessKey: os.Getenv("BLOB_KEY"),
			SecretKey: os.Getenv("BLOB_SECRET"),
		},
		Vector: Vector{
			APIKey:      os.Getenv("VECTOR_API_KEY"),
			Environment: os.Getenv("VECTOR_ENVIRONMENT"),
			IndexName:   envString("VECTOR_INDEX_NAME", "knowd"),
		},
		LLM: LLM{
			APIKey:     os.Getenv("LLM_API_KEY"),
			BaseURL:    os.Getenv("LLM_BASE_URL"),
			EmbedModel: envString("EMBED_MODEL", "text-embedding-3-large"),
			ChatModel:  envString("CHAT_MODEL", "gpt-4o"),
		},
		ResearchAPIKey: os.Getenv("RESEARCH_API_KEY"),
		ResearchURL:    envString("RESEARCH_URL", "https://api.perplexity.ai/chat/completions"),
		SessionSecret:  os.Getenv("AUTH_SESSION_SECRET"),
	}

	var err error
	if cfg.MaxUploadBytes, err = envInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = envInt("CHUNK_SIZE", DefaultChunkSize); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap, err = envInt("CHUNK_OVERLAP", DefaultChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.EmbedBatch, err = envInt("EMBED_BATCH", DefaultEmbedBatch); err != nil {
		return nil, err
	}
	if cfg.RetrievalTopK, err = envInt("RETRIEVAL_TOP_K", DefaultRetrievalTopK); err != nil {
		return nil, err
	}
	if cfg.MinScore, err = envFloat("MIN_SCORE", DefaultMinScore); err != nil {
		return nil, err
	}
	if cfg.EmbedDimension, err = envInt("EMBED_DIMENSION", DefaultEmbedDimension); err != nil {
		return nil, err
	}
	if cfg.EmbedRPM, err = envInt("EMBED_RPM", DefaultEmbedRPM); err != nil {
		return nil, err
	}
	if cfg.EmbedUnitPrice, err = envFloat("EMBED_UNIT_PRICE", DefaultEmbedUnitPrice); err != nil {
		return nil, err
	}
	if cfg.MonthlyTokenBudget, err = envInt64("MONTHLY_TOKEN_BUDGET", 0); err != nil {
		return nil, err
	}
	if cfg.ChatTurnTimeout, err = envDuration("CHAT_TURN_TIMEOUT", DefaultChatTurnTimeout); err != nil {
		return nil, err
	}
	if cfg.ExtractTimeout, err = envDuration("EXTRACT_TIMEOUT", DefaultExtractTimeout); err != nil {
		return nil, err
	}
	if cfg.Workers, err = envInt("WORKER_CONCURRENCY", DefaultWorkers); err != nil {
		return nil, err
	}

	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}

	return cfg, nil
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envInt64(name string, fallback int64) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envFloat(name string, fallback float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return f, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
