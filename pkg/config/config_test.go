package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/knowd")
	t.Setenv("QUEUE_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/knowd", cfg.DatabaseURL)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 100, cfg.EmbedBatch)
	assert.Equal(t, 10, cfg.RetrievalTopK)
	assert.InDelta(t, 0.7, cfg.MinScore, 1e-9)
	assert.Equal(t, 3072, cfg.EmbedDimension)
	assert.Equal(t, 60*time.Second, cfg.ChatTurnTimeout)
	assert.Equal(t, "text-embedding-3-large", cfg.LLM.EmbedModel)
	assert.Equal(t, int64(0), cfg.MonthlyTokenBudget)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "512")
	t.Setenv("CHUNK_OVERLAP", "64")
	t.Setenv("MONTHLY_TOKEN_BUDGET", "1000000")
	t.Setenv("MIN_SCORE", "0.55")
	t.Setenv("CHAT_TURN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.ChunkSize)
	assert.Equal(t, 64, cfg.ChunkOverlap)
	assert.Equal(t, int64(1000000), cfg.MonthlyTokenBudget)
	assert.InDelta(t, 0.55, cfg.MinScore, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.ChatTurnTimeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsOverlapLargerThanSize(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")
	_, err := Load()
	require.Error(t, err)
}
