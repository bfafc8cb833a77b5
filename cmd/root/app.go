package root

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/knowd-ai/knowd/pkg/blob"
	"github.com/knowd-ai/knowd/pkg/chunk"
	"github.com/knowd-ai/knowd/pkg/classify"
	"github.com/knowd-ai/knowd/pkg/config"
	"github.com/knowd-ai/knowd/pkg/embed"
	"github.com/knowd-ai/knowd/pkg/httpclient"
	"github.com/knowd-ai/knowd/pkg/jobs"
	"github.com/knowd-ai/knowd/pkg/llm"
	"github.com/knowd-ai/knowd/pkg/store"
	"github.com/knowd-ai/knowd/pkg/vector"
)

// app holds the shared dependency graph of the serve and worker tiers.
// Everything here is immutable after construction.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.PostgresStore
	blobs    blob.Store
	index    vector.Index
	broker   jobs.Broker
	client   llm.Client
	executor *jobs.Executor
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	blobs, err := blob.NewS3Store(ctx, blob.S3Config{
		Endpoint:  cfg.Blob.Endpoint,
		Region:    cfg.Blob.Region,
		Bucket:    cfg.Blob.Bucket,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect blob store: %w", err)
	}

	host, port := splitHostPort(cfg.Vector.Environment)
	index, err := vector.NewQdrantIndex(vector.QdrantConfig{
		Host:       host,
		Port:       port,
		APIKey:     cfg.Vector.APIKey,
		Collection: cfg.Vector.IndexName,
		Dimension:  cfg.EmbedDimension,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect vector index: %w", err)
	}

	broker, err := jobs.NewRedisBroker(cfg.QueueURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect queue: %w", err)
	}

	client := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.ChatModel,
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithHTTPClient(httpclient.New()),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		blobs:    blobs,
		index:    index,
		broker:   broker,
		client:   client,
		executor: jobs.NewExecutor(st, broker, logger, cfg.Workers),
	}, nil
}

// newEmbedder builds the embedding client against the given usage recorder.
// The worker tier wraps the recorder to also feed prometheus counters.
func (a *app) newEmbedder(usage embed.UsageRecorder) *embed.Embedder {
	provider := embed.NewOpenAIProvider(a.cfg.LLM.APIKey, a.cfg.LLM.BaseURL, a.cfg.LLM.EmbedModel, a.cfg.EmbedDimension)
	return embed.New(provider, usage, a.logger,
		embed.WithBatchSize(a.cfg.EmbedBatch),
		embed.WithRateLimit(a.cfg.EmbedRPM),
		embed.WithUnitPrice(a.cfg.EmbedUnitPrice),
		embed.WithMonthlyBudget(a.cfg.MonthlyTokenBudget),
	)
}

func (a *app) Close() {
	if err := a.broker.Close(); err != nil {
		a.logger.Warn("close broker", "error", err)
	}
	a.store.Close()
}

func (a *app) newClassifier() *classify.Classifier {
	return classify.New(a.client, a.store, a.logger)
}

func (a *app) newChunker() (*chunk.Chunker, error) {
	return chunk.New(a.cfg.ChunkSize, a.cfg.ChunkOverlap)
}

// splitHostPort parses "host" or "host:port" with the qdrant default port
// left to the adapter when absent.
func splitHostPort(environment string) (string, int) {
	host, portStr, err := net.SplitHostPort(environment)
	if err != nil {
		return environment, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return environment, 0
	}
	return host, port
}
