package root

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/knowd-ai/knowd/pkg/agents"
	"github.com/knowd-ai/knowd/pkg/folders"
	"github.com/knowd-ai/knowd/pkg/httpclient"
	"github.com/knowd-ai/knowd/pkg/metrics"
	"github.com/knowd-ai/knowd/pkg/people"
	"github.com/knowd-ai/knowd/pkg/rag"
	"github.com/knowd-ai/knowd/pkg/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	embedder := a.newEmbedder(a.store)
	engine := rag.NewEngine(embedder, a.index, a.store, a.client, a.logger, cfg.RetrievalTopK, cfg.MinScore)
	peopleSvc := people.NewService(embedder, a.index, a.logger, cfg.MinScore)
	research := agents.NewResearchAgent(httpclient.New(), cfg.ResearchAPIKey, cfg.ResearchURL)
	orchestrator := agents.NewOrchestrator(a.client, engine, peopleSvc, research, a.logger, cfg.ChatTurnTimeout)

	var llmCheck func(context.Context) error
	if cfg.LLM.APIKey != "" {
		llmCheck = func(context.Context) error { return nil }
	}

	srv := server.New(server.Deps{
		Store:          a.store,
		Blobs:          a.blobs,
		Index:          a.index,
		Broker:         a.broker,
		Executor:       a.executor,
		Engine:         engine,
		People:         peopleSvc,
		Folders:        folders.NewService(a.store),
		Orchestrator:   orchestrator,
		Metrics:        metrics.New(),
		Logger:         a.logger,
		SessionSecret:  []byte(cfg.SessionSecret),
		MaxUploadBytes: cfg.MaxUploadBytes,
		LLMCheck:       llmCheck,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	a.logger.Info("api tier listening", "addr", cfg.ListenAddr)
	return srv.Serve(ctx, ln)
}
