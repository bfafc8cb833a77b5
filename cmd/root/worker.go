package root

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/knowd-ai/knowd/pkg/embed"
	"github.com/knowd-ai/knowd/pkg/jobs"
	"github.com/knowd-ai/knowd/pkg/metrics"
)

// consolidateInterval schedules the retention sweep that purges aged soft
// deletes.
const consolidateInterval = 24 * time.Hour

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the background job tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runWorker(ctx)
		},
	}
}

// meteredUsage feeds the prometheus spend counters alongside the durable
// usage rows.
type meteredUsage struct {
	embed.UsageRecorder
	metrics *metrics.Metrics
}

func (u *meteredUsage) AddUsage(ctx context.Context, orgID int64, day time.Time, tokens, apiCalls int64, cost float64) error {
	u.metrics.AddEmbeddingUsage(tokens, cost)
	return u.UsageRecorder.AddUsage(ctx, orgID, day, tokens, apiCalls, cost)
}

func runWorker(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m := metrics.New()
	a.executor.SetObserver(m.ObserveJob)

	chunker, err := a.newChunker()
	if err != nil {
		return err
	}
	pipeline := jobs.NewPipeline(
		a.store,
		a.blobs,
		chunker,
		a.newEmbedder(&meteredUsage{UsageRecorder: a.store, metrics: m}),
		a.index,
		a.newClassifier(),
		a.broker,
		a.logger,
		a.cfg.ExtractTimeout,
	)
	pipeline.RegisterAll(a.executor)

	go a.serveWorkerMetrics(ctx, m)
	go a.scheduleConsolidation(ctx)

	a.logger.Info("worker tier draining queue", "workers", a.cfg.Workers)
	return a.executor.Run(ctx)
}

func (a *app) serveWorkerMetrics(ctx context.Context, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: a.cfg.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Warn("worker metrics listener", "error", err)
	}
}

func (a *app) scheduleConsolidation(ctx context.Context) {
	ticker := time.NewTicker(consolidateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.executor.Submit(ctx, 0, jobs.TypeConsolidate, struct{}{}); err != nil {
				a.logger.Error("enqueue consolidation", "error", err)
			}
		}
	}
}
