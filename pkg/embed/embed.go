// Package embed turns text into vectors, with the operational guards the
// upstream API needs: batching, concurrency, rate limiting, retries with
// backoff, a circuit breaker and per-tenant monthly token budgets.
package embed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/knowd-ai/knowd/pkg/apperr"
)

// UsageRecorder is the slice of the store the embedder needs for budget
// checks and spend accounting.
type UsageRecorder interface {
	AddUsage(ctx context.Context, orgID int64, day time.Time, tokens, apiCalls int64, cost float64) error
	MonthlyTokens(ctx context.Context, orgID int64, ref time.Time) (int64, error)
}

type Embedder struct {
	provider    Provider
	usage       UsageRecorder
	logger      *slog.Logger
	breaker     *gobreaker.CircuitBreaker[*BatchResult]
	limiter     *rate.Limiter
	batchSize   int
	concurrency int
	maxRetries  uint64
	unitPrice   float64
	budget      int64
}

type Option func(*Embedder)

// WithBatchSize caps how many texts go into one upstream call.
func WithBatchSize(n int) Option {
	return func(e *Embedder) { e.batchSize = n }
}

// WithConcurrency caps in-flight upstream calls.
func WithConcurrency(n int) Option {
	return func(e *Embedder) { e.concurrency = n }
}

// WithRateLimit caps upstream calls per minute.
func WithRateLimit(perMinute int) Option {
	return func(e *Embedder) {
		e.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}
}

// WithUnitPrice sets the USD price per token for spend accounting.
func WithUnitPrice(usdPerToken float64) Option {
	return func(e *Embedder) { e.unitPrice = usdPerToken }
}

// WithMonthlyBudget caps tokens per tenant per calendar month. Zero disables.
func WithMonthlyBudget(tokens int64) Option {
	return func(e *Embedder) { e.budget = tokens }
}

func New(provider Provider, usage UsageRecorder, logger *slog.Logger, opts ...Option) *Embedder {
	e := &Embedder{
		provider:    provider,
		usage:       usage,
		logger:      logger,
		batchSize:   100,
		concurrency: 4,
		maxRetries:  4,
		limiter:     rate.NewLimiter(rate.Limit(5), 300),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.breaker = gobreaker.NewCircuitBreaker[*BatchResult](gobreaker.Settings{
		Name:    "embed",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding circuit state change", "from", from.String(), "to", to.String())
		},
	})
	return e
}

// Dimension is the width of the vectors this embedder produces.
func (e *Embedder) Dimension() int {
	return e.provider.Dimension()
}

// EmbedTexts embeds all texts in order. The tenant's budget is checked once
// up front; a tenant over budget gets no upstream calls at all.
func (e *Embedder) EmbedTexts(ctx context.Context, orgID int64, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.checkBudget(ctx, orgID); err != nil {
		return nil, err
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batches = append(batches, batch{start: start, texts: texts[start:end]})
	}

	results := make([][]float32, len(texts))
	var totalTokens, apiCalls int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.concurrency)
	tokenCh := make(chan int64, len(batches))

	for _, b := range batches {
		group.Go(func() error {
			result, err := e.embedBatch(groupCtx, b.texts)
			if err != nil {
				return err
			}
			copy(results[b.start:], result.Embeddings)
			tokenCh <- result.Tokens
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	close(tokenCh)
	for tokens := range tokenCh {
		totalTokens += tokens
		apiCalls++
	}

	day := time.Now().UTC()
	if err := e.usage.AddUsage(ctx, orgID, day, totalTokens, apiCalls, float64(totalTokens)*e.unitPrice); err != nil {
		// Spend accounting must not lose the embeddings we already paid for.
		e.logger.Error("record embedding usage", "error", err, "org_id", orgID, "tokens", totalTokens)
	}
	return results, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, orgID int64, query string) ([]float32, error) {
	results, err := e.EmbedTexts(ctx, orgID, []string{query})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (e *Embedder) checkBudget(ctx context.Context, orgID int64) error {
	if e.budget <= 0 {
		return nil
	}
	used, err := e.usage.MonthlyTokens(ctx, orgID, time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.Transient, err, "embed: budget check")
	}
	if used >= e.budget {
		return apperr.New(apperr.BudgetExceeded, "monthly embedding budget exhausted: %d of %d tokens", used, e.budget)
	}
	return nil
}

// embedBatch is one upstream call behind the limiter, the breaker and the
// retry loop, in that order: retries re-enter the limiter so a throttled
// retry cannot stampede.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxInterval = time.Minute

	var result *BatchResult
	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := e.breaker.Execute(func() (*BatchResult, error) {
			return e.provider.EmbedBatch(ctx, texts)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return apperr.Wrap(apperr.Transient, err, "embedding circuit open")
			}
			if !apperr.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, e.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}
