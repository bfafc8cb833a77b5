package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey      = "knowd:tasks"
	processingKey = "knowd:tasks:processing"
	claimsKey     = "knowd:tasks:claims"
	delayedKey    = "knowd:tasks:delayed"
	cancelPrefix  = "knowd:tasks:cancel:"

	cancelTTL       = 24 * time.Hour
	dequeueBlock    = 5 * time.Second
	promoteInterval = time.Second

	// processingTimeout is how long a dequeued task may stay unacked before
	// it is presumed abandoned and returned to the queue. Must comfortably
	// exceed the longest pipeline run.
	processingTimeout = 15 * time.Minute
)

// RedisBroker queues tasks on a Redis list. In-flight tasks sit on a
// processing list until acked; each carries a claim timestamp, and claims
// older than processingTimeout are reaped back onto the queue so a crashed
// worker cannot strand a task. Retries go through a delayed sorted set.
type RedisBroker struct {
	client *redis.Client
	now    func() time.Time
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(queueURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(queueURL)
	if err != nil {
		return nil, fmt.Errorf("jobs.NewRedisBroker: %w", err)
	}
	return &RedisBroker{client: redis.NewClient(opts), now: time.Now}, nil
}

func (b *RedisBroker) Enqueue(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("jobs.Enqueue: %w", err)
	}
	if err := b.client.LPush(ctx, queueKey, raw).Err(); err != nil {
		return fmt.Errorf("jobs.Enqueue: %w", err)
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.promoteDelayed(ctx)
		b.reapStale(ctx)

		raw, err := b.client.BLMove(ctx, queueKey, processingKey, "RIGHT", "LEFT", dequeueBlock).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("jobs.Dequeue: %w", err)
		}
		b.client.ZAdd(ctx, claimsKey, redis.Z{
			Score:  float64(b.now().UnixMilli()),
			Member: raw,
		})

		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			// Poison entry; drop it rather than wedging the queue.
			b.client.ZRem(ctx, claimsKey, raw)
			b.client.LRem(ctx, processingKey, 1, raw)
			continue
		}
		return &task, nil
	}
}

// reapStale returns abandoned tasks to the queue. A claim still present
// after processingTimeout means the worker that took it died before acking.
func (b *RedisBroker) reapStale(ctx context.Context) {
	cutoff := strconv.FormatInt(b.now().Add(-processingTimeout).UnixMilli(), 10)
	stale, err := b.client.ZRangeByScore(ctx, claimsKey, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil || len(stale) == 0 {
		return
	}
	for _, raw := range stale {
		// Removing the claim first makes one reaper win when several race.
		removed, err := b.client.ZRem(ctx, claimsKey, raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		pipe := b.client.TxPipeline()
		pipe.LRem(ctx, processingKey, 1, raw)
		pipe.LPush(ctx, queueKey, raw)
		_, _ = pipe.Exec(ctx)
	}
}

// promoteDelayed moves due retries back onto the main queue.
func (b *RedisBroker) promoteDelayed(ctx context.Context) {
	now := strconv.FormatInt(b.now().UnixMilli(), 10)
	due, err := b.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil || len(due) == 0 {
		return
	}
	for _, raw := range due {
		pipe := b.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey, raw)
		pipe.LPush(ctx, queueKey, raw)
		_, _ = pipe.Exec(ctx)
	}
}

func (b *RedisBroker) Ack(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("jobs.Ack: %w", err)
	}
	b.client.ZRem(ctx, claimsKey, string(raw))
	if err := b.client.LRem(ctx, processingKey, 1, string(raw)).Err(); err != nil {
		return fmt.Errorf("jobs.Ack: %w", err)
	}
	return nil
}

func (b *RedisBroker) Requeue(ctx context.Context, task *Task, delay time.Duration) error {
	if err := b.Ack(ctx, task); err != nil {
		return err
	}
	task.Attempts++
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("jobs.Requeue: %w", err)
	}
	score := float64(b.now().Add(delay).UnixMilli())
	if err := b.client.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: raw}).Err(); err != nil {
		return fmt.Errorf("jobs.Requeue: %w", err)
	}
	return nil
}

func (b *RedisBroker) Cancel(ctx context.Context, taskID string) error {
	if err := b.client.Set(ctx, cancelPrefix+taskID, "1", cancelTTL).Err(); err != nil {
		return fmt.Errorf("jobs.Cancel: %w", err)
	}
	return nil
}

func (b *RedisBroker) IsCanceled(ctx context.Context, taskID string) (bool, error) {
	n, err := b.client.Exists(ctx, cancelPrefix+taskID).Result()
	if err != nil {
		return false, fmt.Errorf("jobs.IsCanceled: %w", err)
	}
	return n > 0, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
