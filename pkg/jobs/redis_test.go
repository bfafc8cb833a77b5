package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisBroker runs the broker against an in-process server with a
// controllable clock.
func newTestRedisBroker(t *testing.T) (*RedisBroker, *time.Time) {
	t.Helper()
	server := miniredis.RunT(t)
	broker, err := NewRedisBroker("redis://" + server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { broker.Close() })

	now := time.Now()
	broker.now = func() time.Time { return now }
	return broker, &now
}

func queuedTask(id string) *Task {
	payload, _ := json.Marshal(DocumentPayload{DocumentID: "doc-1"})
	return &Task{ID: id, Type: TypeProcessDocument, OrgID: 1, Payload: payload}
}

func TestRedisBrokerDequeueAck(t *testing.T) {
	broker, _ := newTestRedisBroker(t)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, queuedTask("t1")))
	got, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	require.NoError(t, broker.Ack(ctx, got))
	processing, err := broker.client.LLen(ctx, processingKey).Result()
	require.NoError(t, err)
	assert.Zero(t, processing)
	claims, err := broker.client.ZCard(ctx, claimsKey).Result()
	require.NoError(t, err)
	assert.Zero(t, claims)
}

func TestRedisBrokerReapsAbandonedTask(t *testing.T) {
	broker, now := newTestRedisBroker(t)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, queuedTask("t1")))
	first, err := broker.Dequeue(ctx)
	require.NoError(t, err)

	// The worker holding the task dies without acking. Once the claim ages
	// out the task must be delivered to another worker.
	*now = now.Add(processingTimeout + time.Minute)
	second, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	processing, err := broker.client.LLen(ctx, processingKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing, "redelivered task holds a fresh claim")
}

func TestRedisBrokerKeepsFreshClaims(t *testing.T) {
	broker, now := newTestRedisBroker(t)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, queuedTask("t1")))
	_, err := broker.Dequeue(ctx)
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	broker.reapStale(ctx)

	queued, err := broker.client.LLen(ctx, queueKey).Result()
	require.NoError(t, err)
	assert.Zero(t, queued, "in-flight task stays off the queue")
	processing, err := broker.client.LLen(ctx, processingKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)
}

func TestRedisBrokerRequeueDelays(t *testing.T) {
	broker, now := newTestRedisBroker(t)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, queuedTask("t1")))
	task, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, broker.Requeue(ctx, task, time.Minute))

	broker.promoteDelayed(ctx)
	queued, err := broker.client.LLen(ctx, queueKey).Result()
	require.NoError(t, err)
	assert.Zero(t, queued, "retry is not due yet")

	*now = now.Add(2 * time.Minute)
	got, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, 1, got.Attempts)
}

func TestRedisBrokerCancelFlag(t *testing.T) {
	broker, _ := newTestRedisBroker(t)
	ctx := context.Background()

	canceled, err := broker.IsCanceled(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, canceled)

	require.NoError(t, broker.Cancel(ctx, "t1"))
	canceled, err = broker.IsCanceled(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, canceled)
}
