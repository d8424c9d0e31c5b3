package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

var (
	_ harvest.Queue    = (*Queue)(nil)
	_ harvest.Enqueuer = (*Queue)(nil)
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(visibility time.Duration) (*Queue, *manualClock) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	q := NewQueue(visibility)
	q.now = clock.Now
	return q, clock
}

func TestQueueReceiveDeleteCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _ := newTestQueue(time.Minute)
	require.NoError(t, q.Enqueue(ctx, "a", "b", "c"))

	msgs, err := q.Receive(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Body)
	assert.Equal(t, "b", msgs[1].Body)
	assert.NotEqual(t, msgs[0].ReceiptHandle, msgs[1].ReceiptHandle)

	visible, inFlight, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, visible)
	assert.Equal(t, 2, inFlight)

	require.NoError(t, q.Delete(ctx, msgs[0].ReceiptHandle))
	require.Error(t, q.Delete(ctx, msgs[0].ReceiptHandle), "receipt is single use")

	visible, inFlight, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, visible)
	assert.Equal(t, 1, inFlight)
}

func TestQueueVisibilityTimeoutRedelivers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, clock := newTestQueue(time.Minute)
	require.NoError(t, q.Enqueue(ctx, "unit-1"))

	first, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	none, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, none, "in-flight message is invisible")

	clock.Advance(time.Minute)
	again, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "unit-1", again[0].Body)
	assert.NotEqual(t, first[0].ReceiptHandle, again[0].ReceiptHandle)
	require.Error(t, q.Delete(ctx, first[0].ReceiptHandle), "expired receipt no longer acknowledges")
}

func TestQueueReceiveWaitsForMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _ := newTestQueue(time.Minute)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = q.Enqueue(ctx, "late")
	}()

	msgs, err := q.Receive(ctx, 1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "late", msgs[0].Body)
}

func TestQueueReceiveEmptyAfterWait(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(time.Minute)
	msgs, err := q.Receive(context.Background(), 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx, 1, time.Second)
	require.EqualError(t, err, "receive canceled: context canceled")
	require.EqualError(t, q.Enqueue(ctx, "x"), "enqueue canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(time.Minute)
	q.Close()
	_, err := q.Receive(context.Background(), 1, 0)
	require.EqualError(t, err, "queue closed")
	require.EqualError(t, q.Enqueue(context.Background(), "x"), "queue closed")
	q.Close()
}
