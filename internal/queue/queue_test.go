package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

var (
	_ harvest.Queue    = NoOp{}
	_ harvest.Enqueuer = NoOp{}
	_ harvest.Queue    = (*MockQueue)(nil)
	_ harvest.Enqueuer = (*MockQueue)(nil)
)

func TestBatches(t *testing.T) {
	t.Parallel()

	ids := make([]string, 23)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	batches := Batches(ids, EnqueueBatchSize)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Equal(t, []string{"u", "v", "w"}, batches[2])

	assert.Empty(t, Batches(nil, 10))
	assert.Len(t, Batches(ids, 0), 3, "non-positive size falls back to the default")
}

func TestNoOpIsDrained(t *testing.T) {
	t.Parallel()

	var q NoOp
	msgs, err := q.Receive(context.Background(), 1, time.Second)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	visible, inFlight, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, visible)
	assert.Zero(t, inFlight)
	require.NoError(t, q.Enqueue(context.Background(), "1"))
	require.NoError(t, q.Delete(context.Background(), "r"))
}
