// Package queue holds the work queue adapters. Implementations live in
// subpackages (memory, redis); every one satisfies harvest.Queue for the
// consumer side and harvest.Enqueuer for the producer side.
//
// A received message stays invisible to other consumers until its visibility
// timeout expires. Deleting it by receipt handle acknowledges it; leaving it
// alone lets another worker pick it up later.
package queue

import (
	"context"
	"time"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// EnqueueBatchSize is the number of unit ids sent per producer request.
const EnqueueBatchSize = 10

// Batches splits bodies into slices of at most size entries.
func Batches(bodies []string, size int) [][]string {
	if size <= 0 {
		size = EnqueueBatchSize
	}
	var out [][]string
	for start := 0; start < len(bodies); start += size {
		end := min(start+size, len(bodies))
		out = append(out, bodies[start:end])
	}
	return out
}

// NoOp is a queue that is always drained. It lets the worker start without a
// configured queue and exit immediately.
type NoOp struct{}

// Receive returns no messages.
func (NoOp) Receive(context.Context, int, time.Duration) ([]harvest.Message, error) { return nil, nil }

// Delete does nothing.
func (NoOp) Delete(context.Context, string) error { return nil }

// Counts reports an empty queue.
func (NoOp) Counts(context.Context) (int, int, error) { return 0, 0, nil }

// Enqueue discards the bodies.
func (NoOp) Enqueue(context.Context, ...string) error { return nil }
