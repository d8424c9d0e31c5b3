// Package memory provides a visibility-timeout queue for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

const pollInterval = 20 * time.Millisecond

type inflight struct {
	body     string
	deadline time.Time
}

// Queue keeps visible messages in FIFO order and received ones in flight
// until they are deleted or their visibility timeout expires.
type Queue struct {
	mu         sync.Mutex
	visible    []string
	inFlight   map[string]inflight
	visibility time.Duration
	now        func() time.Time
	closed     bool
}

// NewQueue constructs a queue whose received messages reappear after visibility.
func NewQueue(visibility time.Duration) *Queue {
	return &Queue{
		inFlight:   make(map[string]inflight),
		visibility: visibility,
		now:        time.Now,
	}
}

// Enqueue appends bodies in order.
func (q *Queue) Enqueue(ctx context.Context, bodies ...string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue closed")
	}
	q.visible = append(q.visible, bodies...)
	return nil
}

// Receive returns up to maxMessages, waiting up to wait for one to appear.
func (q *Queue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]harvest.Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		msgs, err := q.take(maxMessages)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receive canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (q *Queue) take(maxMessages int) ([]harvest.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.New("queue closed")
	}
	q.requeueExpiredLocked()

	n := min(maxMessages, len(q.visible))
	if n == 0 {
		return nil, nil
	}
	msgs := make([]harvest.Message, 0, n)
	for _, body := range q.visible[:n] {
		receipt := uuid.NewString()
		q.inFlight[receipt] = inflight{body: body, deadline: q.now().Add(q.visibility)}
		msgs = append(msgs, harvest.Message{Body: body, ReceiptHandle: receipt})
	}
	q.visible = q.visible[n:]
	return msgs, nil
}

// Delete acknowledges a received message. Unknown or expired receipts are an error.
func (q *Queue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked()
	if _, ok := q.inFlight[receiptHandle]; !ok {
		return fmt.Errorf("unknown receipt handle %q", receiptHandle)
	}
	delete(q.inFlight, receiptHandle)
	return nil
}

// Counts returns the visible and in-flight message counts.
func (q *Queue) Counts(context.Context) (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked()
	return len(q.visible), len(q.inFlight), nil
}

// Close makes further operations fail. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *Queue) requeueExpiredLocked() {
	now := q.now()
	for receipt, msg := range q.inFlight {
		if now.Before(msg.deadline) {
			continue
		}
		delete(q.inFlight, receipt)
		q.visible = append(q.visible, msg.body)
	}
}
