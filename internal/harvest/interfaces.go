package harvest

import (
	"context"
	"io"
	"time"
)

// CheckpointStore persists the append-only record log of each unit.
type CheckpointStore interface {
	Append(ctx context.Context, unitID string, records []Record) error
	LastCursor(ctx context.Context, unitID string) (string, bool, error)
	Open(ctx context.Context, unitID string) (io.ReadCloser, error)
}

// Claimer coordinates exclusive processing of units across workers.
type Claimer interface {
	TryClaim(ctx context.Context, unitID string) (ClaimResult, error)
	Release(ctx context.Context, unitID string) error
	MarkComplete(ctx context.Context, unitID string) error
	IsComplete(ctx context.Context, unitID string) (bool, error)
}

// Harvester runs the pagination loop for one unit.
type Harvester interface {
	Harvest(ctx context.Context, unitID string, resume *string, itemCap int) (HarvestResult, error)
}

// Queue is the consumer side of the external work queue.
type Queue interface {
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	Counts(ctx context.Context) (visible int, inFlight int, err error)
}

// Enqueuer is the producer side of the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, bodies ...string) error
}

// Publisher pushes outcome events to Pub/Sub, Kafka or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// OutcomeSink records a processed unit.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, event OutcomeEvent) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper waits for a duration or until the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces worker and receipt IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
