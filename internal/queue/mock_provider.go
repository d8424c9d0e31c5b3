package queue

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// MockQueue is a testify mock implementing harvest.Queue and harvest.Enqueuer.
type MockQueue struct {
	mock.Mock
}

// Receive is the mock implementation of the Receive method.
func (m *MockQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]harvest.Message, error) {
	args := m.Called(ctx, maxMessages, wait)
	msgs, _ := args.Get(0).([]harvest.Message)
	return msgs, args.Error(1)
}

// Delete is the mock implementation of the Delete method.
func (m *MockQueue) Delete(ctx context.Context, receiptHandle string) error {
	args := m.Called(ctx, receiptHandle)
	return args.Error(0)
}

// Counts is the mock implementation of the Counts method.
func (m *MockQueue) Counts(ctx context.Context) (int, int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Int(1), args.Error(2)
}

// Enqueue is the mock implementation of the Enqueue method.
func (m *MockQueue) Enqueue(ctx context.Context, bodies ...string) error {
	args := m.Called(ctx, bodies)
	return args.Error(0)
}
