package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

var _ harvest.Publisher = (*Publisher)(nil)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "outcomes", harvest.OutcomeEvent{UnitID: "1", Outcome: harvest.OutcomeIncomplete})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "outcomes", msgs[0].Topic)
	assert.Equal(t, "other", msgs[1].Topic)

	msgs[0].Topic = "modified"
	assert.Equal(t, "outcomes", pub.Messages()[0].Topic, "Messages returns a copy")

	outcomes := pub.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "1", outcomes[0].UnitID)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("broker down"))
	_, err := pub.Publish(context.Background(), "outcomes", "x")
	require.EqualError(t, err, "broker down")
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "outcomes", "x")
	require.NoError(t, err)
}
