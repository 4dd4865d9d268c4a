package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "catalog-sync", map[string]string{"collection": "base-set"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "catalog-audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "catalog-sync", msgs[0].Topic)
	assert.Equal(t, "catalog-audit", msgs[1].Topic)

	var body map[string]string
	require.NoError(t, msgs[0].Decode(&body))
	assert.Equal(t, "base-set", body["collection"])

	msgs[0].Topic = "modified"
	assert.Equal(t, "catalog-sync", pub.Messages()[0].Topic, "Messages() must return a copy")
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	broker := errors.New("broker down")
	pub.FailWith(broker)
	_, err := pub.Publish(context.Background(), "t", 1)
	require.ErrorIs(t, err, broker)
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "t", 1)
	require.NoError(t, err)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
}
