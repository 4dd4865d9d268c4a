package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type event struct {
	Source     string `json:"source"`
	Collection string `json:"collection"`
}

func (e event) Attributes() map[string]string {
	return map[string]string{"source": e.Source}
}

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "catalog-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "catalog-sync")
	require.NoError(t, err)
	return client, srv
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	client, srv := newTestClient(t)
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(context.Background(), "catalog-sync", event{Source: "tcg", Collection: "base-set"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "base-set", got.Collection)
	assert.Equal(t, "tcg", msgs[0].Attributes["source"])
}

func TestPublishReusesTopicHandle(t *testing.T) {
	client, srv := newTestClient(t)
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	for i := 0; i < 3; i++ {
		_, err := pub.Publish(context.Background(), "catalog-sync", map[string]int{"n": i})
		require.NoError(t, err)
	}
	assert.Len(t, pub.topics, 1)
	assert.Len(t, srv.Messages(), 3)
}

func TestPublishValidation(t *testing.T) {
	_, err := (&Publisher{}).Publish(context.Background(), "t", 1)
	require.Error(t, err)

	client, _ := newTestClient(t)
	pub := New(client)
	_, err = pub.Publish(context.Background(), "", 1)
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "catalog-sync", make(chan int))
	require.Error(t, err)
}

func TestOpenRequiresProject(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
