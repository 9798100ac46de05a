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

const testProject = "harvest-test"

func newFakeServer(t *testing.T) (*pstest.Server, option.ClientOption) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, option.WithGRPCConn(conn)
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	srv, connOpt := newFakeServer(t)
	ctx := context.Background()

	client, err := pubsub.NewClient(ctx, testProject, connOpt)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.CreateTopic(ctx, "articles")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Close()

	payload := map[string]any{"seq": 3, "title": "标题"}
	id, err := pub.Publish(ctx, "articles", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "标题", got["title"])
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

func TestPublishUnknownTopicFails(t *testing.T) {
	t.Parallel()

	_, connOpt := newFakeServer(t)
	pub, err := Connect(context.Background(), testProject, connOpt)
	require.NoError(t, err)
	defer pub.Close()

	_, err = pub.Publish(context.Background(), "missing", "x")
	assert.Error(t, err)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", "x")
	assert.Error(t, err)

	_, connOpt := newFakeServer(t)
	pub, err := Connect(context.Background(), testProject, connOpt)
	require.NoError(t, err)
	defer pub.Close()
	_, err = pub.Publish(context.Background(), "", "x")
	assert.Error(t, err)
	_, err = pub.Publish(context.Background(), "t", func() {})
	assert.ErrorContains(t, err, "marshal payload")

	_, err = Connect(context.Background(), "")
	assert.Error(t, err)
}
