package notify_test

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/camaradata/crawl-coordinator/internal/notify"
)

func TestPubSubNotifierPublishesEvents(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "crawl-events")
	require.NoError(t, err)

	sub, err := client.CreateSubscription(ctx, "sub-id", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	n := notify.NewPubSubNotifier(topic, zaptest.NewLogger(t))

	n.AreaFinished(ctx, "28001")
	n.DeepTaskStillCapped(ctx, "28001", "GRAN VIA 00042")

	received := make(chan *pubsub.Message, 2)
	recvCtx, cancel := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			received <- msg
		})
	}()

	kinds := make(map[string]map[string]any)
	for range 2 {
		msg := <-received
		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		kinds[payload["kind"].(string)] = payload
	}
	cancel()

	require.Contains(t, kinds, "area_finished")
	require.Contains(t, kinds, "deep_task_capped")
	require.Equal(t, "28001", kinds["area_finished"]["area_code"])
	require.Equal(t, "GRAN VIA 00042", kinds["deep_task_capped"]["search_text"])
}
