//go:build integration

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"gatehouse.org/internal/testutil/containers"
)

func TestRedisStreamSinkAppends(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	sink := NewRedisStreamSink(rc.Client, "gatehouse:test", 100)
	evt := NewEvent(CredentialIssued, "cred-1", "res-1", time.Now().UTC(), map[string]string{"code_type": "PIN"})
	require.NoError(t, sink.Deliver(ctx, evt))

	msgs, err := rc.Client.XRange(ctx, "gatehouse:test", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, evt.ID, msgs[0].Values["event_id"])
	assert.Equal(t, string(CredentialIssued), msgs[0].Values["type"])

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &decoded))
	assert.Equal(t, "PIN", decoded.Attributes["code_type"])
}

func TestKafkaSinkProducesKeyedRecords(t *testing.T) {
	kc := containers.NewKafkaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const topic = "gatehouse.events.test"
	sink, err := NewKafkaSink(kc.Brokers, topic)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.EnsureTopic(ctx, 1, 1))
	require.NoError(t, sink.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	evt := NewEvent(DeliveryResolved, "dlv-1", "sec-1", time.Now().UTC(), map[string]string{"status": "delivered"})
	require.NoError(t, sink.Deliver(ctx, evt))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(kc.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "dlv-1", string(records[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(records[0].Value, &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, DeliveryResolved, decoded.Type)
}
