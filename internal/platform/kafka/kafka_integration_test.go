//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "carbonproof/pkg/platform/audit"
	kafkastore "carbonproof/pkg/platform/audit/store/kafka"
	"carbonproof/pkg/testutil/containers"
)

func TestAuditRoundTrip(t *testing.T) {
	rp := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := Config{Brokers: []string{rp.Broker}, Topic: "carbonproof.audit"}
	producer, err := NewClient(cfg)
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, EnsureTopic(ctx, producer, cfg))
	require.NoError(t, EnsureTopic(ctx, producer, cfg), "existing topic is not an error")

	store := kafkastore.New(producer, cfg.Topic)
	require.NoError(t, store.Append(ctx, audit.Event{
		ID:        "e-1",
		ProjectID: 42,
		Action:    string(audit.EventProjectValidated),
		Timestamp: time.Now().UTC(),
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.NotEmpty(t, records)
	assert.Equal(t, "42", string(records[0].Key))
}
