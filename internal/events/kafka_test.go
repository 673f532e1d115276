package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var results kgo.ProduceResults
	for _, r := range rs {
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func (p *fakeProducer) Close() { p.closed = true }

func TestKafkaSinkPublish(t *testing.T) {
	p := &fakeProducer{}
	sink := &KafkaSink{client: p, topic: "shardorch-events"}

	now := time.Now().UTC()
	require.NoError(t, sink.Publish(context.Background(), Event{
		Type:       ConfigApplied,
		Time:       now,
		ConfigName: "sharding_db",
		Version:    3,
	}))

	require.Len(t, p.records, 1)
	rec := p.records[0]
	assert.Equal(t, "shardorch-events", rec.Topic)
	assert.Equal(t, "sharding_db", string(rec.Key))
	assert.Equal(t, "config_applied", string(rec.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.EqualValues(t, 3, decoded.Version)
	assert.Equal(t, ConfigApplied, decoded.Type)

	require.NoError(t, sink.Close())
	assert.True(t, p.closed)
}

func TestKafkaSinkPublishError(t *testing.T) {
	p := &fakeProducer{err: errors.New("not leader")}
	sink := &KafkaSink{client: p, topic: "t"}
	err := sink.Publish(context.Background(), Event{Type: Shutdown})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not leader")
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := NewKafkaSink(context.Background(), KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaSink(context.Background(), KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}
