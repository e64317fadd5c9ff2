package kafkastore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ballotbox/pkg/platform/audit"
)

type record struct {
	key   string
	value []byte
}

type fakeProducer struct {
	records []record
	err     error
}

func (f *fakeProducer) Publish(_ context.Context, key string, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record{key: key, value: value})
	return nil
}

func TestAppendKeysByElection(t *testing.T) {
	producer := &fakeProducer{}
	store := New(producer)

	err := store.Append(context.Background(), audit.Event{
		ID:         "evt-1",
		Action:     string(audit.EventVoteCast),
		ElectionID: "election-1",
		BallotID:   "ballot-1",
	})
	require.NoError(t, err)
	require.Len(t, producer.records, 1)
	assert.Equal(t, "election-1", producer.records[0].key)

	var decoded audit.Event
	require.NoError(t, json.Unmarshal(producer.records[0].value, &decoded))
	assert.Equal(t, "ballot-1", decoded.BallotID)
	assert.Equal(t, string(audit.EventVoteCast), decoded.Action)
}

func TestAppendFallsBackToEventID(t *testing.T) {
	producer := &fakeProducer{}
	require.NoError(t, New(producer).Append(context.Background(), audit.Event{ID: "evt-2", Action: "rate_limit_exceeded"}))
	assert.Equal(t, "evt-2", producer.records[0].key)
}

func TestAppendReturnsProducerError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker unavailable")}
	err := New(producer).Append(context.Background(), audit.Event{ID: "evt-3"})
	assert.ErrorContains(t, err, "broker unavailable")
}
