package kafkastore

import (
	"context"
	"encoding/json"
	"fmt"

	audit "ballotbox/pkg/platform/audit"
)

// Producer is the slice of a Kafka producer the store needs.
type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Store publishes audit events as JSON records keyed by election id, so all
// events of one election stay ordered on one partition.
type Store struct {
	producer Producer
}

func New(producer Producer) *Store {
	return &Store{producer: producer}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := event.ElectionID
	if key == "" {
		key = event.ID
	}
	return s.producer.Publish(ctx, key, value)
}
