//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"ballotbox/internal/platform/config"
	"ballotbox/pkg/testutil/containers"
)

type ProducerSuite struct {
	suite.Suite
	broker string
}

func TestProducerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerSuite))
}

func (s *ProducerSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T()).Broker
}

func (s *ProducerSuite) TestPublishRoundTrip() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "election-events-" + uuid.NewString()[:8]
	p, err := NewProducer(config.KafkaConfig{Brokers: []string{s.broker}, Topic: topic})
	s.Require().NoError(err)
	defer func() { _ = p.Close(context.Background()) }()

	s.Require().NoError(p.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(p.EnsureTopic(ctx, 1, 1), "existing topic is not an error")
	s.Require().NoError(p.Publish(ctx, "election-1", []byte(`{"action":"vote_cast"}`)))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var got []*kgo.Record
	for len(got) == 0 && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		s.Require().Empty(fetches.Errors())
		fetches.EachRecord(func(r *kgo.Record) {
			got = append(got, r)
		})
	}
	s.Require().Len(got, 1)
	s.Equal("election-1", string(got[0].Key))
	s.JSONEq(`{"action":"vote_cast"}`, string(got[0].Value))
}
