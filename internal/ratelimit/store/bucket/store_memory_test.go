package bucket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ballotbox/internal/ratelimit/models"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2024, 11, 15, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryBucketStore(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "allow:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
	})

	s.Run("requests up to limit allowed", func() {
		var result *models.RateLimitResult
		var err error
		for range testLimit {
			result, err = s.store.Allow(s.ctx, "allow:limit", testLimit, testWindow)
		}
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(0, result.Remaining)
	})

	s.Run("request over limit denied", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "allow:over", testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, "allow:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(60, result.RetryAfter)
	})
}

func (s *InMemoryBucketStoreSuite) TestWindowSlides() {
	start := s.now
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "slide", testLimit, testWindow)
		s.Require().NoError(err)
	}

	s.now = start.Add(30 * time.Second)
	result, err := s.store.Allow(s.ctx, "slide", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed, "denied requests do not move the window")
	s.Equal(30, result.RetryAfter)

	s.now = start.Add(testWindow + time.Millisecond)
	result, err = s.store.Allow(s.ctx, "slide", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *InMemoryBucketStoreSuite) TestKeysAreIndependent() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "a", testLimit, testWindow)
		s.Require().NoError(err)
	}
	result, err := s.store.Allow(s.ctx, "b", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryBucketStoreSuite) TestResetAndSweep() {
	_, err := s.store.Allow(s.ctx, "reset", 1, testWindow)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reset(s.ctx, "reset"))
	result, err := s.store.Allow(s.ctx, "reset", 1, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)

	s.now = s.now.Add(2 * testWindow)
	s.Equal(1, s.store.Sweep())
	s.Equal(0, s.store.Sweep())
}

func (s *InMemoryBucketStoreSuite) TestConcurrentCallersShareTheBudget() {
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "concurrent", testLimit, testWindow)
			if err == nil && result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(testLimit), allowed.Load())
}
