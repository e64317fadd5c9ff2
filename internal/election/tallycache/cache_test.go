package tallycache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotbox/internal/election/service"
	id "ballotbox/pkg/domain"
	"ballotbox/pkg/platform/circuit"
)

var _ service.TallyCache = (*Cache)(nil)

// unreachableClient fails fast: nothing listens on port 1 and retries are off.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBreakerOpensAndSkipsRedis(t *testing.T) {
	breaker := circuit.New("test", circuit.WithFailureThreshold(2))
	cache := New(unreachableClient(t), WithBreaker(breaker))
	ctx := context.Background()
	electionID := id.NewElectionID()

	_, _, _, err := cache.Get(ctx, electionID)
	require.Error(t, err)
	require.Error(t, cache.Set(ctx, electionID, 0, nil))
	assert.True(t, breaker.IsOpen())

	entries, generation, ok, err := cache.Get(ctx, electionID)
	assert.NoError(t, err, "an open breaker reports a miss")
	assert.False(t, ok)
	assert.Nil(t, entries)
	assert.Negative(t, generation, "an open breaker cannot vouch for a generation")
	assert.NoError(t, cache.Set(ctx, electionID, 0, nil))

	assert.Error(t, cache.Invalidate(ctx, electionID), "invalidations still reach redis")
}

func TestSetWithoutGenerationIsSkipped(t *testing.T) {
	cache := New(unreachableClient(t))
	assert.NoError(t, cache.Set(context.Background(), id.NewElectionID(), noGeneration, nil))
}

func TestKeysShareAHashSlot(t *testing.T) {
	electionID := id.NewElectionID()
	assert.Equal(t, "ballotbox:tally:{"+electionID.String()+"}", key(electionID))
	assert.Equal(t, "ballotbox:tally:{"+electionID.String()+"}:gen", generationKey(electionID))
}

func TestParseGeneration(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{name: "missing key is zero", in: nil, want: 0},
		{name: "counter", in: "7", want: 7},
		{name: "garbage", in: "seven", wantErr: true},
		{name: "wrong type", in: int64(7), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGeneration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
