package tallycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ballotbox/internal/election/models"
	id "ballotbox/pkg/domain"
	"ballotbox/pkg/platform/circuit"
)

const keyPrefix = "ballotbox:tally:"

// DefaultTTL bounds how stale a cached tally can be when an invalidation is
// lost.
const DefaultTTL = 5 * time.Second

// generationTTL outlives any tally computation; an expired generation reads
// as zero again.
const generationTTL = 24 * time.Hour

// noGeneration tells the caller not to store what it computes.
const noGeneration int64 = -1

// setIfCurrent writes the tally only while the generation the reader saw
// is still current. KEYS[1] tally, KEYS[2] generation; ARGV generation,
// payload, ttl in ms.
var setIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if (current or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Cache stores computed tallies in Redis. While the breaker is open reads
// and writes are skipped and report a miss; invalidations are always
// attempted and show when Redis is back.
type Cache struct {
	client  redis.Cmdable
	ttl     time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Cache) {
		c.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func New(client redis.Cmdable, opts ...Option) *Cache {
	c := &Cache{client: client, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuit.New("tally-cache")
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Both keys share a hash tag so the script stays on one cluster slot.
func key(electionID id.ElectionID) string {
	return keyPrefix + "{" + electionID.String() + "}"
}

func generationKey(electionID id.ElectionID) string {
	return key(electionID) + ":gen"
}

// Get reads the tally and its generation in one round trip. On a miss the
// generation is what Set must be handed back.
func (c *Cache) Get(ctx context.Context, electionID id.ElectionID) ([]models.TallyEntry, int64, bool, error) {
	if c.breaker.IsOpen() {
		return nil, noGeneration, false, nil
	}
	values, err := c.client.MGet(ctx, key(electionID), generationKey(electionID)).Result()
	if err != nil {
		c.recordFailure(err)
		return nil, noGeneration, false, fmt.Errorf("get tally: %w", err)
	}
	c.recordSuccess()

	generation, err := parseGeneration(values[1])
	if err != nil {
		return nil, noGeneration, false, err
	}
	raw, ok := values[0].(string)
	if !ok {
		return nil, generation, false, nil
	}
	var entries []models.TallyEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, generation, false, fmt.Errorf("decode tally: %w", err)
	}
	return entries, generation, true, nil
}

func parseGeneration(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("tally generation: unexpected %T", v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tally generation: %w", err)
	}
	return n, nil
}

// Set stores entries unless the election was invalidated after generation
// was read. A stale write is dropped silently.
func (c *Cache) Set(ctx context.Context, electionID id.ElectionID, generation int64, entries []models.TallyEntry) error {
	if generation < 0 || c.breaker.IsOpen() {
		return nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode tally: %w", err)
	}
	stored, err := setIfCurrent.Run(ctx, c.client,
		[]string{key(electionID), generationKey(electionID)},
		strconv.FormatInt(generation, 10), raw, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		c.recordFailure(err)
		return fmt.Errorf("set tally: %w", err)
	}
	c.recordSuccess()
	if stored == 0 {
		c.logger.DebugContext(ctx, "dropped stale tally", "election_id", electionID.String(), "generation", generation)
	}
	return nil
}

// Invalidate bumps the generation and drops the tally atomically.
func (c *Cache) Invalidate(ctx context.Context, electionID id.ElectionID) error {
	genKey := generationKey(electionID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, key(electionID))
		return nil
	})
	if err != nil {
		c.recordFailure(err)
		return fmt.Errorf("invalidate tally: %w", err)
	}
	c.recordSuccess()
	return nil
}

func (c *Cache) recordFailure(err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("tally cache circuit opened", "breaker", c.breaker.Name(), "error", err)
	}
}

func (c *Cache) recordSuccess() {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("tally cache circuit closed", "breaker", c.breaker.Name())
	}
}
