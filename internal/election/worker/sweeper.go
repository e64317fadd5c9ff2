package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKey = "ballotbox:sweep:lock"

// Sweeper applies date-driven lifecycle transitions.
type Sweeper interface {
	SweepDue(ctx context.Context, now time.Time) (int, error)
}

// Runner calls SweepDue on a fixed interval. With a Redis client it takes a
// short lease first so only one replica sweeps per tick; if Redis is down
// the sweep still runs.
type Runner struct {
	sweeper  Sweeper
	interval time.Duration
	lockTTL  time.Duration
	redis    redis.Cmdable
	owner    string
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Runner)

func WithRedisLock(client redis.Cmdable, ttl time.Duration) Option {
	return func(r *Runner) {
		r.redis = client
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func NewRunner(sweeper Sweeper, interval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		sweeper:  sweeper,
		interval: interval,
		lockTTL:  interval,
		owner:    uuid.NewString(),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start sweeps once immediately and then on every tick until ctx is
// cancelled. Sweep failures are logged; the loop keeps going.
func (r *Runner) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", r.interval)
	}
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.ErrorContext(ctx, "lifecycle sweep failed", "error", err)
	}
}

// RunOnce performs a single sweep and returns the number of elections it
// moved. It returns 0 without sweeping when another replica holds the lease.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	if !r.acquire(ctx) {
		r.logger.DebugContext(ctx, "lifecycle sweep skipped, lease held elsewhere")
		return 0, nil
	}

	applied, err := r.sweeper.SweepDue(ctx, r.now())
	if applied > 0 {
		r.logger.InfoContext(ctx, "lifecycle sweep applied transitions", "elections", applied)
	}
	return applied, err
}

// acquire fails open: when Redis cannot answer, every replica sweeps.
// SweepDue re-checks each election under its row lock, so a double sweep
// applies each transition once.
func (r *Runner) acquire(ctx context.Context) bool {
	if r.redis == nil {
		return true
	}
	ok, err := r.redis.SetNX(ctx, lockKey, r.owner, r.lockTTL).Result()
	if err != nil {
		r.logger.WarnContext(ctx, "sweep lease unavailable, sweeping without it", "error", err)
		return true
	}
	return ok
}
