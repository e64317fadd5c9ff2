package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "ballotbox/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer has no room.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher fills in event defaults and hands events to a store, either
// synchronously or through a bounded buffer drained by one goroutine.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics

	bufferSize int
	buffer     chan audit.Event
	mu         sync.RWMutex
	closed     bool
	done       chan struct{}
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking: events queue in a buffer of size n
// and are appended in the background.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.bufferSize = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.buffer = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

// Emit records event. In async mode it returns ErrBufferFull instead of
// blocking when the buffer is full, or the context error if ctx is done.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.buffer == nil {
		return p.persist(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.persist(ctx, event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.buffer <- event:
		p.metrics.SetBufferDepth(len(p.buffer))
		return nil
	default:
		p.metrics.IncDropped()
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit buffer full, dropping event",
				"action", event.Action,
				"election_id", event.ElectionID,
			)
		}
		return ErrBufferFull
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.IncPersistFailures()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "failed to persist audit event",
				"action", event.Action,
				"election_id", event.ElectionID,
				"error", err,
			)
		}
		return err
	}
	p.metrics.IncEmitted(string(event.Category))
	return nil
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.buffer {
		// Emitting request contexts are gone by now.
		_ = p.persist(context.Background(), event)
		p.metrics.SetBufferDepth(len(p.buffer))
	}
}

// Close stops accepting async events and waits until the buffer is drained.
// Emit after Close writes synchronously.
func (p *Publisher) Close() {
	if p.buffer == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.buffer)
	p.mu.Unlock()
	<-p.done
}
