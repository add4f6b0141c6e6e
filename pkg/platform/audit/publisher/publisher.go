package publisher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	audit "qgate/pkg/platform/audit"
	"qgate/pkg/platform/audit/worker"
)

// Publisher captures structured audit events. In sync mode Emit appends
// directly to the store. In async mode events go through a bounded buffer
// drained by a worker; a full buffer drops the event rather than blocking
// the caller.
type Publisher struct {
	store   audit.Store
	sampler *Sampler
	logger  *slog.Logger
	now     func() time.Time

	bufferSize int
	buffer     chan audit.Event
	done       chan struct{}
	closeOnce  sync.Once
	closed     bool
	mu         sync.RWMutex
}

type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a buffer of n events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

// WithSampler drops a share of operations events before they are stored.
func WithSampler(s *Sampler) Option {
	return func(p *Publisher) {
		p.sampler = s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.buffer = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(store, p.buffer, worker.WithLogger(p.logger))
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit records event, deriving its category from the action and stamping
// the time when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.sampler != nil && !p.sampler.Keep(event) {
		return nil
	}
	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.store.Append(ctx, event)
	}
	select {
	case p.buffer <- event:
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", event.Action,
			"subject", event.Subject,
		)
	}
	return nil
}

// List returns the events recorded for subject.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close stops accepting buffered events and waits until the buffer is
// drained. Emit after Close writes synchronously.
func (p *Publisher) Close() {
	if p.buffer == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.buffer)
		p.mu.Unlock()
		<-p.done
	})
}
