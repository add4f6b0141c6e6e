// Package gate supervises the gate's long-running components under one
// errgroup.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"qgate/internal/ledger/resilient"
	"qgate/internal/listener"
)

// Runner is a component that runs until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunFunc adapts a function to Runner.
type RunFunc func(ctx context.Context) error

func (f RunFunc) Run(ctx context.Context) error { return f(ctx) }

type component struct {
	name    string
	runner  Runner
	restart bool
}

// Gate runs registered components concurrently. A fatal component error
// cancels the rest; restartable components are re-run with backoff.
type Gate struct {
	components []component
	backoff    resilient.Backoff
	jitter     func() float64
	logger     *slog.Logger
}

type Option func(*Gate)

// WithRestartBackoff sets the delay between restarts of restartable
// components.
func WithRestartBackoff(b resilient.Backoff) Option {
	return func(g *Gate) {
		g.backoff = b
	}
}

func WithJitterSource(fn func() float64) Option {
	return func(g *Gate) {
		if fn != nil {
			g.jitter = fn
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func New(opts ...Option) *Gate {
	g := &Gate{
		backoff: resilient.Backoff{
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
			Jitter:       true,
		},
		jitter: rand.Float64,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Add registers a component whose error stops the gate.
func (g *Gate) Add(name string, r Runner) {
	g.components = append(g.components, component{name: name, runner: r})
}

// AddRestarting registers a component that is restarted after it fails.
func (g *Gate) AddRestarting(name string, r Runner) {
	g.components = append(g.components, component{name: name, runner: r, restart: true})
}

// Run starts every component and blocks until ctx is cancelled or a
// fatal component fails. Cancellation is a clean stop and returns nil.
func (g *Gate) Run(ctx context.Context) error {
	if len(g.components) == 0 {
		return errors.New("no components registered")
	}
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range g.components {
		eg.Go(func() error {
			if c.restart {
				return g.supervise(ctx, c)
			}
			return g.once(ctx, c)
		})
	}
	g.logger.InfoContext(ctx, "gate started", "components", len(g.components))
	err := eg.Wait()
	g.logger.Info("gate stopped", "error", err)
	return err
}

func (g *Gate) once(ctx context.Context, c component) error {
	err := c.runner.Run(ctx)
	if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	g.logger.ErrorContext(ctx, "component failed", "component", c.name, "error", err)
	return fmt.Errorf("%s: %w", c.name, err)
}

// supervise re-runs c until ctx is done. The attempt count resets after a
// run that outlasted the maximum backoff.
func (g *Gate) supervise(ctx context.Context, c component) error {
	attempt := 1
	for {
		started := time.Now()
		err := c.runner.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if g.backoff.MaxDelay > 0 && time.Since(started) > g.backoff.MaxDelay {
			attempt = 1
		}
		attempt++
		delay := g.backoff.Delay(attempt, g.jitter)
		g.logger.WarnContext(ctx, "component stopped, restarting",
			"component", c.name,
			"attempt", attempt-1,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// ResultSink drains listener results and logs failures so the listener
// never blocks on a full results channel.
type ResultSink struct {
	results <-chan listener.Result
	logger  *slog.Logger
}

func NewResultSink(results <-chan listener.Result, logger *slog.Logger) *ResultSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ResultSink{results: results, logger: logger}
}

func (s *ResultSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-s.results:
			if !ok {
				return nil
			}
			s.log(ctx, res)
		}
	}
}

func (s *ResultSink) log(ctx context.Context, res listener.Result) {
	attrs := []any{
		"record_id", res.RecordID,
		"asset_id", res.AssetID.String(),
		"verdict", res.Verdict.String(),
	}
	if res.Transfer != nil && res.Transfer.Receipt != nil {
		attrs = append(attrs, "hash", res.Transfer.Receipt.Hash)
	}
	if res.Migration != "" {
		attrs = append(attrs, "migration", string(res.Migration))
	}
	if res.Err != nil {
		s.logger.WarnContext(ctx, "listener record failed", append(attrs, "error", res.Err)...)
		return
	}
	s.logger.DebugContext(ctx, "listener record processed", attrs...)
}
