// Package resilient wraps a ledger client with per-call timeouts, retries
// with exponential backoff and a circuit breaker.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"qgate/internal/ledger"
	"qgate/internal/platform/metrics"
	"qgate/pkg/platform/circuit"
	"qgate/pkg/platform/sentinel"
)

// ErrCircuitOpen is returned without calling the ledger while the breaker
// is open. It matches sentinel.ErrUnavailable.
var ErrCircuitOpen = fmt.Errorf("ledger circuit open: %w", sentinel.ErrUnavailable)

// Backoff shapes the delay between attempts.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// Delay returns the wait before attempt (1-based). The first attempt is
// immediate.
func (b Backoff) Delay(attempt int, rnd func() float64) time.Duration {
	if attempt <= 1 || b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt-2))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rnd != nil {
			f += rnd()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Client implements ledger.Client around an inner client.
type Client struct {
	inner    ledger.Client
	breaker  *circuit.Breaker
	timeout  time.Duration
	attempts int
	backoff  Backoff
	rnd      func() float64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Client)

// WithTimeout bounds each individual call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets the maximum attempts of idempotent calls and the backoff
// between them.
func WithRetries(attempts int, b Backoff) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.backoff = b
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithJitterSource overrides the random source used for jitter, for tests.
func WithJitterSource(rnd func() float64) Option {
	return func(c *Client) {
		if rnd != nil {
			c.rnd = rnd
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(inner ledger.Client, opts ...Option) (*Client, error) {
	if inner == nil {
		return nil, errors.New("inner ledger client is required")
	}
	c := &Client{
		inner:    inner,
		breaker:  circuit.New("ledger"),
		timeout:  10 * time.Second,
		attempts: 3,
		backoff: Backoff{
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
		rnd:    rand.Float64,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) LoadAccount(ctx context.Context, publicKey string) (*ledger.Account, error) {
	var acct *ledger.Account
	err := c.do(ctx, "load_account", c.attempts, func(ctx context.Context) error {
		var err error
		acct, err = c.inner.LoadAccount(ctx, publicKey)
		return err
	})
	return acct, err
}

func (c *Client) QueryTransactions(ctx context.Context, account string, limit int) ([]ledger.TransactionRecord, error) {
	var recs []ledger.TransactionRecord
	err := c.do(ctx, "query_transactions", c.attempts, func(ctx context.Context) error {
		var err error
		recs, err = c.inner.QueryTransactions(ctx, account, limit)
		return err
	})
	return recs, err
}

// SubmitTransaction makes a single attempt: a timed-out submission may
// still have been accepted, and the sequence number makes a blind resend
// fail anyway.
func (c *Client) SubmitTransaction(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error) {
	var receipt *ledger.Receipt
	err := c.do(ctx, "submit_transaction", 1, func(ctx context.Context) error {
		var err error
		receipt, err = c.inner.SubmitTransaction(ctx, tx)
		return err
	})
	return receipt, err
}

// Subscribe retries opening the stream but never bounds its lifetime.
func (c *Client) Subscribe(ctx context.Context, cursor string) (ledger.Subscription, error) {
	var sub ledger.Subscription
	err := c.retry(ctx, "subscribe", c.attempts, func(ctx context.Context) error {
		var err error
		sub, err = c.inner.Subscribe(ctx, cursor)
		return err
	})
	return sub, err
}

func (c *Client) do(ctx context.Context, op string, attempts int, call func(context.Context) error) error {
	return c.retry(ctx, op, attempts, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return call(callCtx)
	})
}

func (c *Client) retry(ctx context.Context, op string, attempts int, call func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.sleep(ctx, c.backoff.Delay(attempt, c.rnd)); err != nil {
			return err
		}
		if !c.breaker.Allow() {
			c.metrics.ObserveLedgerCall(op, "circuit_open", 0)
			return ErrCircuitOpen
		}

		start := time.Now()
		err := call(ctx)
		elapsed := time.Since(start)

		if err == nil {
			c.metrics.ObserveLedgerCall(op, "ok", elapsed)
			if _, change := c.breaker.RecordSuccess(); change.Closed {
				c.metrics.SetCircuitOpen(c.breaker.Name(), false)
				c.logger.InfoContext(ctx, "ledger circuit closed")
			}
			return nil
		}

		if !retryable(ctx, err) {
			c.metrics.ObserveLedgerCall(op, "error", elapsed)
			return err
		}
		c.metrics.ObserveLedgerCall(op, "unavailable", elapsed)
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.metrics.SetCircuitOpen(c.breaker.Name(), true)
			c.logger.WarnContext(ctx, "ledger circuit opened", "op", op, "error", err)
		}
		c.logger.DebugContext(ctx, "ledger call failed",
			"op", op,
			"attempt", attempt,
			"error", err,
		)
		lastErr = err
	}
	return fmt.Errorf("%s after %d attempts: %w", op, attempts, lastErr)
}

// retryable reports whether err is a transient ledger failure. A per-call
// timeout counts; cancellation of the caller's context does not.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, sentinel.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ ledger.Client = (*Client)(nil)
