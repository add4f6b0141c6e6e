// Package readiness tracks whether ledger activity is high enough to treat
// the network as live.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"qgate/internal/ledger"
	"qgate/internal/platform/metrics"
)

const (
	DefaultInterval = 300 * time.Second
	DefaultWindow   = 1000
)

// Monitor periodically counts recent global ledger activity and flips a
// readiness flag. Only the monitor writes the flag.
type Monitor struct {
	history   ledger.HistoryReader
	interval  time.Duration
	window    int
	threshold int
	timeout   time.Duration

	mu       sync.RWMutex
	ready    bool
	observed int
	checked  time.Time

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithWindow sets how many recent transactions each tick requests. The
// threshold follows the window unless set explicitly.
func WithWindow(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.window = n
		}
	}
}

func WithThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// WithTimeout bounds each tick's ledger query.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.timeout = d
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a monitor that starts not ready.
func New(history ledger.HistoryReader, opts ...Option) (*Monitor, error) {
	if history == nil {
		return nil, errors.New("history reader is required")
	}
	m := &Monitor{
		history:  history,
		interval: DefaultInterval,
		window:   DefaultWindow,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.threshold <= 0 {
		m.threshold = m.window
	}
	return m, nil
}

// Ready reports the flag set by the last successful tick.
func (m *Monitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Status is a snapshot of the monitor for the ops surface.
type Status struct {
	Ready       bool      `json:"ready"`
	Observed    int       `json:"observed"`
	Threshold   int       `json:"threshold"`
	LastChecked time.Time `json:"last_checked"`
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Ready:       m.ready,
		Observed:    m.observed,
		Threshold:   m.threshold,
		LastChecked: m.checked,
	}
}

// Tick queries the most recent window of global activity and sets the flag
// to count >= threshold. On error the previous flag is kept.
func (m *Monitor) Tick(ctx context.Context) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	recs, err := m.history.QueryTransactions(ctx, "", m.window)
	if err != nil {
		m.logger.WarnContext(ctx, "readiness check failed, keeping previous state",
			"ready", m.Ready(),
			"error", err,
		)
		return fmt.Errorf("count ledger activity: %w", err)
	}

	count := len(recs)
	ready := count >= m.threshold

	m.mu.Lock()
	changed := ready != m.ready
	m.ready = ready
	m.observed = count
	m.checked = m.now()
	m.mu.Unlock()

	m.metrics.SetReadiness(ready, count)
	if changed {
		m.logger.InfoContext(ctx, "readiness changed",
			"ready", ready,
			"observed", count,
			"threshold", m.threshold,
		)
	}
	return nil
}

// Run ticks immediately and then every interval until ctx is cancelled.
// Tick errors are logged inside Tick and never stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
	_ = m.Tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = m.Tick(ctx)
		}
	}
}
