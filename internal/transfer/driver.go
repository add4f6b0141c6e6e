package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"qgate/internal/ledger"
)

// DefaultDriverInterval is the period between driver passes.
const DefaultDriverInterval = 60 * time.Second

// Pair is a configured (asset, destination) the driver transfers for.
type Pair struct {
	AssetID     ledger.AssetID
	Destination string
}

// Enforcer is the executor operation the driver calls.
type Enforcer interface {
	EnforceFixedValueTransfer(ctx context.Context, destination string, id ledger.AssetID) (*Result, error)
}

// Driver periodically enforces transfers for a fixed set of pairs.
type Driver struct {
	executor Enforcer
	pairs    []Pair
	interval time.Duration
	logger   *slog.Logger
}

type DriverOption func(*Driver)

func WithDriverInterval(d time.Duration) DriverOption {
	return func(dr *Driver) {
		if d > 0 {
			dr.interval = d
		}
	}
}

func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(dr *Driver) {
		if logger != nil {
			dr.logger = logger
		}
	}
}

func NewDriver(executor Enforcer, pairs []Pair, opts ...DriverOption) (*Driver, error) {
	if executor == nil {
		return nil, errors.New("transfer executor is required")
	}
	d := &Driver{
		executor: executor,
		pairs:    append([]Pair(nil), pairs...),
		interval: DefaultDriverInterval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// RunOnce enforces every pair once. Errors are logged and the pass
// continues; the number of failed pairs is returned.
func (d *Driver) RunOnce(ctx context.Context) int {
	failed := 0
	for _, p := range d.pairs {
		if ctx.Err() != nil {
			return failed
		}
		if _, err := d.executor.EnforceFixedValueTransfer(ctx, p.Destination, p.AssetID); err != nil {
			failed++
			d.logger.ErrorContext(ctx, "scheduled transfer failed",
				"asset_id", p.AssetID.String(),
				"destination", p.Destination,
				"error", err,
			)
		}
	}
	return failed
}

// Run makes a pass immediately and then every interval until ctx ends.
func (d *Driver) Run(ctx context.Context) error {
	if len(d.pairs) == 0 {
		d.logger.InfoContext(ctx, "transfer driver has no pairs configured")
		<-ctx.Done()
		return ctx.Err()
	}

	d.RunOnce(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}
