// Package listener consumes the live ledger stream and drives every
// observed asset through provenance, transfer and migration.
package listener

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"qgate/internal/ledger"
	"qgate/internal/migration"
	"qgate/internal/platform/metrics"
	"qgate/internal/provenance"
	"qgate/internal/transfer"
)

// Screener classifies an asset before anything else happens to it.
type Screener interface {
	Check(ctx context.Context, id ledger.AssetID) (provenance.Verdict, error)
}

// Transferrer enforces the fixed-value transfer for a clean asset.
type Transferrer interface {
	EnforceFixedValueTransfer(ctx context.Context, destination string, id ledger.AssetID) (*transfer.Result, error)
}

// Migrator attempts the one-way migration of an asset.
type Migrator interface {
	Attempt(ctx context.Context, id ledger.AssetID) (migration.Outcome, error)
}

// Result reports how one stream record was handled.
type Result struct {
	ID          uuid.UUID
	RecordID    string
	AssetID     ledger.AssetID
	Verdict     provenance.Verdict
	Transfer    *transfer.Result
	Migration   migration.Outcome
	Err         error
	ProcessedAt time.Time
}

const shardBuffer = 64

// Listener reads the stream and fans records out to workers. Records of
// one identifier always land on the same worker, so per-identifier order
// is preserved while different identifiers run in parallel.
type Listener struct {
	stream   ledger.Streamer
	filter   Screener
	executor Transferrer
	migrator Migrator

	workers int
	results chan<- Result
	ignore  map[string]struct{}
	tracer  trace.Tracer
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Listener)

// WithWorkers sets the number of processing goroutines.
func WithWorkers(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithResults sends a Result for every processed record on ch. Sends block
// until the receiver is ready or the context ends.
func WithResults(ch chan<- Result) Option {
	return func(l *Listener) {
		l.results = ch
	}
}

// WithIgnoredSources drops records sent by any of accounts, typically the
// gate's own submitting account, so its transfers do not loop back.
func WithIgnoredSources(accounts ...string) Option {
	return func(l *Listener) {
		for _, a := range accounts {
			if a != "" {
				l.ignore[a] = struct{}{}
			}
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Listener) {
		l.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(stream ledger.Streamer, filter Screener, executor Transferrer, migrator Migrator, opts ...Option) (*Listener, error) {
	if stream == nil {
		return nil, errors.New("ledger stream is required")
	}
	if filter == nil || executor == nil || migrator == nil {
		return nil, errors.New("filter, executor and migrator are required")
	}
	l := &Listener{
		stream:   stream,
		filter:   filter,
		executor: executor,
		migrator: migrator,
		workers:  1,
		ignore:   make(map[string]struct{}),
		tracer:   otel.Tracer("qgate/listener"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Identifier extracts the asset identifier of a record: its account, or
// the source account when the account is unset.
func Identifier(rec ledger.TransactionRecord) ledger.AssetID {
	if rec.Account != "" {
		return ledger.AssetID(rec.Account)
	}
	return ledger.AssetID(rec.Source)
}

// Run subscribes at the live cursor and processes records until the stream
// fails, ends, or ctx is cancelled. Records already handed to workers are
// finished before Run returns.
func (l *Listener) Run(ctx context.Context) error {
	sub, err := l.stream.Subscribe(ctx, ledger.CursorNow)
	if err != nil {
		return fmt.Errorf("subscribe to ledger stream: %w", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			l.logger.WarnContext(ctx, "failed to close ledger subscription", "error", err)
		}
	}()

	l.logger.InfoContext(ctx, "listening to ledger stream", "workers", l.workers)

	shards := make([]chan ledger.TransactionRecord, l.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan ledger.TransactionRecord, shardBuffer)
		wg.Add(1)
		go func(in <-chan ledger.TransactionRecord) {
			defer wg.Done()
			for rec := range in {
				l.handle(ctx, rec)
			}
		}(shards[i])
	}

	err = l.pump(ctx, sub, shards)
	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
	return err
}

func (l *Listener) pump(ctx context.Context, sub ledger.Subscription, shards []chan ledger.TransactionRecord) error {
	for {
		rec, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		id := Identifier(rec)
		if id == "" {
			l.metrics.IncrementListenerRecord("dropped")
			l.logger.DebugContext(ctx, "dropping record without identifier", "transaction_id", rec.ID)
			continue
		}
		if _, ok := l.ignore[rec.Source]; ok {
			l.metrics.IncrementListenerRecord("dropped")
			continue
		}
		select {
		case shards[shardFor(id, len(shards))] <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func shardFor(id ledger.AssetID, n int) int {
	if n == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}

func (l *Listener) handle(ctx context.Context, rec ledger.TransactionRecord) {
	id := Identifier(rec)
	ctx, span := l.tracer.Start(ctx, "listener.handle", trace.WithAttributes(
		attribute.String("asset_id", id.String()),
		attribute.String("transaction_id", rec.ID),
	))
	defer span.End()

	res := l.process(ctx, id, rec)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	l.publish(ctx, res)
}

func (l *Listener) process(ctx context.Context, id ledger.AssetID, rec ledger.TransactionRecord) Result {
	res := Result{ID: uuid.New(), RecordID: rec.ID, AssetID: id}

	verdict, err := l.filter.Check(ctx, id)
	if err != nil {
		return l.failed(ctx, res, "provenance check failed", err)
	}
	res.Verdict = verdict
	if verdict != provenance.VerdictClean {
		l.metrics.IncrementListenerRecord("tainted")
		l.logger.WarnContext(ctx, "dropping tainted asset", "asset_id", id.String(), "transaction_id", rec.ID)
		res.ProcessedAt = l.now()
		return res
	}

	tr, err := l.executor.EnforceFixedValueTransfer(ctx, id.String(), id)
	if err != nil {
		return l.failed(ctx, res, "transfer failed", err)
	}
	res.Transfer = tr
	if tr.Skipped {
		l.metrics.IncrementListenerRecord("tainted")
		res.ProcessedAt = l.now()
		return res
	}

	outcome, err := l.migrator.Attempt(ctx, id)
	if err != nil {
		return l.failed(ctx, res, "migration attempt failed", err)
	}
	res.Migration = outcome
	res.ProcessedAt = l.now()

	l.metrics.IncrementListenerRecord("processed")
	return res
}

func (l *Listener) failed(ctx context.Context, res Result, msg string, err error) Result {
	l.metrics.IncrementListenerRecord("failed")
	l.logger.ErrorContext(ctx, msg,
		"asset_id", res.AssetID.String(),
		"transaction_id", res.RecordID,
		"error", err,
	)
	res.Err = err
	res.ProcessedAt = l.now()
	return res
}

func (l *Listener) publish(ctx context.Context, res Result) {
	if l.results == nil {
		return
	}
	select {
	case l.results <- res:
	case <-ctx.Done():
	}
}
