package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"qgate/internal/consensus"
	"qgate/internal/ledger"
	"qgate/internal/platform/metrics"
	"qgate/internal/provenance"
	audit "qgate/pkg/platform/audit"
)

// DefaultEvaluationTimeout bounds one shared precondition evaluation.
const DefaultEvaluationTimeout = 30 * time.Second

// Controller evaluates migration preconditions in a fixed order and
// performs the transition at most once per asset.
type Controller struct {
	store     Store
	readiness Readiness
	voter     Voter
	filter    Provenance

	batchSize   int
	probability float64
	threshold   float64
	evalTimeout time.Duration

	group   singleflight.Group
	tracer  trace.Tracer
	auditor audit.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Controller)

// WithVoting sets the batch cast per attempt and the approval threshold.
func WithVoting(batchSize int, probability, threshold float64) Option {
	return func(c *Controller) {
		if batchSize > 0 {
			c.batchSize = batchSize
		}
		c.probability = probability
		c.threshold = threshold
	}
}

// WithEvaluationTimeout bounds a shared evaluation. The evaluation does not
// end when the caller that started it goes away.
func WithEvaluationTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.evalTimeout = d
		}
	}
}

func WithAuditor(a audit.Emitter) Option {
	return func(c *Controller) {
		c.auditor = a
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store Store, readiness Readiness, voter Voter, filter Provenance, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("migration store is required")
	}
	if readiness == nil {
		return nil, errors.New("readiness monitor is required")
	}
	if voter == nil {
		return nil, errors.New("consensus engine is required")
	}
	if filter == nil {
		return nil, errors.New("provenance filter is required")
	}
	c := &Controller{
		store:       store,
		readiness:   readiness,
		voter:       voter,
		filter:      filter,
		batchSize:   consensus.DefaultBatchSize,
		probability: consensus.DefaultProbability,
		threshold:   consensus.DefaultThreshold,
		evalTimeout: DefaultEvaluationTimeout,
		tracer:      otel.Tracer("qgate/migration"),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Status returns the stored migration state of id.
func (c *Controller) Status(ctx context.Context, id ledger.AssetID) (State, error) {
	return c.store.State(ctx, id)
}

// Attempt migrates id if every precondition holds. Concurrent attempts on
// the same id share one evaluation; callers that did not run it see
// OutcomeAlreadyMigrated when it migrated. The evaluation is detached from
// the caller that started it, so a cancelled caller returns its own context
// error without failing the others.
func (c *Controller) Attempt(ctx context.Context, id ledger.AssetID) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "migration.Attempt", trace.WithAttributes(
		attribute.String("asset_id", id.String()),
	))
	defer span.End()

	detached := context.WithoutCancel(ctx)
	var led bool
	ch := c.group.DoChan(id.String(), func() (any, error) {
		led = true
		evalCtx, cancel := context.WithTimeout(detached, c.evalTimeout)
		defer cancel()
		return c.attempt(evalCtx, id)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return "", ctx.Err()
	}
	v, err := res.Val, res.Err
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	outcome := v.(Outcome)
	if outcome == OutcomeMigrated && !led {
		outcome = OutcomeAlreadyMigrated
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	return outcome, nil
}

func (c *Controller) attempt(ctx context.Context, id ledger.AssetID) (Outcome, error) {
	state, err := c.store.State(ctx, id)
	if err != nil {
		return "", fmt.Errorf("read migration state: %w", err)
	}
	if state == StateMigrated {
		return c.finish(ctx, id, OutcomeAlreadyMigrated), nil
	}

	if !c.readiness.Ready() {
		return c.finish(ctx, id, OutcomeNotReady), nil
	}

	if err := c.voter.CastVotes(ctx, c.batchSize, c.probability); err != nil {
		return "", fmt.Errorf("cast votes: %w", err)
	}
	agreed, err := c.voter.ConsensusReached(c.threshold)
	if err != nil {
		return "", fmt.Errorf("evaluate consensus: %w", err)
	}
	if !agreed {
		return c.finish(ctx, id, OutcomeNoConsensus), nil
	}

	verdict, err := c.filter.CheckFresh(ctx, id)
	if err != nil {
		return "", fmt.Errorf("check provenance: %w", err)
	}
	if verdict != provenance.VerdictClean {
		return c.finish(ctx, id, OutcomeTainted), nil
	}

	migrated, err := c.store.MarkMigrated(ctx, id, c.now())
	if err != nil {
		return "", fmt.Errorf("mark migrated: %w", err)
	}
	if !migrated {
		return c.finish(ctx, id, OutcomeAlreadyMigrated), nil
	}
	return c.finish(ctx, id, OutcomeMigrated), nil
}

func (c *Controller) finish(ctx context.Context, id ledger.AssetID, outcome Outcome) Outcome {
	c.metrics.IncrementMigrationAttempt(string(outcome))

	switch outcome {
	case OutcomeMigrated:
		c.logger.InfoContext(ctx, "asset migrated", "asset_id", id.String())
		c.emit(ctx, id, audit.EventMigrationCompleted, outcome)
	case OutcomeAlreadyMigrated:
		c.logger.DebugContext(ctx, "asset already migrated", "asset_id", id.String())
	default:
		c.logger.InfoContext(ctx, "migration preconditions not met",
			"asset_id", id.String(),
			"outcome", string(outcome),
		)
		c.emit(ctx, id, audit.EventMigrationDeferred, outcome)
	}
	return outcome
}

func (c *Controller) emit(ctx context.Context, id ledger.AssetID, action audit.AuditEvent, outcome Outcome) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.Emit(ctx, audit.Event{
		Subject:  id.String(),
		Action:   string(action),
		Decision: string(outcome),
	}); err != nil {
		c.logger.WarnContext(ctx, "failed to emit audit event", "asset_id", id.String(), "error", err)
	}
}
