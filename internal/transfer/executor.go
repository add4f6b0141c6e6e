// Package transfer builds, seals and submits fixed-value transfers for
// assets that pass the provenance filter.
package transfer

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

	"qgate/internal/envelope"
	"qgate/internal/ledger"
	"qgate/internal/platform/metrics"
	"qgate/internal/provenance"
	audit "qgate/pkg/platform/audit"
)

const (
	// FixedValue is the only amount the gate ever transfers.
	FixedValue int64 = 314159
	// BaseFee is the per-operation fee attached to built transactions.
	BaseFee int64 = 100
	// AnnotationPrefix tags the envelope fingerprint in the ledger memo.
	AnnotationPrefix = "qs:"
)

var (
	// ErrSubmission wraps account load and submission failures. It is
	// retryable; the executor itself never retries.
	ErrSubmission = errors.New("transfer submission failed")
	// ErrInvalidDestination rejects an empty destination account.
	ErrInvalidDestination = errors.New("transfer destination is required")
)

// Screener is the provenance check run before every transfer.
type Screener interface {
	Check(ctx context.Context, id ledger.AssetID) (provenance.Verdict, error)
}

// Sealer wraps payloads in a signed envelope.
type Sealer interface {
	Encapsulate(payload []byte) (*envelope.Envelope, error)
}

// EnvelopeSink publishes sealed envelopes for counterparties.
type EnvelopeSink interface {
	PublishEnvelope(ctx context.Context, contentID string, env *envelope.Envelope) error
}

// Result describes one enforcement call.
type Result struct {
	AssetID     ledger.AssetID      `json:"asset_id"`
	Destination string              `json:"destination"`
	Verdict     string              `json:"verdict"`
	Skipped     bool                `json:"skipped"`
	Fingerprint string              `json:"fingerprint,omitempty"`
	ContentID   string              `json:"content_id,omitempty"`
	Receipt     *ledger.Receipt     `json:"receipt,omitempty"`
	Transaction *ledger.Transaction `json:"-"`
}

// Executor enforces the fixed-value transfer rule.
type Executor struct {
	filter    Screener
	sealer    Sealer
	accounts  ledger.AccountLoader
	submitter ledger.Submitter
	account   string

	fee     int64
	sink    EnvelopeSink
	tracer  trace.Tracer
	auditor audit.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Executor)

func WithFee(fee int64) Option {
	return func(e *Executor) {
		if fee > 0 {
			e.fee = fee
		}
	}
}

func WithEnvelopeSink(sink EnvelopeSink) Option {
	return func(e *Executor) {
		e.sink = sink
	}
}

func WithAuditor(a audit.Emitter) Option {
	return func(e *Executor) {
		e.auditor = a
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an executor submitting from the gate account.
func New(filter Screener, sealer Sealer, accounts ledger.AccountLoader, submitter ledger.Submitter, account string, opts ...Option) (*Executor, error) {
	if filter == nil {
		return nil, errors.New("provenance filter is required")
	}
	if sealer == nil {
		return nil, errors.New("envelope service is required")
	}
	if accounts == nil || submitter == nil {
		return nil, errors.New("ledger client is required")
	}
	if account == "" {
		return nil, errors.New("gate account is required")
	}
	e := &Executor{
		filter:    filter,
		sealer:    sealer,
		accounts:  accounts,
		submitter: submitter,
		account:   account,
		fee:       BaseFee,
		tracer:    otel.Tracer("qgate/transfer"),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Payload is the plaintext sealed for a transfer to destination.
func Payload(destination string) []byte {
	return fmt.Appendf(nil, "Transfer %d PI to %s at value %d", FixedValue, destination, FixedValue)
}

// EnforceFixedValueTransfer transfers FixedValue to destination on behalf
// of id. A tainted id is skipped without building a transaction.
func (e *Executor) EnforceFixedValueTransfer(ctx context.Context, destination string, id ledger.AssetID) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.EnforceFixedValueTransfer", trace.WithAttributes(
		attribute.String("asset_id", id.String()),
		attribute.String("destination", destination),
	))
	defer span.End()

	start := e.now()
	res, err := e.enforce(ctx, destination, id)
	e.metrics.ObserveTransfer(e.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("skipped", res.Skipped))
	return res, nil
}

func (e *Executor) enforce(ctx context.Context, destination string, id ledger.AssetID) (*Result, error) {
	if destination == "" {
		return nil, ErrInvalidDestination
	}

	verdict, err := e.filter.Check(ctx, id)
	if err != nil {
		e.metrics.IncrementTransfer("failed")
		return nil, fmt.Errorf("check provenance of %s: %w", id, err)
	}
	res := &Result{AssetID: id, Destination: destination, Verdict: verdict.String()}
	if verdict != provenance.VerdictClean {
		res.Skipped = true
		e.metrics.IncrementTransfer("skipped")
		e.logger.InfoContext(ctx, "transfer skipped for tainted asset",
			"asset_id", id.String(),
			"destination", destination,
		)
		e.emit(ctx, audit.EventTransferSkipped, id, verdict.String(), "")
		return res, nil
	}

	env, err := e.sealer.Encapsulate(Payload(destination))
	if err != nil {
		e.metrics.IncrementTransfer("failed")
		return nil, fmt.Errorf("seal transfer payload: %w", err)
	}
	res.Fingerprint = envelope.Fingerprint(env.Signature)

	acct, err := e.accounts.LoadAccount(ctx, e.account)
	if err != nil {
		return nil, e.fail(ctx, id, fmt.Errorf("%w: load account %s: %w", ErrSubmission, e.account, err))
	}

	tx := &ledger.Transaction{
		Source:   acct.PublicKey,
		Sequence: acct.Sequence + 1,
		Fee:      e.fee,
		Payments: []ledger.Payment{{
			Destination: destination,
			Asset:       ledger.NativeAsset,
			Amount:      FixedValue,
		}},
		Annotation: AnnotationPrefix + res.Fingerprint,
		AssetID:    id,
	}
	res.Transaction = tx

	receipt, err := e.submitter.SubmitTransaction(ctx, tx)
	if err != nil {
		return nil, e.fail(ctx, id, fmt.Errorf("%w: %w", ErrSubmission, err))
	}
	res.Receipt = receipt

	e.metrics.IncrementTransfer("submitted")
	e.logger.InfoContext(ctx, "transfer submitted",
		"asset_id", id.String(),
		"destination", destination,
		"hash", receipt.Hash,
		"fingerprint", res.Fingerprint,
	)
	e.emit(ctx, audit.EventTransferSubmitted, id, verdict.String(), receipt.Hash)

	if e.sink != nil {
		res.ContentID = e.publish(ctx, id, env)
	}
	return res, nil
}

// publish hands env to the sink. The transfer already succeeded, so a
// failure here is logged and not returned.
func (e *Executor) publish(ctx context.Context, id ledger.AssetID, env *envelope.Envelope) string {
	cid, err := envelope.ContentID(env)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to derive envelope content id", "asset_id", id.String(), "error", err)
		return ""
	}
	if err := e.sink.PublishEnvelope(ctx, cid, env); err != nil {
		e.logger.WarnContext(ctx, "failed to publish envelope",
			"asset_id", id.String(),
			"content_id", cid,
			"error", err,
		)
		return cid
	}
	e.metrics.IncrementEnvelopesPublished()
	return cid
}

func (e *Executor) fail(ctx context.Context, id ledger.AssetID, err error) error {
	e.metrics.IncrementTransfer("failed")
	e.logger.ErrorContext(ctx, "transfer failed", "asset_id", id.String(), "error", err)
	e.emit(ctx, audit.EventTransferFailed, id, provenance.VerdictClean.String(), "")
	return err
}

func (e *Executor) emit(ctx context.Context, action audit.AuditEvent, id ledger.AssetID, decision, reference string) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.Emit(ctx, audit.Event{
		Subject:   id.String(),
		Action:    string(action),
		Decision:  decision,
		Reference: reference,
	}); err != nil {
		e.logger.WarnContext(ctx, "failed to emit audit event", "asset_id", id.String(), "error", err)
	}
}
