package provenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"qgate/internal/ledger"
	"qgate/internal/platform/metrics"
	audit "qgate/pkg/platform/audit"
)

// Filter decides whether an identifier's provenance allows it through the
// gate. Tainted verdicts are cached and never revert.
type Filter struct {
	history ledger.HistoryReader
	cache   RejectionCache
	policy  Policy

	sink    RejectionSink
	limiter *rate.Limiter
	auditor audit.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Filter)

func WithPolicy(p Policy) Option {
	return func(f *Filter) {
		f.policy = p
	}
}

// WithRejectionSink registers a hook called once per newly tainted id.
func WithRejectionSink(sink RejectionSink) Option {
	return func(f *Filter) {
		f.sink = sink
	}
}

// WithHistoryRate caps history queries at qps with the given burst. A
// non-positive qps leaves queries unlimited.
func WithHistoryRate(qps float64, burst int) Option {
	return func(f *Filter) {
		if qps <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

func WithAuditor(a audit.Emitter) Option {
	return func(f *Filter) {
		f.auditor = a
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Filter) {
		f.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Filter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a Filter over a history reader and a rejection cache.
func New(history ledger.HistoryReader, cache RejectionCache, opts ...Option) (*Filter, error) {
	if history == nil {
		return nil, errors.New("history reader is required")
	}
	if cache == nil {
		return nil, errors.New("rejection cache is required")
	}
	f := &Filter{
		history: history,
		cache:   cache,
		policy:  DefaultPolicy(),
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.policy.Window <= 0 {
		f.policy.Window = DefaultWindow
	}
	return f, nil
}

// Policy returns the active denylist.
func (f *Filter) Policy() Policy {
	return f.policy
}

// Classify inspects the most recent Window records of history (newest
// first) and caches a taint. An id already cached as tainted stays tainted
// whatever history says.
func (f *Filter) Classify(ctx context.Context, id ledger.AssetID, history []ledger.TransactionRecord) (Verdict, error) {
	cached, err := f.cache.IsTainted(ctx, id)
	if err != nil {
		return VerdictUnknown, fmt.Errorf("read rejection cache: %w", err)
	}
	if cached {
		f.metrics.IncrementVerdict(VerdictTainted.String())
		return VerdictTainted, nil
	}

	if len(history) > f.policy.Window {
		history = history[:f.policy.Window]
	}
	for _, rec := range history {
		reason := f.poisoned(rec)
		if reason == "" {
			continue
		}
		if err := f.markTainted(ctx, id, rec, reason); err != nil {
			return VerdictUnknown, err
		}
		f.metrics.IncrementVerdict(VerdictTainted.String())
		return VerdictTainted, nil
	}

	f.metrics.IncrementVerdict(VerdictClean.String())
	return VerdictClean, nil
}

// IsRejected reports whether id is cached as tainted. A miss means unknown,
// not clean.
func (f *Filter) IsRejected(ctx context.Context, id ledger.AssetID) (bool, error) {
	return f.cache.IsTainted(ctx, id)
}

// Check returns the cached taint when present, otherwise classifies id from
// a fresh history query. Query errors are returned, never mapped to clean.
func (f *Filter) Check(ctx context.Context, id ledger.AssetID) (Verdict, error) {
	tainted, err := f.cache.IsTainted(ctx, id)
	if err != nil {
		return VerdictUnknown, fmt.Errorf("read rejection cache: %w", err)
	}
	if tainted {
		f.metrics.IncrementVerdict(VerdictTainted.String())
		return VerdictTainted, nil
	}
	return f.CheckFresh(ctx, id)
}

// CheckFresh always queries history before classifying. A cached taint
// still wins.
func (f *Filter) CheckFresh(ctx context.Context, id ledger.AssetID) (Verdict, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return VerdictUnknown, fmt.Errorf("wait for history quota: %w", err)
	}

	start := f.now()
	history, err := f.history.QueryTransactions(ctx, id.String(), f.policy.Window)
	f.metrics.ObserveHistoryQuery(f.now().Sub(start))
	if err != nil {
		return VerdictUnknown, fmt.Errorf("query history for %s: %w", id, err)
	}
	return f.Classify(ctx, id, history)
}

// poisoned returns why rec taints its asset, or "" when it does not.
func (f *Filter) poisoned(rec ledger.TransactionRecord) string {
	if _, ok := f.policy.Exchanges[rec.Source]; ok {
		return "source:" + rec.Source
	}
	if _, ok := f.policy.Exchanges[rec.Destination]; ok {
		return "destination:" + rec.Destination
	}
	if rec.Memo != "" {
		memo := strings.ToLower(rec.Memo)
		for _, marker := range f.policy.Markers {
			if strings.Contains(memo, marker) {
				return "memo:" + marker
			}
		}
	}
	return ""
}

func (f *Filter) markTainted(ctx context.Context, id ledger.AssetID, rec ledger.TransactionRecord, reason string) error {
	inserted, err := f.cache.MarkTainted(ctx, id)
	if err != nil {
		return fmt.Errorf("write rejection cache: %w", err)
	}
	if !inserted {
		return nil
	}

	f.logger.WarnContext(ctx, "asset tainted",
		"asset_id", id.String(),
		"transaction_id", rec.ID,
		"reason", reason,
	)
	if n, err := f.cache.Len(ctx); err == nil {
		f.metrics.SetRejectionCacheSize(n)
	}
	if f.auditor != nil {
		if err := f.auditor.Emit(ctx, audit.Event{
			Subject:   id.String(),
			Action:    string(audit.EventAssetTainted),
			Decision:  VerdictTainted.String(),
			Reason:    reason,
			Reference: rec.ID,
		}); err != nil {
			f.logger.WarnContext(ctx, "failed to emit audit event", "asset_id", id.String(), "error", err)
		}
	}
	if f.sink != nil {
		// the local cache is authoritative; a failed mirror is only logged
		if err := f.sink.RecordRejection(ctx, id); err != nil {
			f.logger.ErrorContext(ctx, "failed to record rejection", "asset_id", id.String(), "error", err)
		}
	}
	return nil
}
