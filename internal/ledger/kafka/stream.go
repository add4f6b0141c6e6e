package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"qgate/internal/ledger"
	"qgate/pkg/platform/sentinel"
)

// Stream implements ledger.Streamer over the transactions topic. Every
// subscription is an independent consumer without a group that starts at
// the end of each partition.
type Stream struct {
	cfg    Config
	logger *slog.Logger
}

func NewStream(cfg Config, opts ...Option) (*Stream, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Stream{cfg: cfg, logger: o.logger}, nil
}

func (s *Stream) Subscribe(ctx context.Context, cursor string) (ledger.Subscription, error) {
	if cursor != ledger.CursorNow {
		return nil, fmt.Errorf("cursor %q: only %q is supported", cursor, ledger.CursorNow)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.cfg.Brokers...),
		kgo.ConsumeTopics(s.cfg.TransactionsTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping kafka: %w: %w", sentinel.ErrUnavailable, err)
	}
	s.logger.InfoContext(ctx, "subscribed to ledger stream", "topic", s.cfg.TransactionsTopic)
	return &subscription{client: client, logger: s.logger}, nil
}

type subscription struct {
	client  *kgo.Client
	logger  *slog.Logger
	pending []*kgo.Record

	closeOnce sync.Once
}

// Next returns the next decodable record. Undecodable records are logged
// and skipped.
func (s *subscription) Next(ctx context.Context) (ledger.TransactionRecord, error) {
	for {
		for len(s.pending) > 0 {
			r := s.pending[0]
			s.pending = s.pending[1:]

			var rec ledger.TransactionRecord
			if err := json.Unmarshal(r.Value, &rec); err != nil {
				s.logger.WarnContext(ctx, "skipping undecodable ledger record",
					"partition", r.Partition,
					"offset", r.Offset,
					"error", err,
				)
				continue
			}
			return rec, nil
		}

		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return ledger.TransactionRecord{}, ledger.ErrStreamClosed
		}
		if err := ctx.Err(); err != nil {
			return ledger.TransactionRecord{}, err
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
				return ledger.TransactionRecord{}, fe.Err
			}
			return ledger.TransactionRecord{}, fmt.Errorf("fetch %s[%d]: %w: %w",
				fe.Topic, fe.Partition, sentinel.ErrUnavailable, fe.Err)
		}
		fetches.EachRecord(func(r *kgo.Record) {
			s.pending = append(s.pending, r)
		})
	}
}

func (s *subscription) Close() error {
	s.closeOnce.Do(s.client.Close)
	return nil
}
