package kafka

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"qgate/internal/envelope"
	"qgate/internal/ledger"
	"qgate/pkg/platform/sentinel"
)

// Producer queues outbound transactions on the submissions topic and
// publishes sealed envelopes. It implements ledger.Submitter and the
// transfer executor's envelope sink.
type Producer struct {
	cfg    Config
	client *kgo.Client
	logger *slog.Logger
}

func NewProducer(cfg Config, opts ...Option) (*Producer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	o := buildOptions(opts)
	return &Producer{cfg: cfg, client: client, logger: o.logger}, nil
}

// Client exposes the underlying franz-go client.
func (p *Producer) Client() *kgo.Client {
	return p.client
}

// SubmitTransaction queues tx keyed by its source account so one account's
// transactions stay ordered. The receipt hash is the SHA-256 of the queued
// bytes and Ledger is the broker offset.
func (p *Producer) SubmitTransaction(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	value, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	sum := sha256.Sum256(value)
	hash := hex.EncodeToString(sum[:])

	rec, err := p.client.ProduceSync(ctx, &kgo.Record{
		Topic: p.cfg.SubmissionsTopic,
		Key:   []byte(tx.Source),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "tx-hash", Value: []byte(hash)},
			{Key: "asset-id", Value: []byte(tx.AssetID)},
		},
	}).First()
	if err != nil {
		return nil, fmt.Errorf("queue transaction: %w: %w", sentinel.ErrUnavailable, err)
	}

	submitted := rec.Timestamp
	if submitted.IsZero() {
		submitted = time.Now()
	}
	p.logger.DebugContext(ctx, "transaction queued",
		"hash", hash,
		"partition", rec.Partition,
		"offset", rec.Offset,
	)
	return &ledger.Receipt{Hash: hash, Ledger: rec.Offset, SubmittedAt: submitted}, nil
}

// PublishEnvelope writes the wire form of env keyed by its content id.
func (p *Producer) PublishEnvelope(ctx context.Context, contentID string, env *envelope.Envelope) error {
	value, err := envelope.Marshal(env)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, &kgo.Record{
		Topic: p.cfg.EnvelopesTopic,
		Key:   []byte(contentID),
		Value: value,
	}).FirstErr(); err != nil {
		return fmt.Errorf("publish envelope: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// PublishRecord writes rec to the transactions topic. Ingestion pipelines
// and tests use it to feed the stream.
func (p *Producer) PublishRecord(ctx context.Context, rec ledger.TransactionRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}
	if err := p.client.ProduceSync(ctx, &kgo.Record{
		Topic: p.cfg.TransactionsTopic,
		Key:   []byte(rec.Account),
		Value: value,
	}).FirstErr(); err != nil {
		return fmt.Errorf("produce ledger record: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close(ctx context.Context) error {
	defer p.client.Close()
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	return nil
}

var _ ledger.Submitter = (*Producer)(nil)
