package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"qgate/internal/ledger"
)

// Ingestor copies live stream records into the indexer tables so history
// queries see them.
type Ingestor struct {
	stream ledger.Streamer
	reader *Reader
	logger *slog.Logger
}

func NewIngestor(stream ledger.Streamer, reader *Reader, logger *slog.Logger) (*Ingestor, error) {
	if stream == nil || reader == nil {
		return nil, errors.New("stream and reader are required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ingestor{stream: stream, reader: reader, logger: logger}, nil
}

// Run ingests records until ctx ends or the stream fails. A failed insert
// is logged and skipped.
func (i *Ingestor) Run(ctx context.Context) error {
	sub, err := i.stream.Subscribe(ctx, ledger.CursorNow)
	if err != nil {
		return fmt.Errorf("subscribe for ingestion: %w", err)
	}
	defer sub.Close()

	for {
		rec, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if err := i.reader.Ingest(ctx, rec); err != nil {
			i.logger.WarnContext(ctx, "failed to ingest ledger record",
				"record_id", rec.ID,
				"error", err,
			)
		}
	}
}

// SequenceTracker records the sequence of every accepted submission so
// the next LoadAccount returns it.
type SequenceTracker struct {
	ledger.Submitter
	reader *Reader
}

func NewSequenceTracker(sub ledger.Submitter, reader *Reader) *SequenceTracker {
	return &SequenceTracker{Submitter: sub, reader: reader}
}

func (t *SequenceTracker) SubmitTransaction(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error) {
	receipt, err := t.Submitter.SubmitTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := t.reader.SetSequence(ctx, tx.Source, tx.Sequence); err != nil {
		return receipt, err
	}
	return receipt, nil
}
