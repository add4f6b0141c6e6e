package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"qgate/internal/ledger"
	"qgate/internal/ledger/mocks"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	mu    sync.Mutex
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.err
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestIngestor_WritesEveryRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	stream := mocks.NewMockStreamer(ctrl)
	sub := mocks.NewMockSubscription(ctrl)
	db := &fakeDB{}

	stream.EXPECT().Subscribe(gomock.Any(), ledger.CursorNow).Return(sub, nil)
	gomock.InOrder(
		sub.EXPECT().Next(gomock.Any()).Return(ledger.TransactionRecord{ID: "tx-1"}, nil),
		sub.EXPECT().Next(gomock.Any()).Return(ledger.TransactionRecord{ID: "tx-2"}, nil),
		sub.EXPECT().Next(gomock.Any()).Return(ledger.TransactionRecord{}, context.Canceled),
	)
	sub.EXPECT().Close().Return(nil)

	ing, err := NewIngestor(stream, New(db), nil)
	require.NoError(t, err)

	err = ing.Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, db.calls, 2)
	assert.Equal(t, "tx-1", db.calls[0].args[0])
	assert.Equal(t, "tx-2", db.calls[1].args[0])
}

func TestIngestor_InsertFailureIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	stream := mocks.NewMockStreamer(ctrl)
	sub := mocks.NewMockSubscription(ctrl)
	db := &fakeDB{err: errors.New("disk full")}

	stream.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(sub, nil)
	gomock.InOrder(
		sub.EXPECT().Next(gomock.Any()).Return(ledger.TransactionRecord{ID: "tx-1"}, nil),
		sub.EXPECT().Next(gomock.Any()).Return(ledger.TransactionRecord{}, errors.New("stream closed")),
	)
	sub.EXPECT().Close().Return(nil)

	ing, err := NewIngestor(stream, New(db), nil)
	require.NoError(t, err)
	assert.EqualError(t, ing.Run(context.Background()), "stream closed")
}

func TestSequenceTracker(t *testing.T) {
	ctrl := gomock.NewController(t)
	submitter := mocks.NewMockSubmitter(ctrl)
	db := &fakeDB{}
	tracker := NewSequenceTracker(submitter, New(db))
	tx := &ledger.Transaction{Source: "GGATE", Sequence: 8}

	t.Run("records the sequence after a submission", func(t *testing.T) {
		submitter.EXPECT().SubmitTransaction(gomock.Any(), tx).Return(&ledger.Receipt{Hash: "h"}, nil)

		receipt, err := tracker.SubmitTransaction(context.Background(), tx)
		require.NoError(t, err)
		assert.Equal(t, "h", receipt.Hash)
		require.Len(t, db.calls, 1)
		assert.Equal(t, []any{"GGATE", int64(8)}, db.calls[0].args)
	})

	t.Run("leaves the sequence alone when submission fails", func(t *testing.T) {
		submitter.EXPECT().SubmitTransaction(gomock.Any(), tx).Return(nil, errors.New("rejected"))

		_, err := tracker.SubmitTransaction(context.Background(), tx)
		require.Error(t, err)
		assert.Len(t, db.calls, 1)
	})
}
