// Package ledger defines the ports the gate uses to reach the ledger and the
// value types exchanged over them. Adapters live in sub-packages: memory for
// development and tests, indexer for history reads from an indexer database,
// kafka for the live stream and submission queue, and resilient for
// timeouts, retries and circuit breaking around any of them.
package ledger

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -source=ledger.go -destination=mocks/mock_ledger.go -package=mocks

// AssetID identifies a transferable unit. It is immutable once observed.
type AssetID string

func (id AssetID) String() string { return string(id) }

// CursorNow subscribes to the live stream without replaying history.
const CursorNow = "now"

// NativeAsset is the ledger's native asset code.
const NativeAsset = "native"

// ErrStreamClosed is returned by Subscription.Next after Close or when the
// transport ends the stream.
var ErrStreamClosed = errors.New("ledger stream closed")

// TransactionRecord is a historical or streamed ledger transaction as seen by
// the gate. History slices are ordered most recent first.
type TransactionRecord struct {
	ID          string    `json:"id"`
	Account     string    `json:"account"`
	Source      string    `json:"source_account"`
	Destination string    `json:"destination,omitempty"`
	Amount      int64     `json:"amount"`
	Memo        string    `json:"memo,omitempty"`
	PagingToken string    `json:"paging_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Account is the submitting account state needed to build a transaction.
type Account struct {
	PublicKey string `json:"public_key"`
	Sequence  int64  `json:"sequence"`
}

// Payment is a single value-transfer operation.
type Payment struct {
	Destination string `json:"destination"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
}

// Transaction is an unsigned transaction built by the gate. Signing with the
// wallet key is the submitter's concern.
type Transaction struct {
	Source     string    `json:"source"`
	Sequence   int64     `json:"sequence"`
	Fee        int64     `json:"fee"`
	Payments   []Payment `json:"payments"`
	Annotation string    `json:"annotation,omitempty"`
	AssetID    AssetID   `json:"asset_id"`
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	Hash        string    `json:"hash"`
	Ledger      int64     `json:"ledger"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AccountLoader loads the gate's own account.
type AccountLoader interface {
	LoadAccount(ctx context.Context, publicKey string) (*Account, error)
}

// Submitter submits built transactions.
type Submitter interface {
	SubmitTransaction(ctx context.Context, tx *Transaction) (*Receipt, error)
}

// HistoryReader returns the most recent transactions of an account, newest
// first. An empty account queries global ledger activity.
type HistoryReader interface {
	QueryTransactions(ctx context.Context, account string, limit int) ([]TransactionRecord, error)
}

// Streamer opens a live transaction subscription starting at cursor.
type Streamer interface {
	Subscribe(ctx context.Context, cursor string) (Subscription, error)
}

// Subscription is a lazy, unbounded sequence of records. Next blocks until a
// record arrives, ctx ends, or the stream fails.
type Subscription interface {
	Next(ctx context.Context) (TransactionRecord, error)
	Close() error
}

// Client bundles every ledger port.
type Client interface {
	AccountLoader
	Submitter
	HistoryReader
	Streamer
}

// Compose assembles a Client from separately provided ports, e.g. history
// from the indexer and the stream from Kafka.
func Compose(accounts AccountLoader, submitter Submitter, history HistoryReader, stream Streamer) Client {
	return composite{
		AccountLoader: accounts,
		Submitter:     submitter,
		HistoryReader: history,
		Streamer:      stream,
	}
}

type composite struct {
	AccountLoader
	Submitter
	HistoryReader
	Streamer
}
