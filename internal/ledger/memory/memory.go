// Package memory is an in-process ledger for development and tests. It keeps
// accounts and history in memory and fans new records out to live
// subscribers.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"qgate/internal/ledger"
	"qgate/pkg/platform/sentinel"
)

// ErrBadSequence is returned when a transaction does not carry the next
// sequence number of its source account.
var ErrBadSequence = errors.New("bad sequence number")

// ErrSubscriberLagged ends a subscription whose buffer filled up. The
// subscriber has missed records and must resubscribe.
var ErrSubscriberLagged = errors.New("subscriber fell behind the ledger stream")

const subscriberBuffer = 256

// Settler applies a transaction's payments before it is accepted. An error
// rejects the transaction.
type Settler interface {
	Settle(ctx context.Context, tx *ledger.Transaction) error
}

// Ledger implements ledger.Client in memory.
type Ledger struct {
	mu          sync.Mutex
	accounts    map[string]*ledger.Account
	history     []ledger.TransactionRecord // oldest first
	subscribers map[*subscription]struct{}
	height      int64

	settler Settler
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Ledger)

// WithSettler routes every submission through s.
func WithSettler(s Settler) Option {
	return func(l *Ledger) {
		l.settler = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		accounts:    make(map[string]*ledger.Account),
		subscribers: make(map[*subscription]struct{}),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateAccount registers publicKey with a starting sequence. Existing
// accounts are left untouched.
func (l *Ledger) CreateAccount(publicKey string, sequence int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[publicKey]; ok {
		return
	}
	l.accounts[publicKey] = &ledger.Account{PublicKey: publicKey, Sequence: sequence}
}

func (l *Ledger) LoadAccount(ctx context.Context, publicKey string) (*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[publicKey]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", publicKey, sentinel.ErrNotFound)
	}
	cp := *acct
	return &cp, nil
}

// SubmitTransaction validates the sequence, settles the payments and records
// one history entry per payment.
func (l *Ledger) SubmitTransaction(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[tx.Source]
	if !ok {
		return nil, fmt.Errorf("source account %s: %w", tx.Source, sentinel.ErrNotFound)
	}
	if tx.Sequence != acct.Sequence+1 {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrBadSequence, acct.Sequence+1, tx.Sequence)
	}
	if l.settler != nil {
		if err := l.settler.Settle(ctx, tx); err != nil {
			return nil, fmt.Errorf("settle transaction: %w", err)
		}
	}

	acct.Sequence = tx.Sequence
	l.height++
	hash, err := txHash(tx)
	if err != nil {
		return nil, err
	}
	at := l.now()

	for i, p := range tx.Payments {
		account := tx.AssetID.String()
		if account == "" {
			account = p.Destination
		}
		l.appendLocked(ledger.TransactionRecord{
			ID:          hash + "-" + strconv.Itoa(i),
			Account:     account,
			Source:      tx.Source,
			Destination: p.Destination,
			Amount:      p.Amount,
			Memo:        tx.Annotation,
			PagingToken: strconv.FormatInt(l.height, 10),
			CreatedAt:   at,
		})
	}

	l.logger.DebugContext(ctx, "transaction accepted", "hash", hash, "ledger", l.height)
	return &ledger.Receipt{Hash: hash, Ledger: l.height, SubmittedAt: at}, nil
}

// Append records an externally produced transaction and streams it.
func (l *Ledger) Append(rec ledger.TransactionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	l.appendLocked(rec)
}

// appendLocked must be called while holding l.mu.
func (l *Ledger) appendLocked(rec ledger.TransactionRecord) {
	l.history = append(l.history, rec)
	for sub := range l.subscribers {
		select {
		case sub.records <- rec:
		default:
			l.logger.Warn("closing lagging subscriber", "transaction_id", rec.ID)
			delete(l.subscribers, sub)
			sub.end(ErrSubscriberLagged)
		}
	}
}

// QueryTransactions returns up to limit records touching account, newest
// first. An empty account matches every record.
func (l *Ledger) QueryTransactions(ctx context.Context, account string, limit int) ([]ledger.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ledger.TransactionRecord
	for i := len(l.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		rec := l.history[i]
		if account == "" || rec.Account == account || rec.Source == account || rec.Destination == account {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Subscribe opens a live subscription. Only ledger.CursorNow is supported.
// A subscriber that lets its buffer fill is ended with ErrSubscriberLagged
// once its buffered records are drained; no record is skipped silently.
func (l *Ledger) Subscribe(ctx context.Context, cursor string) (ledger.Subscription, error) {
	if cursor != ledger.CursorNow {
		return nil, fmt.Errorf("cursor %q: only %q is supported", cursor, ledger.CursorNow)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		ledger:  l,
		records: make(chan ledger.TransactionRecord, subscriberBuffer),
		done:    make(chan struct{}),
	}
	l.mu.Lock()
	l.subscribers[sub] = struct{}{}
	l.mu.Unlock()
	return sub, nil
}

func (l *Ledger) unsubscribe(sub *subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subscribers, sub)
}

type subscription struct {
	ledger    *Ledger
	records   chan ledger.TransactionRecord
	done      chan struct{}
	closeOnce sync.Once
	err       error // set before done is closed
}

func (s *subscription) Next(ctx context.Context) (ledger.TransactionRecord, error) {
	select {
	case rec := <-s.records:
		return rec, nil
	case <-s.done:
		select {
		case rec := <-s.records:
			return rec, nil
		default:
			return ledger.TransactionRecord{}, s.err
		}
	case <-ctx.Done():
		return ledger.TransactionRecord{}, ctx.Err()
	}
}

// end closes the subscription with err. It does not touch the ledger's
// subscriber set.
func (s *subscription) end(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *subscription) Close() error {
	s.ledger.unsubscribe(s)
	s.end(ledger.ErrStreamClosed)
	return nil
}

func txHash(tx *ledger.Transaction) (string, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

var _ ledger.Client = (*Ledger)(nil)
