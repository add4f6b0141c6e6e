// Package consensus keeps an append-only ledger of approval votes and
// decides whether the approval ratio clears a threshold.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"

	"qgate/internal/platform/metrics"
)

// Vote is a single ballot: 1 approves, 0 rejects.
type Vote uint8

const (
	Reject  Vote = 0
	Approve Vote = 1
)

const (
	DefaultBatchSize   = 10
	DefaultProbability = 0.75
	DefaultThreshold   = 0.75
)

var (
	// ErrNoVotes is returned when the ratio of an empty ledger is requested.
	ErrNoVotes = errors.New("consensus: no votes cast")
	// ErrInvalidProbability rejects probabilities outside [0, 1].
	ErrInvalidProbability = errors.New("consensus: approval probability out of range")
)

// VoteSource produces votes. The gate ships a random source; a networked
// validator set can replace it.
type VoteSource interface {
	Votes(ctx context.Context, n int, approvalProbability float64) ([]Vote, error)
}

// RandomSource draws independent Bernoulli votes.
type RandomSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource returns a source seeded from the runtime's entropy.
func NewRandomSource() *RandomSource {
	return &RandomSource{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededSource returns a deterministic source, for tests.
func NewSeededSource(seed1, seed2 uint64) *RandomSource {
	return &RandomSource{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (s *RandomSource) Votes(_ context.Context, n int, p float64) ([]Vote, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProbability, p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	votes := make([]Vote, n)
	for i := range votes {
		if s.rng.Float64() < p {
			votes[i] = Approve
		}
	}
	return votes, nil
}

// Engine owns the vote ledger. Votes only accumulate.
type Engine struct {
	source VoteSource

	mu       sync.Mutex
	votes    []Vote
	approved int

	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine drawing votes from source. A nil source uses
// NewRandomSource.
func New(source VoteSource, opts ...Option) *Engine {
	if source == nil {
		source = NewRandomSource()
	}
	e := &Engine{
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CastVotes draws n votes and appends them to the ledger. The source is
// called outside the lock.
func (e *Engine) CastVotes(ctx context.Context, n int, approvalProbability float64) error {
	if n <= 0 {
		return nil
	}
	if approvalProbability < 0 || approvalProbability > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidProbability, approvalProbability)
	}
	votes, err := e.source.Votes(ctx, n, approvalProbability)
	if err != nil {
		return fmt.Errorf("draw votes: %w", err)
	}

	e.mu.Lock()
	for _, v := range votes {
		if v == Approve {
			e.approved++
		}
	}
	e.votes = append(e.votes, votes...)
	total, approved := len(e.votes), e.approved
	e.mu.Unlock()

	ratio := float64(approved) / float64(total)
	e.metrics.AddVotes(len(votes), ratio)
	e.logger.DebugContext(ctx, "votes cast",
		"batch", len(votes),
		"total", total,
		"approval_ratio", ratio,
	)
	return nil
}

// ConsensusReached reports whether the approval ratio strictly exceeds
// threshold.
func (e *Engine) ConsensusReached(threshold float64) (bool, error) {
	ratio, err := e.Ratio()
	if err != nil {
		return false, err
	}
	return ratio > threshold, nil
}

// Ratio returns approvals over total votes.
func (e *Engine) Ratio() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.votes) == 0 {
		return 0, ErrNoVotes
	}
	return float64(e.approved) / float64(len(e.votes)), nil
}

// Len returns the number of votes cast so far.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.votes)
}
