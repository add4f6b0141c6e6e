package consensus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsensusReached_CertainApproval(t *testing.T) {
	e := New(NewSeededSource(1, 2))
	require.NoError(t, e.CastVotes(context.Background(), 10, 1.0))

	ok, err := e.ConsensusReached(0.75)
	require.NoError(t, err)
	assert.True(t, ok)

	ratio, err := e.Ratio()
	require.NoError(t, err)
	assert.Equal(t, 1.0, ratio)
}

func TestConsensusReached_CertainRejection(t *testing.T) {
	e := New(NewSeededSource(1, 2))
	require.NoError(t, e.CastVotes(context.Background(), 10, 0.0))

	ok, err := e.ConsensusReached(0.75)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsensusReached_EmptyLedger(t *testing.T) {
	e := New(nil)
	_, err := e.ConsensusReached(0.75)
	assert.ErrorIs(t, err, ErrNoVotes)
}

type fixedSource []Vote

func (f fixedSource) Votes(_ context.Context, n int, _ float64) ([]Vote, error) {
	out := make([]Vote, n)
	for i := range out {
		out[i] = f[i%len(f)]
	}
	return out, nil
}

func TestConsensusReached_ThresholdIsStrict(t *testing.T) {
	// 3 approvals out of 4 is exactly 0.75
	e := New(fixedSource{Approve, Approve, Approve, Reject})
	require.NoError(t, e.CastVotes(context.Background(), 4, 0.5))

	ok, err := e.ConsensusReached(0.75)
	require.NoError(t, err)
	assert.False(t, ok, "a ratio equal to the threshold is not consensus")

	ok, err = e.ConsensusReached(0.74)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCastVotes_Accumulates(t *testing.T) {
	e := New(NewSeededSource(7, 7))
	ctx := context.Background()

	require.NoError(t, e.CastVotes(ctx, 10, 1.0))
	require.NoError(t, e.CastVotes(ctx, 10, 0.0))
	assert.Equal(t, 20, e.Len())

	ratio, err := e.Ratio()
	require.NoError(t, err)
	assert.Equal(t, 0.5, ratio, "earlier batches are never rolled back")
}

func TestCastVotes_RejectsBadProbability(t *testing.T) {
	e := New(nil)
	assert.ErrorIs(t, e.CastVotes(context.Background(), 1, 1.5), ErrInvalidProbability)
	assert.ErrorIs(t, e.CastVotes(context.Background(), 1, -0.1), ErrInvalidProbability)
	assert.Equal(t, 0, e.Len())
}

func TestCastVotes_NonPositiveCountIsNoop(t *testing.T) {
	e := New(nil)
	require.NoError(t, e.CastVotes(context.Background(), 0, 0.75))
	assert.Equal(t, 0, e.Len())
}

type failingSource struct{}

func (failingSource) Votes(context.Context, int, float64) ([]Vote, error) {
	return nil, errors.New("validators unreachable")
}

func TestCastVotes_SourceErrorLeavesLedgerUntouched(t *testing.T) {
	e := New(failingSource{})
	assert.Error(t, e.CastVotes(context.Background(), 10, 0.75))
	assert.Equal(t, 0, e.Len())
}

func TestRandomSource_ApproximatesProbability(t *testing.T) {
	src := NewSeededSource(42, 1024)
	votes, err := src.Votes(context.Background(), 10_000, 0.75)
	require.NoError(t, err)

	approved := 0
	for _, v := range votes {
		if v == Approve {
			approved++
		}
	}
	assert.InDelta(t, 0.75, float64(approved)/float64(len(votes)), 0.03)
}

func TestCastVotes_Concurrent(t *testing.T) {
	e := New(NewRandomSource())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.CastVotes(ctx, DefaultBatchSize, DefaultProbability))
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, e.Len())
}
