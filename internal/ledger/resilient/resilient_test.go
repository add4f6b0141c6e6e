package resilient_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"qgate/internal/ledger"
	"qgate/internal/ledger/mocks"
	"qgate/internal/ledger/resilient"
	"qgate/pkg/platform/circuit"
	"qgate/pkg/platform/sentinel"
)

var unavailable = fmt.Errorf("horizon 503: %w", sentinel.ErrUnavailable)

func fastRetries(n int) resilient.Option {
	return resilient.WithRetries(n, resilient.Backoff{InitialDelay: time.Millisecond, Multiplier: 2})
}

func TestBackoffDelay(t *testing.T) {
	b := resilient.Backoff{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Zero(t, b.Delay(1, nil), "first attempt is immediate")
	assert.Equal(t, 100*time.Millisecond, b.Delay(2, nil))
	assert.Equal(t, 200*time.Millisecond, b.Delay(3, nil))
	assert.Equal(t, 400*time.Millisecond, b.Delay(4, nil))
	assert.Equal(t, time.Second, b.Delay(10, nil), "capped")

	b.Jitter = true
	assert.Equal(t, 50*time.Millisecond, b.Delay(2, func() float64 { return 0 }))
	assert.Equal(t, 150*time.Millisecond, b.Delay(2, func() float64 { return 1 }))
}

func TestQueryTransactions_RetriesTransientFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockClient(ctrl)
	want := []ledger.TransactionRecord{{ID: "tx-1"}}

	gomock.InOrder(
		inner.EXPECT().QueryTransactions(gomock.Any(), "coin-1", 50).Return(nil, unavailable),
		inner.EXPECT().QueryTransactions(gomock.Any(), "coin-1", 50).Return(want, nil),
	)

	c, err := resilient.New(inner, fastRetries(3))
	require.NoError(t, err)

	got, err := c.QueryTransactions(context.Background(), "coin-1", 50)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestQueryTransactions_GivesUpAfterMaxAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockClient(ctrl)
	inner.EXPECT().QueryTransactions(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, unavailable).Times(3)

	c, err := resilient.New(inner, fastRetries(3))
	require.NoError(t, err)

	_, err = c.QueryTransactions(context.Background(), "coin-1", 50)
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.ErrorContains(t, err, "after 3 attempts")
}

func TestLoadAccount_PermanentErrorsAreNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockClient(ctrl)
	inner.EXPECT().LoadAccount(gomock.Any(), "GGATE").Return(nil, sentinel.ErrNotFound).Times(1)

	c, err := resilient.New(inner, fastRetries(5))
	require.NoError(t, err)

	_, err = c.LoadAccount(context.Background(), "GGATE")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestSubmitTransaction_SingleAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockClient(ctrl)
	inner.EXPECT().SubmitTransaction(gomock.Any(), gomock.Any()).Return(nil, unavailable).Times(1)

	c, err := resilient.New(inner, fastRetries(5))
	require.NoError(t, err)

	_, err = c.SubmitTransaction(context.Background(), &ledger.Transaction{Source: "GGATE", Sequence: 1})
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestPerCallTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockClient(ctrl)
	inner.EXPECT().LoadAccount(gomock.Any(), "GGATE").
		DoAndReturn(func(ctx context.Context, _ string) (*ledger.Account, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).Times(2)

	c, err := resilient.New(inner, resilient.WithTimeout(10*time.Millisecond), fastRetries(2))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.LoadAccount(context.Background(), "GGATE")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCallerCancellationStopsRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockClient(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	inner.EXPECT().QueryTransactions(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, int) ([]ledger.TransactionRecord, error) {
			cancel()
			return nil, unavailable
		}).Times(1)

	c, err := resilient.New(inner, fastRetries(5))
	require.NoError(t, err)

	_, err = c.QueryTransactions(ctx, "", 10)
	assert.Error(t, err)
}

func TestCircuitOpensAndShortCircuits(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockClient(ctrl)
	inner.EXPECT().QueryTransactions(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, unavailable).Times(2)

	breaker := circuit.New("ledger", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	c, err := resilient.New(inner, fastRetries(1), resilient.WithBreaker(breaker))
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = c.QueryTransactions(ctx, "", 10)
	_, _ = c.QueryTransactions(ctx, "", 10)
	require.True(t, breaker.IsOpen())

	_, err = c.QueryTransactions(ctx, "", 10)
	assert.ErrorIs(t, err, resilient.ErrCircuitOpen)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestSubscribePassesThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockClient(ctrl)
	sub := mocks.NewMockSubscription(ctrl)
	inner.EXPECT().Subscribe(gomock.Any(), ledger.CursorNow).Return(sub, nil)

	c, err := resilient.New(inner)
	require.NoError(t, err)

	got, err := c.Subscribe(context.Background(), ledger.CursorNow)
	require.NoError(t, err)
	assert.Same(t, sub, got)
}

func TestNewRequiresInner(t *testing.T) {
	_, err := resilient.New(nil)
	assert.True(t, err != nil && !errors.Is(err, sentinel.ErrUnavailable))
}
