package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"qgate/internal/ledger"
	"qgate/internal/ledger/mocks"
	"qgate/pkg/testutil"
)

func activity(n int) []ledger.TransactionRecord {
	return make([]ledger.TransactionRecord, n)
}

func TestMonitor_Tick(t *testing.T) {
	testutil.Given(t, "a monitor with the default window", func(t *testing.T) {
		testutil.When(t, "the ledger returns a full window", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			history := mocks.NewMockHistoryReader(ctrl)
			history.EXPECT().QueryTransactions(gomock.Any(), "", DefaultWindow).Return(activity(1000), nil)

			m, err := New(history)
			require.NoError(t, err)
			require.NoError(t, m.Tick(context.Background()))

			testutil.Then(t, "the network is ready", func(t *testing.T) {
				assert.True(t, m.Ready())
				assert.Equal(t, 1000, m.Status().Observed)
			})
		})

		testutil.When(t, "the ledger returns one short of the window", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			history := mocks.NewMockHistoryReader(ctrl)
			history.EXPECT().QueryTransactions(gomock.Any(), "", DefaultWindow).Return(activity(999), nil)

			m, err := New(history)
			require.NoError(t, err)
			require.NoError(t, m.Tick(context.Background()))

			testutil.Then(t, "the network is not ready", func(t *testing.T) {
				assert.False(t, m.Ready())
			})
		})
	})
}

func TestMonitor_ErrorKeepsPreviousValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockHistoryReader(ctrl)
	gomock.InOrder(
		history.EXPECT().QueryTransactions(gomock.Any(), "", gomock.Any()).Return(activity(1000), nil),
		history.EXPECT().QueryTransactions(gomock.Any(), "", gomock.Any()).Return(nil, errors.New("unreachable")),
	)

	m, err := New(history)
	require.NoError(t, err)

	require.NoError(t, m.Tick(context.Background()))
	require.True(t, m.Ready())

	assert.Error(t, m.Tick(context.Background()))
	assert.True(t, m.Ready(), "a failed tick never flips the flag")
}

func TestMonitor_StartsNotReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	m, err := New(mocks.NewMockHistoryReader(ctrl))
	require.NoError(t, err)
	assert.False(t, m.Ready())
}

func TestMonitor_ThresholdFollowsWindow(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockHistoryReader(ctrl)
	history.EXPECT().QueryTransactions(gomock.Any(), "", 10).Return(activity(10), nil)

	m, err := New(history, WithWindow(10))
	require.NoError(t, err)
	require.NoError(t, m.Tick(context.Background()))
	assert.True(t, m.Ready())
	assert.Equal(t, 10, m.Status().Threshold)
}

func TestMonitor_TimeoutBoundsQuery(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockHistoryReader(ctrl)
	history.EXPECT().QueryTransactions(gomock.Any(), "", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ int) ([]ledger.TransactionRecord, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	m, err := New(history, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	err = m.Tick(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, m.Ready())
}

func TestMonitor_RunTicksImmediatelyAndStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockHistoryReader(ctrl)
	ticked := make(chan struct{}, 16)
	history.EXPECT().QueryTransactions(gomock.Any(), "", gomock.Any()).
		DoAndReturn(func(context.Context, string, int) ([]ledger.TransactionRecord, error) {
			ticked <- struct{}{}
			return nil, errors.New("flaky")
		}).MinTimes(2)

	m, err := New(history, WithInterval(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// errors do not stop the loop: wait for the immediate tick plus one more
	<-ticked
	<-ticked
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_RequiresHistory(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
