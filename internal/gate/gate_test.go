package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qgate/internal/ledger"
	"qgate/internal/ledger/resilient"
	"qgate/internal/listener"
	"qgate/internal/provenance"
	"qgate/pkg/testutil"
)

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestGate_CancelIsCleanStop(t *testing.T) {
	g := New()
	g.Add("monitor", RunFunc(blockUntilDone))
	g.AddRestarting("listener", RunFunc(blockUntilDone))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gate did not stop")
	}
}

func TestGate_FatalComponentStopsOthers(t *testing.T) {
	g := New()
	var stopped atomic.Bool
	g.Add("server", RunFunc(func(context.Context) error {
		return errors.New("address already in use")
	}))
	g.Add("monitor", RunFunc(func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Store(true)
		return ctx.Err()
	}))

	err := g.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server: address already in use")
	assert.True(t, stopped.Load())
}

func TestGate_RestartsFailingComponent(t *testing.T) {
	testutil.Given(t, "a listener that fails twice before staying up", func(t *testing.T) {
		var runs atomic.Int32
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		g := New(WithRestartBackoff(resilient.Backoff{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		}))
		g.AddRestarting("listener", RunFunc(func(ctx context.Context) error {
			if runs.Add(1) < 3 {
				return errors.New("stream unavailable")
			}
			cancel()
			return blockUntilDone(ctx)
		}))

		testutil.When(t, "the gate runs", func(t *testing.T) {
			err := g.Run(ctx)

			testutil.Then(t, "it restarts until the component stays up", func(t *testing.T) {
				assert.NoError(t, err)
				assert.Equal(t, int32(3), runs.Load())
			})
		})
	})
}

func TestGate_NoComponents(t *testing.T) {
	assert.Error(t, New().Run(context.Background()))
}

func TestResultSink_DrainsUntilClosed(t *testing.T) {
	ch := make(chan listener.Result, 2)
	ch <- listener.Result{RecordID: "1", AssetID: ledger.AssetID("coin-1"), Verdict: provenance.VerdictClean}
	ch <- listener.Result{RecordID: "2", AssetID: ledger.AssetID("coin-2"), Err: errors.New("boom")}
	close(ch)

	err := NewResultSink(ch, nil).Run(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, ch)
}
