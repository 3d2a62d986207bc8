package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
)

func TestCallGateDisabled(t *testing.T) {
	gate := resilience.NewCallGate(0)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, gate.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestCallGateSpacesCalls(t *testing.T) {
	gate := resilience.NewCallGate(30 * time.Millisecond)

	require.NoError(t, gate.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, gate.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestCallGateRespectsContext(t *testing.T) {
	gate := resilience.NewCallGate(time.Minute)

	require.NoError(t, gate.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := gate.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallGateTrySince(t *testing.T) {
	gate := resilience.NewCallGate(time.Minute)
	assert.Equal(t, time.Duration(0), gate.TrySince())

	require.NoError(t, gate.Wait(context.Background()))
	assert.Greater(t, gate.TrySince(), 50*time.Second)
}

func TestCallGateTryReserve(t *testing.T) {
	gate := resilience.NewCallGate(time.Minute)

	assert.True(t, gate.TryReserve())
	assert.False(t, gate.TryReserve(), "second reserve inside the interval must fail fast")
}

func TestCallGateTryReserveDisabled(t *testing.T) {
	gate := resilience.NewCallGate(0)

	for i := 0; i < 5; i++ {
		assert.True(t, gate.TryReserve())
	}
}

func TestCallGateCancelledWaitReleasesSlot(t *testing.T) {
	gate := resilience.NewCallGate(100 * time.Millisecond)
	require.NoError(t, gate.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, gate.Wait(ctx), context.DeadlineExceeded)

	// The aborted wait gave its reservation back, so the next call waits
	// out the original interval only, not a second one on top.
	start := time.Now()
	require.NoError(t, gate.Wait(context.Background()))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
