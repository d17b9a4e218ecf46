package ib

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollEventQueueCascades(t *testing.T) {
	dev, ops := newTestDevice(t)
	metrics := &mockMetrics{}
	dev.SetMetrics(metrics)
	_, err := dev.CreateCQ(8, CompletionOps{})
	require.NoError(t, err)
	_, err = dev.CreateCQ(8, CompletionOps{})
	require.NoError(t, err)

	dev.PollEventQueue()

	assert.Equal(t, 1, ops.eqPolls)
	assert.Equal(t, 2, ops.cqPolls)
	assert.Equal(t, 1, metrics.eqPolls)
}

func TestDispatcherStep(t *testing.T) {
	reg := NewRegistry(nil)
	devA, opsA := newTestDevice(t)
	opsB := &mockOps{}
	devB := NewDevice("mock1", "mock_hca0", opsB)
	require.NoError(t, reg.Register(devA))
	require.NoError(t, reg.Register(devB))

	p := NewDispatcher(reg, 1000)
	p.Step()
	p.Step()

	assert.Equal(t, 2, opsA.eqPolls)
	assert.Equal(t, 2, opsB.eqPolls)
}

func TestDispatcherRunStops(t *testing.T) {
	reg := NewRegistry(nil)
	dev, ops := newTestDevice(t)
	require.NoError(t, reg.Register(dev))

	p := NewDispatcher(reg, 1000)
	afterSteps := 0
	p.AfterStep = func() { afterSteps++ }
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Greater(t, ops.eqPolls, 0)
	assert.Greater(t, afterSteps, 0)
}
