package netdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anubani/ibnet/internal/ib"
	"github.com/anubani/ibnet/internal/loopback"
	"github.com/anubani/ibnet/internal/mgmt"
)

func TestLinkFollowsPortState(t *testing.T) {
	drv := New()
	reg := ib.NewRegistry(drv)

	dev := ib.NewDevice("loop0", "loop_hca0", loopback.New())
	dev.SetManagement(mgmt.NewProvider())
	require.NoError(t, reg.Register(dev))

	netdev := drv.Device(dev)
	require.NotNil(t, netdev)
	assert.Equal(t, "inet0", netdev.Name)
	assert.False(t, netdev.Up())

	require.NoError(t, dev.Open())
	assert.True(t, netdev.Up())

	dev.Close()
	assert.False(t, netdev.Up())

	reg.Unregister(dev)
	assert.Nil(t, drv.Device(dev))
}

func TestInterfaceNaming(t *testing.T) {
	drv := New()
	reg := ib.NewRegistry(drv)

	a := ib.NewDevice("loop0", "loop_hca0", loopback.New())
	b := ib.NewDevice("loop1", "loop_hca0", loopback.New())
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))

	assert.Equal(t, "inet0", drv.Device(a).Name)
	assert.Equal(t, "inet1", drv.Device(b).Name)
}
