package ib

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMcastAttachDetach(t *testing.T) {
	dev, ops := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)

	gid := GID{0: 0xff, 1: 0x12, 15: 0x01}
	require.NoError(t, dev.McastAttach(qp, gid))
	assert.Equal(t, []GID{gid}, qp.Memberships())
	assert.Equal(t, []GID{gid}, ops.attached)

	dev.McastDetach(qp, gid)
	assert.Empty(t, qp.Memberships())
	assert.Equal(t, []GID{gid}, ops.detached)
}

func TestMcastDetachTwice(t *testing.T) {
	dev, ops := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)

	gid := GID{0: 0xff, 15: 0x02}
	require.NoError(t, dev.McastAttach(qp, gid))
	dev.McastDetach(qp, gid)
	dev.McastDetach(qp, gid)

	assert.Empty(t, qp.Memberships())
	assert.Len(t, ops.detached, 2)
}

func TestMcastAttachFailureUnwinds(t *testing.T) {
	dev, ops := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)
	ops.attachErr = errors.New("filter full")

	err := dev.McastAttach(qp, GID{0: 0xff})
	assert.Error(t, err)
	assert.Empty(t, qp.Memberships())

	// Destroy succeeds because the failed attach left no record.
	assert.NotPanics(t, func() { dev.DestroyQP(qp) })
}

func TestMcastMultipleGroups(t *testing.T) {
	dev, _ := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)

	a := GID{0: 0xff, 15: 0x0a}
	b := GID{0: 0xff, 15: 0x0b}
	require.NoError(t, dev.McastAttach(qp, a))
	require.NoError(t, dev.McastAttach(qp, b))

	dev.McastDetach(qp, a)
	assert.Equal(t, []GID{b}, qp.Memberships())
	assert.Same(t, qp, dev.FindQPByMGID(b))
	assert.Nil(t, dev.FindQPByMGID(a))
}
