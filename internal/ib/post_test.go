package ib

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostSendDefaults(t *testing.T) {
	dev, ops := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)
	qp.QKey = 0x1234
	qp.AV = AddressVector{QPN: 7, LID: 9}

	// Nil vector falls back to the pair's default.
	require.NoError(t, dev.PostSend(qp, nil, dev.Pool().Get()))
	require.Len(t, ops.sentAVs, 1)
	assert.Equal(t, uint32(7), ops.sentAVs[0].QPN)
	assert.Equal(t, uint32(0x1234), ops.sentAVs[0].QKey)
	assert.Equal(t, DefaultRate, ops.sentAVs[0].Rate)

	// An explicit vector with gaps gets them filled, but only on the
	// copy the driver sees.
	av := AddressVector{QPN: 42, LID: 3}
	require.NoError(t, dev.PostSend(qp, &av, dev.Pool().Get()))
	require.Len(t, ops.sentAVs, 2)
	assert.Equal(t, uint32(0x1234), ops.sentAVs[1].QKey)
	assert.Equal(t, DefaultRate, ops.sentAVs[1].Rate)
	assert.Zero(t, av.QKey)
	assert.Zero(t, av.Rate)

	// An explicit queue key and rate pass through untouched.
	av = AddressVector{QPN: 42, QKey: 0x9999, Rate: Rate10}
	require.NoError(t, dev.PostSend(qp, &av, dev.Pool().Get()))
	require.Len(t, ops.sentAVs, 3)
	assert.Equal(t, uint32(0x9999), ops.sentAVs[2].QKey)
	assert.Equal(t, Rate10, ops.sentAVs[2].Rate)

	assert.Equal(t, 3, qp.Send.Fill())
}

func TestPostSendQueueFull(t *testing.T) {
	dev, ops := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 2, 2)

	require.NoError(t, dev.PostSend(qp, nil, dev.Pool().Get()))
	require.NoError(t, dev.PostSend(qp, nil, dev.Pool().Get()))

	buf := dev.Pool().Get()
	err := dev.PostSend(qp, nil, buf)
	assert.ErrorIs(t, err, ErrQueueFull)
	buf.Free()

	// The driver never saw the rejected entry.
	assert.Len(t, ops.sentAVs, 2)
	assert.Equal(t, 2, qp.Send.Fill())
}

func TestPostSendDriverFailure(t *testing.T) {
	dev, ops := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)
	ops.postSendErr = errors.New("dma error")

	buf := dev.Pool().Get()
	err := dev.PostSend(qp, nil, buf)
	assert.Error(t, err)
	assert.Zero(t, qp.Send.Fill())
	buf.Free()
}

func TestPostRecvTooShort(t *testing.T) {
	dev, _ := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)

	err := dev.PostRecv(qp, NewBuffer(MaxPayloadSize-1))
	assert.ErrorIs(t, err, ErrTooShort)
	assert.Zero(t, qp.Recv.Fill())

	require.NoError(t, dev.PostRecv(qp, NewBuffer(MaxPayloadSize)))
	assert.Equal(t, 1, qp.Recv.Fill())
}

func TestCompleteWithoutHandlerFreesBuffer(t *testing.T) {
	dev, _ := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)

	pool := dev.Pool()
	before := pool.Available()

	buf := pool.Get()
	require.NoError(t, dev.PostSend(qp, nil, buf))
	dev.CompleteSend(qp, qp.Send.ClearSlot(0), nil)

	assert.Equal(t, before, pool.Available())
	assert.Zero(t, qp.Send.Fill())
}

func TestCompletionFillAccounting(t *testing.T) {
	dev, _ := newTestDevice(t)
	metrics := &mockMetrics{}
	dev.SetMetrics(metrics)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)

	require.NoError(t, dev.PostSend(qp, nil, dev.Pool().Get()))
	require.NoError(t, dev.PostRecv(qp, dev.Pool().Get()))

	// A failed completion still consumes the entry.
	dev.CompleteSend(qp, qp.Send.ClearSlot(0), errors.New("remote nak"))
	dev.CompleteRecv(qp, nil, qp.Recv.ClearSlot(0), ErrCanceled)

	assert.Zero(t, qp.Send.Fill())
	assert.Zero(t, qp.Recv.Fill())
	assert.Equal(t, 1, metrics.sends)
	assert.Zero(t, metrics.sendsCanceled)
	assert.Equal(t, 1, metrics.recvs)
	assert.Equal(t, 1, metrics.recvsCanceled)
}

func TestRefillRecvToCapacity(t *testing.T) {
	dev, _ := newTestDevice(t)
	metrics := &mockMetrics{}
	dev.SetMetrics(metrics)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 8)

	for i := 0; i < 3; i++ {
		require.NoError(t, dev.PostRecv(qp, dev.Pool().Get()))
	}

	dev.RefillRecv(qp)
	assert.Equal(t, 8, qp.Recv.Fill())
	assert.Equal(t, 5, metrics.refilled)
}

func TestRefillRecvPoolExhaustion(t *testing.T) {
	dev, _ := newTestDevice(t)
	dev.SetPool(NewBufferPool(5, MaxPayloadSize))
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 8)

	for i := 0; i < 3; i++ {
		require.NoError(t, dev.PostRecv(qp, dev.Pool().Get()))
	}

	// Two buffers left in the pool, then it runs dry. No error
	// surfaces; the next cycle retries.
	dev.RefillRecv(qp)
	assert.Equal(t, 5, qp.Recv.Fill())
	assert.Zero(t, dev.Pool().Available())

	dev.RefillRecv(qp)
	assert.Equal(t, 5, qp.Recv.Fill())
}

func TestPollCQRefillsReceiveQueues(t *testing.T) {
	dev, ops := newTestDevice(t)
	qp, cq := newTestQP(t, dev, QPTypeUD, 4, 6)

	dev.PollCQ(cq)
	assert.Equal(t, 1, ops.cqPolls)
	assert.Equal(t, 6, qp.Recv.Fill())
	assert.Zero(t, qp.Send.Fill())
}
