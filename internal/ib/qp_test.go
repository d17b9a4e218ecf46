package ib

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) (*Device, *mockOps) {
	t.Helper()
	ops := &mockOps{}
	return NewDevice("mock0", "mock_hca0", ops), ops
}

func newTestQP(t *testing.T, dev *Device, typ QPType, numSend, numRecv int) (*QueuePair, *CompletionQueue) {
	t.Helper()
	cq, err := dev.CreateCQ(numSend+numRecv, CompletionOps{})
	require.NoError(t, err)
	qp, err := dev.CreateQP(typ, numSend, cq, numRecv, cq)
	require.NoError(t, err)
	return qp, cq
}

func TestCreateQPNumbering(t *testing.T) {
	dev, _ := newTestDevice(t)

	smi, _ := newTestQP(t, dev, QPTypeSMI, 4, 4)
	gsi, _ := newTestQP(t, dev, QPTypeGSI, 4, 4)
	ud, _ := newTestQP(t, dev, QPTypeUD, 4, 4)

	assert.Equal(t, QPNSMI, smi.ExtQPN)
	assert.Equal(t, QPNGSI, gsi.ExtQPN)
	assert.Equal(t, ud.QPN, ud.ExtQPN)
	assert.NotEqual(t, smi.QPN, smi.ExtQPN)

	for _, qp := range []*QueuePair{smi, gsi, ud} {
		assert.Less(t, qp.Send.PSN, uint32(1<<24))
		assert.Less(t, qp.Recv.PSN, uint32(1<<24))
	}
}

func TestCreateQPDriverFailureUnwinds(t *testing.T) {
	dev, ops := newTestDevice(t)
	cq, err := dev.CreateCQ(8, CompletionOps{})
	require.NoError(t, err)

	ops.createQPErr = errors.New("no resources")
	qp, err := dev.CreateQP(QPTypeUD, 4, cq, 4, cq)
	assert.Error(t, err)
	assert.Nil(t, qp)
	assert.Empty(t, cq.WorkQueues())
	assert.Empty(t, dev.QueuePairs())
}

func TestFindQP(t *testing.T) {
	dev, _ := newTestDevice(t)
	smi, _ := newTestQP(t, dev, QPTypeSMI, 4, 4)
	ud, _ := newTestQP(t, dev, QPTypeUD, 4, 4)

	assert.Same(t, smi, dev.FindQP(QPNSMI))
	assert.Same(t, smi, dev.FindQP(smi.QPN))
	assert.Same(t, ud, dev.FindQP(ud.QPN))
	assert.Nil(t, dev.FindQP(0xfffff))
}

func TestFindQPByMGID(t *testing.T) {
	dev, _ := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)

	gid := GID{0: 0xff, 15: 0x01}
	assert.Nil(t, dev.FindQPByMGID(gid))

	require.NoError(t, dev.McastAttach(qp, gid))
	assert.Same(t, qp, dev.FindQPByMGID(gid))
}

func TestDestroyQPCancelsOutstanding(t *testing.T) {
	var sendErrs, recvErrs []error
	handlers := CompletionOps{
		CompleteSend: func(dev *Device, qp *QueuePair, buf *Buffer, err error) {
			sendErrs = append(sendErrs, err)
			buf.Free()
		},
		CompleteRecv: func(dev *Device, qp *QueuePair, av *AddressVector, buf *Buffer, err error) {
			recvErrs = append(recvErrs, err)
			buf.Free()
		},
	}

	dev, ops := newTestDevice(t)
	cq, err := dev.CreateCQ(8, handlers)
	require.NoError(t, err)
	qp, err := dev.CreateQP(QPTypeUD, 4, cq, 4, cq)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, dev.PostSend(qp, &AddressVector{QPN: 42}, dev.Pool().Get()))
	}
	require.NoError(t, dev.PostRecv(qp, dev.Pool().Get()))
	qpn := qp.QPN

	dev.DestroyQP(qp)

	assert.Equal(t, 1, ops.qpDestroy)
	require.Len(t, sendErrs, 2)
	require.Len(t, recvErrs, 1)
	for _, err := range append(sendErrs, recvErrs...) {
		assert.ErrorIs(t, err, ErrCanceled)
	}
	assert.Zero(t, qp.Send.Fill())
	assert.Zero(t, qp.Recv.Fill())
	assert.Nil(t, dev.FindQP(qpn))
	assert.Empty(t, cq.WorkQueues())
}

func TestDestroyQPWithMembershipsPanics(t *testing.T) {
	dev, _ := newTestDevice(t)
	qp, _ := newTestQP(t, dev, QPTypeUD, 4, 4)
	require.NoError(t, dev.McastAttach(qp, GID{0: 0xff}))

	assert.Panics(t, func() { dev.DestroyQP(qp) })
}

func TestDestroyCQWithWorkQueuesPanics(t *testing.T) {
	dev, _ := newTestDevice(t)
	_, cq := newTestQP(t, dev, QPTypeUD, 4, 4)

	assert.Panics(t, func() { dev.DestroyCQ(cq) })
}

func TestCreateCQDriverFailure(t *testing.T) {
	dev, ops := newTestDevice(t)
	ops.createCQErr = errors.New("no resources")

	cq, err := dev.CreateCQ(8, CompletionOps{})
	assert.Error(t, err)
	assert.Nil(t, cq)
	assert.Empty(t, dev.CompletionQueues())
}

func TestFindWorkQueue(t *testing.T) {
	dev, _ := newTestDevice(t)
	qp, cq := newTestQP(t, dev, QPTypeSMI, 4, 4)

	assert.Same(t, &qp.Send, cq.FindWorkQueue(qp.QPN, true))
	assert.Same(t, &qp.Recv, cq.FindWorkQueue(qp.QPN, false))
	assert.Nil(t, cq.FindWorkQueue(0xfffff, true))
}
