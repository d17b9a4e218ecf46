package ib

import (
	"math/rand"

	"github.com/rs/zerolog/log"
)

// WorkQueue is one direction of a queue pair. It owns a capacity-sized
// slot array of buffers; a slot holds the buffer for exactly as long as
// its work queue entry is outstanding. Fill increments once per
// successful post and decrements once per completion, success or not.
type WorkQueue struct {
	// QP is the owning queue pair.
	QP *QueuePair
	// CQ is the completion queue this work queue reports to.
	CQ *CompletionQueue
	// Send distinguishes the send direction from receive.
	Send bool
	// PSN is the starting packet sequence number, randomized at
	// creation.
	PSN uint32

	fill  int
	slots []*Buffer
}

// Capacity returns the number of work queue entries.
func (wq *WorkQueue) Capacity() int {
	return len(wq.slots)
}

// Fill returns the number of outstanding entries.
func (wq *WorkQueue) Fill() int {
	return wq.fill
}

// SetSlot records the buffer of an outstanding entry at the driver's
// slot index. Drivers index slots by their own ring position.
func (wq *WorkQueue) SetSlot(i int, buf *Buffer) {
	wq.slots[i] = buf
}

// Slot returns the buffer outstanding at the given slot, or nil.
func (wq *WorkQueue) Slot(i int) *Buffer {
	return wq.slots[i]
}

// ClearSlot removes and returns the buffer at the given slot.
func (wq *WorkQueue) ClearSlot(i int) *Buffer {
	buf := wq.slots[i]
	wq.slots[i] = nil
	return buf
}

// QueuePair pairs a send and a receive work queue into one
// communication endpoint. Privileged types are addressed externally by
// well-known reserved numbers that differ from the driver-assigned
// internal number.
type QueuePair struct {
	// QPN is the internal queue pair number assigned by
	// DeviceOps.CreateQP.
	QPN uint32
	// ExtQPN is the externally visible number: QPNSMI or QPNGSI for
	// the privileged types, the internal number otherwise.
	ExtQPN uint32
	// Type is the queue pair type.
	Type QPType
	// QKey is the default queue key filled into send address vectors
	// that carry none.
	QKey uint32
	// AV is the default address vector used when a send passes none.
	AV AddressVector

	// Send and Recv are the two embedded work queues.
	Send WorkQueue
	Recv WorkQueue

	dev     *Device
	mgids   []GID
	drvdata any
}

// CreateQP creates a queue pair with the given capacities, attaching
// each work queue to its completion queue and delegating the
// device-specific setup to the driver. The pair is left in its initial
// state; call ModifyQP before using it for traffic. On driver failure
// everything is unwound and no partial pair remains observable.
func (d *Device) CreateQP(t QPType, numSend int, sendCQ *CompletionQueue, numRecv int, recvCQ *CompletionQueue) (*QueuePair, error) {
	log.Debug().Str("device", d.Name).Str("type", t.String()).Msg("Creating queue pair")

	qp := &QueuePair{Type: t, dev: d}
	qp.Send = WorkQueue{
		QP:    qp,
		CQ:    sendCQ,
		Send:  true,
		PSN:   randomPSN(),
		slots: make([]*Buffer, numSend),
	}
	qp.Recv = WorkQueue{
		QP:    qp,
		CQ:    recvCQ,
		PSN:   randomPSN(),
		slots: make([]*Buffer, numRecv),
	}
	d.qps = append(d.qps, qp)
	sendCQ.workQueues = append(sendCQ.workQueues, &qp.Send)
	recvCQ.workQueues = append(recvCQ.workQueues, &qp.Recv)

	if err := d.ops.CreateQP(d, qp); err != nil {
		sendCQ.workQueues = removeWQ(sendCQ.workQueues, &qp.Send)
		recvCQ.workQueues = removeWQ(recvCQ.workQueues, &qp.Recv)
		d.qps = removeQP(d.qps, qp)
		log.Error().Err(err).Str("device", d.Name).Msg("Could not initialise queue pair")
		return nil, err
	}

	// Externally visible number: the two privileged types are remapped
	// to well-known reserved numbers.
	switch t {
	case QPTypeSMI:
		qp.ExtQPN = QPNSMI
	case QPTypeGSI:
		qp.ExtQPN = QPNGSI
	default:
		qp.ExtQPN = qp.QPN
	}

	ev := log.Debug().
		Str("device", d.Name).
		Uint32("qpn", qp.QPN).
		Int("send_entries", numSend).
		Int("recv_entries", numRecv)
	if qp.ExtQPN != qp.QPN {
		ev = ev.Uint32("ext_qpn", qp.ExtQPN)
	}
	ev.Msg("Created queue pair")

	return qp, nil
}

// ModifyQP applies an opaque state transition to the queue pair. The
// core does not model the resulting hardware state machine; callers
// sequence create, modify, use.
func (d *Device) ModifyQP(qp *QueuePair) error {
	if err := d.ops.ModifyQP(d, qp); err != nil {
		log.Error().Err(err).Str("device", d.Name).Uint32("qpn", qp.QPN).Msg("Could not modify queue pair")
		return err
	}
	log.Debug().Str("device", d.Name).Uint32("qpn", qp.QPN).Msg("Modified queue pair")
	return nil
}

// DestroyQP destroys a queue pair. Multicast memberships must be
// detached first; remaining memberships are a programming error and
// panic. Every outstanding work queue entry is force-completed with
// ErrCanceled so no buffer is leaked or left referencing the pair.
func (d *Device) DestroyQP(qp *QueuePair) {
	log.Debug().Str("device", d.Name).Uint32("qpn", qp.QPN).Msg("Destroying queue pair")
	if len(qp.mgids) != 0 {
		log.Panic().
			Str("device", d.Name).
			Uint32("qpn", qp.QPN).
			Int("memberships", len(qp.mgids)).
			Msg("destroying queue pair with multicast memberships")
	}

	d.ops.DestroyQP(d, qp)

	for i := range qp.Send.slots {
		if buf := qp.Send.ClearSlot(i); buf != nil {
			d.CompleteSend(qp, buf, ErrCanceled)
		}
	}
	for i := range qp.Recv.slots {
		if buf := qp.Recv.ClearSlot(i); buf != nil {
			d.CompleteRecv(qp, nil, buf, ErrCanceled)
		}
	}

	qp.Send.CQ.workQueues = removeWQ(qp.Send.CQ.workQueues, &qp.Send)
	qp.Recv.CQ.workQueues = removeWQ(qp.Recv.CQ.workQueues, &qp.Recv)
	d.qps = removeQP(d.qps, qp)
}

// FindQP returns the queue pair matching either the internal or the
// externally visible number, or nil.
func (d *Device) FindQP(qpn uint32) *QueuePair {
	for _, qp := range d.qps {
		if qp.QPN == qpn || qp.ExtQPN == qpn {
			return qp
		}
	}
	return nil
}

// FindQPByMGID returns the queue pair attached to the multicast group,
// or nil.
func (d *Device) FindQPByMGID(gid GID) *QueuePair {
	for _, qp := range d.qps {
		for _, mgid := range qp.mgids {
			if mgid == gid {
				return qp
			}
		}
	}
	return nil
}

// Device returns the owning device.
func (qp *QueuePair) Device() *Device {
	return qp.dev
}

// Memberships returns the queue pair's multicast group memberships.
func (qp *QueuePair) Memberships() []GID {
	return qp.mgids
}

// SetDriverData stores backend private state on the queue pair.
func (qp *QueuePair) SetDriverData(v any) {
	qp.drvdata = v
}

// DriverData returns backend private state stored on the queue pair.
func (qp *QueuePair) DriverData() any {
	return qp.drvdata
}

// randomPSN yields a 24-bit starting packet sequence number.
func randomPSN() uint32 {
	return uint32(rand.Int31n(1 << 24))
}
