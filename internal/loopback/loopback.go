// Package loopback implements a software device backend: datagrams
// posted for sending are delivered straight into posted receive buffers
// of the destination queue pair on the same device. It backs the daemon
// self-test path and the integration tests, and doubles as the
// reference for what the core expects from a driver.
package loopback

import (
	"hash/fnv"

	"github.com/rs/zerolog/log"

	"github.com/anubani/ibnet/internal/ib"
)

// Internal queue pair numbers start well clear of the reserved
// externally visible ones.
const firstQPN = 0x000100

// Driver implements ib.DeviceOps in memory. One Driver can back any
// number of devices; per-device state rides on the device's driver
// data.
type Driver struct {
	nextCQN uint32
	nextQPN uint32
	nextLID uint16
}

// New creates a loopback driver.
func New() *Driver {
	return &Driver{nextQPN: firstQPN, nextLID: 1}
}

type devState struct {
	opened   bool
	pending  []pendingSend
	recvFIFO map[*ib.QueuePair][]int
	mcast    map[*ib.QueuePair][]ib.GID
	portInfo ib.MAD
}

type pendingSend struct {
	qp   *ib.QueuePair
	av   ib.AddressVector
	slot int
}

func (d *Driver) state(dev *ib.Device) *devState {
	if s, ok := dev.DriverData().(*devState); ok {
		return s
	}
	s := &devState{
		recvFIFO: make(map[*ib.QueuePair][]int),
		mcast:    make(map[*ib.QueuePair][]ib.GID),
	}
	dev.SetDriverData(s)
	return s
}

// CreateCQ assigns the next completion queue number.
func (d *Driver) CreateCQ(dev *ib.Device, cq *ib.CompletionQueue) error {
	d.nextCQN++
	cq.CQN = d.nextCQN
	return nil
}

// DestroyCQ has no device state to release.
func (d *Driver) DestroyCQ(dev *ib.Device, cq *ib.CompletionQueue) {}

// CreateQP assigns the next internal queue pair number.
func (d *Driver) CreateQP(dev *ib.Device, qp *ib.QueuePair) error {
	d.nextQPN++
	qp.QPN = d.nextQPN
	return nil
}

// ModifyQP accepts any transition; the loopback path has no state
// machine to program.
func (d *Driver) ModifyQP(dev *ib.Device, qp *ib.QueuePair) error {
	return nil
}

// DestroyQP drops undelivered traffic referencing the pair so nothing
// completes into it after teardown. The buffers stay in their slots for
// the core to cancel.
func (d *Driver) DestroyQP(dev *ib.Device, qp *ib.QueuePair) {
	s := d.state(dev)
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.qp != qp {
			kept = append(kept, p)
		}
	}
	s.pending = kept
	delete(s.recvFIFO, qp)
	delete(s.mcast, qp)
}

// PostSend parks the datagram until the next completion queue poll.
func (d *Driver) PostSend(dev *ib.Device, qp *ib.QueuePair, av *ib.AddressVector, buf *ib.Buffer) error {
	slot := freeSlot(&qp.Send)
	qp.Send.SetSlot(slot, buf)
	s := d.state(dev)
	s.pending = append(s.pending, pendingSend{qp: qp, av: *av, slot: slot})
	return nil
}

// PostRecv parks the buffer in the next free receive slot.
func (d *Driver) PostRecv(dev *ib.Device, qp *ib.QueuePair, buf *ib.Buffer) error {
	slot := freeSlot(&qp.Recv)
	qp.Recv.SetSlot(slot, buf)
	s := d.state(dev)
	s.recvFIFO[qp] = append(s.recvFIFO[qp], slot)
	return nil
}

// PollCQ delivers every parked send whose send queue reports to cq:
// the payload is copied into the destination's oldest posted receive
// buffer and both completions are raised. Datagrams without a
// destination or without a posted receive are dropped, as on the wire.
func (d *Driver) PollCQ(dev *ib.Device, cq *ib.CompletionQueue) {
	s := d.state(dev)

	// Completion handlers may post fresh sends while we deliver, so
	// take the queue and rebuild it rather than compacting in place.
	pending := s.pending
	s.pending = nil
	for _, p := range pending {
		if p.qp.Send.CQ != cq {
			s.pending = append(s.pending, p)
			continue
		}
		d.deliver(dev, s, p)
	}
}

func (d *Driver) deliver(dev *ib.Device, s *devState, p pendingSend) {
	sbuf := p.qp.Send.ClearSlot(p.slot)

	// Multicast-addressed datagrams route by group, everything else by
	// queue pair number.
	var dst *ib.QueuePair
	if p.av.GIDPresent && p.av.GID[0] == 0xff {
		dst = dev.FindQPByMGID(p.av.GID)
	} else {
		dst = dev.FindQP(p.av.QPN)
	}

	if dst != nil {
		if fifo := s.recvFIFO[dst]; len(fifo) > 0 {
			slot := fifo[0]
			s.recvFIFO[dst] = fifo[1:]
			rbuf := dst.Recv.ClearSlot(slot)
			rbuf.Write(sbuf.Bytes())
			srcAV := &ib.AddressVector{
				QPN:  p.qp.ExtQPN,
				QKey: p.av.QKey,
				LID:  dev.LID,
				SL:   p.av.SL,
				Rate: p.av.Rate,
			}
			dev.CompleteRecv(dst, srcAV, rbuf, nil)
		} else {
			log.Trace().
				Str("device", dev.Name).
				Uint32("dst_qpn", dst.QPN).
				Msg("No posted receive, dropping datagram")
		}
	}

	dev.CompleteSend(p.qp, sbuf, nil)
}

// McastAttach records the group in the simulated hardware filter.
func (d *Driver) McastAttach(dev *ib.Device, qp *ib.QueuePair, gid ib.GID) error {
	s := d.state(dev)
	s.mcast[qp] = append(s.mcast[qp], gid)
	return nil
}

// McastDetach removes the group from the simulated hardware filter.
func (d *Driver) McastDetach(dev *ib.Device, qp *ib.QueuePair, gid ib.GID) {
	s := d.state(dev)
	list := s.mcast[qp]
	for i, g := range list {
		if g == gid {
			s.mcast[qp] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Open brings the simulated link up: assigns a link identifier, default
// partition key and a name-derived GID, then reports the link state
// change.
func (d *Driver) Open(dev *ib.Device) error {
	s := d.state(dev)
	s.opened = true
	dev.LID = d.nextLID
	d.nextLID++
	dev.PKey = 0xffff
	dev.GID = portGID(dev.Name)
	dev.LinkStateChanged()
	return nil
}

// Close takes the simulated link down.
func (d *Driver) Close(dev *ib.Device) {
	s := d.state(dev)
	s.opened = false
	dev.LID = ib.LIDNone
	dev.LinkStateChanged()
}

// PollEventQueue is a no-op: loopback raises no asynchronous events,
// completions are resolved directly in PollCQ.
func (d *Driver) PollEventQueue(dev *ib.Device) {}

// SetPortInfo stores the datagram as the port configuration. The
// partition key table setter is deliberately absent; loopback behaves
// like an adapter with an embedded agent for that method.
func (d *Driver) SetPortInfo(dev *ib.Device, mad ib.MAD) error {
	s := d.state(dev)
	s.portInfo = append(ib.MAD(nil), mad...)
	return nil
}

// Opened reports whether the simulated port is up.
func (d *Driver) Opened(dev *ib.Device) bool {
	return d.state(dev).opened
}

// Attached reports the simulated hardware multicast filter for a queue
// pair.
func (d *Driver) Attached(dev *ib.Device, qp *ib.QueuePair) []ib.GID {
	return d.state(dev).mcast[qp]
}

// PortInfo returns the last datagram stored by SetPortInfo.
func (d *Driver) PortInfo(dev *ib.Device) ib.MAD {
	return d.state(dev).portInfo
}

func freeSlot(wq *ib.WorkQueue) int {
	for i := 0; i < wq.Capacity(); i++ {
		if wq.Slot(i) == nil {
			return i
		}
	}
	// Unreachable: the core rejects posts at fill == capacity.
	log.Panic().Msg("no free work queue slot")
	return -1
}

// portGID derives a stable link-local style GID from the device name.
func portGID(name string) ib.GID {
	h := fnv.New64a()
	h.Write([]byte(name))
	sum := h.Sum64()
	var gid ib.GID
	gid[0] = 0xfe
	gid[1] = 0x80
	for i := 0; i < 8; i++ {
		gid[8+i] = byte(sum >> (8 * (7 - i)))
	}
	return gid
}
