package daemon

import (
	"encoding/binary"

	"github.com/rs/zerolog/log"

	"github.com/anubani/ibnet/internal/ib"
)

// Self-test queue depths. One datagram per round is in flight per
// port, the queues stay shallow.
const (
	selfTestCQEntries = 8
	selfTestWQEntries = 4
)

// selfTestMGID is the multicast group every self-test queue pair joins;
// odd rounds are sent to the group instead of the unicast number.
var selfTestMGID = ib.GID{0: 0xff, 1: 0x12, 14: 0x5e, 15: 0x1f}

// selfTest sends a sequence-stamped datagram through each port's
// loopback path at a fixed cadence and checks that it comes back. It
// runs entirely on the dispatcher goroutine via the after-step hook.
type selfTest struct {
	endpoints []*selfTestEndpoint
	interval  int
	steps     int
	seq       uint64
}

type selfTestEndpoint struct {
	dev      *ib.Device
	cq       *ib.CompletionQueue
	qp       *ib.QueuePair
	sent     uint64
	received uint64
	lastSeq  uint64
}

func newSelfTest(devices []*ib.Device, interval int) (*selfTest, error) {
	st := &selfTest{interval: interval}

	for _, dev := range devices {
		ep := &selfTestEndpoint{dev: dev}

		cq, err := dev.CreateCQ(selfTestCQEntries, ib.CompletionOps{
			CompleteRecv: ep.completeRecv,
		})
		if err != nil {
			st.close()
			return nil, err
		}
		ep.cq = cq

		qp, err := dev.CreateQP(ib.QPTypeUD, selfTestWQEntries, cq, selfTestWQEntries, cq)
		if err != nil {
			dev.DestroyCQ(cq)
			st.close()
			return nil, err
		}
		ep.qp = qp

		if err := dev.ModifyQP(qp); err != nil {
			dev.DestroyQP(qp)
			dev.DestroyCQ(cq)
			st.close()
			return nil, err
		}

		if err := dev.McastAttach(qp, selfTestMGID); err != nil {
			dev.DestroyQP(qp)
			dev.DestroyCQ(cq)
			st.close()
			return nil, err
		}

		dev.RefillRecv(qp)
		st.endpoints = append(st.endpoints, ep)

		log.Debug().
			Str("device", dev.Name).
			Uint32("qpn", qp.QPN).
			Msg("Self-test endpoint ready")
	}

	return st, nil
}

// step advances the cadence; one send round per interval.
func (st *selfTest) step() {
	st.steps++
	if st.steps < st.interval {
		return
	}
	st.steps = 0
	st.fire()
}

func (st *selfTest) fire() {
	st.seq++
	for _, ep := range st.endpoints {
		ep.send(st.seq)
	}
}

func (ep *selfTestEndpoint) send(seq uint64) {
	buf := ep.dev.Pool().Get()
	if buf == nil {
		log.Warn().Str("device", ep.dev.Name).Msg("Self-test skipped, buffer pool exhausted")
		return
	}
	binary.BigEndian.PutUint64(buf.Put(8), seq)

	av := &ib.AddressVector{QPN: ep.qp.QPN}
	if seq%2 == 1 {
		av = &ib.AddressVector{GIDPresent: true, GID: selfTestMGID}
	}

	if err := ep.dev.PostSend(ep.qp, av, buf); err != nil {
		log.Warn().Err(err).Str("device", ep.dev.Name).Msg("Self-test send failed")
		buf.Free()
		return
	}
	ep.sent++
}

func (ep *selfTestEndpoint) completeRecv(dev *ib.Device, qp *ib.QueuePair, av *ib.AddressVector, buf *ib.Buffer, err error) {
	defer buf.Free()
	if err != nil {
		return
	}
	if buf.Len() < 8 {
		log.Warn().Str("device", dev.Name).Int("len", buf.Len()).Msg("Self-test datagram truncated")
		return
	}
	ep.received++
	ep.lastSeq = binary.BigEndian.Uint64(buf.Bytes())
	log.Debug().
		Str("device", dev.Name).
		Uint64("seq", ep.lastSeq).
		Uint32("src_qpn", av.QPN).
		Uint64("received", ep.received).
		Msg("Self-test echo")
}

// close tears down the endpoints. Runs only while the dispatcher is
// stopped.
func (st *selfTest) close() {
	for _, ep := range st.endpoints {
		if ep.received < ep.sent {
			log.Warn().
				Str("device", ep.dev.Name).
				Uint64("sent", ep.sent).
				Uint64("received", ep.received).
				Msg("Self-test datagrams missing")
		}
		ep.dev.McastDetach(ep.qp, selfTestMGID)
		ep.dev.DestroyQP(ep.qp)
		ep.dev.DestroyCQ(ep.cq)
	}
	st.endpoints = nil
}
