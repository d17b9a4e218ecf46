package ib

import "github.com/rs/zerolog/log"

// McastAttach joins the queue pair to a multicast group on the local
// device: a membership record first, then the hardware attach, with the
// record unwound if the hardware rejects it. The subnet-level join
// handshake is the management layer's job, not handled here.
func (d *Device) McastAttach(qp *QueuePair, gid GID) error {
	qp.mgids = append(qp.mgids, gid)

	if err := d.ops.McastAttach(d, qp, gid); err != nil {
		qp.mgids = qp.mgids[:len(qp.mgids)-1]
		log.Debug().Err(err).
			Str("device", d.Name).
			Uint32("qpn", qp.QPN).
			Str("gid", gid.String()).
			Msg("Could not attach to multicast group")
		return err
	}

	log.Debug().
		Str("device", d.Name).
		Uint32("qpn", qp.QPN).
		Str("gid", gid.String()).
		Msg("Attached to multicast group")
	return nil
}

// McastDetach leaves a multicast group: hardware detach
// unconditionally, then the first matching membership record is
// dropped. A missing record is not an error; detaching twice is a
// no-op.
func (d *Device) McastDetach(qp *QueuePair, gid GID) {
	d.ops.McastDetach(d, qp, gid)

	for i, mgid := range qp.mgids {
		if mgid == gid {
			qp.mgids = append(qp.mgids[:i], qp.mgids[i+1:]...)
			break
		}
	}
}
