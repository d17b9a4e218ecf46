package ib

import "github.com/rs/zerolog/log"

// PostSend posts one send work queue entry. A nil address vector means
// the queue pair's default; unset queue key and rate are filled from
// the pair's default and the baseline rate. The caller's vector is
// never mutated; the driver sees a private copy. On success the buffer
// belongs to the work queue until its completion is delivered.
func (d *Device) PostSend(qp *QueuePair, av *AddressVector, buf *Buffer) error {
	if qp.Send.fill >= qp.Send.Capacity() {
		log.Debug().Str("device", d.Name).Uint32("qpn", qp.QPN).Msg("Send queue full")
		return ErrQueueFull
	}

	if av == nil {
		av = &qp.AV
	}
	avCopy := *av
	av = &avCopy

	if av.QKey == 0 {
		av.QKey = qp.QKey
	}
	if av.Rate == 0 {
		av.Rate = DefaultRate
	}

	if err := d.ops.PostSend(d, qp, av, buf); err != nil {
		log.Debug().Err(err).Str("device", d.Name).Uint32("qpn", qp.QPN).Msg("Could not post send WQE")
		return err
	}

	qp.Send.fill++
	return nil
}

// PostRecv posts one receive work queue entry. The buffer must carry at
// least MaxPayloadSize of tailroom; receive buffers are pre-sized
// uniformly.
func (d *Device) PostRecv(qp *QueuePair, buf *Buffer) error {
	if buf.Tailroom() < MaxPayloadSize {
		log.Debug().
			Str("device", d.Name).
			Uint32("qpn", qp.QPN).
			Int("tailroom", buf.Tailroom()).
			Msg("Wrong RX buffer size")
		return ErrTooShort
	}

	if qp.Recv.fill >= qp.Recv.Capacity() {
		log.Debug().Str("device", d.Name).Uint32("qpn", qp.QPN).Msg("Receive queue full")
		return ErrQueueFull
	}

	if err := d.ops.PostRecv(d, qp, buf); err != nil {
		log.Debug().Err(err).Str("device", d.Name).Uint32("qpn", qp.QPN).Msg("Could not post receive WQE")
		return err
	}

	qp.Recv.fill++
	return nil
}

// CompleteSend delivers the completion of one posted send entry, called
// by the driver's poll path or by DestroyQP when it cancels outstanding
// entries. The fill decrement is unconditional, success and failure
// alike.
func (d *Device) CompleteSend(qp *QueuePair, buf *Buffer, err error) {
	if h := qp.Send.CQ.handlers.CompleteSend; h != nil {
		h(d, qp, buf, err)
	} else {
		buf.Free()
	}
	qp.Send.fill--
	if d.metrics != nil {
		d.metrics.SendCompleted(d.Name, err == ErrCanceled)
	}
}

// CompleteRecv delivers the completion of one posted receive entry,
// with the source address vector when the driver recovered one.
func (d *Device) CompleteRecv(qp *QueuePair, av *AddressVector, buf *Buffer, err error) {
	if h := qp.Recv.CQ.handlers.CompleteRecv; h != nil {
		h(d, qp, av, buf, err)
	} else {
		buf.Free()
	}
	qp.Recv.fill--
	if d.metrics != nil {
		d.metrics.RecvCompleted(d.Name, err == ErrCanceled)
	}
}

// RefillRecv tops the receive work queue back up to capacity from the
// device buffer pool. Pool exhaustion stops the pass silently and the
// next poll cycle retries; that is the backpressure, not an error. A
// failed post frees the fresh buffer and also gives up for this cycle.
func (d *Device) RefillRecv(qp *QueuePair) {
	posted := 0
	for qp.Recv.fill < qp.Recv.Capacity() {
		buf := d.pool.Get()
		if buf == nil {
			break
		}
		if err := d.PostRecv(qp, buf); err != nil {
			log.Debug().Err(err).Str("device", d.Name).Uint32("qpn", qp.QPN).Msg("Could not refill")
			buf.Free()
			break
		}
		posted++
	}
	if posted > 0 && d.metrics != nil {
		d.metrics.RecvRefilled(d.Name, posted)
	}
}
