package ib

import "github.com/rs/zerolog/log"

// CompletionQueue collects finished work queue entries for the work
// queues attached to it. The queues belong to their queue pairs; the
// completion queue only tracks membership and drives delivery.
type CompletionQueue struct {
	// CQN is the driver-assigned completion queue number, set by
	// DeviceOps.CreateCQ.
	CQN uint32
	// NumEntries is the requested entry capacity.
	NumEntries int

	dev        *Device
	handlers   CompletionOps
	workQueues []*WorkQueue
	drvdata    any
}

// CreateCQ creates a completion queue with the requested entry capacity
// and completion callbacks, delegating device-specific setup to the
// driver. On driver failure nothing remains linked: no partial queue is
// observable.
func (d *Device) CreateCQ(numEntries int, handlers CompletionOps) (*CompletionQueue, error) {
	log.Debug().Str("device", d.Name).Int("entries", numEntries).Msg("Creating completion queue")

	cq := &CompletionQueue{
		NumEntries: numEntries,
		dev:        d,
		handlers:   handlers,
	}
	d.cqs = append(d.cqs, cq)

	if err := d.ops.CreateCQ(d, cq); err != nil {
		d.cqs = removeCQ(d.cqs, cq)
		log.Error().Err(err).Str("device", d.Name).Msg("Could not initialise completion queue")
		return nil, err
	}

	log.Debug().
		Str("device", d.Name).
		Int("entries", numEntries).
		Uint32("cqn", cq.CQN).
		Msg("Created completion queue")
	return cq, nil
}

// DestroyCQ tears down a completion queue. Every queue pair referencing
// it must already be destroyed; a completion queue with attached work
// queues is a programming error and panics.
func (d *Device) DestroyCQ(cq *CompletionQueue) {
	log.Debug().Str("device", d.Name).Uint32("cqn", cq.CQN).Msg("Destroying completion queue")
	if len(cq.workQueues) != 0 {
		log.Panic().
			Str("device", d.Name).
			Uint32("cqn", cq.CQN).
			Int("attached", len(cq.workQueues)).
			Msg("destroying completion queue with attached work queues")
	}
	d.ops.DestroyCQ(d, cq)
	d.cqs = removeCQ(d.cqs, cq)
}

// PollCQ polls the completion queue, letting the driver resolve
// finished entries through CompleteSend and CompleteRecv, then refills
// every attached receive work queue. Receive capacity is replenished
// only here, after entries have been consumed.
func (d *Device) PollCQ(cq *CompletionQueue) {
	d.ops.PollCQ(d, cq)

	for _, wq := range cq.workQueues {
		if !wq.Send {
			d.RefillRecv(wq.QP)
		}
	}
}

// FindWorkQueue returns the work queue on this completion queue
// matching the queue pair number and direction, or nil. Drivers use it
// to resolve completion entries back to their queues.
func (cq *CompletionQueue) FindWorkQueue(qpn uint32, send bool) *WorkQueue {
	for _, wq := range cq.workQueues {
		if wq.QP.QPN == qpn && wq.Send == send {
			return wq
		}
	}
	return nil
}

// WorkQueues returns the attached work queues.
func (cq *CompletionQueue) WorkQueues() []*WorkQueue {
	return cq.workQueues
}

// SetDriverData stores backend private state on the completion queue.
func (cq *CompletionQueue) SetDriverData(v any) {
	cq.drvdata = v
}

// DriverData returns backend private state stored on the completion queue.
func (cq *CompletionQueue) DriverData() any {
	return cq.drvdata
}

func removeWQ(wqs []*WorkQueue, wq *WorkQueue) []*WorkQueue {
	for i, w := range wqs {
		if w == wq {
			return append(wqs[:i], wqs[i+1:]...)
		}
	}
	return wqs
}
