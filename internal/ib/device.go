package ib

import "github.com/rs/zerolog/log"

// Device represents one physical adapter port. It owns its completion
// queues and queue pairs, at most one subnet management interface and
// one general services interface while open, and a reference count
// governing destruction after unregistration.
type Device struct {
	// Name is the driver-assigned device name, used in logs.
	Name string
	// Physical identifies the hardware unit this port belongs to.
	// Sibling ports of a multi-port adapter share it.
	Physical string
	// LID is the local link identifier assigned by the subnet manager,
	// LIDNone until configured.
	LID uint16
	// PKey is the partition key, PKeyNone until configured.
	PKey uint16
	// GID is the port's global identifier.
	GID GID

	ops     DeviceOps
	mgmt    Management
	metrics MetricHook
	pool    *BufferPool

	cqs []*CompletionQueue
	qps []*QueuePair

	openCount int
	smi       ManagementInterface
	sma       ManagementAgent
	gsi       ManagementInterface

	refs       int
	registered bool
	netdrv     NetDriver

	drvdata any
}

// NewDevice allocates a device bound to the given driver backend. The
// device starts closed, holds one reference for its creator, and owns a
// default receive buffer pool; the port LID and partition key are left
// unconfigured.
func NewDevice(name, physical string, ops DeviceOps) *Device {
	return &Device{
		Name:     name,
		Physical: physical,
		LID:      LIDNone,
		PKey:     PKeyNone,
		ops:      ops,
		pool:     NewBufferPool(defaultPoolBuffers, MaxPayloadSize),
		refs:     1,
	}
}

// defaultPoolBuffers bounds outstanding receive buffers per device.
const defaultPoolBuffers = 64

// SetManagement attaches the management provider used by Open to create
// the SMI, SMA and GSI. Must be set before the first Open.
func (d *Device) SetManagement(m Management) {
	d.mgmt = m
}

// SetMetrics attaches a metric hook. Pass nil to detach.
func (d *Device) SetMetrics(h MetricHook) {
	d.metrics = h
}

// SetPool replaces the receive buffer pool. Only valid while no receive
// queue is outstanding.
func (d *Device) SetPool(p *BufferPool) {
	d.pool = p
}

// Pool returns the device's receive buffer pool.
func (d *Device) Pool() *BufferPool {
	return d.pool
}

// SetDriverData stores backend private state on the device.
func (d *Device) SetDriverData(v any) {
	d.drvdata = v
}

// DriverData returns backend private state stored on the device.
func (d *Device) DriverData() any {
	return d.drvdata
}

// CompletionQueues returns the device's owned completion queues.
func (d *Device) CompletionQueues() []*CompletionQueue {
	return d.cqs
}

// QueuePairs returns the device's owned queue pairs.
func (d *Device) QueuePairs() []*QueuePair {
	return d.qps
}

// OpenCount reports the current open reference count.
func (d *Device) OpenCount() int {
	return d.openCount
}

// SMI returns the subnet management interface, nil while closed.
func (d *Device) SMI() ManagementInterface {
	return d.smi
}

// GSI returns the general services interface, nil while closed.
func (d *Device) GSI() ManagementInterface {
	return d.gsi
}

func (d *Device) get() {
	d.refs++
}

func (d *Device) put() {
	if d.refs <= 0 {
		log.Panic().Str("device", d.Name).Msg("device reference underflow")
	}
	d.refs--
	if d.refs == 0 {
		log.Debug().Str("device", d.Name).Msg("device released")
	}
}

func removeCQ(cqs []*CompletionQueue, cq *CompletionQueue) []*CompletionQueue {
	for i, c := range cqs {
		if c == cq {
			return append(cqs[:i], cqs[i+1:]...)
		}
	}
	return cqs
}

func removeQP(qps []*QueuePair, qp *QueuePair) []*QueuePair {
	for i, q := range qps {
		if q == qp {
			return append(qps[:i], qps[i+1:]...)
		}
	}
	return qps
}
