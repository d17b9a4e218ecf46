// Package ib implements the host-side transport layer of an
// InfiniBand-class channel adapter: completion queues, queue pairs,
// work request posting and completion, receive refill backpressure,
// multicast membership bookkeeping, and port open/close reference
// counting driven by a single cooperative polling loop.
//
// Device-specific behavior lives behind the DeviceOps contract; the
// core never touches hardware directly. Everything in this package runs
// on the dispatcher goroutine: there is exactly one logical thread of
// control and no operation blocks, so the core carries no locks.
package ib

// DeviceOps is the hardware operations contract a driver backend
// implements for each device. The core calls these entry points and
// performs all bookkeeping around them; drivers assign the opaque
// queue identifiers during creation and deliver completions by calling
// Device.CompleteSend and Device.CompleteRecv from inside PollCQ.
type DeviceOps interface {
	// CreateCQ performs device-specific completion queue setup and
	// assigns cq.CQN.
	CreateCQ(dev *Device, cq *CompletionQueue) error
	// DestroyCQ tears down the device-specific completion queue state.
	DestroyCQ(dev *Device, cq *CompletionQueue)
	// PollCQ resolves finished entries on the completion queue,
	// delivering each through CompleteSend or CompleteRecv.
	PollCQ(dev *Device, cq *CompletionQueue)

	// CreateQP performs device-specific queue pair setup and assigns
	// qp.QPN.
	CreateQP(dev *Device, qp *QueuePair) error
	// ModifyQP applies a state transition with the queue pair's
	// current default address vector.
	ModifyQP(dev *Device, qp *QueuePair) error
	// DestroyQP tears down the device-specific queue pair state.
	DestroyQP(dev *Device, qp *QueuePair)

	// PostSend hands one send work queue entry to the device. On
	// success the driver owns a slot in qp.Send until it completes
	// the entry.
	PostSend(dev *Device, qp *QueuePair, av *AddressVector, buf *Buffer) error
	// PostRecv hands one receive work queue entry to the device.
	PostRecv(dev *Device, qp *QueuePair, buf *Buffer) error

	// McastAttach adds the queue pair to the hardware multicast
	// filter for gid.
	McastAttach(dev *Device, qp *QueuePair, gid GID) error
	// McastDetach removes the queue pair from the hardware multicast
	// filter for gid.
	McastDetach(dev *Device, qp *QueuePair, gid GID)

	// Open brings the port up; Close shuts it down.
	Open(dev *Device) error
	Close(dev *Device)

	// PollEventQueue drains the device event queue. Completion
	// discovery cascades from here; there is no interrupt-driven
	// delivery.
	PollEventQueue(dev *Device)
}

// PortInfoSetter is the optional set-port-info operation. Backends with
// embedded subnet management agents implement this in firmware and omit
// it here.
type PortInfoSetter interface {
	SetPortInfo(dev *Device, mad MAD) error
}

// PKeyTableSetter is the optional set-partition-key-table operation.
type PKeyTableSetter interface {
	SetPKeyTable(dev *Device, mad MAD) error
}

// CompletionOps carries the completion callbacks registered at
// completion queue creation. A nil member means the core frees the
// buffer itself; a non-nil member receives buffer ownership.
type CompletionOps struct {
	CompleteSend func(dev *Device, qp *QueuePair, buf *Buffer, err error)
	CompleteRecv func(dev *Device, qp *QueuePair, av *AddressVector, buf *Buffer, err error)
}

// Management creates the privileged interfaces a port needs while open:
// the subnet management interface, the agent riding it, and the general
// services interface. The datagram protocol itself is the provider's
// concern, not the core's.
type Management interface {
	CreateInterface(dev *Device, t QPType) (ManagementInterface, error)
	CreateAgent(dev *Device, mi ManagementInterface) (ManagementAgent, error)
}

// ManagementInterface is a queue pair wrapper for one of the two
// privileged interfaces.
type ManagementInterface interface {
	// QueuePair exposes the wrapped queue pair.
	QueuePair() *QueuePair
	// Close destroys the wrapper and its queues.
	Close()
}

// ManagementAgent is the subnet management agent bound to the SMI.
type ManagementAgent interface {
	Close()
}

// NetDriver is the network-device layer notified about adapter
// lifecycle and link state, the IP-over-InfiniBand consumer in a full
// stack.
type NetDriver interface {
	// Probe attaches a network device for a newly registered adapter.
	Probe(dev *Device) error
	// Remove detaches the network device before unregistration.
	Remove(dev *Device)
	// LinkStateChanged is forwarded whenever the physical link state
	// changes; the core does not evaluate link state itself.
	LinkStateChanged(dev *Device)
}

// MetricHook receives counters from the hot paths. Implementations live
// outside the core so it stays free of metrics dependencies; all hooks
// are invoked on the dispatcher goroutine.
type MetricHook interface {
	EventQueuePolled(dev string)
	SendCompleted(dev string, canceled bool)
	RecvCompleted(dev string, canceled bool)
	RecvRefilled(dev string, posted int)
}
