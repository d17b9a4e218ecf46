// Package mgmt provides the privileged management interfaces a port
// carries while open: the subnet management interface, the agent bound
// to it, and the general services interface. Each interface wraps one
// queue pair plus a completion queue and shuttles opaque management
// datagrams; the datagram protocol itself is left to whoever registers
// a handler.
package mgmt

import (
	"github.com/rs/zerolog/log"

	"github.com/anubani/ibnet/internal/ib"
)

// Queue depths for a management interface. Management traffic is
// sparse; the queues stay shallow.
const (
	numCQEntries   = 8
	numSendEntries = 4
	numRecvEntries = 2
)

// Handler consumes one received management datagram. The payload slice
// is only valid for the duration of the call.
type Handler func(dev *ib.Device, mi *Interface, av *ib.AddressVector, payload []byte)

// Provider creates management interfaces and agents for the port
// controller. It implements ib.Management.
type Provider struct {
	// OnSMIDatagram, when set, is installed as the datagram handler of
	// every agent this provider creates.
	OnSMIDatagram Handler
}

// NewProvider creates a management provider with no datagram handler;
// agents created from it drop what they receive.
func NewProvider() *Provider {
	return &Provider{}
}

// CreateInterface builds the queue pair wrapper for the given
// privileged type: completion queue, queue pair, state transition,
// initial receive fill. Any failure unwinds what was created.
func (p *Provider) CreateInterface(dev *ib.Device, t ib.QPType) (ib.ManagementInterface, error) {
	mi := &Interface{dev: dev}

	cq, err := dev.CreateCQ(numCQEntries, ib.CompletionOps{
		CompleteRecv: mi.completeRecv,
	})
	if err != nil {
		return nil, err
	}
	mi.cq = cq

	qp, err := dev.CreateQP(t, numSendEntries, cq, numRecvEntries, cq)
	if err != nil {
		dev.DestroyCQ(cq)
		return nil, err
	}
	mi.qp = qp

	if t == ib.QPTypeGSI {
		qp.QKey = ib.GSIQKey
	}

	if err := dev.ModifyQP(qp); err != nil {
		dev.DestroyQP(qp)
		dev.DestroyCQ(cq)
		return nil, err
	}

	dev.RefillRecv(qp)

	log.Debug().
		Str("device", dev.Name).
		Str("type", t.String()).
		Uint32("qpn", qp.QPN).
		Uint32("ext_qpn", qp.ExtQPN).
		Msg("Created management interface")
	return mi, nil
}

// CreateAgent binds a subnet management agent to the interface,
// installing the provider's datagram handler.
func (p *Provider) CreateAgent(dev *ib.Device, mi ib.ManagementInterface) (ib.ManagementAgent, error) {
	iface, ok := mi.(*Interface)
	if !ok {
		return nil, errForeignInterface
	}
	agent := &Agent{mi: iface}
	iface.handler = func(dev *ib.Device, mi *Interface, av *ib.AddressVector, payload []byte) {
		agent.received++
		if p.OnSMIDatagram != nil {
			p.OnSMIDatagram(dev, mi, av, payload)
		}
	}
	log.Debug().Str("device", dev.Name).Msg("Created subnet management agent")
	return agent, nil
}

// Interface wraps the queue pair and completion queue of one privileged
// management interface.
type Interface struct {
	dev     *ib.Device
	cq      *ib.CompletionQueue
	qp      *ib.QueuePair
	handler Handler
}

// QueuePair exposes the wrapped queue pair.
func (mi *Interface) QueuePair() *ib.QueuePair {
	return mi.qp
}

// Send posts one management datagram to the destination in av. The
// buffer comes from the device pool; pool exhaustion surfaces as
// ib.ErrQueueFull since management sends are shallow anyway.
func (mi *Interface) Send(av *ib.AddressVector, mad ib.MAD) error {
	buf := mi.dev.Pool().Get()
	if buf == nil {
		return ib.ErrQueueFull
	}
	buf.Write(mad)
	if err := mi.dev.PostSend(mi.qp, av, buf); err != nil {
		buf.Free()
		return err
	}
	return nil
}

// Close destroys the wrapped queues. Outstanding receive buffers are
// canceled back to the pool by the queue pair teardown.
func (mi *Interface) Close() {
	mi.dev.DestroyQP(mi.qp)
	mi.dev.DestroyCQ(mi.cq)
}

func (mi *Interface) completeRecv(dev *ib.Device, qp *ib.QueuePair, av *ib.AddressVector, buf *ib.Buffer, err error) {
	defer buf.Free()
	if err != nil {
		return
	}
	if mi.handler != nil {
		mi.handler(dev, mi, av, buf.Bytes())
	}
}

// Agent is the subnet management agent shell riding the SMI. It counts
// and forwards datagrams; responding to them is the handler's business.
type Agent struct {
	mi       *Interface
	received int
}

// Received reports how many datagrams the agent has consumed.
func (a *Agent) Received() int {
	return a.received
}

// Close detaches the agent from its interface.
func (a *Agent) Close() {
	a.mi.handler = nil
}

type mgmtError string

func (e mgmtError) Error() string { return string(e) }

const errForeignInterface = mgmtError("management interface not created by this provider")
