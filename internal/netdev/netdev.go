// Package netdev is the network-device layer riding the adapters: one
// logical network interface per registered port, tracking link state
// from the adapter's notifications.
package netdev

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/anubani/ibnet/internal/ib"
)

var _ ib.NetDriver = (*Driver)(nil)

// Driver implements ib.NetDriver, maintaining one NetDevice per
// adapter port.
type Driver struct {
	devices map[*ib.Device]*NetDevice
	nextIdx int
}

// NetDevice is the logical network interface attached to one adapter
// port.
type NetDevice struct {
	// Name is the interface name, assigned at probe time.
	Name string

	up bool
}

// Up reports whether the interface considers its link up.
func (n *NetDevice) Up() bool {
	return n.up
}

// New creates an empty network-device driver.
func New() *Driver {
	return &Driver{devices: make(map[*ib.Device]*NetDevice)}
}

// Probe attaches a network interface to a newly registered adapter.
func (d *Driver) Probe(dev *ib.Device) error {
	netdev := &NetDevice{Name: fmt.Sprintf("inet%d", d.nextIdx)}
	d.nextIdx++
	d.devices[dev] = netdev
	log.Info().Str("device", dev.Name).Str("netdev", netdev.Name).Msg("Attached network device")
	return nil
}

// Remove detaches the network interface before unregistration.
func (d *Driver) Remove(dev *ib.Device) {
	netdev, ok := d.devices[dev]
	if !ok {
		return
	}
	delete(d.devices, dev)
	log.Info().Str("device", dev.Name).Str("netdev", netdev.Name).Msg("Detached network device")
}

// LinkStateChanged re-evaluates the interface's link from the port
// state: the link counts as up once the port holds a real link
// identifier.
func (d *Driver) LinkStateChanged(dev *ib.Device) {
	netdev, ok := d.devices[dev]
	if !ok {
		return
	}
	up := dev.LID != ib.LIDNone
	if up == netdev.up {
		return
	}
	netdev.up = up
	log.Info().
		Str("device", dev.Name).
		Str("netdev", netdev.Name).
		Bool("up", up).
		Msg("Network device link state changed")
}

// Device returns the network interface attached to the adapter, or nil.
func (d *Driver) Device(dev *ib.Device) *NetDevice {
	return d.devices[dev]
}
