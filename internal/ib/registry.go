package ib

import "github.com/rs/zerolog/log"

// Registry is the process-wide list of registered adapters. The
// dispatcher iterates it each step, and HCA discovery counts sibling
// ports through it. Registration holds a device reference until
// unregistration.
type Registry struct {
	devices []*Device
	driver  NetDriver
}

// NewRegistry creates a registry. The network driver is probed for
// every registered device and may be nil when no network layer rides
// the adapters.
func NewRegistry(driver NetDriver) *Registry {
	return &Registry{driver: driver}
}

// Register adds a device to the registry and probes the network driver
// for it. A failed probe unwinds the registration.
func (r *Registry) Register(dev *Device) error {
	dev.get()
	r.devices = append(r.devices, dev)
	dev.netdrv = r.driver

	if r.driver != nil {
		if err := r.driver.Probe(dev); err != nil {
			log.Error().Err(err).Str("device", dev.Name).Msg("Could not add network device")
			dev.netdrv = nil
			r.devices = r.devices[:len(r.devices)-1]
			dev.put()
			return err
		}
	}

	dev.registered = true
	log.Info().Str("device", dev.Name).Str("phys", dev.Physical).Msg("Registered device")
	return nil
}

// Unregister removes a device, detaching its network device first and
// dropping the registration reference.
func (r *Registry) Unregister(dev *Device) {
	if r.driver != nil {
		r.driver.Remove(dev)
	}
	dev.netdrv = nil

	for i, d := range r.devices {
		if d == dev {
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			break
		}
	}
	dev.registered = false
	dev.put()
	log.Info().Str("device", dev.Name).Msg("Unregistered device")
}

// Devices returns the registered devices in registration order.
func (r *Registry) Devices() []*Device {
	return r.devices
}

// HCAInfo reports the node GUID and port count of the hardware unit the
// device belongs to, by scanning the registry for sibling ports sharing
// its physical unit. The GUID comes from the first sibling found.
func (r *Registry) HCAInfo(dev *Device) (GUID, int) {
	var guid GUID
	numPorts := 0
	for _, d := range r.devices {
		if d.Physical != dev.Physical {
			continue
		}
		if numPorts == 0 {
			guid = d.GID.GUID()
		}
		numPorts++
	}
	return guid, numPorts
}
