package ib

import "github.com/rs/zerolog/log"

// Open opens the port, creating the subnet management interface, the
// subnet management agent riding it, and the general services interface
// before the hardware open, in that order. Repeat opens only bump the
// reference count. Any failure unwinds in reverse order and leaves the
// device fully closed: partial opens are never observable.
func (d *Device) Open() error {
	d.openCount++
	if d.openCount > 1 {
		return nil
	}

	if d.mgmt == nil {
		d.openCount = 0
		return ErrNoManagement
	}

	smi, err := d.mgmt.CreateInterface(d, QPTypeSMI)
	if err != nil {
		log.Error().Err(err).Str("device", d.Name).Msg("Could not create SMI")
		d.openCount = 0
		return err
	}

	sma, err := d.mgmt.CreateAgent(d, smi)
	if err != nil {
		log.Error().Err(err).Str("device", d.Name).Msg("Could not create SMA")
		smi.Close()
		d.openCount = 0
		return err
	}

	gsi, err := d.mgmt.CreateInterface(d, QPTypeGSI)
	if err != nil {
		log.Error().Err(err).Str("device", d.Name).Msg("Could not create GSI")
		sma.Close()
		smi.Close()
		d.openCount = 0
		return err
	}

	if err := d.ops.Open(d); err != nil {
		log.Error().Err(err).Str("device", d.Name).Msg("Could not open device")
		gsi.Close()
		sma.Close()
		smi.Close()
		d.openCount = 0
		return err
	}

	d.smi, d.sma, d.gsi = smi, sma, gsi
	log.Info().Str("device", d.Name).Msg("Opened port")
	return nil
}

// Close drops one open reference. Teardown happens only when the last
// reference goes away, in reverse creation order: GSI, SMA, SMI, then
// the hardware close.
func (d *Device) Close() {
	d.openCount--
	if d.openCount != 0 {
		return
	}

	d.gsi.Close()
	d.gsi = nil
	d.sma.Close()
	d.sma = nil
	d.smi.Close()
	d.smi = nil
	d.ops.Close(d)
	log.Info().Str("device", d.Name).Msg("Closed port")
}

// SetPortInfo forwards a set-port-information datagram to the driver.
// Backends with embedded subnet management agents need not support it;
// ErrNotSupported is returned when the operation is absent.
func (d *Device) SetPortInfo(mad MAD) error {
	s, ok := d.ops.(PortInfoSetter)
	if !ok {
		log.Debug().Str("device", d.Name).Msg("Device does not support setting port information")
		return ErrNotSupported
	}
	if err := s.SetPortInfo(d, mad); err != nil {
		log.Error().Err(err).Str("device", d.Name).Msg("Could not set port information")
		return err
	}
	return nil
}

// SetPKeyTable forwards a set-partition-key-table datagram to the
// driver, ErrNotSupported when the operation is absent.
func (d *Device) SetPKeyTable(mad MAD) error {
	s, ok := d.ops.(PKeyTableSetter)
	if !ok {
		log.Debug().Str("device", d.Name).Msg("Device does not support setting partition key table")
		return ErrNotSupported
	}
	if err := s.SetPKeyTable(d, mad); err != nil {
		log.Error().Err(err).Str("device", d.Name).Msg("Could not set partition key table")
		return err
	}
	return nil
}
