package ib

import "net"

// QPType distinguishes the two privileged queue pair roles from
// ordinary unreliable-datagram traffic.
type QPType int

const (
	// QPTypeUD is an ordinary unreliable datagram queue pair.
	QPTypeUD QPType = iota
	// QPTypeSMI is the subnet management interface queue pair.
	QPTypeSMI
	// QPTypeGSI is the general services interface queue pair.
	QPTypeGSI
)

// String returns the queue pair type name for logging.
func (t QPType) String() string {
	switch t {
	case QPTypeUD:
		return "UD"
	case QPTypeSMI:
		return "SMI"
	case QPTypeGSI:
		return "GSI"
	default:
		return "Unknown"
	}
}

// Well-known externally visible queue pair numbers. The hardware tracks
// a different internal number for these; the remap is fixed fabric
// policy, not something drivers choose.
const (
	QPNSMI uint32 = 0
	QPNGSI uint32 = 1
)

// GSIQKey is the queue key used for general services traffic.
const GSIQKey uint32 = 0x80010000

// MaxPayloadSize is the fixed maximum payload carried by a single work
// queue entry. Receive buffers must reserve at least this much tailroom.
const MaxPayloadSize = 2048

// Reserved link identifier and partition key values for a port that has
// not yet been configured by the subnet manager.
const (
	LIDNone  uint16 = 0xffff
	PKeyNone uint16 = 0x0000
)

// Rate is a transmission rate selector carried in an address vector.
type Rate uint8

const (
	Rate2_5 Rate = 2
	Rate10  Rate = 3
	Rate30  Rate = 4
	Rate5   Rate = 5
	Rate20  Rate = 6
	Rate40  Rate = 7
	Rate60  Rate = 8
	Rate80  Rate = 9
	Rate120 Rate = 10
)

// DefaultRate is the baseline rate filled into address vectors that do
// not specify one.
const DefaultRate = Rate2_5

// GID is a 128-bit global identifier, also used to address multicast
// groups.
type GID [16]byte

// String formats the GID in IPv6 notation.
func (g GID) String() string {
	return net.IP(g[:]).String()
}

// GUID returns the node GUID half of a port GID.
func (g GID) GUID() GUID {
	var guid GUID
	copy(guid[:], g[8:])
	return guid
}

// GUID is a 64-bit node identifier.
type GUID [8]byte

// AddressVector carries the routing parameters for a single datagram:
// destination queue pair, queue key, link identifier, service level and
// rate, plus an optional global route.
type AddressVector struct {
	QPN        uint32
	QKey       uint32
	LID        uint16
	SL         uint8
	Rate       Rate
	GIDPresent bool
	GID        GID
}

// MAD is an opaque management datagram. Wire-level encoding belongs to
// the management layer.
type MAD []byte
