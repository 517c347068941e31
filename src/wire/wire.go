// Package wire defines the on-the-wire header formats the dispatcher peels
// off and prepends as it shifts a Frame's window back and forth: the switch
// header, the IPv6 header, the zero-ported UDP header used for in-band
// router traffic, and the switch fabric's control/error frame.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/SeattleMeshnet/meshcore/src/address"
)

// ErrShort is returned when a buffer is too small to contain the header
// being parsed.
var ErrShort = errors.New("wire: buffer too short")

// ErrNotIPv6 is returned by ParseIP6Header when the version nibble isn't 6.
var ErrNotIPv6 = errors.New("wire: not an IPv6 header")

// Label is the switch fabric's 64-bit forwarding tag.
type Label uint64

// Reverse returns the bit-reversal of the label. Labels arrive bit-reversed
// from the switch on ingress and must be un-reversed before use; applying
// Reverse twice is the identity.
func (l Label) Reverse() Label {
	var r Label
	for i := 0; i < 64; i++ {
		r = (r << 1) | (l & 1)
		l >>= 1
	}
	return r
}

// MessageType distinguishes switch-layer data frames from control frames.
type MessageType uint8

const (
	MessageTypeData MessageType = iota
	MessageTypeControl
)

// SwitchHeaderLen is the marshalled size of a SwitchHeader.
const SwitchHeaderLen = 9

// SwitchHeader is the fixed-size prefix the switch fabric reads to route a
// frame: a label plus a one-byte message-type tag.
type SwitchHeader struct {
	Label Label
	Type  MessageType
}

// Marshal returns the 9-byte wire encoding of h.
func (h SwitchHeader) Marshal() []byte {
	b := make([]byte, SwitchHeaderLen)
	binary.BigEndian.PutUint64(b[:8], uint64(h.Label))
	b[8] = byte(h.Type)
	return b
}

// ParseSwitchHeader reads a SwitchHeader from the front of b.
func ParseSwitchHeader(b []byte) (SwitchHeader, error) {
	if len(b) < SwitchHeaderLen {
		return SwitchHeader{}, ErrShort
	}
	return SwitchHeader{
		Label: Label(binary.BigEndian.Uint64(b[:8])),
		Type:  MessageType(b[8]),
	}, nil
}

// IP6HeaderLen is the fixed size of a standard IPv6 header.
const IP6HeaderLen = 40

// NextHeaderUDP is the IPv6 next-header value for UDP.
const NextHeaderUDP = 17

// IP6Header is a standard 40-byte IPv6 header. Source and Destination are
// expected to be in the overlay's fc00::/8 range; callers validate that
// separately (see the address/key binding check in package ducttape).
type IP6Header struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Source       address.Address
	Destination  address.Address
}

// Marshal returns the 40-byte wire encoding of h.
func (h IP6Header) Marshal() []byte {
	b := make([]byte, IP6HeaderLen)
	b[0] = 0x60 | (h.TrafficClass >> 4)
	b[1] = (h.TrafficClass << 4) | byte(h.FlowLabel>>16)
	b[2] = byte(h.FlowLabel >> 8)
	b[3] = byte(h.FlowLabel)
	binary.BigEndian.PutUint16(b[4:6], h.PayloadLen)
	b[6] = h.NextHeader
	b[7] = h.HopLimit
	copy(b[8:24], h.Source[:])
	copy(b[24:40], h.Destination[:])
	return b
}

// ParseIP6Header reads an IP6Header from the front of b.
func ParseIP6Header(b []byte) (IP6Header, error) {
	if len(b) < IP6HeaderLen {
		return IP6Header{}, ErrShort
	}
	if b[0]>>4 != 6 {
		return IP6Header{}, ErrNotIPv6
	}
	var h IP6Header
	h.TrafficClass = (b[0] << 4) | (b[1] >> 4)
	h.FlowLabel = uint32(b[1]&0x0f)<<16 | uint32(b[2])<<8 | uint32(b[3])
	h.PayloadLen = binary.BigEndian.Uint16(b[4:6])
	h.NextHeader = b[6]
	h.HopLimit = b[7]
	copy(h.Source[:], b[8:24])
	copy(h.Destination[:], b[24:40])
	return h, nil
}

// UDPHeaderLen is the fixed size of a UDP header.
const UDPHeaderLen = 8

// UDPHeader is the 8-byte UDP header used to carry in-band router traffic.
// Checksum is not validated anywhere in this module, matching the source
// system this was distilled from.
type UDPHeader struct {
	SourcePort uint16
	DestPort   uint16
	Length     uint16
	Checksum   uint16
}

// Marshal returns the 8-byte wire encoding of h.
func (h UDPHeader) Marshal() []byte {
	b := make([]byte, UDPHeaderLen)
	binary.BigEndian.PutUint16(b[0:2], h.SourcePort)
	binary.BigEndian.PutUint16(b[2:4], h.DestPort)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	binary.BigEndian.PutUint16(b[6:8], h.Checksum)
	return b
}

// ParseUDPHeader reads a UDPHeader from the front of b.
func ParseUDPHeader(b []byte) (UDPHeader, error) {
	if len(b) < UDPHeaderLen {
		return UDPHeader{}, ErrShort
	}
	return UDPHeader{
		SourcePort: binary.BigEndian.Uint16(b[0:2]),
		DestPort:   binary.BigEndian.Uint16(b[2:4]),
		Length:     binary.BigEndian.Uint16(b[4:6]),
		Checksum:   binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

// IsRouterTraffic reports whether payload, carried under ip6, is an in-band
// message for the routing module: UDP next-header, zero hop-limit, both
// ports zero, and a UDP length field matching the data carried after the
// UDP header (this wire's router-traffic convention excludes the header
// itself from Length, unlike standard UDP). The zero hop-limit is
// deliberate: router-to-router traffic must never be forwarded, and a
// stray forwarder would drop a zero-hop-limit frame anyway.
func IsRouterTraffic(ip6 IP6Header, payload []byte) bool {
	if ip6.NextHeader != NextHeaderUDP || ip6.HopLimit != 0 {
		return false
	}
	if len(payload) < UDPHeaderLen {
		return false
	}
	udp, err := ParseUDPHeader(payload)
	if err != nil {
		return false
	}
	return udp.SourcePort == 0 && udp.DestPort == 0 && int(udp.Length) == len(payload)-UDPHeaderLen
}

// ErrorType enumerates the switch fabric's control-frame error causes this
// node understands.
type ErrorType uint8

const (
	ErrorNone ErrorType = iota
	// ErrorMalformedAddress reports that a frame forwarded toward a label
	// was rejected because its address did not parse; the receiving node
	// considers the path to that label broken.
	ErrorMalformedAddress
	ErrorOther
)

// ControlErrorLen is the marshalled size of a ControlError.
const ControlErrorLen = 1 + 8

// ControlError is the payload of a switch-layer MessageTypeControl frame
// reporting a delivery failure for a particular label.
type ControlError struct {
	Type       ErrorType
	CauseLabel Label
}

// Marshal returns the wire encoding of c.
func (c ControlError) Marshal() []byte {
	b := make([]byte, ControlErrorLen)
	b[0] = byte(c.Type)
	binary.BigEndian.PutUint64(b[1:9], uint64(c.CauseLabel))
	return b
}

// ParseControlError reads a ControlError from the front of b.
func ParseControlError(b []byte) (ControlError, error) {
	if len(b) < ControlErrorLen {
		return ControlError{}, ErrShort
	}
	return ControlError{
		Type:       ErrorType(b[0]),
		CauseLabel: Label(binary.BigEndian.Uint64(b[1:9])),
	}, nil
}
