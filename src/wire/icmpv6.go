package wire

// CreateICMPv6PacketTooBig is not part of the original packet-glue core; it
// is carried over from the teacher's ipv6rwc module, which emits this
// message whenever a locally-originated packet exceeds the session MTU, so
// that the sending application gets real Path MTU Discovery feedback
// instead of a silent drop.

import (
	"net"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"

	"github.com/SeattleMeshnet/meshcore/src/address"
)

// maxQuoteLen bounds how much of the offending packet is echoed back, so the
// generated ICMPv6 message itself never needs fragmentation.
const maxQuoteLen = 512 - IP6HeaderLen

// CreateICMPv6PacketTooBig builds a complete ICMPv6 Packet Too Big message,
// IPv6 header included, reporting mtu and quoting as much of offending as
// fits.
func CreateICMPv6PacketTooBig(dst, src address.Address, mtu int, offending []byte) ([]byte, error) {
	quoteLen := len(offending)
	if quoteLen > maxQuoteLen {
		quoteLen = maxQuoteLen
	}
	body := &icmp.PacketTooBig{MTU: mtu, Data: offending[:quoteLen]}
	msg := icmp.Message{Type: ipv6.ICMPTypePacketTooBig, Code: 0, Body: body}
	icmpBuf, err := msg.Marshal(icmp.IPv6PseudoHeader(net.IP(src[:]), net.IP(dst[:])))
	if err != nil {
		return nil, err
	}
	hdr := IP6Header{
		NextHeader:  58,
		HopLimit:    255,
		PayloadLen:  uint16(len(icmpBuf)),
		Source:      src,
		Destination: dst,
	}
	out := make([]byte, IP6HeaderLen+len(icmpBuf))
	copy(out[:IP6HeaderLen], hdr.Marshal())
	copy(out[IP6HeaderLen:], icmpBuf)
	return out, nil
}
