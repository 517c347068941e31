package ducttape

import (
	"github.com/Arceliar/phony"

	"github.com/SeattleMeshnet/meshcore/src/address"
	"github.com/SeattleMeshnet/meshcore/src/crypto"
	"github.com/SeattleMeshnet/meshcore/src/router"
	"github.com/SeattleMeshnet/meshcore/src/wire"
)

// IncomingFromSwitch is the switch fabric's send-to-us entry point. frame is
// aligned on the switch header. Frames that are dropped anywhere along the
// ingress path are logged, not reported back to the switch fabric.
func (d *Dispatcher) IncomingFromSwitch(frame []byte) error {
	var err error
	phony.Block(d, func() { err = d.incomingFromSwitch(frame) })
	return err
}

func (d *Dispatcher) incomingFromSwitch(frame []byte) error {
	hdr, perr := wire.ParseSwitchHeader(frame)
	if perr != nil {
		d.log.Debugln("ducttape: dropped short switch frame:", perr)
		return nil
	}
	label := hdr.Label.Reverse()
	rest := frame[wire.SwitchHeaderLen:]

	if hdr.Type == wire.MessageTypeControl {
		d.handleControl(label, rest)
		return nil
	}

	session := d.outer.Get(label)
	plaintext, err := session.Open(rest)
	if err != nil {
		d.log.Debugln("ducttape: outer session open failed for label", label, ":", err)
		return nil
	}
	peerPub, established := session.PeerPublicKey()
	if !established {
		d.log.Debugln("ducttape: outer session reports success but no peer key for label", label)
		return nil
	}
	if err := d.receivedFromCryptoAuth(label, peerPub, plaintext); err != nil {
		d.log.Debugln("ducttape: dropped frame from label", label, ":", err)
	}
	return nil
}

// receivedFromCryptoAuth runs once the outer session has produced plaintext
// aligned on an IPv6 header, with herPub the now-authenticated sender's key.
func (d *Dispatcher) receivedFromCryptoAuth(label wire.Label, herPub crypto.BoxPubKey, plaintext []byte) error {
	if herPub == (crypto.BoxPubKey{}) {
		panic("ducttape: received an authenticated frame with a zero public key")
	}
	herAddr := address.ForKey(herPub[:])
	if !herAddr.IsValid() {
		d.log.Debugln("ducttape: derived address for label", label, "falls outside fc00::/8")
		return nil
	}
	ip6, perr := wire.ParseIP6Header(plaintext)
	if perr != nil {
		d.log.Debugln("ducttape: label", label, "sent an unparseable IPv6 header:", perr)
		return nil
	}
	payload := plaintext[wire.IP6HeaderLen:]
	if berr := checkAddressBinding(ip6, payload, herAddr); berr != nil {
		d.log.Debugln("ducttape: address/key binding check failed for label", label, ":", berr)
		return nil
	}
	d.router.AddNode(router.Node{Addr: herAddr, Key: herPub, Label: label})
	// A peer directly reachable at the outer layer has, by construction,
	// already proved ownership of the same key its content address is bound
	// to, so its content session can be brought up immediately rather than
	// waiting on a separate routing-layer key lookup. That also settles any
	// tunnel packet to her that arrived before we knew her key.
	d.resolvedKey(herPub)
	return d.decryptedIncoming(ip6, payload, nil)
}

// decryptedIncoming runs on both the ingress path (from
// receivedFromCryptoAuth) and the egress path (from outgoingFromMe, once
// this node's own outbound packet has been content-encrypted). state,
// when non-nil with a set forwardTo, skips the routing-module lookup and
// forwards directly to that node: used for router-module-originated
// traffic, which already names its destination.
func (d *Dispatcher) decryptedIncoming(ip6 wire.IP6Header, payload []byte, state *dispatchState) error {
	if !ip6.Source.IsValid() || !ip6.Destination.IsValid() {
		d.log.Debugln("ducttape: decryptedIncoming saw an address outside fc00::/8")
		return ErrInvalid
	}
	if int(ip6.PayloadLen) != len(payload) {
		d.log.Debugln("ducttape: decryptedIncoming payload length does not match header")
		return ErrInvalid
	}

	if ip6.Destination == d.ourAddr {
		opened, err := d.inner.Receive(ip6.Source, payload)
		if err != nil {
			d.log.Debugln("ducttape: content session rejected frame from", ip6.Source, ":", err)
			return nil
		}
		return d.incomingForMe(ip6, opened)
	}

	// A caller that already named the next hop (outgoingFromMe, for
	// locally-originated traffic such as router-to-router messages, which
	// are deliberately sent with a zero hop limit) bypasses the hop-limit
	// accounting below: that accounting governs genuine transit forwarding
	// of someone else's in-flight packet, not a fresh single-hop send.
	if state != nil && state.forwardTo != nil {
		return d.sendToRouter(*state.forwardTo, ip6, payload)
	}

	if ip6.HopLimit == 0 {
		d.log.Debugln("ducttape: dropping zero-hop-limit frame not addressed to us")
		return ErrUndeliverable
	}
	ip6.HopLimit--

	next, ok := d.router.GetBest(ip6.Destination)
	if !ok {
		d.log.Debugln("ducttape: no route known toward", ip6.Destination)
		return ErrUndeliverable
	}
	return d.sendToRouter(next, ip6, payload)
}

// incomingForMe runs on content-layer plaintext addressed to us. ip6 is the
// header the outer layer decrypted down to; payload is the content
// session's decrypted bytes.
func (d *Dispatcher) incomingForMe(ip6 wire.IP6Header, payload []byte) error {
	if wire.IsRouterTraffic(ip6, payload) {
		if d.registry != nil {
			d.registry.HandleIncoming(router.DHTMessage{
				Bytes:  payload[wire.UDPHeaderLen:],
				Sender: ip6.Source,
			})
		}
		return nil
	}
	if d.tun == nil {
		d.log.Warnln("ducttape: no tunnel configured, dropping packet for", d.ourAddr, "from", ip6.Source)
		return ErrUndeliverable
	}
	ip6.PayloadLen = uint16(len(payload))
	full := make([]byte, 0, wire.IP6HeaderLen+len(payload))
	full = append(full, ip6.Marshal()...)
	full = append(full, payload...)
	if err := d.tun.Send(full); err != nil {
		d.log.Debugln("ducttape: tunnel write failed:", err)
		return err
	}
	return nil
}

// Ip6FromTun is the local tunnel device's send-to-us entry point. packet is
// aligned on the IPv6 header.
func (d *Dispatcher) Ip6FromTun(packet []byte) error {
	var err error
	phony.Block(d, func() { err = d.ip6FromTun(packet) })
	return err
}

func (d *Dispatcher) ip6FromTun(packet []byte) error {
	ip6, perr := wire.ParseIP6Header(packet)
	if perr != nil {
		d.log.Debugln("ducttape: invalid IPv6 packet from tunnel:", perr)
		return ErrInvalid
	}
	if ip6.Source != d.ourAddr {
		d.log.Debugln("ducttape: tunnel packet source", ip6.Source, "is not our address, dropping")
		return ErrInvalid
	}
	payload := packet[wire.IP6HeaderLen:]
	envelope, ok := d.inner.SendTo(ip6.Destination, payload)
	if !ok {
		d.log.Debugln("ducttape: buffering tunnel packet to", ip6.Destination, "pending key resolution")
		d.pendingHeaders[ip6.Destination] = ip6
		return nil
	}
	if d.sessionMTU > 0 && wire.IP6HeaderLen+len(envelope) > d.sessionMTU {
		return d.sendPacketTooBig(ip6, packet)
	}
	return d.outgoingFromMe(ip6, envelope, nil)
}

// sendPacketTooBig reports, back through our own tunnel, that a locally-
// originated packet exceeded the content session's MTU: the same Path MTU
// Discovery feedback the teacher's ipv6rwc module gives instead of silently
// dropping an oversized packet. Since this node is both the packet's origin
// and the point of failure, the synthesized ICMPv6 message's source and
// destination are both our own address.
func (d *Dispatcher) sendPacketTooBig(ip6 wire.IP6Header, packet []byte) error {
	if d.tun == nil {
		return ErrUndeliverable
	}
	icmp, err := wire.CreateICMPv6PacketTooBig(d.ourAddr, d.ourAddr, d.sessionMTU, packet)
	if err != nil {
		d.log.Debugln("ducttape: failed to build packet-too-big response:", err)
		return ErrInvalid
	}
	return d.tun.Send(icmp)
}

// HandleOutgoing is the routing module's entry point to emit a control
// message to a peer it already knows about (identified by msg.Sender, which
// in this direction names the destination rather than a source).
func (d *Dispatcher) HandleOutgoing(msg router.DHTMessage) {
	phony.Block(d, func() { d.handleOutgoing(msg) })
}

func (d *Dispatcher) handleOutgoing(msg router.DHTMessage) {
	target, ok := d.router.Lookup(msg.Sender)
	if !ok {
		d.log.Warnln("ducttape: handleOutgoing asked to address an unknown node, dropping")
		return
	}

	payload := buildRouterPayload(msg.Bytes)
	d.resolvedKey(target.Key)
	envelope, ok := d.inner.SendTo(target.Addr, payload)
	if !ok {
		d.log.Debugln("ducttape: handleOutgoing could not seal a message for", target.Addr)
		return
	}

	// HopLimit zero marks this as router traffic (wire.IsRouterTraffic) and
	// matches the invariant that router-to-router messages are never
	// forwarded beyond their single addressed hop.
	ip6 := wire.IP6Header{
		NextHeader:  wire.NextHeaderUDP,
		HopLimit:    0,
		Source:      d.ourAddr,
		Destination: target.Addr,
	}
	if err := d.outgoingFromMe(ip6, envelope, &target); err != nil {
		d.log.Debugln("ducttape: handleOutgoing delivery failed for", target.Addr, ":", err)
	}
}

// ResolvedKey reports that peerPub is now known to be reachable, whether
// learned from an authenticated outer session or from a routing-module key
// lookup (see RouterKeyLookup). Any tunnel packet sitting buffered for the
// address that key maps to is sealed and sent on.
func (d *Dispatcher) ResolvedKey(peerPub crypto.BoxPubKey) {
	phony.Block(d, func() { d.resolvedKey(peerPub) })
}

func (d *Dispatcher) resolvedKey(peerPub crypto.BoxPubKey) {
	flushed, dst, hadPending := d.inner.Update(peerPub)
	if !hadPending {
		return
	}
	header, ok := d.pendingHeaders[dst]
	delete(d.pendingHeaders, dst)
	if !ok {
		header = wire.IP6Header{
			NextHeader:  wire.NextHeaderUDP,
			HopLimit:    defaultHopLimit,
			Source:      d.ourAddr,
			Destination: dst,
		}
	}
	if err := d.outgoingFromMe(header, flushed, nil); err != nil {
		d.log.Debugln("ducttape: failed to send flushed packet to", dst, ":", err)
	}
}

// outgoingFromMe runs on inner-session ciphertext that still needs its IPv6
// header prepended. target, when set, is threaded through to
// decryptedIncoming so router-module-originated traffic forwards directly
// to the node that was already named, without a routing-table lookup.
func (d *Dispatcher) outgoingFromMe(ip6 wire.IP6Header, envelope []byte, target *router.Node) error {
	ip6.PayloadLen = uint16(len(envelope))
	if ip6.Destination == d.ourAddr {
		ip6.Source, ip6.Destination = ip6.Destination, ip6.Source
	}
	var state *dispatchState
	if target != nil {
		state = &dispatchState{forwardTo: target}
	}
	return d.decryptedIncoming(ip6, envelope, state)
}

// sendToRouter seals (ip6, payload) for delivery to next over the outer
// session for next's label, then hands the result to the switch.
func (d *Dispatcher) sendToRouter(next router.Node, ip6 wire.IP6Header, payload []byte) error {
	session := d.outer.GetForPeer(next.Label, next.Key)
	plaintext := make([]byte, 0, wire.IP6HeaderLen+len(payload))
	plaintext = append(plaintext, ip6.Marshal()...)
	plaintext = append(plaintext, payload...)
	envelope, err := session.Seal(plaintext)
	if err != nil {
		d.log.Debugln("ducttape: failed to seal outbound frame for label", next.Label, ":", err)
		return ErrUndeliverable
	}
	hdr := wire.SwitchHeader{Label: next.Label, Type: wire.MessageTypeData}
	return d.sendToSwitch(envelope, hdr)
}

// sendToSwitch prepends hdr to envelope and hands the frame to the switch
// fabric.
func (d *Dispatcher) sendToSwitch(envelope []byte, hdr wire.SwitchHeader) error {
	if d.sw == nil {
		d.log.Warnln("ducttape: no switch fabric configured, dropping outbound frame")
		return ErrUndeliverable
	}
	frame := make([]byte, 0, wire.SwitchHeaderLen+len(envelope))
	frame = append(frame, hdr.Marshal()...)
	frame = append(frame, envelope...)
	return d.sw.Send(frame)
}
