package ducttape

import (
	"testing"
	"time"

	"github.com/SeattleMeshnet/meshcore/src/address"
	"github.com/SeattleMeshnet/meshcore/src/contentsession"
	"github.com/SeattleMeshnet/meshcore/src/crypto"
	"github.com/SeattleMeshnet/meshcore/src/peersession"
	"github.com/SeattleMeshnet/meshcore/src/router"
	"github.com/SeattleMeshnet/meshcore/src/switchcore"
	"github.com/SeattleMeshnet/meshcore/src/wire"
)

type fakeTunnel struct {
	sent [][]byte
}

func (f *fakeTunnel) Send(packet []byte) error {
	f.sent = append(f.sent, append([]byte(nil), packet...))
	return nil
}

type recordingSwitch struct {
	frames [][]byte
}

func (r *recordingSwitch) Send(frame []byte) error {
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return nil
}

type testNode struct {
	priv  crypto.BoxPrivKey
	pub   crypto.BoxPubKey
	addr  address.Address
	label wire.Label
	outer *peersession.Registry
	inner *contentsession.Manager
	table *router.Table
	tun   *fakeTunnel
	d     *Dispatcher
}

func newTestNode(label wire.Label) *testNode {
	pub, priv := crypto.NewBoxKeys()
	outer := peersession.NewRegistry(pub, priv, time.Hour)
	inner := contentsession.NewManager(priv, nil)
	table := router.NewTable()
	d := New(priv, outer, inner, table, nil, nil)
	tun := &fakeTunnel{}
	d.SetTunnel(tun)
	return &testNode{
		priv: priv, pub: pub, addr: d.Address(), label: label,
		outer: outer, inner: inner, table: table, tun: tun, d: d,
	}
}

func (n *testNode) node() router.Node {
	return router.Node{Addr: n.addr, Key: n.pub, Label: n.label}
}

func buildIP6(src, dst address.Address, nextHeader, hopLimit uint8, payload []byte) []byte {
	h := wire.IP6Header{
		NextHeader: nextHeader,
		HopLimit:   hopLimit,
		Source:     src,
		Destination: dst,
		PayloadLen: uint16(len(payload)),
	}
	out := make([]byte, 0, wire.IP6HeaderLen+len(payload))
	out = append(out, h.Marshal()...)
	out = append(out, payload...)
	return out
}

func TestRoundTripLocalToRemoteAndBack(t *testing.T) {
	a := newTestNode(0x1111)
	b := newTestNode(0x2222)

	fabric := switchcore.NewLoopback()
	fabric.Connect(a.label, SwitchReceiver{D: a.d})
	fabric.Connect(b.label, SwitchReceiver{D: b.d})
	a.d.SetSwitch(fabric)
	b.d.SetSwitch(fabric)

	a.table.AddNode(b.node())
	b.table.AddNode(a.node())
	a.inner.Update(b.pub)
	b.inner.Update(a.pub)

	payload := []byte("hello from a")
	packet := buildIP6(a.addr, b.addr, 59, 64, payload)

	if err := a.d.Ip6FromTun(packet); err != nil {
		t.Fatalf("Ip6FromTun returned an error: %v", err)
	}

	if len(b.tun.sent) != 1 {
		t.Fatalf("expected exactly one packet delivered to b's tunnel, got %d", len(b.tun.sent))
	}
	got := b.tun.sent[0]
	gotHeader, err := wire.ParseIP6Header(got)
	if err != nil {
		t.Fatalf("b's tunnel received an unparseable packet: %v", err)
	}
	if gotHeader.Source != a.addr || gotHeader.Destination != b.addr {
		t.Fatalf("delivered header has wrong addresses: src=%v dst=%v", gotHeader.Source, gotHeader.Destination)
	}
	if string(got[wire.IP6HeaderLen:]) != string(payload) {
		t.Fatalf("delivered payload %q does not match original %q", got[wire.IP6HeaderLen:], payload)
	}
}

func TestForwardThroughDecrementsHopLimitAndReencrypts(t *testing.T) {
	a := newTestNode(0x3333)
	m := newTestNode(0x4444)
	var cAddr address.Address
	cPub, cPriv := crypto.NewBoxKeys()
	cAddr = address.ForKey(cPub[:])
	_ = cPriv
	cLabel := wire.Label(0x5555)
	m.table.AddNode(router.Node{Addr: cAddr, Key: cPub, Label: cLabel})

	sw := &recordingSwitch{}
	m.d.SetSwitch(sw)

	// a sends directly to m over their own outer session (a is both m's
	// direct outer-session peer and the packet's true source, matching the
	// only forwarding shape this core is specified to handle).
	session := a.outer.GetForPeer(m.label, m.pub)
	payload := []byte("transit payload")
	plaintext := buildIP6(a.addr, cAddr, 59, 5, payload)
	envelope, err := session.Seal(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	hdr := wire.SwitchHeader{Label: m.label}
	frame := append(hdr.Marshal(), envelope...)

	if err := m.d.IncomingFromSwitch(frame); err != nil {
		t.Fatalf("IncomingFromSwitch returned an error: %v", err)
	}

	if len(m.tun.sent) != 0 {
		t.Fatal("expected no tunnel write when forwarding")
	}
	if len(sw.frames) != 1 {
		t.Fatalf("expected exactly one frame emitted to the switch, got %d", len(sw.frames))
	}
	outHdr, err := wire.ParseSwitchHeader(sw.frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if outHdr.Label != cLabel {
		t.Fatalf("expected forwarded frame labelled for c (%v), got %v", cLabel, outHdr.Label)
	}

	// decrypt what m sent, from c's point of view, to check hop-limit was
	// decremented and the payload survived re-encryption.
	cOuter := peersession.NewRegistry(cPub, cPriv, time.Hour)
	cSession := cOuter.Get(outHdr.Label)
	decrypted, err := cSession.Open(sw.frames[0][wire.SwitchHeaderLen:])
	if err != nil {
		t.Fatalf("c could not open the forwarded frame: %v", err)
	}
	outIP6, err := wire.ParseIP6Header(decrypted)
	if err != nil {
		t.Fatal(err)
	}
	if outIP6.HopLimit != 4 {
		t.Fatalf("expected hop limit decremented to 4, got %d", outIP6.HopLimit)
	}
	if string(decrypted[wire.IP6HeaderLen:]) != string(payload) {
		t.Fatalf("forwarded payload corrupted: got %q", decrypted[wire.IP6HeaderLen:])
	}
}

func TestRouterToRouterHandleOutgoing(t *testing.T) {
	a := newTestNode(0x6666)
	b := newTestNode(0x7777)

	fabric := switchcore.NewLoopback()
	fabric.Connect(a.label, SwitchReceiver{D: a.d})
	fabric.Connect(b.label, SwitchReceiver{D: b.d})
	a.d.SetSwitch(fabric)
	b.d.SetSwitch(fabric)

	a.table.AddNode(b.node())

	reg := router.NewSimpleRegistry()
	b.d.SetRegistry(reg)

	msg := router.DHTMessage{Bytes: []byte("ping"), Sender: b.addr}
	a.d.HandleOutgoing(msg)

	received := reg.Received()
	if len(received) != 1 {
		t.Fatalf("expected b's registry to record exactly one message, got %d", len(received))
	}
	if string(received[0].Bytes) != "ping" {
		t.Fatalf("expected delivered bytes %q, got %q", "ping", received[0].Bytes)
	}
	if received[0].Sender != a.addr {
		t.Fatalf("expected sender %v, got %v", a.addr, received[0].Sender)
	}
	if len(b.tun.sent) != 0 {
		t.Fatal("router traffic must never reach the tunnel")
	}
}

func TestSpoofedSourceDropped(t *testing.T) {
	a := newTestNode(0x8888)
	m := newTestNode(0x9999)
	sw := &recordingSwitch{}
	m.d.SetSwitch(sw)

	victimPub, _ := crypto.NewBoxKeys()
	victimAddr := address.ForKey(victimPub[:])

	session := a.outer.GetForPeer(m.label, m.pub)
	plaintext := buildIP6(victimAddr, m.addr, 59, 64, []byte("spoofed"))
	envelope, err := session.Seal(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	hdr := wire.SwitchHeader{Label: m.label}
	frame := append(hdr.Marshal(), envelope...)

	if err := m.d.IncomingFromSwitch(frame); err != nil {
		t.Fatalf("IncomingFromSwitch returned an error: %v", err)
	}

	if len(m.tun.sent) != 0 {
		t.Fatal("spoofed-source frame must not reach the tunnel")
	}
	if len(sw.frames) != 0 {
		t.Fatal("spoofed-source frame must not be forwarded")
	}
	if _, ok := m.table.Lookup(a.addr); ok {
		t.Fatal("spoofed-source frame must not result in addNode")
	}
}

func TestBrokenPathControlFrame(t *testing.T) {
	m := newTestNode(0xaaaa)
	victimLabel := wire.Label(42)
	victimPub, _ := crypto.NewBoxKeys()
	m.table.AddNode(router.Node{Addr: address.ForKey(victimPub[:]), Key: victimPub, Label: victimLabel})

	ce := wire.ControlError{Type: wire.ErrorMalformedAddress, CauseLabel: victimLabel}
	hdr := wire.SwitchHeader{Label: victimLabel.Reverse(), Type: wire.MessageTypeControl}
	frame := append(hdr.Marshal(), ce.Marshal()...)

	if err := m.d.IncomingFromSwitch(frame); err != nil {
		t.Fatalf("IncomingFromSwitch returned an error: %v", err)
	}
	if _, ok := m.table.Lookup(address.ForKey(victimPub[:])); ok {
		t.Fatal("expected brokenPath to remove the node from the routing table")
	}
}

func TestOversizedOutgoingPacketGetsPacketTooBig(t *testing.T) {
	a := newTestNode(0xdddd)
	b := newTestNode(0xeeee)
	fabric := switchcore.NewLoopback()
	fabric.Connect(a.label, SwitchReceiver{D: a.d})
	fabric.Connect(b.label, SwitchReceiver{D: b.d})
	a.d.SetSwitch(fabric)
	b.d.SetSwitch(fabric)
	a.table.AddNode(b.node())
	a.inner.Update(b.pub)

	a.d.SetSessionMTU(60)

	payload := make([]byte, 200)
	packet := buildIP6(a.addr, b.addr, 59, 64, payload)

	if err := a.d.Ip6FromTun(packet); err != nil {
		t.Fatalf("Ip6FromTun returned an error: %v", err)
	}

	if len(b.tun.sent) != 0 {
		t.Fatal("an oversized packet must not reach the remote tunnel")
	}
	if len(a.tun.sent) != 1 {
		t.Fatalf("expected exactly one packet-too-big response on a's own tunnel, got %d", len(a.tun.sent))
	}
	reported := a.tun.sent[0]
	reportedHeader, err := wire.ParseIP6Header(reported)
	if err != nil {
		t.Fatalf("packet-too-big response is not a valid IPv6 packet: %v", err)
	}
	if reportedHeader.NextHeader != 58 {
		t.Fatalf("expected ICMPv6 next-header 58, got %d", reportedHeader.NextHeader)
	}
	if reportedHeader.Source != a.addr || reportedHeader.Destination != a.addr {
		t.Fatalf("expected packet-too-big looped back to our own address on both ends, got src=%v dst=%v", reportedHeader.Source, reportedHeader.Destination)
	}
}

func TestHopLimitZeroOnArrivalNotAddressedToUsIsDropped(t *testing.T) {
	a := newTestNode(0xbbbb)
	m := newTestNode(0xcccc)
	sw := &recordingSwitch{}
	m.d.SetSwitch(sw)

	var farAddr address.Address
	farAddr[0] = 0xfc
	farAddr[1] = 1

	session := a.outer.GetForPeer(m.label, m.pub)
	plaintext := buildIP6(a.addr, farAddr, 59, 0, []byte("x"))
	envelope, err := session.Seal(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	hdr := wire.SwitchHeader{Label: m.label}
	frame := append(hdr.Marshal(), envelope...)

	if err := m.d.IncomingFromSwitch(frame); err != nil {
		t.Fatalf("IncomingFromSwitch returned an error: %v", err)
	}
	if len(sw.frames) != 0 {
		t.Fatal("a zero-hop-limit frame not addressed to us must never be forwarded")
	}
}

func TestRouterKeyLookupResolvesBufferedSendFromRoutingTable(t *testing.T) {
	a := newTestNode(0xdddd)
	b := newTestNode(0xeeee)

	fabric := switchcore.NewLoopback()
	fabric.Connect(a.label, SwitchReceiver{D: a.d})
	fabric.Connect(b.label, SwitchReceiver{D: b.d})
	a.d.SetSwitch(fabric)
	b.d.SetSwitch(fabric)

	// The routing module already knows b directly (e.g. from an earlier
	// AddNode), so an unresolved tunnel packet to b should not need to wait
	// out the full lookup timeout before a content session can be built.
	a.table.AddNode(b.node())
	b.table.AddNode(a.node())
	a.inner.SetLookup(NewRouterKeyLookup(a.table, a.d))

	packet := buildIP6(a.addr, b.addr, 59, 64, []byte("payload"))
	if err := a.d.Ip6FromTun(packet); err != nil {
		t.Fatalf("Ip6FromTun returned an error: %v", err)
	}
	if a.inner.HasSession(b.addr) {
		t.Fatal("expected no content session yet before the key lookup resolves")
	}

	deadline := time.Now().Add(time.Second)
	for len(b.tun.sent) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(b.tun.sent) != 1 {
		t.Fatal("RouterKeyLookup never resolved the buffered destination and flushed it through")
	}
}
