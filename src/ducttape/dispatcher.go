// Package ducttape is the packet-dispatch core: the subsystem that sits
// between the label switch, the routing module, the local tunnel device,
// and the two nested encrypted sessions, and routes every frame through the
// right combination of them.
//
// Every entry point threads its own dispatchState down the call chain
// instead of reading and writing fields on a shared, mutable struct; two
// frames in flight at once (impossible today, since Dispatcher serialises
// all entry points onto its own actor mailbox, but a concern for any future
// concurrent dispatch) can never alias each other's state.
package ducttape

import (
	"errors"
	"io"

	"github.com/Arceliar/phony"
	"github.com/gologme/log"

	"github.com/SeattleMeshnet/meshcore/src/address"
	"github.com/SeattleMeshnet/meshcore/src/contentsession"
	"github.com/SeattleMeshnet/meshcore/src/crypto"
	"github.com/SeattleMeshnet/meshcore/src/peersession"
	"github.com/SeattleMeshnet/meshcore/src/router"
	"github.com/SeattleMeshnet/meshcore/src/switchcore"
	"github.com/SeattleMeshnet/meshcore/src/wire"
)

// Dispatch return codes. NONE is represented by a nil error.
var (
	ErrInvalid       = errors.New("ducttape: invalid frame")
	ErrUndeliverable = errors.New("ducttape: no route, no tunnel, or hop limit exceeded")
)

var (
	errNotOverlayAddress = errors.New("ducttape: address outside fc00::/8")
	errKeyAddressMismatch = errors.New("ducttape: source address does not match authenticated key")
	errPayloadLengthMismatch = errors.New("ducttape: IPv6 payload length does not match frame")
)

// tunnelSink is the subset of *tunnel.Device the dispatcher depends on,
// kept narrow so tests can supply a fake without pulling in real TUN I/O.
type tunnelSink interface {
	Send(packet []byte) error
}

// Dispatcher is the packet-dispatch core. It embeds phony.Inbox so that,
// matching the single-threaded event-driven model frames are specified
// under, every entry point runs to completion before the next one starts,
// regardless of which goroutine (switch reader, tunnel reader, routing
// module) called in.
type Dispatcher struct {
	phony.Inbox

	ourAddr address.Address
	ourPub  crypto.BoxPubKey
	ourPriv crypto.BoxPrivKey

	outer    *peersession.Registry
	inner    *contentsession.Manager
	router   router.Module
	registry router.Registry
	sw       switchcore.Interface
	tun      tunnelSink

	// pendingHeaders holds the IPv6 header of the most recent locally-
	// originated packet still buffered in inner awaiting key resolution,
	// keyed by destination. inner's own buffer only keeps the payload (the
	// part it needs to seal); the header has to be kept somewhere so a
	// packet can be correctly reconstructed once resolvedKey flushes it.
	pendingHeaders map[address.Address]wire.IP6Header

	// sessionMTU bounds how large a locally-originated, content-encrypted
	// packet may be before it is rejected with an ICMPv6 Packet Too Big
	// response instead of being forwarded. Zero disables the check.
	sessionMTU int

	log *log.Logger
}

// dispatchState carries the one field that must survive from one entry
// point to the next without being rederived: the next hop a router-module-
// originated message must be forwarded to, set by handleOutgoing and
// consumed by decryptedIncoming. A nil state (or a state with a nil
// forwardTo) means "look the next hop up normally".
type dispatchState struct {
	forwardTo *router.Node
}

// New builds a Dispatcher for a node identified by ourPriv; the public key
// is derived from it. The switch, tunnel, and router-registry collaborators
// may be wired in afterward via Register; a Dispatcher with a nil tun or sw simply treats sends through
// that collaborator as undeliverable, which is useful for unit tests that
// only exercise one direction of traffic.
func New(ourPriv crypto.BoxPrivKey, outer *peersession.Registry, inner *contentsession.Manager, rt router.Module, registry router.Registry, logger *log.Logger) *Dispatcher {
	pub := ourPriv.Public()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{
		ourAddr:        address.ForKey(pub[:]),
		ourPub:         pub,
		ourPriv:        ourPriv,
		outer:          outer,
		inner:          inner,
		router:         rt,
		registry:       registry,
		log:            logger,
		pendingHeaders: make(map[address.Address]wire.IP6Header),
	}
}

// defaultHopLimit seeds the IPv6 header synthesized for a flushed packet
// when no original header was retained (resolvedKey triggered other than
// through a buffered tunnel send). 64 matches the conventional IPv6 default.
const defaultHopLimit = 64

// Address returns this node's overlay address.
func (d *Dispatcher) Address() address.Address {
	return d.ourAddr
}

// SetSwitch wires the switch fabric's send side in. Safe to call before or
// after the dispatcher starts receiving frames.
func (d *Dispatcher) SetSwitch(sw switchcore.Interface) {
	phony.Block(d, func() { d.sw = sw })
}

// SetTunnel wires the local tunnel device's send side in.
func (d *Dispatcher) SetTunnel(tun tunnelSink) {
	phony.Block(d, func() { d.tun = tun })
}

// SetRegistry wires the routing module's message registry in, used to
// deliver in-band router traffic received via incomingForMe.
func (d *Dispatcher) SetRegistry(reg router.Registry) {
	phony.Block(d, func() { d.registry = reg })
}

// SetSessionMTU sets the size threshold above which a locally-originated
// packet is rejected with an ICMPv6 Packet Too Big response instead of being
// sent. mtu <= 0 disables the check.
func (d *Dispatcher) SetSessionMTU(mtu int) {
	phony.Block(d, func() { d.sessionMTU = mtu })
}

// checkAddressBinding is the address/key binding check: both addresses must
// be in fc00::/8, the declared payload length must match the frame actually
// carried, and the source must equal the prefix of the authenticated key
// that decrypted this frame.
func checkAddressBinding(ip6 wire.IP6Header, payload []byte, herAddr address.Address) error {
	if !ip6.Source.IsValid() || !ip6.Destination.IsValid() {
		return errNotOverlayAddress
	}
	if int(ip6.PayloadLen) != len(payload) {
		return errPayloadLengthMismatch
	}
	if ip6.Source != herAddr {
		return errKeyAddressMismatch
	}
	return nil
}

func buildRouterPayload(bytes []byte) []byte {
	udp := wire.UDPHeader{Length: uint16(len(bytes))}
	return append(udp.Marshal(), bytes...)
}
