// Package switchcore defines the external switch-fabric contract the
// dispatcher depends on, and a minimal in-process reference fabric
// (Loopback) sufficient to drive the dispatcher's end-to-end behaviour
// without a real label-switched network, which remains an external
// collaborator.
package switchcore

import (
	"errors"
	"sync"

	"github.com/SeattleMeshnet/meshcore/src/wire"
)

// ErrNoRoute is returned by Loopback.Send when no peer is registered under
// the frame's switch-header label.
var ErrNoRoute = errors.New("switchcore: no peer registered for this label")

// Interface is the switch fabric's send side, as consumed by the
// dispatcher's sendToSwitch.
type Interface interface {
	Send(frame []byte) error
}

// Receiver is implemented by whoever the switch fabric delivers inbound
// frames to: the dispatcher registers its incomingFromSwitch entry point
// here at startup.
type Receiver interface {
	ReceiveMessage(frame []byte) error
}

// Loopback is a reference, in-process switch fabric. Frames sent to it are
// routed to whichever peer is registered under the frame's switch-header
// label; it has no notion of multi-hop paths of its own; a multi-hop
// forward emerges from the dispatcher decrementing hop-limit, re-labelling
// the frame toward the next hop, and re-sending it through this same
// fabric.
type Loopback struct {
	mu    sync.RWMutex
	peers map[wire.Label]Receiver
}

// NewLoopback returns an empty Loopback fabric.
func NewLoopback() *Loopback {
	return &Loopback{peers: make(map[wire.Label]Receiver)}
}

// Connect registers recv as reachable under label.
func (l *Loopback) Connect(label wire.Label, recv Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers[label] = recv
}

// Disconnect removes whatever is registered under label.
func (l *Loopback) Disconnect(label wire.Label) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.peers, label)
}

// Send looks up frame's switch-header label and delivers the frame to the
// peer registered there, after bit-reversing the label the way a real
// switch fabric presents it to the receiving node on ingress.
func (l *Loopback) Send(frame []byte) error {
	hdr, err := wire.ParseSwitchHeader(frame)
	if err != nil {
		return err
	}
	l.mu.RLock()
	recv, ok := l.peers[hdr.Label]
	l.mu.RUnlock()
	if !ok {
		return ErrNoRoute
	}
	delivered := make([]byte, len(frame))
	copy(delivered, frame)
	onWire := wire.SwitchHeader{Label: hdr.Label.Reverse(), Type: hdr.Type}
	copy(delivered[:wire.SwitchHeaderLen], onWire.Marshal())
	return recv.ReceiveMessage(delivered)
}
