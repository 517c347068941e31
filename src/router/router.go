// Package router defines the routing-module contract the dispatcher
// depends on (next-hop selection, node admission, broken-path reporting,
// and in-band router-traffic delivery) and a minimal in-memory reference
// implementation sufficient to drive the dispatcher end to end without a
// real distributed routing protocol, which remains an external
// collaborator.
package router

import (
	"sync"

	"github.com/SeattleMeshnet/meshcore/src/address"
	"github.com/SeattleMeshnet/meshcore/src/crypto"
	"github.com/SeattleMeshnet/meshcore/src/wire"
)

// Node is everything the routing module knows about a peer.
type Node struct {
	Addr  address.Address
	Key   crypto.BoxPubKey
	Label wire.Label
}

// Module is the routing-module contract consumed by the dispatcher.
type Module interface {
	// GetBest returns the best known next hop toward dst, or false if this
	// node is the closest known node (nothing to forward to).
	GetBest(dst address.Address) (Node, bool)
	// Lookup returns dst's own entry with no nearest-node fallback. Used when
	// a caller needs to address a specific known node directly (handing a
	// router-layer message to exactly the peer the routing module named),
	// rather than picking a next hop toward some other destination.
	Lookup(dst address.Address) (Node, bool)
	// AddNode offers a newly-authenticated peer to the routing table. This
	// is the sole point where peers enter the routing table.
	AddNode(n Node)
	// BrokenPath reports that the path to label is no longer usable.
	BrokenPath(label wire.Label)
}

// DHTMessage is an in-band routing-layer message. Via Registry.HandleIncoming
// it is a message delivered up from the wire and Sender is who sent it; when
// a registered module's outgoing handler is invoked with one, Sender instead
// names the specific known node the message should be addressed to.
type DHTMessage struct {
	Bytes  []byte
	Sender address.Address
}

// Registry is the routing subsystem's module registry: the dispatcher
// registers itself here under a name with the function the registry should
// call when it wants to emit router traffic through this node, and hands
// the registry inbound router traffic it received over the wire.
type Registry interface {
	Register(name string, handleOutgoing func(DHTMessage)) error
	HandleIncoming(msg DHTMessage)
}

// Table is a flat, unbounded, nearest-by-XOR-distance routing table. It is
// not a real distributed routing protocol (no bucket refresh, no path
// discovery) but implements the Module contract well enough to drive the
// dispatcher's forwarding decisions in tests and small deployments.
type Table struct {
	mu    sync.RWMutex
	nodes map[address.Address]Node
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{nodes: make(map[address.Address]Node)}
}

// AddNode inserts or refreshes a node's entry in the table.
func (t *Table) AddNode(n Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.Addr] = n
}

// GetBest returns dst's entry directly if known, otherwise the closest node
// by XOR distance among every node this table has ever learned about.
func (t *Table) GetBest(dst address.Address) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n, ok := t.nodes[dst]; ok {
		return n, true
	}
	var best Node
	var bestDist [16]byte
	found := false
	for _, n := range t.nodes {
		d := xorDistance(n.Addr, dst)
		if !found || lessDistance(d, bestDist) {
			best, bestDist, found = n, d, true
		}
	}
	return best, found
}

// Lookup returns addr's entry only if known exactly, with no nearest-node
// fallback. Used by callers that need a specific node's public key (content
// session key resolution) rather than a forwarding decision.
func (t *Table) Lookup(addr address.Address) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[addr]
	return n, ok
}

// BrokenPath removes every node reachable via label, so a subsequent
// GetBest will pick a different next hop (or report none known).
func (t *Table) BrokenPath(label wire.Label) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, n := range t.nodes {
		if n.Label == label {
			delete(t.nodes, addr)
		}
	}
}

// Len reports how many nodes the table currently holds.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

func xorDistance(a, b address.Address) [16]byte {
	var d [16]byte
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

func lessDistance(a, b [16]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
