package contentsession

import (
	"time"

	"github.com/Arceliar/phony"

	"github.com/SeattleMeshnet/meshcore/src/address"
	"github.com/SeattleMeshnet/meshcore/src/crypto"
)

// lookupTimeout bounds how long a packet waits, buffered, for its
// destination's public key to be resolved before it is dropped.
const lookupTimeout = 2 * time.Minute

// KeyLookup is satisfied by the routing module: given a destination
// address with no content session yet, it asks the network to resolve that
// node's public key. The answer, if any, arrives later via Manager.Update.
type KeyLookup interface {
	SendLookup(addr address.Address)
}

type buffer struct {
	packet []byte
	timer  *time.Timer
}

// Manager is the inner (content) session manager: a map from remote IPv6
// address to the content session for that endpoint, plus a buffer for the
// single most recent outgoing packet per address still waiting on key
// resolution. It embeds phony.Inbox so lookups, session creation, and
// buffer flushes are serialised onto one goroutine (ground: the same
// single-threaded-actor discipline as peersession.Registry).
type Manager struct {
	phony.Inbox
	localPriv crypto.BoxPrivKey
	lookup    KeyLookup
	sessions  map[address.Address]*Session
	pending   map[address.Address]*buffer
}

// NewManager creates an empty manager for a node whose private key is
// localPriv. lookup may be nil in tests that never need to resolve an
// unknown destination.
func NewManager(localPriv crypto.BoxPrivKey, lookup KeyLookup) *Manager {
	return &Manager{
		localPriv: localPriv,
		lookup:    lookup,
		sessions:  make(map[address.Address]*Session),
		pending:   make(map[address.Address]*buffer),
	}
}

// SetLookup wires the key-resolution hook in after construction. Useful
// when the lookup implementation itself needs a reference to this Manager
// (to report a resolved key back via Update), which isn't available yet at
// NewManager time.
func (m *Manager) SetLookup(lookup KeyLookup) {
	phony.Block(m, func() { m.lookup = lookup })
}

// SendTo seals payload for delivery to dst if a session already exists. If
// not, payload is buffered and a key lookup is triggered; the caller gets
// back ok=false and should not expect to send anything until a later
// Update call flushes the buffer.
func (m *Manager) SendTo(dst address.Address, payload []byte) (envelope []byte, ok bool) {
	phony.Block(m, func() {
		if s, exists := m.sessions[dst]; exists {
			envelope = s.Seal(payload)
			ok = true
			return
		}
		buf := &buffer{packet: append([]byte(nil), payload...)}
		if old, exists := m.pending[dst]; exists && old.timer != nil {
			old.timer.Stop()
		}
		buf.timer = time.AfterFunc(lookupTimeout, func() {
			phony.Block(m, func() {
				if cur, exists := m.pending[dst]; exists && cur == buf {
					delete(m.pending, dst)
				}
			})
		})
		m.pending[dst] = buf
		if m.lookup != nil {
			m.lookup.SendLookup(dst)
		}
	})
	return envelope, ok
}

// Update creates or refreshes the content session for peerPub. If a packet
// was buffered waiting on exactly this address's key, it is returned sealed
// and ready to send, with hadPending set.
func (m *Manager) Update(peerPub crypto.BoxPubKey) (flushed []byte, dst address.Address, hadPending bool) {
	addr := address.ForKey(peerPub[:])
	phony.Block(m, func() {
		s, exists := m.sessions[addr]
		if !exists {
			s = newSession(m.localPriv, peerPub)
			m.sessions[addr] = s
		}
		if buf, isPending := m.pending[addr]; isPending {
			if buf.timer != nil {
				buf.timer.Stop()
			}
			delete(m.pending, addr)
			flushed = s.Seal(buf.packet)
			dst = addr
			hadPending = true
		}
	})
	return flushed, dst, hadPending
}

// Receive opens an inbound envelope from src. Sessions are only ever
// created by Update, never implicitly here: a content packet can only
// legitimately arrive after the outer (peer-to-peer) layer has already
// authenticated the sender and offered its key to this manager.
func (m *Manager) Receive(src address.Address, envelope []byte) ([]byte, error) {
	var out []byte
	var err error
	phony.Block(m, func() {
		s, exists := m.sessions[src]
		if !exists {
			err = ErrUnknownSession
			return
		}
		out, err = s.Open(envelope)
	})
	return out, err
}

// HasSession reports whether a content session for addr exists yet.
func (m *Manager) HasSession(addr address.Address) bool {
	var ok bool
	phony.Block(m, func() { _, ok = m.sessions[addr] })
	return ok
}

// Len reports the number of content sessions currently held.
func (m *Manager) Len() int {
	var n int
	phony.Block(m, func() { n = len(m.sessions) })
	return n
}
