package peersession

import (
	"time"

	"github.com/Arceliar/phony"

	"github.com/SeattleMeshnet/meshcore/src/crypto"
	"github.com/SeattleMeshnet/meshcore/src/wire"
)

// Registry is the outer-session registry: a map from switch label to the
// peer-to-peer session for that label. It embeds phony.Inbox so every
// lookup, insert, and eviction sweep is serialised onto one goroutine,
// giving the "at most one session per label, no locks needed" invariant by
// construction rather than by convention.
type Registry struct {
	phony.Inbox
	localPub  crypto.BoxPubKey
	localPriv crypto.BoxPrivKey
	sessions  map[wire.Label]*Session
	idleFor   time.Duration
	// allowed is the session-firewall-style policy applied to every peer
	// key this registry's sessions ever adopt, whether learned from the
	// wire (Get) or already known (GetForPeer). nil allows every peer,
	// matching a disabled firewall.
	allowed func(crypto.BoxPubKey) bool
}

// NewRegistry creates an empty registry for a node identified by (pub,
// priv). idleTimeout bounds how long a session may go unused before
// EvictIdle reclaims it.
func NewRegistry(pub crypto.BoxPubKey, priv crypto.BoxPrivKey, idleTimeout time.Duration) *Registry {
	return &Registry{
		localPub:  pub,
		localPriv: priv,
		sessions:  make(map[wire.Label]*Session),
		idleFor:   idleTimeout,
	}
}

// Get returns the session for label, lazily creating a negotiating session
// with no pinned peer key if none exists. This is the path used whenever a
// frame arrives from a label we have not seen before; the peer's key is
// learned during the session's first Open call, at which point the
// registry's allow/deny policy (SetAllowed) is applied.
func (r *Registry) Get(label wire.Label) *Session {
	var s *Session
	phony.Block(r, func() {
		if existing, ok := r.sessions[label]; ok {
			s = existing
			return
		}
		s = newSession(r.localPub, r.localPriv, nil, r.allowed)
		r.sessions[label] = s
	})
	return s
}

// GetForPeer returns the session for label, lazily creating one already
// established with peerPub if none exists. This is the path used when we
// are the one initiating traffic toward a peer whose key we already know
// (from the routing module). The registry's allow/deny policy still
// applies: a denied peerPub leaves the session negotiating with no key
// pinned, so Seal fails until (and unless) that label instead negotiates
// with an allowed peer.
func (r *Registry) GetForPeer(label wire.Label, peerPub crypto.BoxPubKey) *Session {
	var s *Session
	phony.Block(r, func() {
		if existing, ok := r.sessions[label]; ok {
			s = existing
			return
		}
		s = newSession(r.localPub, r.localPriv, &peerPub, r.allowed)
		r.sessions[label] = s
	})
	return s
}

// SetAllowed wires a session-firewall-style predicate in: a peer key must
// satisfy it before any session adopts that key, whether inbound (Get) or
// outbound (GetForPeer). Passing nil (the default) allows every peer.
func (r *Registry) SetAllowed(allowed func(crypto.BoxPubKey) bool) {
	phony.Block(r, func() { r.allowed = allowed })
}

// Len reports the number of sessions currently held.
func (r *Registry) Len() int {
	var n int
	phony.Block(r, func() { n = len(r.sessions) })
	return n
}

// SessionInfo is a point-in-time snapshot of one entry in a Registry, for
// reporting tools that should not hold a reference to the live Session.
type SessionInfo struct {
	Label    wire.Label
	State    State
	PeerPub  crypto.BoxPubKey
	LastUsed time.Time
}

// Snapshot returns a copy of every session currently held, for diagnostics
// such as a CLI's -sessions flag.
func (r *Registry) Snapshot() []SessionInfo {
	var out []SessionInfo
	phony.Block(r, func() {
		out = make([]SessionInfo, 0, len(r.sessions))
		for label, s := range r.sessions {
			peerPub, _ := s.PeerPublicKey()
			out = append(out, SessionInfo{
				Label:    label,
				State:    s.State(),
				PeerPub:  peerPub,
				LastUsed: s.LastUsed(),
			})
		}
	})
	return out
}

// EvictIdle removes every session whose last use is older than now minus the
// registry's idle timeout, returning the number evicted. The owner of a
// Registry is expected to call this on a periodic timer; without it, an
// attacker who forges frames under many distinct labels can grow this map
// without bound, which is exactly the denial-of-service vector this spec's
// design notes flag as an open question upstream of this package.
func (r *Registry) EvictIdle(now time.Time) int {
	var evicted int
	phony.Block(r, func() {
		for label, s := range r.sessions {
			if now.Sub(s.LastUsed()) > r.idleFor {
				delete(r.sessions, label)
				evicted++
			}
		}
	})
	return evicted
}
