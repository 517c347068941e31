// Package peersession implements the outer (peer-to-peer) authenticated
// encryption session keyed by switch label, and the registry that maps
// labels to sessions.
package peersession

import (
	"errors"
	"sync"
	"time"

	"github.com/SeattleMeshnet/meshcore/src/crypto"
)

var (
	ErrNotEstablished  = errors.New("peersession: session not established")
	ErrMalformed       = errors.New("peersession: malformed envelope")
	ErrPeerKeyMismatch = errors.New("peersession: peer key does not match session")
	ErrReplayed        = errors.New("peersession: nonce not ahead of last seen")
	ErrAuthFailed      = errors.New("peersession: authentication failed")
	ErrPeerNotAllowed  = errors.New("peersession: peer rejected by session firewall policy")
)

// State is a Session's position in its absent -> negotiating -> established
// lifecycle. There is no transition back: a session that loses its
// counterparty is evicted by the registry and a fresh one replaces it.
type State uint8

const (
	StateNegotiating State = iota
	StateEstablished
)

// envelopeHeaderLen is the size of the cleartext prefix on every envelope:
// the sender's public key followed by the nonce.
const envelopeHeaderLen = crypto.BoxPubKeyLen + crypto.BoxNonceLen

// Session is the peer-to-peer authenticated-encryption context for one
// switch label. Every envelope carries the sender's public key in the clear
// ahead of the nonce. A negotiating session learns the peer's key from it;
// an established session rejects an envelope whose key differs from the
// pinned one.
type Session struct {
	mu        sync.Mutex
	state     State
	localPub  crypto.BoxPubKey
	localPriv crypto.BoxPrivKey
	peerPub   crypto.BoxPubKey
	shared    crypto.BoxSharedKey
	sendNonce crypto.BoxNonce
	recvNonce crypto.BoxNonce
	lastUsed  time.Time
	// allowed is the session-firewall predicate this session's Registry was
	// configured with, or nil if every peer is allowed. It is checked at the
	// one point a session ever adopts a peer key, whether that key arrived
	// on the wire (Open, negotiating) or was already known at creation
	// (GetForPeer).
	allowed func(crypto.BoxPubKey) bool
}

func newSession(localPub crypto.BoxPubKey, localPriv crypto.BoxPrivKey, peerPub *crypto.BoxPubKey, allowed func(crypto.BoxPubKey) bool) *Session {
	s := &Session{localPub: localPub, localPriv: localPriv, lastUsed: time.Now(), allowed: allowed}
	s.sendNonce = crypto.NewBoxNonce()
	if peerPub != nil && (allowed == nil || allowed(*peerPub)) {
		s.peerPub = *peerPub
		s.shared = crypto.GetSharedKey(localPriv, *peerPub)
		s.state = StateEstablished
	}
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerPublicKey returns the peer's public key and whether it is known yet.
func (s *Session) PeerPublicKey() (crypto.BoxPubKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerPub, s.state == StateEstablished
}

// LastUsed reports when this session last sealed or opened a message.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Seal encrypts message for this session's peer and returns the wire
// envelope to hand to the switch. The session must already be established
// (see Registry.GetForPeer); there is no "negotiating send" because we only
// ever seal for a peer whose key we already know.
func (s *Session) Seal(message []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished {
		return nil, ErrNotEstablished
	}
	s.sendNonce.Increment()
	nonce := s.sendNonce
	out := make([]byte, 0, envelopeHeaderLen+len(message)+crypto.BoxOverhead)
	out = append(out, s.localPub[:]...)
	out = append(out, nonce[:]...)
	out = crypto.BoxSeal(s.shared, out, message, nonce)
	s.lastUsed = time.Now()
	return out, nil
}

// Open decrypts an inbound envelope. If the session was negotiating, the
// sender's public key carried at the front of the envelope is captured and
// the session transitions to established; this is the only place a
// session's peer key is ever learned from the wire rather than supplied by
// the caller.
func (s *Session) Open(envelope []byte) ([]byte, error) {
	if len(envelope) < envelopeHeaderLen {
		return nil, ErrMalformed
	}
	var senderPub crypto.BoxPubKey
	copy(senderPub[:], envelope[:crypto.BoxPubKeyLen])
	var nonce crypto.BoxNonce
	copy(nonce[:], envelope[crypto.BoxPubKeyLen:envelopeHeaderLen])
	sealed := envelope[envelopeHeaderLen:]

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateNegotiating:
		if s.allowed != nil && !s.allowed(senderPub) {
			return nil, ErrPeerNotAllowed
		}
		s.peerPub = senderPub
		s.shared = crypto.GetSharedKey(s.localPriv, senderPub)
		s.state = StateEstablished
	case StateEstablished:
		if senderPub != s.peerPub {
			return nil, ErrPeerKeyMismatch
		}
		if diff := nonce.Minus(s.recvNonce); diff <= 0 {
			return nil, ErrReplayed
		}
	}

	opened, ok := crypto.BoxOpen(s.shared, nil, sealed, nonce)
	if !ok {
		return nil, ErrAuthFailed
	}
	s.recvNonce = nonce
	s.lastUsed = time.Now()
	return opened, nil
}
