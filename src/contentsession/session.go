// Package contentsession implements the inner (content) authenticated
// encryption session keyed by a remote node's IPv6 address, and the manager
// that buffers outgoing packets while a destination's public key is being
// resolved.
package contentsession

import (
	"errors"
	"sync"
	"time"

	"github.com/SeattleMeshnet/meshcore/src/crypto"
)

var (
	ErrMalformed      = errors.New("contentsession: malformed envelope")
	ErrReplayed       = errors.New("contentsession: nonce not ahead of last seen")
	ErrAuthFailed     = errors.New("contentsession: authentication failed")
	ErrUnknownSession = errors.New("contentsession: no session for this address yet")
)

// Session is the end-to-end authenticated-encryption context between this
// node and one remote IPv6 endpoint, keyed by that endpoint's public key
// regardless of how many switch hops separate the two nodes.
type Session struct {
	mu        sync.Mutex
	peerPub   crypto.BoxPubKey
	shared    crypto.BoxSharedKey
	sendNonce crypto.BoxNonce
	recvNonce crypto.BoxNonce
	haveRecv  bool
	lastUsed  time.Time
}

func newSession(localPriv crypto.BoxPrivKey, peerPub crypto.BoxPubKey) *Session {
	return &Session{
		peerPub:   peerPub,
		shared:    crypto.GetSharedKey(localPriv, peerPub),
		sendNonce: crypto.NewBoxNonce(),
		lastUsed:  time.Now(),
	}
}

// Seal encrypts message for this session's remote endpoint.
func (s *Session) Seal(message []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendNonce.Increment()
	nonce := s.sendNonce
	out := make([]byte, 0, crypto.BoxNonceLen+len(message)+crypto.BoxOverhead)
	out = append(out, nonce[:]...)
	out = crypto.BoxSeal(s.shared, out, message, nonce)
	s.lastUsed = time.Now()
	return out
}

// Open decrypts an inbound envelope from this session's remote endpoint.
func (s *Session) Open(envelope []byte) ([]byte, error) {
	if len(envelope) < crypto.BoxNonceLen {
		return nil, ErrMalformed
	}
	var nonce crypto.BoxNonce
	copy(nonce[:], envelope[:crypto.BoxNonceLen])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveRecv {
		if diff := nonce.Minus(s.recvNonce); diff <= 0 {
			return nil, ErrReplayed
		}
	}
	opened, ok := crypto.BoxOpen(s.shared, nil, envelope[crypto.BoxNonceLen:], nonce)
	if !ok {
		return nil, ErrAuthFailed
	}
	s.recvNonce = nonce
	s.haveRecv = true
	s.lastUsed = time.Now()
	return opened, nil
}

// LastUsed reports when this session last sealed or opened a message.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}
