// Package crypto wraps golang.org/x/crypto/nacl/box so the rest of meshcore
// never imports it directly. Both the outer (peer-to-peer) and inner
// (content) session layers use the same box primitive, keyed by different
// identifiers; this package supplies the one set of key/nonce types shared
// by both.
package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// BoxPubKeyLen is the length of a BoxPubKey in bytes.
const BoxPubKeyLen = 32

// BoxPrivKeyLen is the length of a BoxPrivKey in bytes.
const BoxPrivKeyLen = 32

// BoxSharedKeyLen is the length of a BoxSharedKey in bytes.
const BoxSharedKeyLen = 32

// BoxNonceLen is the length of a BoxNonce in bytes.
const BoxNonceLen = 24

// BoxOverhead is the length of the authentication overhead added by sealing.
const BoxOverhead = box.Overhead

// BoxPubKey is a NaCl-like "box" public key (curve25519+xsalsa20+poly1305).
type BoxPubKey [BoxPubKeyLen]byte

// BoxPrivKey is a NaCl-like "box" private key.
type BoxPrivKey [BoxPrivKeyLen]byte

// BoxSharedKey is a precomputed NaCl "box" shared key.
type BoxSharedKey [BoxSharedKeyLen]byte

// BoxNonce is the nonce used in "box" operations. It must never be reused
// for two different messages encrypted under the same BoxSharedKey.
type BoxNonce [BoxNonceLen]byte

// String returns the hex encoding of the key.
func (k BoxPubKey) String() string {
	return hex.EncodeToString(k[:])
}

// NewBoxKeys generates a new public/private keypair.
func NewBoxKeys() (BoxPubKey, BoxPrivKey) {
	pubBytes, privBytes, err := box.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return BoxPubKey(*pubBytes), BoxPrivKey(*privBytes)
}

// Public returns the BoxPubKey associated with this BoxPrivKey.
func (p BoxPrivKey) Public() BoxPubKey {
	var pub [BoxPubKeyLen]byte
	priv := [BoxPrivKeyLen]byte(p)
	curve25519.ScalarBaseMult(&pub, &priv)
	return pub
}

// GetSharedKey returns the shared key derived from our private key and the
// counterparty's public key. Precomputing this once per session avoids
// paying a scalar multiplication on every sealed/opened message.
func GetSharedKey(myPrivKey BoxPrivKey, othersPubKey BoxPubKey) BoxSharedKey {
	var shared [BoxSharedKeyLen]byte
	priv := [BoxPrivKeyLen]byte(myPrivKey)
	pub := [BoxPubKeyLen]byte(othersPubKey)
	box.Precompute(&shared, &pub, &priv)
	return shared
}

// BoxOpen opens a sealed message using a precomputed shared key and nonce,
// appending the plaintext to out (out may be nil).
func BoxOpen(shared BoxSharedKey, out, sealed []byte, nonce BoxNonce) ([]byte, bool) {
	s := [BoxSharedKeyLen]byte(shared)
	n := [BoxNonceLen]byte(nonce)
	return box.OpenAfterPrecomputation(out, sealed, &n, &s)
}

// BoxSeal seals a message using a precomputed shared key and nonce,
// appending the ciphertext to out (out may be nil).
func BoxSeal(shared BoxSharedKey, out, message []byte, nonce BoxNonce) []byte {
	s := [BoxSharedKeyLen]byte(shared)
	n := [BoxNonceLen]byte(nonce)
	return box.SealAfterPrecomputation(out, message, &n, &s)
}

// NewBoxNonce generates a cryptographically random nonce to seed a fresh
// session, staying clear of the top of the nonce space so that the
// subsequent Increment calls are unlikely to roll over.
func NewBoxNonce() BoxNonce {
	var nonce BoxNonce
	for {
		if _, err := rand.Read(nonce[:]); err != nil {
			panic(err)
		}
		if nonce[0] != 0xff {
			return nonce
		}
	}
}

// Increment adds 2 to the nonce, carrying into the higher bytes, so the
// nonce's parity never changes. The sessions in this module seed their send
// nonce with NewBoxNonce and do not assign a parity by role, so parity alone
// does not keep the two directions of a session apart.
func (n *BoxNonce) Increment() {
	old := *n
	n[len(n)-1] += 2
	for i := len(n) - 2; i >= 0; i-- {
		if n[i+1] < old[i+1] {
			n[i]++
		}
	}
}

// Minus returns n-m as a signed difference, clamped to +-64. The sessions in
// this module use it to reject a received nonce that is not ahead of the
// last one accepted (a result <= 0); a nonce any distance ahead is accepted,
// and there is no replay window.
func (n BoxNonce) Minus(m BoxNonce) int64 {
	diff := int64(0)
	for idx := range n {
		diff *= 256
		diff += int64(n[idx]) - int64(m[idx])
		if diff > 64 {
			diff = 64
		}
		if diff < -64 {
			diff = -64
		}
	}
	return diff
}
