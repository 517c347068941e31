// Package address contains the types used by meshcore to represent IPv6
// addresses in the overlay's fc00::/8 range, and the one-way function that
// binds an address to the public key of the node that owns it.
package address

import (
	"crypto/sha512"
)

// Address represents an IPv6 address in the overlay's address range.
type Address [16]byte

// Subnet represents an IPv6 /64 subnet in the overlay's address range.
type Subnet [8]byte

// prefixByte is the fixed first byte of every address and subnet on the
// network. Nodes that disagree on this value cannot exchange IP traffic.
const prefixByte = 0xfc

// IsValid returns true if the address falls within the network's range.
func (a *Address) IsValid() bool {
	return a[0] == prefixByte
}

// IsValid returns true if the subnet falls within the network's range.
func (s *Subnet) IsValid() bool {
	return s[0] == prefixByte
}

// ForKey returns the Address bound to publicKey: the first byte is the fixed
// prefix, the remaining 15 bytes are a truncated SHA-512 digest of the key.
// This is a one-way function; there is no corresponding GetKey, because
// nothing in this module ever needs to recover a key from an address. Peer
// keys are always learned from an authenticated session, never guessed from
// an address on the wire.
//
// Every key maps to a valid-prefix address, since the prefix byte is fixed
// rather than derived: a caller that calls IsValid on an address built by
// ForKey is checking something this function can never violate. IsValid
// only rejects addresses that arrived some other way (parsed off the wire,
// for instance) with a non-overlay prefix.
func ForKey(publicKey []byte) Address {
	digest := sha512.Sum512(publicKey)
	var a Address
	a[0] = prefixByte
	copy(a[1:], digest[:15])
	return a
}

// SubnetForKey returns the /64 Subnet bound to publicKey, using the same
// digest as ForKey truncated to 7 bytes.
func SubnetForKey(publicKey []byte) Subnet {
	digest := sha512.Sum512(publicKey)
	var s Subnet
	s[0] = prefixByte
	copy(s[1:], digest[:7])
	return s
}

// Matches reports whether addr is the address bound to publicKey. Used by
// the dispatcher's address/key binding check (the core security invariant:
// every source address must equal the truncated hash of the authenticated
// sender's key).
func Matches(addr Address, publicKey []byte) bool {
	return addr == ForKey(publicKey)
}
