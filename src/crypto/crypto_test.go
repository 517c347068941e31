package crypto

import (
	"bytes"
	"testing"
)

func TestBoxSealOpenRoundTrip(t *testing.T) {
	aPub, aPriv := NewBoxKeys()
	bPub, bPriv := NewBoxKeys()

	aShared := GetSharedKey(aPriv, bPub)
	bShared := GetSharedKey(bPriv, aPub)
	if aShared != bShared {
		t.Fatal("shared keys derived from the same keypair differ")
	}

	nonce := NewBoxNonce()
	msg := []byte("hello mesh")
	sealed := BoxSeal(aShared, nil, msg, nonce)

	opened, ok := BoxOpen(bShared, nil, sealed, nonce)
	if !ok {
		t.Fatal("failed to open a box sealed with the matching shared key and nonce")
	}
	if !bytes.Equal(opened, msg) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, msg)
	}
}

func TestBoxOpenRejectsWrongKey(t *testing.T) {
	aPub, aPriv := NewBoxKeys()
	_, bPriv := NewBoxKeys()
	otherPub, _ := NewBoxKeys()

	aShared := GetSharedKey(aPriv, otherPub)
	wrongShared := GetSharedKey(bPriv, aPub)

	nonce := NewBoxNonce()
	sealed := BoxSeal(aShared, nil, []byte("secret"), nonce)
	if _, ok := BoxOpen(wrongShared, nil, sealed, nonce); ok {
		t.Fatal("box opened successfully with an unrelated shared key")
	}
}

func TestPublicMatchesGeneratedPair(t *testing.T) {
	pub, priv := NewBoxKeys()
	if priv.Public() != pub {
		t.Fatal("priv.Public() does not match the public key returned by NewBoxKeys")
	}
}

func TestNonceIncrementStaysOnParity(t *testing.T) {
	n := NewBoxNonce()
	n[len(n)-1] &^= 1 // force even
	start := n
	for i := 0; i < 5; i++ {
		n.Increment()
	}
	if n[len(n)-1]%2 != start[len(n)-1]%2 {
		t.Fatal("Increment changed the nonce's parity")
	}
}

func TestNonceMinusBounded(t *testing.T) {
	var a, b BoxNonce
	a[len(a)-1] = 200
	b[len(b)-1] = 0
	if diff := a.Minus(b); diff != 64 {
		t.Fatalf("expected Minus to clamp to 64, got %d", diff)
	}
	if diff := b.Minus(a); diff != -64 {
		t.Fatalf("expected Minus to clamp to -64, got %d", diff)
	}
	if diff := a.Minus(a); diff != 0 {
		t.Fatalf("expected Minus of equal nonces to be 0, got %d", diff)
	}
}
