package wire

import (
	"bytes"
	"testing"

	"github.com/SeattleMeshnet/meshcore/src/address"
)

func TestLabelReverseIsInvolution(t *testing.T) {
	l := Label(0x0102030405060708)
	if l.Reverse().Reverse() != l {
		t.Fatal("reversing a label twice did not return the original value")
	}
	if l.Reverse() == l {
		t.Fatal("reverse of a non-palindromic label equalled itself")
	}
}

func TestSwitchHeaderRoundTrip(t *testing.T) {
	h := SwitchHeader{Label: 0xdeadbeefcafef00d, Type: MessageTypeControl}
	parsed, err := ParseSwitchHeader(h.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", parsed, h)
	}
}

func TestIP6HeaderRoundTrip(t *testing.T) {
	var src, dst address.Address
	src[0] = 0xfc
	src[1] = 1
	dst[0] = 0xfc
	dst[1] = 2
	h := IP6Header{
		PayloadLen:  20,
		NextHeader:  17,
		HopLimit:    5,
		Source:      src,
		Destination: dst,
	}
	parsed, err := ParseIP6Header(h.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", parsed, h)
	}
}

func TestParseIP6HeaderRejectsNonIPv6(t *testing.T) {
	b := make([]byte, IP6HeaderLen)
	b[0] = 0x40 // IPv4 version nibble
	if _, err := ParseIP6Header(b); err != ErrNotIPv6 {
		t.Fatalf("expected ErrNotIPv6, got %v", err)
	}
}

func TestIsRouterTraffic(t *testing.T) {
	udp := UDPHeader{SourcePort: 0, DestPort: 0, Length: 8}
	payload := append(udp.Marshal(), make([]byte, 8)...)
	ip6 := IP6Header{NextHeader: NextHeaderUDP, HopLimit: 0}

	if !IsRouterTraffic(ip6, payload) {
		t.Fatal("expected zero-ported, zero-hop-limit UDP frame to be router traffic")
	}

	nonZeroHop := ip6
	nonZeroHop.HopLimit = 1
	if IsRouterTraffic(nonZeroHop, payload) {
		t.Fatal("non-zero hop-limit must never be classified as router traffic")
	}

	notUDP := ip6
	notUDP.NextHeader = 6 // TCP
	if IsRouterTraffic(notUDP, payload) {
		t.Fatal("non-UDP next-header must never be classified as router traffic")
	}

	portUDP := UDPHeader{SourcePort: 1234, DestPort: 0, Length: 8}
	portPayload := append(portUDP.Marshal(), make([]byte, 8)...)
	if IsRouterTraffic(ip6, portPayload) {
		t.Fatal("a non-zero port must never be classified as router traffic")
	}
}

func TestControlErrorRoundTrip(t *testing.T) {
	c := ControlError{Type: ErrorMalformedAddress, CauseLabel: 0x1122334455667788}
	parsed, err := ParseControlError(c.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != c {
		t.Fatalf("round trip mismatch: got %+v want %+v", parsed, c)
	}
}

func TestFrameShiftAndPrepend(t *testing.T) {
	payload := []byte("hello")
	f := NewFrame(16, 16, payload)
	if !bytes.Equal(f.Bytes(), payload) {
		t.Fatalf("initial window mismatch: got %q", f.Bytes())
	}

	header := []byte{1, 2, 3, 4}
	if err := f.Prepend(header); err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte(nil), header...), payload...)
	if !bytes.Equal(f.Bytes(), want) {
		t.Fatalf("after prepend: got %q want %q", f.Bytes(), want)
	}

	if err := f.Shift(len(header)); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.Bytes(), payload) {
		t.Fatalf("after stripping header: got %q want %q", f.Bytes(), payload)
	}
}

func TestFrameShiftOutOfBounds(t *testing.T) {
	f := NewFrame(4, 4, []byte("hi"))
	if err := f.Shift(-5); err != ErrFrameBounds {
		t.Fatalf("expected ErrFrameBounds, got %v", err)
	}
	if err := f.Shift(100); err != ErrFrameBounds {
		t.Fatalf("expected ErrFrameBounds, got %v", err)
	}
}
