package switchcore

import (
	"bytes"
	"testing"

	"github.com/SeattleMeshnet/meshcore/src/wire"
)

type recvFunc func(frame []byte) error

func (f recvFunc) ReceiveMessage(frame []byte) error { return f(frame) }

func TestLoopbackDeliversToRegisteredLabel(t *testing.T) {
	lb := NewLoopback()
	label := wire.Label(0x1234)

	var got []byte
	lb.Connect(label, recvFunc(func(frame []byte) error {
		got = frame
		return nil
	}))

	hdr := wire.SwitchHeader{Label: label, Type: wire.MessageTypeData}
	sent := append(hdr.Marshal(), []byte("payload")...)
	if err := lb.Send(sent); err != nil {
		t.Fatal(err)
	}

	parsed, err := wire.ParseSwitchHeader(got)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Label != label.Reverse() {
		t.Fatalf("expected delivered label to be bit-reversed, got %#x want %#x", parsed.Label, label.Reverse())
	}
	if !bytes.Equal(got[wire.SwitchHeaderLen:], []byte("payload")) {
		t.Fatalf("payload corrupted in transit: got %q", got[wire.SwitchHeaderLen:])
	}
}

func TestLoopbackNoRoute(t *testing.T) {
	lb := NewLoopback()
	hdr := wire.SwitchHeader{Label: 1}
	if err := lb.Send(hdr.Marshal()); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestLoopbackDisconnect(t *testing.T) {
	lb := NewLoopback()
	label := wire.Label(5)
	lb.Connect(label, recvFunc(func(frame []byte) error { return nil }))
	lb.Disconnect(label)
	hdr := wire.SwitchHeader{Label: label}
	if err := lb.Send(hdr.Marshal()); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute after Disconnect, got %v", err)
	}
}
