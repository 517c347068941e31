// Package tunnel wraps the local virtual network device (a wireguard-style
// TUN file descriptor) behind the dispatcher's expected contract: a
// Receiver that gets called once per inbound IPv6 packet, and a Send method
// for packets the dispatcher decided are for this host.
package tunnel

import (
	"fmt"
	"net"

	"github.com/Arceliar/phony"
	"github.com/gologme/log"
	wgtun "golang.zx2c4.com/wireguard/tun"
)

// tunOffsetBytes is the header a wireguard tun.Device expects in front of
// every packet it reads or writes (sizeof(virtio_net_hdr) on platforms that
// use it; harmless padding elsewhere).
const tunOffsetBytes = 80

// tunMaxVector bounds how many packets we batch per Read call. Send writes
// one packet per Write call.
const tunMaxVector = 16

// Receiver is implemented by whoever consumes packets read from the local
// tunnel device: the dispatcher's ip6FromTun entry point.
type Receiver interface {
	ReceiveMessage(packet []byte) error
}

type deviceConfig struct {
	name string
	mtu  uint64
}

// Device wraps a TUN file descriptor and runs its read pump.
type Device struct {
	phony.Inbox
	iface     wgtun.Device
	recv      Receiver
	log       *log.Logger
	config    deviceConfig
	mtu       uint64
	isOpen    bool
	isEnabled bool
}

// New creates and configures a TUN device, then starts its read pump.
// Packets read from the device are delivered to recv; packets handed to
// Send are written to the device directly, with no write pump.
func New(recv Receiver, logger *log.Logger, opts ...SetupOption) (*Device, error) {
	d := &Device{recv: recv, log: logger}
	d.config.name = "auto"
	d.config.mtu = 65535
	for _, opt := range opts {
		d.applyOption(opt)
	}
	if d.config.name == "none" {
		return d, nil
	}
	if err := d.setup(d.config.name, "", d.config.mtu); err != nil {
		return nil, fmt.Errorf("failed to set up TUN device: %w", err)
	}
	d.isOpen = true
	d.isEnabled = true
	go d.read()
	return d, nil
}

// SetAddress configures the device's IPv6 address now that the dispatcher
// knows the node's overlay address (the device itself has no opinion about
// addresses until told).
func (d *Device) SetAddress(addr net.IP, prefixLen int) error {
	if !d.isOpen {
		return nil
	}
	cidr := fmt.Sprintf("%s/%d", addr.String(), prefixLen)
	return d.setupAddress(cidr)
}

// Send writes packet to the OS. If the device is disabled or not open, the
// packet is silently dropped (matching the dispatcher's expectation that a
// missing tunnel is reported as UNDELIVERABLE by the caller, not by us).
func (d *Device) Send(packet []byte) error {
	if !d.isOpen || !d.isEnabled {
		return nil
	}
	buf := make([]byte, tunOffsetBytes+len(packet))
	copy(buf[tunOffsetBytes:], packet)
	bufs := [][]byte{buf}
	_, err := d.iface.Write(bufs, tunOffsetBytes)
	return err
}

// MTU returns the device's negotiated MTU.
func (d *Device) MTU() uint64 {
	return d.mtu
}

// Stop closes the underlying device, ending the read pump.
func (d *Device) Stop() error {
	if d.iface == nil {
		return nil
	}
	d.isOpen = false
	return d.iface.Close()
}
