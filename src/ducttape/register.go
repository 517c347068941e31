package ducttape

import (
	"github.com/SeattleMeshnet/meshcore/src/router"
	"github.com/SeattleMeshnet/meshcore/src/switchcore"
	"github.com/SeattleMeshnet/meshcore/src/wire"
)

// SwitchFabric is the switch-facing collaborator Register installs this
// node's receiver into, in addition to the plain send side already
// satisfied by switchcore.Interface.
type SwitchFabric interface {
	switchcore.Interface
	Connect(label wire.Label, recv switchcore.Receiver)
}

// SwitchReceiver adapts a Dispatcher to switchcore.Receiver, for wiring into
// a SwitchFabric's Connect.
type SwitchReceiver struct {
	D *Dispatcher
}

// ReceiveMessage implements switchcore.Receiver.
func (r SwitchReceiver) ReceiveMessage(frame []byte) error {
	return r.D.IncomingFromSwitch(frame)
}

// TunReceiver adapts a Dispatcher to tunnel.Receiver, for passing to
// tunnel.New when constructing the local tunnel device.
type TunReceiver struct {
	D *Dispatcher
}

// ReceiveMessage implements tunnel.Receiver.
func (r TunReceiver) ReceiveMessage(packet []byte) error {
	return r.D.Ip6FromTun(packet)
}

// Register wires a Dispatcher into its collaborators: installs it as the
// fabric's receiver under ourLabel, wires the fabric's send side in for
// outbound frames, wires the tunnel device's send side in for inbound-for-
// me deliveries, and enrols the dispatcher as a routing-module source/sink
// under the name "Ducttape". tun and reg may be nil for a dispatcher that
// forwards only, with no local tunnel or in-band control channel.
//
// The switch is wired first, then the tunnel, then the registry. Returns a
// single error rather than a bitwise-OR of two result codes: non-nil means
// registration failed.
func Register(d *Dispatcher, fabric SwitchFabric, ourLabel wire.Label, tun tunnelSink, reg router.Registry) error {
	d.SetSwitch(fabric)
	fabric.Connect(ourLabel, SwitchReceiver{D: d})

	if tun != nil {
		d.SetTunnel(tun)
		if m, ok := tun.(interface{ MTU() uint64 }); ok {
			d.SetSessionMTU(int(m.MTU()))
		}
	}

	if reg != nil {
		if err := reg.Register("Ducttape", d.HandleOutgoing); err != nil {
			return err
		}
		d.SetRegistry(reg)
	}
	return nil
}
