package tunnel

// SetupOption configures a Device before it opens its underlying interface.
type SetupOption func(*Device)

// InterfaceName sets the OS-level interface name. "auto" (the default) lets
// the OS or wireguard-go library pick one.
func InterfaceName(name string) SetupOption {
	return func(d *Device) {
		d.config.name = name
	}
}

// InterfaceMTU sets the interface's MTU.
func InterfaceMTU(mtu uint64) SetupOption {
	return func(d *Device) {
		d.config.mtu = mtu
	}
}

// Disabled configures the Device to never open a real interface; Send is a
// no-op and no read pump runs. Used for tests and for nodes that only
// forward traffic for other peers.
func Disabled() SetupOption {
	return func(d *Device) {
		d.config.name = "none"
	}
}

func (d *Device) applyOption(opt SetupOption) {
	opt(d)
}
