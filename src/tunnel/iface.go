package tunnel

import (
	"errors"
)

// read pumps packets off the OS interface and hands each one to recv. It
// runs until the interface is closed, at which point Read returns an error
// and the pump exits.
func (d *Device) read() {
	mtu, err := d.iface.MTU()
	if err != nil || mtu <= 0 {
		mtu = int(d.mtu)
	}
	bufs := make([][]byte, tunMaxVector)
	sizes := make([]int, tunMaxVector)
	for i := range bufs {
		bufs[i] = make([]byte, tunOffsetBytes+mtu)
	}
	for {
		n, err := d.iface.Read(bufs, sizes, tunOffsetBytes)
		if err != nil {
			if d.log != nil {
				d.log.Debugln("tunnel read pump stopped:", err)
			}
			return
		}
		for i := 0; i < n; i++ {
			packet := bufs[i][tunOffsetBytes : tunOffsetBytes+sizes[i]]
			cp := make([]byte, len(packet))
			copy(cp, packet)
			if d.recv != nil {
				if err := d.recv.ReceiveMessage(cp); err != nil && d.log != nil {
					d.log.Debugln("tunnel dropped inbound packet:", err)
				}
			}
		}
	}
}

var errNoDevice = errors.New("tunnel: device not open")

func (d *Device) readMTU() (uint64, error) {
	if d.iface == nil {
		return 0, errNoDevice
	}
	mtu, err := d.iface.MTU()
	if err != nil {
		return 0, err
	}
	return uint64(mtu), nil
}
