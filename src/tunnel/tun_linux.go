//go:build linux

package tunnel

import (
	"fmt"

	"github.com/vishvananda/netlink"
	wgtun "golang.zx2c4.com/wireguard/tun"
)

func (d *Device) setup(name, _ string, mtu uint64) error {
	iface, err := wgtun.CreateTUN(name, int(mtu))
	if err != nil {
		return fmt.Errorf("wgtun.CreateTUN(%q, %d): %w", name, mtu, err)
	}
	d.iface = iface
	if realName, err := iface.Name(); err == nil {
		d.config.name = realName
	}
	if realMTU, err := iface.MTU(); err == nil && realMTU > 0 {
		d.mtu = uint64(realMTU)
	} else {
		d.mtu = mtu
	}
	link, err := netlink.LinkByName(d.config.name)
	if err != nil {
		return fmt.Errorf("netlink.LinkByName(%q): %w", d.config.name, err)
	}
	if err := netlink.LinkSetMTU(link, int(d.mtu)); err != nil {
		return fmt.Errorf("netlink.LinkSetMTU: %w", err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("netlink.LinkSetUp: %w", err)
	}
	return nil
}

func (d *Device) setupAddress(cidr string) error {
	link, err := netlink.LinkByName(d.config.name)
	if err != nil {
		return fmt.Errorf("netlink.LinkByName(%q): %w", d.config.name, err)
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("netlink.ParseAddr(%q): %w", cidr, err)
	}
	addr.Scope = int(netlink.SCOPE_LINK)
	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("netlink.AddrReplace: %w", err)
	}
	return nil
}
