// Package netutil holds network helpers for the call client.
package netutil

import (
	"net"
	"strings"
)

// cgnat is 100.64.0.0/10, used by carrier grade NAT and overlays such as
// WARP and Tailscale.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// vpnNames are interface name fragments of tunnel adapters.
var vpnNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay reports whether this host is likely behind a VPN or CGNAT,
// where direct paths rarely work and TURN should be used.
func ShouldForceRelay() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if needsRelay(iface.Name, ipsOf(addrs)) {
			return true
		}
	}
	return false
}

func needsRelay(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, frag := range vpnNames {
		if strings.Contains(name, frag) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnat.Contains(ip) {
			return true
		}
	}
	return false
}

func ipsOf(addrs []net.Addr) []net.IP {
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		switch v := addr.(type) {
		case *net.IPNet:
			ips = append(ips, v.IP)
		case *net.IPAddr:
			ips = append(ips, v.IP)
		}
	}
	return ips
}
