package netutil

import (
	"net"
	"testing"
)

func TestNeedsRelay(t *testing.T) {
	tests := []struct {
		name  string
		iface string
		ips   []net.IP
		want  bool
	}{
		{"plain ethernet", "eth0", []net.IP{net.ParseIP("192.168.1.20")}, false},
		{"wireguard", "wg0", nil, true},
		{"openvpn tun", "tun0", nil, true},
		{"warp by name", "CloudflareWARP", nil, true},
		{"cgnat address", "en0", []net.IP{net.ParseIP("100.101.5.9")}, true},
		{"just outside cgnat", "en0", []net.IP{net.ParseIP("100.128.0.1")}, false},
		{"ipv6", "en0", []net.IP{net.ParseIP("2001:db8::1")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsRelay(tt.iface, tt.ips); got != tt.want {
				t.Errorf("needsRelay(%q) = %v, want %v", tt.iface, got, tt.want)
			}
		})
	}
}

func TestIPsOf(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("10.0.0.1"), Mask: net.CIDRMask(8, 32)},
		&net.IPAddr{IP: net.ParseIP("10.0.0.2")},
		&net.UnixAddr{Name: "/tmp/sock", Net: "unix"},
	}
	if got := ipsOf(addrs); len(got) != 2 {
		t.Errorf("len(ipsOf) = %d, want 2", len(got))
	}
}
