package config

import (
	"net"
	"strings"
)

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or CGNAT
// and returns true if we should force TURN usage.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if tunnelInterface(iface.Name) {
			return true
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if inCGNAT(ip) {
				return true
			}
		}
	}
	return false
}

// UseRelay reports whether the engine should restrict ICE to relay candidates.
// Relay is only possible when a TURN server is configured.
func (c *Config) UseRelay() bool {
	if c.GetTURNServers() == nil {
		return false
	}
	return c.ForceRelay || ShouldForceRelay()
}

// tunnelInterface matches OpenVPN, tap adapters, WireGuard, PPP and WARP.
func tunnelInterface(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// Cloudflare WARP, Tailscale and carrier grade NATs live in 100.64.0.0/10.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

func inCGNAT(ip net.IP) bool {
	return ip != nil && cgnatBlock.Contains(ip)
}
