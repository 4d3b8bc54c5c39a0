package webrtc

import (
	"net"
	"strings"

	pion "github.com/pion/webrtc/v4"
)

// Carrier-grade NAT range, also used by WARP and Tailscale.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// iface is the part of a network interface the relay heuristic looks at.
type iface struct {
	name     string
	up       bool
	loopback bool
	ips      []net.IP
}

// behindRestrictiveNetwork reports whether the host is likely behind a VPN
// or CGNAT, where direct peer-to-peer paths usually fail.
func behindRestrictiveNetwork() bool {
	netIfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	ifaces := make([]iface, 0, len(netIfaces))
	for _, ni := range netIfaces {
		info := iface{
			name:     ni.Name,
			up:       ni.Flags&net.FlagUp != 0,
			loopback: ni.Flags&net.FlagLoopback != 0,
		}
		if addrs, err := ni.Addrs(); err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					info.ips = append(info.ips, v.IP)
				case *net.IPAddr:
					info.ips = append(info.ips, v.IP)
				}
			}
		}
		ifaces = append(ifaces, info)
	}
	return restrictive(ifaces)
}

func restrictive(ifaces []iface) bool {
	for _, i := range ifaces {
		if !i.up || i.loopback {
			continue
		}

		name := strings.ToLower(i.name)
		for _, tunnel := range tunnelNames {
			if strings.Contains(name, tunnel) {
				return true
			}
		}

		for _, ip := range i.ips {
			if cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// transportPolicy uses relay-only ICE when TURN is available and either the
// user asked for it or the network looks restrictive.
func transportPolicy(haveTURN, forceRelay bool, detect func() bool) pion.ICETransportPolicy {
	if haveTURN && (forceRelay || detect()) {
		return pion.ICETransportPolicyRelay
	}
	return pion.ICETransportPolicyAll
}
