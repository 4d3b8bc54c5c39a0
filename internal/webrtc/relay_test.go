package webrtc

import (
	"net"
	"testing"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Lockstep/internal/config"
)

func TestRestrictive(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []iface
		want   bool
	}{
		{"plain lan", []iface{{name: "eth0", up: true, ips: []net.IP{net.ParseIP("192.168.1.20")}}}, false},
		{"wireguard", []iface{{name: "wg0", up: true}}, true},
		{"cgnat address", []iface{{name: "en0", up: true, ips: []net.IP{net.ParseIP("100.72.3.4")}}}, true},
		{"down tunnel ignored", []iface{{name: "tun0", up: false}}, false},
		{"loopback ignored", []iface{{name: "lo", up: true, loopback: true, ips: []net.IP{net.ParseIP("100.64.0.1")}}}, false},
		{"outside cgnat", []iface{{name: "en0", up: true, ips: []net.IP{net.ParseIP("100.128.0.1")}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := restrictive(tt.ifaces); got != tt.want {
				t.Errorf("restrictive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransportPolicy(t *testing.T) {
	never := func() bool { return false }
	always := func() bool { return true }

	tests := []struct {
		name       string
		haveTURN   bool
		forceRelay bool
		detect     func() bool
		want       pion.ICETransportPolicy
	}{
		{"no turn", false, true, always, pion.ICETransportPolicyAll},
		{"forced", true, true, never, pion.ICETransportPolicyRelay},
		{"detected", true, false, always, pion.ICETransportPolicyRelay},
		{"open network", true, false, never, pion.ICETransportPolicyAll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transportPolicy(tt.haveTURN, tt.forceRelay, tt.detect); got != tt.want {
				t.Errorf("transportPolicy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPionFactoryForceRelay(t *testing.T) {
	cfg := &config.Config{TURNServer: "turn:relay.example", ForceRelay: true}
	f := NewPionFactory(cfg, nil)
	if f.configuration.ICETransportPolicy != pion.ICETransportPolicyRelay {
		t.Errorf("policy = %v, want relay", f.configuration.ICETransportPolicy)
	}

	f = NewPionFactory(&config.Config{}, nil)
	if f.configuration.ICETransportPolicy != pion.ICETransportPolicyAll {
		t.Errorf("policy without TURN = %v", f.configuration.ICETransportPolicy)
	}
}
