package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Servers queried when the system resolver cannot answer.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"208.67.222.222",         // Cisco OpenDNS
}

const (
	localTimeout  = 1 * time.Second
	remoteTimeout = 2 * time.Second
)

// lookupFunc resolves host through one resolver.
type lookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver resolves rendezvous hostnames, falling back to public DNS
// servers when the system resolver fails.
type Resolver struct {
	local   lookupFunc
	servers []string
	remote  func(server string) lookupFunc
}

// NewResolver returns a Resolver using the system resolver and the public fallback list.
func NewResolver() *Resolver {
	return &Resolver{
		local:   (&net.Resolver{}).LookupHost,
		servers: publicDNS,
		remote:  remoteResolver,
	}
}

// Lookup resolves a hostname to an IP address. IP literals are returned as is.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, localTimeout)
	ips, err := r.local(localCtx, host)
	cancel()
	if err == nil {
		if ip, pickErr := pickIP(ips); pickErr == nil {
			return ip, nil
		}
	}

	return r.race(ctx, host)
}

// race queries every fallback server at once and returns the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	results := make(chan result, len(r.servers))
	for _, server := range r.servers {
		go func(lookup lookupFunc) {
			ips, err := lookup(ctx, host)
			if err != nil {
				results <- result{err: err}
				return
			}
			ip, err := pickIP(ips)
			results <- result{ip: ip, err: err}
		}(r.remote(server))
	}

	failures := 0
	for range r.servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("dns lookup for %s timed out", host)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

// DialContext resolves the host part of addr with Lookup before dialing.
// It matches the signature of websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func remoteResolver(server string) lookupFunc {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
	return r.LookupHost
}

// pickIP prefers IPv4 addresses.
func pickIP(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
