package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS is queried when the system resolver cannot find the signaling
// host (captive or broken local DNS).
var publicDNS = []string{
	"1.1.1.1",
	"1.0.0.1",
	"8.8.8.8",
	"8.8.4.4",
	"9.9.9.9",
	"149.112.112.112",
	"208.67.222.222",
	"[2606:4700:4700::1111]",
	"[2001:4860:4860::8888]",
}

var errNoAddress = errors.New("no IP addresses found")

// lookupHost resolves host with the system resolver, then races the public
// servers if that fails.
func lookupHost(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, time.Second)
	ip, err := resolveWith(localCtx, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}

	raceCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	type result struct {
		ip  string
		err error
	}
	results := make(chan result, len(publicDNS))
	for _, server := range publicDNS {
		go func() {
			ip, err := resolveWith(raceCtx, publicResolver(server), host)
			results <- result{ip, err}
		}()
	}

	for range publicDNS {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
		case <-raceCtx.Done():
			return "", fmt.Errorf("resolve %s: %w", host, raceCtx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public resolvers failed", host, len(publicDNS))
}

func publicResolver(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

// resolveWith prefers an IPv4 answer.
func resolveWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errNoAddress
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
