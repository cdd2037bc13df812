// Package netguard decides which remote addresses the gateway may contact
// on behalf of a client (watermark sources).
package netguard

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// ErrBlockedAddress is returned when a URL or resolved address points at an internal network.
var ErrBlockedAddress = errors.New("address is not allowed")

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("fd00:ec2::254/128"), // AWS IMDS over IPv6
	netip.MustParsePrefix("64:ff9b::/96"),      // NAT64 can reach IPv4 internals
}

// IsBlocked reports whether ip must never be dialed.
func IsBlocked(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsValid() ||
		ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || // includes 169.254.169.254
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Policy validates URLs before any I/O and addresses at dial time.
type Policy struct {
	// AllowedHosts restricts fetches to these host names when non-empty.
	AllowedHosts []string
}

// CheckURL validates scheme and host of a user supplied URL.
// Literal IPs are checked here; names are checked again after resolution by Control.
func (p Policy) CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrBlockedAddress, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrBlockedAddress)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrBlockedAddress)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || host == "metadata.google.internal" {
		return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if ip, err := netip.ParseAddr(host); err == nil && IsBlocked(ip) {
		return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}

	if len(p.AllowedHosts) > 0 && !p.allowed(host) {
		return nil, fmt.Errorf("%w: host %s not in allow-list", ErrBlockedAddress, host)
	}

	return u, nil
}

func (p Policy) allowed(host string) bool {
	for _, h := range p.AllowedHosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Control is a net.Dialer Control hook rejecting connections to blocked addresses.
// It runs after DNS resolution, so rebinding a public name to an internal IP is caught.
func Control(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedAddress, err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if IsBlocked(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}
