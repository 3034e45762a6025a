package netpolicy

import (
	"fmt"
	"net"
	"net/netip"
)

// Blocked IPv4 ranges beyond what the netip predicates cover.
var blockedV4Ranges = []struct {
	prefix netip.Prefix
	label  string
}{
	{netip.MustParsePrefix("0.0.0.0/8"), "current network"},
	{netip.MustParsePrefix("100.64.0.0/10"), "carrier-grade NAT"},
	{netip.MustParsePrefix("192.0.0.0/24"), "IETF protocol assignments"},
	{netip.MustParsePrefix("198.18.0.0/15"), "benchmarking"},
	{netip.MustParsePrefix("192.0.2.0/24"), "documentation"},
	{netip.MustParsePrefix("198.51.100.0/24"), "documentation"},
	{netip.MustParsePrefix("203.0.113.0/24"), "documentation"},
	{netip.MustParsePrefix("240.0.0.0/4"), "reserved class E"},
}

var blockedV6Ranges = []struct {
	prefix netip.Prefix
	label  string
}{
	{netip.MustParsePrefix("fc00::/7"), "unique local"},
	{netip.MustParsePrefix("fe80::/10"), "link local"},
	{netip.MustParsePrefix("100::/64"), "discard"},
	{netip.MustParsePrefix("2001:db8::/32"), "documentation"},
}

// CheckIP rejects loopback, private, link-local, broadcast,
// documentation, unspecified, CGNAT, benchmarking, class E, cloud
// metadata addresses and their IPv6 equivalents (including IPv4-mapped
// forms). Used after DNS resolution to close rebinding holes.
func CheckIP(ip net.IP) error {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return fmt.Errorf("unparseable IP address")
	}
	// IPv4-mapped IPv6 collapses to its IPv4 form before checks.
	addr = addr.Unmap()

	if addr.IsLoopback() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
		return fmt.Errorf("blocked internal/private address: %s", addr)
	}
	if addr.IsPrivate() {
		return fmt.Errorf("blocked internal/private address: %s", addr)
	}

	if addr.Is4() {
		if addr == netip.MustParseAddr("255.255.255.255") {
			return fmt.Errorf("blocked broadcast address: %s", addr)
		}
		if addr == netip.MustParseAddr("169.254.169.254") {
			return fmt.Errorf("blocked cloud metadata address: %s", addr)
		}
		for _, r := range blockedV4Ranges {
			if r.prefix.Contains(addr) {
				return fmt.Errorf("blocked %s address: %s", r.label, addr)
			}
		}
		return nil
	}

	for _, r := range blockedV6Ranges {
		if r.prefix.Contains(addr) {
			return fmt.Errorf("blocked %s address: %s", r.label, addr)
		}
	}
	return nil
}

// ResolveAndCheck resolves a hostname and validates every returned
// address. It returns the first safe IP for pinning the dial target.
func ResolveAndCheck(host string) (net.IP, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, ip := range ips {
		if err := CheckIP(ip); err != nil {
			return nil, err
		}
	}
	return ips[0], nil
}
