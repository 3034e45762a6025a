package netpolicy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCheck(t *testing.T, p Policy, url string) Decision {
	t.Helper()
	decision, err := p.Check(url)
	require.NoError(t, err)
	return decision
}

func TestDefaultDenyAll(t *testing.T) {
	p := Default()
	for _, url := range []string{
		"https://google.com",
		"https://example.org/path",
		"http://api.github.com",
	} {
		assert.False(t, mustCheck(t, p, url).Allowed, url)
	}
}

func TestAllowDomain(t *testing.T) {
	p := Policy{AllowDomains: []string{"google.com"}, AllowPorts: []int{443}}
	assert.True(t, mustCheck(t, p, "https://google.com").Allowed)
	assert.False(t, mustCheck(t, p, "https://yahoo.com").Allowed)
}

func TestWildcardAllowCoversApex(t *testing.T) {
	p := Policy{AllowDomains: []string{"*.google.com"}, AllowPorts: []int{443}}
	assert.True(t, mustCheck(t, p, "https://mail.google.com").Allowed)
	assert.True(t, mustCheck(t, p, "https://google.com").Allowed)
	assert.False(t, mustCheck(t, p, "https://notgoogle.com").Allowed)
}

func TestExplicitDenyPrecedence(t *testing.T) {
	p := Policy{
		AllowDomains: []string{"*.google.com"},
		DenyDomains:  []string{"mail.google.com"},
		AllowPorts:   []int{443},
	}

	decision := mustCheck(t, p, "https://mail.google.com")
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "explicitly denied")

	assert.True(t, mustCheck(t, p, "https://maps.google.com").Allowed)

	// http implies port 80, which is not allowed.
	decision = mustCheck(t, p, "http://maps.google.com")
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "Port 80")
}

func TestIPLiteralBlocked(t *testing.T) {
	p := Policy{AllowDomains: []string{"*"}, AllowPorts: []int{443}}
	decision := mustCheck(t, p, "https://1.1.1.1")
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "Direct IP access")
}

func TestUnparseableURL(t *testing.T) {
	p := Default()
	_, err := p.Check("://not a url")
	assert.Error(t, err)
}

func TestExplicitPort(t *testing.T) {
	p := Policy{AllowDomains: []string{"example.com"}, AllowPorts: []int{8443}}
	assert.True(t, mustCheck(t, p, "https://example.com:8443/x").Allowed)
	assert.False(t, mustCheck(t, p, "https://example.com/x").Allowed)
}

func TestCheckIPBlocks(t *testing.T) {
	blocked := []string{
		"127.0.0.1",         // loopback
		"10.0.0.1",          // private
		"172.16.5.4",        // private
		"192.168.1.1",       // private
		"169.254.1.1",       // link-local
		"169.254.169.254",   // cloud metadata
		"100.64.0.1",        // carrier-grade NAT
		"192.0.0.5",         // IETF protocol assignments
		"198.18.0.1",        // benchmarking
		"240.0.0.1",         // reserved class E
		"255.255.255.255",   // broadcast
		"0.0.0.0",           // unspecified
		"192.0.2.10",        // documentation
		"::1",               // v6 loopback
		"fc00::1",           // unique local
		"fe80::1",           // v6 link local
		"::ffff:127.0.0.1",  // mapped loopback
		"::ffff:10.0.0.1",   // mapped private
		"2001:db8::1",       // v6 documentation
	}
	for _, addr := range blocked {
		ip := net.ParseIP(addr)
		require.NotNil(t, ip, addr)
		assert.Error(t, CheckIP(ip), addr)
	}

	allowed := []string{"1.1.1.1", "8.8.8.8", "93.184.216.34", "2606:4700:4700::1111"}
	for _, addr := range allowed {
		ip := net.ParseIP(addr)
		require.NotNil(t, ip, addr)
		assert.NoError(t, CheckIP(ip), addr)
	}
}

func TestGuardReplaceSnapshot(t *testing.T) {
	guard := NewGuard(Default())
	decision, err := guard.Check("https://example.com")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	guard.Replace(Policy{AllowDomains: []string{"example.com"}, AllowPorts: []int{443}})
	decision, err = guard.Check("https://example.com")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
