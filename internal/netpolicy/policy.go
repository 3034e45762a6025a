// Package netpolicy enforces allow/deny domain, port, and private-IP
// rules on outbound URLs. Default is deny-all.
package netpolicy

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Policy is the network access rule set.
type Policy struct {
	Version      string   `yaml:"version" json:"version"`
	AllowDomains []string `yaml:"allow_domains" json:"allow_domains"`
	DenyDomains  []string `yaml:"deny_domains" json:"deny_domains"`
	AllowPorts   []int    `yaml:"allow_ports" json:"allow_ports"`
}

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allowed() Decision              { return Decision{Allowed: true} }
func denied(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// Default returns a deny-all policy that permits only ports 80/443 once
// a domain is allowed.
func Default() Policy {
	return Policy{
		Version:    uuid.NewString(),
		AllowPorts: []int{80, 443},
	}
}

// Guard wraps a policy behind a single-writer lock so readers observe a
// consistent snapshot during reloads.
type Guard struct {
	mu     sync.RWMutex
	policy Policy
}

func NewGuard(policy Policy) *Guard {
	return &Guard{policy: policy}
}

// Load reads a network policy from a YAML or JSON file, chosen by
// extension.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read network policy %s: %w", path, err)
	}
	var p Policy
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, &p)
	} else {
		err = yaml.Unmarshal(data, &p)
	}
	if err != nil {
		return Policy{}, fmt.Errorf("parse network policy %s: %w", path, err)
	}
	if p.Version == "" {
		p.Version = uuid.NewString()
	}
	return p, nil
}

// Replace swaps the policy atomically.
func (g *Guard) Replace(policy Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = policy
}

// Snapshot returns the current policy.
func (g *Guard) Snapshot() Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// Check evaluates a URL string:
//  1. unparseable → error
//  2. effective port not in allow_ports → Denied
//  3. IP-literal host → Denied (DNS required)
//  4. deny_domains match → Denied (precedence over allow)
//  5. allow_domains match → Allowed
//  6. otherwise Denied
func (g *Guard) Check(rawURL string) (Decision, error) {
	return g.Snapshot().Check(rawURL)
}

// CheckIP validates a resolved address, used after DNS resolution.
func (g *Guard) CheckIP(ip net.IP) error {
	return CheckIP(ip)
}

// Check implements the URL algorithm on a policy snapshot.
func (p Policy) Check(rawURL string) (Decision, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Decision{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Host == "" {
		return denied("URL has no host"), nil
	}

	port := effectivePort(u)
	if !containsPort(p.AllowPorts, port) {
		return denied(fmt.Sprintf("Port %d is not allowed", port)), nil
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return denied("URL has no host"), nil
	}

	if net.ParseIP(host) != nil {
		return denied("Direct IP access is prohibited. Use domain names."), nil
	}

	for _, rule := range p.DenyDomains {
		if domainMatches(host, rule) {
			return denied(fmt.Sprintf("Domain '%s' is explicitly denied by rule '%s'", host, rule)), nil
		}
	}
	for _, rule := range p.AllowDomains {
		if domainMatches(host, rule) {
			return allowed(), nil
		}
	}
	return denied(fmt.Sprintf("Domain '%s' is not in the allowlist", host)), nil
}

func effectivePort(u *url.URL) int {
	if ps := u.Port(); ps != "" {
		var port int
		fmt.Sscanf(ps, "%d", &port)
		return port
	}
	switch u.Scheme {
	case "https", "wss":
		return 443
	case "ftp":
		return 21
	default:
		return 80
	}
}

func containsPort(ports []int, port int) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

// domainMatches supports "example.com", "*.example.com" (suffix + apex)
// and the match-all "*".
func domainMatches(domain, rule string) bool {
	rule = strings.ToLower(strings.TrimSpace(rule))
	if rule == "*" {
		return true
	}
	if suffix, ok := strings.CutPrefix(rule, "*."); ok {
		return domain == suffix || strings.HasSuffix(domain, "."+suffix)
	}
	return domain == rule
}
