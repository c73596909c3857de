package giturl

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"
	"time"
)

const defaultResolveTimeout = 2 * time.Second

// Policy controls which repository URLs the autopilot may publish to.
// Empty allow-lists allow everything the deny rules do not reject.
type Policy struct {
	AllowedSchemes       []string `yaml:"allowed_schemes"`
	AllowedHosts         []string `yaml:"allowed_hosts"`
	DeniedHosts          []string `yaml:"denied_hosts"`
	DenyPrivateNetworks  bool     `yaml:"deny_private_networks"`
	ResolveDNS           bool     `yaml:"resolve_dns"`
	DNSResolveTimeoutSec int      `yaml:"dns_resolve_timeout_seconds"`
}

// Validate parses raw and checks it against the policy. Hosts named in
// AllowedHosts skip the private network check.
func (p Policy) Validate(ctx context.Context, raw string) error {
	repo, err := Parse(raw)
	if err != nil {
		return err
	}

	if schemes := lowered(p.AllowedSchemes); len(schemes) > 0 && !slices.Contains(schemes, repo.Scheme) {
		return fmt.Errorf("repository URL scheme %q is not allowed", repo.Scheme)
	}
	if repo.Host == "" {
		return nil
	}

	if slices.ContainsFunc(lowered(p.DeniedHosts), matchHost(repo.Host)) {
		return fmt.Errorf("repository host %q is denied", repo.Host)
	}
	allowed := lowered(p.AllowedHosts)
	if len(allowed) > 0 {
		if !slices.ContainsFunc(allowed, matchHost(repo.Host)) {
			return fmt.Errorf("repository host %q is not in allowed_hosts", repo.Host)
		}
		return nil
	}

	if p.DenyPrivateNetworks {
		return p.checkPublic(ctx, repo.Host)
	}
	return nil
}

func lowered(list []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// matchHost returns a matcher for host against patterns of the form
// "host", "*", "*.example.com" (strict subdomains) or ".example.com" (suffix).
func matchHost(host string) func(pattern string) bool {
	return func(pattern string) bool {
		pattern = hostname(pattern)
		switch {
		case pattern == "":
			return false
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "*."):
			return strings.HasSuffix(host, pattern[1:])
		case strings.HasPrefix(pattern, "."):
			return strings.HasSuffix(host, pattern)
		default:
			return host == pattern
		}
	}
}

func (p Policy) checkPublic(ctx context.Context, host string) error {
	if host == "localhost" {
		return fmt.Errorf("repository host %q is on a private network", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if !publicAddr(addr) {
			return fmt.Errorf("repository host %q is on a private network", host)
		}
		return nil
	}
	if !p.ResolveDNS {
		return nil
	}

	timeout := defaultResolveTimeout
	if p.DNSResolveTimeoutSec > 0 {
		timeout = time.Duration(p.DNSResolveTimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("resolve repository host %q: %w", host, err)
	}
	for _, addr := range addrs {
		if !publicAddr(addr) {
			return fmt.Errorf("repository host %q resolves to private address %s", host, addr)
		}
	}
	return nil
}

func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsGlobalUnicast() && !addr.IsPrivate() && !addr.IsLoopback() && !addr.IsLinkLocalUnicast()
}
