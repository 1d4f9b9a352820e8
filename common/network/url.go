// Package network vets operator-supplied upstream URLs before they are
// persisted or dialled.
package network

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/Laisky/errors/v2"
)

// ValidateExternalURL parses rawURL and rejects anything that is not a plain
// http(s) URL reaching a public address: localhost-style hosts, private and
// link-local ranges, carrier-grade NAT, and embedded user info all fail.
// Hostnames are resolved with ctx and every returned IP must be public.
func ValidateExternalURL(ctx context.Context, rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, errors.New("url is empty")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, errors.Wrap(err, "parse url")
	}
	if scheme := strings.ToLower(parsed.Scheme); scheme != "http" && scheme != "https" {
		return nil, errors.Errorf("unsupported url scheme: %s", parsed.Scheme)
	}
	if parsed.User != nil {
		return nil, errors.New("url must not include user info")
	}

	host := parsed.Hostname()
	switch {
	case host == "":
		return nil, errors.New("url host is empty")
	case isLocalHostname(host):
		return nil, errors.Errorf("url host is not allowed: %s", host)
	}

	// An IP literal needs no resolution.
	if ip := net.ParseIP(host); ip != nil {
		if IsForbiddenIP(ip) {
			return nil, errors.Errorf("url host resolves to a private or local address: %s", host)
		}
		return parsed, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve host: %s", host)
	}
	if len(addrs) == 0 {
		return nil, errors.Errorf("no IPs found for host: %s", host)
	}
	for _, addr := range addrs {
		if IsForbiddenIP(addr.IP) {
			return nil, errors.Errorf("url host resolves to a private or local address: %s", host)
		}
	}
	return parsed, nil
}

// IsForbiddenIP reports whether ip is anything other than a public unicast
// address.
func IsForbiddenIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	// Carrier-grade NAT, 100.64.0.0/10.
	if ipv4 := ip.To4(); ipv4 != nil && ipv4[0] == 100 && ipv4[1]&0xC0 == 0x40 {
		return true
	}
	return false
}

func isLocalHostname(host string) bool {
	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost")
}
