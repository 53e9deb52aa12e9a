package nip46

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrUnsafeRelayURL indicates a relay URL that fails the address-safety
	// policy: wrong scheme, or a host pointing at loopback, private, or
	// link-local/metadata address space.
	ErrUnsafeRelayURL = errors.New("unsafe relay URL")
)

// SafeRelayURL validates a relay endpoint before it may be dialed.
// Only wss:// URLs to public hosts are accepted. The daemon dials
// relay URLs supplied by remote clients, so without this check a client
// could point a "relay" at localhost or the cloud metadata service and
// use the signer as an SSRF proxy.
func SafeRelayURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeRelayURL, err)
	}
	if u.Scheme != "wss" {
		return fmt.Errorf("%w: only wss:// relay URLs are allowed, got %q", ErrUnsafeRelayURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrUnsafeRelayURL)
	}
	if isPrivateOrLocalHost(u.Hostname()) {
		return fmt.Errorf("%w: %q points at private or local address space", ErrUnsafeRelayURL, u.Hostname())
	}
	return nil
}

// FilterSafeRelays returns the subset of urls that pass SafeRelayURL,
// preserving order.
func FilterSafeRelays(urls []string) []string {
	safe := make([]string, 0, len(urls))
	for _, u := range urls {
		if SafeRelayURL(u) == nil {
			safe = append(safe, u)
		}
	}
	return safe
}

// isPrivateOrLocalHost reports whether the hostname is a loopback, private,
// link-local, or metadata-service address. Hostnames that are not IP
// literals are checked only for the localhost name; DNS rebinding is out of
// scope here and handled by network policy.
func isPrivateOrLocalHost(hostname string) bool {
	h := strings.ToLower(strings.TrimSpace(hostname))

	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}

	ip := net.ParseIP(strings.Trim(h, "[]"))
	if ip == nil {
		return false
	}

	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}

	// IPv4-mapped IPv6 forms are already unwrapped by net.ParseIP, but
	// unique-local IPv6 (fc00::/7) is not covered by IsPrivate on all
	// configurations; check it explicitly.
	if ip.To4() == nil && len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc {
		return true
	}

	return false
}
