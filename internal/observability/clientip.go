package observability

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
)

var (
	trustedMu      sync.RWMutex
	trustedProxies []*net.IPNet
)

// SetTrustedProxies replaces the proxy allow-list. Entries are CIDRs or
// bare IPs. Forwarding headers are ignored unless the direct peer is listed.
func SetTrustedProxies(entries []string) error {
	nets, err := ParseTrustedProxies(entries)
	if err != nil {
		return err
	}

	trustedMu.Lock()
	trustedProxies = nets
	trustedMu.Unlock()
	return nil
}

// ParseTrustedProxies turns CIDRs and bare IPs into networks.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			if ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}

		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		nets = append(nets, network)
	}
	return nets, nil
}

func isTrustedProxy(ip net.IP) bool {
	trustedMu.RLock()
	defer trustedMu.RUnlock()

	for _, network := range trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the connecting address. X-Forwarded-For and X-Real-IP
// are only honoured when that address is a trusted proxy.
func ClientIP(r *http.Request) string {
	if r == nil {
		return "unknown"
	}

	remote := remoteHost(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}

	peer := net.ParseIP(remote)
	if peer == nil || !isTrustedProxy(peer) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
		return realIP
	}

	return remote
}

func remoteHost(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
