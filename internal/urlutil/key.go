package urlutil

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Key returns the dedup key for a catalog or transfer URL. Two URLs that
// differ only in surrounding whitespace or letter case share a key; the
// original spelling is stored alongside it.
func Key(rawURL string) string {
	return strings.ToLower(strings.TrimSpace(rawURL))
}

// NormalizeDomain lowercases a domain and strips a scheme or path, so
// "HTTPS://Shop.Example/x" and "shop.example" name the same catalog.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if strings.Contains(d, "://") {
		if host, err := ExtractHost(d); err == nil {
			return host
		}
	}
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return d
}

// Domain returns the registrable domain (eTLD+1) of a URL or bare host,
// e.g. "https://www.shop.co.uk/p/1" -> "shop.co.uk". IP hosts and
// single-label hosts are returned as-is.
func Domain(rawURLOrHost string) (string, error) {
	s := strings.TrimSpace(rawURLOrHost)
	if s == "" {
		return "", fmt.Errorf("empty host")
	}
	host := s
	if strings.Contains(s, "://") {
		h, err := ExtractHost(s)
		if err != nil {
			return "", err
		}
		host = h
	}
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return "", fmt.Errorf("no host in %q", rawURLOrHost)
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host, nil
	}
	return d, nil
}

// SameSite reports whether rawURL belongs to domain (same registrable domain).
func SameSite(rawURL, domain string) bool {
	d, err := Domain(rawURL)
	if err != nil {
		return false
	}
	want, err := Domain(domain)
	if err != nil {
		return false
	}
	return d == want
}
