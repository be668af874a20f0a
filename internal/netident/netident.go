// Package netident normalizes URLs and hostnames into registrable domains,
// the unit of trust comparison for the decision pipeline.
package netident

import (
	"errors"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrInvalidURL is returned when the input has no parseable authority.
var ErrInvalidURL = errors.New("netident: URL has no parseable host")

// Hostname extracts the host component of a URL. Scheme-less inputs such as
// "example.com/path" are accepted by treating the first segment as the host.
func Hostname(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", ErrInvalidURL
	}
	host := u.Hostname()
	if host == "" && u.Scheme == "" {
		// url.Parse puts "example.com/x" entirely into Path.
		if p := strings.SplitN(u.Path, "/", 2)[0]; p != "" {
			host = p
		} else if u.Opaque != "" {
			host = strings.SplitN(u.Opaque, "/", 2)[0]
		}
	}
	if host == "" {
		return "", ErrInvalidURL
	}
	return host, nil
}

// RegisteredDomain reduces a hostname or URL to its public-suffix-aware
// registrable form (eTLD+1), e.g. "a.b.example.co.uk" -> "example.co.uk".
// Best-effort by design: inputs publicsuffix cannot classify (IP literals,
// bare TLDs, malformed names) come back sanitized but otherwise unchanged,
// mirroring what downstream set-membership checks expect.
func RegisteredDomain(hostOrURL string) string {
	host := hostOrURL
	if h, err := Hostname(hostOrURL); err == nil {
		host = h
	}
	host = sanitizeHost(host)
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		// publicsuffix applies its wildcard rule to dotted quads and would
		// reduce every IP to its last two octets; the literal is the identity.
		return host
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}

func sanitizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
