// Package endpoint canonicalizes request addresses into stable
// scheme://hostname:port keys. Every registry bucket and policy decision
// is keyed off this form, so two spellings of the same address (implicit
// vs explicit port, embedded vs separate port field) land in one bucket.
package endpoint

import (
	"net"
	"strconv"
	"strings"
)

// Default ports applied when an address omits one.
const (
	DefaultHTTPPort  = 80
	DefaultHTTPSPort = 443
)

// Endpoint is a normalized address. After Normalize, Host always carries
// the hostname:port composition and Port repeats the numeric port.
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// DefaultPort returns the conventional port for a scheme.
func DefaultPort(scheme string) int {
	if scheme == "https" {
		return DefaultHTTPSPort
	}
	return DefaultHTTPPort
}

// Normalize fills defaults (scheme http, host localhost, port per scheme),
// resolves a port embedded in Host, and recomposes Host as hostname:port.
// Normalizing an already-normalized Endpoint yields the same value.
func Normalize(e Endpoint) Endpoint {
	scheme := strings.ToLower(strings.TrimSpace(e.Scheme))
	if scheme == "" {
		scheme = "http"
	}

	hostname, embedded := splitMaybePort(strings.TrimSpace(e.Host))
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		hostname = "localhost"
	}

	port := embedded
	if port <= 0 {
		port = e.Port
	}
	if port <= 0 {
		port = DefaultPort(scheme)
	}

	return Endpoint{
		Scheme: scheme,
		Host:   joinHostPort(hostname, port),
		Port:   port,
	}
}

// Parse builds a normalized Endpoint from a base URL string such as
// "https://api.test:8443", "http://api.test/ignored/path" or a bare
// "api.test:8080". It never fails; unusable input degrades to defaults.
func Parse(base string) Endpoint {
	rest := strings.TrimSpace(base)

	var scheme string
	if i := strings.Index(rest, "://"); i >= 0 {
		scheme = rest[:i]
		rest = rest[i+len("://"):]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}

	return Normalize(Endpoint{Scheme: scheme, Host: rest})
}

// Key returns the canonical scheme://hostname:port string.
func (e Endpoint) Key() string {
	n := Normalize(e)
	return n.Scheme + "://" + n.Host
}

// Hostname returns the host portion without the port.
func (e Endpoint) Hostname() string {
	hostname, _ := splitMaybePort(Normalize(e).Host)
	return hostname
}

// splitMaybePort splits hostname[:port], tolerating a missing port and
// bracketed IPv6 literals. port is 0 when absent or unparseable.
func splitMaybePort(host string) (string, int) {
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return strings.Trim(host, "[]"), 0
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return h, 0
	}
	return h, port
}

func joinHostPort(hostname string, port int) string {
	if strings.Contains(hostname, ":") {
		return "[" + hostname + "]:" + strconv.Itoa(port)
	}
	return hostname + ":" + strconv.Itoa(port)
}
