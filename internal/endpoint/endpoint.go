// Package endpoint builds WebSocket endpoint URLs.
//
// An Endpoint is a value: WithPath and WithParam return a modified copy and
// never touch a live connection.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	SchemeWS  = "ws"
	SchemeWSS = "wss"

	// DefaultHost is used by the localhost constructors.
	DefaultHost = "localhost"
)

var (
	ErrEmptyHost     = errors.New("endpoint: host is required")
	ErrInvalidScheme = errors.New("endpoint: unsupported scheme")
	ErrInvalidPort   = errors.New("endpoint: port out of range")
)

// Endpoint is an immutable WebSocket address.
type Endpoint struct {
	host string
	port int // 0 = not set
	tls  bool
	raw  string
}

// New builds an endpoint for host. port <= 0 leaves the port out of the URL.
func New(host string, port int, tls bool) (Endpoint, error) {
	if host == "" {
		return Endpoint{}, ErrEmptyHost
	}
	if port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	e := Endpoint{host: host, port: port, tls: tls}
	e.raw = e.base()
	return e, nil
}

// MustNew is New for static endpoints; it panics on invalid input.
func MustNew(host string, port int, tls bool) Endpoint {
	e, err := New(host, port, tls)
	if err != nil {
		panic(err)
	}
	return e
}

// NewLocal returns ws[s]://localhost:port.
func NewLocal(port int, tls bool) Endpoint {
	return MustNew(DefaultHost, port, tls)
}

// Localhost returns ws[s]://localhost.
func Localhost(tls bool) Endpoint {
	return MustNew(DefaultHost, 0, tls)
}

// Parse accepts a ws, wss, http or https URL. http(s) is mapped onto ws(s)
// so addresses from httptest servers can be used directly.
func Parse(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint: %w", err)
	}

	var tls bool
	switch u.Scheme {
	case SchemeWS, "http":
	case SchemeWSS, "https":
		tls = true
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidScheme, u.Scheme)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %s", ErrInvalidPort, p)
		}
	}

	e, err := New(u.Hostname(), port, tls)
	if err != nil {
		return Endpoint{}, err
	}
	if u.Path != "" && u.Path != "/" {
		e.raw += u.Path
	}
	if u.RawQuery != "" {
		e.raw += "?" + u.RawQuery
	}
	return e, nil
}

func (e Endpoint) base() string {
	scheme := SchemeWS
	if e.tls {
		scheme = SchemeWSS
	}
	if e.port > 0 {
		return scheme + "://" + net.JoinHostPort(e.host, strconv.Itoa(e.port))
	}
	if strings.Contains(e.host, ":") {
		return scheme + "://[" + e.host + "]"
	}
	return scheme + "://" + e.host
}

// Host returns the host name.
func (e Endpoint) Host() string { return e.host }

// Port returns the port and whether one was set.
func (e Endpoint) Port() (int, bool) { return e.port, e.port > 0 }

// TLS reports whether the endpoint uses wss.
func (e Endpoint) TLS() bool { return e.tls }

// IsZero reports whether e was never built.
func (e Endpoint) IsZero() bool { return e.raw == "" }

// WithPath appends one path segment. Slashes inside path are removed, so
// WithPath("/v1/") yields ".../v1". The segment goes before any query
// parameters already added.
func (e Endpoint) WithPath(path string) Endpoint {
	path = strings.ReplaceAll(path, "/", "")
	base, query, hasQuery := strings.Cut(e.raw, "?")
	if strings.HasSuffix(base, "/") {
		base += path
	} else {
		base += "/" + path
	}
	e.raw = base
	if hasQuery {
		e.raw += "?" + query
	}
	return e
}

// WithParam appends a query parameter. Values are escaped.
func (e Endpoint) WithParam(key, value string) Endpoint {
	sep := "?"
	if strings.Contains(e.raw, "?") {
		sep = "&"
	}
	e.raw += sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return e
}

// String returns the absolute URL.
func (e Endpoint) String() string { return e.raw }

// URL parses the endpoint into a *url.URL.
func (e Endpoint) URL() (*url.URL, error) {
	return url.Parse(e.raw)
}
