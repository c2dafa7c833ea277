package domain

import (
	"net/url"
	"strings"
	"unicode"
)

// StatusOK is the constant status reported by every liveness probe.
const StatusOK = "ok"

// Liveness describes a backend process.
type Liveness struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// GatewayLiveness describes the gateway independent of any upstream
// reachability. The version is always present.
type GatewayLiveness struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// RouteBinding maps a client-facing path to one backend domain and its address.
// Bindings are resolved once at startup and never change afterwards.
type RouteBinding struct {
	// Path is the client-facing path, e.g. "/users". The same path is requested
	// on the upstream.
	Path string
	// Domain is the backend identifier, e.g. "user".
	Domain string
	// BaseURL is the backend's network address.
	BaseURL *url.URL
}

// Endpoint returns the absolute upstream URL for the binding's domain endpoint.
func (b RouteBinding) Endpoint() string {
	u := *b.BaseURL
	u.Path = strings.TrimRight(u.Path, "/") + b.Path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// UnavailableMessage returns the fixed client-facing failure message,
// e.g. "User service unavailable".
func (b RouteBinding) UnavailableMessage() string {
	return DisplayName(b.Domain) + " service unavailable"
}

// DisplayName capitalizes the first letter of a domain identifier.
func DisplayName(domain string) string {
	if domain == "" {
		return domain
	}
	r := []rune(domain)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
