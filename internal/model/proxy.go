// Package model defines shared types for the proxy.
package model

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"rewrite-proxy-go/internal/header"
)

// RewriteMode selects how upstream host references in response bodies are replaced.
type RewriteMode int

const (
	// RewriteOff leaves response bodies untouched. Headers are still rewritten.
	RewriteOff RewriteMode = iota
	// RewriteBaseURL replaces every match with the full proxy base URL.
	RewriteBaseURL
	// RewriteBareHost replaces only the host, keeping the matched scheme and port.
	RewriteBareHost
)

// String returns the config spelling of the mode.
func (m RewriteMode) String() string {
	switch m {
	case RewriteOff:
		return "off"
	case RewriteBaseURL:
		return "base_url"
	case RewriteBareHost:
		return "bare_host"
	default:
		return fmt.Sprintf("RewriteMode(%d)", int(m))
	}
}

// ParseRewriteMode parses a config value. The empty string selects RewriteBaseURL.
func ParseRewriteMode(s string) (RewriteMode, error) {
	switch strings.ToLower(s) {
	case "base_url", "":
		return RewriteBaseURL, nil
	case "bare_host":
		return RewriteBareHost, nil
	case "off":
		return RewriteOff, nil
	default:
		return RewriteOff, fmt.Errorf("unknown rewrite mode %q", s)
	}
}

// ProxyConfig is the read-only forwarding configuration shared by every request.
// It is built once at startup and never mutated; fields are only reachable
// through accessors that return copies.
type ProxyConfig struct {
	targetHost string
	baseURL    url.URL
	verifyTLS  bool
	mode       RewriteMode
}

// NewProxyConfig creates a ProxyConfig. A nil baseURL leaves the config incomplete.
func NewProxyConfig(targetHost string, baseURL *url.URL, verifyTLS bool, mode RewriteMode) *ProxyConfig {
	pc := &ProxyConfig{
		targetHost: targetHost,
		verifyTLS:  verifyTLS,
		mode:       mode,
	}
	if baseURL != nil {
		pc.baseURL = *baseURL
		pc.baseURL.Path = ""
		pc.baseURL.RawPath = ""
	}
	return pc
}

// Complete reports whether both the target host and the proxy base URL are set.
func (p *ProxyConfig) Complete() bool {
	return p != nil && p.targetHost != "" && p.baseURL.Host != ""
}

// TargetHost returns the upstream host, possibly with a port.
func (p *ProxyConfig) TargetHost() string { return p.targetHost }

// TargetHostname returns the upstream host without any port.
func (p *ProxyConfig) TargetHostname() string {
	if h, _, err := net.SplitHostPort(p.targetHost); err == nil {
		return h
	}
	return p.targetHost
}

// BaseURLString returns the proxy base URL without a trailing slash.
func (p *ProxyConfig) BaseURLString() string {
	return strings.TrimSuffix(p.baseURL.String(), "/")
}

// ProxyHostname returns the bare host of the proxy base URL.
func (p *ProxyConfig) ProxyHostname() string { return p.baseURL.Hostname() }

// VerifyTLS reports whether upstream certificates are validated.
func (p *ProxyConfig) VerifyTLS() bool { return p.verifyTLS }

// Mode returns the body rewrite mode.
func (p *ProxyConfig) Mode() RewriteMode { return p.mode }

// InboundRequest is a captured client request.
type InboundRequest struct {
	Method string
	URI    string // path and query exactly as received
	Header http.Header
	Body   []byte
}

// UpstreamResponse is the upstream reply split into status, header block and body.
type UpstreamResponse struct {
	StatusCode int
	Header     header.Fields
	Body       []byte
}

// RewriteOutcome is the response ready to be emitted to the client.
type RewriteOutcome struct {
	StatusCode int
	Header     header.Fields
	Body       []byte
}
