// Package rewrite replaces upstream host references with the proxy address
// in response bodies and headers.
package rewrite

import (
	"net"
	"strings"

	"rewrite-proxy-go/internal/model"
)

// Rewriter rewrites references to one target host. It holds no per-request
// state and is safe for concurrent use.
type Rewriter struct {
	target         string // lower-cased target host, possibly with port
	targetHostname string // target host without port, for cookie domains
	base           string // proxy base URL without trailing slash
	proxyHost      string // proxy host suitable for a URL authority
	cookieHost     string // proxy host without brackets or port
	mode           model.RewriteMode
}

// New creates a Rewriter from the shared proxy configuration.
func New(pc *model.ProxyConfig) *Rewriter {
	proxyHost := pc.ProxyHostname()
	if strings.Contains(proxyHost, ":") {
		proxyHost = "[" + proxyHost + "]"
	}
	return &Rewriter{
		target:         asciiLower(pc.TargetHost()),
		targetHostname: pc.TargetHostname(),
		base:           pc.BaseURLString(),
		proxyHost:      proxyHost,
		cookieHost:     pc.ProxyHostname(),
		mode:           pc.Mode(),
	}
}

// Mode returns the body rewrite mode.
func (r *Rewriter) Mode() model.RewriteMode { return r.mode }

// Stats counts the replacements made while rewriting one response.
type Stats struct {
	Body      int
	Location  int
	SetCookie int
}

// replacement builds the text substituted for a body match.
func (r *Rewriter) replacement(m match) string {
	if r.mode != model.RewriteBareHost {
		return r.base
	}
	scheme := m.scheme
	if scheme == "" {
		scheme = "http"
	}
	if m.port == "" {
		return scheme + "://" + r.proxyHost
	}
	return scheme + "://" + net.JoinHostPort(strings.Trim(r.proxyHost, "[]"), m.port)
}
