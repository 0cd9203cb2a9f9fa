package rewrite

import (
	"strings"

	"rewrite-proxy-go/internal/header"
)

// droppedResponseHeaders no longer describe the body once it is rewritten:
// the length changes and upstream chunked framing is not reproduced.
var droppedResponseHeaders = []string{
	"Transfer-Encoding",
	"Content-Length",
}

// Headers returns the upstream header block ready for emission. Location and
// Set-Cookie values are rewritten, framing headers are dropped, and every
// other line is kept in order with its multiplicity.
func (r *Rewriter) Headers(in header.Fields) (header.Fields, Stats) {
	var stats Stats
	out := make(header.Fields, 0, len(in))

	for _, f := range in {
		if isDropped(f) {
			continue
		}
		switch {
		case f.Is("Location"):
			if v, n := r.Location(f.Value); n > 0 {
				f.Value = v
				stats.Location += n
			}
		case f.Is("Set-Cookie"):
			if v, ok := r.SetCookie(f.Value); ok {
				f.Value = v
				stats.SetCookie++
			}
		}
		out = append(out, f)
	}

	return out, stats
}

func isDropped(f header.Field) bool {
	for _, name := range droppedResponseHeaders {
		if f.Is(name) {
			return true
		}
	}
	return false
}

// Location replaces every http:// or https:// reference to the target host
// (with any port) by the proxy base URL. The path and query are untouched.
func (r *Rewriter) Location(v string) (string, int) {
	out, n := r.replaceAll([]byte(v), true, func(match) string { return r.base })
	if n == 0 {
		return v, 0
	}
	return string(out), n
}

// SetCookie rewrites a Domain attribute naming the target host to the proxy's
// bare host. All other bytes of the value are kept.
func (r *Rewriter) SetCookie(v string) (string, bool) {
	if r.targetHostname == "" || r.cookieHost == "" {
		return v, false
	}

	parts := strings.Split(v, ";")
	changed := false
	// parts[0] is the cookie name=value pair, never an attribute.
	for i := 1; i < len(parts); i++ {
		p := parts[i]
		key, val, ok := strings.Cut(p, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "domain") {
			continue
		}
		domain := strings.TrimPrefix(strings.TrimSpace(val), ".")
		if !strings.EqualFold(domain, r.targetHostname) {
			continue
		}
		trailing := val[len(strings.TrimRight(val, " \t")):]
		parts[i] = key + "=" + r.cookieHost + trailing
		changed = true
	}

	if !changed {
		return v, false
	}
	return strings.Join(parts, ";"), true
}
