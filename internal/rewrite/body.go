package rewrite

import (
	"bytes"
	"strings"

	"rewrite-proxy-go/internal/model"
)

// maxPortDigits bounds the port suffix captured after a host.
const maxPortDigits = 5

// match is one located host reference: src[start:end] is replaced.
type match struct {
	start, end int
	scheme     string // "http", "https" or "" for protocol-relative
	port       string
}

// Body returns body with every reference to the target host replaced
// according to the rewrite mode, and the number of replacements. The input
// is never modified. In RewriteOff mode body is returned as is.
func (r *Rewriter) Body(body []byte) ([]byte, int) {
	if r.mode == model.RewriteOff {
		return body, 0
	}
	return r.replaceAll(body, false, r.replacement)
}

// replaceAll substitutes every valid match in src. When schemeOnly is set,
// protocol-relative references are left alone.
func (r *Rewriter) replaceAll(src []byte, schemeOnly bool, repl func(match) string) ([]byte, int) {
	if r.target == "" || len(src) == 0 {
		return src, 0
	}

	lower := asciiLower(string(src))
	needle := "//" + r.target

	var out bytes.Buffer
	last, n := 0, 0
	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], needle)
		if i < 0 {
			break
		}
		i += from

		m, ok := r.matchAt(src, lower, i, len(needle), schemeOnly)
		if !ok {
			from = i + 1
			continue
		}
		if n == 0 {
			out.Grow(len(src))
		}
		out.Write(src[last:m.start])
		out.WriteString(repl(m))
		last = m.end
		from = m.end
		n++
	}

	if n == 0 {
		return src, 0
	}
	out.Write(src[last:])
	return out.Bytes(), n
}

// matchAt validates the candidate whose "//" starts at i and expands it to
// include the scheme and port.
func (r *Rewriter) matchAt(src []byte, lower string, i, needleLen int, schemeOnly bool) (match, bool) {
	hostEnd := i + needleLen
	if !rightBoundary(src, hostEnd) {
		return match{}, false
	}

	m := match{start: i, end: hostEnd}

	switch {
	case i >= 6 && lower[i-6:i] == "https:":
		m.scheme, m.start = "https", i-6
	case i >= 5 && lower[i-5:i] == "http:":
		m.scheme, m.start = "http", i-5
	}

	if m.scheme != "" {
		if m.start > 0 && isSchemeChar(src[m.start-1]) {
			return match{}, false
		}
	} else {
		if schemeOnly {
			return match{}, false
		}
		// "ftp://host" belongs to another scheme, "///host" is a path.
		if i > 0 && (src[i-1] == ':' || src[i-1] == '/') {
			return match{}, false
		}
	}

	if hostEnd < len(src) && src[hostEnd] == ':' {
		j := hostEnd + 1
		for j < len(src) && isDigit(src[j]) {
			j++
		}
		if j-hostEnd-1 > maxPortDigits {
			return match{}, false
		}
		if j > hostEnd+1 {
			m.port = string(src[hostEnd+1 : j])
			m.end = j
		}
	}

	// "//host:port@other" names host only as userinfo.
	if m.port != "" && m.end < len(src) && src[m.end] == '@' {
		return match{}, false
	}

	return m, true
}

// rightBoundary reports whether the host text ending at end is not the prefix
// of a longer hostname.
func rightBoundary(src []byte, end int) bool {
	if end >= len(src) {
		return true
	}
	c := src[end]
	if c == '@' {
		// userinfo, the real host follows
		return false
	}
	if c == '.' {
		// A trailing dot ends a sentence; a dot followed by a label extends the host.
		return end+1 >= len(src) || !isHostChar(src[end+1])
	}
	return !isHostChar(c)
}

func isHostChar(c byte) bool {
	return isAlnum(c) || c == '-' || c == '_'
}

func isSchemeChar(c byte) bool {
	return isAlnum(c) || c == '+' || c == '-' || c == '.'
}

func isAlnum(c byte) bool {
	return isDigit(c) || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

// asciiLower lower-cases ASCII letters only, so byte offsets stay aligned
// with the original text.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
