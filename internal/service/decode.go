package service

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"

	"rewrite-proxy-go/internal/model"
)

var errUnsupportedEncoding = errors.New("unsupported content encoding")

// decodeBody turns an encoded upstream body back into plain bytes so it can
// be rewritten. The upstream is asked for identity, but not every server
// honors that. On success the Content-Encoding header is removed and true is
// returned. Unknown or stacked encodings and decode failures leave up
// untouched and return false with the reason.
func decodeBody(up *model.UpstreamResponse, limit int64) (bool, error) {
	encoding := strings.ToLower(strings.TrimSpace(up.Header.Get("Content-Encoding")))
	if encoding == "" || encoding == "identity" {
		return true, nil
	}
	if len(up.Header.Values("Content-Encoding")) > 1 {
		return false, fmt.Errorf("%w: %v", errUnsupportedEncoding, up.Header.Values("Content-Encoding"))
	}

	decoded, err := decompress(up.Body, encoding, limit)
	if err != nil {
		return false, err
	}

	up.Body = decoded
	up.Header.Del("Content-Encoding")
	return true, nil
}

func decompress(raw []byte, encoding string, limit int64) ([]byte, error) {
	var r io.Reader
	switch encoding {
	case "gzip", "x-gzip":
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = gr.Close() }()
		r = gr
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedEncoding, encoding)
	}

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", encoding, err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, fmt.Errorf("%s: decoded body exceeds %d bytes", encoding, limit)
	}
	return out, nil
}
