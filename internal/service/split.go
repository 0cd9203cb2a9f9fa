package service

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"rewrite-proxy-go/internal/header"
	"rewrite-proxy-go/internal/model"
)

// Split buffers resp into an UpstreamResponse and closes its body. The
// header/body boundary is the one found by the HTTP parser; the body is never
// scanned for it. A body longer than limit bytes fails with ErrResponseTooLarge.
// A HEAD reply declares the length of a body it never sends, so only the
// bytes actually read count against the limit.
func Split(resp *http.Response, limit int64) (*model.UpstreamResponse, error) {
	if resp == nil || resp.Header == nil {
		return nil, fmt.Errorf("%w: no header block", ErrMalformedResponse)
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	defer func() { _ = resp.Body.Close() }()

	if limit > 0 && resp.ContentLength > limit && !isHead(resp) {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrResponseTooLarge, resp.ContentLength, limit)
	}

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated body: %w", ErrMalformedResponse, err)
		}
		return nil, fmt.Errorf("%w: read body: %w", ErrMalformedResponse, err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, limit)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     header.FromHTTP(resp.Header),
		Body:       body,
	}, nil
}

func isHead(resp *http.Response) bool {
	return resp.Request != nil && resp.Request.Method == http.MethodHead
}
