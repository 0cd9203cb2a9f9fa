// Package service implements the forwarding and rewriting pipeline.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"rewrite-proxy-go/internal/client"
	"rewrite-proxy-go/internal/config"
	"rewrite-proxy-go/internal/metrics"
	"rewrite-proxy-go/internal/model"
	"rewrite-proxy-go/internal/rewrite"
)

// upstreamScheme is the fixed scheme used to reach the target host.
const upstreamScheme = "https"

// ProxyService forwards captured requests upstream and rewrites the replies.
// It keeps no per-request state; the only shared value is the read-only
// ProxyConfig.
type ProxyService struct {
	client    *client.UpstreamClient
	proxy     *model.ProxyConfig
	rewriter  *rewrite.Rewriter
	bodyLimit int64
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, pc *model.ProxyConfig, m *metrics.Metrics, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:    c,
		proxy:     pc,
		rewriter:  rewrite.New(pc),
		bodyLimit: cfg.Upstream.BodyMaxBytes,
		logger:    logger.With("component", "proxy_service"),
		metrics:   m,
	}
}

// Forward replays in against the target host and returns the rewritten
// response. Errors are *PipelineError values wrapping one of the package
// sentinels.
func (s *ProxyService) Forward(ctx context.Context, in *model.InboundRequest) (*model.RewriteOutcome, error) {
	if !s.proxy.Complete() {
		return nil, fail(StageIdle, ErrMisconfigured)
	}

	upstreamURL := s.buildUpstreamURL(in.URI)
	header := s.buildRequestHeaders(in.Header)

	s.logger.Debug("forwarding request",
		"method", in.Method,
		"uri", in.URI,
	)

	resp, err := s.client.Send(ctx, in.Method, upstreamURL, s.proxy.TargetHost(), header, in.Body)
	if err != nil {
		return nil, fail(StageForwarding, fmt.Errorf("%w: %w", ErrUpstreamTransport, err))
	}

	up, err := Split(resp, s.bodyLimit)
	if err != nil {
		return nil, fail(StageForwarded, err)
	}

	return s.rewrite(up), nil
}

// rewrite applies body and header rewriting to a split response.
func (s *ProxyService) rewrite(up *model.UpstreamResponse) *model.RewriteOutcome {
	body := up.Body
	bodyRewrites := 0

	if s.rewriter.Mode() != model.RewriteOff {
		plain, err := decodeBody(up, s.bodyLimit)
		if err != nil {
			s.logger.Warn("leaving encoded body unrewritten",
				"content_encoding", up.Header.Get("Content-Encoding"),
				"err", err,
			)
		}
		body = up.Body
		if plain {
			body, bodyRewrites = s.rewriter.Body(up.Body)
		}
	}

	fields, stats := s.rewriter.Headers(up.Header)
	stats.Body = bodyRewrites
	s.recordRewrites(stats)

	return &model.RewriteOutcome{
		StatusCode: up.StatusCode,
		Header:     fields,
		Body:       body,
	}
}

func (s *ProxyService) recordRewrites(stats rewrite.Stats) {
	if s.metrics == nil {
		return
	}
	s.metrics.RewritesTotal.WithLabelValues(metrics.RewriteBody).Add(float64(stats.Body))
	s.metrics.RewritesTotal.WithLabelValues(metrics.RewriteLocation).Add(float64(stats.Location))
	s.metrics.RewritesTotal.WithLabelValues(metrics.RewriteSetCookie).Add(float64(stats.SetCookie))
}

// buildUpstreamURL joins the fixed scheme, target host and the request URI
// exactly as the client sent it.
func (s *ProxyService) buildUpstreamURL(uri string) string {
	if uri == "" || uri == "*" {
		uri = "/"
	}
	return upstreamScheme + "://" + s.proxy.TargetHost() + uri
}

// buildRequestHeaders copies every inbound header, duplicates included, and
// overrides Host and Accept-Encoding.
func (s *ProxyService) buildRequestHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Set("Host", s.proxy.TargetHost())
	dst.Set("Accept-Encoding", "identity")
	// net/http adds its own User-Agent when the key is absent; an empty
	// value suppresses it so the upstream sees what the client sent.
	if _, ok := dst["User-Agent"]; !ok {
		dst["User-Agent"] = []string{""}
	}
	return dst
}
