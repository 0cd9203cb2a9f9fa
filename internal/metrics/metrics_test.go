package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	// Verify our custom metrics exist by incrementing one and gathering again.
	m.RequestsTotal.WithLabelValues("GET", "200", "proxied").Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "rewrite_proxy_http_requests_total" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected rewrite_proxy_http_requests_total in gathered metrics")
	}
}

func TestRewritesTotal_ByKind(t *testing.T) {
	m := New()

	m.RewritesTotal.WithLabelValues(RewriteBody).Add(3)
	m.RewritesTotal.WithLabelValues(RewriteSetCookie).Inc()

	if got := testutil.ToFloat64(m.RewritesTotal.WithLabelValues(RewriteBody)); got != 3 {
		t.Errorf("body rewrites = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.RewritesTotal.WithLabelValues(RewriteSetCookie)); got != 1 {
		t.Errorf("set_cookie rewrites = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RewritesTotal.WithLabelValues(RewriteLocation)); got != 0 {
		t.Errorf("location rewrites = %v, want 0", got)
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"X-CUSTOM", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/_proxy/healthz", "/_proxy/healthz"},
		{"/_proxy/status", "/_proxy/status"},
		{"/_proxy/metrics", "/_proxy"},
		{"/_proxy/anything/else", "/_proxy"},
		{"/_proxy", "/_proxy"},
		{"/_proxyfoo", "proxied"},
		{"/", "proxied"},
		{"/login", "proxied"},
		{"/healthz", "proxied"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
