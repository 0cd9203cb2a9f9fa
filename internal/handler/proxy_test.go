package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"rewrite-proxy-go/internal/client"
	"rewrite-proxy-go/internal/config"
	"rewrite-proxy-go/internal/metrics"
	"rewrite-proxy-go/internal/service"
)

const testPublicURL = "http://192.0.2.10:8080"

// newTestProxyHandler builds the full handler stack against target with TLS
// verification disabled. An empty publicURL leaves the config incomplete.
func newTestProxyHandler(t *testing.T, target, publicURL string, m *metrics.Metrics) *ProxyHandler {
	t.Helper()
	cfg := &config.Config{
		Proxy: config.ProxySection{
			TargetHost:  target,
			PublicURL:   publicURL,
			RewriteMode: "base_url",
		},
		Upstream: config.UpstreamConfig{
			InsecureSkipVerify: true,
			TimeoutSeconds:     10,
			IdleConnections:    10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pc := config.NewProxyConfig(cfg)
	uc := client.NewUpstreamClient(cfg, pc, logger, m)
	svc := service.NewProxyService(uc, cfg, pc, m, logger)
	return NewProxyHandler(svc, m, logger)
}

func serve(t *testing.T, h *ProxyHandler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Handle(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestProxyHandler_Handle_RewritesResponse(t *testing.T) {
	var target string
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "b=2&a=1" {
			t.Errorf("query = %q, want %q", r.URL.RawQuery, "b=2&a=1")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Add("Set-Cookie", "sid=1; Domain=.127.0.0.1; HttpOnly")
		w.Header().Add("Set-Cookie", "pref=x")
		w.Header().Add("X-Dup", "one")
		w.Header().Add("X-Dup", "two")
		_, _ = io.WriteString(w, `<img src="//`+target+`/logo.png"><a href="HTTPS://`+strings.ToUpper(target)+`/">home</a>`)
	}))
	defer upstream.Close()
	target = upstream.Listener.Addr().String()

	h := newTestProxyHandler(t, target, testPublicURL, nil)
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/page?b=2&a=1", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	want := `<img src="` + testPublicURL + `/logo.png"><a href="` + testPublicURL + `/">home</a>`
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
	if got := rec.Header().Get("Content-Length"); got != strconv.Itoa(len(want)) {
		t.Errorf("Content-Length = %q, want %d", got, len(want))
	}
	if got := rec.Header().Values("Content-Length"); len(got) != 1 {
		t.Errorf("Content-Length emitted %d times, want 1", len(got))
	}
	wantCookies := []string{"sid=1; Domain=192.0.2.10; HttpOnly", "pref=x"}
	if got := rec.Header().Values("Set-Cookie"); !slices.Equal(got, wantCookies) {
		t.Errorf("Set-Cookie = %v, want %v", got, wantCookies)
	}
	if got := rec.Header().Values("X-Dup"); !slices.Equal(got, []string{"one", "two"}) {
		t.Errorf("X-Dup = %v, want [one two]", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestProxyHandler_Handle_PassesStatusAndBody(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, upstream.Listener.Addr().String(), testPublicURL, nil)
	req := httptest.NewRequest(http.MethodPut, "/items/1", strings.NewReader("payload"))
	rec := serve(t, h, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if rec.Body.String() != "payload" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "payload")
	}
}

func TestProxyHandler_Handle_RedirectNotFollowed(t *testing.T) {
	var target string
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/start" {
			t.Errorf("redirect followed to %q", r.URL.Path)
		}
		http.Redirect(w, r, "https://"+target+"/next?x=1", http.StatusFound)
	}))
	defer upstream.Close()
	target = upstream.Listener.Addr().String()

	h := newTestProxyHandler(t, target, testPublicURL, nil)
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/start", http.NoBody))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != testPublicURL+"/next?x=1" {
		t.Errorf("Location = %q, want %q", loc, testPublicURL+"/next?x=1")
	}
}

func TestProxyHandler_Handle_NoBodyStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"204", http.StatusNoContent},
		{"304", http.StatusNotModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("ETag", `"v1"`)
				w.WriteHeader(tt.status)
			}))
			defer upstream.Close()

			h := newTestProxyHandler(t, upstream.Listener.Addr().String(), testPublicURL, nil)
			rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if _, ok := rec.Header()["Content-Length"]; ok {
				t.Errorf("Content-Length = %q, want none", rec.Header().Get("Content-Length"))
			}
			if rec.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", rec.Body.String())
			}
			if rec.Header().Get("ETag") != `"v1"` {
				t.Errorf("ETag = %q, want %q", rec.Header().Get("ETag"), `"v1"`)
			}
		})
	}
}

func TestProxyHandler_Handle_Misconfigured(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		publicURL string
		method    string
	}{
		{"missing target GET", "", testPublicURL, http.MethodGet},
		{"missing target POST", "", testPublicURL, http.MethodPost},
		{"unparsable public URL", "app.example.com", "::not a url", http.MethodDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			h := newTestProxyHandler(t, tt.target, tt.publicURL, m)
			rec := serve(t, h, httptest.NewRequest(tt.method, "/x", strings.NewReader("body")))

			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
			}
			if rec.Body.String() != misconfiguredMessage {
				t.Errorf("body = %q, want %q", rec.Body.String(), misconfiguredMessage)
			}
			if got := testutil.ToFloat64(m.FailuresTotal.WithLabelValues("idle")); got != 1 {
				t.Errorf("failures{stage=idle} = %v, want 1", got)
			}
			if n := testutil.CollectAndCount(m.UpstreamResponses); n != 0 {
				t.Errorf("upstream responses recorded = %d, want 0", n)
			}
		})
	}
}

func TestProxyHandler_Handle_UpstreamUnreachable(t *testing.T) {
	m := metrics.New()
	h := newTestProxyHandler(t, "127.0.0.1:1", testPublicURL, m)
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if !strings.HasPrefix(rec.Body.String(), "Proxy error: ") || len(rec.Body.String()) <= len("Proxy error: ") {
		t.Errorf("body = %q, want non-empty diagnostic", rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMETextPlain) {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if got := testutil.ToFloat64(m.FailuresTotal.WithLabelValues("forwarding")); got != 1 {
		t.Errorf("failures{stage=forwarding} = %v, want 1", got)
	}
}

func TestProxyHandler_Handle_TruncatedUpstream(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = io.WriteString(w, "short")
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, upstream.Listener.Addr().String(), testPublicURL, nil)
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if !strings.Contains(rec.Body.String(), service.ErrMalformedResponse.Error()) {
		t.Errorf("body = %q, want it to mention %q", rec.Body.String(), service.ErrMalformedResponse)
	}
}

func TestProxyHandler_Handle_BodyLimit(t *testing.T) {
	h := newTestProxyHandler(t, "127.0.0.1:1", testPublicURL, nil)

	e := echo.New()
	e.Use(echomw.BodyLimit("8B"))
	e.Any("/*", h.Handle)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(strings.Repeat("x", 64)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestCapture(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/a%2Fb/c?z=1&a=%20", strings.NewReader("raw"))
	req.Header.Add("Cookie", "a=1")
	req.Header.Add("Cookie", "b=2")

	in, err := capture(req)
	if err != nil {
		t.Fatalf("capture() error = %v", err)
	}
	if in.Method != http.MethodOptions {
		t.Errorf("Method = %q, want OPTIONS", in.Method)
	}
	if in.URI != "/a%2Fb/c?z=1&a=%20" {
		t.Errorf("URI = %q, want %q", in.URI, "/a%2Fb/c?z=1&a=%20")
	}
	if string(in.Body) != "raw" {
		t.Errorf("Body = %q, want %q", in.Body, "raw")
	}
	if got := in.Header.Values("Cookie"); !slices.Equal(got, []string{"a=1", "b=2"}) {
		t.Errorf("Cookie = %v, want [a=1 b=2]", got)
	}
}

func TestCapture_FallsBackToURL(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: "/p", RawQuery: "q=1"},
		Header: http.Header{},
	}

	in, err := capture(req)
	if err != nil {
		t.Fatalf("capture() error = %v", err)
	}
	if in.URI != "/p?q=1" {
		t.Errorf("URI = %q, want %q", in.URI, "/p?q=1")
	}
	if in.Body != nil {
		t.Errorf("Body = %q, want nil", in.Body)
	}
}

func TestBodyAllowed(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusContinue, false},
		{http.StatusOK, true},
		{http.StatusNoContent, false},
		{http.StatusFound, true},
		{http.StatusNotModified, false},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			if got := bodyAllowed(tt.status); got != tt.want {
				t.Errorf("bodyAllowed(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestCause(t *testing.T) {
	err := &service.PipelineError{Stage: service.StageForwarded, Err: service.ErrResponseTooLarge}
	if got := cause(err); got != service.ErrResponseTooLarge.Error() {
		t.Errorf("cause() = %q, want %q", got, service.ErrResponseTooLarge.Error())
	}
}
