package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"rewrite-proxy-go/internal/metrics"
	"rewrite-proxy-go/internal/model"
	"rewrite-proxy-go/internal/service"
)

// misconfiguredMessage is the fixed body sent when the proxy cannot forward at all.
const misconfiguredMessage = "Proxy server misconfigured. Target host or proxy base URL is missing."

// ProxyHandler forwards every non-admin request to the target host.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle captures the request, runs it through the forwarding pipeline and
// writes the rewritten response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	in, err := capture(c.Request())
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			// BodyLimit overflow surfaces here as a 413.
			return he
		}
		h.logger.Warn("reading request body", "err", err, "uri", c.Request().RequestURI)
		h.recordFailure(service.StageIdle)
		return c.String(http.StatusBadRequest, "Bad request: could not read body")
	}

	out, err := h.service.Forward(c.Request().Context(), in)
	if err != nil {
		return h.mapError(c, err)
	}

	h.emit(c, out)
	return nil
}

// capture extracts method, URI, headers and the raw body. RequestURI is the
// request target as received, so percent-encoding and query order survive.
func capture(req *http.Request) (*model.InboundRequest, error) {
	uri := req.RequestURI
	if uri == "" {
		uri = req.URL.RequestURI()
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}

	return &model.InboundRequest{
		Method: req.Method,
		URI:    uri,
		Header: req.Header.Clone(),
		Body:   body,
	}, nil
}

// emit writes the outcome. Headers are added once per occurrence so repeated
// names such as Set-Cookie are all delivered.
func (h *ProxyHandler) emit(c echo.Context, out *model.RewriteOutcome) {
	res := c.Response()
	hdr := res.Header()
	for _, f := range out.Header {
		hdr.Add(f.Name, f.Value)
	}

	withBody := bodyAllowed(out.StatusCode) && c.Request().Method != http.MethodHead
	if withBody {
		hdr.Set(echo.HeaderContentLength, strconv.Itoa(len(out.Body)))
	}
	res.WriteHeader(out.StatusCode)

	if !withBody {
		return
	}
	// The status is already on the wire; a failed write can only be logged.
	if _, err := res.Write(out.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"uri", c.Request().RequestURI,
		)
		h.recordFailure(service.StageRewritten)
	}
}

// bodyAllowed reports whether a response with the given status may carry a body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	stage := service.FailedStage(err)
	h.logger.Error("proxy error",
		"err", err,
		"stage", stage.String(),
		"method", c.Request().Method,
		"uri", c.Request().RequestURI,
	)
	h.recordFailure(stage)

	if errors.Is(err, service.ErrMisconfigured) {
		return c.String(http.StatusInternalServerError, misconfiguredMessage)
	}

	return c.String(http.StatusBadGateway, "Proxy error: "+cause(err))
}

func (h *ProxyHandler) recordFailure(stage service.Stage) {
	if h.metrics != nil {
		h.metrics.FailuresTotal.WithLabelValues(stage.String()).Inc()
	}
}

// cause strips the stage prefix from a pipeline error.
func cause(err error) string {
	var pe *service.PipelineError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}
