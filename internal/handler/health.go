package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"rewrite-proxy-go/internal/model"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the proxy's own health and status endpoints.
type HealthHandler struct {
	proxy   *model.ProxyConfig
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(pc *model.ProxyConfig, v Version) *HealthHandler {
	return &HealthHandler{proxy: pc, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports what the proxy fronts and how it rewrites.
func (h *HealthHandler) Status(c echo.Context) error {
	status := "ok"
	if !h.proxy.Complete() {
		status = "misconfigured"
	}
	tls := "verified"
	if !h.proxy.VerifyTLS() {
		tls = "insecure"
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":       status,
		"version":      string(h.version),
		"target_host":  h.proxy.TargetHost(),
		"public_url":   h.proxy.BaseURLString(),
		"rewrite_mode": h.proxy.Mode().String(),
		"upstream_tls": tls,
	})
}
