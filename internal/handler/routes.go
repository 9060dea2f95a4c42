package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webrelay-go/internal/config"
	"webrelay-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/", Index)
	e.GET("/healthz", health.Healthz)
	e.GET("/health", health.Health)

	e.POST("/api", proxy.Handle)
	if cfg.Passthrough.Enabled {
		e.GET("/proxy", proxy.Passthrough)
	}

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
