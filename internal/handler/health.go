package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"webrelay-go/internal/config"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "webrelay"

// Version is a string type for dependency injection of the build version.
type Version string

// StartTime is the process start time, injected so uptime is testable.
type StartTime time.Time

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	started time.Time
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, started StartTime) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, started: time.Time(started), now: time.Now}
}

type healthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health reports service identity and uptime.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		Service:       ServiceName,
		Version:       string(h.version),
		Environment:   h.cfg.Server.Environment,
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
	})
}
