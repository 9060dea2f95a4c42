package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"webrelay-go/internal/config"
)

// notFoundResponse lists what the server does serve.
type notFoundResponse struct {
	Error     string   `json:"error"`
	Path      string   `json:"path"`
	Endpoints []string `json:"endpoints"`
}

// Endpoints returns the routes advertised in 404 responses.
func Endpoints(cfg *config.Config) []string {
	eps := []string{"GET /", "POST /api", "GET /health", "GET /healthz"}
	if cfg.Passthrough.Enabled {
		eps = append(eps, "GET /proxy")
	}
	if cfg.Metrics.Enabled {
		eps = append(eps, "GET "+cfg.Metrics.Path)
	}
	return eps
}

// NewErrorHandler returns an Echo HTTPErrorHandler that renders every
// framework-level error as JSON. Unknown routes list the available endpoints.
// In production, internal errors carry a generic message only.
func NewErrorHandler(cfg *config.Config, logger *slog.Logger) echo.HTTPErrorHandler {
	endpoints := Endpoints(cfg)
	production := cfg.Server.IsProduction()
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}

		var body any
		switch {
		case code == http.StatusNotFound:
			body = notFoundResponse{
				Error:     "Not Found",
				Path:      c.Request().URL.Path,
				Endpoints: endpoints,
			}
		case code >= http.StatusInternalServerError:
			logger.Error("unhandled error",
				"err", err,
				"path", c.Request().URL.Path,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			msg := "Internal Server Error"
			if !production {
				msg = err.Error()
			}
			body = map[string]string{"error": msg}
		case he != nil:
			body = map[string]string{"error": fmt.Sprint(he.Message)}
		default:
			body = map[string]string{"error": http.StatusText(code)}
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, body)
		}
		if writeErr != nil {
			logger.Error("write error response", "err", writeErr)
		}
	}
}
