package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"webrelay-go/internal/config"
)

var allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}

// CORS returns an Echo middleware that answers browser cross-origin checks.
// An Origin on the allow list is reflected back; the entry "*" allows any
// origin. Requests without an Origin get "*". Anything else gets no
// Access-Control-Allow-Origin header and the browser blocks the read.
// Preflight requests are answered with 204 without reaching the handler.
func CORS(cfg config.CORSConfig) echo.MiddlewareFunc {
	allowAny := slices.Contains(cfg.AllowedOrigins, "*")
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	cors := echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return allowAny || allowed[origin], nil
		},
		AllowMethods: allowedMethods,
		AllowHeaders: cfg.AllowedHeaders,
		MaxAge:       600,
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := cors(next)
		return func(c echo.Context) error {
			// Echo's CORS leaves origin-less requests untouched.
			if c.Request().Header.Get(echo.HeaderOrigin) == "" {
				c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
			}
			return h(c)
		}
	}
}
