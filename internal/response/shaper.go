// Package response assembles the JSON payloads returned by the relay endpoint.
package response

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"time"
	"unicode/utf8"

	"webrelay-go/internal/config"
	"webrelay-go/internal/model"
	"webrelay-go/internal/proxyerr"
)

// maxDetailRunes bounds how much of a raw error message reaches the client.
const maxDetailRunes = 100

//go:embed templates/error.html
var templateFS embed.FS

var errorPage = template.Must(template.ParseFS(templateFS, "templates/error.html"))

type category struct {
	title   string
	message string
	remedy  string
}

var categories = map[proxyerr.Kind]category{
	proxyerr.KindTimeout: {
		title:   "The page took too long to respond",
		message: "The request timed out before the site answered.",
		remedy:  "The site may be slow or overloaded. Wait a moment and try again.",
	},
	proxyerr.KindDNS: {
		title:   "Site not found",
		message: "The host name could not be resolved.",
		remedy:  "Check the address for typos. The site may no longer exist.",
	},
	proxyerr.KindDecode: {
		title:   "Invalid link",
		message: "The requested address could not be decoded.",
		remedy:  "Reload the page and open the link again.",
	},
	proxyerr.KindStale: {
		title:   "Request expired",
		message: "The request timestamp is outside the accepted window.",
		remedy:  "Check that your device clock is correct, then reload the page.",
	},
	proxyerr.KindValidation: {
		title:   "Invalid request",
		message: "The request is missing required fields or has invalid values.",
		remedy:  "Reload the page and try again.",
	},
	proxyerr.KindNetwork: {
		title:   "Could not reach the site",
		message: "The connection to the site failed.",
		remedy:  "The site may be down or refusing connections. Try again later.",
	},
	proxyerr.KindUnknown: {
		title:   "Something went wrong",
		message: "An unexpected error occurred.",
		remedy:  "Try again later. If the problem persists, try a different page.",
	},
}

// Shaper builds ProxyResponse values.
type Shaper struct {
	production bool
	logger     *slog.Logger
}

// NewShaper creates a Shaper. In production, unknown errors never expose
// their raw message.
func NewShaper(cfg *config.Config, logger *slog.Logger) *Shaper {
	return &Shaper{
		production: cfg.Server.IsProduction(),
		logger:     logger.With("component", "shaper"),
	}
}

// Success builds the success shape. fetchedAt is reported in UTC.
func (s *Shaper) Success(req *model.ProxyRequest, target model.TargetDescriptor, result *model.FetchResult, html string, fetchedAt time.Time) model.ProxyResponse {
	return model.ProxyResponse{Success: &model.Success{
		Success:     true,
		HTML:        html,
		OriginalURL: target.URL.String(),
		FetchedAt:   fetchedAt.UTC(),
		RequestID:   req.RequestID,
		StatusCode:  result.StatusCode,
	}}
}

// Failure maps err to a user-facing category and builds the error shape with
// a fallback page.
func (s *Shaper) Failure(err error) model.ProxyResponse {
	kind := proxyerr.KindOf(err)
	if kind == "" {
		kind = proxyerr.KindUnknown
	}
	cat, ok := categories[kind]
	if !ok {
		kind = proxyerr.KindUnknown
		cat = categories[kind]
	}

	msg := cat.message
	if kind == proxyerr.KindUnknown && !s.production && err != nil {
		msg = "Unexpected error: " + truncate(err.Error(), maxDetailRunes)
	}

	return model.ProxyResponse{Failure: &model.Failure{
		Error: msg,
		Code:  string(kind),
		HTML:  s.render(cat, msg, kind),
	}}
}

func (s *Shaper) render(cat category, msg string, kind proxyerr.Kind) string {
	var buf bytes.Buffer
	err := errorPage.Execute(&buf, struct {
		Title, Message, Remedy, Code string
	}{cat.title, msg, cat.remedy, string(kind)})
	if err != nil {
		s.logger.Error("render fallback page", "error", err)
		return "<!DOCTYPE html><html><body><h1>" + template.HTMLEscapeString(cat.title) + "</h1></body></html>"
	}
	return buf.String()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
