// Package service implements the relay pipeline: decode, freshness check,
// fetch, link rewrite and response shaping.
package service

import (
	"context"
	"log/slog"
	"mime"
	"strings"
	"time"

	"webrelay-go/internal/config"
	"webrelay-go/internal/freshness"
	"webrelay-go/internal/metrics"
	"webrelay-go/internal/model"
	"webrelay-go/internal/obfuscation"
	"webrelay-go/internal/proxyerr"
	"webrelay-go/internal/response"
	"webrelay-go/internal/rewrite"
)

// Actions accepted from the client. An empty action means fetch.
const (
	ActionFetch      = "fetch"
	ActionGetContent = "get_content"
)

// Fetcher retrieves a decoded target.
type Fetcher interface {
	Fetch(ctx context.Context, target model.TargetDescriptor) (*model.FetchResult, error)
}

// ProxyService runs one relay call end to end.
type ProxyService struct {
	decoder   *obfuscation.Decoder
	validator *freshness.Validator
	fetcher   Fetcher
	shaper    *response.Shaper
	metrics   *metrics.Metrics
	logger    *slog.Logger
	rewrite   bool
	now       func() time.Time
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(
	decoder *obfuscation.Decoder,
	validator *freshness.Validator,
	fetcher Fetcher,
	shaper *response.Shaper,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ProxyService {
	return &ProxyService{
		decoder:   decoder,
		validator: validator,
		fetcher:   fetcher,
		shaper:    shaper,
		metrics:   m,
		logger:    logger.With("component", "proxy_service"),
		rewrite:   cfg.RewriteEnabled(),
		now:       time.Now,
	}
}

// Process runs the pipeline for req. It never returns an error: every stage
// failure is shaped into the error response. There are no retries.
func (s *ProxyService) Process(ctx context.Context, req *model.ProxyRequest) model.ProxyResponse {
	log := s.logger.With("request_id", req.RequestID)

	html, target, result, err := s.run(ctx, req, log)
	if err != nil {
		return s.fail(log, err)
	}
	return s.succeed(log, req, target, result, html)
}

// Passthrough fetches a plain target URL. There is no payload to decode and
// no timestamp to check; fetch, rewrite and shaping match Process.
func (s *ProxyService) Passthrough(ctx context.Context, rawURL, requestID string) model.ProxyResponse {
	log := s.logger.With("request_id", requestID, "passthrough", true)
	req := &model.ProxyRequest{RequestID: requestID}

	target, err := s.decoder.Plain(rawURL)
	if err != nil {
		return s.fail(log, err)
	}
	html, result, err := s.fetch(ctx, target)
	if err != nil {
		return s.fail(log, err)
	}
	return s.succeed(log, req, target, result, html)
}

// Reject shapes a request the caller could not turn into a ProxyRequest,
// such as a body whose data field is not a string. It is counted and logged
// like any other pipeline failure.
func (s *ProxyService) Reject(req *model.ProxyRequest, err error) model.ProxyResponse {
	return s.fail(s.logger.With("request_id", req.RequestID), err)
}

func (s *ProxyService) succeed(log *slog.Logger, req *model.ProxyRequest, target model.TargetDescriptor, result *model.FetchResult, html string) model.ProxyResponse {
	s.count("success")
	log.Info("relay complete",
		"host", target.URL.Host,
		"status", result.StatusCode,
		"bytes", len(html),
		"truncated", result.Truncated,
	)
	return s.shaper.Success(req, target, result, html, s.now())
}

func (s *ProxyService) fail(log *slog.Logger, err error) model.ProxyResponse {
	kind := proxyerr.KindOf(err)
	s.count(string(kind))
	if kind == proxyerr.KindUnknown {
		log.Error("relay failed", "error", err)
	} else {
		log.Warn("relay failed", "kind", kind, "error", err)
	}
	return s.shaper.Failure(err)
}

func (s *ProxyService) run(ctx context.Context, req *model.ProxyRequest, log *slog.Logger) (string, model.TargetDescriptor, *model.FetchResult, error) {
	var target model.TargetDescriptor

	if err := s.validateRequest(req); err != nil {
		return "", target, nil, err
	}

	target, err := s.decoder.Decode(req.Payload, req.Mode)
	if err != nil {
		return "", target, nil, err
	}
	log.Debug("payload decoded", "host", target.URL.Host, "mode", req.Mode)

	if err := s.validator.Validate(req.Timestamp); err != nil {
		return "", target, nil, err
	}

	html, result, err := s.fetch(ctx, target)
	if err != nil {
		return "", target, nil, err
	}
	return html, target, result, nil
}

// fetch retrieves target and rewrites HTML links against the final URL.
func (s *ProxyService) fetch(ctx context.Context, target model.TargetDescriptor) (string, *model.FetchResult, error) {
	result, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return "", nil, err
	}

	html := result.Body
	if s.rewrite && isHTML(result.Header.Get("Content-Type")) {
		base := result.FinalURL
		if base == nil {
			base = target.URL
		}
		html = rewrite.Links(html, base)
	}
	return html, result, nil
}

func (s *ProxyService) validateRequest(req *model.ProxyRequest) error {
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "", ActionFetch, ActionGetContent:
	default:
		return proxyerr.New(proxyerr.KindValidation, "request", "unsupported action "+req.Action)
	}
	if strings.TrimSpace(req.Payload) == "" {
		return proxyerr.New(proxyerr.KindValidation, "request", "missing payload")
	}
	if !s.decoder.Supports(req.Mode) {
		return proxyerr.New(proxyerr.KindValidation, "request", "unsupported mode "+req.Mode)
	}
	return nil
}

func (s *ProxyService) count(outcome string) {
	if s.metrics != nil {
		s.metrics.PipelineOutcomes.WithLabelValues(outcome).Inc()
	}
}

// isHTML reports whether a body of this content type gets its links
// rewritten. Targets that send no content type are treated as HTML.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
