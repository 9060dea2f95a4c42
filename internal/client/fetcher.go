// Package client provides the outbound HTTP client that fetches relay targets.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"webrelay-go/internal/config"
	"webrelay-go/internal/metrics"
	"webrelay-go/internal/model"
	"webrelay-go/internal/proxyerr"
)

// ErrPrivateAddress is returned when deny_private_addresses is set and the
// target resolves to a loopback, private or link-local address.
var ErrPrivateAddress = errors.New("target resolves to a non-public address")

// keptResponseHeaders are the target response headers carried in a FetchResult.
var keptResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Language": true,
	"Cache-Control":    true,
	"Date":             true,
	"Etag":             true,
	"Last-Modified":    true,
	"Location":         true,
}

// Fetcher issues browser-looking GET requests to relay targets.
type Fetcher struct {
	httpClient     *http.Client
	logger         *slog.Logger
	metrics        *metrics.Metrics
	userAgent      string
	acceptLanguage string
	maxBodyBytes   int64
}

// NewFetcher creates a Fetcher with a pooled transport shared by all requests.
// The metrics parameter is optional; pass nil to disable target metrics recording.
func NewFetcher(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Fetcher {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if cfg.Fetch.DenyPrivateAddresses {
		dialer.Control = denyPrivate
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.Fetch.IdleConnections,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	maxRedirects := cfg.Fetch.RedirectLimit()

	return &Fetcher{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Fetch.Timeout(),
			// Past the limit the last redirect response is relayed as the target's answer.
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger:         logger.With("component", "fetcher"),
		metrics:        m,
		userAgent:      cfg.Fetch.UserAgent,
		acceptLanguage: cfg.Fetch.AcceptLanguage,
		maxBodyBytes:   cfg.Fetch.MaxBodyBytes,
	}
}

// Fetch GETs the target and buffers its body. Every HTTP status the target
// returns is a successful fetch; only transport failures are errors, tagged
// as timeout, DNS or network failures.
//
// ctx is the inbound request context, so a client disconnect cancels the
// outbound fetch.
func (f *Fetcher) Fetch(ctx context.Context, target model.TargetDescriptor) (*model.FetchResult, error) {
	if target.URL == nil {
		return nil, proxyerr.New(proxyerr.KindValidation, "fetch", "no target URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL.String(), http.NoBody)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindValidation, "build target request", err)
	}
	f.setBrowserHeaders(req.Header)

	f.logger.Debug("target request", "host", target.URL.Host)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		kind := proxyerr.Transport(err)
		f.observe(string(kind), start)
		return nil, proxyerr.Wrap(kind, "fetch target", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, truncated, err := readBody(resp, f.maxBodyBytes)
	if err != nil {
		kind := proxyerr.Transport(err)
		f.observe(string(kind), start)
		return nil, proxyerr.Wrap(kind, "read target body", err)
	}
	f.observe("ok", start)
	if f.metrics != nil {
		f.metrics.TargetResponses.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()
	}

	if truncated {
		f.logger.Warn("target body truncated",
			"host", target.URL.Host,
			"limit_bytes", f.maxBodyBytes,
		)
	}

	return &model.FetchResult{
		StatusCode: resp.StatusCode,
		Header:     filterResponseHeaders(resp.Header),
		Body:       body,
		FinalURL:   resp.Request.URL,
		Truncated:  truncated,
	}, nil
}

// setBrowserHeaders sets the header set of a top-level browser navigation;
// many sites reject requests that do not look like one.
func (f *Fetcher) setBrowserHeaders(h http.Header) {
	h.Set("User-Agent", f.userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", f.acceptLanguage)
	h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
}

func (f *Fetcher) observe(outcome string, start time.Time) {
	if f.metrics == nil {
		return
	}
	f.metrics.TargetDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if keptResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}

// denyPrivate is a net.Dialer Control hook. It sees the resolved address, so
// a public hostname that resolves to an internal IP is refused too.
func denyPrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: unparseable address %q", ErrPrivateAddress, host)
	}
	if !isPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	return ip.IsGlobalUnicast() && !ip.IsPrivate()
}
