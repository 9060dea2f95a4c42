package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/html/charset"
)

// readBody buffers the decoded response body, up to limit bytes. It reports
// whether the body was cut short. Textual bodies are converted to UTF-8.
func readBody(resp *http.Response, limit int64) (string, bool, error) {
	br := bufio.NewReader(resp.Body)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		return "", false, err
	}

	r, closeFn, err := decompress(br, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return "", false, err
	}
	defer closeFn()

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", false, err
	}
	truncated := int64(len(data)) > limit
	if truncated {
		data = data[:limit]
	}

	contentType := resp.Header.Get("Content-Type")
	if isTextual(contentType) {
		data = toUTF8(data, contentType)
	}
	return string(data), truncated, nil
}

// decompress wraps r according to the Content-Encoding header. The browser
// header set advertises gzip, deflate, br and zstd, so the transport does not
// decode transparently and every advertised coding must be handled here.
func decompress(r *bufio.Reader, encoding string) (io.Reader, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, noop, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("gzip body: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "deflate":
		// RFC 9110 deflate is zlib-wrapped, but some servers send a raw stream.
		if hdr, err := r.Peek(2); err == nil && isZlibHeader(hdr) {
			zr, err := zlib.NewReader(r)
			if err != nil {
				return nil, noop, fmt.Errorf("deflate body: %w", err)
			}
			return zr, func() { _ = zr.Close() }, nil
		}
		fr := flate.NewReader(r)
		return fr, func() { _ = fr.Close() }, nil
	case "br":
		return brotli.NewReader(r), noop, nil
	case "zstd":
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, noop, fmt.Errorf("zstd body: %w", err)
		}
		return zr, zr.Close, nil
	default:
		// Unknown coding: relay the bytes as they came.
		return r, noop, nil
	}
}

func isZlibHeader(b []byte) bool {
	return len(b) == 2 && b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

func isTextual(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"),
		strings.HasSuffix(mediaType, "+xml"),
		strings.HasSuffix(mediaType, "+json"),
		mediaType == "application/xml",
		mediaType == "application/json",
		mediaType == "application/javascript":
		return true
	}
	return false
}

// toUTF8 converts data from the charset declared in contentType or sniffed
// from the document. Undecodable input is returned unchanged.
func toUTF8(data []byte, contentType string) []byte {
	enc, name, _ := charset.DetermineEncoding(data, contentType)
	if enc == nil || name == "utf-8" {
		return data
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return out
}
