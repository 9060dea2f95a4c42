// Package obfuscation reverses the transport obfuscation the browser client
// applies to target URLs.
//
// This is NOT encryption. The shared key and the transform ship inside the
// client bundle, so anyone who can read that bundle can decode every payload.
// The transform only keeps target URLs from showing up as plain text in
// casual traffic inspection.
package obfuscation

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"webrelay-go/internal/config"
	"webrelay-go/internal/model"
	"webrelay-go/internal/proxyerr"
)

// Decoding modes a client may request.
const (
	ModeShift  = "shift"  // base64, key shift, reversal, base64
	ModeBase64 = "base64" // single base64 layer
	ModeXOR    = "xor"    // base64 of the reversed text; the client strips its XOR layer
	ModeAES    = "aes"    // base64 only; the client strips its AES layer
)

// transform undoes one mode's encoding and returns the plaintext URL string.
type transform func(d *Decoder, payload string) (string, error)

var transforms = map[string]transform{
	ModeShift:  (*Decoder).unshift,
	ModeBase64: func(_ *Decoder, p string) (string, error) { return decodeBase64(p) },
	ModeXOR: func(_ *Decoder, p string) (string, error) {
		s, err := decodeBase64(p)
		if err != nil {
			return "", err
		}
		return string(reversed([]byte(s))), nil
	},
	ModeAES: func(_ *Decoder, p string) (string, error) { return decodeBase64(p) },
}

// Decoder turns EncodedPayloads back into target URLs.
type Decoder struct {
	key         []byte
	defaultMode string
	now         func() time.Time
}

// NewDecoder creates a Decoder using the configured shared key and default mode.
func NewDecoder(cfg *config.Config) *Decoder {
	return newDecoder(cfg.Obfuscation.SharedKey, cfg.Obfuscation.DefaultMode)
}

func newDecoder(key, defaultMode string) *Decoder {
	if defaultMode == "" {
		defaultMode = ModeShift
	}
	return &Decoder{key: []byte(key), defaultMode: defaultMode, now: time.Now}
}

// Supports reports whether mode names a known decoding variant. The empty
// mode selects the default.
func (d *Decoder) Supports(mode string) bool {
	if mode == "" {
		return true
	}
	_, ok := transforms[strings.ToLower(mode)]
	return ok
}

// Decode reverses payload according to mode and validates the result as an
// absolute http or https URL.
func (d *Decoder) Decode(payload, mode string) (model.TargetDescriptor, error) {
	if mode == "" {
		mode = d.defaultMode
	}
	mode = strings.ToLower(mode)
	fn, ok := transforms[mode]
	if !ok {
		return model.TargetDescriptor{}, proxyerr.New(proxyerr.KindValidation, "decode", fmt.Sprintf("unsupported mode %q", mode))
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return model.TargetDescriptor{}, proxyerr.New(proxyerr.KindDecode, "decode", "empty payload")
	}

	raw, err := fn(d, payload)
	if err != nil {
		return model.TargetDescriptor{}, proxyerr.Wrap(proxyerr.KindDecode, "decode "+mode, err)
	}

	u, err := parseTarget(raw)
	if err != nil {
		return model.TargetDescriptor{}, proxyerr.Wrap(proxyerr.KindDecode, "decode "+mode, err)
	}
	return model.TargetDescriptor{URL: u, ResolvedAt: d.now()}, nil
}

// Plain validates an unobfuscated target URL the same way Decode validates a
// decoded one. Errors are tagged as invalid requests.
func (d *Decoder) Plain(raw string) (model.TargetDescriptor, error) {
	u, err := parseTarget(raw)
	if err != nil {
		return model.TargetDescriptor{}, proxyerr.Wrap(proxyerr.KindValidation, "target url", err)
	}
	return model.TargetDescriptor{URL: u, ResolvedAt: d.now()}, nil
}

// Encode applies the default shift transform to rawURL. It mirrors what the
// browser client does and exists for tooling and tests.
func (d *Decoder) Encode(rawURL string) string {
	inner := reversed([]byte(base64.StdEncoding.EncodeToString([]byte(rawURL))))
	for i := range inner {
		inner[i] += d.shiftAt(i)
	}
	return base64.StdEncoding.EncodeToString(inner)
}

func (d *Decoder) unshift(payload string) (string, error) {
	outer, err := decodeBase64(payload)
	if err != nil {
		return "", fmt.Errorf("outer layer: %w", err)
	}
	inner := []byte(outer)
	for i := range inner {
		inner[i] -= d.shiftAt(i)
	}
	plain, err := decodeBase64(string(reversed(inner)))
	if err != nil {
		return "", fmt.Errorf("inner layer: %w", err)
	}
	return plain, nil
}

// shiftAt is the per-position offset: key[i mod len(key)] mod 10.
func (d *Decoder) shiftAt(i int) byte {
	if len(d.key) == 0 {
		return 0
	}
	return d.key[i%len(d.key)] % 10
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// decodeBase64 accepts the standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty base64 input")
	}
	var firstErr error
	for _, enc := range base64Encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return string(b), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", fmt.Errorf("malformed base64: %w", firstErr)
}

func reversed(b []byte) []byte {
	out := slices.Clone(b)
	slices.Reverse(out)
	return out
}

func parseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("URL is empty")
	}
	if !utf8.ValidString(raw) {
		return nil, fmt.Errorf("URL is not valid UTF-8")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("not a URL: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("URL must be absolute http or https; got scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL has no host")
	}
	return u, nil
}
