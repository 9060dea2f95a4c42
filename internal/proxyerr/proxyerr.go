// Package proxyerr defines the failure taxonomy shared by the relay pipeline
// stages and the classification of raw transport errors into it.
package proxyerr

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind names one failure category.
type Kind string

const (
	KindDecode     Kind = "decode_error"
	KindStale      Kind = "stale_request"
	KindValidation Kind = "invalid_request"
	KindTimeout    Kind = "timeout"
	KindDNS        Kind = "dns_error"
	KindNetwork    Kind = "network_error"
	KindUnknown    Kind = "unknown_error"
)

// Error is a pipeline failure tagged with its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind wrapping a plain message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err. Tagged errors win, then typed transport errors,
// then well-known message fragments; anything else is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if k := transportKind(err); k != "" {
		return k
	}
	return kindFromMessage(err.Error())
}

// Transport classifies an outbound fetch failure as timeout, DNS or network.
func Transport(err error) Kind {
	if k := transportKind(err); k != "" {
		return k
	}
	if k := kindFromMessage(err.Error()); k != KindUnknown {
		return k
	}
	return KindNetwork
}

func transportKind(err error) Kind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return KindDNS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	return ""
}

func kindFromMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"),
		strings.Contains(lower, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "ENOTFOUND"), strings.Contains(msg, "EAI_AGAIN"),
		strings.Contains(lower, "no such host"):
		return KindDNS
	case strings.Contains(msg, "ECONNREFUSED"), strings.Contains(msg, "ECONNRESET"),
		strings.Contains(lower, "connection refused"), strings.Contains(lower, "connection reset"):
		return KindNetwork
	}
	return KindUnknown
}
