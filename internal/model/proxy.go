// Package model defines shared types for the proxy.
package model

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// ProxyRequest is one inbound relay call, as submitted by the browser client.
type ProxyRequest struct {
	Action    string
	Payload   string
	Timestamp *int64 // epoch milliseconds; nil when the client sent none
	RequestID string
	Mode      string
}

// TargetDescriptor is a decoded, validated absolute http(s) URL.
type TargetDescriptor struct {
	URL        *url.URL
	ResolvedAt time.Time
}

// FetchResult is the buffered outcome of one outbound fetch.
type FetchResult struct {
	StatusCode int
	Header     http.Header
	Body       string
	FinalURL   *url.URL
	Truncated  bool
}

// Success is the payload returned when the target was fetched.
type Success struct {
	Success     bool      `json:"success"`
	HTML        string    `json:"html"`
	OriginalURL string    `json:"originalUrl"`
	FetchedAt   time.Time `json:"fetchedAt"`
	RequestID   string    `json:"requestId"`
	StatusCode  int       `json:"statusCode"`
}

// Failure is the payload returned when any stage failed. HTML is a
// self-contained page the client can render in place of the target.
type Failure struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	HTML  string `json:"html"`
}

// ProxyResponse holds exactly one of Success or Failure.
type ProxyResponse struct {
	Success *Success
	Failure *Failure
}

// OK reports whether the response carries the success shape.
func (r ProxyResponse) OK() bool {
	return r.Success != nil
}

// MarshalJSON emits whichever shape is set, flattened.
func (r ProxyResponse) MarshalJSON() ([]byte, error) {
	if r.Success != nil {
		return json.Marshal(r.Success)
	}
	if r.Failure != nil {
		return json.Marshal(r.Failure)
	}
	return []byte("null"), nil
}
