// Package freshness rejects relay requests whose client timestamp falls
// outside the allowed clock-skew window. It narrows the replay window for
// captured payloads; it is a mitigation, not an authentication step.
package freshness

import (
	"fmt"
	"time"

	"webrelay-go/internal/config"
	"webrelay-go/internal/proxyerr"
)

// DefaultWindow is the tolerance used when none is configured.
const DefaultWindow = 5 * time.Minute

// Validator checks client timestamps against the wall clock.
type Validator struct {
	window  time.Duration
	require bool
	now     func() time.Time
}

// NewValidator creates a Validator from the [freshness] config section.
func NewValidator(cfg *config.Config) *Validator {
	return newValidator(cfg.Freshness.Window(), cfg.Freshness.RequireTimestamp, time.Now)
}

func newValidator(window time.Duration, require bool, now func() time.Time) *Validator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Validator{window: window, require: require, now: now}
}

// Validate accepts ts (epoch milliseconds) when |now - ts| <= window.
// A nil ts passes unless timestamps are required.
func (v *Validator) Validate(ts *int64) error {
	if ts == nil {
		if v.require {
			return proxyerr.New(proxyerr.KindValidation, "freshness", "timestamp is required")
		}
		return nil
	}

	// Compare against the bounds; ts - now can overflow for hostile values.
	nowMs := v.now().UnixMilli()
	w := v.window.Milliseconds()
	if *ts < nowMs-w || *ts > nowMs+w {
		return proxyerr.Wrap(proxyerr.KindStale, "freshness",
			fmt.Errorf("request timestamp %d is outside %d±%dms", *ts, nowMs, w))
	}
	return nil
}
