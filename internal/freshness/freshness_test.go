package freshness

import (
	"math"
	"testing"
	"time"

	"webrelay-go/internal/config"
	"webrelay-go/internal/proxyerr"
)

func TestValidate_Window(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := newValidator(DefaultWindow, false, func() time.Time { return now })
	nowMs := now.UnixMilli()

	tests := []struct {
		name   string
		offset int64 // milliseconds relative to now
		stale  bool
	}{
		{"exact now", 0, false},
		{"one minute old", -60_000, false},
		{"one minute ahead", 60_000, false},
		{"exactly at past limit", -300_000, false},
		{"exactly at future limit", 300_000, false},
		{"one ms past limit", -300_001, true},
		{"one ms future limit", 300_001, true},
		{"six minutes old", -360_000, true},
		{"far future", 24 * 3_600_000, true},
		{"epoch zero", -nowMs, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := nowMs + tt.offset
			assertFreshness(t, v, ts, tt.stale)
		})
	}
}

func TestValidate_ExtremeTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := newValidator(DefaultWindow, false, func() time.Time { return now })
	nowMs := now.UnixMilli()

	tests := []struct {
		name string
		ts   int64
	}{
		{"now plus MinInt64 wraps the difference", nowMs + math.MinInt64},
		{"MinInt64", math.MinInt64},
		{"MaxInt64", math.MaxInt64},
		{"MinInt64 plus one", math.MinInt64 + 1},
		{"negative", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertFreshness(t, v, tt.ts, true)
		})
	}
}

func assertFreshness(t *testing.T, v *Validator, ts int64, stale bool) {
	t.Helper()
	err := v.Validate(&ts)
	if stale {
		if err == nil {
			t.Fatalf("Validate(%d) = nil, want stale error", ts)
		}
		if k := proxyerr.KindOf(err); k != proxyerr.KindStale {
			t.Errorf("KindOf() = %q, want %q", k, proxyerr.KindStale)
		}
		return
	}
	if err != nil {
		t.Errorf("Validate(%d) error = %v, want nil", ts, err)
	}
}

func TestValidate_MissingTimestamp(t *testing.T) {
	optional := newValidator(DefaultWindow, false, time.Now)
	if err := optional.Validate(nil); err != nil {
		t.Errorf("Validate(nil) error = %v, want nil when not required", err)
	}

	required := newValidator(DefaultWindow, true, time.Now)
	err := required.Validate(nil)
	if err == nil {
		t.Fatal("Validate(nil) = nil, want error when required")
	}
	if k := proxyerr.KindOf(err); k != proxyerr.KindValidation {
		t.Errorf("KindOf() = %q, want %q", k, proxyerr.KindValidation)
	}
}

func TestNewValidator_FromConfig(t *testing.T) {
	cfg := &config.Config{Freshness: config.FreshnessConfig{WindowSeconds: 10}}
	v := NewValidator(cfg)
	if v.window != 10*time.Second {
		t.Errorf("window = %v, want %v", v.window, 10*time.Second)
	}

	ts := time.Now().Add(-30 * time.Second).UnixMilli()
	if err := v.Validate(&ts); err == nil {
		t.Error("Validate() = nil, want stale error with 10s window")
	}
}

func TestNewValidator_ZeroWindowUsesDefault(t *testing.T) {
	v := NewValidator(&config.Config{})
	if v.window != DefaultWindow {
		t.Errorf("window = %v, want %v", v.window, DefaultWindow)
	}
}
