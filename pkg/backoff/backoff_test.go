package backoff

import (
	"net/http"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.Base != 2*time.Second {
		t.Errorf("Base = %v, want 2s", p.Base)
	}
	if p.Max != 30*time.Second {
		t.Errorf("Max = %v, want 30s", p.Max)
	}
	if p.Jitter == nil {
		t.Error("Jitter should not be nil")
	}
}

func TestDelay_Exponential(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Jitter: FixedJitter(250 * time.Millisecond)}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2*time.Second + 250*time.Millisecond},
		{2, 4*time.Second + 250*time.Millisecond},
		{3, 8*time.Second + 250*time.Millisecond},
		{0, 2*time.Second + 250*time.Millisecond},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt, NoHint); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelay_Cap(t *testing.T) {
	p := Policy{Base: time.Second, Max: 3 * time.Second, Jitter: FixedJitter(0)}

	if got := p.Delay(5, NoHint); got != 3*time.Second {
		t.Errorf("Delay(5) = %v, want 3s", got)
	}
	// Far beyond the shift limit must not overflow.
	if got := p.Delay(1000, NoHint); got != 3*time.Second {
		t.Errorf("Delay(1000) = %v, want 3s", got)
	}
}

func TestDelay_Uncapped(t *testing.T) {
	p := Policy{Base: time.Second, Max: -1, Jitter: FixedJitter(0)}

	if got := p.Delay(7, NoHint); got != 64*time.Second {
		t.Errorf("Delay(7) = %v, want 64s", got)
	}
}

func TestDelay_Hint(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Jitter: FixedJitter(time.Hour)}

	tests := []struct {
		name string
		hint Hint
		want time.Duration
	}{
		{"hint wins over exponential", HintSeconds(5), 5 * time.Second},
		{"zero hint floored to 1s", HintSeconds(0), time.Second},
		{"hint is not capped", HintSeconds(120), 120 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Same result regardless of attempt; jitter never applies to hints.
			for attempt := 1; attempt <= 3; attempt++ {
				if got := p.Delay(attempt, tt.hint); got != tt.want {
					t.Errorf("Delay(%d, %+v) = %v, want %v", attempt, tt.hint, got, tt.want)
				}
			}
		})
	}
}

func TestUniformJitter_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		j := UniformJitter()
		if j < JitterMin || j >= JitterMax {
			t.Fatalf("UniformJitter() = %v, outside [%v, %v)", j, JitterMin, JitterMax)
		}
	}
}

func TestDelay_ZeroPolicyUsesDefaults(t *testing.T) {
	var p Policy
	d := p.Delay(1, NoHint)
	if d < DefaultBase+JitterMin || d >= DefaultBase+JitterMax {
		t.Errorf("Delay(1) = %v, want within [%v, %v)", d, DefaultBase+JitterMin, DefaultBase+JitterMax)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  Hint
	}{
		{"empty", "", NoHint},
		{"seconds", "2", HintSeconds(2)},
		{"seconds with spaces", " 7 ", HintSeconds(7)},
		{"zero", "0", HintSeconds(0)},
		{"negative", "-4", NoHint},
		{"garbage", "soon", NoHint},
		{"http date", now.Add(10 * time.Second).Format(http.TimeFormat), HintSeconds(10)},
		{"http date in the past", now.Add(-time.Minute).Format(http.TimeFormat), HintSeconds(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %+v, want %+v", tt.value, got, tt.want)
			}
		})
	}
}
