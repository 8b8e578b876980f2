package pipeline

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultRetryConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 1 * time.Second},
		{attempt: 1, want: 1 * time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 16 * time.Second},
		{attempt: 6, want: 30 * time.Second},
		{attempt: 40, want: 30 * time.Second},
	}

	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	t.Log("✅ Backoff doubles from 1s and caps at 30s")
}

func TestCompose(t *testing.T) {
	got := Compose("  videoconvert ! fakesink ", Geometry{Width: 1920, Height: 1080}, Rate{Num: 30000, Den: 1001})
	want := "appsrc name=appsrc is-live=true leaky-type=downstream do-timestamp=true format=time" +
		" ! video/x-raw,format=BGRA,width=1920,height=1080,framerate=30000/1001,interlace-mode=progressive" +
		" ! videoconvert ! fakesink"
	if got != want {
		t.Errorf("Compose() =\n  %q\nwant\n  %q", got, want)
	}
}

func TestRetryConfig_WithDefaultsPerField(t *testing.T) {
	got := RetryConfig{MaxRetries: 1}.withDefaults()

	want := RetryConfig{
		MaxRetries:    1,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
		StableAfter:   30 * time.Second,
	}
	if got != want {
		t.Fatalf("withDefaults() = %+v, want %+v", got, want)
	}

	got = RetryConfig{RetryDelay: time.Minute}.withDefaults()
	if got.MaxRetries != 5 || got.MaxRetryDelay != time.Minute {
		t.Fatalf("withDefaults() = %+v, want 5 retries capped at 1m", got)
	}
	t.Log("✅ Zero retry fields default individually")
}
