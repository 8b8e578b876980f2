package ratestats

import (
	"math"
	"testing"
	"time"
)

func TestCompute(t *testing.T) {
	start := time.Unix(0, 0)
	steady := make([]time.Time, 30)
	for i := range steady {
		steady[i] = start.Add(time.Duration(i) * 33333333 * time.Nanosecond)
	}

	tests := []struct {
		name       string
		times      []time.Time
		duration   time.Duration
		wantFPS    float64
		wantStable bool
	}{
		{name: "no frames", times: nil, duration: time.Second, wantFPS: 0},
		{name: "single frame", times: steady[:1], duration: time.Second, wantFPS: 1},
		{name: "steady 30fps", times: steady, duration: time.Second, wantFPS: 30, wantStable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Compute(tt.times, tt.duration)
			if math.Abs(s.FPSMean-tt.wantFPS) > 0.5 {
				t.Errorf("FPSMean = %.2f, want %.2f", s.FPSMean, tt.wantFPS)
			}
			if s.IsStable != tt.wantStable {
				t.Errorf("IsStable = %v, want %v (stddev=%.2f jitter=%.4f)",
					s.IsStable, tt.wantStable, s.FPSStdDev, s.JitterMean)
			}
		})
	}
}

func TestCompute_Bursty(t *testing.T) {
	start := time.Unix(0, 0)
	// Pairs of frames 1ms apart every 100ms.
	var times []time.Time
	for i := 0; i < 10; i++ {
		base := start.Add(time.Duration(i) * 100 * time.Millisecond)
		times = append(times, base, base.Add(time.Millisecond))
	}

	s := Compute(times, time.Second)
	if s.IsStable {
		t.Errorf("bursty stream reported stable: %+v", s)
	}
	if s.FPSMax < 900 {
		t.Errorf("FPSMax = %.1f, want ~1000", s.FPSMax)
	}
}

func TestWindow_Snapshot(t *testing.T) {
	w := NewWindow(10)
	start := time.Unix(100, 0)

	if s := w.Snapshot(start); s.Frames != 0 {
		t.Fatalf("empty window Frames = %d", s.Frames)
	}

	for i := 0; i < 25; i++ {
		w.Mark(start.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	now := start.Add(2500 * time.Millisecond)

	s := w.Snapshot(now)
	if s.Frames != 10 {
		t.Errorf("Frames = %d, want 10 (window size)", s.Frames)
	}
	if math.Abs(s.FPSMean-10) > 0.5 {
		t.Errorf("FPSMean = %.2f, want ~10", s.FPSMean)
	}

	// Stalled: same frames, much later.
	if late := w.Snapshot(now.Add(10 * time.Second)); late.FPSMean >= s.FPSMean {
		t.Errorf("stalled FPSMean %.2f did not decay below %.2f", late.FPSMean, s.FPSMean)
	}

	w.Reset()
	if s := w.Snapshot(now); s.Frames != 0 {
		t.Errorf("after Reset Frames = %d", s.Frames)
	}
	t.Log("✅ Window tracks the last N frames and decays when stalled")
}
