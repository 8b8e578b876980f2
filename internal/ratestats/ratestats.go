// Package ratestats measures frame rate and jitter over a sliding window of
// frame arrival times.
package ratestats

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of mean FPS. 30 FPS mean → stable if stddev < 4.5 FPS.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected interval. 30 FPS (33ms) → stable if jitter < 6.6ms.
	jitterStabilityThreshold = 0.20
)

// Stats summarizes a window of frame times.
type Stats struct {
	Frames       int
	Duration     time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
	JitterMax    float64 // seconds
	IsStable     bool
}

// Compute calculates FPS and jitter statistics from frame timestamps.
//
// Mean FPS is frames over totalDuration; min/max/stddev use instantaneous
// FPS per interval; jitter is the deviation of each interval from the
// expected one. Stable means stddev < 15% of mean and mean jitter < 20% of
// the expected interval.
func Compute(frameTimes []time.Time, totalDuration time.Duration) Stats {
	n := len(frameTimes)
	if n == 0 || totalDuration <= 0 {
		return Stats{Frames: n, Duration: totalDuration}
	}

	fpsMean := float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return Stats{Frames: n, Duration: totalDuration, FPSMean: fpsMean}
	}

	fpsMin, fpsMax := instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		fpsMin = math.Min(fpsMin, fps)
		fpsMax = math.Max(fpsMax, fps)
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / fpsMean
	jitters := make([]float64, 0, n-1)
	var jitterSum, jitterMax float64
	for i := 1; i < n; i++ {
		j := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	jitterMean := jitterSum / float64(len(jitters))

	var jitterSumSquares float64
	for _, j := range jitters {
		diff := j - jitterMean
		jitterSumSquares += diff * diff
	}

	return Stats{
		Frames:       n,
		Duration:     totalDuration,
		FPSMean:      fpsMean,
		FPSStdDev:    fpsStdDev,
		FPSMin:       fpsMin,
		FPSMax:       fpsMax,
		JitterMean:   jitterMean,
		JitterStdDev: math.Sqrt(jitterSumSquares / float64(len(jitters))),
		JitterMax:    jitterMax,
		IsStable: fpsStdDev < fpsMean*fpsStabilityThreshold &&
			jitterMean < expected*jitterStabilityThreshold,
	}
}

// Window keeps the arrival times of the last Size frames. Safe for
// concurrent use.
type Window struct {
	mu    sync.Mutex
	times []time.Time // ring
	next  int
	full  bool
}

// NewWindow returns a window of size frames (minimum 2).
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{times: make([]time.Time, size)}
}

// Mark records a frame arrival.
func (w *Window) Mark(t time.Time) {
	w.mu.Lock()
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.next == 0 {
		w.full = true
	}
	w.mu.Unlock()
}

// Reset forgets all recorded frames.
func (w *Window) Reset() {
	w.mu.Lock()
	w.next = 0
	w.full = false
	w.mu.Unlock()
}

// Snapshot computes Stats over the recorded frames. The duration runs from
// the oldest recorded frame to now, so a stalled stream decays toward 0 FPS.
func (w *Window) Snapshot(now time.Time) Stats {
	w.mu.Lock()
	var ordered []time.Time
	if w.full {
		ordered = make([]time.Time, 0, len(w.times))
		ordered = append(ordered, w.times[w.next:]...)
		ordered = append(ordered, w.times[:w.next]...)
	} else {
		ordered = append([]time.Time(nil), w.times[:w.next]...)
	}
	w.mu.Unlock()

	if len(ordered) < 2 {
		return Stats{Frames: len(ordered)}
	}
	return Compute(ordered, now.Sub(ordered[0]))
}
