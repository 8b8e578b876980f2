// Package relay moves frames between the filter and its pipeline: staged
// frames are pushed into the input endpoint, readback samples are queued in
// the return buffer and copied into the filter's output frame.
package relay

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/devyx/gstoutfilter/internal/pipeline"
	"github.com/devyx/gstoutfilter/internal/ratestats"
	"github.com/devyx/gstoutfilter/internal/staging"
	"github.com/devyx/gstoutfilter/internal/videobuf"
)

// rateWindow is the number of frames each FPS window covers.
const rateWindow = 120

// Pusher accepts raw frames; *pipeline.Manager implements it.
type Pusher interface {
	Push(data []byte) error
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Pushed       uint64 // frames accepted by the input endpoint
	PushSkipped  uint64 // frames delivered while no pipeline was playing
	PushFailed   uint64 // frames the endpoint rejected
	Received     uint64 // readback samples queued
	ShortSamples uint64 // readback samples smaller than one frame
	Rejected     uint64 // readback samples with no return buffer or slot
	Retrieved    uint64 // readback frames copied to the output
	PushRate     ratestats.Stats
	ReadbackRate ratestats.Stats
}

// Relay is safe for concurrent use: Push runs on the input buffer's delivery
// goroutine, Receive on an engine streaming thread, Retrieve on the render
// goroutine.
type Relay struct {
	name   string
	pusher Pusher
	ret    atomic.Pointer[videobuf.Buffer]

	pushed       atomic.Uint64
	pushSkipped  atomic.Uint64
	pushFailed   atomic.Uint64
	received     atomic.Uint64
	shortSamples atomic.Uint64
	rejected     atomic.Uint64
	retrieved    atomic.Uint64

	pushRate     *ratestats.Window
	readbackRate *ratestats.Window
}

// New returns a relay pushing into p.
func New(name string, p Pusher) *Relay {
	return &Relay{
		name:         name,
		pusher:       p,
		pushRate:     ratestats.NewWindow(rateWindow),
		readbackRate: ratestats.NewWindow(rateWindow),
	}
}

// SetReturn installs the buffer readback samples are queued into. nil
// detaches it; samples are then rejected.
func (r *Relay) SetReturn(b *videobuf.Buffer) {
	r.ret.Store(b)
}

// Push submits one staged frame. It is a no-op when no pipeline is playing.
// Failures are counted and logged at debug level, never returned: a dropped
// frame is not actionable by the render loop.
func (r *Relay) Push(f *videobuf.Frame) {
	data := f.Data[:int(f.Linesize)*int(f.Height)]

	err := r.pusher.Push(data)
	switch {
	case err == nil:
		r.pushed.Add(1)
		r.pushRate.Mark(time.Now())
	case errors.Is(err, pipeline.ErrNoEndpoint):
		r.pushSkipped.Add(1)
	default:
		r.pushFailed.Add(1)
		slog.Debug("relay: push failed",
			"filter", r.name,
			"seq", f.Seq,
			"error", err,
		)
	}
}

// Receive queues one readback sample. The sample stride is derived from its
// length: len(sample)/height, which must cover at least one BGRA row.
func (r *Relay) Receive(sample []byte) {
	b := r.ret.Load()
	if b == nil {
		r.rejected.Add(1)
		return
	}

	info := b.Info()
	rowBytes := info.Width * videobuf.BytesPerPixel
	stride := uint32(len(sample)) / info.Height
	if stride < rowBytes {
		r.shortSamples.Add(1)
		slog.Debug("relay: readback sample smaller than frame, dropping",
			"filter", r.name,
			"bytes", len(sample),
			"want", int(rowBytes)*int(info.Height),
		)
		return
	}

	slot, ok := b.LockFrame()
	if !ok {
		r.rejected.Add(1)
		return
	}
	staging.CopyRows(slot.Data, slot.Linesize, sample, stride, info.Height, rowBytes)
	b.UnlockFrame()

	r.received.Add(1)
	r.readbackRate.Mark(time.Now())
}

// Retrieve copies the newest queued readback frame into dst, waiting at most
// timeout for one to arrive. Older queued frames are discarded. On timeout,
// or if dst does not match the return buffer geometry, dst is untouched and
// Retrieve returns false.
func (r *Relay) Retrieve(dst *videobuf.Frame, timeout time.Duration) bool {
	b := r.ret.Load()
	if b == nil {
		return false
	}

	f, ok := b.Next(timeout)
	if !ok {
		return false
	}
	for {
		newer, ok := b.Next(0)
		if !ok {
			break
		}
		b.Release(f)
		f = newer
	}
	defer b.Release(f)

	if f.Width != dst.Width || f.Height != dst.Height {
		return false
	}

	staging.CopyRows(dst.Data, dst.Linesize, f.Data, f.Linesize, f.Height, f.Width*videobuf.BytesPerPixel)
	dst.Seq = f.Seq
	dst.Timestamp = f.Timestamp
	r.retrieved.Add(1)
	return true
}

// Reset clears rate windows, e.g. after a rebuild.
func (r *Relay) Reset() {
	r.pushRate.Reset()
	r.readbackRate.Reset()
}

// Stats returns a counter snapshot.
func (r *Relay) Stats() Stats {
	now := time.Now()
	return Stats{
		Pushed:       r.pushed.Load(),
		PushSkipped:  r.pushSkipped.Load(),
		PushFailed:   r.pushFailed.Load(),
		Received:     r.received.Load(),
		ShortSamples: r.shortSamples.Load(),
		Rejected:     r.rejected.Load(),
		Retrieved:    r.retrieved.Load(),
		PushRate:     r.pushRate.Snapshot(now),
		ReadbackRate: r.readbackRate.Snapshot(now),
	}
}
