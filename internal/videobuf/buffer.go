// Package videobuf implements the bounded frame buffer that decouples the
// synchronous render tick from asynchronous frame consumers.
//
// Philosophy: "Drop frames, never block the render thread."
//
// Design:
//   - Fixed geometry: every frame is Width×Height BGRA, allocated once at Open
//   - Bounded depth: at most Depth frames queued; a full queue drops its oldest
//   - Lock/Unlock write side (the producer fills a slot in place, no copies)
//   - Next(timeout) pull side with a bounded wait, or Connect(fn) push side
//     driven by one delivery goroutine
//   - Recreate on resize: a Buffer never changes geometry, callers Close and
//     Open a new one
package videobuf

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// BytesPerPixel is the size of one BGRA pixel.
const BytesPerPixel = 4

var (
	// ErrClosed is returned by operations on a closed buffer.
	ErrClosed = errors.New("videobuf: buffer closed")

	// ErrInvalidGeometry is returned by Open for zero sizes or depth.
	ErrInvalidGeometry = errors.New("videobuf: invalid geometry")

	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("videobuf: consumer already connected")
)

// Info describes a buffer.
type Info struct {
	// Name is used in logs only.
	Name   string
	Width  uint32
	Height uint32
	// Depth is the maximum number of queued (published, unconsumed) frames.
	Depth int
}

// Frame is one BGRA frame slot owned by a Buffer.
//
// OWNERSHIP CONTRACT:
//   - Between LockFrame and UnlockFrame the producer may write Data
//   - Between Next and Release the consumer may read Data
//   - After Release/Unlock the slot is recycled; do not retain Data
type Frame struct {
	Data      []byte
	Linesize  uint32
	Width     uint32
	Height    uint32
	Seq       uint64
	Timestamp time.Time
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	// Published counts UnlockFrame calls.
	Published uint64
	// Consumed counts frames handed out by Next (or to the connected consumer).
	Consumed uint64
	// Dropped counts queued frames discarded because the queue was full.
	Dropped uint64
	// Queued is the current queue length.
	Queued int
}

// Buffer is a bounded, drop-oldest frame queue with fixed geometry.
//
// Thread-safety: one producer (LockFrame/UnlockFrame) and one consumer
// (Next/Release or Connect) may run concurrently.
type Buffer struct {
	info Info

	mu     sync.Mutex
	free   []*Frame // recycled slots
	queue  []*Frame // FIFO of published frames, len ≤ Depth
	locked *Frame   // slot held by the producer
	closed bool

	notify chan struct{} // 1-slot wakeup for waiting consumers
	done   chan struct{} // closed by Close

	seq       uint64
	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64

	connected bool
	wg        sync.WaitGroup
}

// Open allocates a buffer. All slots are allocated up front: Depth queued
// frames, one held by the producer and one held by the consumer.
func Open(info Info) (*Buffer, error) {
	if info.Width == 0 || info.Height == 0 || info.Depth < 1 {
		return nil, fmt.Errorf("%w: %dx%d depth=%d", ErrInvalidGeometry, info.Width, info.Height, info.Depth)
	}

	linesize := info.Width * BytesPerPixel
	slots := info.Depth + 2

	b := &Buffer{
		info:   info,
		free:   make([]*Frame, 0, slots),
		queue:  make([]*Frame, 0, info.Depth),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := 0; i < slots; i++ {
		b.free = append(b.free, &Frame{
			Data:     make([]byte, int(linesize)*int(info.Height)),
			Linesize: linesize,
			Width:    info.Width,
			Height:   info.Height,
		})
	}
	return b, nil
}

// Info returns the buffer description.
func (b *Buffer) Info() Info {
	return b.info
}

// LockFrame hands the producer a writable slot (non-blocking).
//
// If every slot is in use the oldest queued frame is dropped to make room.
// Returns false if the buffer is closed or the producer already holds a slot.
func (b *Buffer) LockFrame() (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.locked != nil {
		return nil, false
	}

	if len(b.free) == 0 {
		if len(b.queue) == 0 {
			// Only possible if the consumer leaked slots.
			return nil, false
		}
		b.free = append(b.free, b.queue[0])
		b.queue = b.queue[1:]
		b.dropped.Add(1)
	}

	n := len(b.free)
	f := b.free[n-1]
	b.free = b.free[:n-1]
	b.locked = f
	return f, true
}

// UnlockFrame publishes the slot obtained from LockFrame.
//
// A full queue drops its oldest frame. Publishing to a closed buffer recycles
// the slot silently.
func (b *Buffer) UnlockFrame() {
	b.mu.Lock()

	f := b.locked
	if f == nil {
		b.mu.Unlock()
		return
	}
	b.locked = nil

	if b.closed {
		b.free = append(b.free, f)
		b.mu.Unlock()
		return
	}

	if len(b.queue) == b.info.Depth {
		b.free = append(b.free, b.queue[0])
		b.queue = b.queue[1:]
		b.dropped.Add(1)
	}

	b.seq++
	f.Seq = b.seq
	f.Timestamp = time.Now()
	b.queue = append(b.queue, f)
	b.published.Add(1)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// CancelFrame returns a locked slot without publishing it.
func (b *Buffer) CancelFrame() {
	b.mu.Lock()
	if b.locked != nil {
		b.free = append(b.free, b.locked)
		b.locked = nil
	}
	b.mu.Unlock()
}

// Next returns the oldest queued frame, waiting up to timeout.
//
// timeout == 0 polls, timeout < 0 waits until a frame arrives or the buffer
// closes. The caller must Release the frame.
func (b *Buffer) Next(timeout time.Duration) (*Frame, bool) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			f := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			b.consumed.Add(1)
			return f, true
		}
		closed := b.closed
		b.mu.Unlock()

		if closed || timeout == 0 {
			return nil, false
		}

		select {
		case <-b.notify:
		case <-b.done:
		case <-deadline:
			return nil, false
		}
	}
}

// Release returns a frame obtained from Next to the pool.
func (b *Buffer) Release(f *Frame) {
	if f == nil {
		return
	}
	b.mu.Lock()
	b.free = append(b.free, f)
	b.mu.Unlock()
}

// Connect starts one delivery goroutine that calls fn for every published
// frame, in order. fn must not retain the frame. The goroutine exits on Close.
func (b *Buffer) Connect(fn func(*Frame)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.connected {
		return ErrAlreadyConnected
	}
	b.connected = true

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			f, ok := b.Next(-1)
			if !ok {
				return
			}
			fn(f)
			b.Release(f)
		}
	}()
	return nil
}

// Close discards queued frames, stops the delivery goroutine and waits for
// it to exit. Idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.free = append(b.free, b.queue...)
	b.queue = b.queue[:0]
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
}

// Closed reports whether Close was called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Stats returns a counter snapshot.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	queued := len(b.queue)
	b.mu.Unlock()

	return Stats{
		Published: b.published.Load(),
		Consumed:  b.consumed.Load(),
		Dropped:   b.dropped.Load(),
		Queued:    queued,
	}
}
