package framebus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrBusClosed is returned by operations on a closed bus.
	ErrBusClosed = errors.New("framebus: bus is closed")
	// ErrSubscriberExists is returned when an id is already subscribed.
	ErrSubscriberExists = errors.New("framebus: subscriber already exists")
	// ErrSubscriberNotFound is returned for unknown ids.
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	// ErrNilChannel is returned by Subscribe with a nil channel.
	ErrNilChannel = errors.New("framebus: nil channel provided")
)

// DropPolicy defines what happens when a subscriber cannot keep up.
type DropPolicy int

const (
	// DropNew drops the incoming frame when the subscriber channel is full.
	DropNew DropPolicy = iota
	// DropOld replaces the held frame with the incoming one.
	DropOld
)

func (p DropPolicy) String() string {
	if p == DropOld {
		return "drop-old"
	}
	return "drop-new"
}

// Frame is one BGRA readback frame.
type Frame struct {
	Data      []byte
	Width     uint32
	Height    uint32
	Linesize  uint32
	Seq       uint64
	Timestamp time.Time
	// Source is the name of the filter that produced the frame.
	Source string
	// TraceID correlates the frame across logs.
	TraceID string
}

// SubscriberStats counts deliveries for one subscriber.
type SubscriberStats struct {
	Policy  DropPolicy
	Sent    uint64
	Dropped uint64
}

// Stats is a bus-wide snapshot.
type Stats struct {
	Published   uint64
	Subscribers map[string]SubscriberStats
}

type subscriber struct {
	policy  DropPolicy
	ch      chan<- Frame // DropNew
	latest  *Latest      // DropOld
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes frames to subscribers. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch with the DropNew policy.
func (b *Bus) Subscribe(id string, ch chan<- Frame) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber{policy: DropNew, ch: ch})
}

// SubscribeLatest registers a DropOld subscriber and returns its receiver.
func (b *Bus) SubscribeLatest(id string) (*Latest, error) {
	l := newLatest()
	if err := b.add(id, &subscriber{policy: DropOld, latest: l}); err != nil {
		return nil, err
	}
	return l, nil
}

func (b *Bus) add(id string, s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = s
	return nil
}

// HasSubscribers reports whether anyone is listening. Publishers use it to
// skip copying frames nobody will see.
func (b *Bus) HasSubscribers() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers) > 0
}

// Publish delivers frame to every subscriber without blocking. Publishing on
// a closed bus is a no-op.
func (b *Bus) Publish(frame Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- frame:
				s.sent.Add(1)
			default:
				s.dropped.Add(1)
			}
		case DropOld:
			if s.latest.set(frame) {
				s.dropped.Add(1)
			}
			s.sent.Add(1)
		}
	}
}

// Unsubscribe removes a subscriber. A DropOld receiver is closed; a DropNew
// channel is left to its owner.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns a snapshot of all counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		Published:   b.published.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		st.Subscribers[id] = SubscriberStats{
			Policy:  s.policy,
			Sent:    s.sent.Load(),
			Dropped: s.dropped.Load(),
		}
	}
	return st
}

// Close unsubscribes everyone. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}

// Latest holds the most recent frame for a DropOld subscriber.
type Latest struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool
}

func newLatest() *Latest {
	l := &Latest{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// set replaces the held frame; reports whether an unread frame was replaced.
func (l *Latest) set(frame Frame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	replaced := l.frame != nil
	l.frame = &frame
	l.cond.Broadcast()
	return replaced
}

// Receive blocks until a frame is available or the receiver is closed, and
// consumes it. ok is false once closed.
func (l *Latest) Receive() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.frame == nil && !l.closed {
		l.cond.Wait()
	}
	if l.frame == nil {
		return Frame{}, false
	}
	f := *l.frame
	l.frame = nil
	return f, true
}

// TryReceive consumes the held frame without blocking.
func (l *Latest) TryReceive() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frame == nil {
		return Frame{}, false
	}
	f := *l.frame
	l.frame = nil
	return f, true
}

// Close wakes blocked receivers.
func (l *Latest) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
}
