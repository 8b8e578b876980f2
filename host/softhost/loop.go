package softhost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devyx/gstoutfilter/host"
)

// RenderLoop is a host.RenderCallbacks + host.VideoInfo implementation that
// drives registered callbacks once per tick.
//
// The callback table is guarded by an RWMutex held (read side) for the whole
// tick, so RemoveMainRenderCallback blocks until an in-flight tick finishes.
// Calling Add/Remove from inside a callback deadlocks.
type RenderLoop struct {
	mu        sync.RWMutex
	callbacks map[string]host.RenderFunc

	rateMu sync.RWMutex
	rate   host.FrameRate

	canvasW uint32
	canvasH uint32

	ticks atomic.Uint64
}

// NewRenderLoop creates a loop with the given base canvas size and frame rate.
func NewRenderLoop(canvasW, canvasH uint32, rate host.FrameRate) *RenderLoop {
	return &RenderLoop{
		callbacks: make(map[string]host.RenderFunc),
		rate:      rate,
		canvasW:   canvasW,
		canvasH:   canvasH,
	}
}

// AddMainRenderCallback implements host.RenderCallbacks.
func (l *RenderLoop) AddMainRenderCallback(id string, fn host.RenderFunc) {
	l.mu.Lock()
	l.callbacks[id] = fn
	l.mu.Unlock()
}

// RemoveMainRenderCallback implements host.RenderCallbacks.
func (l *RenderLoop) RemoveMainRenderCallback(id string) {
	l.mu.Lock()
	delete(l.callbacks, id)
	l.mu.Unlock()
}

// Registered reports whether a callback with id is registered.
func (l *RenderLoop) Registered(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.callbacks[id]
	return ok
}

// VideoFrameRate implements host.VideoInfo.
func (l *RenderLoop) VideoFrameRate() host.FrameRate {
	l.rateMu.RLock()
	defer l.rateMu.RUnlock()
	return l.rate
}

// SetFrameRate changes the global frame rate.
func (l *RenderLoop) SetFrameRate(rate host.FrameRate) {
	l.rateMu.Lock()
	l.rate = rate
	l.rateMu.Unlock()
}

// Ticks returns the number of completed ticks.
func (l *RenderLoop) Ticks() uint64 {
	return l.ticks.Load()
}

// Tick runs every registered callback once, in id order.
func (l *RenderLoop) Tick() {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.callbacks))
	for id := range l.callbacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		l.callbacks[id](l.canvasW, l.canvasH)
	}
	l.ticks.Add(1)
}

// Run ticks at the configured frame rate until ctx is cancelled.
// onTick, if non-nil, runs after each tick outside the callback lock.
func (l *RenderLoop) Run(ctx context.Context, onTick func(n uint64)) error {
	rate := l.VideoFrameRate()
	if !rate.Valid() {
		return fmt.Errorf("softhost: invalid frame rate %d/%d", rate.Num, rate.Den)
	}
	interval := time.Duration(float64(time.Second) / rate.FPS())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			l.Tick()
			if onTick != nil {
				onTick(l.Ticks())
			}
		}
	}
}

// Settings is an in-memory host.Settings / host.DefaultSettings store.
type Settings struct {
	mu       sync.RWMutex
	values   map[string]string
	defaults map[string]string
}

// NewSettings creates a store pre-filled with values.
func NewSettings(values map[string]string) *Settings {
	s := &Settings{
		values:   make(map[string]string, len(values)),
		defaults: make(map[string]string),
	}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// String implements host.Settings. Unset keys fall back to their default.
func (s *Settings) String(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return s.defaults[key]
}

// Set stores a value.
func (s *Settings) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// SetDefaultString implements host.DefaultSettings.
func (s *Settings) SetDefaultString(key, value string) {
	s.mu.Lock()
	s.defaults[key] = value
	s.mu.Unlock()
}

// Registrar records registered source types.
type Registrar struct {
	mu      sync.Mutex
	sources map[string]host.SourceInfo
}

// NewRegistrar creates an empty registrar.
func NewRegistrar() *Registrar {
	return &Registrar{sources: make(map[string]host.SourceInfo)}
}

// RegisterSource implements host.Registrar.
func (r *Registrar) RegisterSource(info host.SourceInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.ID == "" {
		return errors.New("softhost: source id is required")
	}
	if _, ok := r.sources[info.ID]; ok {
		return fmt.Errorf("softhost: source %q already registered", info.ID)
	}
	r.sources[info.ID] = info
	return nil
}

// Lookup returns a registered source type.
func (r *Registrar) Lookup(id string) (host.SourceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sources[id]
	return info, ok
}
