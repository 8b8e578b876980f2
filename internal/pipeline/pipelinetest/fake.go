// Package pipelinetest provides an in-memory pipeline.Engine for tests.
//
// The fake understands launch descriptions at the level the filter uses
// them: "!"-separated segments, each either a caps string (contains "/") or
// a known element factory followed by key=value properties.
package pipelinetest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/devyx/gstoutfilter/internal/pipeline"
)

// DefaultFactories are the element factories the fake accepts.
var DefaultFactories = []string{
	"appsrc", "appsink", "fakesink", "autovideosink", "videoconvert",
	"videoscale", "videorate", "queue", "identity", "capsfilter", "tee",
	"x264enc", "flvmux", "rtmpsink", "filesink",
}

// FakeEngine records every build and tracks live handles.
type FakeEngine struct {
	// Loopback makes pushes on a playing pipeline reappear on its
	// "filterout" tap, like `... ! appsink name=filterout`.
	Loopback bool
	// FailPlay makes SetState(StatePlaying) fail.
	FailPlay bool

	mu        sync.Mutex
	factories map[string]bool
	builds    []string
	handles   []*FakeHandle
	live      int
	maxLive   int
}

// NewFakeEngine returns an engine that accepts DefaultFactories.
func NewFakeEngine() *FakeEngine {
	e := &FakeEngine{factories: make(map[string]bool)}
	for _, f := range DefaultFactories {
		e.factories[f] = true
	}
	return e
}

// Build parses description and returns a handle in the NULL state.
func (e *FakeEngine) Build(description string) (pipeline.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.builds = append(e.builds, description)

	h := &FakeHandle{
		engine:      e,
		description: description,
		sources:     make(map[string]bool),
		sinks:       make(map[string]bool),
		taps:        make(map[string]pipeline.SampleFunc),
		faults:      make(chan error, 8),
	}

	for i, seg := range strings.Split(description, "!") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, fmt.Errorf("syntax error: empty link at segment %d", i)
		}
		fields := strings.Fields(seg)
		factory := fields[0]
		if strings.Contains(factory, "/") {
			continue
		}
		if !e.factories[factory] {
			return nil, fmt.Errorf("no element %q", factory)
		}

		name := ""
		for _, kv := range fields[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("syntax error: %q in %q", kv, factory)
			}
			if k == "name" {
				name = v
			}
		}
		switch factory {
		case "appsrc":
			h.sources[name] = true
		case "appsink":
			h.sinks[name] = true
		}
	}

	e.handles = append(e.handles, h)
	e.live++
	if e.live > e.maxLive {
		e.maxLive = e.live
	}
	return h, nil
}

// Builds returns every description passed to Build, including failed ones.
func (e *FakeEngine) Builds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.builds...)
}

// Live returns the number of built, unreleased handles.
func (e *FakeEngine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

// MaxLive returns the highest Live value observed.
func (e *FakeEngine) MaxLive() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxLive
}

// Handles returns every successfully built handle, oldest first.
func (e *FakeEngine) Handles() []*FakeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeHandle(nil), e.handles...)
}

// Last returns the most recently built handle, or nil.
func (e *FakeEngine) Last() *FakeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.handles) == 0 {
		return nil
	}
	return e.handles[len(e.handles)-1]
}

// FakeHandle is one fake pipeline.
type FakeHandle struct {
	engine      *FakeEngine
	description string
	sources     map[string]bool
	sinks       map[string]bool
	faults      chan error

	mu       sync.Mutex
	state    pipeline.State
	released bool
	taps     map[string]pipeline.SampleFunc
	pushes   [][]byte
	// States records every successful SetState in order.
	states []pipeline.State
}

// SetState implements pipeline.Handle.
func (h *FakeHandle) SetState(s pipeline.State) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return pipeline.ErrReleased
	}
	if s == pipeline.StatePlaying && h.engine.FailPlay {
		return fmt.Errorf("state change to %s failed", s)
	}
	h.state = s
	h.states = append(h.states, s)
	return nil
}

// Endpoint implements pipeline.Handle.
func (h *FakeHandle) Endpoint(name string) (pipeline.Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil, pipeline.ErrReleased
	}
	if !h.sources[name] {
		return nil, pipeline.ErrNoElement
	}
	return &fakeEndpoint{h: h}, nil
}

// Tap implements pipeline.Handle.
func (h *FakeHandle) Tap(name string, fn pipeline.SampleFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return pipeline.ErrReleased
	}
	if !h.sinks[name] {
		return pipeline.ErrNoElement
	}
	h.taps[name] = fn
	return nil
}

// Faults implements pipeline.Handle.
func (h *FakeHandle) Faults() <-chan error {
	return h.faults
}

// Release implements pipeline.Handle.
func (h *FakeHandle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.taps = map[string]pipeline.SampleFunc{}
	h.mu.Unlock()

	h.engine.mu.Lock()
	h.engine.live--
	h.engine.mu.Unlock()
	return nil
}

// InjectFault queues an asynchronous pipeline error.
func (h *FakeHandle) InjectFault(err error) {
	h.faults <- err
}

// Emit delivers data on the named tap, as if the sink produced a sample.
// Returns false if no tap is installed.
func (h *FakeHandle) Emit(name string, data []byte) bool {
	h.mu.Lock()
	fn := h.taps[name]
	h.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(data)
	return true
}

// Description returns the description the handle was built from.
func (h *FakeHandle) Description() string { return h.description }

// State returns the last state set.
func (h *FakeHandle) State() pipeline.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// States returns the state history.
func (h *FakeHandle) States() []pipeline.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]pipeline.State(nil), h.states...)
}

// Released reports whether Release was called.
func (h *FakeHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Pushes returns copies of every frame pushed.
func (h *FakeHandle) Pushes() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.pushes...)
}

// PushCount returns the number of frames pushed.
func (h *FakeHandle) PushCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pushes)
}

type fakeEndpoint struct {
	h *FakeHandle
}

func (ep *fakeEndpoint) Push(data []byte) error {
	h := ep.h
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return pipeline.ErrReleased
	}
	if h.state != pipeline.StatePlaying {
		h.mu.Unlock()
		return fmt.Errorf("push in state %s", h.state)
	}
	cp := append([]byte(nil), data...)
	h.pushes = append(h.pushes, cp)
	tap := h.taps[pipeline.OutputName]
	h.mu.Unlock()

	if h.engine.Loopback && tap != nil {
		tap(cp)
	}
	return nil
}
