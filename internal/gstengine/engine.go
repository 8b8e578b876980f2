// Package gstengine implements pipeline.Engine on GStreamer through go-gst.
package gstengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/devyx/gstoutfilter/internal/pipeline"
)

var initOnce sync.Once

// Init initializes GStreamer once per process.
func Init() {
	initOnce.Do(func() {
		gst.Init(nil)
		slog.Debug("gstengine: gstreamer initialized")
	})
}

// Engine builds GStreamer pipelines from launch descriptions.
type Engine struct{}

// New returns a GStreamer engine, initializing GStreamer if needed.
func New() *Engine {
	Init()
	return &Engine{}
}

// Build parses description with gst_parse_launch semantics. The returned
// pipeline is in the NULL state.
func (e *Engine) Build(description string) (pipeline.Handle, error) {
	p, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("failed to parse launch description: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &handle{
		pipeline: p,
		faults:   make(chan error, 4),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

type handle struct {
	pipeline *gst.Pipeline
	faults   chan error

	ctx         context.Context
	cancel      context.CancelFunc
	monitorOnce sync.Once
	wg          sync.WaitGroup

	mu       sync.Mutex
	released bool
}

func (h *handle) SetState(s pipeline.State) error {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return pipeline.ErrReleased
	}

	if s == pipeline.StatePlaying {
		h.monitorOnce.Do(func() {
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				monitorBus(h.ctx, h.pipeline, h.faults)
			}()
		})
	}

	if err := h.pipeline.SetState(toGst(s)); err != nil {
		return fmt.Errorf("failed to set pipeline to %s: %w", s, err)
	}
	return nil
}

func (h *handle) Endpoint(name string) (pipeline.Endpoint, error) {
	elem, err := h.element(name)
	if err != nil {
		return nil, err
	}

	return &endpoint{src: app.SrcFromElement(elem)}, nil
}

func (h *handle) Tap(name string, fn pipeline.SampleFunc) error {
	elem, err := h.element(name)
	if err != nil {
		return err
	}

	sink := app.SinkFromElement(elem)
	// Never stall the pipeline on a slow consumer.
	if err := sink.SetProperty("drop", true); err != nil {
		slog.Debug("gstengine: appsink drop not set", "sink", name, "error", err)
	}
	if err := sink.SetProperty("max-buffers", uint(2)); err != nil {
		slog.Debug("gstengine: appsink max-buffers not set", "sink", name, "error", err)
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return onNewSample(s, fn)
		},
	})
	return nil
}

func (h *handle) Faults() <-chan error {
	return h.faults
}

// Release stops bus monitoring. Native resources are reclaimed by go-gst
// finalizers once the pipeline is in the NULL state.
func (h *handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	return nil
}

func (h *handle) element(name string) (*gst.Element, error) {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, pipeline.ErrReleased
	}

	elem, err := h.pipeline.GetElementByName(name)
	if err != nil || elem == nil {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrNoElement, name)
	}
	return elem, nil
}

type endpoint struct {
	src *app.Source
}

func (ep *endpoint) Push(data []byte) error {
	// NewBufferFromBytes copies data into GStreamer-owned memory.
	ret := ep.src.PushBuffer(gst.NewBufferFromBytes(data))
	if ret != gst.FlowOK {
		return fmt.Errorf("appsrc push: %v", ret)
	}
	return nil
}

func toGst(s pipeline.State) gst.State {
	switch s {
	case pipeline.StateReady:
		return gst.StateReady
	case pipeline.StatePaused:
		return gst.StatePaused
	case pipeline.StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}
