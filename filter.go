package gstoutfilter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devyx/gstoutfilter/host"
	"github.com/devyx/gstoutfilter/internal/framebus"
	"github.com/devyx/gstoutfilter/internal/pipeline"
	"github.com/devyx/gstoutfilter/internal/relay"
	"github.com/devyx/gstoutfilter/internal/staging"
	"github.com/devyx/gstoutfilter/internal/videobuf"
)

// Filter is one filter instance attached to a host source.
//
// Created on attach with unknown geometry and no pipeline; restaged every
// render tick; rebuilt after settings updates, geometry changes and pipeline
// faults; destroyed on detach.
type Filter struct {
	id        string
	name      string
	source    host.FilterSource
	callbacks host.RenderCallbacks
	video     host.VideoInfo
	timeout   time.Duration

	manager *pipeline.Manager
	relay   *relay.Relay
	bus     *framebus.Bus

	mu             sync.Mutex
	stager         *staging.Stager
	width, height  uint32
	rate           host.FrameRate
	description    string
	pendingRebuild bool
	input          *videobuf.Buffer
	ret            *videobuf.Buffer
	output         *videobuf.Frame
	outputValid    bool
	destroyed      bool

	ticks          uint64
	idleTicks      uint64
	staged         uint64
	rebuilds       uint64
	resourceErrors uint64
	readbacks      uint64
	staleTicks     uint64
}

// NewFilter creates a filter for source and applies settings, which
// registers the render callback.
//
// Returns ErrMissingCollaborator if a required Options field is nil, or a
// wrapped staging.ErrAllocation if the render target cannot be created. An
// invalid description is not an error here: it is logged and the filter runs
// without a pipeline.
func NewFilter(settings host.Settings, source host.FilterSource, opts Options) (*Filter, error) {
	if source == nil || opts.Engine == nil || opts.Graphics == nil || opts.Callbacks == nil || opts.Video == nil {
		return nil, ErrMissingCollaborator
	}
	if opts.RetrieveTimeout <= 0 {
		opts.RetrieveTimeout = DefaultRetrieveTimeout
	}

	stager, err := staging.New(opts.Graphics)
	if err != nil {
		return nil, fmt.Errorf("gst-out-filter: %w", err)
	}

	f := &Filter{
		id:        uuid.NewString(),
		name:      source.Name(),
		source:    source,
		callbacks: opts.Callbacks,
		video:     opts.Video,
		timeout:   opts.RetrieveTimeout,
		bus:       framebus.New(),
		stager:    stager,
		rate:      opts.Video.VideoFrameRate(),
	}
	f.manager = pipeline.NewManager(opts.Engine, pipeline.Config{
		Name:  f.name,
		Retry: opts.Retry,
		// Streaming thread; only touches the return buffer.
		OnSample: func(sample []byte) { f.relay.Receive(sample) },
	})
	f.relay = relay.New(f.name, f.manager)

	slog.Info("gst-out-filter: created", "filter", f.name, "id", f.id)

	if err := f.Update(settings); err != nil && !pipeline.IsBuildError(err) {
		f.Destroy()
		return nil, err
	}
	return f, nil
}

// ID returns the instance id, also used as the render callback id.
func (f *Filter) ID() string { return f.id }

// Name returns the owning source's name.
func (f *Filter) Name() string { return f.name }

// Update applies new settings: the running pipeline is stopped, the
// description is validated with a disposable build, and a real rebuild is
// flagged for the next tick, when geometry is known.
//
// The render callback is removed for the duration of the update, which
// serializes it with render ticks. The returned error is informational
// (*pipeline.BuildError for a rejected description); the filter keeps
// running either way.
func (f *Filter) Update(settings host.Settings) error {
	f.callbacks.RemoveMainRenderCallback(f.id)

	f.mu.Lock()
	if f.destroyed {
		f.mu.Unlock()
		return ErrDestroyed
	}

	f.description = settings.String(SettingPipeline)
	slog.Info("gst-out-filter: update",
		"filter", f.name,
		"description", f.description,
	)

	// Stop the running pipeline before the validation build so at most one
	// pipeline exists at any time.
	f.manager.Teardown()

	err := f.manager.Validate(f.description, f.geometry(), f.pipelineRate())
	if errors.Is(err, pipeline.ErrEmptyDescription) {
		slog.Info("gst-out-filter: no pipeline configured", "filter", f.name)
	}

	f.manager.ResetRetries()
	f.pendingRebuild = true
	f.mu.Unlock()

	f.callbacks.AddMainRenderCallback(f.id, f.OffscreenRender)
	return err
}

// OffscreenRender is the per-tick render callback. It never blocks beyond
// the bounded readback wait.
func (f *Filter) OffscreenRender(cx, cy uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return
	}
	f.ticks++

	parent := f.source.Parent()
	if parent == nil {
		f.idleTicks++
		return
	}
	width, height := parent.BaseSize()
	if width == 0 || height == 0 {
		f.idleTicks++
		return
	}

	if f.manager.PollFault() {
		f.relay.Reset()
	}
	if f.manager.RetryDue() {
		slog.Info("gst-out-filter: retrying pipeline after fault", "filter", f.name)
		f.pendingRebuild = true
	}

	if width != f.width || height != f.height || f.pendingRebuild {
		if err := f.reconfigure(width, height); err != nil {
			f.resourceErrors++
			slog.Warn("gst-out-filter: reconfigure failed, retrying next tick",
				"filter", f.name,
				"width", width,
				"height", height,
				"error", err,
			)
			return
		}
	}

	if f.manager.Active() {
		f.stage(parent)
	} else {
		f.idleTicks++
	}
	f.retrieve()
}

// reconfigure recreates every geometry-bound resource together and rebuilds
// the pipeline. On error pendingRebuild stays set and known geometry is
// unchanged, so the next tick retries.
func (f *Filter) reconfigure(width, height uint32) error {
	f.pendingRebuild = true

	if err := f.stager.Resize(width, height); err != nil {
		return err
	}

	// Stop deliveries before the pipeline they feed goes away.
	f.closeBuffers()

	input, err := videobuf.Open(videobuf.Info{Name: f.name + "/input", Width: width, Height: height, Depth: InputDepth})
	if err != nil {
		return err
	}
	ret, err := videobuf.Open(videobuf.Info{Name: f.name + "/return", Width: width, Height: height, Depth: ReturnDepth})
	if err != nil {
		input.Close()
		return err
	}
	if err := input.Connect(f.relay.Push); err != nil {
		input.Close()
		ret.Close()
		return err
	}
	f.input = input
	f.ret = ret

	f.output = &videobuf.Frame{
		Data:     make([]byte, int(width)*videobuf.BytesPerPixel*int(height)),
		Linesize: width * videobuf.BytesPerPixel,
		Width:    width,
		Height:   height,
	}
	f.outputValid = false

	f.width, f.height = width, height
	f.pendingRebuild = false
	f.rebuilds++
	f.relay.Reset()

	// A rejected description is a configuration error: logged by the
	// manager, no retry until the next update.
	_ = f.manager.Rebuild(f.description, f.geometry(), f.pipelineRate())

	// Attached after the old pipeline is gone so no sample of the previous
	// geometry lands in the new buffer.
	f.relay.SetReturn(ret)

	slog.Info("gst-out-filter: reconfigured",
		"filter", f.name,
		"width", width,
		"height", height,
		"active", f.manager.Active(),
	)
	return nil
}

// stage renders the parent and publishes it to the input buffer. A full
// buffer drops its oldest frame.
func (f *Filter) stage(parent host.Source) {
	if err := f.stager.Render(parent, f.width, f.height); err != nil {
		f.resourceErrors++
		slog.Warn("gst-out-filter: render failed", "filter", f.name, "error", err)
		return
	}

	slot, ok := f.input.LockFrame()
	if !ok {
		return
	}
	if err := f.stager.Download(slot.Data, slot.Linesize); err != nil {
		f.input.CancelFrame()
		f.resourceErrors++
		slog.Warn("gst-out-filter: staging download failed", "filter", f.name, "error", err)
		return
	}
	f.input.UnlockFrame()
	f.staged++
}

// retrieve copies the newest readback frame into the output frame. On
// timeout the previous output is kept as is.
func (f *Filter) retrieve() {
	if f.output == nil {
		return
	}
	if !f.relay.Retrieve(f.output, f.timeout) {
		f.staleTicks++
		return
	}
	f.readbacks++
	f.outputValid = true

	if f.bus.HasSubscribers() {
		f.bus.Publish(Frame{
			Data:      append([]byte(nil), f.output.Data...),
			Width:     f.output.Width,
			Height:    f.output.Height,
			Linesize:  f.output.Linesize,
			Seq:       f.output.Seq,
			Timestamp: f.output.Timestamp,
			Source:    f.name,
			TraceID:   uuid.NewString(),
		})
	}
}

// Tick refreshes the host frame rate. A changed rate flags a rebuild so the
// pipeline caps follow it.
func (f *Filter) Tick(seconds float32) {
	rate := f.video.VideoFrameRate()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed || rate == f.rate {
		return
	}
	slog.Info("gst-out-filter: frame rate changed",
		"filter", f.name,
		"from", fmt.Sprintf("%d/%d", f.rate.Num, f.rate.Den),
		"to", fmt.Sprintf("%d/%d", rate.Num, rate.Den),
	)
	f.rate = rate
	if f.width != 0 {
		f.pendingRebuild = true
	}
}

// VideoRender draws the filter in the host compositor: the parent passes
// through unchanged.
func (f *Filter) VideoRender() {
	f.source.SkipVideoFilter()
}

// Destroy tears the filter down in dependency order: render callback, input
// buffer (joining its delivery goroutine), pipeline, return buffer, staging
// resources. Idempotent.
func (f *Filter) Destroy() {
	f.callbacks.RemoveMainRenderCallback(f.id)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return
	}
	f.destroyed = true

	if f.input != nil {
		f.input.Close()
		f.input = nil
	}
	f.manager.Teardown()
	f.relay.SetReturn(nil)
	if f.ret != nil {
		f.ret.Close()
		f.ret = nil
	}
	f.stager.Destroy()
	f.bus.Close()

	slog.Info("gst-out-filter: destroyed",
		"filter", f.name,
		"id", f.id,
		"ticks", f.ticks,
		"rebuilds", f.rebuilds,
	)
}

// Output returns a copy of the last readback frame. ok is false until the
// pipeline has returned a frame at the current geometry.
func (f *Filter) Output() (frame Frame, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.output == nil || !f.outputValid {
		return Frame{}, false
	}
	return Frame{
		Data:      append([]byte(nil), f.output.Data...),
		Width:     f.output.Width,
		Height:    f.output.Height,
		Linesize:  f.output.Linesize,
		Seq:       f.output.Seq,
		Timestamp: f.output.Timestamp,
		Source:    f.name,
	}, true
}

// SubscribeOutput delivers readback frames to ch. Frames are dropped when ch
// is full.
func (f *Filter) SubscribeOutput(id string, ch chan<- Frame) error {
	return f.bus.Subscribe(id, ch)
}

// SubscribeLatestOutput registers a subscriber that keeps only the newest
// readback frame. UnsubscribeOutput (or Destroy) closes it.
func (f *Filter) SubscribeLatestOutput(id string) (*LatestOutput, error) {
	return f.bus.SubscribeLatest(id)
}

// UnsubscribeOutput removes an output subscription.
func (f *Filter) UnsubscribeOutput(id string) error {
	return f.bus.Unsubscribe(id)
}

// Stats returns a snapshot of filter activity.
func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	rs := f.relay.Stats()
	s := Stats{
		ID:             f.id,
		Name:           f.name,
		Width:          f.width,
		Height:         f.height,
		FrameRate:      f.rate,
		Description:    f.description,
		Ticks:          f.ticks,
		IdleTicks:      f.idleTicks,
		StagedFrames:   f.staged,
		Rebuilds:       f.rebuilds,
		Recreations:    f.stager.Recreations(),
		ResourceErrors: f.resourceErrors,
		Readbacks:      f.readbacks,
		StaleTicks:     f.staleTicks,
		PushRate:       rs.PushRate,
		ReadbackRate:   rs.ReadbackRate,
		Pipeline:       f.manager.Stats(),
		Output:         f.bus.Stats(),
		Pushed:         rs.Pushed,
		PushFailed:     rs.PushFailed,
		ShortSamples:   rs.ShortSamples,
	}
	if f.input != nil {
		s.Input = f.input.Stats()
	}
	if f.ret != nil {
		s.Return = f.ret.Stats()
	}
	return s
}

func (f *Filter) closeBuffers() {
	if f.input != nil {
		f.input.Close()
		f.input = nil
	}
	f.relay.SetReturn(nil)
	if f.ret != nil {
		f.ret.Close()
		f.ret = nil
	}
}

func (f *Filter) geometry() pipeline.Geometry {
	return pipeline.Geometry{Width: f.width, Height: f.height}
}

func (f *Filter) pipelineRate() pipeline.Rate {
	return pipeline.Rate{Num: f.rate.Num, Den: f.rate.Den}
}
