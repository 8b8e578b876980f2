package gstoutfilter

import (
	"time"

	"github.com/devyx/gstoutfilter/host"
	"github.com/devyx/gstoutfilter/internal/framebus"
	"github.com/devyx/gstoutfilter/internal/pipeline"
	"github.com/devyx/gstoutfilter/internal/ratestats"
	"github.com/devyx/gstoutfilter/internal/videobuf"
)

const (
	// SourceID is the filter type id registered with the host.
	SourceID = "gst_out_filter"

	// SettingPipeline is the settings key holding the user description.
	SettingPipeline = "gst_out_filter_pipeline"

	// InputDepth is the number of staged frames queued for the pipeline.
	InputDepth = 16

	// ReturnDepth is the number of readback frames queued for the output.
	ReturnDepth = 4

	// DefaultRetrieveTimeout bounds the per-tick wait for a readback frame.
	DefaultRetrieveTimeout = time.Millisecond
)

// Frame is a BGRA readback frame. Data is shared: treat it as read-only.
type Frame = framebus.Frame

// LatestOutput holds the newest readback frame for a subscriber that only
// wants the most recent one; older unread frames are replaced.
type LatestOutput = framebus.Latest

// Options are the host collaborators and tunables for a Filter.
type Options struct {
	Engine    pipeline.Engine
	Graphics  host.Graphics
	Callbacks host.RenderCallbacks
	Video     host.VideoInfo

	// Retry controls pipeline fault recovery (zero value: defaults).
	Retry pipeline.RetryConfig
	// RetrieveTimeout bounds the per-tick readback wait
	// (zero: DefaultRetrieveTimeout).
	RetrieveTimeout time.Duration
}

// Stats is a snapshot of filter activity.
type Stats struct {
	ID          string
	Name        string
	Width       uint32
	Height      uint32
	FrameRate   host.FrameRate
	Description string

	Ticks          uint64 // render callbacks run
	IdleTicks      uint64 // ticks with no parent video or no pipeline
	StagedFrames   uint64 // frames published to the input buffer
	Rebuilds       uint64 // pipeline rebuilds attempted in ticks
	Recreations    uint64 // stage surface recreations
	ResourceErrors uint64 // ticks abandoned on allocation or staging errors
	Readbacks      uint64 // output frame updates
	StaleTicks     uint64 // ticks that kept the previous output

	PushRate     ratestats.Stats
	ReadbackRate ratestats.Stats

	Pipeline pipeline.Stats
	Input    videobuf.Stats
	Return   videobuf.Stats
	Output   framebus.Stats

	Pushed       uint64 // frames accepted by the pipeline input
	PushFailed   uint64
	ShortSamples uint64
}
