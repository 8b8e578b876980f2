// Package host declares the collaborators the filter needs from the
// live-production application that hosts it.
//
// The host owns the GPU, the render loop and the settings store. The filter
// core never calls the host directly; it goes through these interfaces so it
// can run against the real host adapter, the software host in
// host/softhost, or test doubles.
//
// Threading contract:
//   - Graphics, TexRender and StageSurface are only used from inside a render
//     callback (the host's graphics thread).
//   - RenderCallbacks.RemoveMainRenderCallback MUST NOT return while the
//     removed callback is executing. The filter relies on this to serialise
//     settings updates and teardown with render ticks.
package host

// ColorFormat is the pixel layout of a render target or stage surface.
type ColorFormat int

const (
	// FormatBGRA is 8-bit BGRA, 4 bytes per pixel.
	FormatBGRA ColorFormat = iota
	// FormatRGBA is 8-bit RGBA, 4 bytes per pixel.
	FormatRGBA
)

// String returns a human-readable name for the format.
func (f ColorFormat) String() string {
	switch f {
	case FormatBGRA:
		return "BGRA"
	case FormatRGBA:
		return "RGBA"
	default:
		return "unknown"
	}
}

// BlendFactor is a blend function operand.
type BlendFactor int

const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcAlpha
	BlendInvSrcAlpha
)

// FrameRate is a rational frame rate (Num/Den frames per second).
type FrameRate struct {
	Num uint32
	Den uint32
}

// Valid reports whether both terms are non-zero.
func (r FrameRate) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// FPS returns the rate as a float (0 if invalid).
func (r FrameRate) FPS() float64 {
	if !r.Valid() {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Texture is a GPU texture produced by a TexRender.
type Texture interface {
	Size() (width, height uint32)
}

// TexRender is an off-screen render target.
type TexRender interface {
	// Reset marks the target as reusable for a new frame.
	Reset()
	// Begin makes the target current at the given size. Returns false if the
	// target could not be (re)allocated.
	Begin(width, height uint32) bool
	// End restores the previous render target.
	End()
	// Texture returns the texture rendered by the last Begin/End pair.
	Texture() Texture
	Destroy()
}

// StageSurface copies a texture into CPU-readable memory.
type StageSurface interface {
	Size() (width, height uint32)
	// Stage schedules a GPU→CPU copy of tex. The texture must have the
	// surface's size.
	Stage(tex Texture) error
	// Map exposes the staged pixels. linesize is the row stride in bytes and
	// may be larger than width*4.
	Map() (data []byte, linesize uint32, ok bool)
	Unmap()
	Destroy()
}

// Graphics is the host's immediate-mode graphics API.
type Graphics interface {
	NewTexRender(format ColorFormat) (TexRender, error)
	NewStageSurface(width, height uint32, format ColorFormat) (StageSurface, error)

	// Clear fills the current render target with rgba (0..1 per channel).
	Clear(rgba [4]float32)
	Ortho(left, right, top, bottom, near, far float32)

	PushBlendState()
	SetBlendFunc(src, dst BlendFactor)
	PopBlendState()
}

// Source is a renderable video source.
type Source interface {
	Name() string
	// BaseSize returns the unscaled output size. Zero means "no video yet".
	BaseSize() (width, height uint32)
	// Render draws the source into the current render target.
	Render()
}

// FilterSource is the host object a filter instance is attached to.
type FilterSource interface {
	Name() string
	// Parent returns the filtered source, or nil when detached.
	Parent() Source
	// SkipVideoFilter renders the parent as if this filter did not exist.
	SkipVideoFilter()
}

// RenderFunc is invoked once per host render tick with the base canvas size.
type RenderFunc func(cx, cy uint32)

// RenderCallbacks registers per-tick callbacks on the host's main render loop.
type RenderCallbacks interface {
	AddMainRenderCallback(id string, fn RenderFunc)
	// RemoveMainRenderCallback is idempotent and waits for an in-flight
	// invocation of the callback to finish.
	RemoveMainRenderCallback(id string)
}

// VideoInfo exposes the host's global video settings.
type VideoInfo interface {
	VideoFrameRate() FrameRate
}

// Settings is a read view of a source's persisted settings.
type Settings interface {
	String(key string) string
}

// DefaultSettings receives default values at registration time.
type DefaultSettings interface {
	SetDefaultString(key, value string)
}

// SourceKind distinguishes inputs, filters and transitions.
type SourceKind int

const (
	SourceInput SourceKind = iota
	SourceFilter
)

// OutputFlags describe what a source produces.
type OutputFlags uint32

const (
	OutputVideo OutputFlags = 1 << iota
	OutputAudio
)

// SourceInfo describes a source type registered with the host.
type SourceInfo struct {
	ID       string
	Name     string
	Kind     SourceKind
	Flags    OutputFlags
	Defaults func(DefaultSettings)
}

// Registrar registers source types with the host. Called once per process.
type Registrar interface {
	RegisterSource(info SourceInfo) error
}
