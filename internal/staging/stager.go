// Package staging captures a source's rendered output into CPU memory.
package staging

import (
	"errors"
	"fmt"

	"github.com/devyx/gstoutfilter/host"
)

// Format is the pixel format of staged frames.
const Format = host.FormatBGRA

var (
	// ErrAllocation wraps stage surface / texrender allocation failures.
	ErrAllocation = errors.New("staging: allocation failed")

	// ErrNotRendered is returned by Download before a successful Render.
	ErrNotRendered = errors.New("staging: nothing rendered")

	// ErrNoSurface is returned by Download before Resize succeeded.
	ErrNoSurface = errors.New("staging: no stage surface")

	// ErrMapFailed is returned when the stage surface cannot be mapped.
	ErrMapFailed = errors.New("staging: map failed")
)

// Stager owns the off-screen render target and the stage surface for one
// filter instance.
//
// Not safe for concurrent use; it lives on the render goroutine.
type Stager struct {
	gfx     host.Graphics
	tex     host.TexRender
	surface host.StageSurface

	width    uint32
	height   uint32
	rendered bool

	recreations uint64
}

// New allocates the off-screen render target.
func New(gfx host.Graphics) (*Stager, error) {
	tex, err := gfx.NewTexRender(Format)
	if err != nil {
		return nil, fmt.Errorf("%w: texrender: %v", ErrAllocation, err)
	}
	return &Stager{gfx: gfx, tex: tex}, nil
}

// Size returns the current stage surface geometry (0x0 before Resize).
func (s *Stager) Size() (width, height uint32) {
	return s.width, s.height
}

// Recreations returns how many times the stage surface has been recreated.
func (s *Stager) Recreations() uint64 {
	return s.recreations
}

// Render draws parent into the off-screen target at width×height with a
// zeroed background and straight (non-blended) compositing.
func (s *Stager) Render(parent host.Source, width, height uint32) error {
	s.rendered = false
	s.tex.Reset()

	if !s.tex.Begin(width, height) {
		return fmt.Errorf("%w: texrender begin %dx%d", ErrAllocation, width, height)
	}

	s.gfx.Clear([4]float32{0, 0, 0, 0})
	s.gfx.Ortho(0, float32(width), 0, float32(height), -100, 100)

	s.gfx.PushBlendState()
	s.gfx.SetBlendFunc(host.BlendOne, host.BlendZero)
	parent.Render()
	s.gfx.PopBlendState()

	s.tex.End()
	s.rendered = true
	return nil
}

// Resize destroys the stage surface and creates a new one at width×height.
// On failure the stager is left without a surface and Download fails until a
// later Resize succeeds.
func (s *Stager) Resize(width, height uint32) error {
	if s.surface != nil {
		s.surface.Unmap()
		s.surface.Destroy()
		s.surface = nil
	}
	s.width, s.height = 0, 0

	surface, err := s.gfx.NewStageSurface(width, height, Format)
	if err != nil {
		return fmt.Errorf("%w: stage surface %dx%d: %v", ErrAllocation, width, height, err)
	}

	s.surface = surface
	s.width, s.height = width, height
	s.recreations++
	return nil
}

// Download stages the last rendered texture and copies it into dst, one row
// at a time, honouring the surface stride and dstStride.
func (s *Stager) Download(dst []byte, dstStride uint32) error {
	if s.surface == nil {
		return ErrNoSurface
	}
	if !s.rendered {
		return ErrNotRendered
	}

	if err := s.surface.Stage(s.tex.Texture()); err != nil {
		return fmt.Errorf("staging: stage texture: %w", err)
	}

	data, linesize, ok := s.surface.Map()
	if !ok {
		return ErrMapFailed
	}
	defer s.surface.Unmap()

	CopyRows(dst, dstStride, data, linesize, s.height, s.width*uint32(bytesPerPixel))
	return nil
}

// Destroy releases the stage surface and the render target. Idempotent.
func (s *Stager) Destroy() {
	if s.surface != nil {
		s.surface.Unmap()
		s.surface.Destroy()
		s.surface = nil
	}
	if s.tex != nil {
		s.tex.Destroy()
		s.tex = nil
	}
	s.width, s.height = 0, 0
	s.rendered = false
}

const bytesPerPixel = 4

// CopyRows copies rows of pixels between buffers whose strides may differ.
//
// Each row copies min(rowBytes, srcStride, dstStride) bytes. Rows that would
// overrun either buffer are not copied.
func CopyRows(dst []byte, dstStride uint32, src []byte, srcStride uint32, rows uint32, rowBytes uint32) {
	n := rowBytes
	if srcStride < n {
		n = srcStride
	}
	if dstStride < n {
		n = dstStride
	}

	for y := uint32(0); y < rows; y++ {
		d := int(y) * int(dstStride)
		sOff := int(y) * int(srcStride)
		if d+int(n) > len(dst) || sOff+int(n) > len(src) {
			return
		}
		copy(dst[d:d+int(n)], src[sOff:sOff+int(n)])
	}
}
