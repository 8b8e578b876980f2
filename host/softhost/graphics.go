// Package softhost implements the host collaborators on the CPU.
//
// Render targets are gogpu/gg contexts, stage surfaces are padded BGRA byte
// slices and sources draw with the gg software rasterizer. It exists so the
// filter can be exercised end-to-end (tests, cmd/gst-out-filter) without the
// real host application or a GPU.
package softhost

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/gogpu/gg"

	"github.com/devyx/gstoutfilter/host"
)

var (
	// ErrSizeMismatch is returned when a texture is staged into a surface of a
	// different size.
	ErrSizeMismatch = errors.New("softhost: texture size does not match stage surface")

	// ErrInvalidSize is returned for zero-sized surfaces.
	ErrInvalidSize = errors.New("softhost: invalid surface size")

	// ErrDestroyed is returned when a destroyed object is used.
	ErrDestroyed = errors.New("softhost: object destroyed")
)

type blendState struct {
	src, dst host.BlendFactor
}

// Graphics is a software implementation of host.Graphics.
//
// Safe for use from a single render goroutine at a time; the mutex only
// protects the allocation hooks and counters read by tests.
type Graphics struct {
	// RowPadding is added to every stage surface row (bytes) so that the
	// surface stride differs from width*4, like most GPU drivers.
	RowPadding uint32

	// FailStageSurfaces makes the next N NewStageSurface calls fail.
	FailStageSurfaces int

	mu         sync.Mutex
	targets    []*gg.Context
	blend      blendState
	blendStack []blendState

	surfacesCreated   int
	surfacesDestroyed int
}

// NewGraphics creates a software graphics context.
func NewGraphics(rowPadding uint32) *Graphics {
	return &Graphics{
		RowPadding: rowPadding,
		blend:      blendState{src: host.BlendSrcAlpha, dst: host.BlendInvSrcAlpha},
	}
}

// NewTexRender implements host.Graphics.
func (g *Graphics) NewTexRender(format host.ColorFormat) (host.TexRender, error) {
	return &texRender{g: g, format: format}, nil
}

// NewStageSurface implements host.Graphics.
func (g *Graphics) NewStageSurface(width, height uint32, format host.ColorFormat) (host.StageSurface, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailStageSurfaces > 0 {
		g.FailStageSurfaces--
		return nil, fmt.Errorf("softhost: stage surface %dx%d: allocation failed", width, height)
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}

	linesize := width*4 + g.RowPadding
	g.surfacesCreated++

	return &stageSurface{
		g:        g,
		width:    width,
		height:   height,
		format:   format,
		linesize: linesize,
		data:     make([]byte, int(linesize)*int(height)),
	}, nil
}

// SurfaceCounts reports how many stage surfaces were created and destroyed.
func (g *Graphics) SurfaceCounts() (created, destroyed int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.surfacesCreated, g.surfacesDestroyed
}

// Clear implements host.Graphics.
func (g *Graphics) Clear(rgba [4]float32) {
	target := g.currentTarget()
	if target == nil {
		return
	}
	target.ClearWithColor(gg.RGBA2(unitClamp(rgba[0]), unitClamp(rgba[1]), unitClamp(rgba[2]), unitClamp(rgba[3])))
}

// Ortho implements host.Graphics. Sources render in pixel space already.
func (g *Graphics) Ortho(left, right, top, bottom, near, far float32) {}

// PushBlendState implements host.Graphics.
func (g *Graphics) PushBlendState() {
	g.blendStack = append(g.blendStack, g.blend)
}

// SetBlendFunc implements host.Graphics.
func (g *Graphics) SetBlendFunc(src, dst host.BlendFactor) {
	g.blend = blendState{src: src, dst: dst}
}

// PopBlendState implements host.Graphics.
func (g *Graphics) PopBlendState() {
	n := len(g.blendStack)
	if n == 0 {
		return
	}
	g.blend = g.blendStack[n-1]
	g.blendStack = g.blendStack[:n-1]
}

// Composite draws img onto the current render target using the current blend
// function. One/Zero replaces the target pixels; anything else is gg's
// source-over blend.
func (g *Graphics) Composite(img image.Image) {
	target := g.currentTarget()
	if target == nil || img.Bounds().Empty() {
		return
	}
	src := gg.ImageBufFromImage(img)
	if src == nil {
		return
	}
	if g.blend.src == host.BlendOne && g.blend.dst == host.BlendZero {
		copyInto(target.ResizeTarget(), src)
		return
	}
	target.DrawImageEx(src, gg.DrawImageOptions{
		Opacity:   1,
		BlendMode: g.blendMode(),
	})
}

// blendMode maps the host blend function onto gg. Every non-copy function the
// host exposes is source-over.
func (g *Graphics) blendMode() gg.BlendMode {
	return gg.BlendNormal
}

// copyInto writes src into the top-left of pm without resampling.
// DrawImageEx always interpolates, which is not bit-exact at 1:1.
func copyInto(pm *gg.Pixmap, src *gg.ImageBuf) {
	dst := pm.Data()
	stride := pm.Width() * 4
	n := min(stride, src.Width()*4)
	rows := min(pm.Height(), src.Height())
	for y := 0; y < rows; y++ {
		copy(dst[y*stride:y*stride+n], src.RowBytes(y)[:n])
	}
}

func (g *Graphics) pushTarget(dc *gg.Context) {
	g.targets = append(g.targets, dc)
}

func (g *Graphics) popTarget() {
	if n := len(g.targets); n > 0 {
		g.targets = g.targets[:n-1]
	}
}

func (g *Graphics) currentTarget() *gg.Context {
	if n := len(g.targets); n > 0 {
		return g.targets[n-1]
	}
	return nil
}

func unitClamp(v float32) float64 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 1
	default:
		return float64(v)
	}
}

type texture struct {
	pm *gg.Pixmap
}

func (t *texture) Size() (uint32, uint32) {
	return uint32(t.pm.Width()), uint32(t.pm.Height())
}

type texRender struct {
	g         *Graphics
	format    host.ColorFormat
	dc        *gg.Context
	rendered  bool
	destroyed bool
}

func (t *texRender) Reset() {
	t.rendered = false
}

func (t *texRender) Begin(width, height uint32) bool {
	if t.destroyed || t.rendered || width == 0 || height == 0 {
		return false
	}
	if t.dc == nil || uint32(t.dc.Width()) != width || uint32(t.dc.Height()) != height {
		t.release()
		t.dc = gg.NewContext(int(width), int(height))
	}
	t.g.pushTarget(t.dc)
	return true
}

func (t *texRender) End() {
	t.g.popTarget()
	t.rendered = true
}

func (t *texRender) Texture() host.Texture {
	if t.dc == nil {
		return nil
	}
	return &texture{pm: t.dc.ResizeTarget()}
}

func (t *texRender) Destroy() {
	t.destroyed = true
	t.release()
}

func (t *texRender) release() {
	if t.dc == nil {
		return
	}
	if err := t.dc.Close(); err != nil {
		slog.Warn("softhost: render target close failed", "error", err)
	}
	t.dc = nil
}

type stageSurface struct {
	g         *Graphics
	width     uint32
	height    uint32
	format    host.ColorFormat
	linesize  uint32
	data      []byte
	mapped    bool
	destroyed bool
}

func (s *stageSurface) Size() (uint32, uint32) {
	return s.width, s.height
}

func (s *stageSurface) Stage(tex host.Texture) error {
	if s.destroyed {
		return ErrDestroyed
	}
	t, ok := tex.(*texture)
	if !ok || t == nil {
		return fmt.Errorf("softhost: unsupported texture %T", tex)
	}
	if w, h := t.Size(); w != s.width || h != s.height {
		return fmt.Errorf("%w: texture %dx%d, surface %dx%d", ErrSizeMismatch, w, h, s.width, s.height)
	}

	pix := t.pm.Data()
	rowBytes := int(s.width) * 4
	for y := 0; y < int(s.height); y++ {
		src := pix[y*rowBytes : (y+1)*rowBytes]
		dst := s.data[y*int(s.linesize) : y*int(s.linesize)+rowBytes]
		if s.format == host.FormatRGBA {
			copy(dst, src)
			continue
		}
		for x := 0; x < rowBytes; x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = src[x+3]
		}
	}
	return nil
}

func (s *stageSurface) Map() ([]byte, uint32, bool) {
	if s.destroyed {
		return nil, 0, false
	}
	s.mapped = true
	return s.data, s.linesize, true
}

func (s *stageSurface) Unmap() {
	s.mapped = false
}

func (s *stageSurface) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.data = nil

	s.g.mu.Lock()
	s.g.surfacesDestroyed++
	s.g.mu.Unlock()
}
