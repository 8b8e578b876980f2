package softhost

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gg"

	"github.com/devyx/gstoutfilter/host"
)

// Pattern selects what a PatternSource draws.
type Pattern string

const (
	// PatternBars draws vertical colour bars with a moving marker.
	PatternBars Pattern = "bars"
	// PatternSolid fills the frame with a single opaque colour.
	PatternSolid Pattern = "solid"
)

// PatternSource is a host.Source that rasterizes a test pattern with gg.
type PatternSource struct {
	name    string
	g       *Graphics
	pattern Pattern

	mu     sync.Mutex
	width  uint32
	height uint32
	solid  gg.RGBA

	renders    atomic.Uint64
	fillErrors atomic.Uint64
}

// NewPatternSource creates a source of the given size.
func NewPatternSource(name string, g *Graphics, width, height uint32, pattern Pattern) *PatternSource {
	if pattern == "" {
		pattern = PatternBars
	}
	return &PatternSource{
		name:    name,
		g:       g,
		pattern: pattern,
		width:   width,
		height:  height,
		solid:   gg.RGBA2(0.2, 0.4, 0.8, 1),
	}
}

// Name implements host.Source.
func (s *PatternSource) Name() string { return s.name }

// BaseSize implements host.Source.
func (s *PatternSource) BaseSize() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// SetSize changes the source geometry (simulates a resolution change).
func (s *PatternSource) SetSize(width, height uint32) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
}

// SetSolidColor sets the colour used by PatternSolid.
func (s *PatternSource) SetSolidColor(r, g, b float64) {
	s.mu.Lock()
	s.solid = gg.RGBA2(r, g, b, 1)
	s.mu.Unlock()
}

// Renders returns how many times the source has been rendered.
func (s *PatternSource) Renders() uint64 {
	return s.renders.Load()
}

// FillErrors returns how many renders had a rasterizer fill fail.
func (s *PatternSource) FillErrors() uint64 {
	return s.fillErrors.Load()
}

// Render implements host.Source.
func (s *PatternSource) Render() {
	s.mu.Lock()
	w, h, solid := int(s.width), int(s.height), s.solid
	s.mu.Unlock()
	if w == 0 || h == 0 {
		return
	}

	n := s.renders.Add(1)

	dc := gg.NewContext(w, h)
	defer dc.Close()

	switch s.pattern {
	case PatternSolid:
		dc.ClearWithColor(solid)
	default:
		if err := drawBars(dc, w, h, n); err != nil {
			s.fillErrors.Add(1)
			slog.Warn("softhost: pattern render failed",
				"source", s.name,
				"frame", n,
				"error", err,
			)
		}
	}

	s.g.Composite(dc.Image())
}

var barColors = [][3]float64{
	{0.75, 0.75, 0.75},
	{0.75, 0.75, 0},
	{0, 0.75, 0.75},
	{0, 0.75, 0},
	{0.75, 0, 0.75},
	{0.75, 0, 0},
	{0, 0, 0.75},
}

func drawBars(dc *gg.Context, w, h int, frame uint64) error {
	barWidth := float64(w) / float64(len(barColors))
	for i, c := range barColors {
		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawRectangle(float64(i)*barWidth, 0, barWidth+1, float64(h))
		if err := dc.Fill(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
	}

	// Moving marker so consecutive frames differ.
	size := float64(h) / 8
	x := float64(frame%uint64(w)) - size/2
	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(x, float64(h)-size*1.5, size, size)
	if err := dc.Fill(); err != nil {
		return fmt.Errorf("marker: %w", err)
	}
	return nil
}

// FilterSource is a host.FilterSource attached to a parent source.
type FilterSource struct {
	name string

	mu     sync.Mutex
	parent host.Source

	skips atomic.Uint64
}

// NewFilterSource attaches a filter named name to parent (which may be nil).
func NewFilterSource(name string, parent host.Source) *FilterSource {
	return &FilterSource{name: name, parent: parent}
}

// Name implements host.FilterSource.
func (f *FilterSource) Name() string { return f.name }

// Parent implements host.FilterSource.
func (f *FilterSource) Parent() host.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parent
}

// SetParent re-attaches the filter (nil detaches).
func (f *FilterSource) SetParent(parent host.Source) {
	f.mu.Lock()
	f.parent = parent
	f.mu.Unlock()
}

// SkipVideoFilter implements host.FilterSource.
func (f *FilterSource) SkipVideoFilter() {
	f.skips.Add(1)
}

// Skips returns how many times the filter was skipped during video render.
func (f *FilterSource) Skips() uint64 {
	return f.skips.Load()
}
