package staging

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyx/gstoutfilter/host/softhost"
)

func TestCopyRows_DifferentStrides(t *testing.T) {
	// 2 rows of 3 payload bytes; src padded to 5, dst padded to 4.
	src := []byte{
		1, 2, 3, 0xEE, 0xEE,
		4, 5, 6, 0xEE, 0xEE,
	}
	dst := make([]byte, 8)

	CopyRows(dst, 4, src, 5, 2, 3)

	assert.Equal(t, []byte{1, 2, 3, 0, 4, 5, 6, 0}, dst)
}

func TestCopyRows_ShortBuffersAreNotOverrun(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6}
	dst := make([]byte, 4) // room for one row of 3 at stride 3 only

	assert.NotPanics(t, func() {
		CopyRows(dst, 3, src, 3, 2, 3)
	})
	assert.Equal(t, []byte{1, 2, 3, 0}, dst)
}

// TestStager_GeometryProducesExactFrame validates that for any W,H > 0 the
// staged frame is exactly W×H BGRA pixels, independent of the surface stride.
func TestStager_GeometryProducesExactFrame(t *testing.T) {
	sizes := []struct{ w, h uint32 }{
		{1, 1},
		{3, 7},
		{64, 48},
		{640, 480},
	}

	for _, sz := range sizes {
		gfx := softhost.NewGraphics(13)
		src := softhost.NewPatternSource("parent", gfx, sz.w, sz.h, softhost.PatternSolid)
		src.SetSolidColor(1, 0, 0)

		s, err := New(gfx)
		require.NoError(t, err)

		require.NoError(t, s.Resize(sz.w, sz.h))
		require.NoError(t, s.Render(src, sz.w, sz.h))

		stride := sz.w * 4
		dst := make([]byte, stride*sz.h)
		require.NoError(t, s.Download(dst, stride))

		w, h := s.Size()
		assert.Equal(t, sz.w, w)
		assert.Equal(t, sz.h, h)
		assert.Len(t, dst, int(sz.w*sz.h*4))

		// Every pixel is opaque red in BGRA order.
		for i := 0; i < len(dst); i += 4 {
			if dst[i] != 0 || dst[i+1] != 0 || dst[i+2] != 255 || dst[i+3] != 255 {
				t.Fatalf("%dx%d: pixel %d = %v, want BGRA red", sz.w, sz.h, i/4, dst[i:i+4])
			}
		}

		s.Destroy()
		created, destroyed := gfx.SurfaceCounts()
		assert.Equal(t, created, destroyed, "surfaces leaked")
	}
}

func TestStager_ResizeFailureLeavesNoSurface(t *testing.T) {
	gfx := softhost.NewGraphics(0)
	s, err := New(gfx)
	require.NoError(t, err)
	defer s.Destroy()

	require.NoError(t, s.Resize(8, 8))

	gfx.FailStageSurfaces = 1
	err = s.Resize(16, 16)
	assert.ErrorIs(t, err, ErrAllocation)

	w, h := s.Size()
	assert.Zero(t, w)
	assert.Zero(t, h)
	assert.ErrorIs(t, s.Download(make([]byte, 16*16*4), 16*4), ErrNoSurface)

	// Next attempt succeeds.
	require.NoError(t, s.Resize(16, 16))
	assert.Equal(t, uint64(2), s.Recreations())
}

func TestStager_DownloadBeforeRender(t *testing.T) {
	gfx := softhost.NewGraphics(0)
	s, err := New(gfx)
	require.NoError(t, err)
	defer s.Destroy()

	require.NoError(t, s.Resize(4, 4))
	assert.ErrorIs(t, s.Download(make([]byte, 64), 16), ErrNotRendered)
}

func TestStager_RenderUsesStraightBlend(t *testing.T) {
	gfx := softhost.NewGraphics(0)
	// A half-transparent parent must come through unblended against the
	// zeroed background.
	parent := &alphaSource{gfx: gfx, w: 2, h: 2}

	s, err := New(gfx)
	require.NoError(t, err)
	defer s.Destroy()

	require.NoError(t, s.Resize(2, 2))
	require.NoError(t, s.Render(parent, 2, 2))

	dst := make([]byte, 2*2*4)
	require.NoError(t, s.Download(dst, 8))
	assert.Equal(t, byte(128), dst[3], "alpha must be copied, not blended")
}

type alphaSource struct {
	gfx  *softhost.Graphics
	w, h int
}

func (a *alphaSource) Name() string { return "alpha" }

func (a *alphaSource) BaseSize() (uint32, uint32) { return uint32(a.w), uint32(a.h) }

func (a *alphaSource) Render() {
	img := image.NewRGBA(image.Rect(0, 0, a.w, a.h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 128, A: 128}}, image.Point{}, draw.Src)
	a.gfx.Composite(img)
}
