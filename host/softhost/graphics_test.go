package softhost

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyx/gstoutfilter/host"
)

func TestStageSurface_PaddedBGRA(t *testing.T) {
	g := NewGraphics(7)

	tr, err := g.NewTexRender(host.FormatBGRA)
	require.NoError(t, err)
	require.True(t, tr.Begin(3, 2))
	g.Clear([4]float32{0, 0, 0, 0})
	g.SetBlendFunc(host.BlendOne, host.BlendZero)
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	img.Set(2, 1, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	g.Composite(img)
	tr.End()

	ss, err := g.NewStageSurface(3, 2, host.FormatBGRA)
	require.NoError(t, err)
	require.NoError(t, ss.Stage(tr.Texture()))

	data, linesize, ok := ss.Map()
	require.True(t, ok)
	defer ss.Unmap()

	assert.EqualValues(t, 3*4+7, linesize)
	assert.Equal(t, []byte{30, 20, 10, 255}, data[0:4])
	assert.Equal(t, []byte{50, 100, 200, 255}, data[int(linesize)+8:int(linesize)+12])
}

func TestStageSurface_SizeMismatch(t *testing.T) {
	g := NewGraphics(0)
	tr, _ := g.NewTexRender(host.FormatBGRA)
	require.True(t, tr.Begin(4, 4))
	tr.End()

	ss, err := g.NewStageSurface(2, 2, host.FormatBGRA)
	require.NoError(t, err)
	assert.ErrorIs(t, ss.Stage(tr.Texture()), ErrSizeMismatch)
}

func TestGraphics_FailStageSurfaces(t *testing.T) {
	g := NewGraphics(0)
	g.FailStageSurfaces = 1

	_, err := g.NewStageSurface(2, 2, host.FormatBGRA)
	assert.Error(t, err)

	ss, err := g.NewStageSurface(2, 2, host.FormatBGRA)
	require.NoError(t, err)

	_, err = g.NewStageSurface(0, 2, host.FormatBGRA)
	assert.ErrorIs(t, err, ErrInvalidSize)

	ss.Destroy()
	ss.Destroy()
	created, destroyed := g.SurfaceCounts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, destroyed)

	_, _, ok := ss.Map()
	assert.False(t, ok)
}

func TestTexRender_OncePerReset(t *testing.T) {
	g := NewGraphics(0)
	tr, _ := g.NewTexRender(host.FormatBGRA)

	require.True(t, tr.Begin(2, 2))
	tr.End()
	assert.False(t, tr.Begin(2, 2), "already rendered")

	tr.Reset()
	assert.True(t, tr.Begin(2, 2))
	tr.End()
}

func TestPatternSource_SolidColor(t *testing.T) {
	g := NewGraphics(0)
	src := NewPatternSource("solid", g, 4, 4, PatternSolid)
	src.SetSolidColor(0, 1, 0)

	tr, _ := g.NewTexRender(host.FormatBGRA)
	require.True(t, tr.Begin(4, 4))
	g.SetBlendFunc(host.BlendOne, host.BlendZero)
	src.Render()
	tr.End()

	ss, _ := g.NewStageSurface(4, 4, host.FormatRGBA)
	require.NoError(t, ss.Stage(tr.Texture()))
	data, _, _ := ss.Map()
	assert.Equal(t, []byte{0, 255, 0, 255}, data[0:4])
	assert.EqualValues(t, 1, src.Renders())
}

func compositeOverBlue(t *testing.T, src, dst host.BlendFactor) []byte {
	t.Helper()
	g := NewGraphics(0)
	tr, _ := g.NewTexRender(host.FormatRGBA)
	require.True(t, tr.Begin(2, 2))
	g.Clear([4]float32{0, 0, 1, 1})
	g.SetBlendFunc(src, dst)
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	g.Composite(img)
	tr.End()

	ss, err := g.NewStageSurface(2, 2, host.FormatRGBA)
	require.NoError(t, err)
	require.NoError(t, ss.Stage(tr.Texture()))
	data, _, ok := ss.Map()
	require.True(t, ok)
	return data
}

func TestGraphics_CompositeSourceOver(t *testing.T) {
	data := compositeOverBlue(t, host.BlendSrcAlpha, host.BlendInvSrcAlpha)

	assert.Equal(t, []byte{255, 0, 0, 255}, data[0:4], "opaque source replaces")
	assert.Equal(t, []byte{0, 0, 255, 255}, data[4:8], "transparent source keeps the target")
	assert.Equal(t, []byte{0, 255, 0, 255}, data[12:16])
	t.Log("✅ Source-over blend keeps the target under transparent pixels")
}

func TestGraphics_CompositeCopy(t *testing.T) {
	data := compositeOverBlue(t, host.BlendOne, host.BlendZero)

	assert.Equal(t, []byte{255, 0, 0, 255}, data[0:4])
	assert.Equal(t, []byte{0, 0, 0, 0}, data[4:8], "copy replaces the target with transparent")
	t.Log("✅ One/Zero blend copies pixels")
}

func TestPatternSource_BarsRender(t *testing.T) {
	g := NewGraphics(0)
	src := NewPatternSource("bars", g, 70, 16, PatternBars)

	tr, _ := g.NewTexRender(host.FormatRGBA)
	require.True(t, tr.Begin(70, 16))
	g.SetBlendFunc(host.BlendOne, host.BlendZero)
	src.Render()
	tr.End()

	ss, _ := g.NewStageSurface(70, 16, host.FormatRGBA)
	require.NoError(t, ss.Stage(tr.Texture()))
	data, _, _ := ss.Map()

	assert.Zero(t, src.FillErrors())
	assert.NotZero(t, data[3], "bars are drawn")
	assert.NotEqual(t, data[0:4], data[69*4:70*4], "first and last bar differ")
}
