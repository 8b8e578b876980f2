package gstoutfilter_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyx/gstoutfilter"
	"github.com/devyx/gstoutfilter/host"
	"github.com/devyx/gstoutfilter/host/softhost"
	"github.com/devyx/gstoutfilter/internal/pipeline"
	"github.com/devyx/gstoutfilter/internal/pipeline/pipelinetest"
)

const readback = "queue ! appsink name=filterout"

type harness struct {
	eng      *pipelinetest.FakeEngine
	gfx      *softhost.Graphics
	loop     *softhost.RenderLoop
	parent   *softhost.PatternSource
	source   *softhost.FilterSource
	settings *softhost.Settings
	filter   *gstoutfilter.Filter
}

type harnessOption func(*harness, *gstoutfilter.Options)

// withLoopback echoes pushed frames on the readback sink. The retrieve
// timeout is raised since delivery runs on another goroutine.
func withLoopback() harnessOption {
	return func(h *harness, o *gstoutfilter.Options) {
		h.eng.Loopback = true
		o.RetrieveTimeout = time.Second
	}
}

func withRetry(cfg pipeline.RetryConfig) harnessOption {
	return func(_ *harness, o *gstoutfilter.Options) { o.Retry = cfg }
}

func newHarness(t *testing.T, desc string, w, h uint32, opts ...harnessOption) *harness {
	t.Helper()

	hs := &harness{
		eng:      pipelinetest.NewFakeEngine(),
		gfx:      softhost.NewGraphics(13),
		loop:     softhost.NewRenderLoop(1920, 1080, host.FrameRate{Num: 30, Den: 1}),
		settings: softhost.NewSettings(map[string]string{gstoutfilter.SettingPipeline: desc}),
	}
	hs.parent = softhost.NewPatternSource("parent", hs.gfx, w, h, softhost.PatternSolid)
	hs.parent.SetSolidColor(1, 0, 0)
	hs.source = softhost.NewFilterSource("gst-out", hs.parent)

	o := gstoutfilter.Options{
		Engine:          hs.eng,
		Graphics:        hs.gfx,
		Callbacks:       hs.loop,
		Video:           hs.loop,
		RetrieveTimeout: time.Millisecond,
	}
	for _, opt := range opts {
		opt(hs, &o)
	}

	f, err := gstoutfilter.NewFilter(hs.settings, hs.source, o)
	require.NoError(t, err)
	hs.filter = f
	t.Cleanup(f.Destroy)
	return hs
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.loop.Tick()
	}
}

func (h *harness) update(t *testing.T, desc string) error {
	t.Helper()
	h.settings.Set(gstoutfilter.SettingPipeline, desc)
	return h.filter.Update(h.settings)
}

// handlesAt counts built pipelines composed for the given geometry.
func (h *harness) handlesAt(w, hgt uint32) int {
	n := 0
	needle := fmt.Sprintf("width=%d,height=%d,", w, hgt)
	for _, hd := range h.eng.Handles() {
		if strings.Contains(hd.Description(), needle) {
			n++
		}
	}
	return n
}

func TestNewFilter_MissingCollaborator(t *testing.T) {
	_, err := gstoutfilter.NewFilter(softhost.NewSettings(nil), nil, gstoutfilter.Options{})
	assert.ErrorIs(t, err, gstoutfilter.ErrMissingCollaborator)
}

func TestFilter_RegistersRenderCallback(t *testing.T) {
	h := newHarness(t, "fakesink", 64, 48)

	assert.True(t, h.loop.Registered(h.filter.ID()))
	assert.Equal(t, 0, h.eng.Live(), "no pipeline before the first tick")

	h.filter.Destroy()
	assert.False(t, h.loop.Registered(h.filter.ID()))
}

// W×H staging yields exactly W×H BGRA output.
func TestFilter_OutputMatchesParentGeometry(t *testing.T) {
	sizes := []struct{ w, h uint32 }{
		{1, 1},
		{3, 2},
		{17, 9},
		{640, 480},
	}

	for _, sz := range sizes {
		t.Run(fmt.Sprintf("%dx%d", sz.w, sz.h), func(t *testing.T) {
			h := newHarness(t, readback, sz.w, sz.h, withLoopback())

			h.ticks(1)

			out, ok := h.filter.Output()
			require.True(t, ok, "loopback frame returned")
			assert.Equal(t, sz.w, out.Width)
			assert.Equal(t, sz.h, out.Height)
			assert.Equal(t, sz.w*4, out.Linesize)
			require.Len(t, out.Data, int(sz.w*sz.h*4))

			red := []byte{0x00, 0x00, 0xff, 0xff} // BGRA
			assert.Equal(t, bytes.Repeat(red, int(sz.w*sz.h)), out.Data)
		})
	}
}

// Same description twice keeps a single live pipeline.
func TestFilter_SameDescriptionTwice(t *testing.T) {
	h := newHarness(t, "videoconvert ! fakesink", 64, 48)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.update(t, "videoconvert ! fakesink"))
		h.ticks(3)
		assert.Equal(t, 1, h.eng.Live())
		assert.EqualValues(t, 1, h.filter.Stats().Pipeline.Live)
	}
	assert.Equal(t, 1, h.eng.MaxLive(), "validation and rebuild never overlap a live pipeline")
}

// Invalid description → no pipeline, ticks keep running.
func TestFilter_InvalidDescription(t *testing.T) {
	h := newHarness(t, "videoconvert ! fakesink", 64, 48)
	h.ticks(1)
	first := h.eng.Last()
	require.NotNil(t, first)

	err := h.update(t, "videoconvert ! nosuchelement")
	assert.True(t, pipeline.IsBuildError(err))
	assert.True(t, first.Released(), "old pipeline stopped despite invalid description")

	assert.NotPanics(t, func() { h.ticks(5) })

	s := h.filter.Stats()
	assert.EqualValues(t, 6, s.Ticks)
	assert.EqualValues(t, 0, s.Pipeline.Live)
	assert.Equal(t, pipeline.StateNull, s.Pipeline.State)
	assert.Equal(t, 0, h.eng.Live())

	_, ok := h.filter.Output()
	assert.False(t, ok)

	// Recovers on the next valid update.
	require.NoError(t, h.update(t, "fakesink"))
	h.ticks(1)
	assert.Equal(t, pipeline.StatePlaying, h.filter.Stats().Pipeline.State)
}

func TestFilter_EmptyDescription(t *testing.T) {
	h := newHarness(t, "", 64, 48)
	h.ticks(3)

	s := h.filter.Stats()
	assert.Equal(t, 0, h.eng.Live())
	assert.Empty(t, h.eng.Builds(), "blank description never reaches the engine")
	assert.EqualValues(t, 0, s.StagedFrames, "nothing staged without a pipeline")
	assert.EqualValues(t, 3, s.IdleTicks)
}

// Geometry change → exactly one staging recreation and one rebuild.
func TestFilter_GeometryChange(t *testing.T) {
	h := newHarness(t, "fakesink", 1920, 1080)
	h.ticks(2)

	before := h.filter.Stats()
	assert.EqualValues(t, 1920, before.Width)
	assert.Equal(t, 1, h.handlesAt(1920, 1080))

	h.parent.SetSize(1280, 720)
	h.ticks(3)

	after := h.filter.Stats()
	assert.EqualValues(t, 1280, after.Width)
	assert.EqualValues(t, 720, after.Height)
	assert.EqualValues(t, 1, after.Recreations-before.Recreations)
	assert.EqualValues(t, 1, after.Rebuilds-before.Rebuilds)
	assert.Equal(t, 1, h.handlesAt(1280, 720))
	assert.Equal(t, 1, h.eng.Live())

	created, destroyed := h.gfx.SurfaceCounts()
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, destroyed)
	t.Log("✅ Resize recreated staging and pipeline exactly once")
}

// Stalled pipeline → last output preserved byte-for-byte.
func TestFilter_StalledOutputPreserved(t *testing.T) {
	const w, hgt = 8, 4
	h := newHarness(t, readback, w, hgt)
	h.ticks(1)

	hd := h.eng.Last()
	require.NotNil(t, hd)

	sample := make([]byte, w*hgt*4)
	for i := range sample {
		sample[i] = byte(i)
	}
	require.True(t, hd.Emit(pipeline.OutputName, sample))
	h.ticks(1)

	out, ok := h.filter.Output()
	require.True(t, ok)
	require.Equal(t, sample, out.Data)

	before := h.filter.Stats()
	h.ticks(10)

	out, ok = h.filter.Output()
	require.True(t, ok)
	assert.Equal(t, sample, out.Data, "stale output unchanged")

	after := h.filter.Stats()
	assert.EqualValues(t, 10, after.StaleTicks-before.StaleTicks)
	assert.Equal(t, before.Readbacks, after.Readbacks)
}

// Destroy under concurrent ticks → nothing staged or pushed after teardown.
func TestFilter_DestroyUnderConcurrentTicks(t *testing.T) {
	h := newHarness(t, "fakesink", 32, 32)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.loop.Tick()
			}
		}
	}()

	require.Eventually(t, func() bool {
		hd := h.eng.Last()
		return hd != nil && hd.PushCount() > 5
	}, 2*time.Second, time.Millisecond)

	h.filter.Destroy()

	renders := h.parent.Renders()
	hd := h.eng.Last()
	pushes := hd.PushCount()

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, renders, h.parent.Renders(), "no staging after destroy")
	assert.Equal(t, pushes, hd.PushCount(), "no push after destroy")
	assert.True(t, hd.Released())
	assert.Equal(t, 0, h.eng.Live())
	assert.False(t, h.loop.Registered(h.filter.ID()))

	created, destroyed := h.gfx.SurfaceCounts()
	assert.Equal(t, created, destroyed, "stage surfaces released")
}

// fakesink at 640×480 → plays, push every tick, output never updated.
func TestFilter_FakesinkAt640x480(t *testing.T) {
	h := newHarness(t, "fakesink", 640, 480)
	h.ticks(10)

	hd := h.eng.Last()
	require.NotNil(t, hd)
	assert.Equal(t, pipeline.StatePlaying, hd.State())
	assert.Contains(t, hd.Description(), "width=640,height=480,framerate=30/1")

	require.Eventually(t, func() bool { return hd.PushCount() == 10 }, time.Second, time.Millisecond)
	for _, p := range hd.Pushes() {
		assert.Len(t, p, 640*480*4)
	}

	s := h.filter.Stats()
	assert.EqualValues(t, 10, s.StagedFrames)
	assert.EqualValues(t, 0, s.Readbacks)
	assert.EqualValues(t, 10, s.StaleTicks)
	assert.False(t, s.Pipeline.ReadbackTap)

	_, ok := h.filter.Output()
	assert.False(t, ok, "no readback sink, output never updated")
}

func TestFilter_ResourceErrorRetriesNextTick(t *testing.T) {
	h := newHarness(t, "fakesink", 64, 48)
	h.gfx.FailStageSurfaces = 1

	h.ticks(1)
	s := h.filter.Stats()
	assert.EqualValues(t, 1, s.ResourceErrors)
	assert.EqualValues(t, 0, s.Width, "geometry not committed")
	assert.Equal(t, 0, h.eng.Live())

	h.ticks(1)
	s = h.filter.Stats()
	assert.EqualValues(t, 64, s.Width)
	assert.Equal(t, 1, h.eng.Live())
}

func TestFilter_FaultRebuildsAfterBackoff(t *testing.T) {
	h := newHarness(t, "fakesink", 64, 48, withRetry(pipeline.RetryConfig{
		MaxRetries:    3,
		RetryDelay:    5 * time.Millisecond,
		MaxRetryDelay: 20 * time.Millisecond,
		StableAfter:   time.Minute,
	}))
	h.ticks(1)
	first := h.eng.Last()

	first.InjectFault(errors.New("end of stream"))
	h.ticks(1)
	assert.True(t, first.Released())
	assert.Equal(t, 0, h.eng.Live())

	time.Sleep(10 * time.Millisecond)
	h.ticks(1)

	assert.NotSame(t, first, h.eng.Last())
	assert.Equal(t, 1, h.eng.Live())
	s := h.filter.Stats()
	assert.EqualValues(t, 1, s.Pipeline.Faults)
	assert.EqualValues(t, 2, s.Rebuilds)
}

func TestFilter_FrameRateChangeRebuilds(t *testing.T) {
	h := newHarness(t, "fakesink", 64, 48)
	h.ticks(1)

	h.loop.SetFrameRate(host.FrameRate{Num: 60000, Den: 1001})
	h.filter.Tick(1.0 / 30)
	h.ticks(1)

	assert.Contains(t, h.eng.Last().Description(), "framerate=60000/1001")
	assert.Equal(t, host.FrameRate{Num: 60000, Den: 1001}, h.filter.Stats().FrameRate)
}

func TestFilter_VideoRenderSkipsFilter(t *testing.T) {
	h := newHarness(t, "fakesink", 64, 48)

	h.filter.VideoRender()
	h.filter.VideoRender()
	assert.EqualValues(t, 2, h.source.Skips())
}

func TestFilter_NoParent(t *testing.T) {
	h := newHarness(t, "fakesink", 64, 48)
	h.source.SetParent(nil)

	h.ticks(3)
	s := h.filter.Stats()
	assert.EqualValues(t, 3, s.IdleTicks)
	assert.Equal(t, 0, h.eng.Live())
	assert.EqualValues(t, 0, s.Pipeline.Builds)
}

func TestFilter_SubscribeOutput(t *testing.T) {
	h := newHarness(t, readback, 16, 8, withLoopback())

	ch := make(chan gstoutfilter.Frame, 4)
	require.NoError(t, h.filter.SubscribeOutput("saver", ch))

	h.ticks(1)

	select {
	case f := <-ch:
		assert.Equal(t, "gst-out", f.Source)
		assert.NotEmpty(t, f.TraceID)
		assert.Len(t, f.Data, 16*8*4)
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for output frame")
	}

	require.NoError(t, h.filter.UnsubscribeOutput("saver"))
	assert.Error(t, h.filter.UnsubscribeOutput("saver"))
}

func TestFilter_UpdateAfterDestroy(t *testing.T) {
	h := newHarness(t, "fakesink", 64, 48)
	h.filter.Destroy()
	h.filter.Destroy()

	assert.ErrorIs(t, h.update(t, "fakesink"), gstoutfilter.ErrDestroyed)
	assert.False(t, h.loop.Registered(h.filter.ID()))
}

func TestFilter_SubscribeLatestOutput(t *testing.T) {
	h := newHarness(t, readback, 16, 8, withLoopback())

	latest, err := h.filter.SubscribeLatestOutput("preview")
	require.NoError(t, err)

	h.ticks(3)

	out, ok := h.filter.Output()
	require.True(t, ok)
	f, ok := latest.TryReceive()
	require.True(t, ok)
	assert.Equal(t, out.Seq, f.Seq, "only the newest frame is kept")
	assert.Len(t, f.Data, 16*8*4)

	_, ok = latest.TryReceive()
	assert.False(t, ok, "frame consumed")

	st := h.filter.Stats().Output
	assert.Equal(t, st.Published-1, st.Subscribers["preview"].Dropped)

	require.NoError(t, h.filter.UnsubscribeOutput("preview"))
	_, ok = latest.Receive()
	assert.False(t, ok, "closed on unsubscribe")
	t.Log("✅ Latest-output subscriber sees only the newest frame")
}

// callbackRecorder logs render callback registration around the host loop.
type callbackRecorder struct {
	loop *softhost.RenderLoop
	log  *eventLog
}

func (r *callbackRecorder) AddMainRenderCallback(id string, fn host.RenderFunc) {
	r.log.add("add")
	r.loop.AddMainRenderCallback(id, fn)
}

func (r *callbackRecorder) RemoveMainRenderCallback(id string) {
	r.loop.RemoveMainRenderCallback(id)
	r.log.add("remove")
}

// buildRecorder logs every pipeline build to the same log.
type buildRecorder struct {
	*pipelinetest.FakeEngine
	log *eventLog
}

func (b *buildRecorder) Build(description string) (pipeline.Handle, error) {
	b.log.add("build")
	return b.FakeEngine.Build(description)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := l.events
	l.events = nil
	return ev
}

func TestFilter_UpdateCallbackOrdering(t *testing.T) {
	log := &eventLog{}
	var rec *callbackRecorder
	h := newHarness(t, "fakesink", 64, 48, func(h *harness, o *gstoutfilter.Options) {
		rec = &callbackRecorder{loop: h.loop, log: log}
		o.Callbacks = rec
		o.Engine = &buildRecorder{FakeEngine: h.eng, log: log}
	})
	h.ticks(1)
	log.take()

	require.NoError(t, h.update(t, "queue ! fakesink"))
	assert.Equal(t, []string{"remove", "build", "add"}, log.take(),
		"callback removed before validation and re-added after")
	assert.True(t, h.loop.Registered(h.filter.ID()))

	require.Error(t, h.update(t, "nosuchelement"))
	assert.Equal(t, []string{"remove", "build", "add"}, log.take(),
		"rejected description still re-registers")

	h.ticks(1)
	assert.Equal(t, []string{"build"}, log.take(), "rebuild happens on the render tick")
	t.Log("✅ Update brackets validation with callback remove/add")
}

func TestFilter_UpdateUnderConcurrentTicks(t *testing.T) {
	h := newHarness(t, "fakesink", 64, 48)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				h.loop.Tick()
			}
		}
	}()

	descs := []string{"queue ! fakesink", "fakesink", "nosuchelement"}
	for i := 0; i < 50; i++ {
		_ = h.update(t, descs[i%len(descs)])
	}
	close(stop)
	<-done

	assert.LessOrEqual(t, h.eng.MaxLive(), 1, "never more than one pipeline alive")
	assert.LessOrEqual(t, h.eng.Live(), 1)
	assert.True(t, h.loop.Registered(h.filter.ID()))
	t.Logf("✅ %d updates raced with %d ticks, max live %d", 50, h.loop.Ticks(), h.eng.MaxLive())
}
