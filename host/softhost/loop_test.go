package softhost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyx/gstoutfilter/host"
)

func TestRenderLoop_TickOrder(t *testing.T) {
	l := NewRenderLoop(1920, 1080, host.FrameRate{Num: 30, Den: 1})

	var order []string
	var gotW, gotH uint32
	l.AddMainRenderCallback("b", func(cx, cy uint32) { order = append(order, "b") })
	l.AddMainRenderCallback("a", func(cx, cy uint32) {
		order = append(order, "a")
		gotW, gotH = cx, cy
	})

	l.Tick()
	assert.Equal(t, []string{"a", "b"}, order)
	assert.EqualValues(t, 1920, gotW)
	assert.EqualValues(t, 1080, gotH)

	l.RemoveMainRenderCallback("a")
	assert.False(t, l.Registered("a"))
	assert.True(t, l.Registered("b"))

	l.Tick()
	assert.Equal(t, []string{"a", "b", "b"}, order)
	assert.EqualValues(t, 2, l.Ticks())
}

func TestRenderLoop_RemoveWaitsForTick(t *testing.T) {
	l := NewRenderLoop(64, 64, host.FrameRate{Num: 30, Den: 1})

	entered := make(chan struct{})
	release := make(chan struct{})
	l.AddMainRenderCallback("slow", func(cx, cy uint32) {
		close(entered)
		<-release
	})

	go l.Tick()
	<-entered

	removed := make(chan struct{})
	go func() {
		l.RemoveMainRenderCallback("slow")
		close(removed)
	}()

	select {
	case <-removed:
		t.Fatal("remove returned during an in-flight tick")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for remove")
	}
}

func TestRenderLoop_Run(t *testing.T) {
	l := NewRenderLoop(64, 64, host.FrameRate{Num: 200, Den: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var last uint64
	require.NoError(t, l.Run(ctx, func(n uint64) { last = n }))
	assert.Greater(t, last, uint64(0))

	bad := NewRenderLoop(64, 64, host.FrameRate{})
	assert.Error(t, bad.Run(context.Background(), nil))
}

func TestSettings_Defaults(t *testing.T) {
	s := NewSettings(map[string]string{"a": "1"})
	s.SetDefaultString("b", "2")

	assert.Equal(t, "1", s.String("a"))
	assert.Equal(t, "2", s.String("b"))
	assert.Equal(t, "", s.String("c"))

	s.Set("b", "")
	assert.Equal(t, "", s.String("b"), "explicit empty value overrides default")
}

func TestRegistrar(t *testing.T) {
	r := NewRegistrar()
	info := host.SourceInfo{ID: "x", Name: "X", Kind: host.SourceFilter}

	require.NoError(t, r.RegisterSource(info))
	assert.Error(t, r.RegisterSource(info))
	assert.Error(t, r.RegisterSource(host.SourceInfo{}))

	got, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, "X", got.Name)
}
