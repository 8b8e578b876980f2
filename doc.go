// Package gstoutfilter implements a video filter that relays its parent
// source's rendered frames into a GStreamer pipeline and reads the
// pipeline's output back as the filter's video output.
//
// # Philosophy
//
// "Never block the render thread." Every render tick stages one BGRA frame,
// hands it to a bounded drop-oldest buffer and returns; the pipeline runs on
// its own threads. A slow pipeline degrades to stale output, never to a
// stalled host.
//
// # Architecture
//
//	render tick → Stager → input buffer (16) → Relay.Push → appsrc
//	                                                          │
//	                                   <user description> ◄───┘
//	                                          │
//	output frame ◄── Relay.Retrieve ◄── return buffer (4) ◄── appsink name=filterout
//
// The composed launch description is
//
//	appsrc name=appsrc is-live=true leaky-type=downstream do-timestamp=true format=time !
//	video/x-raw,format=BGRA,width=W,height=H,framerate=N/D,interlace-mode=progressive !
//	<user description>
//
// where W and H are the parent's size, known only inside a render tick. A
// settings update therefore validates the description immediately with a
// disposable build and flags a real rebuild for the next tick.
//
// # Basic Usage
//
//	plugin := gstoutfilter.NewPlugin(func() pipeline.Engine { return gstengine.New() })
//	if err := plugin.Load(registrar); err != nil {
//	    return err
//	}
//	defer plugin.Unload()
//
//	f, err := plugin.CreateFilter(settings, filterSource, gstoutfilter.Options{
//	    Graphics:  gfx,
//	    Callbacks: renderLoop,
//	    Video:     renderLoop,
//	})
//
// # Thread Safety
//
// Update and Destroy remove the render callback before touching any state;
// the host guarantees removal waits for an in-flight tick. Stats, Output and
// the output subscriptions are safe from any goroutine.
package gstoutfilter
