package gstengine

import (
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/devyx/gstoutfilter/internal/pipeline"
)

// onNewSample maps the appsink buffer and hands its bytes to fn. fn must
// copy what it keeps: the mapping is released on return.
func onNewSample(sink *app.Sink, fn pipeline.SampleFunc) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single bad sample should not stop the stream.
		slog.Warn("gstengine: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstengine: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Debug("gstengine: empty buffer received")
		return gst.FlowOK
	}

	fn(data)
	buffer.Unmap()
	return gst.FlowOK
}
