package gstengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// monitorBus polls the pipeline bus until ctx is cancelled, forwarding
// end-of-stream and errors to faults. Faults are dropped if the channel is
// full: one pending fault is enough to trigger a rebuild.
func monitorBus(ctx context.Context, p *gst.Pipeline, faults chan<- error) {
	bus := p.GetPipelineBus()
	startedAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstengine: context cancelled, stopping bus monitor")
			return
		default:
		}

		// Short timeout keeps Release responsive.
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstengine: end of stream received", "uptime", time.Since(startedAt))
			report(faults, fmt.Errorf("end of stream"))

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyError(gerr)
			slog.Error("gstengine: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"uptime", time.Since(startedAt),
			)
			report(faults, &Fault{Category: category, Message: gerr.Error(), Debug: gerr.DebugString()})

		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			slog.Warn("gstengine: pipeline warning",
				"warning", gerr.Error(),
				"debug", gerr.DebugString(),
			)

		case gst.MessageStateChanged:
			if msg.Source() == p.GetName() {
				from, to := msg.ParseStateChanged()
				slog.Debug("gstengine: pipeline state changed", "from", from, "to", to)
			}
		}
	}
}

func report(faults chan<- error, err error) {
	select {
	case faults <- err:
	default:
	}
}
