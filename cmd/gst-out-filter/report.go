package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/devyx/gstoutfilter"
	"github.com/devyx/gstoutfilter/internal/config"
	"github.com/devyx/gstoutfilter/internal/telemetry"
)

func printBanner(cfg *config.Config) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║              GStreamer Output Filter - Host Sim           ║\n")
	fmt.Printf("║                      Version %s                       ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Filter:        %s\n", cfg.Filter.Name)
	fmt.Printf("  Pipeline:      %s\n", cfg.Filter.Pipeline)
	fmt.Printf("  Source:        %dx%d %s @ %d/%d\n", cfg.Host.Width, cfg.Host.Height, cfg.Host.Pattern, cfg.Host.FPSNum, cfg.Host.FPSDen)
	if cfg.Run.Ticks > 0 {
		fmt.Printf("  Stop After:    %s ticks\n", humanize.Comma(int64(cfg.Run.Ticks)))
	} else {
		fmt.Printf("  Stop After:    %s\n", time.Duration(cfg.Run.DurationS*float64(time.Second)))
	}
	if cfg.Output.Dir != "" {
		fmt.Printf("  Output Dir:    %s (%s, every %d)\n", cfg.Output.Dir, cfg.Output.Format, cfg.Output.EveryN)
	} else {
		fmt.Printf("  Output Dir:    (none - frames not saved)\n")
	}
	if cfg.Telemetry.Broker != "" {
		fmt.Printf("  Telemetry:     %s → %s\n", cfg.Telemetry.Broker, cfg.Telemetry.Topic)
	}
	fmt.Printf("\n")
}

func reportStats(ctx context.Context, f *gstoutfilter.Filter, latest *gstoutfilter.LatestOutput, saver *frameSaver, interval time.Duration, start time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last lastOutput

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := f.Stats()
			frameBytes := uint64(s.Width) * uint64(s.Height) * 4

			fmt.Printf("\n")
			fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
			fmt.Printf("│ Filter Statistics (Uptime: %s)\n", time.Since(start).Round(time.Second))
			fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
			fmt.Printf("│ Geometry:           %dx%d\n", s.Width, s.Height)
			fmt.Printf("│ Pipeline:           %s (gen %d)\n", s.Pipeline.State, s.Pipeline.Generation)
			fmt.Printf("│ Ticks:              %s\n", humanize.Comma(int64(s.Ticks)))
			fmt.Printf("│ Frames Pushed:      %s (%s)\n", humanize.Comma(int64(s.Pushed)), humanize.Bytes(s.Pushed*frameBytes))
			fmt.Printf("│ Push FPS:           %6.2f fps (stable: %v)\n", s.PushRate.FPSMean, s.PushRate.IsStable)
			fmt.Printf("│ Readbacks:          %s\n", humanize.Comma(int64(s.Readbacks)))
			fmt.Printf("│ Readback FPS:       %6.2f fps\n", s.ReadbackRate.FPSMean)
			fmt.Printf("│ Stale Ticks:        %s\n", humanize.Comma(int64(s.StaleTicks)))
			if latest != nil {
				if frame, ok := latest.TryReceive(); ok {
					last.observe(frame)
				}
				fmt.Printf("│ Last Output:        %s\n", last.describe(time.Now()))
			}
			if s.Input.Dropped > 0 || s.Return.Dropped > 0 {
				fmt.Printf("│ Dropped:            %d in / %d return\n", s.Input.Dropped, s.Return.Dropped)
			}
			if saver != nil {
				fmt.Printf("│ Frames Saved:       %d (%d failed)\n", saver.saved.Load(), saver.failed.Load())
			}
			if errs := s.Pipeline.BuildFailures + s.Pipeline.Faults + s.ResourceErrors; errs > 0 {
				fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
				fmt.Printf("│ Build Failures:     %6d\n", s.Pipeline.BuildFailures)
				fmt.Printf("│ Pipeline Faults:    %6d\n", s.Pipeline.Faults)
				fmt.Printf("│ Resource Errors:    %6d\n", s.ResourceErrors)
			}
			fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
		}
	}
}

// lastOutput remembers the newest readback frame seen by the stats loop.
type lastOutput struct {
	seen   bool
	seq    uint64
	width  uint32
	height uint32
	at     time.Time
	trace  string
}

func (l *lastOutput) observe(frame gstoutfilter.Frame) {
	l.seen = true
	l.seq = frame.Seq
	l.width = frame.Width
	l.height = frame.Height
	l.at = frame.Timestamp
	l.trace = frame.TraceID
}

func (l *lastOutput) describe(now time.Time) string {
	if !l.seen {
		return "(none yet)"
	}
	return fmt.Sprintf("#%s %dx%d, %s (trace %s)",
		humanize.Comma(int64(l.seq)), l.width, l.height, humanize.RelTime(l.at, now, "ago", "from now"), l.trace)
}

func printFinal(s gstoutfilter.Stats, saver *frameSaver, uptime time.Duration) {
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", uptime.Round(time.Second))
	fmt.Printf("  Render Ticks:       %s\n", humanize.Comma(int64(s.Ticks)))
	fmt.Printf("  Frames Pushed:      %s\n", humanize.Comma(int64(s.Pushed)))
	fmt.Printf("  Readbacks:          %s\n", humanize.Comma(int64(s.Readbacks)))
	fmt.Printf("  Pipeline Rebuilds:  %d\n", s.Rebuilds)
	if saver != nil {
		fmt.Printf("  Frames Saved:       %d\n", saver.saved.Load())
	}
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("\n")
}

// snapshot flattens filter stats into a telemetry sample.
func snapshot(s gstoutfilter.Stats) telemetry.Snapshot {
	return telemetry.Snapshot{
		Filter:         s.Name,
		FilterID:       s.ID,
		Timestamp:      time.Now().UnixMilli(),
		Width:          s.Width,
		Height:         s.Height,
		PipelineState:  s.Pipeline.State.String(),
		Generation:     s.Pipeline.Generation,
		Ticks:          s.Ticks,
		Rebuilds:       s.Rebuilds,
		BuildFailures:  s.Pipeline.BuildFailures,
		Faults:         s.Pipeline.Faults,
		ResourceErrors: s.ResourceErrors,
		Pushed:         s.Pushed,
		PushFailed:     s.PushFailed,
		InputDropped:   s.Input.Dropped,
		Readback:       s.Readbacks,
		ReturnDropped:  s.Return.Dropped,
		StaleTicks:     s.StaleTicks,
		PushFPS:        s.PushRate.FPSMean,
		ReadbackFPS:    s.ReadbackRate.FPSMean,
		PushStable:     s.PushRate.IsStable,
	}
}
