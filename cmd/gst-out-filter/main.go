// Command gst-out-filter runs the filter against a simulated host: a
// software render loop ticking a test-pattern source at the configured frame
// rate, with the filter's pipeline running on the real GStreamer engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/devyx/gstoutfilter"
	"github.com/devyx/gstoutfilter/host"
	"github.com/devyx/gstoutfilter/host/softhost"
	"github.com/devyx/gstoutfilter/internal/config"
	"github.com/devyx/gstoutfilter/internal/gstengine"
	"github.com/devyx/gstoutfilter/internal/pipeline"
	"github.com/devyx/gstoutfilter/internal/telemetry"
)

const version = "v0.1.0"

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML configuration file (optional)")
	pipelineDesc := pflag.StringP("pipeline", "p", "", "Pipeline continuation after the BGRA caps (overrides filter.pipeline)")
	width := pflag.Uint32("width", 0, "Parent source width (overrides host.width)")
	height := pflag.Uint32("height", 0, "Parent source height (overrides host.height)")
	duration := pflag.Duration("duration", 0, "Run time (overrides run.duration_s)")
	ticks := pflag.Uint64("ticks", 0, "Stop after this many render ticks (overrides run.ticks)")
	outputDir := pflag.StringP("output", "o", "", "Directory to save readback frames (overrides output.dir)")
	broker := pflag.String("broker", "", "MQTT broker for telemetry, e.g. tcp://localhost:1883 (overrides telemetry.broker)")
	statsInterval := pflag.Duration("stats-interval", 5*time.Second, "Interval between stats reports (0 disables)")
	debug := pflag.BoolP("debug", "d", false, "Enable debug logging")
	showVersion := pflag.Bool("version", false, "Show version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("gst-out-filter %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	if pflag.CommandLine.Changed("pipeline") {
		cfg.Filter.Pipeline = *pipelineDesc
	}
	if *width > 0 {
		cfg.Host.Width = *width
	}
	if *height > 0 {
		cfg.Host.Height = *height
	}
	if *duration > 0 {
		cfg.Run.DurationS = duration.Seconds()
	}
	if *ticks > 0 {
		cfg.Run.Ticks = *ticks
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *broker != "" {
		cfg.Telemetry.Broker = *broker
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := run(cfg, *statsInterval); err != nil {
		slog.Error("gst-out-filter: run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, statsInterval time.Duration) error {
	printBanner(cfg)

	rate := host.FrameRate{Num: cfg.Host.FPSNum, Den: cfg.Host.FPSDen}
	gfx := softhost.NewGraphics(cfg.Host.RowPadding)
	loop := softhost.NewRenderLoop(cfg.Host.Width, cfg.Host.Height, rate)
	parent := softhost.NewPatternSource("pattern", gfx, cfg.Host.Width, cfg.Host.Height, softhost.Pattern(cfg.Host.Pattern))
	source := softhost.NewFilterSource(cfg.Filter.Name, parent)

	reg := softhost.NewRegistrar()
	plugin := gstoutfilter.NewPlugin(func() pipeline.Engine { return gstengine.New() })
	if err := plugin.Load(reg); err != nil {
		return err
	}
	defer plugin.Unload()

	settings := softhost.NewSettings(nil)
	if info, ok := reg.Lookup(gstoutfilter.SourceID); ok && info.Defaults != nil {
		info.Defaults(settings)
	}
	settings.Set(gstoutfilter.SettingPipeline, cfg.Filter.Pipeline)

	filter, err := plugin.CreateFilter(settings, source, gstoutfilter.Options{
		Graphics:  gfx,
		Callbacks: loop,
		Video:     loop,
	})
	if err != nil {
		return fmt.Errorf("failed to create filter: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Run.DurationS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Run.DurationS*float64(time.Second)))
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var saver *frameSaver
	if cfg.Output.Dir != "" {
		saver, err = newFrameSaver(cfg.Output)
		if err != nil {
			return err
		}
		ch := make(chan gstoutfilter.Frame, 4)
		if err := filter.SubscribeOutput("saver", ch); err != nil {
			return err
		}
		go saver.run(ctx, ch)
	}

	if cfg.Telemetry.Broker != "" {
		emitter := telemetry.NewEmitter(telemetry.Config{
			Broker:   cfg.Telemetry.Broker,
			ClientID: cfg.Telemetry.ClientID,
			Topic:    cfg.Telemetry.Topic,
			QoS:      cfg.Telemetry.QoS,
		})
		if err := emitter.Connect(ctx); err != nil {
			slog.Warn("gst-out-filter: telemetry disabled", "broker", cfg.Telemetry.Broker, "error", err)
		} else {
			defer emitter.Disconnect()
			interval := time.Duration(cfg.Telemetry.IntervalS * float64(time.Second))
			go emitter.Run(ctx, interval, func() telemetry.Snapshot { return snapshot(filter.Stats()) })
		}
	}

	startTime := time.Now()
	if statsInterval > 0 {
		latest, err := filter.SubscribeLatestOutput("stats")
		if err != nil {
			return err
		}
		go reportStats(ctx, filter, latest, saver, statsInterval, startTime)
	}

	script := newScript(cfg.Run, settings, filter, parent)
	tickSeconds := float32(1 / rate.FPS())

	fmt.Printf("Press Ctrl+C to stop gracefully\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	err = loop.Run(ctx, func(n uint64) {
		filter.Tick(tickSeconds)
		script.step(time.Since(startTime))
		if cfg.Run.Ticks > 0 && n >= cfg.Run.Ticks {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("\n")
	printFinal(filter.Stats(), saver, time.Since(startTime))
	slog.Info("gst-out-filter: completed")
	return nil
}

// script applies the scripted settings update and parent resize once each,
// after their configured delay.
type script struct {
	run      config.RunConfig
	settings *softhost.Settings
	filter   *gstoutfilter.Filter
	parent   *softhost.PatternSource

	updated bool
	resized bool
}

func newScript(run config.RunConfig, settings *softhost.Settings, filter *gstoutfilter.Filter, parent *softhost.PatternSource) *script {
	return &script{run: run, settings: settings, filter: filter, parent: parent}
}

func (s *script) step(elapsed time.Duration) {
	if !s.updated && s.run.UpdateAfterS > 0 && elapsed.Seconds() >= s.run.UpdateAfterS {
		s.updated = true
		slog.Info("gst-out-filter: scripted update", "pipeline", s.run.UpdatePipeline)
		s.settings.Set(gstoutfilter.SettingPipeline, s.run.UpdatePipeline)
		if err := s.filter.Update(s.settings); err != nil {
			slog.Warn("gst-out-filter: scripted update rejected", "error", err)
		}
	}

	if !s.resized && s.run.ResizeAfterS > 0 && elapsed.Seconds() >= s.run.ResizeAfterS {
		s.resized = true
		slog.Info("gst-out-filter: scripted resize",
			"width", s.run.ResizeWidth,
			"height", s.run.ResizeHeight,
		)
		s.parent.SetSize(s.run.ResizeWidth, s.run.ResizeHeight)
	}
}
