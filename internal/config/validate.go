package config

import (
	"fmt"
	"regexp"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Validate checks cfg and fills defaults for optional fields.
func Validate(cfg *Config) error {
	if cfg.Filter.Name == "" {
		return fmt.Errorf("filter.name is required")
	}
	if !namePattern.MatchString(cfg.Filter.Name) {
		return fmt.Errorf("filter.name must match pattern [A-Za-z0-9_-]+")
	}

	if cfg.Host.Width == 0 || cfg.Host.Height == 0 {
		return fmt.Errorf("host.width and host.height must be > 0, got %dx%d", cfg.Host.Width, cfg.Host.Height)
	}
	if cfg.Host.FPSNum == 0 {
		return fmt.Errorf("host.fps_num must be > 0")
	}
	if cfg.Host.FPSDen == 0 {
		cfg.Host.FPSDen = 1
	}
	switch cfg.Host.Pattern {
	case "":
		cfg.Host.Pattern = "bars"
	case "bars", "solid":
	default:
		return fmt.Errorf("host.pattern must be bars or solid, got %q", cfg.Host.Pattern)
	}

	if cfg.Run.DurationS < 0 || cfg.Run.UpdateAfterS < 0 || cfg.Run.ResizeAfterS < 0 {
		return fmt.Errorf("run durations must be >= 0")
	}
	if cfg.Run.DurationS == 0 && cfg.Run.Ticks == 0 {
		return fmt.Errorf("run.duration_s or run.ticks is required")
	}
	if cfg.Run.ResizeAfterS > 0 && (cfg.Run.ResizeWidth == 0 || cfg.Run.ResizeHeight == 0) {
		return fmt.Errorf("run.resize_width and run.resize_height are required with run.resize_after_s")
	}

	if cfg.Output.Dir != "" {
		switch cfg.Output.Format {
		case "":
			cfg.Output.Format = "png"
		case "png", "jpeg":
		default:
			return fmt.Errorf("output.format must be png or jpeg, got %q", cfg.Output.Format)
		}
		if cfg.Output.JPEGQuality == 0 {
			cfg.Output.JPEGQuality = 90
		}
		if cfg.Output.JPEGQuality < 1 || cfg.Output.JPEGQuality > 100 {
			return fmt.Errorf("output.jpeg_quality must be 1-100, got %d", cfg.Output.JPEGQuality)
		}
		if cfg.Output.EveryN == 0 {
			cfg.Output.EveryN = 30
		}
	}

	if cfg.Telemetry.Broker != "" {
		if cfg.Telemetry.QoS > 2 {
			return fmt.Errorf("telemetry.qos must be 0, 1 or 2, got %d", cfg.Telemetry.QoS)
		}
		if cfg.Telemetry.ClientID == "" {
			cfg.Telemetry.ClientID = cfg.Filter.Name
		}
		if cfg.Telemetry.Topic == "" {
			cfg.Telemetry.Topic = "gstoutfilter/stats"
		}
		if cfg.Telemetry.IntervalS <= 0 {
			cfg.Telemetry.IntervalS = 5
		}
	}

	return nil
}
