// Package config loads the YAML configuration of the gst-out-filter host
// simulator.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete host simulator configuration.
type Config struct {
	Filter    FilterConfig    `yaml:"filter"`
	Host      HostConfig      `yaml:"host"`
	Run       RunConfig       `yaml:"run"`
	Output    OutputConfig    `yaml:"output"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// FilterConfig configures the filter instance.
type FilterConfig struct {
	Name     string `yaml:"name"`
	Pipeline string `yaml:"pipeline"` // user continuation after the BGRA caps
}

// HostConfig describes the simulated host and its parent source.
type HostConfig struct {
	Width      uint32 `yaml:"width"`
	Height     uint32 `yaml:"height"`
	FPSNum     uint32 `yaml:"fps_num"`
	FPSDen     uint32 `yaml:"fps_den"`
	RowPadding uint32 `yaml:"row_padding"` // extra bytes per stage surface row
	Pattern    string `yaml:"pattern"`     // bars, solid
}

// RunConfig scripts a session. Zero values disable the step.
type RunConfig struct {
	DurationS      float64 `yaml:"duration_s"`
	Ticks          uint64  `yaml:"ticks"`
	UpdateAfterS   float64 `yaml:"update_after_s"`
	UpdatePipeline string  `yaml:"update_pipeline"`
	ResizeAfterS   float64 `yaml:"resize_after_s"`
	ResizeWidth    uint32  `yaml:"resize_width"`
	ResizeHeight   uint32  `yaml:"resize_height"`
}

// OutputConfig controls saving of readback frames.
type OutputConfig struct {
	Dir         string `yaml:"dir"` // empty disables saving
	Format      string `yaml:"format"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	EveryN      uint64 `yaml:"every_n"`
}

// TelemetryConfig controls the MQTT stats emitter.
type TelemetryConfig struct {
	Broker    string  `yaml:"broker"` // empty disables telemetry
	ClientID  string  `yaml:"client_id"`
	Topic     string  `yaml:"topic"`
	QoS       byte    `yaml:"qos"`
	IntervalS float64 `yaml:"interval_s"`
}

// Default returns a configuration that runs a 1280x720 colour-bar source
// into a fakesink for ten seconds.
func Default() *Config {
	return &Config{
		Filter: FilterConfig{
			Name:     "gst-out-filter",
			Pipeline: "videoconvert ! fakesink",
		},
		Host: HostConfig{
			Width:   1280,
			Height:  720,
			FPSNum:  30,
			FPSDen:  1,
			Pattern: "bars",
		},
		Run: RunConfig{DurationS: 10},
	}
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
