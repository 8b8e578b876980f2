// Package telemetry publishes periodic filter statistics to an MQTT broker
// as msgpack payloads.
package telemetry

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is one telemetry sample for a filter instance.
type Snapshot struct {
	Filter    string `msgpack:"filter"`
	FilterID  string `msgpack:"filter_id"`
	Timestamp int64  `msgpack:"ts_unix_ms"`

	Width         uint32 `msgpack:"width"`
	Height        uint32 `msgpack:"height"`
	PipelineState string `msgpack:"pipeline_state"`
	Generation    uint64 `msgpack:"generation"`

	Ticks          uint64 `msgpack:"ticks"`
	Rebuilds       uint64 `msgpack:"rebuilds"`
	BuildFailures  uint64 `msgpack:"build_failures"`
	Faults         uint64 `msgpack:"faults"`
	ResourceErrors uint64 `msgpack:"resource_errors"`

	Pushed        uint64 `msgpack:"pushed"`
	PushFailed    uint64 `msgpack:"push_failed"`
	InputDropped  uint64 `msgpack:"input_dropped"`
	Readback      uint64 `msgpack:"readback"`
	ReturnDropped uint64 `msgpack:"return_dropped"`
	StaleTicks    uint64 `msgpack:"stale_ticks"`

	PushFPS     float64 `msgpack:"push_fps"`
	ReadbackFPS float64 `msgpack:"readback_fps"`
	PushStable  bool    `msgpack:"push_stable"`
}

// Encode marshals s to msgpack.
func Encode(s Snapshot) ([]byte, error) {
	b, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return b, nil
}

// Decode unmarshals a msgpack payload produced by Encode.
func Decode(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return s, nil
}
