// Package pipeline owns the external media pipeline for one filter instance:
// it composes the launch description, builds, plays, tears down and rebuilds
// the pipeline through a minimal Engine capability interface.
package pipeline

import "errors"

// State is a pipeline state as seen by the engine.
type State int

const (
	// StateNull releases all pipeline resources.
	StateNull State = iota
	// StateReady allocates resources without processing.
	StateReady
	// StatePaused prerolls.
	StatePaused
	// StatePlaying processes buffers.
	StatePlaying
)

// String returns the engine-style name of the state.
func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrNoElement is returned by Handle.Endpoint/Tap when the named element
	// does not exist (or has the wrong type).
	ErrNoElement = errors.New("pipeline: no such element")

	// ErrReleased is returned by operations on a released handle.
	ErrReleased = errors.New("pipeline: handle released")
)

// SampleFunc receives raw frame bytes produced by the pipeline. It runs on an
// engine streaming thread and must not retain data after returning.
type SampleFunc func(data []byte)

// Engine builds pipelines from launch descriptions.
type Engine interface {
	// Build parses description and constructs a pipeline in the NULL state.
	Build(description string) (Handle, error)
}

// Handle is one built pipeline. Exclusively owned by its Manager.
type Handle interface {
	SetState(state State) error

	// Endpoint looks up a push endpoint (an application source) by name.
	Endpoint(name string) (Endpoint, error)

	// Tap installs fn on the application sink called name.
	Tap(name string, fn SampleFunc) error

	// Faults delivers asynchronous pipeline errors and end-of-stream. The
	// channel is never closed; it is abandoned on Release.
	Faults() <-chan error

	// Release stops delivery and frees the pipeline. Callers set StateNull
	// first. Idempotent.
	Release() error
}

// Endpoint accepts raw frames for injection into a pipeline.
type Endpoint interface {
	// Push submits one frame. data is copied before Push returns.
	Push(data []byte) error
}
