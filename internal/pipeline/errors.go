package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDescription is returned when the user description is blank.
	ErrEmptyDescription = errors.New("pipeline: empty description")

	// ErrNoEndpoint is returned by Push when no pipeline is running.
	ErrNoEndpoint = errors.New("pipeline: no input endpoint")
)

// BuildError reports a description that could not be turned into a running
// pipeline. It is a configuration error: the filter keeps running without
// external processing.
type BuildError struct {
	// Description is the composed launch description that failed.
	Description string
	// Stage is the step that failed: "build", "endpoint" or "play".
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("pipeline: %s failed: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsBuildError reports whether err is (or wraps) a *BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}
