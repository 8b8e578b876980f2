package pipeline

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Manager.
type Config struct {
	// Name identifies the owning filter in logs.
	Name string
	// Retry controls rebuilds after pipeline faults.
	Retry RetryConfig
	// OnSample receives frames from the OutputName sink, if the description
	// has one. Nil disables readback.
	OnSample SampleFunc
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Stats is a snapshot of manager counters.
type Stats struct {
	State         State
	Generation    uint64 // successful builds, used to tag log lines
	Builds        uint64 // Rebuild calls that produced a playing pipeline
	BuildFailures uint64 // Rebuild and Validate failures
	Validations   uint64
	Releases      uint64
	Faults        uint64
	Live          int64 // handles currently owned (0 or 1)
	ReadbackTap   bool  // OutputName sink is attached
	RetryAttempts int
	GaveUp        bool
}

// Manager owns at most one pipeline handle.
//
// Lifecycle: Uninitialized → Built → Playing → Stopped → Uninitialized.
// Rebuild always stops and releases the previous handle before building a
// new one, even if the new description turns out to be invalid.
//
// Thread-safety: Rebuild/Validate/Teardown/PollFault/RetryDue are called from
// the render goroutine; Push may be called concurrently from a frame delivery
// goroutine. The input endpoint is guarded by mu, so Push never reaches an
// endpoint whose pipeline has been released.
type Manager struct {
	engine Engine
	cfg    Config

	mu           sync.RWMutex
	handle       Handle
	endpoint     Endpoint
	state        State
	composed     string
	playingSince time.Time
	tapped       bool

	// Fault retry state (render goroutine only).
	attempts     int
	retryAt      time.Time
	retryPending bool
	gaveUp       bool

	generation    atomic.Uint64
	builds        atomic.Uint64
	buildFailures atomic.Uint64
	validations   atomic.Uint64
	releases      atomic.Uint64
	faults        atomic.Uint64
	live          atomic.Int64
}

// NewManager creates a manager with no pipeline.
func NewManager(engine Engine, cfg Config) *Manager {
	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{engine: engine, cfg: cfg, state: StateNull}
}

// Rebuild tears down the current pipeline and builds a new one from the user
// description at the given geometry and rate.
//
// Returns a *BuildError on failure; the manager is then left with no
// pipeline and Push reports ErrNoEndpoint.
func (m *Manager) Rebuild(user string, geom Geometry, rate Rate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()

	composed := Compose(user, geom, rate)
	if strings.TrimSpace(user) == "" {
		slog.Info("pipeline: no description configured, running without pipeline",
			"filter", m.cfg.Name,
		)
		return &BuildError{Description: composed, Stage: "build", Err: ErrEmptyDescription}
	}

	slog.Info("pipeline: building",
		"filter", m.cfg.Name,
		"geometry", geom.String(),
		"framerate", rate,
		"description", composed,
	)

	h, err := m.engine.Build(composed)
	if err != nil {
		return m.failLocked(&BuildError{Description: composed, Stage: "build", Err: err})
	}
	m.live.Add(1)

	ep, err := h.Endpoint(InputName)
	if err != nil {
		m.releaseLocked(h)
		return m.failLocked(&BuildError{Description: composed, Stage: "endpoint", Err: err})
	}

	tapped := false
	if m.cfg.OnSample != nil {
		switch err := h.Tap(OutputName, m.cfg.OnSample); {
		case err == nil:
			tapped = true
		case errors.Is(err, ErrNoElement):
			slog.Debug("pipeline: no readback sink, output will not be updated",
				"filter", m.cfg.Name,
				"sink", OutputName,
			)
		default:
			slog.Warn("pipeline: failed to attach readback sink",
				"filter", m.cfg.Name,
				"sink", OutputName,
				"error", err,
			)
		}
	}

	if err := h.SetState(StatePlaying); err != nil {
		m.releaseLocked(h)
		return m.failLocked(&BuildError{Description: composed, Stage: "play", Err: err})
	}

	m.handle = h
	m.endpoint = ep
	m.state = StatePlaying
	m.composed = composed
	m.tapped = tapped
	m.playingSince = m.cfg.Now()
	m.builds.Add(1)
	gen := m.generation.Add(1)

	slog.Info("pipeline: playing",
		"filter", m.cfg.Name,
		"generation", gen,
		"geometry", geom.String(),
		"readback", tapped,
	)
	return nil
}

// Validate builds the description once and discards it, to surface
// configuration errors immediately. It does not touch the running pipeline.
func (m *Manager) Validate(user string, geom Geometry, rate Rate) error {
	m.validations.Add(1)

	composed := Compose(user, geom, rate)
	if strings.TrimSpace(user) == "" {
		return &BuildError{Description: composed, Stage: "build", Err: ErrEmptyDescription}
	}

	h, err := m.engine.Build(composed)
	if err != nil {
		m.buildFailures.Add(1)
		be := &BuildError{Description: composed, Stage: "build", Err: err}
		slog.Warn("pipeline: description rejected",
			"filter", m.cfg.Name,
			"description", composed,
			"error", err,
		)
		return be
	}

	if err := h.SetState(StateNull); err != nil {
		slog.Debug("pipeline: validation pipeline refused NULL", "filter", m.cfg.Name, "error", err)
	}
	if err := h.Release(); err != nil {
		slog.Debug("pipeline: validation pipeline release failed", "filter", m.cfg.Name, "error", err)
	}

	slog.Debug("pipeline: description validated", "filter", m.cfg.Name)
	return nil
}

// Teardown stops and releases the current pipeline. Idempotent.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// Push submits one frame to the input endpoint.
// Returns ErrNoEndpoint when no pipeline is playing.
func (m *Manager) Push(data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.endpoint == nil {
		return ErrNoEndpoint
	}
	return m.endpoint.Push(data)
}

// Active reports whether a pipeline is playing.
func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle != nil
}

// Handles returns the number of pipeline handles the manager owns (0 or 1).
func (m *Manager) Handles() int {
	return int(m.live.Load())
}

// Description returns the composed description of the running pipeline.
func (m *Manager) Description() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.composed
}

// PollFault checks, without blocking, whether the running pipeline reported
// a fault. On a fault the pipeline is torn down and a rebuild is scheduled
// with exponential backoff. Returns true if a fault was handled.
func (m *Manager) PollFault() bool {
	m.mu.RLock()
	h := m.handle
	since := m.playingSince
	m.mu.RUnlock()

	if h == nil {
		return false
	}

	var fault error
	select {
	case fault = <-h.Faults():
	default:
		return false
	}

	now := m.cfg.Now()
	m.faults.Add(1)

	if now.Sub(since) >= m.cfg.Retry.StableAfter {
		m.attempts = 0
	}

	m.Teardown()
	m.attempts++

	if m.attempts > m.cfg.Retry.MaxRetries {
		m.retryPending = false
		m.gaveUp = true
		slog.Error("pipeline: fault retries exhausted, waiting for a settings update",
			"filter", m.cfg.Name,
			"error", fault,
			"max_retries", m.cfg.Retry.MaxRetries,
		)
		return true
	}

	delay := calculateBackoff(m.attempts, m.cfg.Retry)
	m.retryAt = now.Add(delay)
	m.retryPending = true

	slog.Warn("pipeline: fault, scheduling rebuild",
		"filter", m.cfg.Name,
		"error", fault,
		"attempt", m.attempts,
		"max_retries", m.cfg.Retry.MaxRetries,
		"delay", delay,
	)
	return true
}

// RetryDue reports (once) that a scheduled fault rebuild is due.
func (m *Manager) RetryDue() bool {
	if !m.retryPending || m.cfg.Now().Before(m.retryAt) {
		return false
	}
	m.retryPending = false
	return true
}

// ResetRetries clears the fault retry budget (explicit user action).
func (m *Manager) ResetRetries() {
	m.attempts = 0
	m.retryPending = false
	m.gaveUp = false
}

// Stats returns a counter snapshot.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	state, tapped := m.state, m.tapped
	m.mu.RUnlock()

	return Stats{
		State:         state,
		Generation:    m.generation.Load(),
		Builds:        m.builds.Load(),
		BuildFailures: m.buildFailures.Load(),
		Validations:   m.validations.Load(),
		Releases:      m.releases.Load(),
		Faults:        m.faults.Load(),
		Live:          m.live.Load(),
		ReadbackTap:   tapped,
		RetryAttempts: m.attempts,
		GaveUp:        m.gaveUp,
	}
}

// teardownLocked invalidates the endpoint, forces the pipeline to NULL and
// releases it. Callers hold mu.
func (m *Manager) teardownLocked() {
	if m.handle == nil {
		return
	}

	h := m.handle
	m.endpoint = nil
	m.handle = nil
	m.composed = ""
	m.tapped = false
	m.releaseLocked(h)
	m.state = StateNull

	slog.Debug("pipeline: stopped", "filter", m.cfg.Name, "generation", m.generation.Load())
}

func (m *Manager) releaseLocked(h Handle) {
	if err := h.SetState(StateNull); err != nil {
		slog.Warn("pipeline: failed to set NULL state", "filter", m.cfg.Name, "error", err)
	}
	if err := h.Release(); err != nil {
		slog.Warn("pipeline: release failed", "filter", m.cfg.Name, "error", err)
	}
	m.live.Add(-1)
	m.releases.Add(1)
}

func (m *Manager) failLocked(err *BuildError) error {
	m.buildFailures.Add(1)
	slog.Warn("pipeline: build failed, running without pipeline",
		"filter", m.cfg.Name,
		"stage", err.Stage,
		"description", err.Description,
		"error", err.Err,
	)
	return err
}
