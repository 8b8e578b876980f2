package gstoutfilter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/devyx/gstoutfilter/host"
	"github.com/devyx/gstoutfilter/internal/pipeline"
)

// Plugin owns process-wide state: the pipeline engine (initialized once on
// Load) and the filter type registration.
type Plugin struct {
	newEngine func() pipeline.Engine

	mu      sync.Mutex
	loaded  bool
	engine  pipeline.Engine
	filters map[string]*Filter
}

// NewPlugin returns an unloaded plugin. newEngine is called once, by Load.
func NewPlugin(newEngine func() pipeline.Engine) *Plugin {
	return &Plugin{newEngine: newEngine, filters: make(map[string]*Filter)}
}

// SourceInfo describes the filter type to the host.
func SourceInfo() host.SourceInfo {
	return host.SourceInfo{
		ID:    SourceID,
		Name:  "GStreamer Output Filter",
		Kind:  host.SourceFilter,
		Flags: host.OutputVideo,
		Defaults: func(d host.DefaultSettings) {
			d.SetDefaultString(SettingPipeline, "")
		},
	}
}

// Load initializes the engine and registers the filter type. It must be
// called exactly once; a second call returns ErrAlreadyLoaded.
func (p *Plugin) Load(reg host.Registrar) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return ErrAlreadyLoaded
	}

	if err := reg.RegisterSource(SourceInfo()); err != nil {
		return fmt.Errorf("gst-out-filter: failed to register %s: %w", SourceID, err)
	}

	p.engine = p.newEngine()
	p.loaded = true
	slog.Info("gst-out-filter: plugin loaded", "source_id", SourceID)
	return nil
}

// CreateFilter attaches a new filter instance to source. opts.Engine is
// filled with the plugin's engine.
func (p *Plugin) CreateFilter(settings host.Settings, source host.FilterSource, opts Options) (*Filter, error) {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return nil, ErrNotLoaded
	}
	opts.Engine = p.engine
	p.mu.Unlock()

	f, err := NewFilter(settings, source, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.filters[f.ID()] = f
	p.mu.Unlock()
	return f, nil
}

// DestroyFilter destroys f and forgets it.
func (p *Plugin) DestroyFilter(f *Filter) {
	p.mu.Lock()
	delete(p.filters, f.ID())
	p.mu.Unlock()

	f.Destroy()
}

// Filters returns the live filter count.
func (p *Plugin) Filters() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.filters)
}

// Unload destroys remaining filters and releases the engine. Idempotent.
func (p *Plugin) Unload() {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return
	}
	filters := p.filters
	p.filters = make(map[string]*Filter)
	p.loaded = false
	p.engine = nil
	p.mu.Unlock()

	for _, f := range filters {
		f.Destroy()
	}
	slog.Info("gst-out-filter: plugin unloaded", "destroyed_filters", len(filters))
}
