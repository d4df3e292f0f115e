package version

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/readcache/observe"
	"github.com/jonwraymond/readcache/remote"
)

// ErrNilSource is returned by New without a remote source.
var ErrNilSource = errors.New("version: source is required")

// Probe results reported to observe.Metrics.
const (
	probeValue       = "value"
	probeEmpty       = "empty"
	probeUnsupported = "unsupported"
	probeError       = "error"
)

// Config configures an Oracle.
type Config struct {
	// Source answers freshness probes.
	Source remote.Source

	// Store persists the capability table.
	// Default: NewMemoryCapabilityStore()
	Store CapabilityStore

	// UpdateColumn is probed first.
	// Default: remote.ColumnUpdatedAt
	UpdateColumn string

	// CreateColumn is probed when the update column yields nothing.
	// Default: remote.ColumnCreatedAt
	CreateColumn string

	// MaxConcurrentProbes bounds Watermarks fan-out.
	// Default: 8
	MaxConcurrentProbes int

	Logger  observe.Logger
	Metrics observe.Metrics
}

// Oracle computes collection watermarks with a self-correcting capability table.
//
// Contract:
// - Concurrency: safe for concurrent use; concurrent probes of one collection
//   share a single round trip.
// - Errors: never surfaces probe errors. A missing column flips the
//   capability to unsupported; any other failure means "no watermark this
//   call" and leaves the table untouched.
type Oracle struct {
	source  remote.Source
	store   CapabilityStore
	config  Config
	logger  observe.Logger
	metrics observe.Metrics

	mu     sync.Mutex
	caps   map[string]Capabilities
	loaded bool

	group singleflight.Group
}

// New creates an Oracle.
func New(config Config) (*Oracle, error) {
	if config.Source == nil {
		return nil, ErrNilSource
	}

	// Apply defaults
	if config.Store == nil {
		config.Store = NewMemoryCapabilityStore()
	}
	if config.UpdateColumn == "" {
		config.UpdateColumn = remote.ColumnUpdatedAt
	}
	if config.CreateColumn == "" {
		config.CreateColumn = remote.ColumnCreatedAt
	}
	if config.MaxConcurrentProbes <= 0 {
		config.MaxConcurrentProbes = 8
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}

	return &Oracle{
		source:  config.Source,
		store:   config.Store,
		config:  config,
		logger:  config.Logger.With(observe.F("component", "version.oracle")),
		metrics: config.Metrics,
		caps:    make(map[string]Capabilities),
	}, nil
}

// Load reads the persisted capability table. It runs at most once
// successfully; later calls are no-ops.
func (o *Oracle) Load(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loadLocked(ctx)
}

func (o *Oracle) loadLocked(ctx context.Context) error {
	if o.loaded {
		return nil
	}
	table, err := o.store.LoadCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("version: load capabilities: %w", err)
	}
	for collection, caps := range table {
		o.caps[collection] = caps
	}
	o.loaded = true
	return nil
}

// Capabilities returns the current flags for collection.
func (o *Oracle) Capabilities(collection string) Capabilities {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.caps[collection]
}

// Reset forgets every capability and persists the empty table.
func (o *Oracle) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.caps = make(map[string]Capabilities)
	o.loaded = true
	if err := o.store.SaveCapabilities(ctx, map[string]Capabilities{}); err != nil {
		return fmt.Errorf("version: save capabilities: %w", err)
	}
	return nil
}

type watermarkResult struct {
	value string
	ok    bool
}

// Watermark returns the current watermark of collection, if any.
func (o *Oracle) Watermark(ctx context.Context, collection string) (string, bool) {
	v, _, _ := o.group.Do(collection, func() (any, error) {
		value, ok := o.watermark(ctx, collection)
		return watermarkResult{value: value, ok: ok}, nil
	})
	res := v.(watermarkResult)
	return res.value, res.ok
}

// Watermarks probes collections concurrently. Collections without a
// watermark are absent from the result.
func (o *Oracle) Watermarks(ctx context.Context, collections []string) map[string]string {
	var (
		mu    sync.Mutex
		marks = make(map[string]string, len(collections))
		g     errgroup.Group
	)
	g.SetLimit(o.config.MaxConcurrentProbes)

	seen := make(map[string]struct{}, len(collections))
	for _, collection := range collections {
		if _, dup := seen[collection]; dup {
			continue
		}
		seen[collection] = struct{}{}

		g.Go(func() error {
			if v, ok := o.Watermark(ctx, collection); ok {
				mu.Lock()
				marks[collection] = v
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return marks
}

// IsStale reports whether cached is older than the current watermark of
// collection. An empty cached version is always stale; with no current
// watermark nothing is stale.
func (o *Oracle) IsStale(ctx context.Context, cached, collection string) bool {
	if cached == "" {
		return true
	}
	current, ok := o.Watermark(ctx, collection)
	return ok && Newer(current, cached)
}

func (o *Oracle) watermark(ctx context.Context, collection string) (string, bool) {
	o.mu.Lock()
	if err := o.loadLocked(ctx); err != nil {
		o.logger.Warn(ctx, "capability table unavailable", observe.F("error", err))
	}
	caps := o.caps[collection]
	o.mu.Unlock()

	if caps.Update != CapabilityUnsupported {
		v, ok, conclusive := o.probe(ctx, collection, o.config.UpdateColumn, func(c *Capabilities) *Capability { return &c.Update })
		if !conclusive {
			return "", false
		}
		if ok {
			return v, true
		}
	}

	if caps.Create != CapabilityUnsupported {
		v, ok, _ := o.probe(ctx, collection, o.config.CreateColumn, func(c *Capabilities) *Capability { return &c.Create })
		if ok {
			return v, true
		}
	}
	return "", false
}

// probe queries one column and updates its capability flag. conclusive is
// false when the probe failed for a reason other than a missing column.
func (o *Oracle) probe(ctx context.Context, collection, column string, flag func(*Capabilities) *Capability) (value string, ok, conclusive bool) {
	value, ok, err := o.source.Latest(ctx, collection, column)
	switch {
	case errors.Is(err, remote.ErrUnsupportedColumn):
		o.metrics.RecordProbe(ctx, collection, column, probeUnsupported)
		o.logger.Debug(ctx, "collection has no freshness column",
			observe.F("collection", collection), observe.F("column", column))
		o.setCapability(ctx, collection, flag, CapabilityUnsupported)
		return "", false, true

	case err != nil:
		o.metrics.RecordProbe(ctx, collection, column, probeError)
		o.logger.Warn(ctx, "watermark probe failed",
			observe.F("collection", collection), observe.F("column", column), observe.F("error", err))
		return "", false, false
	}

	if ok {
		o.metrics.RecordProbe(ctx, collection, column, probeValue)
	} else {
		o.metrics.RecordProbe(ctx, collection, column, probeEmpty)
	}
	o.setCapability(ctx, collection, flag, CapabilitySupported)
	return value, ok, true
}

// setCapability updates one flag and persists the table when it changed.
func (o *Oracle) setCapability(ctx context.Context, collection string, flag func(*Capabilities) *Capability, to Capability) {
	o.mu.Lock()
	defer o.mu.Unlock()

	caps := o.caps[collection]
	current := flag(&caps)
	if *current == to {
		return
	}
	*current = to
	o.caps[collection] = caps

	snapshot := make(map[string]Capabilities, len(o.caps))
	for name, c := range o.caps {
		snapshot[name] = c
	}
	if err := o.store.SaveCapabilities(ctx, snapshot); err != nil {
		o.logger.Warn(ctx, "failed to persist capability table", observe.F("error", err))
	}
}
