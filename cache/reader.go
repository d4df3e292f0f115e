package cache

import (
	"context"
	"sync"

	"github.com/jonwraymond/readcache/observe"
	"github.com/jonwraymond/readcache/resilience"
	"github.com/jonwraymond/readcache/version"
)

// Watermarker computes current freshness watermarks for remote collections.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: probe failures are absorbed; a collection without a watermark is
//   simply absent from the result.
type Watermarker interface {
	Watermarks(ctx context.Context, collections []string) map[string]string
}

// Resetter is implemented by watermarkers that keep state which must be
// dropped together with the cache contents.
type Resetter interface {
	Reset(ctx context.Context) error
}

// FetchFunc loads fresh data from the remote source.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	// Middleware traces and meters each read.
	// Default: a no-op middleware
	Middleware *observe.Middleware

	// Prefetch bounds concurrent background warm-ups. When it is full,
	// Prefetch skips the warm-up.
	// Default: a bulkhead of 4 with no waiting
	Prefetch *resilience.Bulkhead

	// Logger receives warnings about failed writes and warm-ups.
	Logger observe.Logger
}

// Reader is the cached read path: store fast path, optional watermark
// check, remote fetch on miss or staleness, then repopulation.
type Reader struct {
	store      *Store
	oracle     Watermarker
	middleware *observe.Middleware
	bulkhead   *resilience.Bulkhead
	logger     observe.Logger

	wg sync.WaitGroup
}

// NewReader creates a reader over store. oracle may be nil, in which case
// entries are never considered stale and no version is recorded.
func NewReader(store *Store, oracle Watermarker, config ReaderConfig) *Reader {
	if config.Middleware == nil {
		config.Middleware = observe.NewMiddleware(nil, nil, config.Logger)
	}
	if config.Prefetch == nil {
		config.Prefetch = resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 4})
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	return &Reader{
		store:      store,
		oracle:     oracle,
		middleware: config.Middleware,
		bulkhead:   config.Prefetch,
		logger:     config.Logger.With(observe.F("component", "cache.reader")),
	}
}

// Store returns the underlying store.
func (r *Reader) Store() *Store {
	return r.store
}

// Wait blocks until all started prefetches have finished.
func (r *Reader) Wait() {
	r.wg.Wait()
}

// ClearAll wipes the store and resets watermark state held by the oracle.
func (r *Reader) ClearAll(ctx context.Context) error {
	if err := r.store.ClearAll(ctx); err != nil {
		return err
	}
	if resetter, ok := r.oracle.(Resetter); ok {
		return resetter.Reset(ctx)
	}
	return nil
}

// Read returns the data cached under key, or fetches and caches it.
//
// When the key's policy requires version checks, the cached entry is served
// only if no collection's current watermark is newer than the entry's
// version. Watermarks are computed before fetch runs, so the recorded
// version never claims data newer than what was read. Errors from fetch are
// returned unchanged and nothing is cached.
func Read[T any](ctx context.Context, r *Reader, key string, collections []string, fetch FetchFunc[T]) (T, error) {
	var result T
	meta := observe.ReadMeta{
		Key:         key,
		Namespace:   Namespace(key),
		Collections: collections,
	}

	read := r.middleware.Wrap(func(ctx context.Context, _ observe.ReadMeta) (observe.Outcome, error) {
		return readThrough(ctx, r, key, collections, fetch, &result)
	})
	_, err := read(ctx, meta)
	return result, err
}

func readThrough[T any](ctx context.Context, r *Reader, key string, collections []string, fetch FetchFunc[T], result *T) (observe.Outcome, error) {
	policy := r.store.Policy(key)
	outcome := observe.OutcomeMiss

	var marks map[string]string
	if entry, ok := r.store.Get(ctx, key); ok {
		fresh := true
		if policy.VersionCheck && r.oracle != nil && len(collections) > 0 {
			marks = r.oracle.Watermarks(ctx, collections)
			fresh = !stale(entry.Version, marks)
		}
		if !fresh {
			outcome = observe.OutcomeStale
		} else if err := entry.Decode(result); err == nil {
			return observe.OutcomeHit, nil
		} else {
			var zero T
			*result = zero
			r.logger.Warn(ctx, "cached entry does not decode, refetching",
				observe.F("cache.key", key), observe.F("error", err))
		}
	}

	if marks == nil && r.oracle != nil && len(collections) > 0 {
		marks = r.oracle.Watermarks(ctx, collections)
	}

	value, err := fetch(ctx)
	if err != nil {
		return observe.OutcomeError, err
	}
	if err := ctx.Err(); err != nil {
		return observe.OutcomeError, err
	}
	*result = value

	var opts []SetOption
	if v := mergedVersion(marks); v != "" {
		opts = append(opts, WithVersion(v))
	}
	if err := r.store.Set(ctx, key, value, opts...); err != nil {
		r.logger.Warn(ctx, "failed to cache fetched data", observe.F("cache.key", key), observe.F("error", err))
	}
	return outcome, nil
}

// Prefetch warms key in the background and reports whether a warm-up was
// started. It is skipped when a live entry already exists or when the
// prefetch bulkhead is full. The warm-up outlives ctx cancellation but
// keeps its values, including the identity.
func Prefetch[T any](ctx context.Context, r *Reader, key string, collections []string, fetch FetchFunc[T]) bool {
	if _, ok := r.store.Get(ctx, key); ok {
		return false
	}
	if err := r.bulkhead.Acquire(ctx); err != nil {
		r.logger.Debug(ctx, "prefetch skipped", observe.F("cache.key", key), observe.F("error", err))
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.bulkhead.Release()

		bg := context.WithoutCancel(ctx)
		if _, err := Read(bg, r, key, collections, fetch); err != nil {
			r.logger.Warn(bg, "prefetch failed", observe.F("cache.key", key), observe.F("error", err))
		}
	}()
	return true
}

// stale reports whether any current watermark is newer than version.
// With no watermark at all there is nothing to compare against and the
// entry is served.
func stale(entryVersion string, marks map[string]string) bool {
	for _, mark := range marks {
		if entryVersion == "" || version.Newer(mark, entryVersion) {
			return true
		}
	}
	return false
}

func mergedVersion(marks map[string]string) string {
	values := make([]string, 0, len(marks))
	for _, v := range marks {
		values = append(values, v)
	}
	return version.Max(values...)
}
