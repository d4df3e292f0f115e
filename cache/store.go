package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonwraymond/readcache/auth"
	"github.com/jonwraymond/readcache/observe"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	// Prefix is prepended to every key written to the backend.
	// Default: DefaultPrefix
	Prefix string

	// MaxEntryBytes bounds one serialized entry. It never exceeds
	// MaxTotalBytes.
	// Default: DefaultMaxEntryBytes
	MaxEntryBytes int64

	// MaxTotalBytes bounds the aggregate size of all serialized entries.
	// Default: DefaultMaxTotalBytes
	MaxTotalBytes int64

	// EvictFraction is the minimum share of MaxTotalBytes freed by one
	// eviction round.
	// Default: DefaultEvictFraction
	EvictFraction float64

	// Registry resolves key policies.
	// Default: DefaultRegistry()
	Registry *Registry

	// Logger receives warnings about storage failures.
	Logger observe.Logger

	// Metrics receives eviction and invalidation counts.
	Metrics observe.Metrics

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// Stats summarizes the store contents.
type Stats struct {
	Count      int
	TotalBytes int64
	Oldest     time.Time
	Newest     time.Time
}

// SetOption customizes a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	version string
	ttl     time.Duration
}

// WithVersion records the watermark the data was read at.
func WithVersion(v string) SetOption {
	return func(o *setOptions) {
		o.version = v
	}
}

// WithTTL overrides the policy TTL for this entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// indexEntry is the in-memory view of one stored record.
type indexEntry struct {
	size      int64
	storedAt  time.Time
	expiresAt time.Time
	ownerID   string
}

// Store is a bounded, TTL-aware entry map over a Backend.
//
// Every operation runs under one mutex, so Get, Set, Invalidate and
// ClearExpired are atomic with respect to each other. The active identity is
// taken from the context via auth.IdentityFromContext.
//
// Set, Invalidate, ClearExpired and Stats rebuild the index from the backend
// first, so several processes may share one backend and each sees the
// others' writes.
type Store struct {
	backend Backend
	config  StoreConfig
	logger  observe.Logger
	metrics observe.Metrics

	mu    sync.Mutex
	index map[string]indexEntry
	total int64
}

// NewStore creates a store over backend.
func NewStore(backend Backend, config StoreConfig) *Store {
	// Apply defaults
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.MaxEntryBytes <= 0 {
		config.MaxEntryBytes = DefaultMaxEntryBytes
	}
	if config.MaxTotalBytes <= 0 {
		config.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if config.MaxEntryBytes > config.MaxTotalBytes {
		config.MaxEntryBytes = config.MaxTotalBytes
	}
	if config.EvictFraction <= 0 || config.EvictFraction > 1 {
		config.EvictFraction = DefaultEvictFraction
	}
	if config.Registry == nil {
		config.Registry = DefaultRegistry()
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Store{
		backend: backend,
		config:  config,
		logger:  config.Logger.With(observe.F("component", "cache.store")),
		metrics: config.Metrics,
		index:   make(map[string]indexEntry),
	}
}

// Policy returns the policy that applies to key.
func (s *Store) Policy(key string) Policy {
	return s.config.Registry.Resolve(key)
}

// Get returns the live entry stored under key.
//
// Expired, corrupt and identity-mismatched entries are deleted and reported
// as a miss. Get never fails; backend errors are logged and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool) {
	if ValidateKey(key) != nil {
		return Entry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.backend.Load(ctx, s.storageKey(key))
	if err != nil {
		s.logger.Warn(ctx, "cache load failed", observe.F("cache.key", key), observe.F("error", err))
		return Entry{}, false
	}
	if !ok {
		s.forget(key)
		return Entry{}, false
	}

	entry, err := decodeEntry(raw)
	if err == nil && entry.Key != key {
		err = ErrCorruptEntry
	}
	if err != nil {
		s.logger.Debug(ctx, "dropping corrupt cache entry", observe.F("cache.key", key), observe.F("error", err))
		s.remove(ctx, key)
		return Entry{}, false
	}

	principal, _ := principalFrom(ctx)
	if !live(entry.ExpiresAt, entry.OwnerID, s.config.Now(), principal, true) {
		s.remove(ctx, key)
		return Entry{}, false
	}
	return entry, true
}

// Set stores data under key, replacing any previous entry.
//
// The TTL comes from the key's policy unless WithTTL overrides it. Entries
// under a per-identity policy are stamped with the active principal. When the
// aggregate size would exceed MaxTotalBytes, the oldest entries are evicted
// first. A backend quota failure triggers one more eviction round and one
// retry; a second failure is returned wrapped in ErrWriteFailed.
func (s *Store) Set(ctx context.Context, key string, data any, opts ...SetOption) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache: failed to encode data for %q: %w", key, err)
	}

	policy := s.Policy(key)
	now := time.UnixMilli(s.config.Now().UnixMilli())
	entry := Entry{
		Key:       key,
		Data:      payload,
		StoredAt:  now,
		ExpiresAt: now.Add(policy.EffectiveTTL(o.ttl)),
		Version:   o.version,
	}
	if !entry.ExpiresAt.After(entry.StoredAt) {
		entry.ExpiresAt = entry.StoredAt.Add(time.Millisecond)
	}
	if policy.PerIdentity {
		entry.OwnerID, _ = principalFrom(ctx)
	}

	raw, err := entry.encode()
	if err != nil {
		return fmt.Errorf("cache: failed to encode entry %q: %w", key, err)
	}
	size := int64(len(raw))
	if size > s.config.MaxEntryBytes {
		return fmt.Errorf("%w: %q is %d bytes", ErrEntryTooLarge, key, size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadIndex(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	if s.projected(key, size) > s.config.MaxTotalBytes {
		s.evict(ctx, key, size)
		if s.projected(key, size) > s.config.MaxTotalBytes {
			return fmt.Errorf("%w: %w: %q needs %d bytes, %d of %d in use",
				ErrWriteFailed, ErrQuotaExceeded, key, size, s.total, s.config.MaxTotalBytes)
		}
	}

	err = s.backend.Put(ctx, s.storageKey(key), raw)
	if errors.Is(err, ErrQuotaExceeded) {
		s.logger.Warn(ctx, "cache quota exceeded, evicting and retrying", observe.F("cache.key", key))
		s.evict(ctx, key, size)
		err = s.backend.Put(ctx, s.storageKey(key), raw)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	s.forget(key)
	s.index[key] = indexEntry{
		size:      size,
		storedAt:  entry.StoredAt,
		expiresAt: entry.ExpiresAt,
		ownerID:   entry.OwnerID,
	}
	s.total += size
	return nil
}

// Invalidate deletes every entry whose key matches pattern and returns how
// many were removed. See Pattern for the matching rules. An invalid pattern
// removes nothing.
func (s *Store) Invalidate(ctx context.Context, pattern string) int {
	p, err := CompilePattern(pattern)
	if err != nil {
		s.logger.Warn(ctx, "ignoring invalidation pattern", observe.F("cache.pattern", pattern), observe.F("error", err))
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadIndex(ctx); err != nil {
		s.logger.Warn(ctx, "cache index unavailable", observe.F("error", err))
		return 0
	}

	removed := 0
	for _, key := range s.sortedKeys() {
		if !p.Match(key) {
			continue
		}
		if s.remove(ctx, key) {
			removed++
		}
	}

	s.metrics.RecordInvalidation(ctx, p.String(), removed)
	return removed
}

// ClearExpired removes every entry that Get would no longer return and
// reports how many were removed.
//
// Owner checks apply only when ctx carries an identity, so a background
// sweep with a bare context reclaims expired entries without discarding
// other users' live per-identity data.
func (s *Store) ClearExpired(ctx context.Context) int {
	principal, checkOwner := principalFrom(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadIndex(ctx); err != nil {
		s.logger.Warn(ctx, "cache index unavailable", observe.F("error", err))
		return 0
	}

	now := s.config.Now()
	removed := 0
	for _, key := range s.sortedKeys() {
		ie := s.index[key]
		if live(ie.expiresAt, ie.ownerID, now, principal, checkOwner) {
			continue
		}
		if s.remove(ctx, key) {
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the store contents.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadIndex(ctx); err != nil {
		s.logger.Warn(ctx, "cache index unavailable", observe.F("error", err))
		return Stats{}
	}

	stats := Stats{Count: len(s.index), TotalBytes: s.total}
	for _, ie := range s.index {
		if stats.Oldest.IsZero() || ie.storedAt.Before(stats.Oldest) {
			stats.Oldest = ie.storedAt
		}
		if ie.storedAt.After(stats.Newest) {
			stats.Newest = ie.storedAt
		}
	}
	return stats
}

// ClearAll removes every entry under the store prefix.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Clear(ctx, s.config.Prefix); err != nil {
		return fmt.Errorf("cache: clear failed: %w", err)
	}
	s.index = make(map[string]indexEntry)
	s.total = 0
	return nil
}

// Usage reports the aggregate bytes held as of the last index rebuild and
// the configured limit.
func (s *Store) Usage() (used, limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.config.MaxTotalBytes
}

// RunSweeper calls ClearExpired every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ClearExpired(ctx); n > 0 {
				s.logger.Debug(ctx, "swept expired cache entries", observe.F("count", n))
			}
		}
	}
}

func (s *Store) storageKey(key string) string {
	return s.config.Prefix + key
}

// reloadIndex rebuilds the index from the backend. The previous index is
// kept if the scan fails. Corrupt records found while scanning are deleted.
// Caller holds s.mu.
func (s *Store) reloadIndex(ctx context.Context) error {
	prefix := s.config.Prefix
	index := make(map[string]indexEntry, len(s.index))
	var total int64
	var corrupt []string
	err := s.backend.Scan(ctx, prefix, func(storageKey string, raw []byte) error {
		key := storageKey[len(prefix):]
		entry, err := decodeEntry(raw)
		if err != nil || entry.Key != key {
			corrupt = append(corrupt, storageKey)
			return nil
		}
		size := int64(len(raw))
		index[key] = indexEntry{
			size:      size,
			storedAt:  entry.StoredAt,
			expiresAt: entry.ExpiresAt,
			ownerID:   entry.OwnerID,
		}
		total += size
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: failed to load index: %w", err)
	}

	for _, storageKey := range corrupt {
		if err := s.backend.Delete(ctx, storageKey); err != nil {
			s.logger.Warn(ctx, "failed to delete corrupt cache entry", observe.F("cache.key", storageKey), observe.F("error", err))
		}
	}
	s.index = index
	s.total = total
	return nil
}

// evict deletes the oldest entries, except keep, until at least
// max(incoming, EvictFraction*MaxTotalBytes) bytes are freed and incoming
// fits under MaxTotalBytes. Caller holds s.mu.
func (s *Store) evict(ctx context.Context, keep string, incoming int64) {
	target := int64(float64(s.config.MaxTotalBytes) * s.config.EvictFraction)
	if incoming > target {
		target = incoming
	}

	candidates := make([]string, 0, len(s.index))
	for key := range s.index {
		if key != keep {
			candidates = append(candidates, key)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := s.index[candidates[i]], s.index[candidates[j]]
		if a.storedAt.Equal(b.storedAt) {
			return candidates[i] < candidates[j]
		}
		return a.storedAt.Before(b.storedAt)
	})

	var freed int64
	evicted := 0
	for _, key := range candidates {
		if freed >= target && s.projected(keep, incoming) <= s.config.MaxTotalBytes {
			break
		}
		size := s.index[key].size
		if s.remove(ctx, key) {
			freed += size
			evicted++
		}
	}

	if evicted > 0 {
		s.metrics.RecordEvictions(ctx, evicted)
		s.logger.Debug(ctx, "evicted cache entries", observe.F("count", evicted), observe.F("bytes", freed))
	}
}

// projected is the aggregate size after writing incoming bytes under keep.
func (s *Store) projected(keep string, incoming int64) int64 {
	return s.total - s.index[keep].size + incoming
}

// remove deletes key from the backend and the index. Caller holds s.mu.
func (s *Store) remove(ctx context.Context, key string) bool {
	if err := s.backend.Delete(ctx, s.storageKey(key)); err != nil {
		s.logger.Warn(ctx, "cache delete failed", observe.F("cache.key", key), observe.F("error", err))
		return false
	}
	return s.forget(key)
}

// forget drops key from the index. Caller holds s.mu.
func (s *Store) forget(key string) bool {
	ie, ok := s.index[key]
	if !ok {
		return false
	}
	s.total -= ie.size
	delete(s.index, key)
	return true
}

func (s *Store) sortedKeys() []string {
	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// principalFrom returns the active principal and whether ctx carries an
// identity at all. Anonymous callers share one principal.
func principalFrom(ctx context.Context) (string, bool) {
	id := auth.IdentityFromContext(ctx)
	if id == nil {
		return auth.AnonymousPrincipal, false
	}
	if id.IsAnonymous() {
		return auth.AnonymousPrincipal, true
	}
	return id.Principal, true
}
