package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/readcache/auth"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t testing.TB, backend Backend, clock *fakeClock, mutate func(*StoreConfig)) *Store {
	t.Helper()
	if backend == nil {
		backend = NewMemoryBackend(0)
	}
	if clock == nil {
		clock = newFakeClock()
	}
	cfg := StoreConfig{Now: clock.Now}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewStore(backend, cfg)
}

func as(principal string) context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{
		Principal: principal,
		Method:    auth.MethodSession,
	})
}

func decodeString(t *testing.T, e Entry) string {
	t.Helper()
	var s string
	if err := e.Decode(&s); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)
	ctx := context.Background()

	type piece struct {
		Title  string   `json:"title"`
		Poet   string   `json:"poet"`
		Verses []string `json:"verses"`
	}
	want := piece{Title: "Ghazal", Poet: "Ghalib", Verses: []string{"one", "two"}}

	if err := s.Set(ctx, "piece:42", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	e, ok := s.Get(ctx, "piece:42")
	if !ok {
		t.Fatal("Get() ok = false after Set")
	}
	var got piece
	if err := e.Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Title != want.Title || got.Poet != want.Poet || len(got.Verses) != 2 {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if e.Key != "piece:42" {
		t.Errorf("Entry.Key = %q", e.Key)
	}
}

func TestStore_SetRecordsVersionAndTTL(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, nil, clock, nil)
	ctx := context.Background()

	if err := s.Set(ctx, "categories", []string{"ghazal"}, WithVersion("2024-05-01T00:00:00Z")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	e, _ := s.Get(ctx, "categories")
	if e.Version != "2024-05-01T00:00:00Z" {
		t.Errorf("Version = %q", e.Version)
	}
	if got := e.ExpiresAt.Sub(e.StoredAt); got != 24*time.Hour {
		t.Errorf("policy TTL = %v, want 24h", got)
	}

	if err := s.Set(ctx, "categories", []string{"nazm"}, WithTTL(time.Minute)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	e, _ = s.Get(ctx, "categories")
	if got := e.ExpiresAt.Sub(e.StoredAt); got != time.Minute {
		t.Errorf("override TTL = %v, want 1m", got)
	}
	if e.Version != "" {
		t.Errorf("replacement kept old version %q", e.Version)
	}
}

func TestStore_FullReplacement(t *testing.T) {
	backend := NewMemoryBackend(0)
	s := newTestStore(t, backend, nil, nil)
	ctx := context.Background()

	if err := s.Set(ctx, "x", map[string]any{"a": 1, "b": 2}); err != nil {
		t.Fatalf("Set(dataA) error = %v", err)
	}
	if err := s.Set(ctx, "x", map[string]any{"c": 3}); err != nil {
		t.Fatalf("Set(dataB) error = %v", err)
	}

	e, ok := s.Get(ctx, "x")
	if !ok {
		t.Fatal("Get() ok = false")
	}
	var got map[string]int
	if err := e.Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(got) != 1 || got["c"] != 3 {
		t.Errorf("Get() = %v, want only dataB", got)
	}
	if stats := s.Stats(ctx); stats.Count != 1 {
		t.Errorf("Stats().Count = %d, want 1", stats.Count)
	}

	n := 0
	_ = backend.Scan(ctx, DefaultPrefix, func(string, []byte) error { n++; return nil })
	if n != 1 {
		t.Errorf("backend holds %d records, want 1", n)
	}
}

func TestStore_Expiry(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, nil, clock, nil)
	ctx := context.Background()

	const ttl = 10 * time.Second
	if err := s.Set(ctx, "pieces:limit=20", "data", WithTTL(ttl)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	clock.Advance(ttl - time.Millisecond)
	if _, ok := s.Get(ctx, "pieces:limit=20"); !ok {
		t.Fatal("entry missing just before expiry")
	}

	clock.Advance(2 * time.Millisecond)
	if _, ok := s.Get(ctx, "pieces:limit=20"); ok {
		t.Fatal("entry present just after expiry")
	}
	if stats := s.Stats(ctx); stats.Count != 0 || stats.TotalBytes != 0 {
		t.Errorf("expired entry not removed on read: %+v", stats)
	}
}

func TestStore_IdentityScoping(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)

	if err := s.Set(as("alice"), "profile:me", "alice's profile"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	e, ok := s.Get(as("alice"), "profile:me")
	if !ok {
		t.Fatal("owner cannot read own entry")
	}
	if e.OwnerID != "alice" {
		t.Errorf("OwnerID = %q, want alice", e.OwnerID)
	}

	if _, ok := s.Get(as("bob"), "profile:me"); ok {
		t.Fatal("bob read alice's entry")
	}
	// The mismatched read deleted the entry.
	if _, ok := s.Get(as("alice"), "profile:me"); ok {
		t.Error("entry survived an identity-mismatched read")
	}
}

func TestStore_SharedEntriesIgnoreIdentity(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)

	if err := s.Set(as("alice"), "pieces", "shared"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	e, ok := s.Get(as("bob"), "pieces")
	if !ok {
		t.Fatal("shared entry hidden from another identity")
	}
	if e.OwnerID != "" {
		t.Errorf("shared entry stamped with owner %q", e.OwnerID)
	}
}

func TestStore_AnonymousOwner(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)
	ctx := context.Background()

	if err := s.Set(ctx, "permissions", []string{"read"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	e, ok := s.Get(auth.WithIdentity(ctx, auth.Anonymous()), "permissions")
	if !ok {
		t.Fatal("anonymous identity cannot read anonymous entry")
	}
	if e.OwnerID != "anonymous" {
		t.Errorf("OwnerID = %q, want anonymous", e.OwnerID)
	}
	if _, ok := s.Get(as("carol"), "permissions"); ok {
		t.Error("signed-in user read anonymous per-identity entry")
	}
}

func TestStore_Invalidate(t *testing.T) {
	keys := []string{
		"pieces",
		"pieces:language=\"Urdu\"&limit=20",
		"pieces:single:abc",
		"piecesX",
		"index:home",
		"categories:all",
	}

	tests := []struct {
		pattern string
		removed []string
	}{
		{"pieces:*", []string{"pieces:language=\"Urdu\"&limit=20", "pieces:single:abc"}},
		{"pieces", []string{"pieces", "pieces:language=\"Urdu\"&limit=20", "pieces:single:abc"}},
		{"pieces:single", []string{"pieces:single:abc"}},
		{"pieces:single:abc", []string{"pieces:single:abc"}},
		{"*:all", []string{"categories:all"}},
		{"p*s", []string{"pieces", "pieces:language=\"Urdu\"&limit=20", "pieces:single:abc", "piecesX"}},
		{"poets:*", nil},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			s := newTestStore(t, nil, nil, nil)
			ctx := context.Background()
			for _, k := range keys {
				if err := s.Set(ctx, k, k); err != nil {
					t.Fatalf("Set(%q) error = %v", k, err)
				}
			}

			if got := s.Invalidate(ctx, tt.pattern); got != len(tt.removed) {
				t.Errorf("Invalidate(%q) = %d, want %d", tt.pattern, got, len(tt.removed))
			}

			removed := make(map[string]bool)
			for _, k := range tt.removed {
				removed[k] = true
			}
			for _, k := range keys {
				_, ok := s.Get(ctx, k)
				if ok == removed[k] {
					t.Errorf("after Invalidate(%q): Get(%q) ok = %v", tt.pattern, k, ok)
				}
			}
		})
	}
}

func TestStore_InvalidateRejectsEmptyPattern(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)
	ctx := context.Background()
	_ = s.Set(ctx, "pieces", "x")

	if got := s.Invalidate(ctx, "  "); got != 0 {
		t.Errorf("Invalidate(blank) = %d, want 0", got)
	}
	if _, ok := s.Get(ctx, "pieces"); !ok {
		t.Error("blank pattern removed an entry")
	}
}

// entrySize measures the serialized size of one entry written at clock's time.
func entrySize(t *testing.T, clock *fakeClock, key string, data any) int64 {
	t.Helper()
	probe := newTestStore(t, nil, clock, nil)
	if err := probe.Set(context.Background(), key, data); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	used, _ := probe.Usage()
	return used
}

func TestStore_EvictsOldestFirst(t *testing.T) {
	clock := newFakeClock()
	payload := strings.Repeat("v", 100)
	size := entrySize(t, clock, "pieces:00", payload)

	// Room for five entries; one eviction round frees at least 1.65 entries.
	s := newTestStore(t, nil, clock, func(c *StoreConfig) {
		c.MaxTotalBytes = 5*size + size/2
		c.EvictFraction = 0.3
	})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		clock.Advance(time.Second)
		if err := s.Set(ctx, fmt.Sprintf("pieces:%02d", i), payload); err != nil {
			t.Fatalf("Set(%d) error = %v", i, err)
		}
		used, limit := s.Usage()
		if used > limit {
			t.Fatalf("after Set(%d) used %d > limit %d", i, used, limit)
		}
	}

	for i := 0; i < 6; i++ {
		_, ok := s.Get(ctx, fmt.Sprintf("pieces:%02d", i))
		if want := i >= 2; ok != want {
			t.Errorf("Get(pieces:%02d) ok = %v, want %v", i, ok, want)
		}
	}
	if stats := s.Stats(ctx); stats.Count != 4 || stats.TotalBytes != 4*size {
		t.Errorf("Stats() = %+v, want 4 entries of %d bytes", stats, size)
	}
}

func TestStore_EvictionSparesReplacedKey(t *testing.T) {
	clock := newFakeClock()
	payload := strings.Repeat("v", 100)
	size := entrySize(t, clock, "pieces:00", payload)

	s := newTestStore(t, nil, clock, func(c *StoreConfig) {
		c.MaxTotalBytes = 2*size + size/2
		c.EvictFraction = 0.01
	})
	ctx := context.Background()

	_ = s.Set(ctx, "pieces:00", payload)
	clock.Advance(time.Second)
	_ = s.Set(ctx, "pieces:01", payload)
	clock.Advance(time.Second)

	// Replacing the oldest key fits without evicting anything.
	if err := s.Set(ctx, "pieces:00", strings.Repeat("w", 100)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok := s.Get(ctx, "pieces:01"); !ok {
		t.Error("replacement evicted an unrelated entry")
	}
	e, ok := s.Get(ctx, "pieces:00")
	if !ok || decodeString(t, e) != strings.Repeat("w", 100) {
		t.Error("replacement not stored")
	}
}

func TestStore_QuotaEvictAndRetry(t *testing.T) {
	clock := newFakeClock()
	payload := strings.Repeat("q", 64)
	size := entrySize(t, clock, "pieces:00", payload)
	perRecord := int64(len(DefaultPrefix+"pieces:00")) + size

	// The backend fills up before the store's own limit.
	backend := NewMemoryBackend(3*perRecord + perRecord/2)
	s := newTestStore(t, backend, clock, func(c *StoreConfig) {
		c.MaxTotalBytes = 100 * size
		c.EvictFraction = 0.01
	})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		if err := s.Set(ctx, fmt.Sprintf("pieces:%02d", i), payload); err != nil {
			t.Fatalf("Set(%d) error = %v", i, err)
		}
	}

	if _, ok := s.Get(ctx, "pieces:00"); ok {
		t.Error("oldest entry survived quota eviction")
	}
	for i := 1; i < 4; i++ {
		if _, ok := s.Get(ctx, fmt.Sprintf("pieces:%02d", i)); !ok {
			t.Errorf("pieces:%02d missing after quota retry", i)
		}
	}
}

type fullBackend struct {
	*MemoryBackend
	puts int
}

func (b *fullBackend) Put(context.Context, string, []byte) error {
	b.puts++
	return fmt.Errorf("disk: %w", ErrQuotaExceeded)
}

func TestStore_SecondQuotaFailureIsReported(t *testing.T) {
	backend := &fullBackend{MemoryBackend: NewMemoryBackend(0)}
	s := newTestStore(t, backend, nil, nil)

	err := s.Set(context.Background(), "pieces", "data")
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Set() error = %v, want ErrWriteFailed", err)
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Set() error = %v, want wrapped ErrQuotaExceeded", err)
	}
	if backend.puts != 2 {
		t.Errorf("backend Put called %d times, want exactly 2", backend.puts)
	}
}

func TestStore_EntryTooLarge(t *testing.T) {
	s := newTestStore(t, nil, nil, func(c *StoreConfig) {
		c.MaxEntryBytes = 128
	})

	err := s.Set(context.Background(), "pieces", strings.Repeat("x", 256))
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("Set() error = %v, want ErrEntryTooLarge", err)
	}
}

func TestStore_EntryLimitClampedToTotal(t *testing.T) {
	s := NewStore(NewMemoryBackend(0), StoreConfig{MaxTotalBytes: 1 << 20})
	ctx := context.Background()

	if got := s.config.MaxEntryBytes; got != 1<<20 {
		t.Errorf("MaxEntryBytes = %d, want clamp to %d", got, 1<<20)
	}

	err := s.Set(ctx, "pieces", strings.Repeat("x", 2<<20))
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("Set() error = %v, want ErrEntryTooLarge", err)
	}
	if used, limit := s.Usage(); used > limit {
		t.Errorf("used %d > limit %d", used, limit)
	}
}

type undeletableBackend struct {
	*MemoryBackend
}

func (undeletableBackend) Delete(context.Context, string) error {
	return errors.New("read-only volume")
}

func TestStore_RejectsWriteThatCannotFit(t *testing.T) {
	clock := newFakeClock()
	payload := strings.Repeat("v", 100)
	size := entrySize(t, clock, "pieces:00", payload)

	s := newTestStore(t, undeletableBackend{NewMemoryBackend(0)}, clock, func(c *StoreConfig) {
		c.MaxTotalBytes = size + size/2
	})
	ctx := context.Background()

	if err := s.Set(ctx, "pieces:00", payload); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	err := s.Set(ctx, "pieces:01", payload)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Set() error = %v, want ErrQuotaExceeded", err)
	}
	if used, limit := s.Usage(); used > limit {
		t.Errorf("used %d > limit %d", used, limit)
	}
	if _, ok := s.Get(ctx, "pieces:01"); ok {
		t.Error("rejected entry was stored")
	}
}

func TestStore_SeesWritesFromAnotherStore(t *testing.T) {
	clock := newFakeClock()
	backend := NewMemoryBackend(0)
	ctx := context.Background()

	a := newTestStore(t, backend, clock, nil)
	b := newTestStore(t, backend, clock, nil)

	if stats := a.Stats(ctx); stats.Count != 0 {
		t.Fatalf("Stats().Count = %d on empty backend", stats.Count)
	}
	if err := b.Set(ctx, "pieces:limit=20", "rows"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if stats := a.Stats(ctx); stats.Count != 1 {
		t.Errorf("Stats().Count = %d, want 1 after a write through another store", stats.Count)
	}
	if got := a.Invalidate(ctx, "pieces:*"); got != 1 {
		t.Errorf("Invalidate() = %d, want 1", got)
	}
	if _, ok := b.Get(ctx, "pieces:limit=20"); ok {
		t.Error("entry readable after invalidation through another store")
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)
	ctx := context.Background()

	for _, key := range []string{"", "   ", "a\nb", strings.Repeat("k", MaxKeyLength+1)} {
		if err := s.Set(ctx, key, 1); err == nil {
			t.Errorf("Set(%q) error = nil", key)
		}
		if _, ok := s.Get(ctx, key); ok {
			t.Errorf("Get(%q) ok = true", key)
		}
	}
}

func TestStore_UnencodableData(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)
	if err := s.Set(context.Background(), "pieces", make(chan int)); err == nil {
		t.Error("Set(chan) error = nil")
	}
}

func TestStore_CorruptEntrySelfHeals(t *testing.T) {
	backend := NewMemoryBackend(0)
	s := newTestStore(t, backend, nil, nil)
	ctx := context.Background()

	if err := s.Set(ctx, "pieces", "good"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	_ = backend.Put(ctx, DefaultPrefix+"pieces", []byte("{not json"))

	if _, ok := s.Get(ctx, "pieces"); ok {
		t.Fatal("Get() returned a corrupt entry")
	}
	if _, ok, _ := backend.Load(ctx, DefaultPrefix+"pieces"); ok {
		t.Error("corrupt record not deleted")
	}
	if stats := s.Stats(ctx); stats.Count != 0 {
		t.Errorf("Stats().Count = %d after self-heal", stats.Count)
	}
}

func TestStore_LoadsExistingEntries(t *testing.T) {
	clock := newFakeClock()
	backend := NewMemoryBackend(0)
	ctx := context.Background()

	first := newTestStore(t, backend, clock, nil)
	_ = first.Set(ctx, "pieces", "a")
	_ = first.Set(ctx, "categories", "b")
	_ = backend.Put(ctx, DefaultPrefix+"broken", []byte(`{"key":"broken"}`))
	_ = backend.Put(ctx, "other-app:pieces", []byte("untouched"))

	second := newTestStore(t, backend, clock, nil)
	stats := second.Stats(ctx)
	if stats.Count != 2 {
		t.Errorf("Stats().Count = %d, want 2", stats.Count)
	}
	if want, _ := first.Usage(); stats.TotalBytes != want {
		t.Errorf("Stats().TotalBytes = %d, want %d", stats.TotalBytes, want)
	}
	if _, ok, _ := backend.Load(ctx, DefaultPrefix+"broken"); ok {
		t.Error("corrupt record found while loading was not deleted")
	}
	if _, ok, _ := backend.Load(ctx, "other-app:pieces"); !ok {
		t.Error("record outside the prefix was touched")
	}
}

func TestStore_ClearExpired(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, nil, clock, nil)

	_ = s.Set(context.Background(), "pieces:short", "x", WithTTL(time.Minute))
	_ = s.Set(context.Background(), "pieces:long", "x", WithTTL(time.Hour))
	_ = s.Set(as("alice"), "profile:me", "alice")

	clock.Advance(2 * time.Minute)

	// A bare context reclaims expired entries only.
	if got := s.ClearExpired(context.Background()); got != 1 {
		t.Errorf("ClearExpired(bare) = %d, want 1", got)
	}
	if _, ok := s.Get(as("alice"), "profile:me"); !ok {
		t.Error("background sweep removed a live per-identity entry")
	}

	// Under another identity, alice's entry no longer matches.
	if got := s.ClearExpired(as("bob")); got != 1 {
		t.Errorf("ClearExpired(bob) = %d, want 1", got)
	}
	if stats := s.Stats(context.Background()); stats.Count != 1 {
		t.Errorf("Stats().Count = %d, want 1", stats.Count)
	}
}

func TestStore_ClearExpiredAgreesWithGet(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, nil, clock, nil)
	ctx := context.Background()

	_ = s.Set(ctx, "pieces", "x", WithTTL(time.Second))
	clock.Advance(time.Second)

	// Expiry is exclusive at ExpiresAt for both paths.
	if got := s.ClearExpired(ctx); got != 1 {
		t.Errorf("ClearExpired() at ExpiresAt = %d, want 1", got)
	}

	_ = s.Set(ctx, "pieces", "x", WithTTL(time.Second))
	clock.Advance(time.Second)
	if _, ok := s.Get(ctx, "pieces"); ok {
		t.Error("Get() at ExpiresAt returned the entry")
	}
}

func TestStore_Stats(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, nil, clock, nil)
	ctx := context.Background()

	if stats := s.Stats(ctx); stats.Count != 0 || !stats.Oldest.IsZero() || !stats.Newest.IsZero() {
		t.Errorf("empty Stats() = %+v", stats)
	}

	first := clock.Now()
	_ = s.Set(ctx, "a", 1)
	clock.Advance(time.Minute)
	_ = s.Set(ctx, "b", 2)
	last := clock.Now()

	stats := s.Stats(ctx)
	if stats.Count != 2 {
		t.Errorf("Count = %d", stats.Count)
	}
	if !stats.Oldest.Equal(first) || !stats.Newest.Equal(last) {
		t.Errorf("Oldest/Newest = %v/%v, want %v/%v", stats.Oldest, stats.Newest, first, last)
	}
	if used, _ := s.Usage(); stats.TotalBytes != used || used == 0 {
		t.Errorf("TotalBytes = %d, Usage = %d", stats.TotalBytes, used)
	}
}

func TestStore_ClearAll(t *testing.T) {
	backend := NewMemoryBackend(0)
	s := newTestStore(t, backend, nil, nil)
	ctx := context.Background()

	_ = s.Set(ctx, "pieces", 1)
	_ = s.Set(ctx, "categories", 2)
	_ = backend.Put(ctx, "other-app:x", []byte("keep"))

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if stats := s.Stats(ctx); stats.Count != 0 || stats.TotalBytes != 0 {
		t.Errorf("Stats() after ClearAll = %+v", stats)
	}
	if _, ok, _ := backend.Load(ctx, "other-app:x"); !ok {
		t.Error("ClearAll removed a record outside its prefix")
	}
}

func TestStore_RunSweeper(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, nil, clock, nil)
	_ = s.Set(context.Background(), "pieces", 1, WithTTL(time.Second))
	clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if used, _ := s.Usage(); used == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not remove the expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore(t, nil, nil, func(c *StoreConfig) {
		c.Now = time.Now
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("pieces:%d", (n+j)%10)
				_ = s.Set(ctx, key, j)
				s.Get(ctx, key)
				if j%10 == 0 {
					s.Invalidate(ctx, "pieces:*")
				}
			}
		}(i)
	}
	wg.Wait()

	stats := s.Stats(ctx)
	if used, _ := s.Usage(); stats.TotalBytes != used {
		t.Errorf("index drift: Stats %d vs Usage %d", stats.TotalBytes, used)
	}
}
