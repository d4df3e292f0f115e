package cache

import (
	"context"
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Separator splits a key into namespace and parameter segments.
const Separator = ":"

// Size limits applied when a StoreConfig leaves them zero.
const (
	DefaultMaxEntryBytes int64 = 5 << 20
	DefaultMaxTotalBytes int64 = 10 << 20

	// DefaultEvictFraction is the share of MaxTotalBytes freed at minimum
	// whenever eviction runs.
	DefaultEvictFraction = 0.2

	// DefaultPrefix is prepended to every key written to a Backend.
	DefaultPrefix = "readcache:"
)

// Sentinel errors for cache operations.
var (
	ErrInvalidKey     = errors.New("cache: key is invalid")
	ErrKeyTooLong     = errors.New("cache: key exceeds max length")
	ErrInvalidPattern = errors.New("cache: invalidation pattern is invalid")
	ErrEntryTooLarge  = errors.New("cache: entry exceeds max size")
	ErrCorruptEntry   = errors.New("cache: stored entry is corrupt")

	// ErrQuotaExceeded is returned by a Backend whose storage is full.
	ErrQuotaExceeded = errors.New("cache: storage quota exceeded")

	// ErrWriteFailed is returned by Store.Set when a write still fails after
	// one round of eviction and retry.
	ErrWriteFailed = errors.New("cache: write failed")
)

// Backend is the durable byte store underneath a Store.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Put returns an error wrapping ErrQuotaExceeded when storage is full;
//   Load returns (nil, false, nil) on miss; Delete is idempotent.
type Backend interface {
	// Load returns the raw value stored under key.
	Load(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Scan calls fn for every key starting with prefix.
	// Returning an error from fn stops the scan and is returned by Scan.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Clear removes every key starting with prefix.
	Clear(ctx context.Context, prefix string) error
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// Namespace returns the first segment of key, before the first Separator.
func Namespace(key string) string {
	if i := strings.Index(key, Separator); i >= 0 {
		return key[:i]
	}
	return key
}
