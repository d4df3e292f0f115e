package invalidation

import "sort"

// FanOut maps a remote collection to the cache patterns its writes affect.
type FanOut map[string][]string

// DefaultFanOut returns the reading platform's fan-out table.
func DefaultFanOut() FanOut {
	return FanOut{
		"pieces":      {"pieces:*", "index:*", "categories:*"},
		"categories":  {"categories:*", "pieces:*"},
		"poets":       {"poets:*", "pieces:*", "index:*"},
		"collections": {"collections:*", "index:*"},
		"profiles":    {"profile:*", "permissions:*"},
	}
}

// Patterns returns the patterns to invalidate for collection. A collection
// without an entry invalidates its own namespace.
func (f FanOut) Patterns(collection string) []string {
	if patterns, ok := f[collection]; ok && len(patterns) > 0 {
		return append([]string(nil), patterns...)
	}
	return []string{collection}
}

// Collections returns the collections with explicit entries, sorted.
func (f FanOut) Collections() []string {
	out := make([]string, 0, len(f))
	for c := range f {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
