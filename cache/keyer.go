package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Keyer builds the cache key of a view from its namespace and query
// parameters.
//
// Contract:
//   - Determinism: equal inputs give equal keys whatever the map order.
//   - Concurrency: safe for concurrent use.
type Keyer interface {
	Key(namespace string, params map[string]any) (string, error)
}

// DefaultKeyer builds keys of the form namespace[:k1=v1&k2=v2].
type DefaultKeyer struct{}

// NewDefaultKeyer returns a DefaultKeyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key sorts parameters by name and encodes each value as JSON, skipping
// nil values, so {"limit": 20, "language": "Urdu"} under "pieces" becomes
//
//	pieces:language="Urdu"&limit=20
//
// encoding/json sorts nested map keys and escapes '&', which keeps the
// encoding canonical and the separator unambiguous. A key that would
// exceed MaxKeyLength keeps its namespace and replaces the parameters with
// "#" and the first 16 hex characters of their SHA-256.
func (k *DefaultKeyer) Key(namespace string, params map[string]any) (string, error) {
	namespace = strings.TrimSpace(namespace)
	if err := ValidateKey(namespace); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(namespace)
	sep := Separator
	for _, name := range slices.Sorted(maps.Keys(params)) {
		v := params[name]
		if v == nil {
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cache: param %q: %w", name, err)
		}
		b.WriteString(sep)
		b.WriteString(name)
		b.WriteByte('=')
		b.Write(encoded)
		sep = "&"
	}

	key := b.String()
	if len(key) > MaxKeyLength {
		sum := sha256.Sum256([]byte(key[len(namespace)+len(Separator):]))
		key = namespace + Separator + "#" + hex.EncodeToString(sum[:8])
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

var _ Keyer = (*DefaultKeyer)(nil)
