package cache

import "time"

// Namespaces with entries in the default policy table.
const (
	NamespaceCategories  = "categories"
	NamespacePieces      = "pieces"
	NamespacePiece       = "piece"
	NamespaceProfile     = "profile"
	NamespacePermissions = "permissions"
)

// Policy configures caching behavior for one key namespace.
type Policy struct {
	// TTL is the lifetime of an entry when no override is given.
	TTL time.Duration

	// MaxTTL is the maximum allowed TTL. Override TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration

	// VersionCheck marks namespaces whose entries follow remote writes:
	// reads compare the entry's watermark against the remote collections and
	// realtime notifications invalidate them.
	VersionCheck bool

	// PerIdentity scopes entries to the principal that wrote them.
	PerIdentity bool
}

// DefaultPolicy returns the policy for keys with no table entry.
// TTL: 1 hour, no version check, shared.
func DefaultPolicy() Policy {
	return Policy{
		TTL: time.Hour,
	}
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
// The result is always positive.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.TTL
	}

	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}

	if ttl <= 0 {
		ttl = DefaultPolicy().TTL
	}
	return ttl
}

// Registry maps key namespaces to policies.
//
// Resolution order for a key: exact match on the whole key, then the first
// segment before Separator, then the fallback. Resolve never fails.
type Registry struct {
	policies map[string]Policy
	fallback Policy
}

// NewRegistry creates a registry from a policy table and a fallback.
// A fallback without a positive TTL is replaced by DefaultPolicy.
func NewRegistry(fallback Policy, policies map[string]Policy) *Registry {
	if fallback.TTL <= 0 {
		fallback = DefaultPolicy()
	}
	table := make(map[string]Policy, len(policies))
	for ns, p := range policies {
		table[ns] = p
	}
	return &Registry{policies: table, fallback: fallback}
}

// DefaultRegistry returns the reading platform's policy table.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultPolicy(), map[string]Policy{
		NamespaceCategories:  {TTL: 24 * time.Hour, VersionCheck: true},
		NamespacePieces:      {TTL: time.Hour, VersionCheck: true},
		NamespacePiece:       {TTL: time.Hour, VersionCheck: true},
		NamespaceProfile:     {TTL: 5 * time.Minute, PerIdentity: true},
		NamespacePermissions: {TTL: 5 * time.Minute, PerIdentity: true},
	})
}

// Resolve returns the policy for key. A nil registry resolves every key to
// DefaultPolicy.
func (r *Registry) Resolve(key string) Policy {
	if r == nil {
		return DefaultPolicy()
	}
	if p, ok := r.policies[key]; ok {
		return p
	}
	if p, ok := r.policies[Namespace(key)]; ok {
		return p
	}
	return r.fallback
}
