package version

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Capability records whether a collection exposes a freshness column.
// It encodes as JSON null (unknown), true or false.
type Capability int8

const (
	// CapabilityUnknown means the column has not been probed successfully yet.
	CapabilityUnknown Capability = iota
	// CapabilitySupported means the column exists.
	CapabilitySupported
	// CapabilityUnsupported means the column does not exist and is no longer probed.
	CapabilityUnsupported
)

// String returns the string representation of the capability.
func (c Capability) String() string {
	switch c {
	case CapabilitySupported:
		return "supported"
	case CapabilityUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the capability as null, true or false.
func (c Capability) MarshalJSON() ([]byte, error) {
	switch c {
	case CapabilitySupported:
		return []byte("true"), nil
	case CapabilityUnsupported:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes null, true or false.
func (c *Capability) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*c = CapabilityUnknown
	case "true":
		*c = CapabilitySupported
	case "false":
		*c = CapabilityUnsupported
	default:
		return fmt.Errorf("version: invalid capability %s", data)
	}
	return nil
}

// Capabilities holds the two column flags of one collection.
type Capabilities struct {
	Update Capability `json:"hasUpdateWatermark"`
	Create Capability `json:"hasCreateWatermark"`
}

// CapabilityStore persists the capability table as a single record.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Load returns an empty table (not an error) when nothing was saved.
// - Save replaces the whole table.
type CapabilityStore interface {
	LoadCapabilities(ctx context.Context) (map[string]Capabilities, error)
	SaveCapabilities(ctx context.Context, table map[string]Capabilities) error
}

// MemoryCapabilityStore keeps the serialized table in memory.
type MemoryCapabilityStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryCapabilityStore creates an empty store.
func NewMemoryCapabilityStore() *MemoryCapabilityStore {
	return &MemoryCapabilityStore{}
}

// LoadCapabilities decodes the saved table.
func (s *MemoryCapabilityStore) LoadCapabilities(_ context.Context) (map[string]Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := make(map[string]Capabilities)
	if len(s.data) == 0 {
		return table, nil
	}
	if err := json.Unmarshal(s.data, &table); err != nil {
		return nil, fmt.Errorf("version: decode capabilities: %w", err)
	}
	return table, nil
}

// SaveCapabilities encodes and stores table.
func (s *MemoryCapabilityStore) SaveCapabilities(_ context.Context, table map[string]Capabilities) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("version: encode capabilities: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

// Saves returns how many times the table was written.
func (s *MemoryCapabilityStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

var _ CapabilityStore = (*MemoryCapabilityStore)(nil)
