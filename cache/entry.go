package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one cached value together with its freshness metadata.
type Entry struct {
	Key       string
	Data      json.RawMessage
	StoredAt  time.Time
	ExpiresAt time.Time

	// Version is the watermark recorded when the entry was written; empty means none.
	Version string

	// OwnerID scopes the entry to one principal; empty means shared.
	OwnerID string
}

// Decode unmarshals the cached data into v.
func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// live is the single expiry predicate shared by Get and ClearExpired.
// The owner check is skipped when checkOwner is false.
func live(expiresAt time.Time, ownerID string, now time.Time, principal string, checkOwner bool) bool {
	if !now.Before(expiresAt) {
		return false
	}
	if checkOwner && ownerID != "" && ownerID != principal {
		return false
	}
	return true
}

// record is the serialized form. Timestamps are epoch milliseconds and
// missing version/owner encode as null.
type record struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	StoredAt  int64           `json:"storedAt"`
	ExpiresAt int64           `json:"expiresAt"`
	Version   *string         `json:"version"`
	OwnerID   *string         `json:"ownerId"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (e Entry) encode() ([]byte, error) {
	return json.Marshal(record{
		Key:       e.Key,
		Data:      e.Data,
		StoredAt:  e.StoredAt.UnixMilli(),
		ExpiresAt: e.ExpiresAt.UnixMilli(),
		Version:   optional(e.Version),
		OwnerID:   optional(e.OwnerID),
	})
}

func decodeEntry(raw []byte) (Entry, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	if rec.Key == "" || len(rec.Data) == 0 || rec.ExpiresAt <= rec.StoredAt {
		return Entry{}, ErrCorruptEntry
	}

	e := Entry{
		Key:       rec.Key,
		Data:      rec.Data,
		StoredAt:  time.UnixMilli(rec.StoredAt),
		ExpiresAt: time.UnixMilli(rec.ExpiresAt),
	}
	if rec.Version != nil {
		e.Version = *rec.Version
	}
	if rec.OwnerID != nil {
		e.OwnerID = *rec.OwnerID
	}
	return e, nil
}
