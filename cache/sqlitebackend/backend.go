// Package sqlitebackend provides a durable cache.Backend on SQLite.
//
// Entries live in one table keyed by storage key. The database size can be
// capped with Config.MaxPages; a write that would grow past the cap fails
// with cache.ErrQuotaExceeded so the Store can evict and retry. The backend
// also persists the version oracle's capability table as a single record.
package sqlitebackend

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/jonwraymond/readcache/cache"
	"github.com/jonwraymond/readcache/version"
)

//go:embed schema.sql
var schema string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config configures a Backend.
type Config struct {
	// Path is the database file, or MemoryPath.
	Path string

	// MaxPages caps the database size in pages (see PRAGMA max_page_count).
	// Zero leaves SQLite's default.
	MaxPages int

	// BusyTimeout is how long a writer waits for a lock.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// Backend implements cache.Backend and version.CapabilityStore on SQLite.
type Backend struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens the database at config.Path and applies the schema.
func Open(config Config) (*Backend, error) {
	path := strings.TrimSpace(config.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlitebackend: storage path is required")
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	db, err := sqlx.Open("sqlite", dsn(path, config))
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: open: %w", err)
	}
	// One connection keeps page-count pragmas and in-memory databases
	// consistent, and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitebackend: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitebackend: apply schema: %w", err)
	}
	return &Backend{db: db, now: time.Now}, nil
}

func dsn(path string, config Config) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", config.BusyTimeout.Milliseconds()),
	}
	if path != MemoryPath {
		path = filepath.Clean(path)
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	if config.MaxPages > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=max_page_count(%d)", config.MaxPages))
	}
	return path + "?" + strings.Join(pragmas, "&")
}

// Close closes the database.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Load returns the value stored under key.
func (b *Backend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.GetContext(ctx, &value, `SELECT value FROM cache_entries WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitebackend: load %q: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key.
func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, b.now().UTC().UnixMilli(),
	)
	if err != nil {
		return mapError(fmt.Sprintf("put %q", key), err)
	}
	return nil
}

// Delete removes key. Idempotent.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return mapError(fmt.Sprintf("delete %q", key), err)
	}
	return nil
}

type row struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

// Scan calls fn for each key starting with prefix, in key order. Rows are
// read before fn runs, so fn may call back into the backend.
func (b *Backend) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	var rows []row
	err := b.db.SelectContext(ctx, &rows,
		`SELECT key, value FROM cache_entries WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix,
	)
	if err != nil {
		return fmt.Errorf("sqlitebackend: scan %q: %w", prefix, err)
	}
	for _, r := range rows {
		if err := fn(r.Key, r.Value); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every key starting with prefix.
func (b *Backend) Clear(ctx context.Context, prefix string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`,
		len(prefix), prefix,
	)
	if err != nil {
		return mapError(fmt.Sprintf("clear %q", prefix), err)
	}
	return nil
}

// LoadCapabilities returns the saved capability table, or an empty one.
func (b *Backend) LoadCapabilities(ctx context.Context) (map[string]version.Capabilities, error) {
	table := make(map[string]version.Capabilities)

	var payload string
	err := b.db.GetContext(ctx, &payload, `SELECT payload FROM collection_capabilities WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return table, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: load capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &table); err != nil {
		return nil, fmt.Errorf("sqlitebackend: decode capabilities: %w", err)
	}
	return table, nil
}

// SaveCapabilities replaces the capability table.
func (b *Backend) SaveCapabilities(ctx context.Context, table map[string]version.Capabilities) error {
	payload, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("sqlitebackend: encode capabilities: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO collection_capabilities (id, payload, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(payload), b.now().UTC().UnixMilli(),
	)
	if err != nil {
		return mapError("save capabilities", err)
	}
	return nil
}

// mapError translates SQLITE_FULL into cache.ErrQuotaExceeded.
func mapError(op string, err error) error {
	if isFull(err) {
		return fmt.Errorf("sqlitebackend: %s: %w: %w", op, cache.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("sqlitebackend: %s: %w", op, err)
}

func isFull(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3lib.SQLITE_FULL
}

var (
	_ cache.Backend           = (*Backend)(nil)
	_ version.CapabilityStore = (*Backend)(nil)
)
