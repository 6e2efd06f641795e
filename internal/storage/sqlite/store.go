// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/ccproto/ccp/internal/storage"
)

// Verify Store implements storage.Storage at compile time.
var _ storage.Storage = (*Store)(nil)

// Store implements storage.Storage backed by an embedded SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

// setupWASMCache configures WASM compilation caching to reduce SQLite
// startup time. Falls back to an in-memory cache if the filesystem cache
// cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "ccp", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// pragmas configure write-ahead logging support, normal synchronous mode,
// foreign keys, and a memory temp store.
const connPragmas = "_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_time_format=sqlite"

// Open creates or opens the coordination database at path. Pass ":memory:"
// for an isolated in-memory database (tests).
func Open(ctx context.Context, path string) (*Store, error) {
	var connStr string
	isInMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if path == ":memory:" {
		// Shared in-memory database so multiple pooled connections see the
		// same data. WAL does not apply to in-memory databases.
		connStr = "file::memory:?cache=shared&" + connPragmas
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?" + connPragmas
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isInMemory {
		// In-memory databases are isolated per connection by default.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports 1 writer + N readers; cap the pool accordingly.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !isInMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if !isInMemory {
		// The store holds coordination content for the whole project;
		// restrict it to the owning user.
		if err := os.Chmod(path, 0o600); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set database mode: %w", err)
		}
	}

	return &Store{db: db, dbPath: path}, nil
}

// Close closes the database handle. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	// Compact the WAL back into the main file on clean shutdown.
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}
