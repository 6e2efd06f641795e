package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ccproto/ccp/internal/types"
)

// schemaVersionKey is the metadata row tracking the applied schema version.
const schemaVersionKey = "schema_version"

// migration is a single versioned schema step. Steps run in order inside a
// transaction each; the recorded version advances only on commit.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "seed_system_actor",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			// @system is the actor for auto-compaction and summary rows.
			// It is reserved from user registration but must exist for the
			// messages.from_participant foreign key.
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO participants (id, capabilities, status, last_seen, default_priority, preferences)
				VALUES (?, '["system"]', 'active', ?, 'M', '{}')`,
				types.SystemActor, time.Now().UTC())
			return err
		},
	},
}

// runMigrations applies all pending migrations and verifies store
// integrity afterwards.
func runMigrations(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d (%s): begin: %w", m.version, m.name, err)
		}
		if err := m.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metadata (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			schemaVersionKey, fmt.Sprintf("%d", m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): record version: %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): commit: %w", m.version, m.name, err)
		}
	}

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx,
		"SELECT CAST(value AS INTEGER) FROM metadata WHERE key = ?", schemaVersionKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
