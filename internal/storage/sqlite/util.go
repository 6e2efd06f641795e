package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ccproto/ccp/internal/storage"
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to storage.ErrNotFound.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// marshalList encodes a string slice as a JSON array, never null.
func marshalList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

func marshalMap(v map[string]string) string {
	if len(v) == 0 {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMap(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

// placeholders returns n comma-joined SQL placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// withTx runs fn inside a BEGIN IMMEDIATE transaction on a dedicated
// connection. IMMEDIATE acquires the write lock up front so concurrent
// writers fail fast with SQLITE_BUSY instead of deadlocking at commit;
// busy errors are retried with a short constant backoff.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	begin := func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && strings.Contains(err.Error(), "busy") {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 5), ctx)
	if err := backoff.Retry(begin, bo); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even if ctx is done.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}
