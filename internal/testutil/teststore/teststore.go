// Package teststore provides an isolated coordination environment per test.
//
// All helper methods operate through the storage.Storage interface and the
// engine components, so tests exercise the same wiring as the tool
// dispatcher. Each environment gets its own data directory and store file
// under t.TempDir.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    env := teststore.NewEnv(t)
//	    env.Register("@backend", "api")
//	    msg := env.Send("@backend", []string{"@mobile"}, "subject", "content")
//	}
package teststore

import (
	"context"
	"testing"
	"time"

	"github.com/ccproto/ccp/internal/compact"
	"github.com/ccproto/ccp/internal/index"
	"github.com/ccproto/ccp/internal/lockfile"
	"github.com/ccproto/ccp/internal/messages"
	"github.com/ccproto/ccp/internal/registry"
	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/storage/sqlite"
	"github.com/ccproto/ccp/internal/types"
)

// fastLock keeps lock contention in tests from burning the full 5s budget.
var fastLock = lockfile.Options{MaxRetries: 3, RetryDelay: 10 * time.Millisecond}

// New creates an isolated file-backed storage.Storage for a single test.
// The store and its directory are cleaned up when the test completes.
func New(t testing.TB) storage.Storage {
	t.Helper()
	store, _ := newStore(t)
	return store
}

func newStore(t testing.TB) (storage.Storage, string) {
	t.Helper()
	dataDir := t.TempDir()
	store, err := sqlite.Open(context.Background(), messages.DatabasePath(dataDir))
	if err != nil {
		t.Fatalf("teststore: failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, dataDir
}

// Env bundles the engine components over one isolated store.
type Env struct {
	T         testing.TB
	Store     storage.Storage
	Registry  *registry.Registry
	Manager   *messages.Manager
	Indexer   *index.Indexer
	Compactor *compact.Compactor
	DataDir   string
}

// NewEnv creates a fully wired environment with fast lock retry tuning.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	store, dataDir := newStore(t)

	reg := registry.New(store)
	mgr := messages.New(store, reg, dataDir)
	mgr.SetLockOptions(fastLock)
	comp := compact.New(store, dataDir)
	comp.SetLockOptions(fastLock)

	return &Env{
		T:         t,
		Store:     store,
		Registry:  reg,
		Manager:   mgr,
		Indexer:   index.New(store, reg),
		Compactor: comp,
		DataDir:   dataDir,
	}
}

// Register adds an active participant with the given capabilities.
func (e *Env) Register(id string, capabilities ...string) *types.Participant {
	e.T.Helper()
	p, err := e.Registry.Register(context.Background(), &types.Participant{
		ID:           id,
		Capabilities: capabilities,
	})
	if err != nil {
		e.T.Fatalf("teststore: register %s: %v", id, err)
	}
	return p
}

// Send creates a sync/M message and fails the test on error.
func (e *Env) Send(from string, to []string, subject, content string) *types.Message {
	e.T.Helper()
	msg, err := e.Manager.Create(context.Background(), messages.CreateInput{
		To:      to,
		Type:    types.TypeSync,
		Subject: subject,
		Content: content,
	}, from)
	if err != nil {
		e.T.Fatalf("teststore: send from %s: %v", from, err)
	}
	return msg
}
