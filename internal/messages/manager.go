// Package messages implements the message lifecycle: creation, retrieval,
// response, resolution, thread closure, and expiry archival. All mutations
// run under the cross-process directory lock; the store transaction commits
// before any sidecar file is moved.
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ccproto/ccp/internal/index"
	"github.com/ccproto/ccp/internal/lockfile"
	"github.com/ccproto/ccp/internal/registry"
	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

const (
	// DefaultListLimit applies when get_messages has no explicit limit.
	DefaultListLimit = 20

	// MaxListLimit clamps caller-specified limits.
	MaxListLimit = 100
)

// Manager owns the message lifecycle over the shared store and data
// directory.
type Manager struct {
	store    storage.Storage
	reg      *registry.Registry
	dataDir  string
	lockOpts lockfile.Options
	clock    func() time.Time
}

// New creates a Manager rooted at dataDir.
func New(store storage.Storage, reg *registry.Registry, dataDir string) *Manager {
	return &Manager{
		store:   store,
		reg:     reg,
		dataDir: dataDir,
		clock:   time.Now,
	}
}

// SetClock overrides the time source (tests).
func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// SetLockOptions overrides lock acquisition tuning (tests).
func (m *Manager) SetLockOptions(opts lockfile.Options) {
	m.lockOpts = opts
}

// DataDir returns the coordination data directory.
func (m *Manager) DataDir() string {
	return m.dataDir
}

// withLock runs fn inside a scoped acquisition of the directory lock.
func (m *Manager) withLock(ctx context.Context, fn func() error) error {
	lock, err := lockfile.Acquire(ctx, m.dataDir, m.lockOpts)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// CreateInput is the caller-facing shape of a new message.
type CreateInput struct {
	To                []string
	Type              types.MessageType
	Priority          types.Priority
	Subject           string
	Content           string
	ResponseRequired  bool
	ExpiresInHours    float64 // 0 selects the 168h default
	Tags              []string
	SuggestedApproach json.RawMessage

	// threadID joins an existing thread (responses); empty derives a new
	// thread from the message's own id.
	threadID string
}

// Create validates the input, assigns identity and thread, checks the
// dependency graph for cycles, writes oversized content to a sidecar, and
// inserts the row atomically under the directory lock.
func (m *Manager) Create(ctx context.Context, in CreateInput, from string) (*types.Message, error) {
	if err := m.reg.CanSend(ctx, from, in.To); err != nil {
		return nil, err
	}
	msg, err := m.buildMessage(ctx, in, from)
	if err != nil {
		return nil, err
	}

	err = m.withLock(ctx, func() error {
		return m.persistNew(ctx, msg, in.Content)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// buildMessage performs validation and derivation without touching the
// lock or the store write path.
func (m *Manager) buildMessage(ctx context.Context, in CreateInput, from string) (*types.Message, error) {
	if len(in.To) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", storage.ErrValidation)
	}
	if !in.Type.IsValid() {
		return nil, fmt.Errorf("%w: invalid message type %q", storage.ErrValidation, in.Type)
	}
	if in.Priority == "" {
		// Fall back to the sender's configured default.
		if sender, err := m.reg.Get(ctx, from); err == nil && sender.DefaultPriority != "" {
			in.Priority = sender.DefaultPriority
		} else {
			in.Priority = types.PriorityMedium
		}
	}
	if !in.Priority.IsValid() {
		return nil, fmt.Errorf("%w: invalid priority %q", storage.ErrValidation, in.Priority)
	}
	if in.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", storage.ErrValidation)
	}
	if len(in.Subject) > types.MaxSubjectLength {
		return nil, fmt.Errorf("%w: subject exceeds %d characters", storage.ErrValidation, types.MaxSubjectLength)
	}
	if in.Content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrValidation)
	}
	if in.ExpiresInHours < 0 {
		return nil, fmt.Errorf("%w: expires_in_hours must be positive", storage.ErrValidation)
	}

	now := m.clock().UTC()
	id := types.NewMessageID(in.Type, now)
	threadID := in.threadID
	if threadID == "" {
		threadID = types.ThreadIDFor(id)
	}

	deps, tags := types.ExtractDependencies(in.Tags)
	if err := m.ensureAcyclic(ctx, id, deps); err != nil {
		return nil, err
	}

	hours := in.ExpiresInHours
	if hours == 0 {
		hours = types.DefaultExpiryHours
	}
	expiresAt := now.Add(time.Duration(hours * float64(time.Hour)))

	summary := types.Summarize(in.Content)
	contentRef := ""
	if len(in.Content) > types.InlineContentLimit {
		contentRef = ActiveContentRef(threadID, id)
	}

	return &types.Message{
		ID:                id,
		ThreadID:          threadID,
		From:              from,
		To:                in.To,
		Type:              in.Type,
		Priority:          in.Priority,
		Status:            types.StatusPending,
		Subject:           in.Subject,
		Summary:           summary,
		ContentRef:        contentRef,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         &expiresAt,
		ResponseRequired:  in.ResponseRequired,
		Dependencies:      deps,
		Tags:              index.SupplementalTags(in.Subject, summary, in.Priority, in.Type, tags),
		SuggestedApproach: in.SuggestedApproach,
	}, nil
}

// persistNew writes the sidecar (if any) and inserts the row. Caller holds
// the directory lock.
func (m *Manager) persistNew(ctx context.Context, msg *types.Message, content string) error {
	if msg.ContentRef != "" {
		path := filepath.Join(m.dataDir, msg.ContentRef)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create sidecar directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return fmt.Errorf("write sidecar: %w", err)
		}
	}
	if err := m.store.CreateMessage(ctx, msg); err != nil {
		if msg.ContentRef != "" {
			_ = os.Remove(filepath.Join(m.dataDir, msg.ContentRef))
		}
		return err
	}
	return nil
}

// ensureAcyclic rejects a dependency set whose transitive closure contains
// a cycle, including one closing through the new message itself. Bounded
// DFS; a back-edge to a node on the current path is a cycle.
func (m *Manager) ensureAcyclic(ctx context.Context, newID string, deps []string) error {
	visited := map[string]bool{}
	onPath := map[string]bool{newID: true}
	var walk func(id string) error
	walk = func(id string) error {
		if onPath[id] {
			return fmt.Errorf("%w: dependency cycle through %s", storage.ErrCycle, id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		onPath[id] = true
		defer delete(onPath, id)
		next, err := m.store.GetDependencies(ctx, id)
		if err != nil {
			return err
		}
		for _, d := range next {
			if err := walk(d); err != nil {
				return err
			}
		}
		return nil
	}
	for _, d := range deps {
		if err := walk(d); err != nil {
			return err
		}
	}
	return nil
}

// GetFilter is the caller-facing filter for Get.
type GetFilter struct {
	Participant string
	Status      []types.MessageStatus
	Types       []types.MessageType
	Priorities  []types.Priority
	SinceHours  float64
	ThreadID    string
	ActiveOnly  *bool // nil defaults to true
	Limit       int
	Offset      int
	DetailLevel types.DetailLevel
}

// Get lists messages visible to the requester, priority-ranked then newest
// first. Detail level controls summary and sidecar content loading.
func (m *Manager) Get(ctx context.Context, f GetFilter, requester string) ([]*types.Message, error) {
	p, err := m.reg.Get(ctx, requester)
	if err != nil {
		return nil, err
	}
	if f.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrValidation)
	}
	limit := f.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	detail := f.DetailLevel
	if detail == "" {
		detail = types.DetailFull
	}
	if !detail.IsValid() {
		return nil, fmt.Errorf("%w: invalid detail level %q", storage.ErrValidation, detail)
	}

	activeOnly := true
	if f.ActiveOnly != nil {
		activeOnly = *f.ActiveOnly
	}
	participant := f.Participant
	if participant == "" {
		participant = requester
	}

	rows, err := m.store.ListMessages(ctx, storage.MessageFilter{
		Requester:        requester,
		RequesterIsAdmin: registry.IsAdmin(p),
		Participant:      participant,
		Status:           f.Status,
		Types:            f.Types,
		Priorities:       f.Priorities,
		SinceHours:       f.SinceHours,
		ThreadID:         f.ThreadID,
		ActiveOnly:       activeOnly,
		Limit:            limit,
		Offset:           f.Offset,
	})
	if err != nil {
		return nil, err
	}

	for _, msg := range rows {
		m.applyDetail(msg, detail)
	}
	return rows, nil
}

// GetByID fetches one message at the given detail level. Fails with
// permission denied when the requester cannot access it.
func (m *Manager) GetByID(ctx context.Context, id, requester string, detail types.DetailLevel) (*types.Message, error) {
	p, err := m.reg.Get(ctx, requester)
	if err != nil {
		return nil, err
	}
	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !registry.CanAccessMessage(p, msg.From, msg.To) {
		return nil, fmt.Errorf("%w: access to message %s denied", storage.ErrPermission, id)
	}
	if detail == "" {
		detail = types.DetailFull
	}
	m.applyDetail(msg, detail)
	return msg, nil
}

// applyDetail trims or loads fields according to the detail level. At full
// detail the sidecar content is loaded; a missing or unreadable sidecar
// falls back to the summary.
func (m *Manager) applyDetail(msg *types.Message, detail types.DetailLevel) {
	switch detail {
	case types.DetailIndex:
		msg.Summary = ""
		msg.Content = ""
	case types.DetailSummary:
		msg.Content = ""
	case types.DetailFull:
		if msg.ContentRef == "" {
			msg.Content = msg.Summary
			return
		}
		data, err := os.ReadFile(filepath.Join(m.dataDir, msg.ContentRef))
		if err != nil {
			msg.Content = msg.Summary
			return
		}
		msg.Content = string(data)
	}
}
