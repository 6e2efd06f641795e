package messages

import (
	"context"
	"fmt"
	"os"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

// Respond creates a reply in the original's thread and marks the original
// responded. Only a recipient of the original may respond; there is no
// admin bypass.
func (m *Manager) Respond(ctx context.Context, messageID, content string, resolution types.ResolutionStatus, responder string) (*types.Message, error) {
	orig, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !isRecipient(orig, responder) {
		return nil, fmt.Errorf("%w: %s is not a recipient of %s", storage.ErrPermission, responder, messageID)
	}
	if resolution != "" && !resolution.IsValid() {
		return nil, fmt.Errorf("%w: invalid resolution status %q", storage.ErrValidation, resolution)
	}
	if err := m.reg.CanSend(ctx, responder, []string{orig.From}); err != nil {
		return nil, err
	}

	reply, err := m.buildMessage(ctx, CreateInput{
		To:               []string{orig.From},
		Type:             orig.Type,
		Priority:         orig.Priority,
		Subject:          truncateSubject("Re: " + orig.Subject),
		Content:          content,
		ResponseRequired: false,
		ExpiresInHours:   types.DefaultExpiryHours,
		Tags:             []string{types.ResponseTagPrefix + messageID},
		threadID:         orig.ThreadID,
	}, responder)
	if err != nil {
		return nil, err
	}

	now := m.clock().UTC()
	err = m.withLock(ctx, func() error {
		if err := m.persistNew(ctx, reply, content); err != nil {
			return err
		}
		orig.Status = types.StatusResponded
		orig.UpdatedAt = now
		if resolution != "" {
			orig.ResolutionStatus = resolution
			orig.ResolvedAt = &now
			orig.ResolvedBy = responder
		}
		return m.store.UpdateMessage(ctx, orig)
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// truncateSubject keeps derived subjects within the schema limit.
func truncateSubject(s string) string {
	if len(s) <= types.MaxSubjectLength {
		return s
	}
	return s[:types.MaxSubjectLength]
}

// Resolve marks a message resolved. Allowed for the sender or any
// recipient; resolving an already-resolved message is a no-op.
func (m *Manager) Resolve(ctx context.Context, messageID, resolver string, resolution types.ResolutionStatus) (*types.Message, error) {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.From != resolver && !isRecipient(msg, resolver) {
		return nil, fmt.Errorf("%w: %s cannot resolve %s", storage.ErrPermission, resolver, messageID)
	}
	if msg.Status == types.StatusResolved {
		return msg, nil
	}
	if msg.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: message %s is %s", storage.ErrPermission, messageID, msg.Status)
	}
	if resolution == "" {
		resolution = types.ResolutionComplete
	}
	if !resolution.IsValid() {
		return nil, fmt.Errorf("%w: invalid resolution status %q", storage.ErrValidation, resolution)
	}

	now := m.clock().UTC()
	err = m.withLock(ctx, func() error {
		msg.Status = types.StatusResolved
		msg.ResolutionStatus = resolution
		msg.ResolvedAt = &now
		msg.ResolvedBy = resolver
		msg.UpdatedAt = now
		return m.store.UpdateMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead transitions a pending message to read for a recipient. Any
// other status is left alone.
func (m *Manager) MarkRead(ctx context.Context, messageID, reader string) error {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !isRecipient(msg, reader) {
		return fmt.Errorf("%w: %s is not a recipient of %s", storage.ErrPermission, reader, messageID)
	}
	if msg.Status != types.StatusPending {
		return nil
	}
	return m.withLock(ctx, func() error {
		msg.Status = types.StatusRead
		msg.UpdatedAt = m.clock().UTC()
		return m.store.UpdateMessage(ctx, msg)
	})
}

// CloseThread resolves every open message in a thread. The identifier may
// be a thread id or any message id within the thread. When finalSummary is
// set, a closing update is broadcast to @all. Returns the number of
// messages transitioned.
func (m *Manager) CloseThread(ctx context.Context, threadOrMessageID, closer string, resolution types.ResolutionStatus, finalSummary string) (int, error) {
	if !resolution.IsValid() {
		return 0, fmt.Errorf("%w: invalid resolution status %q", storage.ErrValidation, resolution)
	}

	threadID := threadOrMessageID
	if !types.IsThreadID(threadID) {
		msg, err := m.store.GetMessage(ctx, threadOrMessageID)
		if err != nil {
			return 0, err
		}
		threadID = msg.ThreadID
	}

	thread, err := m.store.ThreadMessages(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if len(thread) == 0 {
		return 0, fmt.Errorf("thread %s: %w", threadID, storage.ErrNotFound)
	}

	member := false
	for _, msg := range thread {
		if msg.Addressed(closer) {
			member = true
			break
		}
	}
	if !member {
		return 0, fmt.Errorf("%w: %s is not a participant of thread %s", storage.ErrPermission, closer, threadID)
	}

	var closed int
	var summaryMsg *types.Message
	var summaryContent string
	if finalSummary != "" {
		summaryMsg, err = m.buildMessage(ctx, CreateInput{
			To:             []string{types.Broadcast},
			Type:           types.TypeUpdate,
			Priority:       types.PriorityLow,
			Subject:        truncateSubject("Thread Closed: " + threadID),
			Content:        finalSummary,
			ExpiresInHours: types.DefaultExpiryHours,
			Tags:           []string{"thread-closed", "resolution-" + string(resolution)},
		}, closer)
		if err != nil {
			return 0, err
		}
		summaryContent = finalSummary
	}

	err = m.withLock(ctx, func() error {
		n, err := m.store.CloseThreadMessages(ctx, threadID, closer, resolution, m.clock().UTC())
		if err != nil {
			return err
		}
		closed = n
		if summaryMsg != nil {
			return m.persistNew(ctx, summaryMsg, summaryContent)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return closed, nil
}

// ArchiveExpired transitions every expired, unresolved message to archived
// and moves its sidecar into the dated archive. Per-file move failures are
// logged and do not abort the batch. Returns the count archived.
func (m *Manager) ArchiveExpired(ctx context.Context) (int, error) {
	now := m.clock().UTC()
	var expired []*types.Message
	err := m.withLock(ctx, func() error {
		var err error
		expired, err = m.store.ExpiredMessages(ctx, now)
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		ids := make([]string, len(expired))
		for i, msg := range expired {
			ids[i] = msg.ID
		}
		if err := m.store.ArchiveMessages(ctx, ids, now); err != nil {
			return err
		}
		// Files move only after the transaction has committed.
		for _, msg := range expired {
			if msg.ContentRef == "" {
				continue
			}
			if err := moveToArchive(m.dataDir, msg.ContentRef, now); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to archive sidecar for %s: %v\n", msg.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

// isRecipient reports whether id is an addressee of the message, counting
// @all broadcasts.
func isRecipient(m *types.Message, id string) bool {
	for _, t := range m.To {
		if t == id || t == types.Broadcast {
			return true
		}
	}
	return false
}
