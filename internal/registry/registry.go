// Package registry manages participant records and the authorization
// predicates the rest of the engine depends on. The predicates form a small
// pluggable policy surface; a richer implementation may replace them as
// long as the same contract holds.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

// DefaultStaleDays is the cleanup threshold for inactive participants.
const DefaultStaleDays = 90

// Registry provides participant CRUD and authorization checks over the
// shared store.
type Registry struct {
	store storage.Storage
	clock func() time.Time
}

// New creates a Registry backed by the given store.
func New(store storage.Storage) *Registry {
	return &Registry{store: store, clock: time.Now}
}

// SetClock overrides the time source (tests).
func (r *Registry) SetClock(clock func() time.Time) {
	r.clock = clock
}

// Register creates a new participant. Status, last_seen, and an unset
// default priority are filled in; reserved ids are rejected.
func (r *Registry) Register(ctx context.Context, p *types.Participant) (*types.Participant, error) {
	if p.DefaultPriority == "" {
		p.DefaultPriority = types.PriorityMedium
	}
	p.Status = types.ParticipantActive
	p.LastSeen = r.clock().UTC()

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrValidation, err)
	}
	if err := r.store.CreateParticipant(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get fetches one participant. Returns storage.ErrNotFound when absent.
func (r *Registry) Get(ctx context.Context, id string) (*types.Participant, error) {
	return r.store.GetParticipant(ctx, id)
}

// List returns participants ordered by id, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status *types.ParticipantStatus) ([]*types.Participant, error) {
	return r.store.ListParticipants(ctx, status)
}

// UpdatePatch is a partial participant update; nil fields are left alone.
type UpdatePatch struct {
	Capabilities    *[]string
	Status          *types.ParticipantStatus
	DefaultPriority *types.Priority
	Preferences     map[string]string
}

// Update merges a partial update into a participant record. The requester
// must be the participant itself or an admin. The merged record is
// validated as a whole before the write.
func (r *Registry) Update(ctx context.Context, id string, patch UpdatePatch, requester string) (*types.Participant, error) {
	if err := r.requireSelfOrAdmin(ctx, id, requester); err != nil {
		return nil, err
	}
	p, err := r.store.GetParticipant(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Capabilities != nil {
		p.Capabilities = *patch.Capabilities
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.DefaultPriority != nil {
		p.DefaultPriority = *patch.DefaultPriority
	}
	if patch.Preferences != nil {
		p.Preferences = patch.Preferences
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrValidation, err)
	}
	if err := r.store.UpdateParticipant(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateLastSeen records request activity for a participant.
func (r *Registry) UpdateLastSeen(ctx context.Context, id string) error {
	return r.store.UpdateLastSeen(ctx, id, r.clock().UTC())
}

// Deactivate soft-deletes a participant by flipping its status to
// inactive. Same authorization rule as Update.
func (r *Registry) Deactivate(ctx context.Context, id, requester string) error {
	status := types.ParticipantInactive
	_, err := r.Update(ctx, id, UpdatePatch{Status: &status}, requester)
	return err
}

// Remove hard-deletes a participant. Admin only, and only when the
// participant has no messages in pending/read/responded.
func (r *Registry) Remove(ctx context.Context, id, requester string) error {
	req, err := r.store.GetParticipant(ctx, requester)
	if err != nil {
		return err
	}
	if !IsAdmin(req) {
		return fmt.Errorf("%w: only admins can remove participants", storage.ErrPermission)
	}
	n, err := r.store.CountActiveMessages(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: participant %s has %d active messages", storage.ErrConflict, id, n)
	}
	return r.store.DeleteParticipant(ctx, id)
}

// CleanupStale deletes inactive participants whose last_seen is older than
// daysInactive days. Returns the number deleted.
func (r *Registry) CleanupStale(ctx context.Context, daysInactive int) (int, error) {
	if daysInactive <= 0 {
		daysInactive = DefaultStaleDays
	}
	cutoff := r.clock().UTC().AddDate(0, 0, -daysInactive)
	return r.store.DeleteStaleParticipants(ctx, cutoff)
}

func (r *Registry) requireSelfOrAdmin(ctx context.Context, id, requester string) error {
	if requester == id {
		return nil
	}
	req, err := r.store.GetParticipant(ctx, requester)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: unknown requester %s", storage.ErrPermission, requester)
		}
		return err
	}
	if !IsAdmin(req) {
		return fmt.Errorf("%w: %s cannot modify %s", storage.ErrPermission, requester, id)
	}
	return nil
}

// IsAdmin reports whether the participant carries administrative rights.
func IsAdmin(p *types.Participant) bool {
	return p != nil && (p.HasCapability("admin") || p.HasCapability("system"))
}

// CanAccessMessage reports whether the participant may see a message with
// the given sender and recipients.
func CanAccessMessage(p *types.Participant, from string, to []string) bool {
	if p == nil {
		return false
	}
	if IsAdmin(p) || p.ID == from {
		return true
	}
	for _, t := range to {
		if t == p.ID || t == types.Broadcast {
			return true
		}
	}
	return false
}

// CanSend verifies the sender is active and every recipient is registered
// and not inactive. The @all broadcast recipient is always deliverable.
func (r *Registry) CanSend(ctx context.Context, from string, to []string) error {
	sender, err := r.store.GetParticipant(ctx, from)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: unknown sender %s", storage.ErrPermission, from)
		}
		return err
	}
	if sender.Status != types.ParticipantActive {
		return fmt.Errorf("%w: sender %s is %s", storage.ErrPermission, from, sender.Status)
	}
	for _, t := range to {
		if t == types.Broadcast {
			continue
		}
		rec, err := r.store.GetParticipant(ctx, t)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: unknown recipient %s", storage.ErrValidation, t)
			}
			return err
		}
		if rec.Status == types.ParticipantInactive {
			return fmt.Errorf("%w: recipient %s is inactive", storage.ErrValidation, t)
		}
	}
	return nil
}
