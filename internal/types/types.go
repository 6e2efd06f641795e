// Package types defines core data structures for the ccp coordination bus.
package types

import (
	"encoding/json"
	"time"
)

// MessageType categorizes a coordination message.
type MessageType string

const (
	TypeArch      MessageType = "arch"
	TypeContract  MessageType = "contract"
	TypeSync      MessageType = "sync"
	TypeUpdate    MessageType = "update"
	TypeQuestion  MessageType = "q"
	TypeEmergency MessageType = "emergency"
	TypeBroadcast MessageType = "broadcast"
)

// IsValid returns true if the message type is one of the known types.
func (t MessageType) IsValid() bool {
	switch t {
	case TypeArch, TypeContract, TypeSync, TypeUpdate, TypeQuestion, TypeEmergency, TypeBroadcast:
		return true
	}
	return false
}

// Priority is the urgency level of a message.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "H"
	PriorityMedium   Priority = "M"
	PriorityLow      Priority = "L"
)

// IsValid returns true if the priority is one of the known levels.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns the sort rank of the priority. Lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// MessageStatus tracks a message through its lifecycle.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusRead      MessageStatus = "read"
	StatusResponded MessageStatus = "responded"
	StatusResolved  MessageStatus = "resolved"
	StatusArchived  MessageStatus = "archived"
	StatusCancelled MessageStatus = "cancelled"
)

// IsValid returns true if the status is one of the known states.
func (s MessageStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRead, StatusResponded, StatusResolved, StatusArchived, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status permits no further mutation
// outside of compaction.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusArchived || s == StatusCancelled
}

// ResolutionStatus describes how a message was resolved.
type ResolutionStatus string

const (
	ResolutionPartial          ResolutionStatus = "partial"
	ResolutionComplete         ResolutionStatus = "complete"
	ResolutionRequiresFollowup ResolutionStatus = "requires_followup"
	ResolutionBlocked          ResolutionStatus = "blocked"
)

// IsValid returns true if the resolution status is one of the known values.
func (r ResolutionStatus) IsValid() bool {
	switch r {
	case ResolutionPartial, ResolutionComplete, ResolutionRequiresFollowup, ResolutionBlocked:
		return true
	}
	return false
}

// ParticipantStatus describes the availability of a participant.
type ParticipantStatus string

const (
	ParticipantActive      ParticipantStatus = "active"
	ParticipantInactive    ParticipantStatus = "inactive"
	ParticipantMaintenance ParticipantStatus = "maintenance"
)

// IsValid returns true if the participant status is one of the known values.
func (s ParticipantStatus) IsValid() bool {
	switch s {
	case ParticipantActive, ParticipantInactive, ParticipantMaintenance:
		return true
	}
	return false
}

// ConversationStatus describes the state of a thread.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationResolved ConversationStatus = "resolved"
	ConversationArchived ConversationStatus = "archived"
)

// Message is a typed, prioritized coordination message addressed to one or
// more participants. Content longer than the inline threshold lives in a
// sidecar file referenced by ContentRef; Summary then holds a truncated view.
type Message struct {
	ID               string           `json:"id"`
	ThreadID         string           `json:"thread_id"`
	From             string           `json:"from"`
	To               []string         `json:"to"`
	Type             MessageType      `json:"type"`
	Priority         Priority         `json:"priority"`
	Status           MessageStatus    `json:"status"`
	Subject          string           `json:"subject"`
	Summary          string           `json:"summary,omitempty"`
	Content          string           `json:"content,omitempty"` // populated at full detail level only
	ContentRef       string           `json:"content_ref,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	ResponseRequired bool             `json:"response_required"`
	Dependencies     []string         `json:"dependencies,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	SuggestedApproach json.RawMessage `json:"suggested_approach,omitempty"` // opaque, passed through verbatim
	ResolutionStatus ResolutionStatus `json:"resolution_status,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy       string           `json:"resolved_by,omitempty"`
}

// HasTag returns true if the message carries the exact tag.
func (m *Message) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Addressed returns true if id is the sender or one of the recipients.
// The @all broadcast recipient matches every participant.
func (m *Message) Addressed(id string) bool {
	if m.From == id {
		return true
	}
	for _, t := range m.To {
		if t == id || t == Broadcast {
			return true
		}
	}
	return false
}

// SerializedSize returns the approximate row storage footprint of the
// message, used by compaction space accounting.
func (m *Message) SerializedSize() int {
	b, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(b)
}

// Participant is a named identity that sends and receives messages.
type Participant struct {
	ID              string            `json:"id"`
	Capabilities    []string          `json:"capabilities,omitempty"`
	Status          ParticipantStatus `json:"status"`
	LastSeen        time.Time         `json:"last_seen"`
	DefaultPriority Priority          `json:"default_priority"`
	Preferences     map[string]string `json:"preferences,omitempty"`
}

// HasCapability returns true if the participant carries the capability tag.
func (p *Participant) HasCapability(c string) bool {
	for _, cap := range p.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// Conversation is the aggregate row for a message thread.
type Conversation struct {
	ThreadID          string             `json:"thread_id"`
	Participants      []string           `json:"participants"`
	Topic             string             `json:"topic,omitempty"`
	Tags              []string           `json:"tags,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	LastActivity      time.Time          `json:"last_activity"`
	Status            ConversationStatus `json:"status"`
	ResolutionSummary string             `json:"resolution_summary,omitempty"`
	MessageCount      int                `json:"message_count"`
}

// DetailLevel controls how much of a message is returned by queries.
type DetailLevel string

const (
	DetailIndex   DetailLevel = "index"
	DetailSummary DetailLevel = "summary"
	DetailFull    DetailLevel = "full"
)

// IsValid returns true if the detail level is one of the known values.
func (d DetailLevel) IsValid() bool {
	switch d {
	case DetailIndex, DetailSummary, DetailFull:
		return true
	}
	return false
}
