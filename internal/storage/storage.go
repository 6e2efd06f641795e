// Package storage defines the storage interface for the ccp coordination
// engine. The sqlite subpackage provides the embedded implementation.
package storage

import (
	"context"
	"time"

	"github.com/ccproto/ccp/internal/types"
)

// MessageFilter composes the conjunctive filters of a get_messages query.
// Authorization is part of the query: when Requester is set and not an
// admin, only rows the requester sent or received are returned.
type MessageFilter struct {
	Requester        string
	RequesterIsAdmin bool

	Participant string // matches either sender or any recipient
	Status      []types.MessageStatus
	Types       []types.MessageType
	Priorities  []types.Priority
	SinceHours  float64
	ThreadID    string
	ActiveOnly  bool // excludes resolved/archived/cancelled

	Limit  int
	Offset int
}

// SearchOptions constrain all search modes.
type SearchOptions struct {
	Requester        string
	RequesterIsAdmin bool

	From         *time.Time
	To           *time.Time
	Participants []string
	Limit        int
}

// ScoredMessage pairs a message with its raw FTS rank. FTS ranks are
// negative; better matches are more negative.
type ScoredMessage struct {
	Message *types.Message
	Rank    float64
}

// TagCount is a tag with its usage count.
type TagCount struct {
	Tag   string
	Count int
}

// ParticipantStats aggregates message activity for one participant over a
// window.
type ParticipantStats struct {
	Sent             int            `json:"sent"`
	Received         int            `json:"received"`
	ByType           map[string]int `json:"by_type"`
	ByPriority       map[string]int `json:"by_priority"`
	ByStatus         map[string]int `json:"by_status"`
	ResponseRate     float64        `json:"response_rate"`
	AvgResponseHours float64        `json:"avg_response_hours"`
}

// ConversationPatch updates the aggregate state of a thread during
// compaction or archival.
type ConversationPatch struct {
	Status            types.ConversationStatus
	ResolutionSummary string
	LastActivity      time.Time
}

// Storage is the prepared-statement query surface shared by every engine
// component. Implementations must make each method atomic; multi-step
// mutations run inside a single transaction.
type Storage interface {
	// Participants

	CreateParticipant(ctx context.Context, p *types.Participant) error
	GetParticipant(ctx context.Context, id string) (*types.Participant, error)
	ListParticipants(ctx context.Context, status *types.ParticipantStatus) ([]*types.Participant, error)
	UpdateParticipant(ctx context.Context, p *types.Participant) error
	UpdateLastSeen(ctx context.Context, id string, t time.Time) error
	DeleteParticipant(ctx context.Context, id string) error
	CountActiveMessages(ctx context.Context, participantID string) (int, error)
	DeleteStaleParticipants(ctx context.Context, cutoff time.Time) (int, error)

	// Messages

	// CreateMessage inserts the row and touches its conversation as a
	// single atomic unit.
	CreateMessage(ctx context.Context, m *types.Message) error
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	ListMessages(ctx context.Context, f MessageFilter) ([]*types.Message, error)
	UpdateMessage(ctx context.Context, m *types.Message) error
	UpdateMessageTags(ctx context.Context, id string, tags []string, now time.Time) error
	ThreadMessages(ctx context.Context, threadID string) ([]*types.Message, error)
	CloseThreadMessages(ctx context.Context, threadID, closer string, res types.ResolutionStatus, now time.Time) (int, error)
	ExpiredMessages(ctx context.Context, now time.Time) ([]*types.Message, error)
	ArchiveMessages(ctx context.Context, ids []string, now time.Time) error
	GetDependencies(ctx context.Context, id string) ([]string, error)

	// Conversations

	GetConversation(ctx context.Context, threadID string) (*types.Conversation, error)
	ResolvedConversationsBefore(ctx context.Context, cutoff time.Time) ([]*types.Conversation, error)
	PatchConversation(ctx context.Context, threadID string, patch ConversationPatch) error

	// Search

	SearchFTS(ctx context.Context, match string, opts SearchOptions) ([]ScoredMessage, error)
	SearchByTags(ctx context.Context, tags []string, opts SearchOptions) ([]*types.Message, error)
	SearchSubstring(ctx context.Context, query string, opts SearchOptions) ([]*types.Message, error)
	TagCounts(ctx context.Context, opts SearchOptions, substring string, limit int) ([]TagCount, error)

	// Stats

	ParticipantStats(ctx context.Context, participantID string, since time.Time) (*ParticipantStats, error)

	// Compaction

	// ApplyCompaction archives the listed messages, inserts the replacement
	// messages, and patches the conversation row in one transaction.
	ApplyCompaction(ctx context.Context, threadID string, archiveIDs []string, inserts []*types.Message, patch *ConversationPatch, now time.Time) error

	Close() error
}
