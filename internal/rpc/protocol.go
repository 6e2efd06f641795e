// Package rpc exposes the coordination tool surface over a line-delimited
// JSON request/response transport on stdio.
package rpc

import (
	"encoding/json"
)

// Tool name constants for all coordination operations.
const (
	ToolSendMessage         = "ccp_send_message"
	ToolGetMessages         = "ccp_get_messages"
	ToolRespondMessage      = "ccp_respond_message"
	ToolSearchMessages      = "ccp_search_messages"
	ToolCompactThread       = "ccp_compact_thread"
	ToolArchiveResolved     = "ccp_archive_resolved"
	ToolGetStats            = "ccp_get_stats"
	ToolRegisterParticipant = "ccp_register_participant"
	ToolWhoami              = "ccp_whoami"
	ToolHelp                = "ccp_help"
	ToolSetupGuide          = "ccp_setup_guide"
	ToolCloseThread         = "ccp_close_thread"
)

// Request is one framed tool invocation.
type Request struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentBlock is one element of a Response body.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is the framed result of a tool invocation. IsError marks a
// handled error whose description is carried in the content text.
type Response struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextResponse builds a single-block success response.
func TextResponse(text string) Response {
	return Response{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResponse builds a single-block handled-error response.
func ErrorResponse(text string) Response {
	return Response{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

// SendMessageArgs are the arguments of ccp_send_message.
type SendMessageArgs struct {
	To                []string        `json:"to"`
	Type              string          `json:"type"`
	Priority          string          `json:"priority"`
	Subject           string          `json:"subject"`
	Content           string          `json:"content"`
	ResponseRequired  *bool           `json:"response_required,omitempty"`
	ExpiresInHours    *float64        `json:"expires_in_hours,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
	SuggestedApproach json.RawMessage `json:"suggested_approach,omitempty"`
}

// DateRange bounds a search by creation time.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// GetMessagesArgs are the arguments of ccp_get_messages.
type GetMessagesArgs struct {
	Participant string   `json:"participant,omitempty"`
	Status      []string `json:"status,omitempty"`
	Type        []string `json:"type,omitempty"`
	Priority    []string `json:"priority,omitempty"`
	SinceHours  float64  `json:"since_hours,omitempty"`
	ThreadID    string   `json:"thread_id,omitempty"`
	Limit       *int     `json:"limit,omitempty"`
	DetailLevel string   `json:"detail_level,omitempty"`
	ActiveOnly  *bool    `json:"active_only,omitempty"`
}

// RespondMessageArgs are the arguments of ccp_respond_message.
type RespondMessageArgs struct {
	MessageID        string `json:"message_id"`
	Content          string `json:"content"`
	ResolutionStatus string `json:"resolution_status,omitempty"`
}

// SearchMessagesArgs are the arguments of ccp_search_messages.
type SearchMessagesArgs struct {
	Query        string     `json:"query"`
	Semantic     *bool      `json:"semantic,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	DateRange    *DateRange `json:"date_range,omitempty"`
	Participants []string   `json:"participants,omitempty"`
	Limit        int        `json:"limit,omitempty"`
}

// CompactThreadArgs are the arguments of ccp_compact_thread.
type CompactThreadArgs struct {
	ThreadID          string `json:"thread_id"`
	Strategy          string `json:"strategy,omitempty"`
	PreserveDecisions *bool  `json:"preserve_decisions,omitempty"`
	PreserveCritical  *bool  `json:"preserve_critical,omitempty"`
}

// ArchiveResolvedArgs are the arguments of ccp_archive_resolved.
type ArchiveResolvedArgs struct {
	OlderThanDays    int   `json:"older_than_days,omitempty"`
	PreserveCritical *bool `json:"preserve_critical,omitempty"`
	CreateSummary    *bool `json:"create_summary,omitempty"`
}

// GetStatsArgs are the arguments of ccp_get_stats.
type GetStatsArgs struct {
	Participant         string `json:"participant,omitempty"`
	TimeframeDays       int    `json:"timeframe_days,omitempty"`
	IncludeParticipants bool   `json:"include_participants,omitempty"`
}

// RegisterParticipantArgs are the arguments of ccp_register_participant.
type RegisterParticipantArgs struct {
	ParticipantID   string   `json:"participant_id"`
	Capabilities    []string `json:"capabilities"`
	DefaultPriority string   `json:"default_priority,omitempty"`
}

// CloseThreadArgs are the arguments of ccp_close_thread.
type CloseThreadArgs struct {
	ThreadID         string `json:"thread_id"`
	ResolutionStatus string `json:"resolution_status"`
	FinalSummary     string `json:"final_summary,omitempty"`
}
