package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ccproto/ccp/internal/compact"
	"github.com/ccproto/ccp/internal/index"
	"github.com/ccproto/ccp/internal/messages"
	"github.com/ccproto/ccp/internal/registry"
	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

func (s *Server) handleSendMessage(ctx context.Context, raw json.RawMessage) (string, error) {
	var args SendMessageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}

	in := messages.CreateInput{
		To:                args.To,
		Type:              types.MessageType(strings.ToLower(args.Type)),
		Priority:          types.Priority(strings.ToUpper(args.Priority)),
		Subject:           args.Subject,
		Content:           args.Content,
		ResponseRequired:  true,
		Tags:              args.Tags,
		SuggestedApproach: args.SuggestedApproach,
	}
	if args.ResponseRequired != nil {
		in.ResponseRequired = *args.ResponseRequired
	}
	if args.ExpiresInHours != nil {
		in.ExpiresInHours = *args.ExpiresInHours
	}

	msg, err := s.mgr.Create(ctx, in, s.cfg.ParticipantID)
	if err != nil {
		return "", err
	}
	return formatMessageCreated(msg), nil
}

func (s *Server) handleGetMessages(ctx context.Context, raw json.RawMessage) (string, error) {
	var args GetMessagesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}

	f := messages.GetFilter{
		Participant: args.Participant,
		SinceHours:  args.SinceHours,
		ThreadID:    args.ThreadID,
		ActiveOnly:  args.ActiveOnly,
		DetailLevel: types.DetailLevel(args.DetailLevel),
	}
	if args.Limit != nil {
		if *args.Limit <= 0 {
			return "", fmt.Errorf("%w: limit must be positive", storage.ErrValidation)
		}
		f.Limit = *args.Limit
	}
	for _, v := range args.Status {
		f.Status = append(f.Status, types.MessageStatus(strings.ToLower(v)))
	}
	for _, v := range args.Type {
		f.Types = append(f.Types, types.MessageType(strings.ToLower(v)))
	}
	for _, v := range args.Priority {
		f.Priorities = append(f.Priorities, types.Priority(strings.ToUpper(v)))
	}

	msgs, err := s.mgr.Get(ctx, f, s.cfg.ParticipantID)
	if err != nil {
		return "", err
	}
	return formatMessageList(msgs, f.DetailLevel), nil
}

func (s *Server) handleRespondMessage(ctx context.Context, raw json.RawMessage) (string, error) {
	var args RespondMessageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.MessageID == "" {
		return "", fmt.Errorf("%w: message_id is required", storage.ErrValidation)
	}
	if args.Content == "" {
		return "", fmt.Errorf("%w: content is required", storage.ErrValidation)
	}
	var resolution types.ResolutionStatus
	if args.ResolutionStatus != "" {
		resolution = types.ResolutionStatus(strings.ToLower(args.ResolutionStatus))
		if !resolution.IsValid() {
			return "", fmt.Errorf("%w: invalid resolution status %q", storage.ErrValidation, args.ResolutionStatus)
		}
	}

	reply, err := s.mgr.Respond(ctx, args.MessageID, args.Content, resolution, s.cfg.ParticipantID)
	if err != nil {
		return "", err
	}
	return formatResponseCreated(args.MessageID, reply), nil
}

func (s *Server) handleSearchMessages(ctx context.Context, raw json.RawMessage) (string, error) {
	var args SearchMessagesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Query == "" && len(args.Tags) == 0 {
		return "", fmt.Errorf("%w: query or tags required", storage.ErrValidation)
	}

	q := index.Query{
		Text:         args.Query,
		Semantic:     true,
		Tags:         args.Tags,
		Participants: args.Participants,
		Limit:        args.Limit,
	}
	if args.Semantic != nil {
		q.Semantic = *args.Semantic
	}
	if args.DateRange != nil {
		from, err := parseDate(args.DateRange.From)
		if err != nil {
			return "", err
		}
		to, err := parseDate(args.DateRange.To)
		if err != nil {
			return "", err
		}
		q.DateFrom, q.DateTo = from, to
	}

	results, err := s.idx.Search(ctx, q, s.cfg.ParticipantID)
	if err != nil {
		return "", err
	}
	return formatSearchResults(args.Query, results), nil
}

func (s *Server) handleCompactThread(ctx context.Context, raw json.RawMessage) (string, error) {
	var args CompactThreadArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.ThreadID == "" {
		return "", fmt.Errorf("%w: thread_id is required", storage.ErrValidation)
	}

	opts := compact.Options{
		ThreadID:          args.ThreadID,
		Strategy:          compact.StrategySummarize,
		PreserveDecisions: true,
		PreserveCritical:  true,
	}
	if args.Strategy != "" {
		opts.Strategy = compact.Strategy(strings.ToLower(args.Strategy))
	}
	if args.PreserveDecisions != nil {
		opts.PreserveDecisions = *args.PreserveDecisions
	}
	if args.PreserveCritical != nil {
		opts.PreserveCritical = *args.PreserveCritical
	}

	result, err := s.comp.CompactThread(ctx, opts, s.cfg.ParticipantID)
	if err != nil {
		return "", err
	}
	return formatCompactionResult(result), nil
}

func (s *Server) handleArchiveResolved(ctx context.Context, raw json.RawMessage) (string, error) {
	var args ArchiveResolvedArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}

	days := args.OlderThanDays
	if days <= 0 {
		days = s.cfg.ArchiveDays
	}
	opts := compact.Options{
		Strategy:          compact.StrategyArchive,
		PreserveDecisions: true,
		PreserveCritical:  true,
	}
	if args.CreateSummary == nil || *args.CreateSummary {
		opts.Strategy = compact.StrategySummarize
	}
	if args.PreserveCritical != nil {
		opts.PreserveCritical = *args.PreserveCritical
	}

	expired, err := s.mgr.ArchiveExpired(ctx)
	if err != nil {
		return "", err
	}
	results, err := s.comp.AutoCompact(ctx, days, opts)
	if err != nil {
		return "", err
	}
	return formatArchiveSweep(expired, results), nil
}

func (s *Server) handleGetStats(ctx context.Context, raw json.RawMessage) (string, error) {
	var args GetStatsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}

	participant := args.Participant
	if participant == "" {
		participant = s.cfg.ParticipantID
	}
	days := args.TimeframeDays
	if days <= 0 {
		days = 7
	}

	stats, err := s.idx.Stats(ctx, participant, days)
	if err != nil {
		return "", err
	}

	var roster []*types.Participant
	if args.IncludeParticipants {
		roster, err = s.reg.List(ctx, nil)
		if err != nil {
			return "", err
		}
	}

	usage, err := s.comp.CalculateTokenUsage(ctx, participant)
	if err != nil {
		return "", err
	}
	return formatStats(participant, days, stats, usage, roster), nil
}

func (s *Server) handleRegisterParticipant(ctx context.Context, raw json.RawMessage) (string, error) {
	var args RegisterParticipantArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}

	requester, err := s.reg.Get(ctx, s.cfg.ParticipantID)
	if err != nil {
		return "", err
	}
	if !registry.IsAdmin(requester) {
		return "", fmt.Errorf("%w: only admins may register participants", storage.ErrPermission)
	}

	p := &types.Participant{
		ID:              args.ParticipantID,
		Capabilities:    args.Capabilities,
		DefaultPriority: types.Priority(strings.ToUpper(args.DefaultPriority)),
	}
	registered, err := s.reg.Register(ctx, p)
	if err != nil {
		return "", err
	}
	return formatParticipantRegistered(registered), nil
}

func (s *Server) handleWhoami(ctx context.Context, _ json.RawMessage) (string, error) {
	p, err := s.reg.Get(ctx, s.cfg.ParticipantID)
	if err != nil {
		return "", err
	}
	return formatWhoami(p, s.cfg), nil
}

func (s *Server) handleCloseThread(ctx context.Context, raw json.RawMessage) (string, error) {
	var args CloseThreadArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.ThreadID == "" {
		return "", fmt.Errorf("%w: thread_id is required", storage.ErrValidation)
	}
	resolution := types.ResolutionStatus(strings.ToLower(args.ResolutionStatus))
	if !resolution.IsValid() {
		return "", fmt.Errorf("%w: invalid resolution status %q", storage.ErrValidation, args.ResolutionStatus)
	}

	count, err := s.mgr.CloseThread(ctx, args.ThreadID, s.cfg.ParticipantID, resolution, args.FinalSummary)
	if err != nil {
		return "", err
	}
	return formatThreadClosed(args.ThreadID, resolution, count), nil
}

func (s *Server) handleHelp(_ context.Context, _ json.RawMessage) (string, error) {
	return helpText, nil
}

func (s *Server) handleSetupGuide(_ context.Context, _ json.RawMessage) (string, error) {
	return setupGuideText, nil
}

// parseDate accepts RFC 3339 timestamps or bare dates.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid date %q", storage.ErrValidation, s)
}
