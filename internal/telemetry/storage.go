package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

const storageScopeName = "github.com/ccproto/ccp/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in ccp.storage.* metrics. Use
// WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner  storage.Storage
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStorage returns s decorated with OTel instrumentation. When telemetry
// is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("ccp.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("ccp.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("ccp.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStorage{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and counts the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span and records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1)
	}
	span.End()
}

func (s *InstrumentedStorage) CreateParticipant(ctx context.Context, p *types.Participant) error {
	ctx, span, start := s.op(ctx, "CreateParticipant", attribute.String("participant.id", p.ID))
	err := s.inner.CreateParticipant(ctx, p)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) GetParticipant(ctx context.Context, id string) (*types.Participant, error) {
	ctx, span, start := s.op(ctx, "GetParticipant", attribute.String("participant.id", id))
	p, err := s.inner.GetParticipant(ctx, id)
	s.done(ctx, span, start, err)
	return p, err
}

func (s *InstrumentedStorage) ListParticipants(ctx context.Context, status *types.ParticipantStatus) ([]*types.Participant, error) {
	ctx, span, start := s.op(ctx, "ListParticipants")
	out, err := s.inner.ListParticipants(ctx, status)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) UpdateParticipant(ctx context.Context, p *types.Participant) error {
	ctx, span, start := s.op(ctx, "UpdateParticipant", attribute.String("participant.id", p.ID))
	err := s.inner.UpdateParticipant(ctx, p)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) UpdateLastSeen(ctx context.Context, id string, t time.Time) error {
	ctx, span, start := s.op(ctx, "UpdateLastSeen", attribute.String("participant.id", id))
	err := s.inner.UpdateLastSeen(ctx, id, t)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) DeleteParticipant(ctx context.Context, id string) error {
	ctx, span, start := s.op(ctx, "DeleteParticipant", attribute.String("participant.id", id))
	err := s.inner.DeleteParticipant(ctx, id)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) CountActiveMessages(ctx context.Context, participantID string) (int, error) {
	ctx, span, start := s.op(ctx, "CountActiveMessages", attribute.String("participant.id", participantID))
	n, err := s.inner.CountActiveMessages(ctx, participantID)
	s.done(ctx, span, start, err)
	return n, err
}

func (s *InstrumentedStorage) DeleteStaleParticipants(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span, start := s.op(ctx, "DeleteStaleParticipants")
	n, err := s.inner.DeleteStaleParticipants(ctx, cutoff)
	s.done(ctx, span, start, err)
	return n, err
}

func (s *InstrumentedStorage) CreateMessage(ctx context.Context, m *types.Message) error {
	ctx, span, start := s.op(ctx, "CreateMessage",
		attribute.String("message.id", m.ID),
		attribute.String("message.type", string(m.Type)),
	)
	err := s.inner.CreateMessage(ctx, m)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	ctx, span, start := s.op(ctx, "GetMessage", attribute.String("message.id", id))
	m, err := s.inner.GetMessage(ctx, id)
	s.done(ctx, span, start, err)
	return m, err
}

func (s *InstrumentedStorage) ListMessages(ctx context.Context, f storage.MessageFilter) ([]*types.Message, error) {
	ctx, span, start := s.op(ctx, "ListMessages")
	out, err := s.inner.ListMessages(ctx, f)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) UpdateMessage(ctx context.Context, m *types.Message) error {
	ctx, span, start := s.op(ctx, "UpdateMessage", attribute.String("message.id", m.ID))
	err := s.inner.UpdateMessage(ctx, m)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) UpdateMessageTags(ctx context.Context, id string, tags []string, now time.Time) error {
	ctx, span, start := s.op(ctx, "UpdateMessageTags", attribute.String("message.id", id))
	err := s.inner.UpdateMessageTags(ctx, id, tags, now)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) ThreadMessages(ctx context.Context, threadID string) ([]*types.Message, error) {
	ctx, span, start := s.op(ctx, "ThreadMessages", attribute.String("thread.id", threadID))
	out, err := s.inner.ThreadMessages(ctx, threadID)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) CloseThreadMessages(ctx context.Context, threadID, closer string, res types.ResolutionStatus, now time.Time) (int, error) {
	ctx, span, start := s.op(ctx, "CloseThreadMessages", attribute.String("thread.id", threadID))
	n, err := s.inner.CloseThreadMessages(ctx, threadID, closer, res, now)
	s.done(ctx, span, start, err)
	return n, err
}

func (s *InstrumentedStorage) ExpiredMessages(ctx context.Context, now time.Time) ([]*types.Message, error) {
	ctx, span, start := s.op(ctx, "ExpiredMessages")
	out, err := s.inner.ExpiredMessages(ctx, now)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) ArchiveMessages(ctx context.Context, ids []string, now time.Time) error {
	ctx, span, start := s.op(ctx, "ArchiveMessages", attribute.Int("message.count", len(ids)))
	err := s.inner.ArchiveMessages(ctx, ids, now)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) GetDependencies(ctx context.Context, id string) ([]string, error) {
	ctx, span, start := s.op(ctx, "GetDependencies", attribute.String("message.id", id))
	out, err := s.inner.GetDependencies(ctx, id)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) GetConversation(ctx context.Context, threadID string) (*types.Conversation, error) {
	ctx, span, start := s.op(ctx, "GetConversation", attribute.String("thread.id", threadID))
	c, err := s.inner.GetConversation(ctx, threadID)
	s.done(ctx, span, start, err)
	return c, err
}

func (s *InstrumentedStorage) ResolvedConversationsBefore(ctx context.Context, cutoff time.Time) ([]*types.Conversation, error) {
	ctx, span, start := s.op(ctx, "ResolvedConversationsBefore")
	out, err := s.inner.ResolvedConversationsBefore(ctx, cutoff)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) PatchConversation(ctx context.Context, threadID string, patch storage.ConversationPatch) error {
	ctx, span, start := s.op(ctx, "PatchConversation", attribute.String("thread.id", threadID))
	err := s.inner.PatchConversation(ctx, threadID, patch)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) SearchFTS(ctx context.Context, match string, opts storage.SearchOptions) ([]storage.ScoredMessage, error) {
	ctx, span, start := s.op(ctx, "SearchFTS")
	out, err := s.inner.SearchFTS(ctx, match, opts)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) SearchByTags(ctx context.Context, tags []string, opts storage.SearchOptions) ([]*types.Message, error) {
	ctx, span, start := s.op(ctx, "SearchByTags", attribute.Int("tag.count", len(tags)))
	out, err := s.inner.SearchByTags(ctx, tags, opts)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) SearchSubstring(ctx context.Context, query string, opts storage.SearchOptions) ([]*types.Message, error) {
	ctx, span, start := s.op(ctx, "SearchSubstring")
	out, err := s.inner.SearchSubstring(ctx, query, opts)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) TagCounts(ctx context.Context, opts storage.SearchOptions, substring string, limit int) ([]storage.TagCount, error) {
	ctx, span, start := s.op(ctx, "TagCounts")
	out, err := s.inner.TagCounts(ctx, opts, substring, limit)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) ParticipantStats(ctx context.Context, participantID string, since time.Time) (*storage.ParticipantStats, error) {
	ctx, span, start := s.op(ctx, "ParticipantStats", attribute.String("participant.id", participantID))
	out, err := s.inner.ParticipantStats(ctx, participantID, since)
	s.done(ctx, span, start, err)
	return out, err
}

func (s *InstrumentedStorage) ApplyCompaction(ctx context.Context, threadID string, archiveIDs []string, inserts []*types.Message, patch *storage.ConversationPatch, now time.Time) error {
	ctx, span, start := s.op(ctx, "ApplyCompaction",
		attribute.String("thread.id", threadID),
		attribute.Int("message.count", len(archiveIDs)),
	)
	err := s.inner.ApplyCompaction(ctx, threadID, archiveIDs, inserts, patch, now)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
