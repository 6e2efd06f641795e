package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ccproto/ccp/internal/compact"
	"github.com/ccproto/ccp/internal/config"
	"github.com/ccproto/ccp/internal/index"
	"github.com/ccproto/ccp/internal/messages"
	"github.com/ccproto/ccp/internal/registry"
	"github.com/ccproto/ccp/internal/storage"
)

// maxRequestBytes bounds a single framed request line.
const maxRequestBytes = 4 << 20

type handlerFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Server dispatches framed tool requests to the coordination components.
type Server struct {
	cfg  *config.Config
	reg  *registry.Registry
	mgr  *messages.Manager
	idx  *index.Indexer
	comp *compact.Compactor

	handlers map[string]handlerFunc
}

// NewServer wires the dispatcher over the assembled components.
func NewServer(cfg *config.Config, reg *registry.Registry, mgr *messages.Manager, idx *index.Indexer, comp *compact.Compactor) *Server {
	s := &Server{cfg: cfg, reg: reg, mgr: mgr, idx: idx, comp: comp}
	s.handlers = map[string]handlerFunc{
		ToolSendMessage:         s.handleSendMessage,
		ToolGetMessages:         s.handleGetMessages,
		ToolRespondMessage:      s.handleRespondMessage,
		ToolSearchMessages:      s.handleSearchMessages,
		ToolCompactThread:       s.handleCompactThread,
		ToolArchiveResolved:     s.handleArchiveResolved,
		ToolGetStats:            s.handleGetStats,
		ToolRegisterParticipant: s.handleRegisterParticipant,
		ToolWhoami:              s.handleWhoami,
		ToolHelp:                s.handleHelp,
		ToolSetupGuide:          s.handleSetupGuide,
		ToolCloseThread:         s.handleCloseThread,
	}
	return s
}

// Serve reads one JSON request per line from r and writes one JSON response
// per line to w until EOF or context cancellation.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRequestBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(ErrorResponse("Validation error: malformed request: " + err.Error())); encErr != nil {
				return encErr
			}
			continue
		}
		resp := s.Dispatch(ctx, &req)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Dispatch resolves the current participant, refreshes its last_seen, and
// routes the request to its handler. Known error kinds come back as labeled
// handled-error responses.
func (s *Server) Dispatch(ctx context.Context, req *Request) Response {
	handler, ok := s.handlers[req.Name]
	if !ok {
		return ErrorResponse(fmt.Sprintf("Validation error: unknown tool %q", req.Name))
	}

	if s.cfg.ParticipantID == "" {
		return ErrorResponse("Validation error: no participant_id configured; set participant_id in the config file or CCP_PARTICIPANT_ID")
	}
	if err := s.reg.UpdateLastSeen(ctx, s.cfg.ParticipantID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "warning: failed to refresh last_seen for %s: %v\n", s.cfg.ParticipantID, err)
	}

	text, err := handler(ctx, req.Arguments)
	if err != nil {
		return ErrorResponse(labelError(err))
	}
	return TextResponse(text)
}

// labelError maps engine error kinds onto distinct textual labels; anything
// unrecognized gets a generic wrapper.
func labelError(err error) string {
	switch {
	case errors.Is(err, storage.ErrValidation):
		return "Validation error: " + err.Error()
	case errors.Is(err, storage.ErrCycle):
		return "Validation error: " + err.Error()
	case errors.Is(err, storage.ErrPermission):
		return "Permission denied: " + err.Error()
	case errors.Is(err, storage.ErrNotFound):
		return "Not found: " + err.Error()
	case errors.Is(err, storage.ErrConflict):
		return "Conflict: " + err.Error()
	default:
		return "Operation failed: " + err.Error()
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: invalid arguments: %v", storage.ErrValidation, err)
	}
	return nil
}
