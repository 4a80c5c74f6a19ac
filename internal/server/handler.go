package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/ductile-ci/internal/events"
	"github.com/mattjoyce/ductile-ci/internal/log"
	"github.com/mattjoyce/ductile-ci/internal/protocol"
	"github.com/mattjoyce/ductile-ci/internal/results"
	"github.com/mattjoyce/ductile-ci/internal/state"
)

// Dispatcher starts an asynchronous dispatch attempt for a commit.
type Dispatcher interface {
	Dispatch(ctx context.Context, commitID string) bool
}

// ResultSink persists a completed commit's payload.
type ResultSink interface {
	Save(ctx context.Context, commitID, runner string, payload []byte) (results.Record, error)
}

// Handler executes one request per connection against the shared state.
type Handler struct {
	store      *state.Store
	dispatcher Dispatcher
	results    ResultSink
	events     *events.Hub
	maxPayload int
	logger     *slog.Logger
}

// NewHandler wires a Handler. hub may be nil.
func NewHandler(store *state.Store, dispatcher Dispatcher, sink ResultSink, hub *events.Hub, maxPayload int) *Handler {
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
		results:    sink,
		events:     hub,
		maxPayload: maxPayload,
		logger:     log.WithComponent("handler"),
	}
}

// Handle reads one request from rw and writes exactly one reply. ctx is the
// server lifetime context; dispatch attempts started here outlive the
// connection and stop only when ctx is cancelled.
func (h *Handler) Handle(ctx context.Context, rw io.ReadWriter) error {
	raw, err := protocol.ReadRequest(rw)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	reply := h.execute(ctx, raw, rw)
	if _, err := io.WriteString(rw, reply); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

func (h *Handler) execute(ctx context.Context, raw []byte, r io.Reader) string {
	req, err := protocol.Parse(raw)
	if err != nil {
		return errorReply(err)
	}

	switch req.Word {
	case protocol.CmdStatus:
		return protocol.ReplyOK
	case protocol.CmdRegister:
		return h.register(req)
	case protocol.CmdDispatch:
		return h.dispatch(ctx, req)
	case protocol.CmdResults:
		return h.complete(ctx, req, r)
	default:
		h.logger.Debug("invalid command", "word", req.Word)
		return protocol.ReplyInvalidCommand
	}
}

func (h *Handler) register(req protocol.Request) string {
	host, port, err := protocol.ParseRegister(req)
	if err != nil {
		h.logger.Warn("rejected register", "error", err)
		return errorReply(err)
	}

	r := state.Runner{Host: host, Port: port}
	if !h.store.Register(r) {
		h.logger.Debug("runner re-registered", "runner", r.Addr())
		return protocol.ReplyOK
	}
	h.logger.Info("runner registered", "runner", r.Addr())
	h.events.Publish(events.RunnerRegistered, map[string]any{"runner": r})
	return protocol.ReplyOK
}

func (h *Handler) dispatch(ctx context.Context, req protocol.Request) string {
	commitID, err := protocol.ParseDispatch(req)
	if err == nil {
		err = results.ValidateCommitID(commitID)
	}
	if err != nil {
		return errorReply(err)
	}

	if h.store.RunnerCount() == 0 {
		return protocol.ReplyNoRunners
	}

	if h.store.MarkPending(commitID) {
		h.logger.Info("commit queued", "commit_id", commitID)
		h.events.Publish(events.CommitQueued, map[string]any{"commit_id": commitID})
	}
	// A commit that is already dispatched is left alone; one that is pending
	// gets an attempt unless the engine already has one running.
	if h.store.IsPending(commitID) {
		h.dispatcher.Dispatch(ctx, commitID)
	}
	return protocol.ReplyOK
}

func (h *Handler) complete(ctx context.Context, req protocol.Request, r io.Reader) string {
	raw, err := protocol.ReadResultsHeader(r, req.Raw)
	if err != nil {
		h.logger.Warn("incomplete results header", "error", err)
		return errorReply(err)
	}
	req.Raw = raw

	res, err := protocol.ParseResults(req, h.maxPayload)
	if err == nil {
		err = results.ValidateCommitID(res.CommitID)
	}
	if err != nil {
		h.logger.Warn("rejected results", "error", err)
		return errorReply(err)
	}

	payload, err := protocol.ReadPayload(r, res)
	if err != nil {
		h.logger.Warn("incomplete results payload", "commit_id", res.CommitID, "error", err)
		return errorReply(err)
	}

	// A commit leaves Dispatched only once its payload is stored.
	runner := ""
	if owner, ok := h.store.Owner(res.CommitID); ok {
		runner = owner.Addr()
	}
	rec, err := h.results.Save(ctx, res.CommitID, runner, payload)
	if err != nil {
		h.logger.Error("failed to store results", "commit_id", res.CommitID, "error", err)
		return errorReply(err)
	}
	if _, tracked := h.store.Complete(res.CommitID); !tracked {
		h.logger.Debug("results for untracked commit", "commit_id", res.CommitID)
	}

	h.logger.Info("results stored", "commit_id", res.CommitID, "runner", runner, "bytes", rec.Size)
	h.events.Publish(events.CommitCompleted, map[string]any{
		"commit_id": res.CommitID,
		"runner":    runner,
		"size":      rec.Size,
		"digest":    rec.Digest,
	})
	return protocol.ReplyOK
}

// errorReply renders err as the descriptive string sent back to the peer.
func errorReply(err error) string {
	return "Error: " + err.Error()
}
