package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/ductile-ci/internal/config"
	"github.com/mattjoyce/ductile-ci/internal/events"
	"github.com/mattjoyce/ductile-ci/internal/log"
	"github.com/mattjoyce/ductile-ci/internal/state"
)

//go:generate mockgen -destination=mocks/mock_prober.go -package=mocks github.com/mattjoyce/ductile-ci/internal/dispatch Prober

// Prober offers a commit to a single runner.
type Prober interface {
	RunTest(ctx context.Context, addr, commitID string) (bool, error)
}

// ErrInFlight is returned when an attempt for the same commit is running.
var ErrInFlight = errors.New("dispatch already in flight")

// Engine runs dispatch attempts against the shared store.
type Engine struct {
	store   *state.Store
	prober  Prober
	backoff time.Duration
	events  *events.Hub
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates an Engine. hub may be nil.
func New(store *state.Store, prober Prober, cfg config.DispatchConfig, hub *events.Hub) *Engine {
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = config.Defaults().Dispatch.Backoff
	}
	return &Engine{
		store:    store,
		prober:   prober,
		backoff:  backoff,
		events:   hub,
		logger:   log.WithComponent("dispatch"),
		inflight: make(map[string]struct{}),
	}
}

// Dispatch starts an attempt for commitID in its own goroutine and returns
// immediately. It reports false when an attempt for that commit is already
// running.
func (e *Engine) Dispatch(ctx context.Context, commitID string) bool {
	if !e.claim(commitID) {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(commitID)
		if _, err := e.run(ctx, commitID); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Debug("dispatch attempt ended", "commit_id", commitID, "error", err)
		}
	}()
	return true
}

// TryDispatch runs one attempt for commitID on the calling goroutine and
// returns the runner that accepted it.
func (e *Engine) TryDispatch(ctx context.Context, commitID string) (state.Runner, error) {
	if !e.claim(commitID) {
		return state.Runner{}, fmt.Errorf("commit %s: %w", commitID, ErrInFlight)
	}
	defer e.release(commitID)
	return e.run(ctx, commitID)
}

// InFlight returns the number of running attempts.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Wait blocks until every attempt started by Dispatch has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) claim(commitID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[commitID]; busy {
		return false
	}
	e.inflight[commitID] = struct{}{}
	return true
}

func (e *Engine) release(commitID string) {
	e.mu.Lock()
	delete(e.inflight, commitID)
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context, commitID string) (state.Runner, error) {
	logger := e.logger.With("commit_id", commitID)

	for pass := 1; ; pass++ {
		if !e.store.IsPending(commitID) {
			return state.Runner{}, fmt.Errorf("commit %s: %w", commitID, state.ErrNotPending)
		}

		r, err := e.pass(ctx, commitID, logger)
		if err == nil {
			logger.Info("commit dispatched", "runner", r.Addr(), "pass", pass)
			e.events.Publish(events.CommitDispatched, map[string]any{
				"commit_id": commitID,
				"runner":    r.Addr(),
			})
			return r, nil
		}
		if !errors.Is(err, errNoTaker) {
			return state.Runner{}, err
		}

		logger.Debug("no runner accepted commit, backing off", "pass", pass, "backoff", e.backoff)
		timer := time.NewTimer(e.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return state.Runner{}, ctx.Err()
		case <-timer.C:
		}
	}
}

var errNoTaker = errors.New("no runner accepted")

// pass offers commitID to every runner in the current snapshot once.
func (e *Engine) pass(ctx context.Context, commitID string, logger *slog.Logger) (state.Runner, error) {
	for _, r := range e.store.Runners() {
		if err := ctx.Err(); err != nil {
			return state.Runner{}, err
		}

		accepted, err := e.prober.RunTest(ctx, r.Addr(), commitID)
		if err != nil {
			logger.Debug("runner unreachable", "runner", r.Addr(), "error", err)
			continue
		}
		if !accepted {
			logger.Debug("runner declined commit", "runner", r.Addr())
			continue
		}

		err = e.store.MarkDispatched(commitID, r)
		switch {
		case err == nil:
			return r, nil
		case errors.Is(err, state.ErrRunnerNotRegistered):
			// Evicted between snapshot and acceptance; keep looking.
			logger.Warn("runner accepted commit after eviction", "runner", r.Addr())
			continue
		default:
			return state.Runner{}, err
		}
	}
	return state.Runner{}, errNoTaker
}
