// Package scheduler drains the pending queue back through the dispatch
// engine. Commits land in pending either fresh from a dispatch request that
// found every runner busy or requeued after their runner was evicted.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/ductile-ci/internal/config"
	"github.com/mattjoyce/ductile-ci/internal/events"
)

// Scheduler re-offers every pending commit once per interval.
type Scheduler struct {
	interval   time.Duration
	queue      QueueService
	dispatcher Dispatcher
	events     *events.Hub
	logger     *slog.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a new Scheduler instance. hub may be nil.
func New(cfg config.RedistributeConfig, q QueueService, d Dispatcher, hub *events.Hub, logger *slog.Logger) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = config.Defaults().Redistribute.Interval
	}
	return &Scheduler{
		interval:   interval,
		queue:      q,
		dispatcher: d,
		events:     hub,
		logger:     logger.With("component", "scheduler"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the redistribution loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting redistribution loop", "interval", s.interval)
	s.wg.Add(1)
	go s.tickLoop(ctx)
}

// Stop ends the loop and waits for it to return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Redistribution loop stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick offers each pending commit to the dispatcher. Commits that already
// have an attempt in flight are skipped by the dispatcher itself.
func (s *Scheduler) tick(ctx context.Context) int {
	pending := s.queue.Pending()
	if len(pending) == 0 {
		return 0
	}

	started := 0
	for _, id := range pending {
		if ctx.Err() != nil {
			break
		}
		if s.dispatcher.Dispatch(ctx, id) {
			started++
		}
	}

	s.logger.Debug("Redistribution tick", "pending", len(pending), "started", started)
	if started > 0 {
		s.events.Publish(events.Redistributed, map[string]any{
			"pending": len(pending),
			"started": started,
		})
	}
	return started
}
