// Package heartbeat evicts runners that stop answering ping.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/ductile-ci/internal/config"
	"github.com/mattjoyce/ductile-ci/internal/events"
	"github.com/mattjoyce/ductile-ci/internal/log"
	"github.com/mattjoyce/ductile-ci/internal/state"
)

//go:generate mockgen -destination=mocks/mock_pinger.go -package=mocks github.com/mattjoyce/ductile-ci/internal/heartbeat Pinger

// Pinger sends one liveness probe. Any error counts as a failed heartbeat.
type Pinger interface {
	Ping(ctx context.Context, addr string, timeout time.Duration) error
}

// maxConcurrentPings caps probe goroutines per cycle.
const maxConcurrentPings = 16

// Monitor pings every registered runner once per interval.
type Monitor struct {
	store    *state.Store
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	events   *events.Hub
	logger   *slog.Logger
}

// New creates a Monitor. hub may be nil.
func New(store *state.Store, pinger Pinger, cfg config.HeartbeatConfig, hub *events.Hub) *Monitor {
	defaults := config.Defaults().Heartbeat
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Monitor{
		store:    store,
		pinger:   pinger,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		events:   hub,
		logger:   log.WithComponent("heartbeat"),
	}
}

// Start runs heartbeat cycles until ctx is cancelled.
// This is a blocking call.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info("heartbeat monitor started", "interval", m.interval, "timeout", m.timeout)
	defer m.logger.Info("heartbeat monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check probes a snapshot of the registry once and evicts every runner that
// failed. It returns the evicted runners.
func (m *Monitor) Check(ctx context.Context) []state.Runner {
	runners := m.store.Runners()
	if len(runners) == 0 {
		return nil
	}

	failed := make([]bool, len(runners))
	var g errgroup.Group
	g.SetLimit(maxConcurrentPings)
	for i, r := range runners {
		g.Go(func() error {
			if err := m.pinger.Ping(ctx, r.Addr(), m.timeout); err != nil {
				m.logger.Debug("heartbeat failed", "runner", r.Addr(), "error", err)
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	// A cancelled context fails every probe; that is shutdown, not death.
	if ctx.Err() != nil {
		return nil
	}

	var evicted []state.Runner
	for i, r := range runners {
		if !failed[i] {
			continue
		}
		m.evict(r)
		evicted = append(evicted, r)
	}
	return evicted
}

func (m *Monitor) evict(r state.Runner) {
	requeued := m.store.Evict(r)
	m.logger.Warn("runner evicted", "runner", r.Addr(), "requeued", len(requeued))
	m.events.Publish(events.RunnerEvicted, map[string]any{
		"runner":   r.Addr(),
		"requeued": requeued,
	})
	for _, id := range requeued {
		m.events.Publish(events.CommitRequeued, map[string]any{
			"commit_id": id,
			"runner":    r.Addr(),
		})
	}
}
