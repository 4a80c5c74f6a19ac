package heartbeat

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ductile-ci/internal/config"
	"github.com/mattjoyce/ductile-ci/internal/events"
	"github.com/mattjoyce/ductile-ci/internal/heartbeat/mocks"
	"github.com/mattjoyce/ductile-ci/internal/log"
	"github.com/mattjoyce/ductile-ci/internal/state"
)

var (
	runnerA = state.Runner{Host: "localhost", Port: 9001}
	runnerB = state.Runner{Host: "localhost", Port: 9002}
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func newTestMonitor(t *testing.T, interval time.Duration) (*Monitor, *state.Store, *mocks.MockPinger, *events.Hub) {
	t.Helper()
	ctrl := gomock.NewController(t)
	pinger := mocks.NewMockPinger(ctrl)
	st := state.NewStore()
	hub := events.NewHub(32)
	m := New(st, pinger, config.HeartbeatConfig{Interval: interval, Timeout: 50 * time.Millisecond}, hub)
	return m, st, pinger, hub
}

func TestCheckKeepsHealthyRunners(t *testing.T) {
	m, st, pinger, _ := newTestMonitor(t, time.Second)
	st.Register(runnerA)
	st.Register(runnerB)

	pinger.EXPECT().Ping(gomock.Any(), runnerA.Addr(), 50*time.Millisecond).Return(nil)
	pinger.EXPECT().Ping(gomock.Any(), runnerB.Addr(), 50*time.Millisecond).Return(nil)

	assert.Empty(t, m.Check(context.Background()))
	assert.Equal(t, []state.Runner{runnerA, runnerB}, st.Runners())
}

func TestCheckEvictsAndRequeues(t *testing.T) {
	m, st, pinger, hub := newTestMonitor(t, time.Second)
	st.Register(runnerA)
	st.Register(runnerB)
	st.MarkPending("abc123")
	st.MarkPending("def456")
	require.NoError(t, st.MarkDispatched("abc123", runnerA))
	require.NoError(t, st.MarkDispatched("def456", runnerB))

	pinger.EXPECT().Ping(gomock.Any(), runnerA.Addr(), gomock.Any()).Return(errors.New("i/o timeout"))
	pinger.EXPECT().Ping(gomock.Any(), runnerB.Addr(), gomock.Any()).Return(nil)

	evicted := m.Check(context.Background())
	assert.Equal(t, []state.Runner{runnerA}, evicted)

	snap := st.Snapshot()
	assert.Equal(t, []state.Runner{runnerB}, snap.Runners)
	assert.Equal(t, []string{"abc123"}, snap.Pending)
	assert.Equal(t, map[string]state.Runner{"def456": runnerB}, snap.Dispatched)

	var types []string
	for _, ev := range hub.Since(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.RunnerEvicted, events.CommitRequeued}, types)
}

func TestCheckSkipsEvictionOnShutdown(t *testing.T) {
	m, st, pinger, _ := newTestMonitor(t, time.Second)
	st.Register(runnerA)

	ctx, cancel := context.WithCancel(context.Background())
	pinger.EXPECT().Ping(gomock.Any(), runnerA.Addr(), gomock.Any()).
		DoAndReturn(func(context.Context, string, time.Duration) error {
			cancel()
			return context.Canceled
		})

	assert.Empty(t, m.Check(ctx))
	assert.Equal(t, 1, st.RunnerCount())
}

func TestStartEvictsWithinOneInterval(t *testing.T) {
	interval := 20 * time.Millisecond
	m, st, pinger, _ := newTestMonitor(t, interval)
	st.Register(runnerA)
	st.MarkPending("abc123")
	require.NoError(t, st.MarkDispatched("abc123", runnerA))

	pinger.EXPECT().Ping(gomock.Any(), runnerA.Addr(), gomock.Any()).Return(errors.New("connection refused")).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	require.Eventually(t, func() bool { return st.RunnerCount() == 0 }, 10*interval, interval/4)
	assert.Equal(t, []string{"abc123"}, st.Pending())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
