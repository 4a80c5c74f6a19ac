package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ductile-ci/internal/config"
	"github.com/mattjoyce/ductile-ci/internal/dispatch"
	"github.com/mattjoyce/ductile-ci/internal/events"
	"github.com/mattjoyce/ductile-ci/internal/scheduler/mocks"
	"github.com/mattjoyce/ductile-ci/internal/state"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func TestTickDispatchesEveryPendingCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockQueue := mocks.NewMockQueueService(ctrl)
	mockDispatcher := mocks.NewMockDispatcher(ctrl)
	slogger, logBuf := NewTestSlogger()
	hub := events.NewHub(8)

	s := New(config.RedistributeConfig{Interval: time.Second}, mockQueue, mockDispatcher, hub, slogger)
	ctx := context.Background()

	mockQueue.EXPECT().Pending().Return([]string{"abc123", "def456"})
	gomock.InOrder(
		mockDispatcher.EXPECT().Dispatch(ctx, "abc123").Return(true),
		mockDispatcher.EXPECT().Dispatch(ctx, "def456").Return(false),
	)

	assert.Equal(t, 1, s.tick(ctx))
	assert.Contains(t, logBuf.String(), "Redistribution tick")
	assert.Contains(t, logBuf.String(), `"component":"scheduler"`)
	evs := hub.Since(0)
	require.Len(t, evs, 1)
	assert.Equal(t, events.Redistributed, evs[0].Type)
}

func TestTickWithEmptyQueueIsQuiet(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockQueue := mocks.NewMockQueueService(ctrl)
	mockDispatcher := mocks.NewMockDispatcher(ctrl)
	slogger, logBuf := NewTestSlogger()

	s := New(config.RedistributeConfig{Interval: time.Second}, mockQueue, mockDispatcher, nil, slogger)

	mockQueue.EXPECT().Pending().Return(nil)

	assert.Zero(t, s.tick(context.Background()))
	assert.NotContains(t, logBuf.String(), "Redistribution tick")
}

func TestStartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockQueue := mocks.NewMockQueueService(ctrl)
	mockDispatcher := mocks.NewMockDispatcher(ctrl)
	slogger, _ := NewTestSlogger()

	ticked := make(chan struct{}, 8)
	mockQueue.EXPECT().Pending().DoAndReturn(func() []string {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return nil
	}).MinTimes(1)

	s := New(config.RedistributeConfig{Interval: 10 * time.Millisecond}, mockQueue, mockDispatcher, nil, slogger)
	s.Start(context.Background())

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("scheduler never ticked")
	}
	s.Stop()
	s.Stop()
}

// TestRedistributionReassignsOrphanedCommit runs the loop against the real
// store and engine: the commit owned by a dead runner goes back to pending
// and the next cycle hands it to the surviving runner.
func TestRedistributionReassignsOrphanedCommit(t *testing.T) {
	dead := state.Runner{Host: "localhost", Port: 9001}
	alive := state.Runner{Host: "localhost", Port: 9002}

	st := state.NewStore()
	st.Register(dead)
	st.Register(alive)
	st.MarkPending("abc123")
	require.NoError(t, st.MarkDispatched("abc123", dead))

	st.Evict(dead)
	require.Equal(t, []string{"abc123"}, st.Pending())

	engine := dispatch.New(st, acceptAll{}, config.DispatchConfig{Backoff: 5 * time.Millisecond}, nil)
	slogger, _ := NewTestSlogger()
	s := New(config.RedistributeConfig{Interval: 10 * time.Millisecond}, st, engine, nil, slogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return st.Snapshot().Dispatched["abc123"] == alive
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, st.Pending())
}

type acceptAll struct{}

func (acceptAll) RunTest(context.Context, string, string) (bool, error) { return true, nil }
