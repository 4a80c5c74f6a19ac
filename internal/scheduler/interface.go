package scheduler

import "context"

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks github.com/mattjoyce/ductile-ci/internal/scheduler QueueService,Dispatcher

// QueueService exposes the pending side of the commit queue.
type QueueService interface {
	Pending() []string
}

// Dispatcher starts a de-duplicated dispatch attempt for one commit.
type Dispatcher interface {
	Dispatch(ctx context.Context, commitID string) bool
}
